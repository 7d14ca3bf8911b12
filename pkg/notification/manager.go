package notification

import (
	"context"
	"fmt"
	"sync"
)

// NotificationSystem represents a type of notification system (e.g., email).
type NotificationSystem string

const (
	EmailSystem NotificationSystem = "email"

	LoginLinkedNotice NoticeType = "login_linked"
)

// NotificationManager manages notifiers and notification templates.
type NotificationManager struct {
	mu                   sync.RWMutex
	notifiers            map[NotificationSystem]Notifier
	notificationRegistry map[NoticeType]map[NotificationSystem]NoticeTemplate
	baseURL              string
}

// NewNotificationManager creates and returns a new NotificationManager.
// baseURL is made available to templates as {{.BaseURL}}.
func NewNotificationManager(baseURL string) *NotificationManager {
	return &NotificationManager{
		notifiers:            make(map[NotificationSystem]Notifier),
		notificationRegistry: make(map[NoticeType]map[NotificationSystem]NoticeTemplate),
		baseURL:              baseURL,
	}
}

// RegisterNotifier registers a notifier for a specific system.
func (nm *NotificationManager) RegisterNotifier(system NotificationSystem, notifier Notifier) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.notifiers[system] = notifier
}

// RegisterNotification adds or replaces the template of a notice on a system.
func (nm *NotificationManager) RegisterNotification(noticeType NoticeType, system NotificationSystem, template NoticeTemplate) error {
	if noticeType == "" || system == "" {
		return fmt.Errorf("invalid input: notice type and system cannot be empty")
	}
	if template.Subject == "" {
		return fmt.Errorf("invalid input: template subject cannot be empty")
	}
	if template.Text == "" && template.Html == "" {
		return fmt.Errorf("invalid input: template must have text or html content")
	}

	nm.mu.Lock()
	defer nm.mu.Unlock()
	if _, exists := nm.notificationRegistry[noticeType]; !exists {
		nm.notificationRegistry[noticeType] = make(map[NotificationSystem]NoticeTemplate)
	}
	nm.notificationRegistry[noticeType][system] = template
	return nil
}

// HasNotifier reports whether a notifier is registered for the system
func (nm *NotificationManager) HasNotifier(system NotificationSystem) bool {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	_, ok := nm.notifiers[system]
	return ok
}

// Send sends a notification using the specified system and type.
func (nm *NotificationManager) Send(ctx context.Context, noticeType NoticeType, system NotificationSystem, notification NotificationData) error {
	nm.mu.RLock()
	systemTemplates, exists := nm.notificationRegistry[noticeType]
	if !exists {
		nm.mu.RUnlock()
		return fmt.Errorf("no templates registered for notice type: %s", noticeType)
	}
	template, exists := systemTemplates[system]
	if !exists {
		nm.mu.RUnlock()
		return fmt.Errorf("no template registered for system: %s under notice type: %s", system, noticeType)
	}
	notifier, exists := nm.notifiers[system]
	nm.mu.RUnlock()
	if !exists {
		return fmt.Errorf("no notifier registered for system: %s", system)
	}

	data := make(map[string]string, len(notification.Data)+1)
	data["BaseURL"] = nm.baseURL
	for k, v := range notification.Data {
		data[k] = v
	}
	notification.Data = data

	return notifier.Send(ctx, noticeType, notification, template)
}
