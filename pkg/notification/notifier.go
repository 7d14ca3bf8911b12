package notification

import "context"

// NoticeType identifies a kind of notice (e.g. "login_linked")
type NoticeType string

// NoticeTemplate holds the templates rendered for one notice on one system
type NoticeTemplate struct {
	Subject string
	Text    string
	Html    string
}

type NotificationData struct {
	To   string            // Recipient identifier (e.g., email address)
	Data map[string]string // Template values
}

type Notifier interface {
	Send(ctx context.Context, noticeType NoticeType, notification NotificationData, template NoticeTemplate) error
}
