package notification

import (
	"context"
	"fmt"

	"github.com/tendant/simple-sso/pkg/identity"
)

// LoginLinkNotifier emails a user when an external login is attached to
// their existing account
type LoginLinkNotifier struct {
	manager *NotificationManager
}

func NewLoginLinkNotifier(manager *NotificationManager) *LoginLinkNotifier {
	return &LoginLinkNotifier{manager: manager}
}

func (n *LoginLinkNotifier) NotifyLoginLinked(ctx context.Context, user identity.User, login identity.ExternalLogin) error {
	if user.Email == "" {
		return fmt.Errorf("user %s has no email address", user.ID)
	}

	displayName := login.ProviderDisplayName
	if displayName == "" {
		displayName = login.LoginProvider
	}

	return n.manager.Send(ctx, LoginLinkedNotice, EmailSystem, NotificationData{
		To: user.Email,
		Data: map[string]string{
			"Username":            user.Username,
			"LoginProvider":       login.LoginProvider,
			"ProviderDisplayName": displayName,
		},
	})
}
