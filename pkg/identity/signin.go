package identity

import (
	"context"
	"errors"
	"log/slog"
)

// SignInManager answers whether an external login can sign in directly,
// i.e. whether the pair is already linked to a local user.
type SignInManager struct {
	repository Repository
}

func NewSignInManager(repository Repository) *SignInManager {
	return &SignInManager{repository: repository}
}

// ExternalLoginSignIn reports whether (provider, providerKey) is linked to an
// existing user. Store failures are returned as errors, never as a failed sign-in.
func (m *SignInManager) ExternalLoginSignIn(ctx context.Context, provider, providerKey string) (bool, error) {
	_, err := m.repository.FindByLogin(ctx, provider, providerKey)
	if errors.Is(err, ErrUserNotFound) {
		slog.Debug("External login not linked", "provider", provider)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
