package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrLoginAlreadyLinked = errors.New("external login already linked to another user")
)

// User is a local account that one or more external logins resolve to.
type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// ExternalLogin links a (provider, provider key) pair to exactly one user.
type ExternalLogin struct {
	LoginProvider       string    `json:"login_provider"`
	ProviderKey         string    `json:"provider_key"`
	ProviderDisplayName string    `json:"provider_display_name,omitempty"`
	UserID              uuid.UUID `json:"user_id"`
	CreatedAt           time.Time `json:"created_at"`
}

// Repository is the identity store consumed by the external login flow.
//
// CreateUser is a find-or-create on the normalized email: two concurrent calls
// for the same address must return the same user. AddLogin is idempotent for
// the user that already owns the pair.
type Repository interface {
	FindByLogin(ctx context.Context, provider, providerKey string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByID(ctx context.Context, id uuid.UUID) (User, error)
	CreateUser(ctx context.Context, username, email string) (User, error)
	AddLogin(ctx context.Context, userID uuid.UUID, login ExternalLogin) error
	GetLogins(ctx context.Context, userID uuid.UUID) ([]ExternalLogin, error)
}

// NormalizeEmail returns the lookup form of an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func loginKey(provider, providerKey string) string {
	return provider + "\x00" + providerKey
}
