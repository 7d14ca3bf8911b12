package externalprovider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-sso/pkg/identity"
	"github.com/tendant/simple-sso/pkg/tokengenerator"
	"golang.org/x/sync/singleflight"
)

var (
	ErrEmailClaimMissing = errors.New("email claim not received")
	ErrEmailNotVerified  = errors.New("email claim not verified by provider")
)

// LinkNotifier is told when an external login is attached to an account that
// existed before the callback
type LinkNotifier interface {
	NotifyLoginLinked(ctx context.Context, user identity.User, login identity.ExternalLogin) error
}

// LoginResult is the outcome of a completed external login
type LoginResult struct {
	User  identity.User
	Token string
	// Created is set when the account was provisioned by this login
	Created bool
	// Linked is set when the (provider, key) pair was attached by this login
	Linked bool
}

// ExternalLoginService reconciles a provider assertion with the identity
// store and issues a token for the resolved user
type ExternalLoginService struct {
	repository           identity.Repository
	signInManager        *identity.SignInManager
	tokenGenerator       tokengenerator.TokenGenerator
	linkNotifier         LinkNotifier
	requireVerifiedEmail bool
	notifyTimeout        time.Duration
	provisioning         singleflight.Group
}

// Option is a function that configures an ExternalLoginService
type Option func(*ExternalLoginService)

// WithLinkNotifier sets the notifier used when a login is linked to an existing account
func WithLinkNotifier(n LinkNotifier) Option {
	return func(s *ExternalLoginService) {
		s.linkNotifier = n
	}
}

// WithRequireVerifiedEmail makes an email the provider did not verify count as missing
func WithRequireVerifiedEmail(required bool) Option {
	return func(s *ExternalLoginService) {
		s.requireVerifiedEmail = required
	}
}

// NewExternalLoginService creates a new external login service with functional options
func NewExternalLoginService(repository identity.Repository, tokenGenerator tokengenerator.TokenGenerator, opts ...Option) *ExternalLoginService {
	s := &ExternalLoginService{
		repository:     repository,
		signInManager:  identity.NewSignInManager(repository),
		tokenGenerator: tokenGenerator,
		notifyTimeout:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CompleteLogin signs in through an existing link, or finds or creates the
// account owning the asserted email and links the login to it. A token is
// generated only once a user has been resolved.
func (s *ExternalLoginService) CompleteLogin(ctx context.Context, info *ExternalLoginInfo) (LoginResult, error) {
	if info == nil {
		return LoginResult{}, ErrNoLoginInfo
	}

	signedIn, err := s.signInManager.ExternalLoginSignIn(ctx, info.LoginProvider, info.ProviderKey)
	if err != nil {
		return LoginResult{}, fmt.Errorf("failed to sign in with external login: %w", err)
	}

	var result LoginResult
	if signedIn {
		user, err := s.repository.FindByLogin(ctx, info.LoginProvider, info.ProviderKey)
		if err != nil {
			return LoginResult{}, fmt.Errorf("failed to find user by login: %w", err)
		}
		result.User = user
	} else {
		result, err = s.linkByEmail(ctx, info)
		if err != nil {
			return LoginResult{}, err
		}
	}

	if result.User.ID == uuid.Nil {
		return LoginResult{}, identity.ErrUserNotFound
	}

	token, err := s.tokenGenerator.GenerateToken(result.User.ID.String(), result.User.Email, info.LoginProvider)
	if err != nil {
		return LoginResult{}, fmt.Errorf("failed to generate token: %w", err)
	}
	result.Token = token

	if result.Linked && !result.Created {
		s.notifyLinked(ctx, result.User, info)
	}

	slog.Info("External login completed",
		"provider", info.LoginProvider,
		"user_id", result.User.ID,
		"created", result.Created,
		"linked", result.Linked)
	return result, nil
}

func (s *ExternalLoginService) linkByEmail(ctx context.Context, info *ExternalLoginInfo) (LoginResult, error) {
	email, ok := info.Email()
	if !ok {
		return LoginResult{}, ErrEmailClaimMissing
	}
	if s.requireVerifiedEmail && !info.EmailVerified() {
		slog.Warn("Rejecting unverified email from provider", "provider", info.LoginProvider)
		return LoginResult{}, ErrEmailNotVerified
	}

	type provisioned struct {
		user    identity.User
		created bool
	}
	// the flight is shared with other callbacks, so one client going away
	// must not cancel it for the rest
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.provisioning.Do(identity.NormalizeEmail(email), func() (interface{}, error) {
		user, err := s.repository.FindByEmail(shared, email)
		if err == nil {
			return provisioned{user: user}, nil
		}
		if !errors.Is(err, identity.ErrUserNotFound) {
			return nil, fmt.Errorf("failed to find user by email: %w", err)
		}
		user, err = s.repository.CreateUser(shared, email, email)
		if err != nil {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		slog.Info("User created for external login", "provider", info.LoginProvider, "user_id", user.ID)
		return provisioned{user: user, created: true}, nil
	})
	if err != nil {
		return LoginResult{}, err
	}
	p := v.(provisioned)

	err = s.repository.AddLogin(ctx, p.user.ID, identity.ExternalLogin{
		LoginProvider:       info.LoginProvider,
		ProviderKey:         info.ProviderKey,
		ProviderDisplayName: info.ProviderDisplayName,
	})
	if err != nil {
		return LoginResult{}, fmt.Errorf("failed to add login: %w", err)
	}

	return LoginResult{User: p.user, Created: p.created, Linked: true}, nil
}

func (s *ExternalLoginService) notifyLinked(ctx context.Context, user identity.User, info *ExternalLoginInfo) {
	if s.linkNotifier == nil {
		return
	}
	login := identity.ExternalLogin{
		LoginProvider:       info.LoginProvider,
		ProviderKey:         info.ProviderKey,
		ProviderDisplayName: info.ProviderDisplayName,
		UserID:              user.ID,
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	go func() {
		defer cancel()
		if err := s.linkNotifier.NotifyLoginLinked(ctx, user, login); err != nil {
			slog.Error("Failed to send login linked notification", "user_id", user.ID, "err", err)
		}
	}()
}
