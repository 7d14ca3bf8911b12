package externalprovider

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// CallbackPath is where providers send the user agent back to
const CallbackPath = "/api/auth/external-login-callback"

const stateCookieName = "sso_oauth_state"

// ErrNoLoginInfo means the callback carries no usable handshake: the state is
// missing, unknown, expired or replayed, or the code could not be redeemed.
var ErrNoLoginInfo = errors.New("no external login information")

// Handshake drives the redirect/callback exchange with a provider
type Handshake struct {
	registry        *Registry
	states          StateRepository
	callbackURL     string
	stateExpiration time.Duration
}

// HandshakeOption is a function that configures a Handshake
type HandshakeOption func(*Handshake)

// WithStateExpiration sets how long a started login may take to complete
func WithStateExpiration(d time.Duration) HandshakeOption {
	return func(h *Handshake) {
		h.stateExpiration = d
	}
}

// NewHandshake creates a handshake whose callback lives under baseURL
func NewHandshake(registry *Registry, states StateRepository, baseURL string, opts ...HandshakeOption) *Handshake {
	h := &Handshake{
		registry:        registry,
		states:          states,
		callbackURL:     strings.TrimRight(baseURL, "/") + CallbackPath,
		stateExpiration: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// CallbackURL is the redirect_uri registered with providers
func (h *Handshake) CallbackURL() string {
	return h.callbackURL
}

// Challenge redirects the user agent to the named provider
func (h *Handshake) Challenge(w http.ResponseWriter, r *http.Request, providerName, returnURL string) error {
	provider, ok := h.registry.Get(providerName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, providerName)
	}

	state, err := generateSecureState()
	if err != nil {
		return fmt.Errorf("failed to generate state: %w", err)
	}

	if err := h.states.CleanupExpiredStates(); err != nil {
		slog.Warn("Failed to clean up expired states", "err", err)
	}

	err = h.states.StoreState(&OAuth2State{
		State:     state,
		Provider:  provider.Name(),
		ReturnURL: returnURL,
		ExpiresAt: time.Now().Add(h.stateExpiration).Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to store state: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     CallbackPath,
		MaxAge:   int(h.stateExpiration.Seconds()),
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		SameSite: http.SameSiteLaxMode,
	})

	authURL := provider.AuthCodeURL(state, h.callbackURL)
	slog.Info("Redirecting to external provider", "provider", provider.Name())
	http.Redirect(w, r, authURL, http.StatusFound)
	return nil
}

// GetExternalLoginInfo completes the handshake for a callback request. The
// state is consumed whether or not the exchange succeeds.
func (h *Handshake) GetExternalLoginInfo(w http.ResponseWriter, r *http.Request) (*ExternalLoginInfo, error) {
	query := r.URL.Query()
	stateValue := query.Get("state")

	cookie, err := r.Cookie(stateCookieName)
	if err != nil || stateValue == "" || cookie.Value != stateValue {
		return nil, fmt.Errorf("%w: state mismatch", ErrNoLoginInfo)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     CallbackPath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		SameSite: http.SameSiteLaxMode,
	})

	state, err := h.states.GetState(stateValue)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoLoginInfo, err)
	}
	if err := h.states.DeleteState(stateValue); err != nil {
		// another request consumed it first
		return nil, fmt.Errorf("%w: %w", ErrNoLoginInfo, err)
	}

	provider, ok := h.registry.Get(state.Provider)
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", ErrNoLoginInfo, ErrProviderNotFound, state.Provider)
	}

	code := query.Get("code")
	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrNoLoginInfo)
	}

	info, err := provider.Exchange(r.Context(), code, h.callbackURL)
	if err != nil {
		slog.Error("External login exchange failed", "provider", provider.Name(), "err", err)
		return nil, fmt.Errorf("%w: %w", ErrNoLoginInfo, err)
	}
	info.ReturnURL = state.ReturnURL
	return info, nil
}

// RemoteError returns the failure reported by the provider, if any. An
// explicit remoteError parameter wins over the OAuth2 error parameters.
func RemoteError(r *http.Request) string {
	query := r.URL.Query()
	if v := query.Get("remoteError"); v != "" {
		return v
	}
	if v := query.Get("error"); v != "" {
		if d := query.Get("error_description"); d != "" {
			return v + ": " + d
		}
		return v
	}
	return ""
}

// generateSecureState generates a cryptographically secure random state parameter
func generateSecureState() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func isSecureRequest(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
