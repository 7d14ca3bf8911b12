package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-sso/pkg/externalprovider"
	"github.com/tendant/simple-sso/pkg/identity"
)

// Messages returned as plain text when a callback cannot be completed
const (
	MsgRemoteErrorPrefix = "Error from external provider: "
	MsgNoLoginInfo       = "Error loading external login information."
	MsgEmailMissing      = "Email claim not received."
	MsgUserNotFound      = "User not found."
	MsgInternalError     = "Internal server error."
)

// Handle serves the external login endpoints
type Handle struct {
	handshake   *externalprovider.Handshake
	registry    *externalprovider.Registry
	service     *externalprovider.ExternalLoginService
	repository  identity.Repository
	frontendURL string
}

// NewHandle creates a new external login API handler
func NewHandle(
	handshake *externalprovider.Handshake,
	registry *externalprovider.Registry,
	service *externalprovider.ExternalLoginService,
	repository identity.Repository,
	frontendURL string,
) *Handle {
	return &Handle{
		handshake:   handshake,
		registry:    registry,
		service:     service,
		repository:  repository,
		frontendURL: frontendURL,
	}
}

// ProviderResponse describes a provider the user can log in with
type ProviderResponse struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	LoginURL    string `json:"login_url"`
}

// LinkedLoginResponse describes an external login linked to the current user
type LinkedLoginResponse struct {
	LoginProvider       string `json:"login_provider"`
	ProviderDisplayName string `json:"provider_display_name"`
}

// MeResponse is the profile of the token holder
type MeResponse struct {
	identity.User
	Logins []LinkedLoginResponse `json:"logins"`
}

// ErrorResponse represents a JSON error response
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Routes registers the external login routes. tokenAuth verifies the bearer
// tokens accepted by /api/auth/me.
func Routes(r chi.Router, h *Handle, tokenAuth *jwtauth.JWTAuth) {
	r.Route("/api/auth", func(r chi.Router) {
		r.Get("/external-login/{provider}", h.ExternalLogin)
		r.Get("/external-login-callback", h.ExternalLoginCallback)
		r.Get("/providers", h.ListProviders)

		r.Group(func(r chi.Router) {
			r.Use(jwtauth.Verifier(tokenAuth))
			r.Use(jwtauth.Authenticator(tokenAuth))
			r.Get("/me", h.Me)
		})
	})
}

// ExternalLogin redirects the user agent to the named provider
func (h *Handle) ExternalLogin(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	returnURL := r.URL.Query().Get("returnUrl")

	err := h.handshake.Challenge(w, r, providerName, returnURL)
	if errors.Is(err, externalprovider.ErrProviderNotFound) {
		slog.Warn("Unknown external provider requested", "provider", providerName)
		renderText(w, r, http.StatusBadRequest, "Unknown provider: "+providerName)
		return
	}
	if err != nil {
		slog.Error("Failed to initiate external login", "provider", providerName, "err", err)
		renderText(w, r, http.StatusInternalServerError, MsgInternalError)
		return
	}
}

// ExternalLoginCallback completes the login and redirects to the front end
// with the issued token
func (h *Handle) ExternalLoginCallback(w http.ResponseWriter, r *http.Request) {
	if remoteError := externalprovider.RemoteError(r); remoteError != "" {
		slog.Warn("External provider reported an error", "remote_error", remoteError)
		renderText(w, r, http.StatusBadRequest, MsgRemoteErrorPrefix+remoteError)
		return
	}

	info, err := h.handshake.GetExternalLoginInfo(w, r)
	if err != nil {
		slog.Warn("Failed to load external login information", "err", err)
		renderText(w, r, http.StatusBadRequest, MsgNoLoginInfo)
		return
	}
	if info.ReturnURL != "" {
		slog.Debug("External login requested return URL", "return_url", info.ReturnURL)
	}

	result, err := h.service.CompleteLogin(r.Context(), info)
	switch {
	case err == nil:
	case errors.Is(err, externalprovider.ErrEmailClaimMissing), errors.Is(err, externalprovider.ErrEmailNotVerified):
		renderText(w, r, http.StatusBadRequest, MsgEmailMissing)
		return
	case errors.Is(err, identity.ErrUserNotFound):
		renderText(w, r, http.StatusBadRequest, MsgUserNotFound)
		return
	default:
		slog.Error("Failed to complete external login", "provider", info.LoginProvider, "err", err)
		renderText(w, r, http.StatusInternalServerError, MsgInternalError)
		return
	}

	http.Redirect(w, r, h.frontendURL+"?token="+url.QueryEscape(result.Token), http.StatusFound)
}

// ListProviders returns the configured providers
func (h *Handle) ListProviders(w http.ResponseWriter, r *http.Request) {
	providers := h.registry.List()
	resp := make([]ProviderResponse, 0, len(providers))
	for _, p := range providers {
		resp = append(resp, ProviderResponse{
			Name:        p.Name(),
			DisplayName: p.DisplayName(),
			LoginURL:    "/api/auth/external-login/" + url.PathEscape(p.Name()),
		})
	}
	render.JSON(w, r, resp)
}

// Me returns the user identified by the bearer token
func (h *Handle) Me(w http.ResponseWriter, r *http.Request) {
	_, claims, err := jwtauth.FromContext(r.Context())
	if err != nil {
		renderError(w, r, http.StatusUnauthorized, "Invalid token")
		return
	}
	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		renderError(w, r, http.StatusUnauthorized, "Invalid subject")
		return
	}

	user, err := h.repository.FindByID(r.Context(), userID)
	if errors.Is(err, identity.ErrUserNotFound) {
		renderError(w, r, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		slog.Error("Failed to find user", "user_id", userID, "err", err)
		renderError(w, r, http.StatusInternalServerError, "Failed to find user")
		return
	}

	logins, err := h.repository.GetLogins(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to get logins", "user_id", userID, "err", err)
		renderError(w, r, http.StatusInternalServerError, "Failed to get logins")
		return
	}

	resp := MeResponse{User: user, Logins: make([]LinkedLoginResponse, 0, len(logins))}
	for _, l := range logins {
		resp.Logins = append(resp.Logins, LinkedLoginResponse{
			LoginProvider:       l.LoginProvider,
			ProviderDisplayName: l.ProviderDisplayName,
		})
	}
	render.JSON(w, r, resp)
}

func renderText(w http.ResponseWriter, r *http.Request, status int, text string) {
	render.Status(r, status)
	render.PlainText(w, r, text)
}

func renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Status: "error", Message: message})
}
