package externalprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
)

// Claim names carried in ExternalLoginInfo.Claims
const (
	ClaimEmail         = "email"
	ClaimEmailVerified = "email_verified"
	ClaimName          = "name"
)

var ErrMissingProviderKey = errors.New("provider returned no user identifier")

// ExternalLoginInfo is the verified identity assertion produced by a
// completed provider handshake.
type ExternalLoginInfo struct {
	LoginProvider       string
	ProviderKey         string
	ProviderDisplayName string
	Claims              map[string]string

	// ReturnURL is the value passed when the login was initiated
	ReturnURL string
}

// Claim returns a non-empty claim value
func (i *ExternalLoginInfo) Claim(name string) (string, bool) {
	v, ok := i.Claims[name]
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

func (i *ExternalLoginInfo) Email() (string, bool) {
	return i.Claim(ClaimEmail)
}

func (i *ExternalLoginInfo) EmailVerified() bool {
	v, _ := i.Claim(ClaimEmailVerified)
	return v == "true"
}

// Provider is a third-party identity service the user can be challenged against
type Provider interface {
	Name() string
	DisplayName() string
	// AuthCodeURL returns the provider URL the user agent is redirected to
	AuthCodeURL(state, redirectURL string) string
	// Exchange redeems an authorization code for the user's identity
	Exchange(ctx context.Context, code, redirectURL string) (*ExternalLoginInfo, error)
}

// ProviderConfig holds the settings shared by every provider type
type ProviderConfig struct {
	Name         string
	DisplayName  string
	ClientID     string
	ClientSecret string
	Scopes       []string
	// Issuer is the discovery URL of a generic OIDC provider
	Issuer string
	// Tenant selects the Azure AD tenant for Microsoft, "common" when empty
	Tenant string
}

func (c ProviderConfig) scopesOr(defaults ...string) []string {
	if len(c.Scopes) > 0 {
		return c.Scopes
	}
	return defaults
}

func (c ProviderConfig) displayNameOr(name string) string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return name
}

// UserInfoMapper turns a decoded userinfo document into the provider key and claims.
// The client is already authorized for follow-up API calls.
type UserInfoMapper func(ctx context.Context, client *http.Client, raw map[string]interface{}) (string, map[string]string, error)

// OAuth2Provider implements Provider for plain OAuth2 providers exposing a userinfo endpoint
type OAuth2Provider struct {
	name        string
	displayName string
	config      oauth2.Config
	userInfoURL string
	mapUserInfo UserInfoMapper
}

// NewOAuth2Provider creates a provider from an oauth2 config and a userinfo mapper
func NewOAuth2Provider(name, displayName string, config oauth2.Config, userInfoURL string, mapper UserInfoMapper) *OAuth2Provider {
	return &OAuth2Provider{
		name:        name,
		displayName: displayName,
		config:      config,
		userInfoURL: userInfoURL,
		mapUserInfo: mapper,
	}
}

func (p *OAuth2Provider) Name() string        { return p.name }
func (p *OAuth2Provider) DisplayName() string { return p.displayName }

func (p *OAuth2Provider) configFor(redirectURL string) *oauth2.Config {
	cfg := p.config
	cfg.RedirectURL = redirectURL
	return &cfg
}

func (p *OAuth2Provider) AuthCodeURL(state, redirectURL string) string {
	return p.configFor(redirectURL).AuthCodeURL(state)
}

func (p *OAuth2Provider) Exchange(ctx context.Context, code, redirectURL string) (*ExternalLoginInfo, error) {
	cfg := p.configFor(redirectURL)
	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code for token: %w", err)
	}

	client := cfg.Client(ctx, token)
	raw, err := getJSON(ctx, client, p.userInfoURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	rawMap, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected user info document from %s", p.name)
	}

	key, claims, err := p.mapUserInfo(ctx, client, rawMap)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, ErrMissingProviderKey
	}

	slog.Info("User info retrieved", "provider", p.name, "provider_key", key)
	return &ExternalLoginInfo{
		LoginProvider:       p.name,
		ProviderKey:         key,
		ProviderDisplayName: p.displayName,
		Claims:              claims,
	}, nil
}

// getJSON fetches url and decodes the body, keeping numbers as json.Number
func getJSON(ctx context.Context, client *http.Client, url string) (interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request to %s failed with status %d: %s", url, resp.StatusCode, string(body))
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func getStringValue(data map[string]interface{}, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	}
	return ""
}

func getBoolValue(data map[string]interface{}, key string) bool {
	switch v := data[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

func boolClaim(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// NewGoogleProvider creates the Google provider backed by the v2 userinfo endpoint
func NewGoogleProvider(cfg ProviderConfig) *OAuth2Provider {
	name := "Google"
	if cfg.Name != "" {
		name = cfg.Name
	}
	return NewOAuth2Provider(name, cfg.displayNameOr("Google"), oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       cfg.scopesOr("openid", "profile", "email"),
	}, "https://www.googleapis.com/oauth2/v2/userinfo", mapGoogleUserInfo)
}

func mapGoogleUserInfo(ctx context.Context, client *http.Client, raw map[string]interface{}) (string, map[string]string, error) {
	return getStringValue(raw, "id"), map[string]string{
		ClaimEmail:         getStringValue(raw, "email"),
		ClaimEmailVerified: boolClaim(getBoolValue(raw, "verified_email")),
		ClaimName:          getStringValue(raw, "name"),
	}, nil
}

// NewMicrosoftProvider creates the Microsoft provider backed by Graph /me
func NewMicrosoftProvider(cfg ProviderConfig) *OAuth2Provider {
	name := "Microsoft"
	if cfg.Name != "" {
		name = cfg.Name
	}
	tenant := cfg.Tenant
	if tenant == "" {
		tenant = "common"
	}
	return NewOAuth2Provider(name, cfg.displayNameOr("Microsoft"), oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     microsoft.AzureADEndpoint(tenant),
		Scopes:       cfg.scopesOr("openid", "profile", "email", "User.Read"),
	}, "https://graph.microsoft.com/v1.0/me", mapMicrosoftUserInfo)
}

func mapMicrosoftUserInfo(ctx context.Context, client *http.Client, raw map[string]interface{}) (string, map[string]string, error) {
	email := getStringValue(raw, "mail")
	if email == "" {
		email = getStringValue(raw, "userPrincipalName")
	}
	return getStringValue(raw, "id"), map[string]string{
		ClaimEmail: email,
		// Graph does not report verification; the tenant owns the address
		ClaimEmailVerified: boolClaim(email != ""),
		ClaimName:          getStringValue(raw, "displayName"),
	}, nil
}

// NewGitHubProvider creates the GitHub provider. GitHub hides private
// addresses from /user, so the primary verified address is read from
// /user/emails when needed.
func NewGitHubProvider(cfg ProviderConfig) *OAuth2Provider {
	name := "GitHub"
	if cfg.Name != "" {
		name = cfg.Name
	}
	return NewOAuth2Provider(name, cfg.displayNameOr("GitHub"), oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     github.Endpoint,
		Scopes:       cfg.scopesOr("read:user", "user:email"),
	}, "https://api.github.com/user", GitHubUserInfoMapper("https://api.github.com/user/emails"))
}

// GitHubUserInfoMapper maps a GitHub /user document, consulting emailsURL
// when the profile carries no public address.
func GitHubUserInfoMapper(emailsURL string) UserInfoMapper {
	return func(ctx context.Context, client *http.Client, raw map[string]interface{}) (string, map[string]string, error) {
		name := getStringValue(raw, "name")
		if name == "" {
			name = getStringValue(raw, "login")
		}
		claims := map[string]string{
			ClaimEmail: getStringValue(raw, "email"),
			ClaimName:  name,
		}

		primary, verified, err := githubPrimaryEmail(ctx, client, emailsURL)
		if err != nil {
			slog.Warn("Failed to read GitHub emails", "err", err)
		}
		if claims[ClaimEmail] == "" && primary != "" {
			claims[ClaimEmail] = primary
		}
		claims[ClaimEmailVerified] = boolClaim(claims[ClaimEmail] != "" && claims[ClaimEmail] == primary && verified)

		return getStringValue(raw, "id"), claims, nil
	}
}

func githubPrimaryEmail(ctx context.Context, client *http.Client, emailsURL string) (string, bool, error) {
	raw, err := getJSON(ctx, client, emailsURL)
	if err != nil {
		return "", false, err
	}
	entries, ok := raw.([]interface{})
	if !ok {
		return "", false, fmt.Errorf("unexpected emails document")
	}
	for _, entry := range entries {
		e, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		if getBoolValue(e, "primary") {
			return getStringValue(e, "email"), getBoolValue(e, "verified"), nil
		}
	}
	return "", false, nil
}
