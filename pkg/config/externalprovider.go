package config

// Provider kinds
const (
	KindGoogle    = "google"
	KindGitHub    = "github"
	KindMicrosoft = "microsoft"
	KindOIDC      = "oidc"
)

// ExternalProviderConfig contains the credentials of each supported provider.
// A provider is enabled when its client ID is set.
type ExternalProviderConfig struct {
	GoogleClientID     string `yaml:"google_client_id" env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `yaml:"google_client_secret" env:"GOOGLE_CLIENT_SECRET"`

	GitHubClientID     string `yaml:"github_client_id" env:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `yaml:"github_client_secret" env:"GITHUB_CLIENT_SECRET"`

	MicrosoftClientID     string `yaml:"microsoft_client_id" env:"MICROSOFT_CLIENT_ID"`
	MicrosoftClientSecret string `yaml:"microsoft_client_secret" env:"MICROSOFT_CLIENT_SECRET"`
	MicrosoftTenant       string `yaml:"microsoft_tenant" env:"MICROSOFT_TENANT" env-default:"common"`

	// Generic OpenID Connect issuer
	OIDCName         string   `yaml:"oidc_name" env:"OIDC_NAME" env-default:"OIDC"`
	OIDCDisplayName  string   `yaml:"oidc_display_name" env:"OIDC_DISPLAY_NAME"`
	OIDCIssuer       string   `yaml:"oidc_issuer" env:"OIDC_ISSUER"`
	OIDCClientID     string   `yaml:"oidc_client_id" env:"OIDC_CLIENT_ID"`
	OIDCClientSecret string   `yaml:"oidc_client_secret" env:"OIDC_CLIENT_SECRET"`
	OIDCScopes       []string `yaml:"oidc_scopes" env:"OIDC_SCOPES" env-separator:","`
}

// ProviderSettings describes one enabled provider
type ProviderSettings struct {
	Kind         string
	Name         string
	DisplayName  string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Issuer       string
	Tenant       string
}

// Enabled returns the providers whose credentials are configured
func (c ExternalProviderConfig) Enabled() []ProviderSettings {
	var result []ProviderSettings
	if c.GoogleClientID != "" {
		result = append(result, ProviderSettings{
			Kind:         KindGoogle,
			Name:         "Google",
			ClientID:     c.GoogleClientID,
			ClientSecret: c.GoogleClientSecret,
		})
	}
	if c.GitHubClientID != "" {
		result = append(result, ProviderSettings{
			Kind:         KindGitHub,
			Name:         "GitHub",
			ClientID:     c.GitHubClientID,
			ClientSecret: c.GitHubClientSecret,
		})
	}
	if c.MicrosoftClientID != "" {
		result = append(result, ProviderSettings{
			Kind:         KindMicrosoft,
			Name:         "Microsoft",
			ClientID:     c.MicrosoftClientID,
			ClientSecret: c.MicrosoftClientSecret,
			Tenant:       c.MicrosoftTenant,
		})
	}
	if c.OIDCClientID != "" {
		result = append(result, ProviderSettings{
			Kind:         KindOIDC,
			Name:         c.OIDCName,
			DisplayName:  c.OIDCDisplayName,
			ClientID:     c.OIDCClientID,
			ClientSecret: c.OIDCClientSecret,
			Scopes:       c.OIDCScopes,
			Issuer:       c.OIDCIssuer,
		})
	}
	return result
}

func (c ExternalProviderConfig) Validate() ValidationErrors {
	return CollectErrors(
		WhenSet(c.GoogleClientID, func() *ValidationError {
			return RequireNonEmpty("GOOGLE_CLIENT_SECRET", c.GoogleClientSecret)
		}),
		WhenSet(c.GitHubClientID, func() *ValidationError {
			return RequireNonEmpty("GITHUB_CLIENT_SECRET", c.GitHubClientSecret)
		}),
		WhenSet(c.MicrosoftClientID, func() *ValidationError {
			return RequireNonEmpty("MICROSOFT_CLIENT_SECRET", c.MicrosoftClientSecret)
		}),
		WhenSet(c.OIDCClientID, func() *ValidationError {
			return RequireValidURL("OIDC_ISSUER", c.OIDCIssuer)
		}),
		WhenSet(c.OIDCClientID, func() *ValidationError {
			return RequireNonEmpty("OIDC_NAME", c.OIDCName)
		}),
	)
}
