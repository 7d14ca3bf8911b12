package config

import (
	"github.com/tendant/simple-sso/pkg/notification"
)

// EmailConfig holds SMTP settings for the login linked notification
type EmailConfig struct {
	// Enabled turns on the email sent when a login is linked to an existing account
	Enabled  bool   `yaml:"enabled" env:"LINK_NOTIFICATION_ENABLED" env-default:"false"`
	Host     string `yaml:"host" env:"EMAIL_HOST" env-default:"localhost"`
	Port     uint16 `yaml:"port" env:"EMAIL_PORT" env-default:"1025"`
	Username string `yaml:"username" env:"EMAIL_USERNAME"`
	Password string `yaml:"password" env:"EMAIL_PASSWORD"`
	From     string `yaml:"from" env:"EMAIL_FROM" env-default:"noreply@example.com"`
	TLS      bool   `yaml:"tls" env:"EMAIL_TLS" env-default:"false"`
}

// ToSMTPConfig converts the config to a notification.SMTPConfig
func (e EmailConfig) ToSMTPConfig() notification.SMTPConfig {
	return notification.SMTPConfig{
		Host:     e.Host,
		Port:     int(e.Port),
		Username: e.Username,
		Password: e.Password,
		From:     e.From,
		TLS:      e.TLS,
	}
}

func (e EmailConfig) Validate() ValidationErrors {
	if !e.Enabled {
		return nil
	}
	return CollectErrors(
		RequireNonEmpty("EMAIL_HOST", e.Host),
		RequireValidPort("EMAIL_PORT", e.Port),
		RequireValidEmail("EMAIL_FROM", e.From),
	)
}
