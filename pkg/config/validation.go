package config

import (
	"fmt"
	"net/mail"
	"net/url"
	"slices"
	"strings"
	"time"
)

// ValidationError names the setting that failed and why
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ValidationErrors is returned by Load when one or more settings are invalid
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return ""
	case 1:
		return e[0].Error()
	}

	var b strings.Builder
	b.WriteString("configuration validation failed:")
	for _, err := range e {
		b.WriteString("\n  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Validator checks one section of the configuration
type Validator func() ValidationErrors

// Validate runs every section validator and reports all failures at once
func Validate(validators ...Validator) error {
	var all ValidationErrors
	for _, validator := range validators {
		all = append(all, validator()...)
	}
	if len(all) > 0 {
		return all
	}
	return nil
}

func RequireNonEmpty(field, value string) *ValidationError {
	if value == "" {
		return invalid(field, "is required")
	}
	return nil
}

func RequirePositiveDuration(field string, value time.Duration) *ValidationError {
	if value <= 0 {
		return invalid(field, "must be positive, got %v", value)
	}
	return nil
}

// RequireValidURL accepts absolute http(s) URLs only, since they end up in
// redirects and provider registrations.
func RequireValidURL(field, value string) *ValidationError {
	if value == "" {
		return invalid(field, "is required")
	}
	u, err := url.Parse(value)
	if err != nil {
		return invalid(field, "invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalid(field, "URL must have a scheme (http:// or https://)")
	}
	if u.Host == "" {
		return invalid(field, "URL must have a host")
	}
	return nil
}

func RequireValidEmail(field, value string) *ValidationError {
	if value == "" {
		return invalid(field, "is required")
	}
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		return invalid(field, "invalid email format")
	}
	return nil
}

func RequireValidPort(field string, value uint16) *ValidationError {
	if value == 0 {
		return invalid(field, "port must be between 1 and 65535")
	}
	return nil
}

func RequireOneOf(field, value string, allowed []string) *ValidationError {
	if slices.Contains(allowed, value) {
		return nil
	}
	return invalid(field, "must be one of %v, got %q", allowed, value)
}

// WhenSet runs validator only for settings that were provided
func WhenSet(value string, validator func() *ValidationError) *ValidationError {
	if value == "" {
		return nil
	}
	return validator()
}

// CollectErrors drops nil results; an all-nil input yields an empty slice
func CollectErrors(errs ...*ValidationError) ValidationErrors {
	var result ValidationErrors
	for _, err := range errs {
		if err != nil {
			result = append(result, *err)
		}
	}
	return result
}
