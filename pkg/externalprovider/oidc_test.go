package externalprovider

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFakeOIDCIssuer serves discovery, JWKS and a token endpoint that returns
// an ID token signed with a fresh RSA key
func newFakeOIDCIssuer(t *testing.T, claims jwt.MapClaims) *httptest.Server {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	writeJSON := func(w http.ResponseWriter, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"issuer":                                server.URL,
			"authorization_endpoint":                server.URL + "/authorize",
			"token_endpoint":                        server.URL + "/token",
			"jwks_uri":                              server.URL + "/jwks",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": "test-key",
				"alg": "RS256",
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   "AQAB",
			}},
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		idClaims := jwt.MapClaims{
			"iss": server.URL,
			"aud": "oidc-client",
			"iat": time.Now().Unix(),
			"exp": time.Now().Add(time.Hour).Unix(),
		}
		for k, v := range claims {
			idClaims[k] = v
		}
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, idClaims)
		token.Header["kid"] = "test-key"
		signed, err := token.SignedString(key)
		require.NoError(t, err)

		writeJSON(w, map[string]interface{}{
			"access_token": "access-123",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     signed,
		})
	})
	return server
}

func TestOIDCProvider(t *testing.T) {
	ctx := context.Background()
	server := newFakeOIDCIssuer(t, jwt.MapClaims{
		"sub":            "oidc-user-1",
		"email":          "oidc@example.com",
		"email_verified": true,
		"name":           "Olivia",
	})

	p, err := NewOIDCProvider(ctx, ProviderConfig{
		Name:         "Corp",
		DisplayName:  "Corporate SSO",
		ClientID:     "oidc-client",
		ClientSecret: "oidc-secret",
		Issuer:       server.URL,
	})
	require.NoError(t, err)
	assert.Equal(t, "Corp", p.Name())
	assert.Equal(t, "Corporate SSO", p.DisplayName())
	assert.Contains(t, p.AuthCodeURL("state-1", "https://sso.example.com/cb"), server.URL+"/authorize?")

	info, err := p.Exchange(ctx, "any-code", "https://sso.example.com/cb")
	require.NoError(t, err)
	assert.Equal(t, "Corp", info.LoginProvider)
	assert.Equal(t, "oidc-user-1", info.ProviderKey)
	assert.Equal(t, "oidc@example.com", info.Claims[ClaimEmail])
	assert.True(t, info.EmailVerified())
	assert.Equal(t, "Olivia", info.Claims[ClaimName])
}

func TestOIDCProviderRejectsWrongAudience(t *testing.T) {
	ctx := context.Background()
	server := newFakeOIDCIssuer(t, jwt.MapClaims{
		"sub": "oidc-user-2",
		"aud": "someone-else",
	})

	p, err := NewOIDCProvider(ctx, ProviderConfig{Name: "Corp", ClientID: "oidc-client", Issuer: server.URL})
	require.NoError(t, err)

	_, err = p.Exchange(ctx, "any-code", "https://sso.example.com/cb")
	assert.Error(t, err)
}

func TestNewOIDCProviderRequiresIssuer(t *testing.T) {
	_, err := NewOIDCProvider(context.Background(), ProviderConfig{Name: "Corp", ClientID: "id"})
	assert.Error(t, err)
}
