package externalprovider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// newFakeOAuth2Server serves a token endpoint plus the given JSON documents
func newFakeOAuth2Server(t *testing.T, docs map[string]interface{}) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"access-123","token_type":"Bearer","expires_in":3600}`))
	})
	for path, doc := range docs {
		doc := doc
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer access-123" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(doc)
		})
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testOAuth2Config(server *httptest.Server) oauth2.Config {
	return oauth2.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Endpoint: oauth2.Endpoint{
			AuthURL:   server.URL + "/authorize",
			TokenURL:  server.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: []string{"openid", "email"},
	}
}

func TestOAuth2ProviderAuthCodeURL(t *testing.T) {
	server := newFakeOAuth2Server(t, nil)
	p := NewOAuth2Provider("Google", "Google", testOAuth2Config(server), server.URL+"/userinfo", mapGoogleUserInfo)

	raw := p.AuthCodeURL("state-abc", "https://sso.example.com/api/auth/external-login-callback")
	u, err := url.Parse(raw)
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "/authorize", u.Path)
	assert.Equal(t, "state-abc", q.Get("state"))
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "https://sso.example.com/api/auth/external-login-callback", q.Get("redirect_uri"))
}

func TestOAuth2ProviderExchangeGoogle(t *testing.T) {
	server := newFakeOAuth2Server(t, map[string]interface{}{
		"/userinfo": map[string]interface{}{
			"id":             "1098765",
			"email":          "alice@example.com",
			"verified_email": true,
			"name":           "Alice",
		},
	})
	p := NewOAuth2Provider("Google", "Google", testOAuth2Config(server), server.URL+"/userinfo", mapGoogleUserInfo)

	info, err := p.Exchange(context.Background(), "good-code", "https://sso.example.com/cb")
	require.NoError(t, err)

	assert.Equal(t, "Google", info.LoginProvider)
	assert.Equal(t, "1098765", info.ProviderKey)
	assert.Equal(t, "Google", info.ProviderDisplayName)
	email, ok := info.Email()
	assert.True(t, ok)
	assert.Equal(t, "alice@example.com", email)
	assert.True(t, info.EmailVerified())
}

func TestOAuth2ProviderExchangeBadCode(t *testing.T) {
	server := newFakeOAuth2Server(t, nil)
	p := NewOAuth2Provider("Google", "Google", testOAuth2Config(server), server.URL+"/userinfo", mapGoogleUserInfo)

	_, err := p.Exchange(context.Background(), "bad-code", "https://sso.example.com/cb")
	assert.Error(t, err)
}

func TestOAuth2ProviderExchangeMissingKey(t *testing.T) {
	server := newFakeOAuth2Server(t, map[string]interface{}{
		"/userinfo": map[string]interface{}{"email": "alice@example.com"},
	})
	p := NewOAuth2Provider("Google", "Google", testOAuth2Config(server), server.URL+"/userinfo", mapGoogleUserInfo)

	_, err := p.Exchange(context.Background(), "good-code", "https://sso.example.com/cb")
	assert.ErrorIs(t, err, ErrMissingProviderKey)
}

func TestGitHubUserInfoMapper(t *testing.T) {
	t.Run("NumericIDAndPrivateEmail", func(t *testing.T) {
		server := newFakeOAuth2Server(t, map[string]interface{}{
			"/user": map[string]interface{}{
				"id":    12345678901,
				"login": "octocat",
				"email": nil,
			},
			"/user/emails": []map[string]interface{}{
				{"email": "other@example.com", "primary": false, "verified": true},
				{"email": "octo@example.com", "primary": true, "verified": true},
			},
		})
		p := NewOAuth2Provider("GitHub", "GitHub", testOAuth2Config(server), server.URL+"/user", GitHubUserInfoMapper(server.URL+"/user/emails"))

		info, err := p.Exchange(context.Background(), "good-code", "https://sso.example.com/cb")
		require.NoError(t, err)

		assert.Equal(t, "12345678901", info.ProviderKey)
		assert.Equal(t, "octo@example.com", info.Claims[ClaimEmail])
		assert.Equal(t, "octocat", info.Claims[ClaimName])
		assert.True(t, info.EmailVerified())
	})

	t.Run("PublicEmailNotPrimary", func(t *testing.T) {
		server := newFakeOAuth2Server(t, map[string]interface{}{
			"/user": map[string]interface{}{
				"id":    42,
				"login": "hubot",
				"name":  "Hubot",
				"email": "public@example.com",
			},
			"/user/emails": []map[string]interface{}{
				{"email": "primary@example.com", "primary": true, "verified": true},
			},
		})
		p := NewOAuth2Provider("GitHub", "GitHub", testOAuth2Config(server), server.URL+"/user", GitHubUserInfoMapper(server.URL+"/user/emails"))

		info, err := p.Exchange(context.Background(), "good-code", "https://sso.example.com/cb")
		require.NoError(t, err)

		assert.Equal(t, "42", info.ProviderKey)
		assert.Equal(t, "public@example.com", info.Claims[ClaimEmail])
		assert.Equal(t, "Hubot", info.Claims[ClaimName])
		assert.False(t, info.EmailVerified())
	})
}

func TestMapMicrosoftUserInfo(t *testing.T) {
	key, claims, err := mapMicrosoftUserInfo(context.Background(), nil, map[string]interface{}{
		"id":                "ms-1",
		"userPrincipalName": "dave@contoso.com",
		"displayName":       "Dave",
	})
	require.NoError(t, err)
	assert.Equal(t, "ms-1", key)
	assert.Equal(t, "dave@contoso.com", claims[ClaimEmail])
	assert.Equal(t, "Dave", claims[ClaimName])
}

func TestExternalLoginInfoClaim(t *testing.T) {
	info := &ExternalLoginInfo{Claims: map[string]string{ClaimEmail: "  "}}
	_, ok := info.Email()
	assert.False(t, ok)
	assert.False(t, info.EmailVerified())

	info = &ExternalLoginInfo{}
	_, ok = info.Email()
	assert.False(t, ok)
}

func TestPresetProviders(t *testing.T) {
	google := NewGoogleProvider(ProviderConfig{ClientID: "id"})
	assert.Equal(t, "Google", google.Name())

	github := NewGitHubProvider(ProviderConfig{ClientID: "id", DisplayName: "GitHub.com"})
	assert.Equal(t, "GitHub", github.Name())
	assert.Equal(t, "GitHub.com", github.DisplayName())

	microsoft := NewMicrosoftProvider(ProviderConfig{ClientID: "id", Tenant: "contoso"})
	assert.Contains(t, microsoft.AuthCodeURL("s", "https://sso.example.com/cb"), "/contoso/oauth2/v2.0/authorize")
}
