package discord

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minelink/minelink/internal/config"
	"github.com/minelink/minelink/internal/fetch"
)

func testLog() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(logger)
}

func testTokenService(serverURL string) *TokenService {
	s := NewTokenService(fetch.NewClient(testLog()), config.DiscordConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "https://example.com/oauth/callback",
		GuildID:      "guild-1",
	}, testLog())
	s.BaseURL = serverURL
	return s
}

func tokenEndpoint(t *testing.T, handler func(form url.Values) (int, string)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth2/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		status, body := handler(r.PostForm)
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
}

func TestExchangeCodeSuccess(t *testing.T) {
	server := tokenEndpoint(t, func(form url.Values) (int, string) {
		assert.Equal(t, "authorization_code", form.Get("grant_type"))
		assert.Equal(t, "auth-code", form.Get("code"))
		assert.Equal(t, "client-id", form.Get("client_id"))
		assert.Equal(t, "client-secret", form.Get("client_secret"))
		return http.StatusOK, `{
			"access_token": "acc-1",
			"token_type": "Bearer",
			"expires_in": 604800,
			"refresh_token": "ref-1",
			"scope": "identify guilds"
		}`
	})
	defer server.Close()

	tok, err := testTokenService(server.URL).ExchangeCode(context.Background(), "auth-code", "https://example.com/oauth/callback")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", tok.AccessToken)
	assert.Equal(t, "ref-1", tok.RefreshToken)
	assert.Equal(t, []string{"identify", "guilds"}, tok.Scopes)

	// Effective expiry is the declared lifetime less the 30s safety margin.
	wantExpiry := time.Now().Add(604800*time.Second - 30*time.Second)
	assert.WithinDuration(t, wantExpiry, tok.ExpiresAt, 2*time.Second)
}

func TestExchangeCodeInvalidGrant(t *testing.T) {
	server := tokenEndpoint(t, func(url.Values) (int, string) {
		return http.StatusBadRequest, `{"error":"invalid_grant","error_description":"Invalid \"code\" in request."}`
	})
	defer server.Close()

	_, err := testTokenService(server.URL).ExchangeCode(context.Background(), "spent-code", "https://example.com/oauth/callback")
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestExchangeCodeUnauthorized(t *testing.T) {
	server := tokenEndpoint(t, func(url.Values) (int, string) {
		return http.StatusUnauthorized, `{"error":"invalid_client"}`
	})
	defer server.Close()

	_, err := testTokenService(server.URL).ExchangeCode(context.Background(), "auth-code", "https://example.com/oauth/callback")
	assert.ErrorIs(t, err, ErrInvalidAuth)
}

func TestExchangeCodeUnknownProviderError(t *testing.T) {
	server := tokenEndpoint(t, func(url.Values) (int, string) {
		return http.StatusBadRequest, `{"error":"unsupported_grant_type"}`
	})
	defer server.Close()

	_, err := testTokenService(server.URL).ExchangeCode(context.Background(), "auth-code", "https://example.com/oauth/callback")
	assert.ErrorIs(t, err, ErrUnknown)
}

func TestExchangeCodeUnexpectedShape(t *testing.T) {
	cases := map[string]string{
		"empty object":     `{}`,
		"array":            `[1,2,3]`,
		"missing token":    `{"token_type":"Bearer"}`,
		"errorless object": `{"message":"??"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			server := tokenEndpoint(t, func(url.Values) (int, string) {
				if name == "missing token" || name == "empty object" {
					return http.StatusOK, body
				}
				return http.StatusBadRequest, body
			})
			defer server.Close()

			_, err := testTokenService(server.URL).ExchangeCode(context.Background(), "auth-code", "https://example.com/oauth/callback")
			assert.ErrorIs(t, err, ErrUnexpectedResponse)
		})
	}
}

func TestRefreshMapsInvalidGrantToInvalidAuth(t *testing.T) {
	server := tokenEndpoint(t, func(form url.Values) (int, string) {
		assert.Equal(t, "refresh_token", form.Get("grant_type"))
		return http.StatusBadRequest, `{"error":"invalid_grant"}`
	})
	defer server.Close()

	_, err := testTokenService(server.URL).Refresh(context.Background(), "stale-refresh")
	assert.ErrorIs(t, err, ErrInvalidAuth, "a refresh token is a credential, not a one-time code")
}

func TestRefreshSuccessRotatesToken(t *testing.T) {
	server := tokenEndpoint(t, func(form url.Values) (int, string) {
		assert.Equal(t, "old-refresh", form.Get("refresh_token"))
		return http.StatusOK, `{"access_token":"acc-2","token_type":"Bearer","expires_in":3600,"refresh_token":"new-refresh","scope":"identify guilds"}`
	})
	defer server.Close()

	tok, err := testTokenService(server.URL).Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "new-refresh", tok.RefreshToken)
}

func TestRevoke(t *testing.T) {
	t.Run("2xx with empty body succeeds", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/oauth2/token/revoke", r.URL.Path)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		assert.NoError(t, testTokenService(server.URL).Revoke(context.Background(), "ref-1"))
	})

	t.Run("401 is invalid auth", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid_client"}`))
		}))
		defer server.Close()

		assert.ErrorIs(t, testTokenService(server.URL).Revoke(context.Background(), "ref-1"), ErrInvalidAuth)
	})
}

func TestAuthorizeURL(t *testing.T) {
	s := testTokenService("unused")
	raw := s.AuthorizeURL("linkingCode=abcd1234&timestamp=1700000000000")

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "discord.com", parsed.Host)
	assert.Equal(t, "/oauth2/authorize", parsed.Path)

	q := parsed.Query()
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "identify guilds", q.Get("scope"))
	assert.Equal(t, "linkingCode=abcd1234&timestamp=1700000000000", q.Get("state"))
}
