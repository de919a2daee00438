package discord

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/minelink/minelink/internal/config"
	"github.com/minelink/minelink/internal/fetch"
)

// DefaultBaseURL is Discord's REST API root.
const DefaultBaseURL = "https://discord.com/api/v10"

// authorizePage is where users grant consent; it lives outside the API root.
const authorizePage = "https://discord.com/oauth2/authorize"

// scopes requested on every authorization: enough to read the user's
// profile and guild list, nothing more.
const scopes = "identify guilds"

// expirySafetyMargin is subtracted from the provider-declared token
// lifetime to cover clock skew and in-flight use.
const expirySafetyMargin = 30 * time.Second

// TokenSet holds the outcome of a token grant. Only the refresh token is
// ever persisted (on the linked account row); everything else is ephemeral.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scopes       []string
	ExpiresAt    time.Time
}

// tokenResponse is the provider's success shape, untrusted until checked.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// providerError is the provider's structured error shape.
type providerError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

const errInvalidGrant = "invalid_grant"

// TokenService performs OAuth2 token grants against Discord.
type TokenService struct {
	client *fetch.Client
	cfg    config.DiscordConfig
	log    *logrus.Entry

	// BaseURL defaults to DefaultBaseURL; tests point it at a fake server.
	BaseURL string
}

// NewTokenService creates a token service using the given fetch client.
func NewTokenService(client *fetch.Client, cfg config.DiscordConfig, log *logrus.Entry) *TokenService {
	return &TokenService{
		client:  client,
		cfg:     cfg,
		log:     log.WithField("component", "discord.tokens"),
		BaseURL: DefaultBaseURL,
	}
}

// AuthorizeURL returns the consent-page URL for the given round-trip state.
func (s *TokenService) AuthorizeURL(state string) string {
	params := url.Values{}
	params.Set("client_id", s.cfg.ClientID)
	params.Set("redirect_uri", s.cfg.RedirectURL)
	params.Set("response_type", "code")
	params.Set("scope", scopes)
	params.Set("state", state)

	return authorizePage + "?" + params.Encode()
}

// ExchangeCode trades an authorization code for a token set.
// A provider-reported invalid grant maps to ErrInvalidCode: the code is
// single-use and this one has been spent or never existed.
func (s *TokenService) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)

	return s.grant(ctx, form, ErrInvalidCode)
}

// Refresh trades a refresh token for a fresh token set. Unlike an
// authorization code, a refresh token is a standing credential, so an
// invalid grant here means the credential itself is bad: ErrInvalidAuth.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	return s.grant(ctx, form, ErrInvalidAuth)
}

// Revoke invalidates a token at the provider. Any 2xx is success; the body
// is ignored.
func (s *TokenService) Revoke(ctx context.Context, token string) error {
	form := url.Values{}
	form.Set("client_id", s.cfg.ClientID)
	form.Set("client_secret", s.cfg.ClientSecret)
	form.Set("token", token)

	resp, err := s.client.Do(ctx, fetch.Request{
		Method: http.MethodPost,
		URL:    s.BaseURL + "/oauth2/token/revoke",
		Header: formHeader(),
		Body:   []byte(form.Encode()),
	}, fetch.Options{})
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrInvalidAuth
	default:
		return ErrUnexpectedResponse
	}
}

// grant runs one token-endpoint call and classifies the response.
func (s *TokenService) grant(ctx context.Context, form url.Values, invalidGrantErr error) (*TokenSet, error) {
	form.Set("client_id", s.cfg.ClientID)
	form.Set("client_secret", s.cfg.ClientSecret)

	resp, err := s.client.Do(ctx, fetch.Request{
		Method: http.MethodPost,
		URL:    s.BaseURL + "/oauth2/token",
		Header: formHeader(),
		Body:   []byte(form.Encode()),
	}, fetch.Options{})
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrInvalidAuth
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var tok tokenResponse
		if err := json.Unmarshal(resp.Body, &tok); err != nil || tok.AccessToken == "" {
			return nil, ErrUnexpectedResponse
		}
		return newTokenSet(tok), nil
	}

	var provErr providerError
	if err := json.Unmarshal(resp.Body, &provErr); err != nil || provErr.Code == "" {
		return nil, ErrUnexpectedResponse
	}
	if provErr.Code == errInvalidGrant {
		return nil, invalidGrantErr
	}

	s.log.WithFields(logrus.Fields{
		"error":       provErr.Code,
		"description": provErr.Description,
	}).Warn("provider rejected token grant")
	return nil, ErrUnknown
}

func newTokenSet(tok tokenResponse) *TokenSet {
	lifetime := time.Duration(tok.ExpiresIn) * time.Second

	return &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Scopes:       strings.Fields(tok.Scope),
		ExpiresAt:    time.Now().Add(lifetime - expirySafetyMargin),
	}
}

func formHeader() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	return h
}
