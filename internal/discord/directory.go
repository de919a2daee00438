package discord

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/minelink/minelink/internal/fetch"
)

// Profile is the authenticated user's identity as Discord reports it.
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Guild is one community the authenticated user belongs to. Discord caps
// the list at 200 entries and returns it in a single page.
type Guild struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Directory reads the authenticated user's profile and guild memberships.
type Directory struct {
	client *fetch.Client
	log    *logrus.Entry

	// BaseURL defaults to DefaultBaseURL; tests point it at a fake server.
	BaseURL string
}

// NewDirectory creates a directory backed by the given fetch client.
func NewDirectory(client *fetch.Client, log *logrus.Entry) *Directory {
	return &Directory{
		client:  client,
		log:     log.WithField("component", "discord.directory"),
		BaseURL: DefaultBaseURL,
	}
}

// FetchProfile returns the profile behind an access token.
func (d *Directory) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	resp, err := d.get(ctx, "/users/@me", accessToken)
	if err != nil {
		return nil, err
	}

	var profile Profile
	if err := json.Unmarshal(resp.Body, &profile); err != nil || profile.ID == "" {
		return nil, ErrUnexpectedResponse
	}
	return &profile, nil
}

// FetchGuilds returns the guilds the token's user belongs to.
func (d *Directory) FetchGuilds(ctx context.Context, accessToken string) ([]Guild, error) {
	resp, err := d.get(ctx, "/users/@me/guilds", accessToken)
	if err != nil {
		return nil, err
	}

	var guilds []Guild
	if err := json.Unmarshal(resp.Body, &guilds); err != nil {
		return nil, ErrUnexpectedResponse
	}
	return guilds, nil
}

func (d *Directory) get(ctx context.Context, path, accessToken string) (*fetch.Response, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+accessToken)

	resp, err := d.client.Do(ctx, fetch.Request{
		Method: http.MethodGet,
		URL:    d.BaseURL + path,
		Header: header,
	}, fetch.Options{})
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrInvalidAuth
	case resp.StatusCode == http.StatusForbidden:
		return nil, ErrInsufficientPermissions
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		d.log.WithField("status", resp.StatusCode).Warn("unexpected directory status")
		return nil, ErrUnexpectedResponse
	}
	return resp, nil
}
