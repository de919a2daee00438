package linking

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/minelink/minelink/internal/config"
	"github.com/minelink/minelink/internal/discord"
	"github.com/minelink/minelink/internal/fetch"
	"github.com/minelink/minelink/internal/models"
	"github.com/minelink/minelink/internal/verification"
)

const (
	testGuildID = "guild-1"
	testUUID    = "069a79f4-44e9-4726-a5be-fca90e38aaf5"
)

// tokenGrant is what the fake provider hands out for a code or refresh token.
type tokenGrant struct {
	access  string
	refresh string
}

// fakeDiscord is an in-process stand-in for Discord's OAuth2 and user API.
type fakeDiscord struct {
	server *httptest.Server

	mu        sync.Mutex
	codes     map[string]tokenGrant       // authorization code → grant
	refreshes map[string]tokenGrant       // refresh token → grant
	profiles  map[string]discord.Profile  // access token → profile
	guilds    map[string][]discord.Guild  // access token → memberships
	revoked   []string
}

func newFakeDiscord(t *testing.T) *fakeDiscord {
	t.Helper()
	f := &fakeDiscord{
		codes:     map[string]tokenGrant{},
		refreshes: map[string]tokenGrant{},
		profiles:  map[string]discord.Profile{},
		guilds:    map[string][]discord.Guild{},
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeDiscord) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/oauth2/token":
		r.ParseForm()
		var grant tokenGrant
		var ok bool
		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			grant, ok = f.codes[r.PostForm.Get("code")]
		case "refresh_token":
			grant, ok = f.refreshes[r.PostForm.Get("refresh_token")]
		}
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant"}`)
			return
		}
		fmt.Fprintf(w, `{"access_token":%q,"token_type":"Bearer","expires_in":3600,"refresh_token":%q,"scope":"identify guilds"}`,
			grant.access, grant.refresh)

	case "/oauth2/token/revoke":
		r.ParseForm()
		f.revoked = append(f.revoked, r.PostForm.Get("token"))
		w.WriteHeader(http.StatusOK)

	case "/users/@me":
		profile, ok := f.profiles[bearer(r)]
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"message":"401: Unauthorized"}`)
			return
		}
		json.NewEncoder(w).Encode(profile)

	case "/users/@me/guilds":
		guilds, ok := f.guilds[bearer(r)]
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"message":"401: Unauthorized"}`)
			return
		}
		json.NewEncoder(w).Encode(guilds)

	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"404: Not Found"}`)
	}
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

// grantAccess registers a full happy-path identity on the fake provider:
// an auth code, the tokens behind it, a profile, and guild memberships.
func (f *fakeDiscord) grantAccess(code string, grant tokenGrant, profile discord.Profile, guilds []discord.Guild) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes[code] = grant
	f.profiles[grant.access] = profile
	f.guilds[grant.access] = guilds
}

func (f *fakeDiscord) grantRefresh(oldRefresh string, grant tokenGrant, profile discord.Profile, guilds []discord.Guild) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes[oldRefresh] = grant
	f.profiles[grant.access] = profile
	f.guilds[grant.access] = guilds
}

func (f *fakeDiscord) revokedTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.revoked...)
}

// linkEnv bundles the full linking pipeline over sqlite and a fake provider.
type linkEnv struct {
	db          *gorm.DB
	fake        *fakeDiscord
	flows       *verification.Manager
	coordinator *Coordinator
	verifier    *Verifier
	cfg         config.DiscordConfig
}

func newLinkEnv(t *testing.T) *linkEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.DiscordAccount{},
		&models.MinecraftPlayer{},
		&models.Connection{},
		&models.VerificationFlow{},
	))

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	log := logrus.NewEntry(logger)

	fake := newFakeDiscord(t)
	cfg := config.DiscordConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "https://example.com/oauth/callback",
		GuildID:      testGuildID,
	}

	client := fetch.NewClient(log)
	tokens := discord.NewTokenService(client, cfg, log)
	tokens.BaseURL = fake.server.URL
	directory := discord.NewDirectory(client, log)
	directory.BaseURL = fake.server.URL

	flows := verification.NewManager(db, config.VerificationConfig{
		TTL:        15 * time.Minute,
		CodeLength: 8,
	}, log)

	return &linkEnv{
		db:          db,
		fake:        fake,
		flows:       flows,
		coordinator: NewCoordinator(db, tokens, directory, flows, cfg, log),
		verifier:    NewVerifier(db, tokens, directory, cfg, log),
		cfg:         cfg,
	}
}

// memberGuilds is a guild list that includes the configured community.
func memberGuilds() []discord.Guild {
	return []discord.Guild{
		{ID: "guild-0", Name: "Elsewhere"},
		{ID: testGuildID, Name: "Creepers Anonymous"},
	}
}

// strangerGuilds is a guild list that does not.
func strangerGuilds() []discord.Guild {
	return []discord.Guild{{ID: "guild-0", Name: "Elsewhere"}}
}
