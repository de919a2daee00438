package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Config holds application configuration
type Config struct {
	Port        int
	Database    DatabaseConfig
	Discord     DiscordConfig
	Environment string
	CORSOrigins []string

	// SharedSecretHash is a bcrypt hash of the plugin's pre-shared secret,
	// computed once at load so request handling never sees the plaintext.
	SharedSecretHash []byte

	Verification VerificationConfig

	// ReverifySchedule is a cron expression for the periodic membership sweep.
	ReverifySchedule string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Type         string // postgres
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// DiscordConfig holds the Discord OAuth2 application settings
type DiscordConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	GuildID      string // the community a linked account must belong to
}

// VerificationConfig holds linking-code tunables
type VerificationConfig struct {
	TTL        time.Duration
	CodeLength int
}

// Load loads configuration from environment variables
func Load() *Config {
	env := getEnv("ENVIRONMENT", "production")

	cfg := &Config{
		Port: getEnvInt("PORT", 8080),
		Database: DatabaseConfig{
			Type:         getEnv("DATABASE_TYPE", "postgres"),
			DSN:          getEnv("DATABASE_DSN", buildPostgresDSN()),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),
		},
		Discord: DiscordConfig{
			ClientID:     os.Getenv("DISCORD_CLIENT_ID"),
			ClientSecret: os.Getenv("DISCORD_CLIENT_SECRET"),
			RedirectURL:  loadRedirectURL(),
			GuildID:      os.Getenv("DISCORD_GUILD_ID"),
		},
		Environment:      env,
		CORSOrigins:      loadCORSOrigins(env),
		SharedSecretHash: loadSharedSecretHash(env),
		Verification: VerificationConfig{
			TTL:        time.Duration(getEnvInt("VERIFICATION_TTL_MINUTES", 15)) * time.Minute,
			CodeLength: getEnvInt("VERIFICATION_CODE_LENGTH", 8),
		},
		ReverifySchedule: getEnv("REVERIFY_SCHEDULE", "@hourly"),
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	return cfg
}

func buildPostgresDSN() string {
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	user := getEnv("POSTGRES_USER", "minelink")
	password := getEnv("POSTGRES_PASSWORD", "secret")
	dbName := getEnv("POSTGRES_DB", "minelink")
	sslMode := getEnv("POSTGRES_SSLMODE", "disable")

	u := url.URL{
		Scheme: "postgresql",
		User:   url.UserPassword(user, password),
		Host:   fmt.Sprintf("%s:%s", host, port),
		Path:   dbName,
	}

	query := u.Query()
	query.Set("sslmode", sslMode)
	u.RawQuery = query.Encode()

	return u.String()
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}

	if c.Discord.ClientID == "" || c.Discord.ClientSecret == "" {
		return fmt.Errorf("DISCORD_CLIENT_ID and DISCORD_CLIENT_SECRET are required")
	}
	if c.Discord.GuildID == "" {
		return fmt.Errorf("DISCORD_GUILD_ID is required")
	}
	if c.Discord.RedirectURL == "" {
		return fmt.Errorf("DISCORD_REDIRECT_URL or APP_URL is required")
	}

	if len(c.SharedSecretHash) == 0 {
		return fmt.Errorf("SHARED_SECRET is required")
	}

	if c.Verification.TTL <= 0 {
		return fmt.Errorf("VERIFICATION_TTL_MINUTES must be positive")
	}
	if c.Verification.CodeLength <= 0 {
		return fmt.Errorf("VERIFICATION_CODE_LENGTH must be positive")
	}

	if len(c.CORSOrigins) == 0 {
		return fmt.Errorf("at least one CORS origin must be configured")
	}

	return nil
}

// VerifySharedSecret compares a caller-supplied secret against the configured
// one in constant time. Returns false for the empty string.
func (c *Config) VerifySharedSecret(secret string) bool {
	if secret == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(c.SharedSecretHash, []byte(secret)) == nil
}

func loadSharedSecretHash(env string) []byte {
	secret := os.Getenv("SHARED_SECRET")
	if secret == "" {
		if env == "production" {
			log.Fatal("FATAL: SHARED_SECRET environment variable is required in production")
		}
		return nil
	}

	if len(secret) < 16 && env == "production" {
		log.Fatal("FATAL: SHARED_SECRET must be at least 16 characters long")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("FATAL: failed to hash shared secret: %v", err)
	}
	return hash
}

func loadRedirectURL() string {
	if redirect := os.Getenv("DISCORD_REDIRECT_URL"); redirect != "" {
		return redirect
	}
	if appURL := getAppURL(); appURL != "" {
		return appURL + "/oauth/callback"
	}
	return ""
}

func loadCORSOrigins(env string) []string {
	if appURL := getAppURL(); appURL != "" {
		return []string{appURL}
	}

	// Default origins based on environment
	if env == "development" {
		return []string{"http://localhost:3000", "http://localhost:8080"}
	}

	// In production, require explicit CORS configuration
	log.Println("WARNING: APP_URL not set. Using default localhost origins.")
	log.Println("WARNING: Set APP_URL environment variable for production deployments.")
	return []string{"http://localhost:3000", "http://localhost:8080"}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getAppURL() string {
	appURL := os.Getenv("APP_URL")
	if appURL == "" {
		return ""
	}
	return strings.TrimRight(appURL, "/")
}
