package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains application-wide settings sourced from the environment.
// A missing required setting is a startup failure, never a silent default.
type Config struct {
	DatabaseURL string
	Addr        string

	LogLevel  string
	LogFormat string

	// Timezone used when deriving years for undated show listings.
	Location *time.Location

	// Default ingestion lookback when no window is given on the CLI.
	LookbackMinutes int

	Squarespace SquarespaceConfig
	Eventbrite  EventbriteConfig
	Bucketlist  BucketlistConfig
	Mailbox     MailboxConfig

	// Directory holding the spreadsheet mirror exports consumed by the
	// backfill sync (one subdirectory per venue, one CSV per show).
	MirrorDir string

	// Directory where mailing-list export batches are written.
	ExportDir string
}

// SquarespaceConfig holds storefront API credentials.
type SquarespaceConfig struct {
	APIKey string
}

// EventbriteConfig holds ticketing API credentials.
type EventbriteConfig struct {
	Token          string
	OrganizationID string
}

// BucketlistConfig holds the session-cookie credentials for the partner
// insights site.
type BucketlistConfig struct {
	PartnerID  string
	CookieFile string
	LoginEmail string
	LoginPass  string
}

// MailboxConfig holds the OAuth material for read-only mailbox access.
type MailboxConfig struct {
	TokenFile string
}

// Load reads configuration from the environment, honoring a local env file
// when present.
func Load() (Config, error) {
	_ = godotenv.Load("config/local.env")

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return Config{}, errors.New("DATABASE_URL env var is required")
	}

	loc, err := time.LoadLocation(envOrDefault("SHOW_TIMEZONE", "America/Los_Angeles"))
	if err != nil {
		return Config{}, fmt.Errorf("load SHOW_TIMEZONE: %w", err)
	}

	lookback, err := strconv.Atoi(envOrDefault("LOOKBACK_MINUTES", "60"))
	if err != nil || lookback <= 0 {
		return Config{}, fmt.Errorf("invalid LOOKBACK_MINUTES: %q", os.Getenv("LOOKBACK_MINUTES"))
	}

	return Config{
		DatabaseURL:     dsn,
		Addr:            fmt.Sprintf(":%s", envOrDefault("PORT", "8080")),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		Location:        loc,
		LookbackMinutes: lookback,
		Squarespace: SquarespaceConfig{
			APIKey: os.Getenv("SQUARESPACE_API_KEY"),
		},
		Eventbrite: EventbriteConfig{
			Token:          os.Getenv("EVENTBRITE_PRIVATE_TOKEN"),
			OrganizationID: os.Getenv("EVENTBRITE_ORGANIZATION_ID"),
		},
		Bucketlist: BucketlistConfig{
			PartnerID:  os.Getenv("BUCKETLIST_PARTNER_ID"),
			CookieFile: os.Getenv("BUCKETLIST_COOKIE_FILE"),
			LoginEmail: os.Getenv("BUCKETLIST_LOGIN_EMAIL"),
			LoginPass:  os.Getenv("BUCKETLIST_LOGIN_PASSWORD"),
		},
		Mailbox: MailboxConfig{
			TokenFile: os.Getenv("GMAIL_TOKEN_FILE"),
		},
		MirrorDir: envOrDefault("MIRROR_DIR", "mirror"),
		ExportDir: envOrDefault("EXPORT_DIR", "exports"),
	}, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// CommaList splits a comma-separated env value into trimmed entries.
func CommaList(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
