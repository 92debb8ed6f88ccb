// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For required credentials (Telegram, Google), use Validate.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Telegram
	TelegramBotToken string
	PublicURL        string // externally reachable base URL used for webhook registration
	AllowedChatIDs   []int64
	OperatorChatID   int64

	// HTTP
	HTTPAddr      string
	TriggerSecret string

	// Google OAuth (shared by Drive and YouTube)
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string
	GoogleRefreshToken string
	GoogleScopes       string

	// Database (optional; empty disables persistence)
	DBDsn         string
	EncryptionKey string // base64 AES-256 key for stored OAuth tokens and sessions

	// Storage
	DataDir     string
	VaultFolder string
	LogFolder   string

	// Scheduling
	Timezone          string
	Location          *time.Location
	WindowStartHour   int
	WindowEndHour     int
	SlotProbability   float64
	SchedulerInterval time.Duration

	// Publishing
	MarkerTag       string
	DefaultHashtags string
	PromoSuffix     string
	VideoTags       []string
	VideoCategory   string
	Privacy         string
	PublishAtDelay  time.Duration
	PublishRetries  int
	RetryDelay      time.Duration

	// Media
	FFmpegPath     string
	TrimSeconds    int
	MaxIngestBytes int64

	// Claims / sessions
	ClaimBackend   string // memory | postgres | redis
	ClaimTTL       time.Duration
	RedisAddr      string
	SessionBackend string // memory | postgres
	SessionTTL     time.Duration

	// Timeouts for external calls
	StagingTimeout   time.Duration
	UploadTimeout    time.Duration
	TransformTimeout time.Duration
}

// Load reads environment variables and applies defaults. It doesn't fail if credentials are missing;
// use Validate() before starting components that need them.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.PublicURL = strings.TrimRight(os.Getenv("PUBLIC_URL"), "/")
	ids, err := parseIDList(os.Getenv("ALLOWED_CHAT_IDS"))
	if err != nil {
		return nil, fmt.Errorf("invalid ALLOWED_CHAT_IDS: %w", err)
	}
	cfg.AllowedChatIDs = ids
	if v := os.Getenv("OPERATOR_CHAT_ID"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid OPERATOR_CHAT_ID: %w", err)
		}
		cfg.OperatorChatID = n
	}

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		// PORT is what most PaaS runtimes inject
		if p := os.Getenv("PORT"); p != "" {
			cfg.HTTPAddr = ":" + p
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	cfg.TriggerSecret = os.Getenv("TRIGGER_SECRET")

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURI = os.Getenv("REDIRECT_URI")
	cfg.GoogleRefreshToken = os.Getenv("GOOGLE_REFRESH_TOKEN")
	cfg.GoogleScopes = envOr("GOOGLE_SCOPES", "https://www.googleapis.com/auth/youtube.upload https://www.googleapis.com/auth/youtube https://www.googleapis.com/auth/drive.file")

	cfg.DBDsn = os.Getenv("DB_DSN")
	cfg.EncryptionKey = os.Getenv("ENCRYPTION_KEY")

	cfg.DataDir = envOr("DATA_DIR", "data")
	cfg.VaultFolder = envOr("VAULT_FOLDER", "Random_Shorts_Storage")
	cfg.LogFolder = envOr("LOG_FOLDER", "Daily_Upload_Logs")

	cfg.Timezone = envOr("TIMEZONE", "America/New_York")
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	hour, err := envInt("PUBLISH_HOUR", 18)
	if err != nil {
		return nil, err
	}
	if cfg.WindowStartHour, err = envInt("PUBLISH_WINDOW_START", hour); err != nil {
		return nil, err
	}
	if cfg.WindowEndHour, err = envInt("PUBLISH_WINDOW_END", cfg.WindowStartHour); err != nil {
		return nil, err
	}
	if cfg.WindowStartHour < 0 || cfg.WindowStartHour > 23 || cfg.WindowEndHour < 0 || cfg.WindowEndHour > 23 {
		return nil, fmt.Errorf("publish window hours must be within 0-23 (got %d-%d)", cfg.WindowStartHour, cfg.WindowEndHour)
	}
	if cfg.WindowEndHour < cfg.WindowStartHour {
		return nil, fmt.Errorf("PUBLISH_WINDOW_END (%d) before PUBLISH_WINDOW_START (%d)", cfg.WindowEndHour, cfg.WindowStartHour)
	}
	cfg.SlotProbability = 1
	if v := os.Getenv("SLOT_PROBABILITY"); v != "" {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil || p <= 0 || p > 1 {
			return nil, fmt.Errorf("invalid SLOT_PROBABILITY %q: must be in (0,1]", v)
		}
		cfg.SlotProbability = p
	}
	if cfg.SchedulerInterval, err = envDuration("SCHEDULER_INTERVAL", time.Minute); err != nil {
		return nil, err
	}

	cfg.MarkerTag = envOr("MARKER_TAG", "#shorts")
	cfg.DefaultHashtags = envOr("DEFAULT_HASHTAGS", "#shorts")
	cfg.PromoSuffix = envOr("PROMO_SUFFIX", "Satisfying video #shorts #asmr #cutting")
	cfg.VideoTags = splitList(envOr("VIDEO_TAGS", "shorts,satisfying,asmr"))
	cfg.VideoCategory = envOr("VIDEO_CATEGORY", "24")
	cfg.Privacy = strings.ToLower(envOr("PUBLISH_PRIVACY", "public"))
	switch cfg.Privacy {
	case "public", "private", "unlisted":
	default:
		return nil, fmt.Errorf("invalid PUBLISH_PRIVACY %q", cfg.Privacy)
	}
	if cfg.PublishAtDelay, err = envDuration("PUBLISH_AT_DELAY", 0); err != nil {
		return nil, err
	}
	if cfg.PublishRetries, err = envInt("PUBLISH_RETRIES", 2); err != nil {
		return nil, err
	}
	if cfg.RetryDelay, err = envDuration("PUBLISH_RETRY_DELAY", 30*time.Second); err != nil {
		return nil, err
	}

	cfg.FFmpegPath = envOr("FFMPEG_PATH", "ffmpeg")
	if cfg.TrimSeconds, err = envInt("TRIM_SECONDS", 59); err != nil {
		return nil, err
	}
	maxMB, err := envInt("MAX_INGEST_MB", 20)
	if err != nil {
		return nil, err
	}
	cfg.MaxIngestBytes = int64(maxMB) * 1024 * 1024

	cfg.ClaimBackend = strings.ToLower(envOr("CLAIM_BACKEND", "memory"))
	if cfg.ClaimTTL, err = envDuration("CLAIM_TTL", 30*time.Minute); err != nil {
		return nil, err
	}
	cfg.RedisAddr = envOr("REDIS_ADDR", "localhost:6379")
	cfg.SessionBackend = strings.ToLower(envOr("SESSION_BACKEND", "memory"))
	if cfg.SessionTTL, err = envDuration("SESSION_TTL", 24*time.Hour); err != nil {
		return nil, err
	}

	if cfg.StagingTimeout, err = envDuration("STAGING_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.UploadTimeout, err = envDuration("UPLOAD_TIMEOUT", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.TransformTimeout, err = envDuration("TRANSFORM_TIMEOUT", 5*time.Minute); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the credentials required to run the bot and talk to Google.
func (c *Config) Validate() error {
	var missing []string
	if c.TelegramBotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if c.GoogleClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}
	if c.GoogleClientSecret == "" {
		missing = append(missing, "GOOGLE_CLIENT_SECRET")
	}
	if c.GoogleRefreshToken == "" && c.DBDsn == "" {
		// without a DB there is nowhere else to find a stored token
		missing = append(missing, "GOOGLE_REFRESH_TOKEN")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing env: %s", strings.Join(missing, ", "))
	}
	switch c.ClaimBackend {
	case "memory", "redis":
	case "postgres":
		if c.DBDsn == "" {
			return fmt.Errorf("CLAIM_BACKEND=postgres requires DB_DSN")
		}
	default:
		return fmt.Errorf("unknown CLAIM_BACKEND %q", c.ClaimBackend)
	}
	switch c.SessionBackend {
	case "memory":
	case "postgres":
		if c.DBDsn == "" {
			return fmt.Errorf("SESSION_BACKEND=postgres requires DB_DSN")
		}
	default:
		return fmt.Errorf("unknown SESSION_BACKEND %q", c.SessionBackend)
	}
	return nil
}

// ChatAllowed reports whether commands from chatID are accepted. An empty allow list accepts everyone.
func (c *Config) ChatAllowed(chatID int64) bool {
	if len(c.AllowedChatIDs) == 0 {
		return true
	}
	for _, id := range c.AllowedChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}

// WebhookPath is the HTTP path Telegram posts updates to. The bot token acts as the shared secret.
func (c *Config) WebhookPath() string {
	return "/telegram/" + c.TelegramBotToken
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s %q: expected duration like 30s", key, v)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseIDList(s string) ([]int64, error) {
	var out []int64
	for _, p := range splitList(s) {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
