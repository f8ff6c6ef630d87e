package config

import (
	"errors"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port             string
	TelegramBotToken string
	WebhookURL       string
	LogLevel         string

	Backend BackendConfig
	// пусто — история не пишется
	DatabaseURL string
	// сколько хранить историю; 0 — без чистки
	HistoryRetention time.Duration
	S3               S3Config
}

// BackendConfig — куда и как ходить за инференсом. Base URL раньше был зашит в код,
// теперь приходит из окружения.
type BackendConfig struct {
	BaseURL     string
	HealthPath  string
	BypassName  string
	BypassValue string
	Timeout     time.Duration
}

type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
}

// Enabled: архив включается, только если задан bucket.
func (c S3Config) Enabled() bool { return strings.TrimSpace(c.BucketName) != "" }

var ErrNoBackend = errors.New("BACKEND_BASE_URL is empty")

func defaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("BACKEND_HEALTH_PATH", "")
	v.SetDefault("BYPASS_HEADER_NAME", "ngrok-skip-browser-warning")
	v.SetDefault("BYPASS_HEADER_VALUE", "true")
	v.SetDefault("REQUEST_TIMEOUT", "120s")
	v.SetDefault("HISTORY_RETENTION", "720h")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("POSTGRES_USER", "xraybot")
	v.SetDefault("POSTGRES_DB", "xraybot")
	v.SetDefault("PGPORT", "5432")
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	defaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		Port:             v.GetString("PORT"),
		TelegramBotToken: strings.TrimSpace(v.GetString("TELEGRAM_BOT_TOKEN")),
		WebhookURL:       strings.TrimSpace(v.GetString("WEBHOOK_URL")),
		LogLevel:         v.GetString("LOG_LEVEL"),
		Backend: BackendConfig{
			BaseURL:     strings.TrimRight(strings.TrimSpace(v.GetString("BACKEND_BASE_URL")), "/"),
			HealthPath:  strings.TrimSpace(v.GetString("BACKEND_HEALTH_PATH")),
			BypassName:  v.GetString("BYPASS_HEADER_NAME"),
			BypassValue: v.GetString("BYPASS_HEADER_VALUE"),
			Timeout:     v.GetDuration("REQUEST_TIMEOUT"),
		},
		DatabaseURL:      resolveDSN(v),
		HistoryRetention: v.GetDuration("HISTORY_RETENTION"),
		S3: S3Config{
			Endpoint:        v.GetString("S3_ENDPOINT"),
			AccessKeyID:     v.GetString("S3_ACCESS_KEY_ID"),
			SecretAccessKey: v.GetString("S3_SECRET_ACCESS_KEY"),
			BucketName:      v.GetString("S3_BUCKET_NAME"),
			Region:          v.GetString("S3_REGION"),
		},
	}
	if cfg.Backend.Timeout <= 0 {
		cfg.Backend.Timeout = 120 * time.Second
	}
	if cfg.Backend.BaseURL == "" {
		return cfg, ErrNoBackend
	}
	if _, err := url.ParseRequestURI(cfg.Backend.BaseURL); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// resolveDSN: DATABASE_URL, иначе собираем из POSTGRES_*/PG*, но только если задан PGHOST.
func resolveDSN(v *viper.Viper) string {
	if s := strings.TrimSpace(v.GetString("DATABASE_URL")); s != "" {
		return s
	}
	host := strings.TrimSpace(v.GetString("PGHOST"))
	if host == "" {
		return ""
	}
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(v.GetString("POSTGRES_USER"), v.GetString("POSTGRES_PASSWORD")),
		Host:     net.JoinHostPort(host, v.GetString("PGPORT")),
		Path:     "/" + v.GetString("POSTGRES_DB"),
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// SafeDSNSummary — DSN без пароля, для логов.
func SafeDSNSummary(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "dsn: parse error"
	}
	host, port := u.Host, ""
	if h, p, err := net.SplitHostPort(u.Host); err == nil {
		host, port = h, p
	}
	db := strings.TrimPrefix(u.Path, "/")
	if port == "" {
		return "host=" + host + " db=" + db + " user=" + u.User.Username()
	}
	return "host=" + host + " port=" + port + " db=" + db + " user=" + u.User.Username()
}
