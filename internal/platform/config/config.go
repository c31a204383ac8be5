package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates per-concern configuration so main stays lean.
type Config struct {
	Server   Server
	Session  Session
	Redis    Redis
	Postgres Postgres
	Kafka    Kafka
	SMS      SMS

	// SpecDir is the root directory holding form specifications, laid out as
	// <SpecDir>/<org>/<project>.yaml.
	SpecDir string

	// UploadDir receives streamed file attachments.
	UploadDir string

	// AdminToken guards the spec rebuild endpoint. Empty disables it.
	AdminToken string

	// AliasMaxLen caps generated alias length.
	AliasMaxLen int
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr string
}

// Session controls reporting-session lifetime. Expiry is evaluated lazily on
// access, there is no background sweeper.
type Session struct {
	TTL time.Duration
}

// Redis configures the session store backend. Empty URL means in-memory.
type Redis struct {
	URL string
}

// Postgres configures the report/funnel stores. Empty URL means in-memory.
type Postgres struct {
	URL string
}

// Kafka configures the optional funnel event stream. No brokers disables it.
type Kafka struct {
	Brokers []string
	Topic   string
}

// SMS configures the inbound-message webhook adapter. The webhook carries no
// org or project, so the adapter is bound to one pair at startup.
type SMS struct {
	Org      string
	Project  string
	HelpText string
}

// FromEnv builds a Config from environment variables with development
// defaults.
func FromEnv() Config {
	return Config{
		Server:  Server{Addr: envOr("HAVEN_ADDR", ":8080")},
		Session: Session{TTL: envDuration("HAVEN_SESSION_TTL", 45*time.Minute)},
		Redis:   Redis{URL: os.Getenv("HAVEN_REDIS_URL")},
		Postgres: Postgres{
			URL: os.Getenv("HAVEN_DATABASE_URL"),
		},
		Kafka: Kafka{
			Brokers: splitNonEmpty(os.Getenv("HAVEN_KAFKA_BROKERS")),
			Topic:   envOr("HAVEN_KAFKA_TOPIC", "haven.funnel"),
		},
		SMS: SMS{
			Org:      os.Getenv("HAVEN_SMS_ORG"),
			Project:  os.Getenv("HAVEN_SMS_PROJECT"),
			HelpText: envOr("HAVEN_SMS_HELP", "Reply START to begin a report. Your answers are anonymous."),
		},
		SpecDir:     envOr("HAVEN_SPEC_DIR", "specs"),
		UploadDir:   envOr("HAVEN_UPLOAD_DIR", "uploads"),
		AdminToken:  os.Getenv("HAVEN_ADMIN_TOKEN"),
		AliasMaxLen: envInt("HAVEN_ALIAS_MAX_LEN", 18),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
