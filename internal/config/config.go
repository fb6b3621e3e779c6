// Package config loads runtime configuration from environment variables.
package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Client holds the settings for the booking client binary.  Each field
// corresponds to an environment variable; unset optional values fall
// back to local-development defaults.
type Client struct {
	BaseURL string // reservation API base URL
	WSURL   string // websocket events URL template, "" disables websocket
	AMQPURL string // AMQP broker URL, "" disables the AMQP transport
	SlotID  string // trip slot to watch
}

// LoadClient reads the client configuration.  With neither SEATS_WS_URL
// nor SEATS_AMQP_URL set, the client runs on the synthetic event feed.
func LoadClient() Client {
	return Client{
		BaseURL: envStr("SEATS_BASE_URL", "http://localhost:8080"),
		WSURL:   os.Getenv("SEATS_WS_URL"),
		AMQPURL: os.Getenv("SEATS_AMQP_URL"),
		SlotID:  envStr("SEATS_SLOT_ID", "slot-1"),
	}
}

// Server holds the settings for the simulation server binary.
type Server struct {
	Env       string        // "dev" or "prod"; prod requires an explicit JWT secret
	Port      string        // HTTP port to listen on
	JWTSecret string        // secret used to sign guest tokens
	LockTTL   time.Duration // how long an acquired seat lock lives
	AMQPURL   string        // optional broker URL for event fan-out
	Rows      int           // generated slot layout
	Cols      int
}

// LoadServer reads the server configuration.  In the "prod" environment
// a missing SEATS_JWT_SECRET is fatal; in dev a well-known secret is
// substituted so the harness starts with no setup at all.
func LoadServer() Server {
	cfg := Server{
		Env:       envStr("APP_ENV", "dev"),
		Port:      envStr("APP_PORT", "8080"),
		JWTSecret: os.Getenv("SEATS_JWT_SECRET"),
		LockTTL:   envDur("SEATS_LOCK_TTL", 5*time.Minute),
		AMQPURL:   os.Getenv("SEATS_AMQP_URL"),
		Rows:      envInt("SEATS_ROWS", 10),
		Cols:      envInt("SEATS_COLS", 4),
	}
	if cfg.JWTSecret == "" {
		if cfg.Env == "prod" {
			log.Fatal("missing required env var: SEATS_JWT_SECRET")
		}
		cfg.JWTSecret = "dev-only-secret"
	}
	return cfg
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
