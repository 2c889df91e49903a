package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/vasanthgoud799/connectify-sub001/internal/core/domain"
)

// Server holds the signald configuration.
type Server struct {
	Addr           string
	JWTSecret      []byte
	RedisURL       string
	PresenceTTL    time.Duration
	PingInterval   time.Duration
	LogLevel       zerolog.Level
	AllowedOrigins []string
}

// Client holds the callclient configuration.
type Client struct {
	SignalURL         string
	AuthToken         string
	JWTSecret         []byte
	UserID            domain.UserID
	DisplayName       string
	Protocol          domain.Protocol
	ICEServers        []string
	HeartbeatInterval time.Duration
	LogLevel          zerolog.Level
}

// LoadServer reads configuration from a .env file (if present) and
// environment variables. Environment variables take precedence.
func LoadServer() (*Server, error) {
	_ = godotenv.Load()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	cfg := &Server{
		Addr:           getenv("SIGNAL_ADDR", ":8080"),
		JWTSecret:      []byte(secret),
		RedisURL:       os.Getenv("REDIS_URL"),
		AllowedOrigins: splitList(os.Getenv("ALLOWED_ORIGINS")),
	}

	var err error
	if cfg.PresenceTTL, err = duration("PRESENCE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.PingInterval, err = duration("PING_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.LogLevel, err = level(); err != nil {
		return nil, err
	}
	if cfg.PingInterval >= cfg.PresenceTTL {
		return nil, fmt.Errorf("PING_INTERVAL (%s) must be shorter than PRESENCE_TTL (%s)", cfg.PingInterval, cfg.PresenceTTL)
	}
	return cfg, nil
}

func LoadClient() (*Client, error) {
	_ = godotenv.Load()

	cfg := &Client{
		SignalURL:   os.Getenv("SIGNAL_URL"),
		AuthToken:   os.Getenv("AUTH_TOKEN"),
		JWTSecret:   []byte(os.Getenv("JWT_SECRET")),
		UserID:      domain.UserID(os.Getenv("CALL_USER_ID")),
		DisplayName: os.Getenv("CALL_DISPLAY_NAME"),
		ICEServers:  splitList(getenv("ICE_SERVERS", "stun:stun.l.google.com:19302")),
	}
	if cfg.SignalURL == "" {
		return nil, fmt.Errorf("SIGNAL_URL environment variable is required")
	}
	if cfg.AuthToken == "" && (len(cfg.JWTSecret) == 0 || cfg.UserID == "") {
		return nil, fmt.Errorf("AUTH_TOKEN, or JWT_SECRET and CALL_USER_ID, must be set")
	}

	var err error
	if cfg.Protocol, err = domain.ParseProtocol(os.Getenv("SIGNAL_PROTOCOL")); err != nil {
		return nil, err
	}
	if cfg.HeartbeatInterval, err = duration("HEARTBEAT_INTERVAL", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.LogLevel, err = level(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func duration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

func level() (zerolog.Level, error) {
	v := os.Getenv("LOG_LEVEL")
	if v == "" {
		return zerolog.InfoLevel, nil
	}
	l, err := zerolog.ParseLevel(v)
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return l, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
