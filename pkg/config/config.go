package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	FanoutLocal = "local"
	FanoutKafka = "kafka"

	StoreScylla = "scylla"
	StoreMemory = "memory"

	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	GatewayAddr string
	APIAddr     string
	Env         string

	JWTSecret string
	TokenTTL  time.Duration

	KafkaBrokers            []string
	KafkaEventsTopic        string
	KafkaNotificationsTopic string

	RedisAddr string

	StoreBackend   string
	ScyllaHosts    []string
	ScyllaKeyspace string

	NodeID           int64
	FanoutMode       string
	TypingTimeout    time.Duration
	PresenceDebounce time.Duration
	ShutdownTimeout  time.Duration

	AllowedOrigins    []string
	RateLimitBurst    int
	RateLimitInterval time.Duration
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("[CONFIG] No .env file found, relying on system environment variables")
	} else {
		log.Println("[CONFIG] Loaded .env file")
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from an env lookup function.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	p := parser{lookup: lookup}

	cfg := &Config{
		GatewayAddr: p.str("GATEWAY_ADDR", ":8080"),
		APIAddr:     p.str("API_ADDR", ":8081"),
		Env:         p.str("APP_ENV", EnvProduction),

		JWTSecret: p.str("JWT_SECRET", ""),
		TokenTTL:  p.duration("TOKEN_TTL", 24*time.Hour),

		KafkaBrokers:            p.list("KAFKA_BROKERS", "localhost:19092"),
		KafkaEventsTopic:        p.str("KAFKA_EVENTS_TOPIC", "chat-events"),
		KafkaNotificationsTopic: p.str("KAFKA_NOTIFICATIONS_TOPIC", "chat-notifications"),

		RedisAddr: p.str("REDIS_ADDR", "localhost:6379"),

		StoreBackend:   p.str("STORE_BACKEND", StoreScylla),
		ScyllaHosts:    p.list("SCYLLA_HOSTS", "localhost:9042"),
		ScyllaKeyspace: p.str("SCYLLA_KEYSPACE", "chat"),

		NodeID:           int64(p.int("NODE_ID", 1)),
		FanoutMode:       p.str("FANOUT_MODE", FanoutLocal),
		TypingTimeout:    p.duration("TYPING_TIMEOUT", 8*time.Second),
		PresenceDebounce: p.duration("PRESENCE_DEBOUNCE", 10*time.Second),
		ShutdownTimeout:  p.duration("SHUTDOWN_TIMEOUT", 15*time.Second),

		AllowedOrigins:    p.list("ALLOWED_ORIGINS", "*"),
		RateLimitBurst:    p.int("RATE_LIMIT_BURST", 10),
		RateLimitInterval: p.duration("RATE_LIMIT_INTERVAL", 200*time.Millisecond),
	}

	if len(p.errs) > 0 {
		return nil, errors.Join(p.errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.FanoutMode != FanoutLocal && c.FanoutMode != FanoutKafka {
		errs = append(errs, fmt.Errorf("FANOUT_MODE must be %q or %q, got %q", FanoutLocal, FanoutKafka, c.FanoutMode))
	}
	if c.StoreBackend != StoreScylla && c.StoreBackend != StoreMemory {
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreScylla, StoreMemory, c.StoreBackend))
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		errs = append(errs, fmt.Errorf("NODE_ID must be between 0 and 1023, got %d", c.NodeID))
	}
	if c.TypingTimeout <= 0 || c.PresenceDebounce <= 0 {
		errs = append(errs, errors.New("TYPING_TIMEOUT and PRESENCE_DEBOUNCE must be positive"))
	}
	if c.RateLimitBurst <= 0 || c.RateLimitInterval <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_BURST and RATE_LIMIT_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

type parser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *parser) str(key, def string) string {
	v, ok := p.lookup(key)
	if !ok || v == "" {
		return def
	}
	return v
}

func (p *parser) list(key, def string) []string {
	var out []string
	for _, s := range strings.Split(p.str(key, def), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (p *parser) int(key string, def int) int {
	v, ok := p.lookup(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v, ok := p.lookup(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

// DevLogin reports whether services may mint tokens for any identity.
func (c *Config) DevLogin() bool {
	return c.Env == EnvDevelopment
}

// Redacted is safe to log.
func (c *Config) Redacted() string {
	return fmt.Sprintf("env=%s gateway=%s api=%s fanout=%s store=%s redis=%s scylla=%v kafka=%v node=%d",
		c.Env, c.GatewayAddr, c.APIAddr, c.FanoutMode, c.StoreBackend, c.RedisAddr, c.ScyllaHosts, c.KafkaBrokers, c.NodeID)
}
