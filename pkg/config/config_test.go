package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOf(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(envOf(map[string]string{"JWT_SECRET": "s3cret"}))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.GatewayAddr)
	assert.Equal(t, FanoutLocal, cfg.FanoutMode)
	assert.Equal(t, StoreScylla, cfg.StoreBackend)
	assert.Equal(t, []string{"localhost:9042"}, cfg.ScyllaHosts)
	assert.Equal(t, 8*time.Second, cfg.TypingTimeout)
	assert.Equal(t, 10*time.Second, cfg.PresenceDebounce)
	assert.Equal(t, int64(1), cfg.NodeID)
	assert.Equal(t, EnvProduction, cfg.Env)
	assert.False(t, cfg.DevLogin())
}

func TestDevLogin(t *testing.T) {
	for env, want := range map[string]bool{EnvDevelopment: true, EnvProduction: false, "staging": false} {
		t.Run(env, func(t *testing.T) {
			cfg, err := FromEnv(envOf(map[string]string{"JWT_SECRET": "s3cret", "APP_ENV": env}))
			require.NoError(t, err)
			assert.Equal(t, want, cfg.DevLogin())
		})
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(envOf(map[string]string{
		"JWT_SECRET":        "s3cret",
		"KAFKA_BROKERS":     "k1:9092, k2:9092,",
		"FANOUT_MODE":       "kafka",
		"TYPING_TIMEOUT":    "5s",
		"PRESENCE_DEBOUNCE": "1500ms",
		"NODE_ID":           "12",
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, FanoutKafka, cfg.FanoutMode)
	assert.Equal(t, 5*time.Second, cfg.TypingTimeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.PresenceDebounce)
	assert.Equal(t, int64(12), cfg.NodeID)
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing secret", env: map[string]string{}},
		{name: "bad fanout", env: map[string]string{"JWT_SECRET": "x", "FANOUT_MODE": "redis"}},
		{name: "bad store", env: map[string]string{"JWT_SECRET": "x", "STORE_BACKEND": "postgres"}},
		{name: "bad duration", env: map[string]string{"JWT_SECRET": "x", "TYPING_TIMEOUT": "soon"}},
		{name: "node out of range", env: map[string]string{"JWT_SECRET": "x", "NODE_ID": "2048"}},
		{name: "bad int", env: map[string]string{"JWT_SECRET": "x", "RATE_LIMIT_BURST": "many"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromEnv(envOf(tt.env))
			assert.Error(t, err)
		})
	}
}
