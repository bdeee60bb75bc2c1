package config

import (
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "dev")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, ":9000", cfg.GRPCAddr)
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, SignalsStore, cfg.LiveSignals)
	assert.Equal(t, "ncpwheels", cfg.MongoDB)
	assert.True(t, cfg.MongoTransactions)
	assert.Equal(t, gocql.Quorum, cfg.ScyllaConsistency)
	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}, cfg.RetryBackoff)
	assert.Equal(t, 168*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, "dev-secret", cfg.JWTSecret)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("STORE_DRIVER", "Scylla")
	t.Setenv("SCYLLA_HOSTS", " a:9042, ,b:9042 ")
	t.Setenv("SCYLLA_CONSISTENCY", "local_quorum")
	t.Setenv("LIVE_SIGNALS", "redis")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("MONGO_TRANSACTIONS", "off")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.HTTPAddr)
	assert.Equal(t, StoreScylla, cfg.StoreDriver)
	assert.Equal(t, []string{"a:9042", "b:9042"}, cfg.ScyllaHosts)
	assert.Equal(t, gocql.LocalQuorum, cfg.ScyllaConsistency)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.False(t, cfg.MongoTransactions)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]map[string]string{
		"mongo without uri":  {"STORE_DRIVER": "mongo"},
		"unknown driver":     {"STORE_DRIVER": "sqlite"},
		"redis without addr": {"LIVE_SIGNALS": "redis"},
		"kafka without list": {"LIVE_SIGNALS": "kafka"},
		"prod without jwt":   {"APP_ENV": "prod"},
		"bad duration":       {"IDEMP_TTL": "soon"},
		"bad bool":           {"MONGO_TRANSACTIONS": "maybe"},
		"bad backoff":        {"RETRY_BACKOFF": "1s,later"},
		"bad consistency":    {"SCYLLA_CONSISTENCY": "two"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
