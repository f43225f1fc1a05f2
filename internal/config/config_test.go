package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		viper.Reset()
		t.Setenv("JWT_SECRET_KEY", "test-secret")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "postgres", cfg.Storage.Driver)
		assert.Equal(t, int64(1000), cfg.Escrow.PlatformFeeBps)
		assert.Equal(t, "platform", cfg.Escrow.PlatformAccountID)
		assert.Equal(t, 24*time.Hour, cfg.Escrow.ResultDeadline)
		assert.Equal(t, "escrow.events", cfg.Kafka.Topic)
		assert.Equal(t, "test-secret", cfg.JWTSecret)
	})

	t.Run("environment overrides", func(t *testing.T) {
		viper.Reset()
		t.Setenv("JWT_SECRET_KEY", "test-secret")
		t.Setenv("STORAGE_DRIVER", "bolt")
		t.Setenv("ESCROW_PLATFORM_FEE_BPS", "250")
		t.Setenv("ESCROW_RESULT_DEADLINE", "2h")
		t.Setenv("KAFKA_BROKERS", "kafka:9092")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "bolt", cfg.Storage.Driver)
		assert.Equal(t, int64(250), cfg.Escrow.PlatformFeeBps)
		assert.Equal(t, 2*time.Hour, cfg.Escrow.ResultDeadline)
		assert.Equal(t, "kafka:9092", cfg.Kafka.Brokers)
	})

	t.Run("server timeouts and worker batches", func(t *testing.T) {
		viper.Reset()
		t.Setenv("JWT_SECRET_KEY", "test-secret")
		t.Setenv("SERVER_READ_TIMEOUT", "5s")
		t.Setenv("SERVER_WRITE_TIMEOUT", "7s")
		t.Setenv("SERVER_IDLE_TIMEOUT", "2m")
		t.Setenv("WORKERS_ESCALATION_BATCH", "25")
		t.Setenv("WORKERS_OUTBOX_BATCH", "40")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 7*time.Second, cfg.Server.WriteTimeout)
		assert.Equal(t, 2*time.Minute, cfg.Server.IdleTimeout)
		assert.Equal(t, 25, cfg.Workers.EscalationBatch)
		assert.Equal(t, 40, cfg.Workers.OutboxBatch)
	})

	t.Run("reads env file", func(t *testing.T) {
		viper.Reset()
		path := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(path, []byte("JWT_SECRET_KEY=from-file\nESCROW_MIN_STAKE=500\n"), 0600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "from-file", cfg.JWTSecret)
		assert.Equal(t, int64(500), cfg.Escrow.MinStake)
	})

	t.Run("rejects invalid fee", func(t *testing.T) {
		viper.Reset()
		t.Setenv("JWT_SECRET_KEY", "test-secret")
		t.Setenv("ESCROW_PLATFORM_FEE_BPS", "20000")

		_, err := Load("")
		assert.ErrorContains(t, err, "platform_fee_bps")
	})

	t.Run("requires jwt secret", func(t *testing.T) {
		viper.Reset()
		t.Setenv("JWT_SECRET_KEY", "")

		_, err := Load("")
		assert.ErrorContains(t, err, "jwt.secret_key")
	})
}

func TestEnvBindingsCoverDefaults(t *testing.T) {
	viper.Reset()
	setDefaults()
	for _, key := range viper.AllKeys() {
		assert.Contains(t, envBindings, key, "no environment variable overrides %s", key)
	}
}
