package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clutchstake/backend/internal/config"
)

func TestNew_BoltBackend(t *testing.T) {
	cfg := &config.Config{
		Storage: config.StorageConfig{Driver: "bolt", BoltPath: filepath.Join(t.TempDir(), "escrow.db")},
		Escrow: config.EscrowConfig{
			PlatformFeeBps:    500,
			PlatformAccountID: "platform",
			ResultDeadline:    time.Hour,
			MinStake:          100,
			MaxStake:          10_000,
		},
	}

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.NoError(t, a.Store.Ping(context.Background()))
	assert.Equal(t, int64(500), a.Escrow.Config().FeeBps)
	assert.Equal(t, int64(100), a.Escrow.Config().MinStake)

	families, err := a.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNew_UnknownDriver(t *testing.T) {
	_, err := New(context.Background(), &config.Config{Storage: config.StorageConfig{Driver: "mysql"}}, zap.NewNop())
	assert.ErrorContains(t, err, "mysql")
}
