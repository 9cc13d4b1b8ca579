package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basedlink/basedlink-pay/types"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("RPC_URL", "https://mainnet.base.org")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "base", cfg.Network)
	assert.Equal(t, types.NetworkBase.USDCContract(), cfg.USDCContract)
	assert.Equal(t, uint64(3), cfg.MinConfirmations)
	assert.Equal(t, 10*time.Second, cfg.RPCTimeout)
	assert.Equal(t, 30*time.Second, cfg.VerifyTimeout)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, "@every 1m", cfg.ReconcileSchedule)
	assert.True(t, cfg.MetricsEnabled)
	assert.NoError(t, cfg.RequireChain())
	assert.Error(t, cfg.RequireServer())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("NETWORK", "Base-Sepolia")
	t.Setenv("RPC_URL", "https://sepolia.base.org")
	t.Setenv("MIN_CONFIRMATIONS", "12")
	t.Setenv("RPC_TIMEOUT", "3s")
	t.Setenv("CORS_ORIGINS", "https://basedlink.app, https://admin.basedlink.app")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("METRICS_ENABLED", "false")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "base-sepolia", cfg.Network)
	assert.Equal(t, types.NetworkBaseSepolia.USDCContract(), cfg.USDCContract)
	assert.Equal(t, uint64(12), cfg.MinConfirmations)
	assert.Equal(t, 3*time.Second, cfg.RPCTimeout)
	assert.Equal(t, []string{"https://basedlink.app", "https://admin.basedlink.app"}, cfg.CORSOrigins)
	assert.False(t, cfg.MetricsEnabled)
	assert.NoError(t, cfg.RequireServer())
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "basedlink.env")
	require.NoError(t, os.WriteFile(path, []byte("RPC_URL=https://mainnet.base.org\nSERVER_PORT=9090\n"), 0o600))
	t.Setenv("SERVER_PORT", "7070")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://mainnet.base.org", cfg.RPCUrl)
	assert.Equal(t, "7070", cfg.ServerPort)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string][2]string{
		"unknown network":  {"NETWORK", "ethereum"},
		"short jwt secret": {"JWT_SECRET", "short"},
		"bad contract":     {"USDC_CONTRACT", "0x1234"},
		"bad log level":    {"LOG_LEVEL", "verbose"},
		"bad port":         {"SERVER_PORT", "http"},
	}
	for name, kv := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := Load("")
			assert.Equal(t, types.ErrConfigError, types.ErrorCode(err))
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Equal(t, types.ErrConfigError, types.ErrorCode(err))
}
