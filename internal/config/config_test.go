package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/AmbossTech/banco-swaps/pkg/boltz"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("BANCO_BOLTZ_URL", "http://boltz:9001")
	t.Setenv("BANCO_DATADIR", filepath.Join(t.TempDir(), "banco"))

	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, "mainnet", cfg.Network)
	require.Equal(t, uint32(4), cfg.LogLevel)
	require.True(t, cfg.EnableWebsocket)
	require.Equal(t, 1.0, cfg.FeeRateSatVb)
	require.Equal(t, time.Minute, cfg.LimitsTTL())
	require.Equal(t, boltz.CurrencyLiquid, cfg.WalletChain())
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("BANCO_BOLTZ_URL", "http://boltz:9001")
	t.Setenv("BANCO_BOLTZ_WS_URL", "ws://boltz:9004")
	t.Setenv("BANCO_DATADIR", filepath.Join(t.TempDir(), "banco"))
	t.Setenv("BANCO_NETWORK", "regtest")
	t.Setenv("BANCO_ENABLE_WEBSOCKET", "false")
	t.Setenv("BANCO_FEE_RATE_SAT_VB", "2.5")
	t.Setenv("BANCO_LIMITS_TTL_SEC", "120")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, "http://boltz:9001", cfg.BoltzURL)
	require.Equal(t, "ws://boltz:9004", cfg.BoltzWSURL)
	require.Equal(t, "regtest", cfg.Network)
	require.False(t, cfg.EnableWebsocket)
	require.Equal(t, 2.5, cfg.FeeRateSatVb)
	require.Equal(t, 2*time.Minute, cfg.LimitsTTL())
}

func TestLoadConfigRejectsBadInput(t *testing.T) {
	t.Run("missing provider url", func(t *testing.T) {
		t.Setenv("BANCO_BOLTZ_URL", "")
		t.Setenv("BANCO_DATADIR", filepath.Join(t.TempDir(), "banco"))
		_, err := LoadConfig()
		require.ErrorContains(t, err, "missing swap provider URL")
	})

	t.Run("unknown network", func(t *testing.T) {
		t.Setenv("BANCO_BOLTZ_URL", "http://boltz:9001")
		t.Setenv("BANCO_DATADIR", filepath.Join(t.TempDir(), "banco"))
		t.Setenv("BANCO_NETWORK", "signet")
		_, err := LoadConfig()
		require.ErrorContains(t, err, "unknown network")
	})
}

func TestNetworkMapping(t *testing.T) {
	cfg := &Config{Network: "regtest"}

	btcNet, err := cfg.BitcoinNetwork()
	require.NoError(t, err)
	require.Equal(t, "regtest", btcNet.Name)

	liquidNet, err := cfg.LiquidNetwork()
	require.NoError(t, err)
	require.Equal(t, "regtest", liquidNet.Name)

	assetID, err := cfg.LBtcAssetID()
	require.NoError(t, err)
	require.Len(t, assetID, 64)

	mainnet := &Config{Network: "mainnet"}
	mainnetAsset, err := mainnet.LBtcAssetID()
	require.NoError(t, err)
	require.Equal(t,
		"6f0279e9ed041c3d710a9f57d0c02928416460c4b722ae3457a11eec381c526d",
		mainnetAsset,
	)
	require.NotEqual(t, mainnetAsset, assetID)
}

func TestEnvSpecs(t *testing.T) {
	specs := EnvSpecs()
	require.NotEmpty(t, specs)

	byName := make(map[string]EnvVar, len(specs))
	for _, spec := range specs {
		require.NotEmpty(t, spec.Name)
		require.NotEmpty(t, spec.Description)
		require.Equal(t, "BANCO_"+spec.Name, spec.FullName)
		byName[spec.Name] = spec
	}

	require.Contains(t, byName, "BOLTZ_URL")
	require.Contains(t, byName, "NETWORK")
	require.Equal(t, "mainnet", byName["NETWORK"].Default)
}
