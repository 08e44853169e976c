package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, int64(167012), cfg.Chain.ChainID)
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "chain"
	cfg.LogLevel = "loud"
	cfg.Admin.Addresses = []string{"nope"}
	cfg.Server.Port = 0

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"log_level", "admin: addresses[0]", "chain: oracle must be set", "server: port"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateSimAmounts(t *testing.T) {
	cfg := Defaults()
	cfg.Sim.MinBaseBond = "-1"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sim: min_base_bond")
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "insightra.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "server"

[chain]
rpc_url = "http://localhost:8545"

[pipeline]
keeper_interval = "3s"
`), 0o600))

	t.Setenv("INSIGHTRA_ADMIN_ADDRESSES", "0x00000000000000000000000000000000000000aa, 0x00000000000000000000000000000000000000bb")
	t.Setenv("INSIGHTRA_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, "http://localhost:8545", cfg.Chain.RPCURL)
	assert.Equal(t, 3*time.Second, cfg.Pipeline.KeeperInterval.Duration)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Len(t, cfg.Admin.Addresses, 2)
	assert.Equal(t, "Kasplex Testnet", cfg.Chain.ChainName)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0xdeadbeef"
	cfg.Notify.WebhookSecret = "s"
	cfg.Admin.Addresses = []string{"0x01"}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Wallet.PrivateKey)
	assert.Equal(t, "***", out.Notify.WebhookSecret)
	assert.Equal(t, "", out.Wallet.KeyPassword)

	out.Admin.Addresses[0] = "changed"
	assert.Equal(t, "0x01", cfg.Admin.Addresses[0])
}

func TestAmount(t *testing.T) {
	v, err := Amount("")
	require.NoError(t, err)
	assert.Zero(t, v.Sign())

	v, err = Amount("123")
	require.NoError(t, err)
	assert.Equal(t, int64(123), v.Int64())

	_, err = Amount("1.5")
	assert.Error(t, err)
}
