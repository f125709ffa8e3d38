package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"StableLedger/internal/config"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const signerHex = "0x00000000000000000000000000000000000a0001"

func TestLoadFile_DefaultsAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stableledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
persist:
  batch_size: 25
server:
  trusted_proxies: ["10.0.0.0/8"]
oracle:
  authorities: "`+signerHex+`"
`), 0o600))

	t.Setenv("STABLE_SERVER_HTTP_ADDR", ":18080")

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Persist.BatchSize)
	assert.Equal(t, ":18080", cfg.Server.HTTPAddr)
	assert.Equal(t, []string{"10.0.0.0/8"}, cfg.Server.TrustedProxies)
	assert.Equal(t, 1024, cfg.Channels.PersistSize)
	assert.Equal(t, uint64(100), cfg.Oracle.MaxStalenessSlots)
	assert.Equal(t, "SOL/USD", cfg.Oracle.FeedID)
	assert.Equal(t, 10*time.Millisecond, cfg.FlushTimeout())
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL())
	require.NoError(t, cfg.Validate())
}

func TestOracleAuthorities(t *testing.T) {
	cfg := &config.Config{}
	cfg.Oracle.Authorities = signerHex + ", 0x0000000000000000000000000000000000000b0b ,"

	auths, err := cfg.OracleAuthorities()
	require.NoError(t, err)
	assert.Equal(t, []common.Address{
		common.HexToAddress(signerHex),
		common.HexToAddress("0x0000000000000000000000000000000000000b0b"),
	}, auths)

	cfg.Oracle.Authorities = "not-an-address"
	_, err = cfg.OracleAuthorities()
	assert.Error(t, err)
}

func TestValidate_RequiresOracleSigner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stableledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nats:\n  url: nats://example:4222\n"), 0o600))

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "nats://example:4222", cfg.NATS.URL)
	assert.ErrorContains(t, cfg.Validate(), "oracle.authorities")
}
