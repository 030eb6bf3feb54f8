package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadJSONDeployment(t *testing.T) {
	path := writeFile(t, "deployments.json", `{"network":"sui:testnet","packageId":"0xpkg"}`)
	t.Setenv("DEPLOYMENTS_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sui:testnet", cfg.Network)
	assert.Equal(t, "0xpkg::loyalty_card::mint_loyalty", cfg.Target.String())
	assert.Equal(t, "https://fullnode.testnet.sui.io", cfg.Node.RPCURL)
	assert.Equal(t, 30*time.Second, cfg.Node.Timeout)
	assert.Equal(t, 3000, cfg.Service.HTTPPort)
	assert.Equal(t, 24*time.Hour, cfg.Service.IdempotencyWindow)
}

func TestLoadYAMLDeploymentWithOverrides(t *testing.T) {
	path := writeFile(t, "deployments.yaml", "network: sui:devnet\npackageId: \"0xabc\"\nmodule: cards\nfunction: mint\n")
	t.Setenv("DEPLOYMENTS_PATH", path)
	t.Setenv("MINT_PACKAGE_ID", "0xdef")
	t.Setenv("NODE_RPC_URL", MemoryRPCURL)
	t.Setenv("NODE_TIMEOUT_MS", "1500")
	t.Setenv("MINT_RATE_PER_SEC", "0.5")
	t.Setenv("IDEMPOTENCY_WINDOW_SECONDS", "600")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sui:devnet", cfg.Network)
	assert.Equal(t, "0xdef::cards::mint", cfg.Target.String())
	assert.Equal(t, MemoryRPCURL, cfg.Node.RPCURL)
	assert.Equal(t, 1500*time.Millisecond, cfg.Node.Timeout)
	assert.Equal(t, 0.5, cfg.Service.MintRate)
	assert.Equal(t, 10*time.Minute, cfg.Service.IdempotencyWindow)
}

func TestValidateRejectsIncompleteConfig(t *testing.T) {
	_, err := FromDeployment(DeploymentConfig{Network: "sui:testnet"})
	assert.Error(t, err, "package id is required")

	_, err = FromDeployment(DeploymentConfig{Network: "sui:customnet", PackageID: "0x1"})
	assert.Error(t, err, "unknown network needs an explicit rpc url")

	_, err = FromDeployment(DeploymentConfig{Network: "eip155:1", PackageID: "0x1", RPCURL: "http://x"})
	assert.Error(t, err)

	cfg, err := FromDeployment(DeploymentConfig{Network: "sui:customnet", PackageID: "0x1", RPCURL: "http://x"})
	require.NoError(t, err)
	assert.Equal(t, "http://x", cfg.Node.RPCURL)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("DEPLOYMENTS_PATH", filepath.Join(t.TempDir(), "nope.json"))
	_, err := Load()
	assert.Error(t, err)
}
