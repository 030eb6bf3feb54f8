package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"loyaltymint/internal/mint"

	"gopkg.in/yaml.v3"
)

// MemoryRPCURL selects the in-process ledger instead of a fullnode.
const MemoryRPCURL = "memory"

// DefaultNetwork is the chain the original deployment targets.
const DefaultNetwork = "sui:testnet"

// KnownNetworks maps network ids to their public fullnode.
var KnownNetworks = map[string]string{
	"sui:mainnet":  "https://fullnode.mainnet.sui.io",
	"sui:testnet":  "https://fullnode.testnet.sui.io",
	"sui:devnet":   "https://fullnode.devnet.sui.io",
	"sui:localnet": "http://127.0.0.1:9000",
}

// DeploymentConfig represents deployments.json (or .yaml).
type DeploymentConfig struct {
	Network   string `json:"network" yaml:"network"`
	PackageID string `json:"packageId" yaml:"packageId"`
	Module    string `json:"module" yaml:"module"`
	Function  string `json:"function" yaml:"function"`
	RPCURL    string `json:"rpcUrl" yaml:"rpcUrl"`
}

// AppConfig ties together deployment info and derived values.
type AppConfig struct {
	Deployment DeploymentConfig
	Target     mint.ContractTarget
	Network    string
	Node       NodeConfig
	Wallet     WalletConfig
	Service    ServiceConfig
	Journal    JournalConfig
	Log        LogConfig
}

type NodeConfig struct {
	RPCURL  string
	Timeout time.Duration
}

type WalletConfig struct {
	// BridgeURL takes precedence over Mnemonic.
	BridgeURL string
	Mnemonic  string
}

type ServiceConfig struct {
	HTTPPort      int
	HMACSecret    string
	HMACClockSkew time.Duration
	MintRate      float64
	MintBurst     int

	// IdempotencyWindow is how long a finished mint is replayed for a repeated key.
	IdempotencyWindow time.Duration
}

type JournalConfig struct {
	Path        string
	PostgresDSN string
}

type LogConfig struct {
	Level  string
	Format string
}

const (
	defaultDeploymentsPath = "../deployments.json"
	defaultModule          = "loyalty_card"
	defaultFunction        = "mint_loyalty"
)

// Load aggregates configuration from disk and environment.
func Load() (*AppConfig, error) {
	deploymentsPath := envOr("DEPLOYMENTS_PATH", defaultDeploymentsPath)

	deployCfg, err := loadDeployments(deploymentsPath)
	if err != nil {
		return nil, fmt.Errorf("load deployments: %w", err)
	}
	return FromDeployment(*deployCfg)
}

// FromDeployment applies environment overrides and defaults to a deployment.
func FromDeployment(deployCfg DeploymentConfig) (*AppConfig, error) {
	network := envOr("MINT_NETWORK", deployCfg.Network)
	if network == "" {
		network = DefaultNetwork
	}

	target := mint.ContractTarget{
		Package:  envOr("MINT_PACKAGE_ID", deployCfg.PackageID),
		Module:   orDefault(deployCfg.Module, defaultModule),
		Function: orDefault(deployCfg.Function, defaultFunction),
	}

	cfg := &AppConfig{
		Deployment: deployCfg,
		Target:     target,
		Network:    network,
		Node: NodeConfig{
			RPCURL:  envOr("NODE_RPC_URL", orDefault(deployCfg.RPCURL, KnownNetworks[network])),
			Timeout: time.Duration(envOrInt("NODE_TIMEOUT_MS", 30000)) * time.Millisecond,
		},
		Wallet: WalletConfig{
			BridgeURL: envOr("WALLET_BRIDGE_URL", ""),
			Mnemonic:  envOr("WALLET_MNEMONIC", ""),
		},
		Service: ServiceConfig{
			HTTPPort:          envOrInt("API_HTTP_PORT", 3000),
			HMACSecret:        envOr("API_HMAC_SECRET", ""),
			HMACClockSkew:     time.Duration(envOrInt("HMAC_CLOCK_SKEW_SECONDS", 60)) * time.Second,
			MintRate:          envOrFloat("MINT_RATE_PER_SEC", 1),
			MintBurst:         envOrInt("MINT_RATE_BURST", 3),
			IdempotencyWindow: time.Duration(envOrInt("IDEMPOTENCY_WINDOW_SECONDS", 86400)) * time.Second,
		},
		Journal: JournalConfig{
			Path:        envOr("JOURNAL_PATH", filepath.Join(os.TempDir(), "loyaltymint-journal.json")),
			PostgresDSN: envOr("JOURNAL_POSTGRES_DSN", ""),
		},
		Log: LogConfig{
			Level:  envOr("LOG_LEVEL", "info"),
			Format: envOr("LOG_FORMAT", "json"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values the mint pipeline cannot run without.
func (c *AppConfig) Validate() error {
	if !strings.HasPrefix(c.Network, "sui:") {
		return fmt.Errorf("network %q: want sui:<environment>", c.Network)
	}
	if err := c.Target.Validate(); err != nil {
		return err
	}
	if c.Node.RPCURL == "" {
		return fmt.Errorf("no rpc url for network %q; set NODE_RPC_URL", c.Network)
	}
	if c.Service.HTTPPort < 0 {
		return fmt.Errorf("invalid http port %d", c.Service.HTTPPort)
	}
	return nil
}

func loadDeployments(path string) (*DeploymentConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg DeploymentConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &cfg)
	default:
		err = json.Unmarshal(raw, &cfg)
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func orDefault(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}

func envOrFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed float64
		if _, err := fmt.Sscanf(val, "%g", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}
