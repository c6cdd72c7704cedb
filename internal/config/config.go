package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// SeedConfig models the subset of values we need from seed.json.
type SeedConfig struct {
	Chain struct {
		ChainID    int64  `json:"chainId"`
		RPCURL     string `json:"rpcUrl"`
		StartBlock uint64 `json:"startBlock"`
		BlockTime  int    `json:"blockTime"`
	} `json:"chain"`
	Tokens struct {
		Stablecoin struct {
			Symbol   string `json:"symbol"`
			Name     string `json:"name"`
			Decimals int    `json:"decimals"`
		} `json:"stablecoin"`
		Representation struct {
			Symbol   string `json:"symbol"`
			Name     string `json:"name"`
			Decimals int    `json:"decimals"`
		} `json:"representation"`
	} `json:"tokens"`
	Compliance struct {
		GateURL       string `json:"gateUrl"`
		SourceOfFunds string `json:"sourceOfFunds"`
		TimeoutMs     int    `json:"timeoutMs"`
	} `json:"compliance"`
	Retry struct {
		MaxAttempts       int `json:"maxAttempts"`
		InitialBackoffMs  int `json:"initialBackoffMs"`
		MaxBackoffMs      int `json:"maxBackoffMs"`
		BackoffMultiplier int `json:"backoffMultiplier"`
	} `json:"retry"`
	Timeouts struct {
		RPCTimeoutMs          int `json:"rpcTimeoutMs"`
		ConfirmationTimeoutMs int `json:"confirmationTimeoutMs"`
		PollIntervalMs        int `json:"pollIntervalMs"`
	} `json:"timeouts"`
}

// DeploymentConfig represents deployments.json.
type DeploymentConfig struct {
	ChainID   int64  `json:"chainId"`
	Deployer  string `json:"deployer"`
	Operator  string `json:"operator"`
	Contracts struct {
		RampServiceManager string `json:"RampServiceManager"`
		Stablecoin         string `json:"Stablecoin"`
	} `json:"contracts"`
}

// AppConfig ties together seed + deployment info and derived values.
type AppConfig struct {
	Seed       SeedConfig
	Deployment DeploymentConfig
	Service    ServiceConfig
	Chain      ChainConfig
	Retry      RetryConfig
}

type ServiceConfig struct {
	HTTPPort            int
	DatabaseDSN         string
	WorkerCount         int
	RescanInterval      time.Duration
	ConfirmationTimeout time.Duration
	PollInterval        time.Duration
}

type ChainConfig struct {
	RPCURL         string
	PrivateKey     string
	UserPrivateKey string
	StartBlock     uint64
}

type RetryConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier int
}

const (
	defaultSeedPath        = "seed.json"
	defaultDeploymentsPath = "deployments.json"
)

// Load aggregates configuration from disk and environment.
func Load() (*AppConfig, error) {
	seedPath := envOr("SEED_PATH", defaultSeedPath)
	deploymentsPath := envOr("DEPLOYMENTS_PATH", defaultDeploymentsPath)

	seedCfg, err := loadSeed(seedPath)
	if err != nil {
		return nil, fmt.Errorf("load seed: %w", err)
	}

	deployCfg, err := loadDeployments(deploymentsPath)
	if err != nil {
		return nil, fmt.Errorf("load deployments: %w", err)
	}

	serviceCfg := ServiceConfig{
		HTTPPort:            envOrInt("QUERY_HTTP_PORT", 3000),
		DatabaseDSN:         envOr("DATABASE_DSN", ""),
		WorkerCount:         envOrInt("RESPONDER_WORKERS", 4),
		RescanInterval:      time.Duration(envOrInt("RESCAN_INTERVAL_SECONDS", 300)) * time.Second,
		ConfirmationTimeout: time.Duration(msOr(seedCfg.Timeouts.ConfirmationTimeoutMs, 120000)) * time.Millisecond,
		PollInterval:        time.Duration(msOr(seedCfg.Timeouts.PollIntervalMs, 2000)) * time.Millisecond,
	}

	chainCfg := ChainConfig{
		RPCURL:         envOr("CHAIN_RPC_URL", seedCfg.Chain.RPCURL),
		PrivateKey:     envOr("CHAIN_PRIVATE_KEY", ""),
		UserPrivateKey: envOr("USER_PRIVATE_KEY", ""),
		StartBlock:     seedCfg.Chain.StartBlock,
	}

	retryCfg := RetryConfig{
		MaxAttempts:       seedCfg.Retry.MaxAttempts,
		InitialBackoff:    time.Duration(seedCfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:        time.Duration(seedCfg.Retry.MaxBackoffMs) * time.Millisecond,
		BackoffMultiplier: seedCfg.Retry.BackoffMultiplier,
	}

	return &AppConfig{
		Seed:       *seedCfg,
		Deployment: *deployCfg,
		Service:    serviceCfg,
		Chain:      chainCfg,
		Retry:      retryCfg,
	}, nil
}

func loadSeed(path string) (*SeedConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg SeedConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDeployments(path string) (*DeploymentConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg DeploymentConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
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

func msOr(val, fallback int) int {
	if val > 0 {
		return val
	}
	return fallback
}
