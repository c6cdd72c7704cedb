package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ramprails/internal/chain"
	"ramprails/internal/compliance"
	"ramprails/internal/config"
	"ramprails/internal/contracts"
	"ramprails/internal/query"
	"ramprails/internal/responder"
	"ramprails/internal/store"

	"github.com/sirupsen/logrus"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if cfg.Chain.PrivateKey == "" {
		log.Fatal("CHAIN_PRIVATE_KEY is required")
	}
	if cfg.Chain.UserPrivateKey == "" {
		log.Fatal("USER_PRIVATE_KEY is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var st store.Store = store.NewMemoryStore()
	if cfg.Service.DatabaseDSN != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.Service.DatabaseDSN)
		if err != nil {
			log.Fatalf("postgres store error: %v", err)
		}
		defer pg.Close()
		st = pg
	}

	operatorNonces := chain.NewNonceSequencer()
	userNonces := chain.NewNonceSequencer()

	manager, err := chain.NewEthClient(ctx, chain.EthClientConfig{
		RPCURL:              cfg.Chain.RPCURL,
		PrivateKeyHex:       cfg.Chain.PrivateKey,
		ContractAddress:     cfg.Deployment.Contracts.RampServiceManager,
		ABI:                 contracts.RampServiceManagerABI,
		ConfirmationTimeout: cfg.Service.ConfirmationTimeout,
		PollInterval:        cfg.Service.PollInterval,
		Nonces:              operatorNonces,
	}, log)
	if err != nil {
		log.Fatalf("manager client error: %v", err)
	}

	userManager, err := chain.NewEthClient(ctx, chain.EthClientConfig{
		RPCURL:              cfg.Chain.RPCURL,
		PrivateKeyHex:       cfg.Chain.UserPrivateKey,
		ContractAddress:     cfg.Deployment.Contracts.RampServiceManager,
		ABI:                 contracts.RampServiceManagerABI,
		ConfirmationTimeout: cfg.Service.ConfirmationTimeout,
		PollInterval:        cfg.Service.PollInterval,
		Nonces:              userNonces,
	}, log)
	if err != nil {
		log.Fatalf("user manager client error: %v", err)
	}

	token, err := chain.NewEthClient(ctx, chain.EthClientConfig{
		RPCURL:              cfg.Chain.RPCURL,
		PrivateKeyHex:       cfg.Chain.UserPrivateKey,
		ContractAddress:     cfg.Deployment.Contracts.Stablecoin,
		ABI:                 contracts.StablecoinABI,
		ConfirmationTimeout: cfg.Service.ConfirmationTimeout,
		PollInterval:        cfg.Service.PollInterval,
		Nonces:              userNonces,
	}, log)
	if err != nil {
		log.Fatalf("token client error: %v", err)
	}

	var gate *compliance.Gate
	if cfg.Seed.Compliance.GateURL != "" {
		timeout := time.Duration(cfg.Seed.Compliance.TimeoutMs) * time.Millisecond
		gate = compliance.NewGate(cfg.Seed.Compliance.GateURL, timeout, log)
	}

	metrics := query.NewMetrics()

	resp := responder.New(st, manager, userManager, token, manager, gate, responder.Config{
		Workers:        cfg.Service.WorkerCount,
		Retry:          cfg.Retry,
		RescanInterval: cfg.Service.RescanInterval,
		UserAddress:    userManager.From().Hex(),
		ManagerAddress: cfg.Deployment.Contracts.RampServiceManager,
		SourceOfFunds:  cfg.Seed.Compliance.SourceOfFunds,
	}, log, metrics)

	errCh := make(chan error, 1)
	go func() { errCh <- resp.Run(ctx) }()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-ch:
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			log.Fatalf("responder stopped: %v", err)
		}
	}
}
