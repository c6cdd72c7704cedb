package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ramprails/internal/chain"
	"ramprails/internal/config"
	"ramprails/internal/contracts"
	"ramprails/internal/indexer"
	"ramprails/internal/query"
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

	chainClient, err := chain.NewEthClient(ctx, chain.EthClientConfig{
		RPCURL:          cfg.Chain.RPCURL,
		ContractAddress: cfg.Deployment.Contracts.RampServiceManager,
		ABI:             contracts.RampServiceManagerABI,
		PollInterval:    cfg.Service.PollInterval,
	}, log)
	if err != nil {
		log.Fatalf("chain client error: %v", err)
	}

	metrics := query.NewMetrics()
	ix := indexer.New(st, log, metrics)

	stream, err := chainClient.Subscribe(ctx, cfg.Chain.StartBlock)
	if err != nil {
		log.Fatalf("subscribe error: %v", err)
	}
	go ix.Run(ctx, stream)

	apiServer := query.NewServer(cfg, st, metrics, log)
	apiServer.SetRPCHealth(chainClient.Ping)

	go func() {
		if err := apiServer.Start(); err != nil {
			log.Printf("server stopped: %v", err)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = apiServer.Shutdown(shutdownCtx)
}
