package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"gridflow/config"
	"gridflow/exchange/binance"
	"gridflow/exchange/bybit"
	"gridflow/internal/channel"
	"gridflow/internal/maker"
	"gridflow/internal/metrics"
	"gridflow/internal/quoter"
	"gridflow/internal/state"
	"gridflow/logger"
	"gridflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Gridflow.Name,
		"version":     cfg.Gridflow.Version,
		"environment": config.AppEnvironment(),
		"exchange":    cfg.Exchange,
		"symbols":     cfg.Symbols,
	}).Info("starting gridflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Logging.DashboardName != "" {
		logger.InitCloudWatch(cfg.Storage.S3.Region, cfg.Gridflow.Name, cfg.Logging.DashboardName)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}
	if cfg.Metrics.Prometheus {
		metrics.Init()
	}

	st, err := state.New(cfg.Exchange)
	if err != nil {
		log.WithError(err).Error("failed to create shared state")
		os.Exit(1)
	}
	st.AddSymbols(cfg.Symbols...)
	for _, key := range cfg.APIKeys {
		if err := st.AddClients(key.Key, key.Secret, key.Symbol, key.Exchange); err != nil {
			log.WithError(err).Error("failed to register client for ", key.Symbol)
			os.Exit(1)
		}
	}

	switch cfg.Exchange {
	case config.ExchangeBybit:
		st.RegisterSource(bybit.NewSource())
	case config.ExchangeBinance:
		st.RegisterSource(binance.NewSource())
	case config.ExchangeBoth:
		st.RegisterSource(bybit.NewSource())
		st.RegisterSource(binance.NewSource())
	}

	clients := make(map[string]quoter.OrderManager)
	for _, cred := range st.Clients("") {
		switch cred.Exchange {
		case state.ExchangeBybit:
			clients[cred.Symbol] = bybit.NewOrderManager(cred.Key, cred.Secret)
		case state.ExchangeBinance:
			clients[cred.Symbol] = binance.NewOrderManager(cred.Key, cred.Secret)
		}
	}

	balances := make(map[string]float64, len(cfg.Symbols))
	spreads := make(map[string]float64, len(cfg.Symbols))
	for i, symbol := range cfg.Symbols {
		balances[symbol] = cfg.BalanceFor(symbol)
		if i < len(cfg.Trading.SpreadBps) {
			spreads[symbol] = cfg.Trading.SpreadBps[i]
		}
	}

	m := maker.New(ctx, st, maker.Config{
		Balances:           balances,
		Leverage:           cfg.Trading.Leverage,
		OrdersPerSide:      cfg.Trading.OrdersPerSide,
		FinalOrderDistance: cfg.Trading.FinalOrderDistance,
		Depths:             cfg.Features.Depths,
		TickWindow:         cfg.Features.TickWindow,
		UseWmid:            cfg.Features.UseWmid,
		Policy:             quoter.Policy(cfg.Trading.InventoryPolicy),
		MeanRevertStrength: cfg.Trading.MeanRevertStrength,
		RebalanceRatio:     cfg.Trading.RebalanceRatio,
		RateLimit:          cfg.RateLimit.Actions,
		CancelLimit:        cfg.RateLimit.Cancels,
		TimeLimit:          cfg.RateLimit.TimeLimit(),
		SpreadBps:          spreads,
	}, clients)

	var featureWriter *writer.FeatureWriter
	if cfg.Writer.Enabled && cfg.Storage.S3.Enabled {
		featureWriter, err = writer.NewFeatureWriter(cfg)
		if err != nil {
			log.WithError(err).Error("failed to create feature writer")
			os.Exit(1)
		}
		if err := featureWriter.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start feature writer")
			os.Exit(1)
		}
		m.SetRecorder(featureWriter)
	} else {
		log.WithComponent("main").Info("feature archival disabled")
	}

	queue := channel.NewUnbounded()
	if cfg.Metrics.ChannelSize {
		go queue.StartMetricsReporting(ctx, 30*time.Second)
	}

	go func() {
		if err := st.Load(ctx, queue); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("ingestion loop failed")
			cancel()
		}
	}()
	go func() {
		if err := m.Run(ctx, queue); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("market maker loop failed")
			cancel()
		}
	}()

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case <-ctx.Done():
		log.Warn("component failure, shutting down")
	}

	log.Info("starting graceful shutdown")

	// Pull resting orders before tearing the streams down.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	m.Shutdown(shutdownCtx)
	shutdownCancel()

	cancel()
	queue.Close()

	if featureWriter != nil {
		log.Info("stopping feature writer")
		featureWriter.Stop()
	}

	log.Info("shutdown complete")
}
