package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rzzdr/warrant-risk-engine/config"
	"github.com/rzzdr/warrant-risk-engine/internal/kafka"
	"github.com/rzzdr/warrant-risk-engine/internal/marketdata"
	"github.com/rzzdr/warrant-risk-engine/internal/portfolio"
	"github.com/rzzdr/warrant-risk-engine/internal/pricing"
	"github.com/rzzdr/warrant-risk-engine/internal/risk"
	"github.com/rzzdr/warrant-risk-engine/pkg/api"
	"github.com/rzzdr/warrant-risk-engine/pkg/metrics"
	"github.com/rzzdr/warrant-risk-engine/pkg/models"
	"github.com/rzzdr/warrant-risk-engine/pkg/utils/logger"
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger.Init(cfg.App.LogLevel, cfg.App.Environment)
	log := logger.GetLogger("risk-engine.main")
	log.Infof("Starting %s", cfg.App.Name)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recorder := metrics.NewRecorder()

	// Market data: simulated upstream behind the TTL cache. Swapping in
	// a live exchange feed means replacing the upstream only.
	upstream := marketdata.NewSimulatedProvider(0.0376)
	provider := marketdata.NewCachedProvider(
		upstream,
		cfg.MarketData.SnapshotTTL,
		cfg.MarketData.RequestTimeout,
		cfg.MarketData.RetryBackoff,
	)

	calibrations := marketdata.NewCalibrationCache(
		cfg.MarketData.CalibrationTTL,
		models.HestonParameters{
			Kappa: cfg.Heston.Fallback.Kappa,
			Theta: cfg.Heston.Fallback.Theta,
			Sigma: cfg.Heston.Fallback.Sigma,
			Rho:   cfg.Heston.Fallback.Rho,
			V0:    cfg.Heston.Fallback.V0,
		},
	)

	greeksEngine := pricing.NewGreeksEngine()
	hestonPricer := pricing.NewHestonPricer(
		pricing.WithGrid(cfg.Heston.DampingAlpha, cfg.Heston.GridEta, cfg.Heston.GridSize),
	)
	calibrator := pricing.NewHestonCalibrator(hestonPricer, cfg.Heston.MaxIterations, cfg.Heston.Tolerance)

	warrants := portfolio.NewWarrantStore()
	aggregator := portfolio.NewAggregator(warrants, provider, greeksEngine)

	varEngine := risk.NewMonteCarloRiskEngine(provider, cfg.Risk.HistoricalDays, cfg.Risk.SimWorkers)
	covEngine := risk.NewCovarianceVaREngine()
	stressEngine := risk.NewStressTestEngine()

	var publisher *kafka.RiskPublisher
	if cfg.Kafka.Enabled {
		publisher = kafka.NewRiskPublisher(cfg.Kafka)
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Errorf("Kafka publisher shutdown error: %v", err)
			}
		}()
	}

	handlers := api.CreateHandlers(api.HandlerDeps{
		Warrants:     warrants,
		Aggregator:   aggregator,
		Provider:     provider,
		GreeksEngine: greeksEngine,
		Calibrator:   calibrator,
		Calibrations: calibrations,
		VaREngine:    varEngine,
		CovEngine:    covEngine,
		StressEngine: stressEngine,
		Publisher:    publisher,
		Recorder:     recorder,
	})
	server := api.NewServer(*cfg, handlers, recorder)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Infof("Received signal %v, initiating shutdown", sig)
	case err := <-errCh:
		if err != nil {
			log.Errorf("API server error: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.API.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Errorf("API server shutdown error: %v", err)
	}

	log.Info("Shutdown complete")
}
