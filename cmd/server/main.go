// Command server runs the tick ingestion and broadcast service.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tickstream/internal/config"
	"tickstream/internal/engine"
	"tickstream/internal/fanout"
	"tickstream/internal/metrics"
	"tickstream/internal/resolver"
	"tickstream/internal/series"
	"tickstream/internal/server"
	"tickstream/internal/subs"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg = config.Default()
		} else {
			println("configuration error:", err.Error())
			os.Exit(1)
		}
	}

	log := config.NewLogger(cfg)
	log.Info().Str("version", cfg.App.Version).Msg("starting")

	registry := prometheus.NewRegistry()
	met := metrics.New(registry)

	store := series.NewStore(series.Config{
		Interval:       cfg.CandleInterval(),
		RingCapacity:   cfg.Candles.RingCapacity,
		HistoryCap:     cfg.Candles.HistoryCap,
		ResampleWindow: cfg.Candles.ResampleWindow,
		RecentLimit:    cfg.Candles.RecentLimit,
	})
	subscriptions := subs.NewRegistry()
	fan := fanout.New(fanout.Config{
		QueueSize:   cfg.Fanout.QueueSize,
		SendTimeout: time.Duration(cfg.Fanout.SendTimeoutSec) * time.Second,
	}, log, met)
	eng := engine.New(store, subscriptions, fan, met, log)
	res := resolver.NewStatic(cfg.Instruments)
	srv := server.New(cfg, eng, fan, res, registry, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		err := eng.RunFeed(ctx, engine.FeedConfig{
			Endpoint:        cfg.Feed.Endpoint,
			TLSInsecureSkip: cfg.Feed.TLSInsecureSkip,
			ReconnectMin:    time.Duration(cfg.Feed.ReconnectMinSec) * time.Second,
			ReconnectMax:    time.Duration(cfg.Feed.ReconnectMaxSec) * time.Second,
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("feed loop exited")
		}
	}()

	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("http server failed")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown error")
	}
	fan.Close()

	log.Info().Msg("shutdown complete")
}
