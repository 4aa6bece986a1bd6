// Command eventd runs the connection dispatcher as a standalone server,
// reproducing the original WebServer's construction sequence
// (init -> log_write -> sql_pool -> thread_pool -> trig_mode -> eventListen
// -> loop) as an explicit, ordered startup in Go.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/drk-ng/eventd/internal/config"
	"github.com/drk-ng/eventd/internal/dbpool"
	"github.com/drk-ng/eventd/internal/dispatcher"
	"github.com/drk-ng/eventd/internal/logging"
	"github.com/drk-ng/eventd/internal/metrics"
	"github.com/drk-ng/eventd/internal/protocol"
)

const dbPingTimeout = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to the server's YAML configuration file")
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "eventd: %v\n", err)
			return 1
		}
		cfg = loaded
	} else if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "eventd: %v\n", err)
		return 1
	}

	log, err := logging.Init(cfg.LogLevel == "debug")
	if err != nil {
		fmt.Fprintf(os.Stderr, "eventd: logging init: %v\n", err)
		return 1
	}
	defer log.Sync()

	reg := prometheus.NewRegistry()
	reporter := metrics.NewRegistry(reg)
	go serveMetrics(cfg.MetricsAddr, reg, log)

	var pool *dbpool.Pool
	if cfg.SQLConnN > 0 && cfg.DBName != "" {
		pool, err = dbpool.Open(dbpool.Config{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPass,
			DBName:   cfg.DBName,
			PoolSize: cfg.SQLConnN,
		})
		if err != nil {
			log.Error("db pool open failed", zap.Error(err))
			return 1
		}
		defer pool.Close()
		if err := pool.PingTimeout(dbPingTimeout); err != nil {
			log.Error("db pool ping failed", zap.Error(err))
			return 1
		}
	}

	disp, err := dispatcher.New(dispatcher.Options{
		Config:         cfg,
		HandlerFactory: func() protocol.Handler { return protocol.NewLineEcho() },
		DB:             pool,
		Metrics:        reporter,
		Log:            log,
	})
	if err != nil {
		log.Error("dispatcher construction failed", zap.Error(err))
		return 1
	}

	if *configPath != "" {
		watcher, err := config.WatchSafe(*configPath, func(logLevel string, optLinger int) {
			if err := logging.SetLevel(logLevel); err != nil {
				log.Warn("live config reload: log level", zap.Error(err))
			}
			if err := disp.SetLinger(optLinger); err != nil {
				log.Warn("live config reload: linger", zap.Error(err))
			}
		})
		if err != nil {
			log.Warn("config watcher not started", zap.Error(err))
		} else {
			defer watcher.Close()
		}
	}

	log.Info("eventd starting",
		zap.Int("port", cfg.Port),
		zap.Int("trig_mode", cfg.TrigMode),
		zap.Int("actor_model", cfg.ActorModel),
		zap.Int("thread_n", cfg.ThreadN),
	)
	if err := disp.Run(); err != nil {
		log.Error("dispatcher exited with error", zap.Error(err))
		return 1
	}
	log.Info("eventd stopped cleanly")
	return 0
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server stopped", zap.Error(err))
	}
}
