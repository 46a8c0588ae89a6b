package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/quadwatch/quadwatch/internal/config"
	"github.com/quadwatch/quadwatch/internal/logger"
	"github.com/quadwatch/quadwatch/internal/player"
	"github.com/quadwatch/quadwatch/internal/ptz"
	"github.com/quadwatch/quadwatch/internal/registry"
	"github.com/quadwatch/quadwatch/internal/server"
	"github.com/quadwatch/quadwatch/internal/supervisor"
	"github.com/quadwatch/quadwatch/pkg/version"
)

func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "configs/default.yaml", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Parse()

	if showVersion {
		fmt.Println(version.GetInfo().String())
		os.Exit(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.WithField("version", version.GetInfo().Short()).Info("Starting quadwatch session supervisor")
	log.WithField("config_path", configPath).Debug("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional status registry.
	var redisClient *redis.Client
	var publisher supervisor.StatusPublisher
	if cfg.Registry.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Registry.RedisAddr,
			Password: cfg.Registry.RedisPassword,
			DB:       cfg.Registry.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.WithError(err).Fatal("Failed to connect to Redis")
		}
		log.Info("Connected to Redis successfully")
		publisher = registry.NewRedisRegistry(redisClient, log, cfg.Registry.TTL)
	}

	if cfg.Metrics.Enabled {
		go startMetricsServer(cfg.Metrics, log)
	}

	backend := player.NewProcessBackend(player.ProcessOptions{
		Command: cfg.Player.Command,
		Args:    cfg.Player.ExtraArgs,
		Mixer:   player.NewPactlMixer(),
	}, logger.NewLogrusAdapter(logrus.NewEntry(log)))

	serializer := ptz.NewSerializer(
		ptz.OnvifResolver(),
		cfg.PTZ.Port,
		logger.NewLogrusAdapter(logger.WithComponent(log, "ptz")),
	)

	store := config.NewStore(configPath)
	sup := supervisor.New(cfg.StreamConfigs(), supervisor.Options{
		Backend:   backend,
		Store:     store,
		Publisher: publisher,
		PTZ:       serializer,
		FallbackResolution: player.Resolution{
			Width:  cfg.Player.FallbackWidth,
			Height: cfg.Player.FallbackHeight,
		},
		Logger: logger.NewLogrusAdapter(logger.WithComponent(log, "supervisor")),
	})
	if err := sup.Start(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start sessions")
	}

	// Watch the config file and restart sessions on real changes. The
	// supervisor ignores reloads whose effective stream configs match the
	// live ones, which covers our own quality-downgrade writes.
	watcher := config.NewWatcher(configPath, log, func(next *config.Config) {
		if err := sup.Reconfigure(ctx, next.StreamConfigs()); err != nil {
			log.WithError(err).Error("Reconfigure failed")
		}
	})
	go func() {
		if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("Config watcher stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	if cfg.API.Enabled {
		srv := server.New(&cfg.API, log, sup, redisClient)
		srv.SetReloadFunc(func(reloadCtx context.Context) error {
			next, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return sup.Reconfigure(reloadCtx, next.StreamConfigs())
		})
		if err := srv.Start(ctx); err != nil {
			log.WithError(err).Error("Control server error")
			cancel()
		}
	} else {
		<-ctx.Done()
	}

	sup.Stop()
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.WithError(err).Error("Failed to close Redis connection")
		}
	}
	log.Info("Shutdown complete")
}

// startMetricsServer serves the Prometheus endpoint on its own port.
func startMetricsServer(cfg config.MetricsConfig, log *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.WithField("addr", addr).Info("Starting metrics server")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Error("Metrics server error")
	}
}
