package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jizhuozhi/go-future"
	"github.com/maxpert/binlogstream/admin"
	"github.com/maxpert/binlogstream/binlog"
	"github.com/maxpert/binlogstream/cfg"
	"github.com/maxpert/binlogstream/crypt"
	"github.com/maxpert/binlogstream/publisher"
	_ "github.com/maxpert/binlogstream/publisher/sink"
	_ "github.com/maxpert/binlogstream/publisher/transformer"
	"github.com/maxpert/binlogstream/stream"
	"github.com/maxpert/binlogstream/telemetry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	metricsInterval = 5 * time.Second
	drainTimeout    = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("node_id", cfg.Config.NodeID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("binlogstream - MySQL binlog event streaming")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	if len(cfg.Config.Streams) == 0 {
		log.Fatal().Msg("No streams configured, use [[streams]] or -binlog")
		return
	}

	keyring, err := loadKeyring()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load keyring")
		return
	}

	var registry *publisher.Registry
	var handler stream.Handler = logEvent
	if cfg.Config.Publisher.Enabled {
		log.Info().Int("sinks", len(cfg.Config.Publisher.Sinks)).Msg("Initializing publisher")
		registry, err = publisher.NewRegistry(publisher.RegistryConfig{
			DataDir:       cfg.Config.DataDir,
			NodeID:        cfg.Config.NodeID,
			Dedup:         cfg.Config.Publisher.Dedup,
			DedupCapacity: cfg.Config.Publisher.DedupCapacity,
			SinkConfigs:   cfg.Config.Publisher.Sinks,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize publisher")
			return
		}
		if err := registry.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start publisher")
			return
		}
		defer registry.Stop()
		handler = registry.Handle
	}

	manager := stream.NewManager(stream.OptionsFromConfig(cfg.Config, keyring), handler)

	collector := telemetry.NewMetricsCollector(manager, metricsInterval)
	collector.Start()
	defer collector.Stop()

	var adminServer *http.Server
	if cfg.Config.Admin.Enabled {
		adminServer = startAdminServer(manager, registry)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, s := range cfg.Config.Streams {
		watchStream(s.Name, manager.StartAt(ctx, s.Name, s.Path, s.StartPosition))
	}
	log.Info().
		Int("streams", len(cfg.Config.Streams)).
		Bool("follow", cfg.Config.Reader.Follow).
		Str("data_dir", cfg.Config.DataDir).
		Msg("Streaming started")

	done := make(chan struct{})
	go func() {
		manager.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("All streams finished")
		if registry != nil {
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			if err := registry.Drain(drainCtx); err != nil {
				log.Warn().Err(err).Msg("Publisher not fully drained, remaining records are delivered on restart")
			}
			cancel()
		}
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
		manager.StopAll()
	}

	if adminServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Admin server shutdown failed")
		}
		cancel()
	}
}

func loadKeyring() (crypt.Keyring, error) {
	if !cfg.Config.Encryption.Enabled {
		return nil, nil
	}
	kr, err := crypt.LoadFileKeyring(cfg.Config.Encryption.KeyringPath, cfg.Config.Encryption.KeyCacheSize)
	if err != nil {
		return nil, err
	}
	log.Info().Uints32("versions", kr.Versions()).Msg("Loaded encryption keyring")
	return kr, nil
}

func startAdminServer(manager *stream.Manager, registry *publisher.Registry) *http.Server {
	var pub admin.PublisherStats
	if registry != nil {
		pub = registry
	}

	mux := http.NewServeMux()
	admin.RegisterRoutes(mux, admin.NewAdminHandlers(manager, pub))

	addr := fmt.Sprintf("%s:%d", cfg.Config.Admin.BindAddress, cfg.Config.Admin.Port)
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info().Str("addr", addr).Msg("Admin server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Admin server failed")
		}
	}()
	return server
}

// watchStream logs how a stream ended
func watchStream(name string, f *future.Future[stream.Summary]) {
	go func() {
		sum, err := f.Get()
		if err != nil {
			log.Error().Err(err).Str("stream", name).Uint64("position", sum.Position).Msg("Stream ended with error")
			return
		}
		log.Info().
			Str("stream", name).
			Str("state", string(sum.State)).
			Uint64("events", sum.Events).
			Uint64("position", sum.Position).
			Msg("Stream finished")
	}()
}

// logEvent is the handler when no publisher is configured
func logEvent(_ context.Context, name, path string, offset uint64, ev binlog.Event) error {
	h := ev.Header()
	log.Info().
		Str("stream", name).
		Str("file", path).
		Uint64("offset", offset).
		Str("type", h.Type.String()).
		Uint32("server_id", h.ServerID).
		Uint32("length", h.EventLen).
		Msg("Event")
	return nil
}
