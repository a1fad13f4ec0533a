// Command ckgd is the main entry point for the constitutive-knowledge-graph
// engine daemon: it loads configuration, wires the postgres store and oracle
// providers, constructs the dissonance/SMF/IEF/retrieval/session engines, and
// serves health and readiness checks until signalled to stop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/ethrdev/cognitive-memory-sub004/internal/config"
	"github.com/ethrdev/cognitive-memory-sub004/internal/health"
	"github.com/ethrdev/cognitive-memory-sub004/internal/observe"
	"github.com/ethrdev/cognitive-memory-sub004/internal/reviewstream"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg/decay"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg/dissonance"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg/ief"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg/postgres"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg/retrieval"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg/session"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg/smf"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/embeddinggateway"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "ckgd: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "ckgd: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("ckgd starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "ckgd"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Error("telemetry shutdown error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildEngineProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build oracle providers", "err", err)
		return 1
	}

	gateway := embeddinggateway.New(providers.Embeddings, embeddinggateway.Config{
		MaxRetries:    cfg.Retry.MaxRetries,
		BaseDelay:     time.Duration(cfg.Retry.BaseDelaySecond * float64(time.Second)),
		JitterEnabled: cfg.Retry.JitterEnabled,
	})

	store, err := postgres.NewStore(ctx, cfg.Store.PostgresDSN, cfg.Store.EmbeddingDimensions, 0)
	if err != nil {
		slog.Error("failed to open store", "err", err)
		return 1
	}
	defer store.Close()

	decayTable := make(decay.Table, len(cfg.Decay.Sectors))
	for sectorName, sd := range cfg.Decay.Sectors {
		decayTable[ckg.Sector(sectorName)] = decay.SectorParams{SBase: sd.SBase, SFloor: sd.SFloor}
	}
	scorer := decay.NewScorer(ctx, decayTable)

	smfEngine := smf.New(store, providers.Neutrality, cfg.SMF.ApprovalTimeoutHours, cfg.SMF.UndoRetentionDays)
	reviewBroadcaster := smf.NewBroadcaster()
	smfEngine.SetBroadcaster(reviewBroadcaster)

	eng := &engine{
		store:      store,
		dissonance: dissonance.New(store, providers.Classifier),
		smf:        smfEngine,
		ief:        ief.New(store, providers.Judge, scorer, cfg.IEF.ConstitutiveWeight),
		retrieval:  retrieval.New(store, gateway, cfg.Retrieval.RelationalKeywords),
	}
	eng.session = session.New(store, gateway, eng.smf, cfg.Store.WorkingMemoryCapacity)

	healthHandler := health.New(health.Checker{
		Name:  "store",
		Check: eng.checkStore,
	})

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler.Healthz)
	mux.HandleFunc("/readyz", healthHandler.Readyz)
	mux.Handle("/smf/stream", reviewstream.NewHandler(reviewBroadcaster))

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	slog.Info("ckgd ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			slog.Error("server error", "err", err)
			return 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// engine bundles the constructed CKG subsystems. The host-process transport
// that would route external requests onto their methods is out of scope
// here (§1 Non-goals) — this daemon's job ends at wiring them together,
// keeping the store reachable, and serving the read-only SMF review stream
// (reviewstream) that doesn't require such a transport.
type engine struct {
	store      *postgres.Store
	dissonance *dissonance.Engine
	smf        *smf.Engine
	ief        *ief.Engine
	retrieval  *retrieval.Engine
	session    *session.Engine
}

// checkStore is the readiness checker for the "store" dependency: any error
// other than not-found on a round trip to the graph store means the pool is
// unreachable.
func (e *engine) checkStore(ctx context.Context) error {
	_, err := e.store.GetNode(ctx, "__healthcheck__", "__healthcheck__")
	if err != nil && ckg.KindOf(err) != ckg.KindNotFound {
		return err
	}
	return nil
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogLevelDebug:
		lvl = slog.LevelDebug
	case config.LogLevelWarn:
		lvl = slog.LevelWarn
	case config.LogLevelError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
