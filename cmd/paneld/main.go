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
	"path/filepath"
	"syscall"
	"time"

	"github.com/basket/panelbridge/internal/audit"
	"github.com/basket/panelbridge/internal/bridge"
	"github.com/basket/panelbridge/internal/bus"
	"github.com/basket/panelbridge/internal/config"
	"github.com/basket/panelbridge/internal/cron"
	"github.com/basket/panelbridge/internal/gateway"
	otelPkg "github.com/basket/panelbridge/internal/otel"
	"github.com/basket/panelbridge/internal/persistence"
	"github.com/basket/panelbridge/internal/session"
	"github.com/basket/panelbridge/internal/state"
	"github.com/basket/panelbridge/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func main() {
	quiet := flag.Bool("quiet", false, "log to file only, not stdout")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("paneld", Version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "paneld:", err)
		os.Exit(1)
	}

	if err := audit.Init(cfg.HomeDir); err != nil {
		fmt.Fprintln(os.Stderr, "paneld: audit init:", err)
		os.Exit(1)
	}
	defer audit.Close()

	logger, logCloser, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, *quiet)
	if err != nil {
		fmt.Fprintln(os.Stderr, "paneld: logger init:", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	if cfg.EphemeralSessionSecret {
		logger.Warn("no session secret configured; sessions will not survive a restart")
	}

	otelProvider, err := otelPkg.Init(ctx, cfg.OTEL)
	if err != nil {
		logger.Error("otel init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelProvider.Shutdown(shutdownCtx)
	}()
	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		logger.Error("metrics init failed", "error", err)
		os.Exit(1)
	}

	store, err := persistence.Open(persistence.DefaultDBPath(cfg.HomeDir))
	if err != nil {
		logger.Error("store open failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	audit.SetDB(store.DB())

	if err := bootstrapOwner(ctx, store, cfg.Auth.BootstrapUsername, logger); err != nil {
		logger.Error("owner bootstrap failed", "error", err)
		os.Exit(1)
	}

	// Bridge core: everything here is process-lifetime in-memory state.
	eventBus := bus.New()
	logs := state.NewLogStore(cfg.Bridge.LogCapacity)
	history := state.NewHistory(cfg.Bridge.HistoryCapacity)
	presence := state.NewPresence()
	registry := bridge.NewRegistry(cfg.CallTimeout())

	publisher := bridge.NewPublisher(bridge.PublisherConfig{
		UniverseID: cfg.Roblox.UniverseID,
		Topic:      cfg.Roblox.Topic,
		APIKey:     cfg.Roblox.APIKey,
		Timeout:    cfg.PublishTimeout(),
		Tracer:     otelProvider.Tracer,
	})
	dispatcher := bridge.NewDispatcher(bridge.DispatcherConfig{
		Publisher: publisher,
		Registry:  registry,
		History:   history,
		Bus:       eventBus,
		Secret:    cfg.PanelSecret,
		Logger:    logger,
		Tracer:    otelProvider.Tracer,
		Metrics:   metrics,
	})
	router, err := bridge.NewRouter(bridge.RouterConfig{
		Registry: registry,
		Logs:     logs,
		Presence: presence,
		Bus:      eventBus,
		Secret:   cfg.PanelSecret,
		Logger:   logger,
		Metrics:  metrics,
	})
	if err != nil {
		logger.Error("router init failed", "error", err)
		os.Exit(1)
	}

	sessions := session.NewManager(cfg.Auth.SessionSecret, cfg.SessionTTL())

	gw := gateway.New(gateway.Config{
		Dispatcher:        dispatcher,
		Router:            router,
		Registry:          registry,
		Logs:              logs,
		History:           history,
		Presence:          presence,
		Bus:               eventBus,
		Store:             store,
		Sessions:          sessions,
		Logger:            logger,
		Tracer:            otelProvider.Tracer,
		Metrics:           metrics,
		ConfigFingerprint: cfg.Fingerprint,
		StaticDir:         filepath.Join(cfg.HomeDir, "public"),
		LoginRatePerMin:   cfg.Auth.LoginRatePerMin,
		LoginBurst:        cfg.Auth.LoginBurst,
	})
	gw.Start(ctx)

	scheduler := cron.NewScheduler(cron.Config{
		Store:      store,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	scheduler.Start(ctx)
	defer scheduler.Stop()

	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher failed to start", "error", err)
	} else {
		go func() {
			for ev := range watcher.Events() {
				next, err := config.Load()
				if err != nil {
					logger.Error("config reload failed", "path", ev.Path, "error", err)
					continue
				}
				if next.Fingerprint() == cfg.Fingerprint() {
					continue
				}
				// Most settings need a restart to take effect; say so
				// instead of half-applying them.
				logger.Warn("config changed on disk; restart to apply",
					"old", cfg.Fingerprint(), "new", next.Fingerprint())
			}
		}()
	}

	server := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: gw.Handler(),
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.BindAddr, "ws", "/ws", "webhook", "/webhook/roblox")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("gateway server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	logger.Info("shutdown complete")
}

// bootstrapOwner creates the initial owner account on an empty accounts
// table and prints its one-time password to stdout.
func bootstrapOwner(ctx context.Context, store *persistence.Store, username string, logger *slog.Logger) error {
	n, err := store.CountUsers(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	user, password, err := store.CreateUser(ctx, username, session.RoleOwner)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("  owner account created")
	fmt.Printf("  username: %s\n", user.Username)
	fmt.Printf("  password: %s\n", password)
	fmt.Println("  write this password down now; it is not shown again")
	fmt.Println()

	logger.Info("owner account bootstrapped", "username", user.Username)
	audit.Record("admin.user.bootstrap", "system", "ok", user.Username)
	return nil
}
