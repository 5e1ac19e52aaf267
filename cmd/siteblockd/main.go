// Package main is the enforcement daemon: it watches a browser over the
// DevTools protocol and applies the block list to every navigation.
package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haukened/siteblock/internal/siteblock/common/clock"
	"github.com/haukened/siteblock/internal/siteblock/common/log"
	"github.com/haukened/siteblock/internal/siteblock/config"
	"github.com/haukened/siteblock/internal/siteblock/gateways/cdp"
	"github.com/haukened/siteblock/internal/siteblock/gateways/messaging"
	"github.com/haukened/siteblock/internal/siteblock/repos/blocklist"
	"github.com/haukened/siteblock/internal/siteblock/repos/blocklist/bloom"
	"github.com/haukened/siteblock/internal/siteblock/repos/blocklist/lru"
	"github.com/haukened/siteblock/internal/siteblock/repos/kvstore/bolt"
	"github.com/haukened/siteblock/internal/siteblock/services/deletion"
	"github.com/haukened/siteblock/internal/siteblock/services/enforcer"
	"github.com/haukened/siteblock/internal/siteblock/services/matcher"
)

const (
	appName = "siteblockd"

	defaultQueueSize       = 64
	defaultBrokerWorkers   = 2
	defaultShutdownTimeout = 10 * time.Second
)

// Version is set via ldflags.
var Version = "0.1.0-dev"

// browserGateway is the part of the browser the daemon drives.
type browserGateway interface {
	Run(ctx context.Context, h cdp.Handler) error
	OpenURL(ctx context.Context, url string, h cdp.Handler) error
	CloseTab(ctx context.Context, req messaging.Request) messaging.Response
	Close() error
}

// openBrowser connects to the configured browser.
var openBrowser = func(cfg config.BrowserConfig, logger log.Logger) (browserGateway, error) {
	return cdp.Open(cdp.Options{
		Host:    cfg.Host,
		Port:    strconv.Itoa(cfg.Port),
		Launch:  cfg.Launch,
		Path:    cfg.Path,
		Profile: cfg.Profile,
		Logger:  logger,
	})
}

// Application holds all the components of the daemon.
type Application struct {
	config   *config.AppConfig
	store    *bolt.Store
	engine   *matcher.Engine
	sweeper  *deletion.Sweeper
	broker   *messaging.Broker
	enforcer *enforcer.Enforcer
	browser  browserGateway
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Site blocker enforcement daemon",
	Long: `siteblockd attaches to Chrome over the DevTools protocol and holds every
top-level navigation until it is checked against the block list. Blocked
pages are redirected, closed or replaced with a warning.

Configuration comes from SITEBLOCK_* environment variables.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return err
	}

	if err := log.Configure(cfg.Env, cfg.Log.Level); err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		return err
	}

	log.Info(map[string]any{
		"version":   Version,
		"env":       cfg.Env,
		"log_level": cfg.Log.Level,
		"store":     cfg.Store.Path,
		"browser":   fmt.Sprintf("%s:%d", cfg.Browser.Host, cfg.Browser.Port),
		"launch":    cfg.Browser.Launch,
	}, "Starting siteblock daemon")

	app, err := buildApplication(cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err}, "Failed to build application")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info(map[string]any{"signal": sig.String()}, "Shutdown signal received")
		cancel()
	}()

	if err := app.Run(ctx); err != nil {
		log.Fatal(map[string]any{"error": err}, "Daemon failed")
	}

	log.Info(nil, "siteblock daemon stopped gracefully")
	return nil
}

// buildApplication constructs all components and wires them together.
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	clk := clock.RealClock{}
	logger := log.GetLogger()

	repos, err := buildRepositories(cfg, clk, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build repositories: %w", err)
	}

	engine := matcher.NewEngine(repos.blocklist, matcher.Options{
		Cache:  repos.decisions,
		Bloom:  bloom.NewFactory(),
		FPRate: cfg.Matcher.Bloom.FP,
		Logger: log.Component("matcher"),
	})

	deletions := deletion.New(repos.blocklist, deletion.Options{
		Clock:  clk,
		Logger: log.Component("deletion"),
	})
	sweeper := deletion.NewSweeper(deletions, cfg.Deletion.SweepInterval)
	sweeper.OnSweep(func(removed []string) {
		log.Info(map[string]any{"removed": removed}, "Pending deletions finalized")
	})

	browser, err := openBrowser(cfg.Browser, log.Component("browser"))
	if err != nil {
		_ = repos.store.Close()
		return nil, fmt.Errorf("failed to open browser: %w", err)
	}

	broker := messaging.NewBroker(defaultQueueSize, log.Component("messaging"))
	broker.Handle(messaging.ActionCloseTab, browser.CloseTab)

	enf := enforcer.New(engine, repos.blocklist, broker, enforcer.Options{
		ContainInterval: cfg.Enforcer.ContainInterval,
		CloseTimeout:    cfg.Enforcer.CloseTimeout,
		Logger:          log.Component("enforcer"),
	})

	return &Application{
		config:   cfg,
		store:    repos.store,
		engine:   engine,
		sweeper:  sweeper,
		broker:   broker,
		enforcer: enf,
		browser:  browser,
	}, nil
}

// repositories holds all repository implementations
type repositories struct {
	store     *bolt.Store
	blocklist *blocklist.Repository
	decisions blocklist.DecisionCache
}

// buildRepositories opens the block store and the decision cache.
func buildRepositories(cfg *config.AppConfig, clk clock.Clock, logger log.Logger) (*repositories, error) {
	store, err := bolt.New(bolt.Options{
		Path:         cfg.Store.Path,
		Timeout:      cfg.Store.Timeout,
		PollInterval: cfg.Store.Poll,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open block store: %w", err)
	}

	size := cfg.Matcher.Cache.Size
	if size > math.MaxInt32 {
		_ = store.Close()
		return nil, fmt.Errorf("cache size too large: %d (max %d)", size, math.MaxInt32)
	}
	decisions, err := lru.New(int(size))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create decision cache: %w", err)
	}
	if size == 0 {
		log.Info(map[string]any{"disabled": true}, "Decision caching disabled")
	} else {
		log.Info(map[string]any{"type": "LRU", "size": size}, "Decision cache configured")
	}

	repo := blocklist.New(store, blocklist.Options{Clock: clk, Logger: logger})
	stats, err := repo.Stats()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to read block store: %w", err)
	}
	log.Info(map[string]any{
		"path":    cfg.Store.Path,
		"entries": stats.Entries,
		"pending": stats.Pending,
	}, "Block store opened")

	return &repositories{store: store, blocklist: repo, decisions: decisions}, nil
}

// handle enforces the block list on one paused navigation.
func (app *Application) handle(ctx context.Context, nav *cdp.Navigation) {
	if _, err := app.enforcer.Enforce(ctx, nav); err != nil {
		log.Warn(map[string]any{"tab": nav.TabID(), "url": nav.URL(), "error": err}, "Enforcement failed")
	}
}

// Run starts every background loop and blocks until ctx is cancelled.
func (app *Application) Run(ctx context.Context) error {
	if err := app.engine.Refresh(); err != nil {
		return fmt.Errorf("failed to load block list: %w", err)
	}

	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				log.Error(map[string]any{"loop": name, "error": err}, "Background loop stopped")
			}
		}()
	}

	start("matcher", app.engine.Run)
	start("sweeper", app.sweeper.Run)
	start("messaging", func(ctx context.Context) error {
		app.broker.Run(ctx, defaultBrokerWorkers)
		return nil
	})
	start("browser", func(ctx context.Context) error {
		return app.browser.Run(ctx, app.handle)
	})

	if url := app.config.Browser.StartURL; url != "" {
		if err := app.browser.OpenURL(ctx, url, app.handle); err != nil {
			log.Warn(map[string]any{"url": url, "error": err}, "Failed to open start page")
		}
	}

	log.Info(map[string]any{"store": app.config.Store.Path}, "siteblock daemon started")

	<-ctx.Done()

	log.Info(nil, "Shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		log.Info(nil, "Graceful shutdown completed")
	case <-shutdownCtx.Done():
		log.Warn(map[string]any{"timeout": defaultShutdownTimeout}, "Shutdown timeout exceeded")
		err = fmt.Errorf("shutdown timeout")
	}

	if cerr := app.browser.Close(); cerr != nil {
		log.Warn(map[string]any{"error": cerr}, "Error closing browser")
	}
	if cerr := app.store.Close(); cerr != nil {
		log.Warn(map[string]any{"error": cerr}, "Error closing block store")
	}
	return err
}
