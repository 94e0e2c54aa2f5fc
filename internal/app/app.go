package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"chatmon/pkg/ai"
	"chatmon/pkg/bridge"
	"chatmon/pkg/config"
	"chatmon/pkg/directory"
	"chatmon/pkg/erp"
	"chatmon/pkg/logger"
	"chatmon/pkg/registry"
	"chatmon/pkg/resolve"
	"chatmon/pkg/source"
	"chatmon/pkg/state"
	"chatmon/pkg/store"
	"chatmon/pkg/watch"

	"chatmon/internal/summary"
)

// directoryRefreshInterval is how often the identity snapshot is replaced.
const directoryRefreshInterval = 5 * time.Minute

// autoResolveDefault reads resolver.auto_resolve; unset means on.
func autoResolveDefault(c config.ResolverConfig) bool {
	return c.AutoResolve == nil || *c.AutoResolve
}

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	src     *source.SQLite
	sink    *bridge.Client
	reg     *registry.Registry
	dir     *directory.Directory
	coord   *resolve.Coordinator
	watcher *watch.Watcher
	erpc    *erp.Client

	srv *http.Server
}

// New initializes everything that does not need a running context: config
// validation, state dirs, the action journal, the message log, and the
// component graph. Call Run to start the loops and the HTTP server.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := validateConfig(eff); err != nil {
		return nil, err
	}
	cfg := eff.Config
	if cfg.Watch.AITag == "" {
		cfg.Watch.AITag = "#claude"
	}
	if cfg.Watch.TaskTag == "" {
		cfg.Watch.TaskTag = "#task"
	}

	if err := state.EnsureStateDirs(eff.DBPath); err != nil {
		return nil, fmt.Errorf("state dirs: %w", err)
	}
	if err := store.Open(state.PathsVar.Store); err != nil {
		return nil, fmt.Errorf("failed to open journal at %s: %w", state.PathsVar.Store, err)
	}

	src, err := source.OpenSQLite(cfg.Storage.MessagesDB)
	if err != nil {
		return nil, err
	}

	creds := config.GetCredentials()
	sink := bridge.New(cfg.Bridge.SendURL, bridge.RateConfig{
		RPS:   cfg.Bridge.RateLimit.RPS,
		Burst: cfg.Bridge.RateLimit.Burst,
	})
	erpc := &erp.Client{
		URL:       cfg.ERP.URL,
		APIKey:    creds.ERPKey,
		APISecret: creds.ERPSecret,
	}
	aic := &ai.Client{
		URL:       cfg.AI.URL,
		Model:     cfg.AI.Model,
		MaxTokens: cfg.AI.MaxTokens,
		APIKey:    creds.AIKey,
	}

	reg := registry.New(0)
	dir := directory.New(erpc)
	coord := &resolve.Coordinator{
		Registry:  reg,
		Directory: dir,
		Resolver: resolve.Resolver{
			Threshold:      cfg.Resolver.Threshold,
			MaxSuggestions: cfg.Resolver.MaxSuggestions,
			SubstringBonus: cfg.Resolver.SubstringBonus,
		},
		Source:          src,
		Sink:            sink,
		DefaultAssignee: cfg.Resolver.DefaultAssignee,
		Timeout:         cfg.Resolver.Timeout.OrDefault(5 * time.Minute),
	}
	watcher := watch.New(src, sink, reg, coord, aic, erpc, watch.Config{
		AITag:          cfg.Watch.AITag,
		TaskTag:        cfg.Watch.TaskTag,
		PollInterval:   cfg.Watch.PollInterval.OrDefault(10 * time.Second),
		InteractionTTL: cfg.Watch.InteractionTTL.OrDefault(5 * time.Minute),
		DefaultContext: cfg.Watch.DefaultContext,
		ContextMin:     cfg.Watch.ContextMin,
		ContextMax:     cfg.Watch.ContextMax,
		ConfirmAI:      cfg.Watch.ConfirmAI,
		ConfirmTasks:   cfg.Watch.ConfirmTasks,
		AutoResolve:    autoResolveDefault(cfg.Resolver),
		AdminChat:      cfg.Resolver.AdminChat,
		AdminSender:    cfg.Resolver.AdminSender,
	})

	return &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		src:       src,
		sink:      sink,
		reg:       reg,
		dir:       dir,
		coord:     coord,
		watcher:   watcher,
		erpc:      erpc,
	}, nil
}

// Run starts the directory refresh loop, the watcher, the summary
// scheduler and the HTTP server, and blocks until ctx is cancelled or the
// server fails.
func (a *App) Run(ctx context.Context) error {
	// first refresh is best effort; the loop keeps retrying
	if err := a.dir.Refresh(ctx); err != nil {
		logger.Warn("initial_directory_refresh_failed", "error", err)
	}
	go a.refreshLoop(ctx)
	go a.watcher.Run(ctx)

	cancelSummary, err := summary.Start(ctx, a.eff.Config.Summary, a.sink)
	if err != nil {
		return err
	}
	defer cancelSummary()

	a.printBanner()
	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		a.shutdown()
		return err
	}
}

func (a *App) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(directoryRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.dir.Refresh(ctx); err != nil {
				logger.Warn("directory_refresh_failed", "error", err)
			}
		}
	}
}

func (a *App) shutdown() {
	if a.srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.srv.Shutdown(sctx)
	}
	if err := a.src.Close(); err != nil {
		logger.Warn("message_log_close_failed", "error", err)
	}
	if err := store.Close(); err != nil {
		logger.Warn("journal_close_failed", "error", err)
	}
}
