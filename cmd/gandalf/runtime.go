package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/hpn/gandalf-router/internal/adapter"
	"github.com/hpn/gandalf-router/internal/config"
	"github.com/hpn/gandalf-router/internal/domain"
	"github.com/hpn/gandalf-router/internal/handler"
	"github.com/hpn/gandalf-router/internal/logging"
	"github.com/hpn/gandalf-router/internal/security"
	"github.com/hpn/gandalf-router/internal/ui"
)

// runtime is the wired application shared by serve and ask.
type runtime struct {
	cfg        *config.Configuration
	templates  []domain.ProviderConfig
	logger     *slog.Logger
	closeLog   func() error
	console    *ui.Console
	out        io.Writer
	manager    *domain.Manager
	dispatcher *handler.Dispatcher
}

// loadConfig reads the configuration and applies command-line overrides.
func (g *Globals) loadConfig() (*config.Configuration, []domain.ProviderConfig, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, nil, err
	}
	if g.LogLevel != "" {
		cfg.Logging.Level = g.LogLevel
	}

	templates, err := cfg.ProviderTemplates()
	if err != nil {
		return nil, nil, err
	}
	return cfg, templates, nil
}

// newRuntime wires configuration, logging, the failover manager and the
// dispatcher. Failover events go to the console when observe is set.
func newRuntime(ctx context.Context, g *Globals, observe bool) (*runtime, error) {
	cfg, templates, err := g.loadConfig()
	if err != nil {
		return nil, err
	}

	redactor := security.NewRedactor()
	for _, key := range config.CredentialKeys(templates) {
		redactor.AddSecrets(os.Getenv(key))
	}

	logger, closeLog, err := logging.New(cfg.Logging, redactor)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	rt := &runtime{
		cfg:       cfg,
		templates: templates,
		logger:    logger,
		closeLog:  closeLog,
		console:   ui.NewConsole(g.stdout),
		out:       g.stdout,
	}

	upstreamTimeout := time.Duration(cfg.Server.UpstreamTimeoutSeconds) * time.Second
	httpClient := &http.Client{Timeout: upstreamTimeout}

	opts := []domain.ManagerOption{
		domain.WithPolicy(cfg.Failover.Policy()),
		domain.WithLogger(logger),
	}
	if observe {
		opts = append(opts, domain.WithObserver(rt.console))
	}
	if cfg.Discovery.Enabled {
		opts = append(opts, domain.WithModelDiscoverer(adapter.NewModelDiscoverer(httpClient), cfg.Discovery.Timeout()))
	}

	rt.manager, err = domain.NewManager(ctx, templates, opts...)
	if err != nil {
		_ = closeLog()
		return nil, err
	}

	factory := adapter.NewFactory(rt.manager, adapter.NewRegistry(httpClient), adapter.WithFactoryLogger(logger))

	dispatcherOpts := []handler.DispatcherOption{
		handler.WithDispatcherLogger(logger),
		handler.WithMaxAttempts(cfg.Failover.MaxAttempts),
		handler.WithUpstreamTimeout(upstreamTimeout),
		handler.WithTokenCounter(handler.NewTiktokenCounter(handler.DefaultEncoding, logger)),
	}
	if cfg.Failover.PaceRequests {
		quotas := make(map[string]int, len(templates))
		for _, p := range rt.manager.ProviderConfigs() {
			quotas[p.Name] = p.MaxRequestsPerMinute
		}
		dispatcherOpts = append(dispatcherOpts, handler.WithPacer(handler.NewPacer(quotas, nil)))
	}
	rt.dispatcher = handler.NewDispatcher(rt.manager, factory, dispatcherOpts...)

	logger.Info("failover manager ready",
		slog.Any("providers", rt.manager.Providers()),
		slog.String("config_file", cfg.File),
	)
	return rt, nil
}

func (rt *runtime) Close() {
	if rt.closeLog != nil {
		_ = rt.closeLog()
	}
}
