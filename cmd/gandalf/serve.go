package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hpn/gandalf-router/internal/handler"
	"github.com/hpn/gandalf-router/internal/ui"
)

// ServeCmd runs the HTTP gateway until interrupted.
type ServeCmd struct {
	Host    string `help:"Override server.host."`
	Port    int    `help:"Override server.port." short:"p"`
	NoColor bool   `help:"Disable the banner and colored request log." name:"no-color"`
}

func (c *ServeCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, g, !c.NoColor)
	if err != nil {
		return err
	}
	defer rt.Close()

	if c.Host != "" {
		rt.cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		rt.cfg.Server.Port = c.Port
	}

	ln, err := net.Listen("tcp", rt.cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", rt.cfg.Server.Addr(), err)
	}
	return c.serve(ctx, rt, ln)
}

// serve runs the gateway on ln until ctx is done, then shuts down gracefully.
func (c *ServeCmd) serve(ctx context.Context, rt *runtime, ln net.Listener) error {
	logger := rt.logger
	cfg := rt.cfg

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	var console *ui.Console
	if !c.NoColor {
		console = rt.console
	}

	routerCfg := handler.RouterConfig{Logger: logger, Console: console}
	if cfg.Cache.Enabled {
		cache := handler.NewFlashCache(
			handler.WithCacheTTL(cfg.Cache.TTL()),
			handler.WithCacheLogger(logger),
			handler.WithCacheConsole(console),
		)
		defer cache.Close()
		routerCfg.Cache = cache
	}

	proxy := handler.NewProxyHandler(rt.dispatcher, handler.WithLogger(logger))
	srv := &http.Server{
		Handler:      handler.NewRouter(proxy, routerCfg),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
	}

	addr := ln.Addr().String()
	if console != nil {
		ui.PrintBanner(rt.out, version)
		provider, model, _ := rt.manager.Current()
		console.PrintStartupInfo(addr, rt.manager.Providers(), provider, model)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", slog.String("address", addr))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	if console != nil {
		console.PrintShutdown()
	}

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped gracefully")
	if console != nil {
		console.PrintGoodbye()
	}
	return nil
}
