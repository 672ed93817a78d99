package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/modhost"
	"github.com/GoCodeAlone/modhost/source"
)

// NewServeCommand creates the serve command.
func NewServeCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Load and start modules and serve their routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger, nil)
		},
	}
}

// serve runs until ctx ends. ready, if not nil, receives the listener
// address once requests are being accepted.
func serve(ctx context.Context, cfg *modhost.HostConfig, logger modhost.Logger, ready chan<- string) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.host.LoadAll(ctx); err != nil {
		logger.Warn("Some modules could not be loaded", "error", err)
	}
	if !cfg.ManualStart {
		if err := a.host.StartAll(ctx); err != nil {
			return fmt.Errorf("starting modules: %w", err)
		}
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		_ = a.host.StopAll(context.WithoutCancel(ctx))
		return fmt.Errorf("listening on %s: %w", cfg.ListenAddr, err)
	}
	server := &http.Server{Handler: a.handler, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(ln) }()

	a.host.MarkStarted(true)
	logger.Info("Host started", "addr", ln.Addr().String(), "admin", adminURL(ln.Addr().String(), cfg.AdminPath))
	if ready != nil {
		ready <- ln.Addr().String()
	}

	if err := a.supervisor.Start(ctx); err != nil {
		logger.Error("Supervisor not started", "error", err)
	}
	if cfg.Watch {
		w, err := source.NewWatcher(source.WatcherConfig{
			Root:     cfg.ModulesDir,
			OnChange: a.onDescriptorChange,
			Logger:   logger,
		})
		if err != nil {
			logger.Error("Module watcher not started", "error", err)
		} else {
			go func() {
				if err := w.Run(ctx); err != nil {
					logger.Error("Module watcher stopped", "error", err)
				}
			}()
		}
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	a.host.MarkStarted(false)
	var errs []error
	errs = append(errs, a.supervisor.Stop(shutdownCtx))
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, err)
	}
	errs = append(errs, a.host.StopAll(shutdownCtx))
	logger.Info("Host stopped")
	return errors.Join(errs...)
}
