package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GoCodeAlone/modhost"
	"github.com/GoCodeAlone/modhost/admin"
	"github.com/GoCodeAlone/modhost/configrepo"
	"github.com/GoCodeAlone/modhost/routes"
	"github.com/GoCodeAlone/modhost/source"

	// SQL config repository driver.
	_ "github.com/mattn/go-sqlite3"
)

// app is everything serve wires together.
type app struct {
	cfg        *modhost.HostConfig
	logger     modhost.Logger
	host       *modhost.Host
	source     *source.Dir
	table      *routes.Table
	repo       modhost.ConfigRepository
	supervisor *modhost.Supervisor
	registry   *prometheus.Registry
	handler    http.Handler
	closers    []func() error
}

func newApp(ctx context.Context, cfg *modhost.HostConfig, logger modhost.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		source:   source.NewDir(cfg.ModulesDir),
		table:    routes.NewTable(),
		registry: prometheus.NewRegistry(),
	}

	repo, closer, err := openConfigRepository(ctx, cfg.ConfigRepo)
	if err != nil {
		return nil, err
	}
	a.repo = repo
	if closer != nil {
		a.closers = append(a.closers, closer)
	}

	metrics, err := modhost.NewMetrics(a.registry)
	if err != nil {
		a.close()
		return nil, err
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []modhost.HostOption{
		modhost.WithLogger(logger),
		modhost.WithRouteRegistry(a.table),
		modhost.WithStatusProvider(modhost.NewListStatusProvider(cfg.Enabled, cfg.Disabled)),
		modhost.WithBootstrapPolicy(cfg.BootstrapPolicy()),
		modhost.WithHostResource("metricsRegistry", a.registry),
		modhost.WithObserver(metrics),
	}
	if repo != nil {
		opts = append(opts, modhost.WithConfigRepository(repo))
	}
	host, err := modhost.NewHost(a.source, opts...)
	if err != nil {
		a.close()
		return nil, err
	}
	a.host = host
	a.supervisor = modhost.NewSupervisor(host, cfg.Supervisor)

	r := chi.NewRouter()
	adminPath := strings.TrimSuffix(cfg.AdminPath, "/")
	r.Mount(adminPath, admin.NewHandler(host, repo))
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	r.Handle("/*", a.table)
	a.handler = r
	return a, nil
}

// openConfigRepository returns a nil repository for kind "none".
func openConfigRepository(ctx context.Context, cfg modhost.ConfigRepoConfig) (modhost.ConfigRepository, func() error, error) {
	switch cfg.Kind {
	case modhost.ConfigRepoNone:
		return nil, nil, nil
	case modhost.ConfigRepoFile:
		repo, err := configrepo.NewFile(cfg.Dir)
		return repo, nil, err
	case modhost.ConfigRepoSQL:
		db, err := sql.Open(cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("opening %s database: %w", cfg.Driver, err)
		}
		var opts []configrepo.SQLOption
		if cfg.Table != "" {
			opts = append(opts, configrepo.WithTable(cfg.Table))
		}
		if cfg.Driver == "postgres" || cfg.Driver == "pgx" {
			opts = append(opts, configrepo.WithDollarPlaceholders())
		}
		repo, err := configrepo.NewSQL(ctx, db, opts...)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return repo, db.Close, nil
	case modhost.ConfigRepoRedis:
		repo, err := configrepo.DialRedis(ctx, cfg.RedisURL, cfg.Prefix)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown config repository %q", modhost.ErrInvalidHostConfig, cfg.Kind)
	}
}

// onDescriptorChange reloads changed modules. A module that appeared is
// loaded, and started unless the host runs in manual mode.
func (a *app) onDescriptorChange(ctx context.Context, ids []string) {
	for _, id := range ids {
		if _, loaded := a.host.Module(id); loaded {
			state, err := a.host.Reload(ctx, id, modhost.WithCascade())
			switch {
			case errors.Is(err, modhost.ErrDescriptorReload):
				a.logger.Warn("Module removed after descriptor change", "module", id, "error", err)
			case err != nil:
				a.logger.Error("Module reload failed", "module", id, "error", err)
			default:
				a.logger.Info("Module reloaded", "module", id, "state", state.String())
			}
			continue
		}
		if err := a.host.LoadAll(ctx); err != nil {
			a.logger.Warn("Loading new modules reported errors", "error", err)
		}
		if _, ok := a.host.Module(id); !ok || a.cfg.ManualStart {
			continue
		}
		if _, err := a.host.Start(ctx, id); err != nil {
			a.logger.Error("Module start failed", "module", id, "error", err)
		}
	}
}

func (a *app) close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func adminURL(addr, adminPath string) string {
	host := addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	return "http://" + host + path.Clean(adminPath)
}
