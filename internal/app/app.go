// Package app wires configuration, the platform host, the worker runtime and
// the subscription manager into one process.
package app

import (
	"context"
	"strings"
	"time"

	"pushbridge/internal/config"
	"pushbridge/internal/eventbus"
	"pushbridge/internal/notify"
	"pushbridge/internal/observability/pprof"
	"pushbridge/internal/platform/local"
	"pushbridge/internal/runtime/supervisor"
	"pushbridge/internal/serverapi"
	"pushbridge/internal/subscription"
	"pushbridge/internal/windows"
	"pushbridge/internal/worker"
	logx "pushbridge/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	presenter notify.Presenter
	windows   *windows.Registry
	runtime   *worker.Runtime
	host      *local.Host
	api       *serverapi.Client
	manager   *subscription.Manager
	pprof     *pprof.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(context.Background(), cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	presenter, err := notify.New(cfg.App.Name, log.With(logx.String("comp", "notify")))
	if err != nil {
		return nil, err
	}

	registry := windows.NewRegistry(cfg.Server.BaseURL, windows.OpenDesktop,
		log.With(logx.String("comp", "windows")))

	runtime := worker.NewRuntime(worker.Config{
		DefaultTitle: cfg.Worker.DefaultTitle,
		IconPath:     cfg.Worker.IconPath,
		BadgePath:    cfg.Worker.BadgePath,
		FallbackURL:  cfg.Worker.FallbackURL,
	}, presenter, registry, log.With(logx.String("comp", "worker")), bus)

	host, err := local.NewHost(local.Config{
		Addr:        cfg.Receiver.Addr,
		ProfilePath: cfg.Receiver.ProfilePath,
	}, runtime, log.With(logx.String("comp", "platform")))
	if err != nil {
		return nil, err
	}

	timeout, err := config.ParseDurationField("server.timeout", cfg.Server.Timeout)
	if err != nil {
		return nil, err
	}
	api := serverapi.New(cfg.Server.BaseURL, serverapi.WithTimeout(timeout))

	manager := subscription.NewManager(host, api, cfg.Worker.ScriptPath,
		log.With(logx.String("comp", "subscription")), bus)

	pprofSvc := pprof.New(mapPprofConfig(cfg), log.With(logx.String("comp", "pprof")))

	return &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		presenter: presenter,
		windows:   registry,
		runtime:   runtime,
		host:      host,
		api:       api,
		manager:   manager,
		pprof:     pprofSvc,
	}, nil
}

func mapPprofConfig(cfg *config.Config) pprof.Config {
	read, _ := config.ParseDurationField("pprof.read_timeout", cfg.Pprof.ReadTimeout)
	write, _ := config.ParseDurationField("pprof.write_timeout", cfg.Pprof.WriteTimeout)
	idle, _ := config.ParseDurationField("pprof.idle_timeout", cfg.Pprof.IdleTimeout)
	return pprof.Config{
		Enabled:              cfg.Pprof.Enabled,
		Addr:                 cfg.Pprof.Addr,
		Prefix:               cfg.Pprof.Prefix,
		Token:                cfg.Pprof.Token,
		AllowInsecure:        cfg.Pprof.AllowInsecure,
		ReadTimeout:          read,
		WriteTimeout:         write,
		IdleTimeout:          idle,
		MutexProfileFraction: cfg.Pprof.MutexProfileFraction,
		BlockProfileRate:     cfg.Pprof.BlockProfileRate,
		MemProfileRate:       cfg.Pprof.MemProfileRate,
	}
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(config.Validate)

	if err := a.host.Start(a.sup.Context()); err != nil {
		return err
	}
	a.log.Info("platform host started", logx.String("addr", a.host.Addr()))

	if a.pprof.Enabled() {
		a.pprof.Start(a.sup.Context())
	}

	// Click delivery from the presenter into the worker runtime.
	a.sup.Go("worker.clicks", func(c context.Context) error {
		return a.runtime.Run(c)
	})

	// Config file watcher + hot reload fan-out.
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})

	// Event trace for debugging; components publish, this loop only logs.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	if cfg := a.cfgm.Get(); cfg != nil && cfg.App.AutoEnable {
		a.sup.Go("subscription.auto_enable", func(c context.Context) error {
			if _, err := a.manager.Enable(c, cfg.Server.VapidPublicKey); err != nil {
				// Auto-enable is best-effort; a denied permission or an
				// unreachable server must not kill the process.
				a.log.Warn("auto enable failed", logx.Err(err))
			}
			return nil
		})
	}

	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				lastApplied = newCfg
				continue
			}
			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Debug("config change summary", fields...)
			lastApplied = newCfg

			for _, s := range sections {
				switch s {
				case "logging":
					a.logs.Apply(logx.Config{
						Level:   newCfg.Logging.Level,
						Console: newCfg.Logging.Console,
						File: logx.FileConfig{
							Enabled: newCfg.Logging.File.Enabled,
							Path:    newCfg.Logging.File.Path,
						},
					})
				case "pprof":
					a.pprof.Reconfigure(ctx, mapPprofConfig(newCfg))
				case "server", "receiver", "worker", "app":
					// These feed constructors; changing them live would tear
					// down the subscription under the server's feet.
					a.log.Warn("config section changed; restart required for changes to take effect",
						logx.String("section", s))
				}
			}
			a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
		}
	}
}

// Enable turns push notifications on: worker registration, permission,
// platform subscribe, server report.
func (a *App) Enable(ctx context.Context) (bool, error) {
	cfg := a.cfgm.Get()
	return a.manager.Enable(ctx, cfg.Server.VapidPublicKey)
}

// Disable turns push notifications off and reports the removal to the server.
func (a *App) Disable(ctx context.Context) (bool, error) {
	return a.manager.Disable(ctx)
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup != nil {
		a.sup.Cancel()
	}

	a.pprof.Stop(ctx)
	a.runtime.Stop()
	if err := a.presenter.Shutdown(); err != nil {
		a.log.Warn("presenter shutdown", logx.Err(err))
	}
	if err := a.host.Stop(ctx); err != nil {
		a.log.Warn("platform host shutdown", logx.Err(err))
	}

	var err error
	if a.sup != nil {
		waitCtx := ctx
		if waitCtx == nil {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
		}
		err = a.sup.Wait(waitCtx)
	}
	_ = a.logs.Close()
	return err
}
