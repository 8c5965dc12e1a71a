// Package app wires the long-running watch mode: trigger, config reload,
// status API and systemd readiness around a runner.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"taskq/internal/config"
	"taskq/internal/runner"
	"taskq/internal/runtime/supervisor"
	"taskq/internal/server"
	"taskq/internal/storage"
	"taskq/internal/trigger"
	"taskq/pkg/eventbus"
	logx "taskq/pkg/logx"
)

var ErrNoSchedule = errors.New("trigger.schedule is required for watch mode")

const stopTimeout = 15 * time.Second

type App struct {
	cfgm *config.Manager
	cfg  *config.Config

	logs  *logx.Service
	log   logx.Logger
	bus   *eventbus.MemBus
	store storage.Store

	runner *runner.Runner
	trig   *trigger.Trigger
	srv    *server.Server
}

// New loads the job file and builds every component. Nothing runs until Run.
func New(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Trigger.Schedule) == "" {
		return nil, ErrNoSchedule
	}

	logs, log := logx.New(LoggingConfig(cfg.Logging))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	store, err := OpenStore(cfg.Storage, log)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	a := &App{cfgm: cfgm, cfg: cfg, logs: logs, log: log, bus: eventbus.New(), store: store}
	a.runner = runner.New(cfg, log, a.bus, store)
	a.trig, err = trigger.New(cfg.Trigger.Schedule, cfg.Trigger.Timezone, a.fire, log)
	if err != nil {
		_ = a.close()
		return nil, err
	}
	if addr := strings.TrimSpace(cfg.Status.Addr); addr != "" {
		a.srv = server.New(a.runner, store, a.bus, log, server.WithProfiler(cfg.Status.Pprof))
	}
	return a, nil
}

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) fire(ctx context.Context) {
	// run outcomes are logged by the runner
	if _, err := a.runner.Run(ctx); errors.Is(err, runner.ErrBusy) {
		a.log.Info("trigger skipped: previous run still in progress")
	}
}

// Run blocks until ctx is done or a component fails.
func (a *App) Run(ctx context.Context) error {
	boot := a.cfg
	sup := supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))), supervisor.WithCancelOnError(true))

	sub := a.cfgm.Subscribe(1)
	sup.Go("config.watch", a.cfgm.Watch)
	sup.Go0("config.apply", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.apply(cfg)
			}
		}
	})

	if err := a.trig.Start(sup.Context()); err != nil {
		sup.Cancel()
		_ = sup.Wait(context.Background())
		a.cfgm.Unsubscribe(sub)
		return a.stop(err)
	}
	if boot.Trigger.RunOnStart {
		sup.Go0("run.on-start", a.fire)
	}
	if a.srv != nil {
		addr := boot.Status.Addr
		sup.Go("status", func(ctx context.Context) error { return a.srv.ListenAndServe(ctx, addr) })
	}

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("watching", logx.String("config", a.cfgm.Path()), logx.Time("next_run", a.trig.Next()))

	<-sup.Context().Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("stopping")

	sctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	var errs []error
	if err := a.trig.Stop(sctx); err != nil {
		errs = append(errs, fmt.Errorf("stop trigger: %w", err))
	}
	if err := sup.Stop(sctx); err != nil {
		errs = append(errs, err)
	}
	a.cfgm.Unsubscribe(sub)
	return a.stop(errors.Join(errs...))
}

func (a *App) apply(cfg *config.Config) {
	a.logs.Apply(LoggingConfig(cfg.Logging))
	a.runner.Apply(cfg)
	if err := a.trig.Reschedule(cfg.Trigger.Schedule, cfg.Trigger.Timezone); err != nil {
		a.log.Warn("trigger reschedule failed; keeping previous schedule", logx.Err(err))
	}
	if cfg.Storage != a.cfg.Storage || cfg.Status != a.cfg.Status {
		a.log.Warn("storage and status changes take effect on restart")
	}
	a.cfg = cfg
	a.log.Info("config applied", logx.Int("jobs", len(cfg.Jobs)), logx.Time("next_run", a.trig.Next()))
}

func (a *App) stop(err error) error {
	if cerr := a.close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (a *App) close() error {
	var errs []error
	if a.srv != nil {
		a.srv.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	if a.logs != nil {
		if err := a.logs.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
