package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"campaignbot/internal/campaign"
	"campaignbot/internal/config"
	"campaignbot/internal/eventbus"
	"campaignbot/internal/metrics"
	"campaignbot/internal/runtime/supervisor"
	"campaignbot/internal/schedule"
	logx "campaignbot/pkg/logx"
)

// RunDaemon triggers a campaign pass on the configured schedule until ctx is
// done. A persistence failure stops the daemon and is returned.
func (a *App) RunDaemon(ctx context.Context) error {
	cfg := a.cfgm.Get()
	settings := a.campaignSettings()
	trigger, err := schedule.New(cfg.Daemon.Schedule, settings.Location, a.log)
	if err != nil {
		return startupErr("%v", err)
	}

	sup := supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))), supervisor.WithCancelOnError(true))
	metricsSrv := metrics.NewServer(a.log, a.health)
	if err := metricsSrv.Apply(sup.Context(), cfg.Metrics); err != nil {
		sup.Cancel()
		return startupErr("metrics listener: %v", err)
	}
	defer metricsSrv.Stop(context.Background())

	if err := a.connect(sup.Context()); err != nil {
		sup.Cancel()
		if errors.Is(err, ErrStartup) {
			return err
		}
		return nil
	}

	sup.Go("systemd.watchdog", a.notify.Watchdog)
	sup.Go("progress", a.reportProgress)
	if cfg.Daemon.WatchConfig {
		sub := a.cfgm.Subscribe(4)
		sup.GoRestart("config.watch", a.cfgm.Watch, time.Second, 30*time.Second, 0)
		sup.Go("config.apply", func(c context.Context) error {
			defer a.cfgm.Unsubscribe(sub)
			a.applyLoop(c, sub, metricsSrv)
			return nil
		})
	}
	sup.Go("schedule", func(c context.Context) error {
		return trigger.Run(c, func(jc context.Context, at time.Time) {
			a.scheduledRun(jc, at, sup)
		})
	})

	a.notify.Ready()
	a.notify.Status("waiting; next run %s", trigger.Next(time.Now()).Format(time.RFC3339))
	a.log.Info("daemon started", logx.String("schedule", trigger.Spec()), logx.Bool("watch_config", cfg.Daemon.WatchConfig))

	<-sup.Context().Done()
	a.notify.Stopping()
	a.log.Info("daemon stopping")
	err = sup.Wait(context.Background())
	var fatal *fatalRunError
	if errors.As(err, &fatal) {
		return fatal.err
	}
	return err
}

// fatalRunError carries a run failure out of the supervisor unchanged.
type fatalRunError struct{ err error }

func (e *fatalRunError) Error() string { return e.err.Error() }
func (e *fatalRunError) Unwrap() error { return e.err }

func (a *App) scheduledRun(ctx context.Context, at time.Time, sup *supervisor.Supervisor) {
	runID := a.RunID(at)
	a.notify.Status("running %s", runID)
	res, err := a.RunOnce(ctx, runID)
	switch {
	case campaign.IsPersistence(err):
		a.log.Error("checkpoint failure; stopping daemon", logx.String("run_id", runID), logx.Err(err))
		a.notify.Status("stopped: %v", err)
		sup.Go("fatal", func(context.Context) error { return &fatalRunError{err: err} })
		return
	case err != nil:
		a.log.Error("scheduled run failed", logx.String("run_id", runID), logx.Err(err))
	case res.Interrupted:
		a.log.Warn("scheduled run interrupted", logx.String("run_id", runID), logx.Int("processed", res.Processed))
	}
	a.notify.Status("idle; last run %s processed %d", runID, res.Processed)
}

// reportProgress mirrors run progress into the systemd status line.
func (a *App) reportProgress(ctx context.Context) error {
	ch, unsub := a.events.Subscribe(64)
	defer unsub()
	var p eventbus.Progress
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-ch:
			if !p.Apply(e) || p.RunID == "" {
				continue
			}
			a.notify.Status("run %s: %d/%d processed, %s", p.RunID, p.Processed, p.Pending, p.State)
		}
	}
}

func (a *App) applyLoop(ctx context.Context, sub <-chan *config.Config, metricsSrv *metrics.Server) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			a.notify.Reloading()
			a.applyConfig(ctx, last, next, metricsSrv)
			last = next
			a.notify.Ready()
		}
	}
}

// applyConfig applies the live-reloadable parts of next. Pacing bounds take
// effect at the next pacing step, retry settings at the next attempt.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config, metricsSrv *metrics.Server) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	a.log.Info("config change applied", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
	if restart := config.RequiresRestart(sections); len(restart) > 0 {
		a.log.Warn("config sections changed that require a restart", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(next.Logging.LogConfig())

	settings, err := next.Campaign.Settings()
	if err != nil {
		a.log.Warn("campaign settings rejected", logx.Err(err))
		return
	}
	a.settingsMu.Lock()
	a.settings = settings
	a.settingsMu.Unlock()
	a.pacer.Apply(settings.PacingMin, settings.PacingMax)
	a.attempter.Apply(settings.MaxRetries, settings.RetryDelay)
	a.orch.SetSelector(campaign.Selector{RetryFailed: settings.RetryFailed})

	if gen, err := newGenerator(a.cfgm.Path(), next.Campaign.Message); err != nil {
		a.log.Warn("message config rejected", logx.Err(err))
	} else {
		a.composer.Store(gen)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Apply(ctx, next.Metrics); err != nil {
			a.log.Warn("metrics listener restart failed", logx.Err(err))
		}
	}
}

func (a *App) health() (bool, map[string]any) {
	state := a.orch.State()
	return a.ready.Load(), map[string]any{
		"transport_ready": a.ready.Load(),
		"state":           state.String(),
	}
}
