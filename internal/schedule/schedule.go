// Package schedule triggers campaign runs on a cron spec in daemon mode.
package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "campaignbot/pkg/logx"
)

// Job runs one trigger. at is the scheduled time in the trigger's location.
type Job func(ctx context.Context, at time.Time)

// Trigger fires a Job on a cron spec. Overlapping fires are skipped while a
// previous run is still in progress.
type Trigger struct {
	spec  string
	sched cron.Schedule
	loc   *time.Location
	log   logx.Logger
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New parses spec ("0 9 * * *", "@daily", "@every 6h", ...). A nil loc means time.Local.
func New(spec string, loc *time.Location, log logx.Logger) (*Trigger, error) {
	spec = strings.TrimSpace(spec)
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", spec, err)
	}
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Trigger{spec: spec, sched: sched, loc: loc, log: log.With(logx.String("comp", "schedule"))}, nil
}

func (t *Trigger) Spec() string { return t.spec }

// Next returns the first activation after now.
func (t *Trigger) Next(now time.Time) time.Time {
	return t.sched.Next(now.In(t.loc))
}

// Run blocks until ctx is done, invoking job on every activation. It waits
// for an in-flight job to return before returning.
func (t *Trigger) Run(ctx context.Context, job Job) error {
	cl := cronLogger{log: t.log}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(t.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(t.sched, cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		at := time.Now().In(t.loc)
		t.log.Info("schedule fired", logx.String("spec", t.spec), logx.Time("at", at))
		job(ctx, at)
		t.log.Info("next run scheduled", logx.Time("next", t.Next(time.Now())))
	}))
	c.Start()
	t.log.Info("schedule started", logx.String("spec", t.spec), logx.String("tz", t.loc.String()), logx.Time("next", t.Next(time.Now())))

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
