package campaign

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"campaignbot/internal/ledger"
	"campaignbot/internal/transport"
	logx "campaignbot/pkg/logx"
)

// State is the orchestrator's position in a run.
type State int

const (
	StateIdle State = iota
	StateSelecting
	StateSending
	StateCheckpointing
	StatePacing
	StateReporting
	StateShuttingDown
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSelecting:
		return "selecting"
	case StateSending:
		return "sending"
	case StateCheckpointing:
		return "checkpointing"
	case StatePacing:
		return "pacing"
	case StateReporting:
		return "reporting"
	case StateShuttingDown:
		return "shutting_down"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Composer produces the payload for one recipient. Called once per attempt.
type Composer interface {
	Compose(r transport.RecipientID) transport.Payload
}

// ComposerFunc adapts a function to Composer.
type ComposerFunc func(r transport.RecipientID) transport.Payload

func (f ComposerFunc) Compose(r transport.RecipientID) transport.Payload { return f(r) }

// Observer receives progress signals (metrics).
type Observer interface {
	Pending(runID string, n int)
	Outcome(runID string, o Outcome)
	State(s State)
}

type nopObserver struct{}

func (nopObserver) Pending(string, int)      {}
func (nopObserver) Outcome(string, Outcome) {}
func (nopObserver) State(State)             {}

// Observers fans progress signals out to each observer in order.
type Observers []Observer

func (obs Observers) Pending(runID string, n int) {
	for _, o := range obs {
		o.Pending(runID, n)
	}
}

func (obs Observers) Outcome(runID string, out Outcome) {
	for _, o := range obs {
		o.Outcome(runID, out)
	}
}

func (obs Observers) State(s State) {
	for _, o := range obs {
		o.State(s)
	}
}

// Result summarizes one Run call.
type Result struct {
	RunID       string
	Pending     int
	Processed   int
	Interrupted bool
	Reported    bool
	Ledger      *ledger.Ledger
	Summary     ledger.Summary
}

type Option func(*Orchestrator)

func WithLogger(log logx.Logger) Option { return func(o *Orchestrator) { o.log = log } }

func WithObserver(obs Observer) Option { return func(o *Orchestrator) { o.obs = obs } }

func WithReporter(r *Reporter) Option { return func(o *Orchestrator) { o.reporter = r } }

func WithSelector(s Selector) Option { return func(o *Orchestrator) { o.selector = s } }

// WithSleep replaces the pacing wait (tests).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

// Orchestrator drives one pass over the pending recipients of a run:
// select, attempt, checkpoint, pace, repeat, then aggregate and report.
//
// Recipients are processed strictly one at a time. Cancelling the Run context
// requests shutdown: the in-flight attempt finishes and is checkpointed, no new
// attempt starts, and the report step is skipped.
type Orchestrator struct {
	store     ledger.Store
	attempter *Attempter
	pacer     *Pacer
	composer  Composer
	selector  Selector
	reporter  *Reporter
	obs       Observer
	log       logx.Logger
	sleep     func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	state State
}

func NewOrchestrator(store ledger.Store, attempter *Attempter, pacer *Pacer, composer Composer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		attempter: attempter,
		pacer:     pacer,
		composer:  composer,
		obs:       nopObserver{},
		log:       logx.Nop(),
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// SetSelector changes the pending-set policy for subsequent runs.
func (o *Orchestrator) SetSelector(s Selector) {
	o.mu.Lock()
	o.selector = s
	o.mu.Unlock()
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	prev := o.state
	o.state = s
	o.mu.Unlock()
	if prev != s {
		o.log.Debug("state", logx.String("from", prev.String()), logx.String("to", s.String()))
		o.obs.State(s)
	}
}

// Run processes runID against recipients. It returns an error wrapping
// ErrPersistence when a checkpoint cannot be written; every per-recipient
// failure is contained.
func (o *Orchestrator) Run(ctx context.Context, runID string, recipients []transport.RecipientID) (Result, error) {
	res := Result{RunID: runID}
	log := o.log.With(logx.String("run_id", runID))
	// Persistence and in-flight attempts must not be aborted by shutdown.
	persistCtx := context.WithoutCancel(ctx)

	o.setState(StateSelecting)
	l, err := o.store.Load(persistCtx, runID)
	if err != nil {
		o.setState(StateDone)
		return res, fmt.Errorf("%w: load %s: %w", ErrPersistence, runID, err)
	}
	res.Ledger = l

	o.mu.Lock()
	sel := o.selector
	o.mu.Unlock()
	pending := sel.Pending(recipients, l)
	res.Pending = len(pending)
	o.obs.Pending(runID, len(pending))

	if len(pending) == 0 {
		log.Info("all recipients finished; nothing pending", logx.Int("recipients", len(recipients)))
		err := o.finishDeferred(persistCtx, &res, l, log)
		o.setState(StateDone)
		return res, err
	}
	sent, failed, skipped := l.Counts()
	log.Info("run started",
		logx.Int("recipients", len(recipients)),
		logx.Int("pending", len(pending)),
		logx.Int("sent", sent), logx.Int("failed", failed), logx.Int("skipped", skipped),
	)

	for i, r := range pending {
		if ctx.Err() != nil {
			res.Interrupted = true
			break
		}

		o.setState(StateSending)
		p := o.composer.Compose(r)
		outcome := o.attempt(persistCtx, r, p, log)

		o.setState(StateCheckpointing)
		l.Record(r, outcome.Kind.LedgerStatus())
		if err := o.store.Save(persistCtx, l); err != nil {
			log.Error("checkpoint failed", logx.String("recipient", string(r)), logx.Err(err))
			o.setState(StateDone)
			return res, fmt.Errorf("%w: save %s: %w", ErrPersistence, runID, err)
		}
		res.Processed++
		o.audit(persistCtx, runID, outcome, p, log)
		o.obs.Outcome(runID, outcome)
		o.logOutcome(log, outcome, i+1, len(pending))

		if ctx.Err() != nil {
			res.Interrupted = true
			break
		}
		if i == len(pending)-1 {
			break
		}

		o.setState(StatePacing)
		wait := o.pacer.Next()
		log.Info("pacing", logx.Duration("wait", wait))
		if err := o.sleep(ctx, wait); err != nil {
			res.Interrupted = true
			break
		}
	}

	if res.Interrupted {
		o.setState(StateShuttingDown)
		if err := o.store.Save(persistCtx, l); err != nil {
			o.setState(StateDone)
			return res, fmt.Errorf("%w: flush %s: %w", ErrPersistence, runID, err)
		}
		sent, failed, skipped := l.Counts()
		log.Warn("run interrupted; report deferred to next invocation",
			logx.Int("processed", res.Processed),
			logx.Int("remaining", res.Pending-res.Processed),
			logx.Int("sent", sent), logx.Int("failed", failed), logx.Int("skipped", skipped),
		)
		o.setState(StateDone)
		return res, nil
	}

	o.setState(StateReporting)
	sum, err := o.aggregate(persistCtx)
	if err != nil {
		o.setState(StateDone)
		return res, err
	}
	res.Summary = sum
	res.Reported = o.report(persistCtx, sum, l, log)
	sent, failed, skipped = l.Counts()
	log.Info("run complete",
		logx.Int("sent", sent), logx.Int("failed", failed), logx.Int("skipped", skipped),
		logx.Int("all_runs_sent", sum.Sum()),
	)
	o.setState(StateDone)
	return res, nil
}

// attempt runs the attempter and folds unexpected errors and panics into Failed.
func (o *Orchestrator) attempt(ctx context.Context, r transport.RecipientID, p transport.Payload, log logx.Logger) (out Outcome) {
	defer func() {
		if v := recover(); v != nil {
			log.Error("attempt panicked", logx.String("recipient", string(r)), logx.Any("panic", v), logx.String("stack", string(debug.Stack())))
			out = failedOutcome(r, "", fmt.Errorf("panic: %v", v), 0)
		}
	}()
	outcome, err := o.attempter.Attempt(ctx, r, p)
	if err != nil {
		log.Error("unexpected attempt error", logx.String("recipient", string(r)), logx.Err(err))
		return failedOutcome(r, "", err, outcome.Attempts)
	}
	return outcome
}

// finishDeferred regenerates the aggregate when a run has nothing pending.
// A stored summary row that disagrees with the ledger means an earlier
// invocation was shut down before reporting, so the report is sent now.
// When the row already matches, no transport call is made.
func (o *Orchestrator) finishDeferred(ctx context.Context, res *Result, l *ledger.Ledger, log logx.Logger) error {
	prev, err := o.store.LoadSummary(ctx)
	if err != nil {
		return fmt.Errorf("%w: load summary: %w", ErrPersistence, err)
	}
	o.setState(StateReporting)
	sum, err := o.aggregate(ctx)
	if err != nil {
		return err
	}
	res.Summary = sum
	if runTotal(prev, res.RunID) == runTotal(sum, res.RunID) {
		return nil
	}
	log.Info("delivering report deferred by an earlier shutdown")
	res.Reported = o.report(ctx, sum, l, log)
	return nil
}

// runTotal returns the summary row of runID, or -1 when it has none.
func runTotal(sum ledger.Summary, runID string) int {
	for _, r := range sum {
		if r.RunID == runID {
			return r.Total
		}
	}
	return -1
}

// report delivers the operator notice. Delivery failures and panics are
// logged; the ledger is already durable by then.
func (o *Orchestrator) report(ctx context.Context, sum ledger.Summary, l *ledger.Ledger, log logx.Logger) (ok bool) {
	if o.reporter == nil {
		return false
	}
	defer func() {
		if v := recover(); v != nil {
			log.Error("report panicked", logx.Any("panic", v), logx.String("stack", string(debug.Stack())))
			ok = false
		}
	}()
	if _, err := o.reporter.Report(ctx, sum, l); err != nil {
		log.Warn("report delivery failed", logx.Err(err))
		return false
	}
	return true
}

func (o *Orchestrator) aggregate(ctx context.Context) (ledger.Summary, error) {
	all, err := o.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list ledgers: %w", ErrPersistence, err)
	}
	sum := Aggregate(all)
	if err := o.store.SaveSummary(ctx, sum); err != nil {
		return nil, fmt.Errorf("%w: save summary: %w", ErrPersistence, err)
	}
	return sum, nil
}

func (o *Orchestrator) audit(ctx context.Context, runID string, out Outcome, p transport.Payload, log logx.Logger) {
	e := ledger.AuditEntry{
		At:        time.Now(),
		RunID:     runID,
		Recipient: string(out.Recipient),
		Outcome:   out.Kind.String(),
		Attempts:  out.Attempts,
	}
	switch out.Kind {
	case OutcomeSent:
		e.Text = p.Text
	case OutcomeSkipped:
		e.Error = out.Reason
	case OutcomeFailed:
		if out.Err != nil {
			e.Error = out.Err.Error()
		}
	}
	if err := o.store.AppendAudit(ctx, e); err != nil {
		log.Warn("audit append failed", logx.String("recipient", e.Recipient), logx.Err(err))
	}
}

func (o *Orchestrator) logOutcome(log logx.Logger, out Outcome, n, total int) {
	fields := []logx.Field{
		logx.String("recipient", string(out.Recipient)),
		logx.String("outcome", out.Kind.String()),
		logx.Int("attempts", out.Attempts),
		logx.String("progress", fmt.Sprintf("%d/%d", n, total)),
	}
	switch out.Kind {
	case OutcomeSent:
		log.Info("recipient sent", fields...)
	case OutcomeSkipped:
		log.Warn("recipient skipped", append(fields, logx.String("reason", out.Reason))...)
	default:
		log.Warn("recipient failed", append(fields, logx.Err(out.Err))...)
	}
}

// IsPersistence reports whether err is a fatal checkpoint failure.
func IsPersistence(err error) bool { return errors.Is(err, ErrPersistence) }
