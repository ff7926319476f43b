package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"campaignbot/internal/campaign"
	"campaignbot/internal/config"
	"campaignbot/internal/eventbus"
	"campaignbot/internal/ledger"
	"campaignbot/internal/message"
	"campaignbot/internal/metrics"
	"campaignbot/internal/recipients"
	"campaignbot/internal/transport"
	"campaignbot/internal/transport/dryrun"
	"campaignbot/internal/transport/telegram"
	logx "campaignbot/pkg/logx"
	"campaignbot/pkg/systemd"
)

// ErrStartup marks failures before the first send: bad config, unreadable
// recipient list, storage that cannot be opened or a session that never
// became ready.
var ErrStartup = errors.New("startup failure")

func startupErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrStartup, fmt.Sprintf(format, args...))
}

type App struct {
	cfgm *config.Manager

	log   logx.Logger
	logs  *logx.Service
	store ledger.Store

	session transport.Session
	connMu  sync.Mutex
	ready   atomic.Bool

	attempter *campaign.Attempter
	pacer     *campaign.Pacer
	orch      *campaign.Orchestrator
	composer  atomic.Pointer[message.Generator]
	events    eventbus.Bus

	settingsMu sync.RWMutex
	settings   config.CampaignSettings

	notify *systemd.Notifier
}

type Option func(*appOptions)

type appOptions struct {
	session transport.Session
	sleep   func(ctx context.Context, d time.Duration) error
}

// WithSession replaces the configured transport.
func WithSession(s transport.Session) Option {
	return func(o *appOptions) { o.session = s }
}

// WithPacingSleep replaces the pacing wait.
func WithPacingSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *appOptions) { o.sleep = fn }
}

// LoadConfig loads .env secrets and the config file.
func LoadConfig(cfgPath string) (*config.Manager, *config.Config, error) {
	if err := config.LoadDotEnv(cfgPath); err != nil {
		return nil, nil, startupErr("load .env: %v", err)
	}
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrStartup, err)
	}
	return cfgm, cfg, nil
}

func New(cfgPath string, opts ...Option) (*App, error) {
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfgm, cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	settings, err := cfg.Campaign.Settings()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStartup, err)
	}

	logSvc, log := logx.New(cfg.Logging.LogConfig())
	appLog := log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("%w: %w", ErrStartup, err)
	}
	sc.Path = resolvePath(cfgPath, sc.Path)
	store, err := ledger.Open(sc, log.With(logx.String("comp", "ledger")))
	if err != nil {
		_ = logSvc.Close()
		return nil, startupErr("open storage: %v", err)
	}

	session := o.session
	if session == nil {
		session, err = newSession(cfg, log)
		if err != nil {
			_ = store.Close()
			_ = logSvc.Close()
			return nil, fmt.Errorf("%w: %w", ErrStartup, err)
		}
	}

	gen, err := newGenerator(cfgPath, cfg.Campaign.Message)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, fmt.Errorf("%w: %w", ErrStartup, err)
	}

	a := &App{
		cfgm:     cfgm,
		log:      appLog,
		logs:     logSvc,
		store:    store,
		session:  session,
		settings: settings,
		notify:   systemd.NewNotifier(log),
		events:   eventbus.New(),
	}
	a.composer.Store(gen)

	a.attempter = campaign.NewAttempter(session, settings.MaxRetries, settings.RetryDelay, log.With(logx.String("comp", "attempter")))
	a.pacer = campaign.NewPacer(settings.PacingMin, settings.PacingMax)
	orchOpts := []campaign.Option{
		campaign.WithLogger(log.With(logx.String("comp", "campaign"))),
		campaign.WithObserver(campaign.Observers{metrics.Observer{}, &eventbus.Observer{Bus: a.events}}),
		campaign.WithSelector(campaign.Selector{RetryFailed: settings.RetryFailed}),
		campaign.WithReporter(campaign.NewReporter(session, transport.RecipientID(strings.TrimSpace(cfg.Transport.Operator)), log.With(logx.String("comp", "report")))),
	}
	if o.sleep != nil {
		orchOpts = append(orchOpts, campaign.WithSleep(o.sleep))
	}
	composer := campaign.ComposerFunc(func(r transport.RecipientID) transport.Payload {
		return a.composer.Load().Compose(r)
	})
	a.orch = campaign.NewOrchestrator(store, a.attempter, a.pacer, composer, orchOpts...)

	if op := strings.TrimSpace(cfg.Transport.Operator); op != "" {
		logSvc.SetForwarder(&operatorForwarder{app: a, operator: transport.RecipientID(op)})
	}

	appLog.Info("app initialized",
		logx.String("transport", cfg.Transport.Driver),
		logx.String("storage", sc.Driver),
		logx.Duration("pacing_min", settings.PacingMin),
		logx.Duration("pacing_max", settings.PacingMax),
		logx.Int("max_retries", settings.MaxRetries),
		logx.Bool("retry_failed", settings.RetryFailed),
	)
	return a, nil
}

func newSession(cfg *config.Config, log logx.Logger) (transport.Session, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Transport.Driver)) {
	case "dryrun":
		return dryrun.New(log.With(logx.String("comp", "dryrun"))), nil
	case "telegram":
		timeout, err := cfg.Transport.Timeout()
		if err != nil {
			return nil, err
		}
		return telegram.New(telegram.Config{Token: cfg.Transport.Token, RequestTimeout: timeout}, log.With(logx.String("comp", "telegram")))
	default:
		return nil, fmt.Errorf("unknown transport.driver: %s", cfg.Transport.Driver)
	}
}

func newGenerator(cfgPath string, mc config.MessageConfig) (*message.Generator, error) {
	mc.Image = resolvePath(cfgPath, strings.TrimSpace(mc.Image))
	return message.New(mc)
}

// resolvePath makes p relative to the config file's directory.
func resolvePath(cfgPath, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(cfgPath), p)
}

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) Store() ledger.Store { return a.store }

func (a *App) campaignSettings() config.CampaignSettings {
	a.settingsMu.RLock()
	defer a.settingsMu.RUnlock()
	return a.settings
}

// RunID derives the run identifier for t.
func (a *App) RunID(t time.Time) string {
	return a.campaignSettings().RunID(t)
}

// connect waits for pairing and readiness once per process. Cancellation
// while waiting is returned as ctx.Err().
func (a *App) connect(ctx context.Context) error {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	if a.ready.Load() {
		return nil
	}
	a.log.Info("waiting for transport pairing")
	if err := a.session.AwaitPairing(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return startupErr("pairing: %v", err)
	}
	if err := a.session.AwaitReady(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return startupErr("ready: %v", err)
	}
	a.ready.Store(true)
	a.log.Info("transport ready")
	return nil
}

// RunOnce executes one campaign pass for runID (derived from the current
// time when empty). A shutdown request before the transport is ready ends
// the pass cleanly with Interrupted set.
func (a *App) RunOnce(ctx context.Context, runID string) (campaign.Result, error) {
	if runID == "" {
		runID = a.RunID(time.Now())
	}
	res := campaign.Result{RunID: runID}
	if err := ledger.ValidateRunID(runID); err != nil {
		return res, fmt.Errorf("%w: %w", ErrStartup, err)
	}

	cfg := a.cfgm.Get()
	path := resolvePath(a.cfgm.Path(), cfg.Campaign.RecipientsFile)
	list, err := recipients.Load(path)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrStartup, err)
	}
	a.log.Info("recipients loaded", logx.String("path", path), logx.Int("count", len(list)))

	if err := a.connect(ctx); err != nil {
		if ctx.Err() != nil && !errors.Is(err, ErrStartup) {
			a.log.Warn("shutdown requested before transport was ready")
			res.Interrupted = true
			metrics.RunFinished("interrupted", time.Now())
			return res, nil
		}
		return res, err
	}

	res, err = a.orch.Run(ctx, runID, list)
	switch {
	case err != nil:
		metrics.RunFinished("error", time.Now())
	case res.Interrupted:
		metrics.RunFinished("interrupted", time.Now())
	case res.Pending == 0:
		metrics.RunFinished("nothing_pending", time.Now())
	default:
		metrics.RunFinished("completed", time.Now())
	}
	return res, err
}

// Close releases the session, the store and the log sinks.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.session.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close session: %w", err))
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if err := a.logs.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close logs: %w", err))
	}
	return errors.Join(errs...)
}

// operatorForwarder sends forwarded log lines to the operator once the
// transport is ready.
type operatorForwarder struct {
	app      *App
	operator transport.RecipientID

	mu       sync.Mutex
	resolved transport.ResolvedID
}

func (f *operatorForwarder) Forward(ctx context.Context, text string) error {
	if !f.app.ready.Load() {
		return transport.ErrNotReady
	}
	f.mu.Lock()
	to := f.resolved
	f.mu.Unlock()
	if to == "" {
		var err error
		to, err = f.app.session.Resolve(ctx, f.operator)
		if err != nil {
			return err
		}
		f.mu.Lock()
		f.resolved = to
		f.mu.Unlock()
	}
	return f.app.session.Send(ctx, to, transport.Payload{Text: text})
}

// OpenStore opens the ledger store named by the config file without
// validating the transport or campaign sections.
func OpenStore(cfgPath string) (ledger.Store, error) {
	if err := config.LoadDotEnv(cfgPath); err != nil {
		return nil, startupErr("load .env: %v", err)
	}
	cfg, err := config.NewManager(cfgPath).Parse()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStartup, err)
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStartup, err)
	}
	sc.Path = resolvePath(cfgPath, sc.Path)
	st, err := ledger.Open(sc, logx.Nop())
	if err != nil {
		return nil, startupErr("open storage: %v", err)
	}
	return st, nil
}
