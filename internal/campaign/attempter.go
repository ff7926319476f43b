package campaign

import (
	"context"
	"errors"
	"sync"
	"time"

	"campaignbot/internal/transport"
	logx "campaignbot/pkg/logx"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 2 * time.Second
)

// Attempter validates a recipient and performs a bounded-retry send.
// It never touches the ledger.
type Attempter struct {
	tr  transport.Transport
	log logx.Logger

	mu         sync.Mutex
	maxRetries int
	retryDelay time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

func NewAttempter(tr transport.Transport, maxRetries int, retryDelay time.Duration, log logx.Logger) *Attempter {
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Attempter{tr: tr, log: log, sleep: sleepCtx}
	a.Apply(maxRetries, retryDelay)
	return a
}

// Apply updates the retry policy for subsequent attempts.
func (a *Attempter) Apply(maxRetries int, retryDelay time.Duration) {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if retryDelay < 0 {
		retryDelay = defaultRetryDelay
	}
	a.mu.Lock()
	a.maxRetries = maxRetries
	a.retryDelay = retryDelay
	a.mu.Unlock()
}

func (a *Attempter) policy() (int, time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.maxRetries, a.retryDelay
}

// Attempt delivers p to r.
//
// An unknown identifier yields Skipped without any send. Otherwise the send
// primitive is invoked at most maxRetries times with a fixed delay between
// tries; exhausting them yields Failed carrying the last error. A partial
// delivery fails at once. A non-nil
// error is returned only for failures that could not be classified (e.g. the
// transport disconnected during resolve).
func (a *Attempter) Attempt(ctx context.Context, r transport.RecipientID, p transport.Payload) (Outcome, error) {
	to, err := a.tr.Resolve(ctx, r)
	if err != nil {
		if errors.Is(err, transport.ErrRecipientUnknown) {
			return skippedOutcome(r, err.Error()), nil
		}
		return Outcome{}, err
	}

	maxRetries, retryDelay := a.policy()
	var last error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := a.tr.Send(ctx, to, p)
		if err == nil {
			return sentOutcome(r, to, attempt), nil
		}
		last = err
		if errors.Is(err, transport.ErrPartialDelivery) {
			a.log.Warn("partial delivery; not retrying", logx.String("recipient", string(r)), logx.Err(err))
			return failedOutcome(r, to, err, attempt), nil
		}
		if attempt == maxRetries {
			break
		}
		a.log.Debug("send retry scheduled",
			logx.String("recipient", string(r)),
			logx.Int("attempt", attempt+1),
			logx.Duration("delay", retryDelay),
			logx.Err(err),
		)
		if err := a.sleep(ctx, retryDelay); err != nil {
			return failedOutcome(r, to, last, attempt), nil
		}
	}
	return failedOutcome(r, to, last, maxRetries), nil
}
