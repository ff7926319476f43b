package campaign

import (
	"errors"

	"campaignbot/internal/ledger"
	"campaignbot/internal/transport"
)

// ErrPersistence marks a ledger write failure. It is fatal to the run: nothing
// can safely proceed without a trustworthy checkpoint.
var ErrPersistence = errors.New("ledger persistence failed")

type OutcomeKind int

const (
	// OutcomeSent: the transport accepted the message.
	OutcomeSent OutcomeKind = iota + 1
	// OutcomeSkipped: the identifier did not resolve. Retried on a later run.
	OutcomeSkipped
	// OutcomeFailed: every attempt failed. Sticky unless retry_failed is set.
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSent:
		return "sent"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// LedgerStatus maps an outcome onto the ledger set it is recorded in.
func (k OutcomeKind) LedgerStatus() ledger.Status {
	switch k {
	case OutcomeSent:
		return ledger.StatusSent
	case OutcomeSkipped:
		return ledger.StatusSkipped
	case OutcomeFailed:
		return ledger.StatusFailed
	default:
		return ledger.StatusNone
	}
}

// Outcome is the classified result of one delivery attempt.
type Outcome struct {
	Kind      OutcomeKind
	Recipient transport.RecipientID
	// Resolved is set for Sent (and for Failed after a successful resolve).
	Resolved transport.ResolvedID
	// Reason explains a Skipped outcome.
	Reason string
	// Err is the last observed error for Failed.
	Err error
	// Attempts counts send primitive invocations.
	Attempts int
}

func sentOutcome(r transport.RecipientID, to transport.ResolvedID, attempts int) Outcome {
	return Outcome{Kind: OutcomeSent, Recipient: r, Resolved: to, Attempts: attempts}
}

func skippedOutcome(r transport.RecipientID, reason string) Outcome {
	return Outcome{Kind: OutcomeSkipped, Recipient: r, Reason: reason}
}

func failedOutcome(r transport.RecipientID, to transport.ResolvedID, err error, attempts int) Outcome {
	return Outcome{Kind: OutcomeFailed, Recipient: r, Resolved: to, Err: err, Attempts: attempts}
}
