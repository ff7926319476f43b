package campaign

import (
	"campaignbot/internal/ledger"
	"campaignbot/internal/transport"
)

// Selector computes the pending work set of a run.
type Selector struct {
	// RetryFailed re-includes recipients recorded as failed. The default
	// (false) treats a permanent failure as sticky.
	RetryFailed bool
}

// Pending returns the recipients of all that still need an attempt, in the
// order of all. Recipients in l.Sent (and l.Failed unless RetryFailed) are
// excluded; skipped recipients are attempted again. Duplicates in all are
// attempted once.
func (s Selector) Pending(all []transport.RecipientID, l *ledger.Ledger) []transport.RecipientID {
	out := make([]transport.RecipientID, 0, len(all))
	seen := make(map[transport.RecipientID]struct{}, len(all))
	for _, id := range all {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if l != nil {
			switch l.Status(id) {
			case ledger.StatusSent:
				continue
			case ledger.StatusFailed:
				if !s.RetryFailed {
					continue
				}
			}
		}
		out = append(out, id)
	}
	return out
}
