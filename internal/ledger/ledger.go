package ledger

import (
	"errors"
	"fmt"
	"regexp"
	"slices"

	"campaignbot/internal/transport"
)

// Status is the outcome class a recipient is recorded under.
type Status int

const (
	StatusNone Status = iota
	StatusSkipped
	StatusFailed
	StatusSent
)

func (s Status) String() string {
	switch s {
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	case StatusSent:
		return "sent"
	default:
		return "none"
	}
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "skipped":
		return StatusSkipped, nil
	case "failed":
		return StatusFailed, nil
	case "sent":
		return StatusSent, nil
	default:
		return StatusNone, fmt.Errorf("unknown ledger status %q", s)
	}
}

var ErrInvalidRunID = errors.New("invalid run id")

var reRunID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ValidateRunID rejects ids that cannot be used as a file name.
func ValidateRunID(runID string) error {
	if !reRunID.MatchString(runID) {
		return fmt.Errorf("%w: %q", ErrInvalidRunID, runID)
	}
	return nil
}

// Ledger is the outcome record of one campaign run.
//
// The three sets are pairwise disjoint and keep insertion order. Total always
// equals len(Sent). Use New or Merge to build one; Record is the only mutator.
type Ledger struct {
	RunID   string                  `json:"runId"`
	Total   int                     `json:"total"`
	Sent    []transport.RecipientID `json:"sent"`
	Failed  []transport.RecipientID `json:"failed"`
	Skipped []transport.RecipientID `json:"skipped"`

	index map[transport.RecipientID]Status
}

func New(runID string) *Ledger {
	return &Ledger{
		RunID:   runID,
		Sent:    []transport.RecipientID{},
		Failed:  []transport.RecipientID{},
		Skipped: []transport.RecipientID{},
		index:   map[transport.RecipientID]Status{},
	}
}

func (l *Ledger) ensureIndex() {
	if l.index != nil {
		return
	}
	l.index = make(map[transport.RecipientID]Status, len(l.Sent)+len(l.Failed)+len(l.Skipped))
	for _, id := range l.Skipped {
		l.index[id] = StatusSkipped
	}
	for _, id := range l.Failed {
		l.index[id] = StatusFailed
	}
	for _, id := range l.Sent {
		l.index[id] = StatusSent
	}
}

// Status returns the class id is recorded under, or StatusNone.
func (l *Ledger) Status(id transport.RecipientID) Status {
	l.ensureIndex()
	return l.index[id]
}

// Record files id under st.
//
// A recipient only moves to a stronger class (skipped < failed < sent); a
// weaker or equal outcome is ignored. Moving removes the id from its previous
// set so the sets stay disjoint. It reports whether the ledger changed.
func (l *Ledger) Record(id transport.RecipientID, st Status) bool {
	if st == StatusNone {
		return false
	}
	l.ensureIndex()
	prev := l.index[id]
	if prev >= st {
		return false
	}
	if prev != StatusNone {
		l.remove(id, prev)
	}
	switch st {
	case StatusSent:
		l.Sent = append(l.Sent, id)
	case StatusFailed:
		l.Failed = append(l.Failed, id)
	case StatusSkipped:
		l.Skipped = append(l.Skipped, id)
	}
	l.index[id] = st
	l.Total = len(l.Sent)
	return true
}

func (l *Ledger) remove(id transport.RecipientID, st Status) {
	del := func(s []transport.RecipientID) []transport.RecipientID {
		return slices.DeleteFunc(s, func(x transport.RecipientID) bool { return x == id })
	}
	switch st {
	case StatusSent:
		l.Sent = del(l.Sent)
	case StatusFailed:
		l.Failed = del(l.Failed)
	case StatusSkipped:
		l.Skipped = del(l.Skipped)
	}
	delete(l.index, id)
}

// Merge unions other into l. Duplicates collapse and conflicting classes
// resolve to the strongest one. Total is recomputed.
func (l *Ledger) Merge(other *Ledger) {
	if other == nil {
		return
	}
	for _, id := range other.Sent {
		l.Record(id, StatusSent)
	}
	for _, id := range other.Failed {
		l.Record(id, StatusFailed)
	}
	for _, id := range other.Skipped {
		l.Record(id, StatusSkipped)
	}
	l.Total = len(l.Sent)
}

// Clone returns a deep copy.
func (l *Ledger) Clone() *Ledger {
	cp := New(l.RunID)
	cp.Merge(l)
	return cp
}

// Check verifies the ledger invariants.
func (l *Ledger) Check() error {
	if l.Total != len(l.Sent) {
		return fmt.Errorf("ledger %s: total %d != sent %d", l.RunID, l.Total, len(l.Sent))
	}
	seen := map[transport.RecipientID]string{}
	for name, set := range map[string][]transport.RecipientID{"sent": l.Sent, "failed": l.Failed, "skipped": l.Skipped} {
		for _, id := range set {
			if prev, ok := seen[id]; ok {
				return fmt.Errorf("ledger %s: %q recorded in both %s and %s", l.RunID, id, prev, name)
			}
			seen[id] = name
		}
	}
	return nil
}

// Counts returns the size of each set.
func (l *Ledger) Counts() (sent, failed, skipped int) {
	return len(l.Sent), len(l.Failed), len(l.Skipped)
}

// RunTotal is one row of the aggregate summary.
type RunTotal struct {
	RunID string `json:"runId"`
	Total int    `json:"total"`
}

// Summary is the ordered (by run id) list of per-run totals.
type Summary []RunTotal

// Sum returns the total sent over every run.
func (s Summary) Sum() int {
	n := 0
	for _, r := range s {
		n += r.Total
	}
	return n
}
