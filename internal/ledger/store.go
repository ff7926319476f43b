package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "campaignbot/pkg/logx"
)

// Store persists ledgers, the aggregate summary, and the audit trail.
//
// Stores assume a single writer per run id (one process); concurrent
// processes sharing a run id are not guarded against.
type Store interface {
	// Load returns the persisted ledger for runID, or an empty one.
	Load(ctx context.Context, runID string) (*Ledger, error)
	// Save replaces the persisted ledger. A crash mid-save leaves the
	// previously saved ledger intact.
	Save(ctx context.Context, l *Ledger) error
	// List returns every persisted ledger ordered by run id.
	List(ctx context.Context) ([]*Ledger, error)

	SaveSummary(ctx context.Context, s Summary) error
	LoadSummary(ctx context.Context) (Summary, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "file": one JSON file per run under Path/ledgers (atomic rename on save)
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one recipient outcome.
type AuditEntry struct {
	ID        string    `json:"id"`
	At        time.Time `json:"at"`
	RunID     string    `json:"runId"`
	Recipient string    `json:"recipient"`
	Outcome   string    `json:"outcome"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"`
	Text      string    `json:"text,omitempty"`
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
