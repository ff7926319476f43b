package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"campaignbot/internal/transport"
	logx "campaignbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore keeps every run in one database. Save rewrites a run's entries
// inside a transaction, which gives the same crash guarantee as the file
// driver's rename.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = FULL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Load(ctx context.Context, runID string) (*Ledger, error) {
	if err := ValidateRunID(runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT recipient, status FROM ledger_entries WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := New(runID)
	for rows.Next() {
		var recipient, status string
		if err := rows.Scan(&recipient, &status); err != nil {
			return nil, err
		}
		st, err := ParseStatus(status)
		if err != nil {
			s.log.Warn("ignoring ledger row", logx.String("run_id", runID), logx.String("recipient", recipient), logx.Err(err))
			continue
		}
		out.Record(transport.RecipientID(recipient), st)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Save(ctx context.Context, l *Ledger) error {
	if l == nil {
		return errors.New("nil ledger")
	}
	if err := ValidateRunID(l.RunID); err != nil {
		return err
	}
	if err := l.Check(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM ledger_entries WHERE run_id = ?`, l.RunID); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO ledger_entries(run_id, recipient, status, seq) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	// seq keeps per-set insertion order; sets are written in a fixed order so
	// Load rebuilds each slice exactly.
	seq := 0
	for _, set := range []struct {
		ids []transport.RecipientID
		st  Status
	}{{l.Sent, StatusSent}, {l.Failed, StatusFailed}, {l.Skipped, StatusSkipped}} {
		for _, id := range set.ids {
			if _, err := stmt.ExecContext(ctx, l.RunID, string(id), set.st.String(), seq); err != nil {
				return err
			}
			seq++
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs(run_id, total, updated_at) VALUES(?,?,?)
		 ON CONFLICT(run_id) DO UPDATE SET total=excluded.total, updated_at=excluded.updated_at`,
		l.RunID, l.Total, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) List(ctx context.Context) ([]*Ledger, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id FROM runs ORDER BY run_id`)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*Ledger, 0, len(ids))
	for _, id := range ids {
		l, err := s.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func (s *sqliteStore) SaveSummary(ctx context.Context, sum Summary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM summary`); err != nil {
		return err
	}
	for i, r := range sum {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO summary(position, run_id, total) VALUES(?,?,?)`, i, r.RunID, r.Total); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) LoadSummary(ctx context.Context) (Summary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, total FROM summary ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := Summary{}
	for rows.Next() {
		var r RunTotal
		if err := rows.Scan(&r.RunID, &r.Total); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(id, at, run_id, recipient, outcome, attempts, err, text)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.ID, e.At.UTC().Format(time.RFC3339Nano), e.RunID, e.Recipient, e.Outcome, e.Attempts,
		nullStr(e.Error), nullStr(e.Text),
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
