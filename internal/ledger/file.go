package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	logx "campaignbot/pkg/logx"
)

// fileStore keeps ledgers as plain JSON files.
//
// Layout under the configured directory:
//   - ledgers/<runId>.json (one per run, replaced via temp file + rename)
//   - summary.json         (aggregate, replaced via temp file + rename)
//   - audit.jsonl          (append-only JSON Lines)
type fileStore struct {
	log logx.Logger

	mu        sync.Mutex
	dir       string
	auditFile *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Join(dir, "ledgers"), 0o755); err != nil {
		return nil, err
	}
	af, err := os.OpenFile(filepath.Join(dir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, dir: dir, auditFile: af}, nil
}

func (s *fileStore) ledgerPath(runID string) string {
	return filepath.Join(s.dir, "ledgers", runID+".json")
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}

func (s *fileStore) Load(ctx context.Context, runID string) (*Ledger, error) {
	_ = ctx
	if err := ValidateRunID(runID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLedger(s.ledgerPath(runID), runID)
}

func (s *fileStore) readLedger(path, runID string) (*Ledger, error) {
	out := New(runID)
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	var persisted Ledger
	if err := json.Unmarshal(b, &persisted); err != nil {
		return nil, fmt.Errorf("decode ledger %s: %w", path, err)
	}
	if persisted.RunID != "" && persisted.RunID != runID {
		s.log.Warn("ledger run id mismatch; using file name",
			logx.String("path", path), logx.String("file_run_id", persisted.RunID))
	}
	out.Merge(&persisted)
	return out, nil
}

func (s *fileStore) Save(ctx context.Context, l *Ledger) error {
	_ = ctx
	if l == nil {
		return errors.New("nil ledger")
	}
	if err := ValidateRunID(l.RunID); err != nil {
		return err
	}
	if err := l.Check(); err != nil {
		return err
	}
	b, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(s.ledgerPath(l.RunID), b)
}

func (s *fileStore) List(ctx context.Context) ([]*Ledger, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.dir, "ledgers"))
	if err != nil {
		return nil, err
	}
	out := make([]*Ledger, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		runID := strings.TrimSuffix(name, ".json")
		if ValidateRunID(runID) != nil {
			continue
		}
		l, err := s.readLedger(filepath.Join(s.dir, "ledgers", name), runID)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunID < out[j].RunID })
	return out, nil
}

func (s *fileStore) SaveSummary(ctx context.Context, sum Summary) error {
	_ = ctx
	if sum == nil {
		sum = Summary{}
	}
	b, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(filepath.Join(s.dir, "summary.json"), b)
}

func (s *fileStore) LoadSummary(ctx context.Context) (Summary, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(filepath.Join(s.dir, "summary.json"))
	if errors.Is(err, fs.ErrNotExist) {
		return Summary{}, nil
	}
	if err != nil {
		return nil, err
	}
	var sum Summary
	if err := json.Unmarshal(b, &sum); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return sum, nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

// writeFileAtomic writes b to path via a synced temp file and rename, so a
// reader never observes a partially written file.
func writeFileAtomic(path string, b []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	// Best-effort: persist the rename itself.
	if d, err := os.Open(filepath.Dir(path)); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
