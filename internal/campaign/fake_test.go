package campaign

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"campaignbot/internal/ledger"
	"campaignbot/internal/transport"
	logx "campaignbot/pkg/logx"
)

// fakeTransport records calls and fails according to its tables.
type fakeTransport struct {
	mu sync.Mutex

	unknown    map[transport.RecipientID]bool
	resolveErr map[transport.RecipientID]error
	// failures[r] = number of leading Send calls that fail (-1: always).
	failures map[transport.RecipientID]int
	panics   map[transport.RecipientID]bool

	sends    map[transport.ResolvedID]int
	order    []transport.ResolvedID
	payloads []transport.Payload

	// onSend runs after every Send (e.g. to request shutdown mid-run).
	onSend func(to transport.ResolvedID)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		unknown:    map[transport.RecipientID]bool{},
		resolveErr: map[transport.RecipientID]error{},
		failures:   map[transport.RecipientID]int{},
		panics:     map[transport.RecipientID]bool{},
		sends:      map[transport.ResolvedID]int{},
	}
}

var errSendFailed = errors.New("send failed")

func (f *fakeTransport) Resolve(ctx context.Context, id transport.RecipientID) (transport.ResolvedID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unknown[id] {
		return "", transport.ErrRecipientUnknown
	}
	if err := f.resolveErr[id]; err != nil {
		return "", err
	}
	if f.panics[id] {
		panic("transport exploded")
	}
	return transport.ResolvedID(id), nil
}

func (f *fakeTransport) Send(ctx context.Context, to transport.ResolvedID, p transport.Payload) error {
	f.mu.Lock()
	f.sends[to]++
	n := f.sends[to]
	f.order = append(f.order, to)
	f.payloads = append(f.payloads, p)
	fail := f.failures[transport.RecipientID(to)]
	hook := f.onSend
	f.mu.Unlock()

	if hook != nil {
		hook(to)
	}
	if fail < 0 || n <= fail {
		return errSendFailed
	}
	return nil
}

func (f *fakeTransport) sendCount(to string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends[transport.ResolvedID(to)]
}

func (f *fakeTransport) totalSends() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.order)
}

// failingStore fails Save after okSaves successful calls.
type failingStore struct {
	ledger.Store
	okSaves int
	saves   int
}

func (s *failingStore) Save(ctx context.Context, l *ledger.Ledger) error {
	s.saves++
	if s.saves > s.okSaves {
		return errors.New("disk full")
	}
	return s.Store.Save(ctx, l)
}

func openStore(t *testing.T, dir string) ledger.Store {
	t.Helper()
	st, err := ledger.Open(ledger.Config{Driver: "file", Path: filepath.Join(dir, "data")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func recipients(s ...string) []transport.RecipientID {
	out := make([]transport.RecipientID, len(s))
	for i, v := range s {
		out[i] = transport.RecipientID(v)
	}
	return out
}

func staticComposer(text string) Composer {
	return ComposerFunc(func(transport.RecipientID) transport.Payload { return transport.Payload{Text: text} })
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func newTestOrchestrator(st ledger.Store, tr transport.Transport, opts ...Option) *Orchestrator {
	att := NewAttempter(tr, 3, 0, logx.Nop())
	pacer := NewSeededPacer(20*time.Second, 60*time.Second, 1)
	return NewOrchestrator(st, att, pacer, staticComposer("hello"), append([]Option{WithSleep(noSleep)}, opts...)...)
}
