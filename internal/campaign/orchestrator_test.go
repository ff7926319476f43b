package campaign

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/goleak"

	"campaignbot/internal/ledger"
	"campaignbot/internal/transport"
	logx "campaignbot/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var ignoreLedgerIndex = cmpopts.IgnoreUnexported(ledger.Ledger{})

func TestRunAllSucceed(t *testing.T) {
	st := openStore(t, t.TempDir())
	tr := newFakeTransport()
	o := newTestOrchestrator(st, tr)

	res, err := o.Run(context.Background(), "2024-01-01", recipients("A", "B", "C"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := &ledger.Ledger{
		RunID:   "2024-01-01",
		Total:   3,
		Sent:    recipients("A", "B", "C"),
		Failed:  recipients(),
		Skipped: recipients(),
	}
	got, err := st.Load(context.Background(), "2024-01-01")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(want, got, ignoreLedgerIndex); diff != "" {
		t.Fatalf("persisted ledger mismatch (-want +got):\n%s", diff)
	}
	if res.Processed != 3 || res.Interrupted {
		t.Fatalf("unexpected result: %+v", res)
	}
	if o.State() != StateDone {
		t.Fatalf("state = %v, want done", o.State())
	}
}

func TestRunUnknownRecipientIsSkippedWithoutSend(t *testing.T) {
	st := openStore(t, t.TempDir())
	tr := newFakeTransport()
	tr.unknown["X"] = true
	o := newTestOrchestrator(st, tr)

	if _, err := o.Run(context.Background(), "r1", recipients("X")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	l, _ := st.Load(context.Background(), "r1")
	if l.Status("X") != ledger.StatusSkipped {
		t.Fatalf("X status = %v, want skipped", l.Status("X"))
	}
	if tr.totalSends() != 0 {
		t.Fatalf("expected no send attempts, got %d", tr.totalSends())
	}
}

func TestRunPermanentFailureIsSticky(t *testing.T) {
	dir := t.TempDir()
	st := openStore(t, dir)
	tr := newFakeTransport()
	tr.failures["Y"] = -1
	o := newTestOrchestrator(st, tr)

	if _, err := o.Run(context.Background(), "r1", recipients("Y")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := tr.sendCount("Y"); n != 3 {
		t.Fatalf("send attempts = %d, want 3", n)
	}
	l, _ := st.Load(context.Background(), "r1")
	if l.Status("Y") != ledger.StatusFailed {
		t.Fatalf("Y status = %v, want failed", l.Status("Y"))
	}

	// Second run with the same input: Y is not retried.
	res, err := o.Run(context.Background(), "r1", recipients("Y"))
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if res.Pending != 0 || tr.sendCount("Y") != 3 {
		t.Fatalf("failed recipient retried: pending=%d sends=%d", res.Pending, tr.sendCount("Y"))
	}
}

func TestRunRetryFailedPolicy(t *testing.T) {
	st := openStore(t, t.TempDir())
	tr := newFakeTransport()
	tr.failures["Y"] = 3 // fails the whole first attempt, succeeds after
	o := newTestOrchestrator(st, tr, WithSelector(Selector{RetryFailed: true}))

	if _, err := o.Run(context.Background(), "r1", recipients("Y")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := o.Run(context.Background(), "r1", recipients("Y")); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	l, _ := st.Load(context.Background(), "r1")
	if l.Status("Y") != ledger.StatusSent || len(l.Failed) != 0 {
		t.Fatalf("expected Y moved from failed to sent, got %+v", l)
	}
	if err := l.Check(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	st := openStore(t, t.TempDir())
	tr := newFakeTransport()
	tr.failures["B"] = -1
	o := newTestOrchestrator(st, tr)
	all := recipients("A", "B", "C")

	if _, err := o.Run(context.Background(), "r1", all); err != nil {
		t.Fatalf("Run: %v", err)
	}
	before := tr.totalSends()

	res, err := o.Run(context.Background(), "r1", all)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if tr.totalSends() != before {
		t.Fatalf("second run sent %d messages", tr.totalSends()-before)
	}
	if res.Pending != 0 || res.Reported {
		t.Fatalf("unexpected second result: %+v", res)
	}
}

func TestRunResumesAfterInterrupt(t *testing.T) {
	st := openStore(t, t.TempDir())
	tr := newFakeTransport()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Request shutdown while B is in flight.
	tr.onSend = func(to transport.ResolvedID) {
		if to == "B" {
			cancel()
		}
	}
	o := newTestOrchestrator(st, tr)
	all := recipients("A", "B", "C", "D")

	res, err := o.Run(ctx, "r1", all)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Interrupted || res.Processed != 2 {
		t.Fatalf("expected interrupt after 2 recipients, got %+v", res)
	}
	l, _ := st.Load(context.Background(), "r1")
	if l.Total != 2 || l.Status("B") != ledger.StatusSent {
		t.Fatalf("in-flight recipient not checkpointed: %+v", l)
	}
	if _, err := st.LoadSummary(context.Background()); err != nil {
		t.Fatalf("LoadSummary: %v", err)
	}

	// Restart: only C and D are sent; A and B are never re-sent.
	tr.onSend = nil
	res, err = o.Run(context.Background(), "r1", all)
	if err != nil {
		t.Fatalf("resumed Run: %v", err)
	}
	if res.Pending != 2 {
		t.Fatalf("resumed pending = %d, want 2", res.Pending)
	}
	for _, r := range []string{"A", "B", "C", "D"} {
		if n := tr.sendCount(r); n != 1 {
			t.Fatalf("%s sent %d times, want 1", r, n)
		}
	}
}

func TestRunShutdownDuringPacingSkipsReport(t *testing.T) {
	st := openStore(t, t.TempDir())
	tr := newFakeTransport()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pacingCalls := 0
	sleep := func(ctx context.Context, d time.Duration) error {
		pacingCalls++
		if d < 20*time.Second || d > 60*time.Second {
			t.Errorf("pacing delay %v outside [20s,60s]", d)
		}
		cancel()
		return ctx.Err()
	}
	att := NewAttempter(tr, 3, 0, logx.Nop())
	o := NewOrchestrator(st, att, NewSeededPacer(20*time.Second, 60*time.Second, 7), staticComposer("hi"),
		WithSleep(sleep), WithReporter(NewReporter(tr, "OP", logx.Nop())))

	res, err := o.Run(ctx, "r1", recipients("A", "B"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Interrupted || res.Reported || pacingCalls != 1 {
		t.Fatalf("unexpected result: %+v pacing=%d", res, pacingCalls)
	}
	if tr.sendCount("B") != 0 || tr.sendCount("OP") != 0 {
		t.Fatal("no new attempt or report may start after shutdown")
	}
}

func TestRunPacesBetweenRecipientsOnly(t *testing.T) {
	st := openStore(t, t.TempDir())
	tr := newFakeTransport()
	var waits []time.Duration
	sleep := func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	att := NewAttempter(tr, 3, 0, logx.Nop())
	o := NewOrchestrator(st, att, NewSeededPacer(time.Second, 2*time.Second, 3), staticComposer("hi"), WithSleep(sleep))

	if _, err := o.Run(context.Background(), "r1", recipients("A", "B", "C")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(waits) != 2 {
		t.Fatalf("pacing waits = %d, want 2", len(waits))
	}
}

func TestRunUnexpectedErrorsBecomeFailed(t *testing.T) {
	st := openStore(t, t.TempDir())
	tr := newFakeTransport()
	tr.resolveErr["D"] = errors.New("connection reset")
	tr.panics["P"] = true
	o := newTestOrchestrator(st, tr)

	res, err := o.Run(context.Background(), "r1", recipients("D", "P", "OK"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Processed != 3 {
		t.Fatalf("processed = %d, want 3", res.Processed)
	}
	l, _ := st.Load(context.Background(), "r1")
	if l.Status("D") != ledger.StatusFailed || l.Status("P") != ledger.StatusFailed || l.Status("OK") != ledger.StatusSent {
		t.Fatalf("unexpected ledger: %+v", l)
	}
}

func TestRunPersistenceFailureIsFatal(t *testing.T) {
	st := &failingStore{Store: openStore(t, t.TempDir()), okSaves: 1}
	tr := newFakeTransport()
	o := newTestOrchestrator(st, tr)

	_, err := o.Run(context.Background(), "r1", recipients("A", "B", "C"))
	if !errors.Is(err, ErrPersistence) || !IsPersistence(err) {
		t.Fatalf("err = %v, want ErrPersistence", err)
	}
	if tr.totalSends() != 2 {
		t.Fatalf("sends = %d, want 2 (run must stop at the failed checkpoint)", tr.totalSends())
	}
}

func TestRunReportsAndAggregates(t *testing.T) {
	st := openStore(t, t.TempDir())
	tr := newFakeTransport()
	tr.unknown["X"] = true
	o := newTestOrchestrator(st, tr, WithReporter(NewReporter(tr, "OP", logx.Nop())))

	if _, err := o.Run(context.Background(), "2024-01-01", recipients("A")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	res, err := o.Run(context.Background(), "2024-01-02", recipients("A", "X"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Reported || tr.sendCount("OP") != 2 {
		t.Fatalf("expected a report per completed run, got reported=%v sends=%d", res.Reported, tr.sendCount("OP"))
	}
	want := ledger.Summary{{RunID: "2024-01-01", Total: 1}, {RunID: "2024-01-02", Total: 1}}
	got, err := st.LoadSummary(context.Background())
	if err != nil {
		t.Fatalf("LoadSummary: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestRunReportFailureKeepsLedger(t *testing.T) {
	st := openStore(t, t.TempDir())
	tr := newFakeTransport()
	tr.failures["OP"] = -1
	o := newTestOrchestrator(st, tr, WithReporter(NewReporter(tr, "OP", logx.Nop())))

	res, err := o.Run(context.Background(), "r1", recipients("A"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Reported {
		t.Fatal("report should be marked undelivered")
	}
	l, _ := st.Load(context.Background(), "r1")
	if l.Total != 1 {
		t.Fatalf("ledger lost after report failure: %+v", l)
	}
}

func TestRunDeliversDeferredReportAfterShutdownOnLastRecipient(t *testing.T) {
	st := openStore(t, t.TempDir())
	tr := newFakeTransport()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.onSend = func(to transport.ResolvedID) {
		if to == "B" {
			cancel()
		}
	}
	o := newTestOrchestrator(st, tr, WithReporter(NewReporter(tr, "OP", logx.Nop())))
	all := recipients("A", "B")

	res, err := o.Run(ctx, "r1", all)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Interrupted || res.Reported || tr.sendCount("OP") != 0 {
		t.Fatalf("interrupted run: %+v op=%d", res, tr.sendCount("OP"))
	}

	tr.onSend = nil
	res, err = o.Run(context.Background(), "r1", all)
	if err != nil {
		t.Fatalf("restart Run: %v", err)
	}
	if res.Pending != 0 || !res.Reported || tr.sendCount("OP") != 1 {
		t.Fatalf("restart: %+v op=%d", res, tr.sendCount("OP"))
	}
	got, err := st.LoadSummary(context.Background())
	if err != nil {
		t.Fatalf("LoadSummary: %v", err)
	}
	if diff := cmp.Diff(ledger.Summary{{RunID: "r1", Total: 2}}, got); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}

	// Once reported, a further pass makes no transport call.
	res, err = o.Run(context.Background(), "r1", all)
	if err != nil {
		t.Fatalf("third Run: %v", err)
	}
	if res.Reported || tr.sendCount("OP") != 1 || tr.sendCount("A") != 1 || tr.sendCount("B") != 1 {
		t.Fatalf("third run: %+v op=%d", res, tr.sendCount("OP"))
	}
}

func TestRunReportPanicIsContained(t *testing.T) {
	st := openStore(t, t.TempDir())
	tr := newFakeTransport()
	tr.panics["OP"] = true
	o := newTestOrchestrator(st, tr, WithReporter(NewReporter(tr, "OP", logx.Nop())))

	res, err := o.Run(context.Background(), "r1", recipients("A"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Reported {
		t.Fatal("panicking report marked delivered")
	}
	if o.State() != StateDone {
		t.Fatalf("state = %v, want done", o.State())
	}
	l, _ := st.Load(context.Background(), "r1")
	if l.Total != 1 {
		t.Fatalf("ledger = %+v", l)
	}
}
