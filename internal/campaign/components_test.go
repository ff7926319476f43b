package campaign

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"campaignbot/internal/ledger"
	"campaignbot/internal/transport"
	logx "campaignbot/pkg/logx"
)

func TestSelectorPending(t *testing.T) {
	t.Parallel()
	l := ledger.New("r")
	l.Record("B", ledger.StatusSent)
	l.Record("C", ledger.StatusFailed)
	l.Record("D", ledger.StatusSkipped)
	all := recipients("A", "B", "C", "D", "E", "A")

	tests := []struct {
		name string
		sel  Selector
		want []transport.RecipientID
	}{
		{name: "sticky failures", sel: Selector{}, want: recipients("A", "D", "E")},
		{name: "retry failures", sel: Selector{RetryFailed: true}, want: recipients("A", "C", "D", "E")},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := tt.sel.Pending(all, l)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("Pending mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSelectorNilLedger(t *testing.T) {
	t.Parallel()
	got := Selector{}.Pending(recipients("A", "B"), nil)
	if len(got) != 2 {
		t.Fatalf("Pending = %v", got)
	}
}

func TestNextDelayBounds(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(1, 2))
	seenMin, seenMax := false, false
	for i := 0; i < 5000; i++ {
		d := NextDelay(rng, 10, 20)
		if d < 10 || d > 20 {
			t.Fatalf("NextDelay = %d outside [10,20]", d)
		}
		seenMin = seenMin || d == 10
		seenMax = seenMax || d == 20
	}
	if !seenMin || !seenMax {
		t.Fatalf("inclusive bounds not reached (min=%v max=%v)", seenMin, seenMax)
	}
	if d := NextDelay(rng, 30, 30); d != 30 {
		t.Fatalf("NextDelay(30,30) = %d", d)
	}
	if d := NextDelay(rng, 50, 40); d < 40 || d > 50 {
		t.Fatalf("swapped bounds: %d", d)
	}
	if d := NextDelay(nil, -5, -1); d != 0 {
		t.Fatalf("negative bounds: %d", d)
	}
}

func TestPacerApply(t *testing.T) {
	t.Parallel()
	p := NewSeededPacer(time.Second, 2*time.Second, 42)
	p.Apply(5*time.Millisecond, 5*time.Millisecond)
	if d := p.Next(); d != 5*time.Millisecond {
		t.Fatalf("Next after Apply = %v", d)
	}
	lo, hi := p.Bounds()
	if lo != hi || lo != 5*time.Millisecond {
		t.Fatalf("Bounds = %v,%v", lo, hi)
	}
}

func TestAttemptRetryBound(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport()
	tr.failures["Y"] = -1
	a := NewAttempter(tr, 3, 0, logx.Nop())

	out, err := a.Attempt(context.Background(), "Y", transport.Payload{Text: "x"})
	if err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if out.Kind != OutcomeFailed || out.Attempts != 3 || !errors.Is(out.Err, errSendFailed) {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if n := tr.sendCount("Y"); n != 3 {
		t.Fatalf("send invoked %d times, want 3", n)
	}
}

func TestAttemptTransientFailureRecovers(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport()
	tr.failures["A"] = 2
	a := NewAttempter(tr, 3, 0, logx.Nop())
	var delays []time.Duration
	a.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	a.Apply(3, 250*time.Millisecond)

	out, err := a.Attempt(context.Background(), "A", transport.Payload{Text: "x"})
	if err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if out.Kind != OutcomeSent || out.Attempts != 3 || out.Resolved != "A" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if len(delays) != 2 || delays[0] != 250*time.Millisecond {
		t.Fatalf("retry delays = %v", delays)
	}
}

func TestAttemptUnknownRecipient(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport()
	tr.unknown["X"] = true
	out, err := NewAttempter(tr, 3, 0, logx.Nop()).Attempt(context.Background(), "X", transport.Payload{})
	if err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if out.Kind != OutcomeSkipped || out.Attempts != 0 || tr.totalSends() != 0 {
		t.Fatalf("unexpected outcome: %+v sends=%d", out, tr.totalSends())
	}
}

func TestAttemptUnclassifiedResolveError(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport()
	tr.resolveErr["D"] = errors.New("disconnected")
	if _, err := NewAttempter(tr, 3, 0, logx.Nop()).Attempt(context.Background(), "D", transport.Payload{}); err == nil {
		t.Fatal("expected unclassified error")
	}
}

// partialTransport delivers the first part of every payload, then fails.
type partialTransport struct{ sends int }

func (p *partialTransport) Resolve(ctx context.Context, id transport.RecipientID) (transport.ResolvedID, error) {
	return transport.ResolvedID(id), nil
}

func (p *partialTransport) Send(ctx context.Context, to transport.ResolvedID, pl transport.Payload) error {
	p.sends++
	return fmt.Errorf("%w: 1 of 2 chunks sent: %w", transport.ErrPartialDelivery, errSendFailed)
}

func TestAttemptPartialDeliveryIsNotRetried(t *testing.T) {
	t.Parallel()
	tr := &partialTransport{}
	out, err := NewAttempter(tr, 3, 0, logx.Nop()).Attempt(context.Background(), "L", transport.Payload{Text: "long"})
	if err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if out.Kind != OutcomeFailed || out.Attempts != 1 || !errors.Is(out.Err, transport.ErrPartialDelivery) {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if tr.sends != 1 {
		t.Fatalf("send invoked %d times, want 1", tr.sends)
	}
}

func TestAttempterDefaults(t *testing.T) {
	t.Parallel()
	a := NewAttempter(newFakeTransport(), 0, -1, logx.Nop())
	n, d := a.policy()
	if n != defaultMaxRetries || d != defaultRetryDelay {
		t.Fatalf("policy = %d,%v", n, d)
	}
}

func TestAggregate(t *testing.T) {
	t.Parallel()
	day1 := ledger.New("2024-01-01")
	for _, r := range []string{"a", "b", "c", "d", "e"} {
		day1.Record(transport.RecipientID(r), ledger.StatusSent)
	}
	day2 := ledger.New("2024-01-02")
	for _, r := range []string{"a", "b", "c"} {
		day2.Record(transport.RecipientID(r), ledger.StatusSent)
	}
	day2.Record("z", ledger.StatusFailed)

	got := Aggregate([]*ledger.Ledger{day2, day1})
	want := ledger.Summary{{RunID: "2024-01-01", Total: 5}, {RunID: "2024-01-02", Total: 3}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Aggregate mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatReport(t *testing.T) {
	t.Parallel()
	l := ledger.New("2024-01-02")
	l.Record("a", ledger.StatusSent)
	l.Record("b", ledger.StatusFailed)
	l.Record("c", ledger.StatusSkipped)
	sum := ledger.Summary{{RunID: "2024-01-01", Total: 1200}, {RunID: "2024-01-02", Total: 1}}

	got := FormatReport(sum, l)
	for _, want := range []string{
		"Campaign report 2024-01-02",
		"sent: 1\n",
		"failed: 1\n",
		"skipped: 1\n",
		"2024-01-01: 1,200",
		"all runs: 1,201 sent over 2 runs",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("report missing %q:\n%s", want, got)
		}
	}
}

func TestNewReporterDisabled(t *testing.T) {
	t.Parallel()
	if r := NewReporter(newFakeTransport(), " ", logx.Nop()); r != nil {
		t.Fatal("expected nil reporter for empty operator")
	}
}
