package campaign

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"campaignbot/internal/ledger"
	"campaignbot/internal/transport"
	logx "campaignbot/pkg/logx"
)

// Aggregate builds the summary over every historical ledger, ordered by run id.
// It is recomputed in full each time.
func Aggregate(all []*ledger.Ledger) ledger.Summary {
	out := make(ledger.Summary, 0, len(all))
	for _, l := range all {
		if l == nil {
			continue
		}
		out = append(out, ledger.RunTotal{RunID: l.RunID, Total: len(l.Sent)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RunID < out[j].RunID })
	return out
}

// FormatReport renders the operator summary for the current run.
func FormatReport(sum ledger.Summary, current *ledger.Ledger) string {
	sent, failed, skipped := current.Counts()

	var b strings.Builder
	fmt.Fprintf(&b, "Campaign report %s\n", current.RunID)
	fmt.Fprintf(&b, "sent: %s\n", humanize.Comma(int64(sent)))
	fmt.Fprintf(&b, "failed: %s\n", humanize.Comma(int64(failed)))
	fmt.Fprintf(&b, "skipped: %s\n", humanize.Comma(int64(skipped)))
	if len(sum) > 0 {
		b.WriteString("history:\n")
		for _, r := range sum {
			fmt.Fprintf(&b, "  %s: %s\n", r.RunID, humanize.Comma(int64(r.Total)))
		}
		fmt.Fprintf(&b, "all runs: %s sent over %d runs", humanize.Comma(int64(sum.Sum())), len(sum))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Reporter delivers the completion notice to the operator.
type Reporter struct {
	tr       transport.Transport
	operator transport.RecipientID
	log      logx.Logger
}

// NewReporter returns nil when operator is empty (reporting disabled).
func NewReporter(tr transport.Transport, operator transport.RecipientID, log logx.Logger) *Reporter {
	if strings.TrimSpace(string(operator)) == "" {
		return nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reporter{tr: tr, operator: operator, log: log}
}

// Report formats the summary and sends it to the operator. The returned
// payload is valid even when delivery fails.
func (r *Reporter) Report(ctx context.Context, sum ledger.Summary, current *ledger.Ledger) (transport.Payload, error) {
	p := transport.Payload{Text: FormatReport(sum, current)}
	to, err := r.tr.Resolve(ctx, r.operator)
	if err != nil {
		return p, fmt.Errorf("resolve operator %s: %w", r.operator, err)
	}
	if err := r.tr.Send(ctx, to, p); err != nil {
		return p, fmt.Errorf("send report: %w", err)
	}
	return p, nil
}
