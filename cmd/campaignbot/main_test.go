package main

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"campaignbot/internal/app"
	"campaignbot/internal/campaign"
	"campaignbot/internal/ledger"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, 0},
		{"startup", fmt.Errorf("%w: bad config", app.ErrStartup), 1},
		{"persistence", fmt.Errorf("run: %w", campaign.ErrPersistence), 2},
		{"other", errors.New("boom"), 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := exitCode(tc.err); got != tc.want {
				t.Fatalf("exitCode(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, ledger.Summary{{RunID: "2024-01-01", Total: 1200}, {RunID: "2024-01-02", Total: 3}})
	out := buf.String()
	if !strings.Contains(out, "1,200") || !strings.Contains(out, "1,203") {
		t.Fatalf("summary output:\n%s", out)
	}

	buf.Reset()
	printSummary(&buf, nil)
	if got := strings.TrimSpace(buf.String()); got != "no runs recorded" {
		t.Fatalf("empty summary = %q", got)
	}
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, campaign.Result{RunID: "r1", Pending: 5, Processed: 2, Interrupted: true})
	if got := strings.TrimSpace(buf.String()); got != "run r1 interrupted after 2 of 5 pending" {
		t.Fatalf("got %q", got)
	}
}
