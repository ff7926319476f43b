package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"campaignbot/internal/campaign"
	"campaignbot/internal/config"
	logx "campaignbot/pkg/logx"
)

func TestObserverCountsOutcomes(t *testing.T) {
	before := testutil.ToFloat64(OutcomesTotal.WithLabelValues("sent"))
	attempts := testutil.ToFloat64(SendAttemptsTotal)

	var obs Observer
	obs.Outcome("r1", campaign.Outcome{Kind: campaign.OutcomeSent, Attempts: 2})
	obs.Outcome("r1", campaign.Outcome{Kind: campaign.OutcomeFailed, Attempts: 3, Err: errors.New("x")})

	if got := testutil.ToFloat64(OutcomesTotal.WithLabelValues("sent")) - before; got != 1 {
		t.Fatalf("sent delta = %v", got)
	}
	if got := testutil.ToFloat64(SendAttemptsTotal) - attempts; got != 5 {
		t.Fatalf("attempts delta = %v", got)
	}
}

func TestObserverStateIsOneHot(t *testing.T) {
	var obs Observer
	obs.State(campaign.StatePacing)
	if v := testutil.ToFloat64(OrchestratorState.WithLabelValues("pacing")); v != 1 {
		t.Fatalf("pacing = %v", v)
	}
	if v := testutil.ToFloat64(OrchestratorState.WithLabelValues("sending")); v != 0 {
		t.Fatalf("sending = %v", v)
	}
	obs.Pending("2024-01-01", 4)
	if v := testutil.ToFloat64(PendingRecipients.WithLabelValues("2024-01-01")); v != 4 {
		t.Fatalf("pending = %v", v)
	}
}

func TestServerServesMetricsAndHealth(t *testing.T) {
	s := NewServer(logx.Nop(), func() (bool, map[string]any) {
		return false, map[string]any{"transport": "not ready"}
	})
	if err := s.Apply(context.Background(), config.MetricsConfig{Enabled: true, Addr: "127.0.0.1:0"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	defer s.Stop(context.Background())
	base := "http://" + s.Addr()

	resp, err := http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "campaign_send_attempts_total") {
		t.Fatalf("metrics output missing series:\n%s", body)
	}

	resp, err = http.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var detail map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if detail["status"] != "unavailable" || detail["transport"] != "not ready" {
		t.Fatalf("detail = %v", detail)
	}

	if err := s.Apply(context.Background(), config.MetricsConfig{Enabled: false}); err != nil {
		t.Fatalf("Apply disable: %v", err)
	}
	if s.Addr() != "" {
		t.Fatal("server still running after disable")
	}
}
