// Package metrics exposes campaign progress as Prometheus series.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"campaignbot/internal/campaign"
)

var (
	// OutcomesTotal counts recorded outcomes per kind.
	OutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_outcomes_total",
			Help: "Recipient outcomes recorded in the ledger",
		},
		[]string{"outcome"},
	)

	// SendAttemptsTotal counts calls to the transport send primitive.
	SendAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "campaign_send_attempts_total",
			Help: "Send attempts including retries",
		},
	)

	// PendingRecipients is the size of the pending set at the start of the current run.
	PendingRecipients = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "campaign_pending_recipients",
			Help: "Recipients pending when the run started",
		},
		[]string{"run_id"},
	)

	// OrchestratorState is 1 for the current state and 0 for the others.
	OrchestratorState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "campaign_orchestrator_state",
			Help: "Current orchestrator state",
		},
		[]string{"state"},
	)

	// RunsTotal counts runs by result.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_runs_total",
			Help: "Campaign runs by result",
		},
		[]string{"result"},
	)

	// LastRunTimestamp is the unix time the last run finished.
	LastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "campaign_last_run_timestamp_seconds",
			Help: "Unix time of the last finished run",
		},
	)
)

var allStates = []campaign.State{
	campaign.StateIdle,
	campaign.StateSelecting,
	campaign.StateSending,
	campaign.StateCheckpointing,
	campaign.StatePacing,
	campaign.StateReporting,
	campaign.StateShuttingDown,
	campaign.StateDone,
}

// Observer implements campaign.Observer on the package-level series.
type Observer struct{}

func (Observer) Pending(runID string, n int) {
	PendingRecipients.Reset()
	PendingRecipients.WithLabelValues(runID).Set(float64(n))
}

func (Observer) Outcome(_ string, o campaign.Outcome) {
	OutcomesTotal.WithLabelValues(o.Kind.String()).Inc()
	SendAttemptsTotal.Add(float64(o.Attempts))
}

func (Observer) State(s campaign.State) {
	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1
		}
		OrchestratorState.WithLabelValues(st.String()).Set(v)
	}
}

// RunFinished records a run result: "completed", "interrupted", "nothing_pending" or "error".
func RunFinished(result string, at time.Time) {
	RunsTotal.WithLabelValues(result).Inc()
	LastRunTimestamp.Set(float64(at.Unix()))
}

var _ campaign.Observer = Observer{}
