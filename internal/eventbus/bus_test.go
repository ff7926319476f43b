package eventbus

import (
	"testing"

	"campaignbot/internal/campaign"
)

func TestPublishFansOutAndDropsWhenFull(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: TypePending, Pending: 1})
	b.Publish(Event{Type: TypePending, Pending: 2})

	if e := <-a; e.Pending != 1 || e.Time.IsZero() {
		t.Fatalf("first event = %+v", e)
	}
	select {
	case e := <-a:
		t.Fatalf("full subscriber received %+v", e)
	default:
	}
	if len(c) != 2 {
		t.Fatalf("buffered = %d, want 2", len(c))
	}

	unsubA()
	unsubA()
	if _, ok := <-a; ok {
		t.Fatal("channel not closed after unsubscribe")
	}
	b.Publish(Event{Type: TypeState})
}

func TestObserverProgress(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(16)
	defer unsub()

	obs := &Observer{Bus: b}
	obs.Pending("r1", 3)
	obs.State(campaign.StateSending)
	obs.Outcome("r1", campaign.Outcome{Kind: campaign.OutcomeSent})
	obs.Outcome("r1", campaign.Outcome{Kind: campaign.OutcomeSkipped})
	obs.State(campaign.StateSending)

	var p Progress
	changes := 0
	for len(ch) > 0 {
		if p.Apply(<-ch) {
			changes++
		}
	}
	if p.RunID != "r1" || p.Pending != 3 || p.Processed != 2 || p.State != campaign.StateSending {
		t.Fatalf("progress = %+v", p)
	}
	if changes != 4 {
		t.Fatalf("changes = %d, want 4", changes)
	}
}
