package amqp

import (
	"testing"
	"time"
)

func TestLedgerEventRoundTrip(t *testing.T) {
	ev := NewLedgerEvent("t1", KindSettlementApproved, "s1", "alice", 3000)
	body, err := ev.ToJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := LedgerEventFromJSON(body)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.TripID != "t1" || got.Kind != KindSettlementApproved || got.EntityID != "s1" ||
		got.ActorID != "alice" || got.AmountCents != 3000 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if time.Since(got.OccurredAt) > time.Minute {
		t.Error("occurred_at not stamped")
	}
}

func TestLedgerEventFromJSONRejectsGarbage(t *testing.T) {
	if _, err := LedgerEventFromJSON([]byte("not json")); err == nil {
		t.Error("expected error for invalid payload")
	}
}
