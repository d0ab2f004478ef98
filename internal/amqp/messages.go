package amqp

import (
	"encoding/json"
	"time"
)

// Event kinds carried by LedgerEvent.
const (
	KindExpenseRecorded     = "expense.recorded"
	KindExpenseUpdated      = "expense.updated"
	KindExpenseDeleted      = "expense.deleted"
	KindFundDeposited       = "fund.deposited"
	KindFundSpent           = "fund.spent"
	KindSettlementRequested = "settlement.requested"
	KindSettlementApproved  = "settlement.approved"
	KindSettlementRejected  = "settlement.rejected"
	KindSettlementCancelled = "settlement.cancelled"
	KindReportRequested     = "report.requested"
)

// LedgerEvent describes one committed ledger mutation. The worker
// consumes these to append audit records and to trigger report
// exports; consumers fetch full entities from storage by EntityID.
type LedgerEvent struct {
	TripID      string    `json:"trip_id"`
	Kind        string    `json:"kind"`
	EntityID    string    `json:"entity_id"`
	ActorID     string    `json:"actor_id"`
	AmountCents int64     `json:"amount_cents"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// NewLedgerEvent stamps an event with the current time.
func NewLedgerEvent(tripID, kind, entityID, actorID string, amountCents int64) LedgerEvent {
	return LedgerEvent{
		TripID:      tripID,
		Kind:        kind,
		EntityID:    entityID,
		ActorID:     actorID,
		AmountCents: amountCents,
		OccurredAt:  time.Now().UTC(),
	}
}

func (e LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var ev LedgerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
