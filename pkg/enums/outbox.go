package enums

import "fmt"

// OutboxEventType names the domain events published through the outbox.
type OutboxEventType string

const (
	OutboxEventTypeTransactionRecorded OutboxEventType = "ledger.transaction.recorded"
	OutboxEventTypeTransactionReversed OutboxEventType = "ledger.transaction.reversed"
	OutboxEventTypeParticipantPlaced   OutboxEventType = "matrix.participant.placed"
	OutboxEventTypeOrderSettled        OutboxEventType = "settlement.order.settled"
)

var validOutboxEventTypes = []OutboxEventType{
	OutboxEventTypeTransactionRecorded,
	OutboxEventTypeTransactionReversed,
	OutboxEventTypeParticipantPlaced,
	OutboxEventTypeOrderSettled,
}

// IsValid reports whether the event type is recognized.
func (t OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	OutboxAggregateTypeLedgerTransaction OutboxAggregateType = "ledger_transaction"
	OutboxAggregateTypeMatrixPlacement   OutboxAggregateType = "matrix_placement"
	OutboxAggregateTypeOrder             OutboxAggregateType = "order"
)

var validOutboxAggregateTypes = []OutboxAggregateType{
	OutboxAggregateTypeLedgerTransaction,
	OutboxAggregateTypeMatrixPlacement,
	OutboxAggregateTypeOrder,
}

// IsValid reports whether the aggregate type is recognized.
func (t OutboxAggregateType) IsValid() bool {
	for _, candidate := range validOutboxAggregateTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into an OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox event type %q", value)
}
