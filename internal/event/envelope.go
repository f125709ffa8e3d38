package event

import (
	"time"

	"StableLedger/internal/oracle"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeInitializeConfig
	EventTypeUpdateConfig
	EventTypeDeposit
	EventTypeWithdraw
	EventTypeLiquidate
	EventTypeWalletFunded
	EventTypeWalletWithdrawn
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Ordering partition, e.g. "position:0xabc..."
	Partition string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// Wire-encoded event, filled in by the log writer
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Partition returns the ordering partition for source sequences
	Partition() string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64

	// EventTimestamp returns the versioned input timestamp
	EventTimestamp() time.Time
}

// Quoted is implemented by events that carry an oracle quote.
type Quoted interface {
	Event
	Quote() oracle.PriceQuote
	// NowSlot is the chain slot the request was submitted at; quote age is measured against it.
	NowSlot() uint64
}

func (et EventType) String() string {
	switch et {
	case EventTypeInitializeConfig:
		return "InitializeConfig"
	case EventTypeUpdateConfig:
		return "UpdateConfig"
	case EventTypeDeposit:
		return "Deposit"
	case EventTypeWithdraw:
		return "Withdraw"
	case EventTypeLiquidate:
		return "Liquidate"
	case EventTypeWalletFunded:
		return "WalletFunded"
	case EventTypeWalletWithdrawn:
		return "WalletWithdrawn"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of EventType.String.
func ParseEventType(s string) (EventType, bool) {
	for et := EventTypeInitializeConfig; et <= EventTypeWalletWithdrawn; et++ {
		if et.String() == s {
			return et, true
		}
	}
	return EventTypeUnknown, false
}
