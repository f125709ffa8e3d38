package event

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func WalletPartition(owner common.Address) string {
	return "wallet:" + strings.ToLower(owner.Hex())
}

// WalletFunded records native collateral arriving in a user's wallet from outside the ledger.
type WalletFunded struct {
	RequestID string
	Owner     common.Address
	Amount    int64
	Sequence  int64
	Timestamp time.Time
}

func (e *WalletFunded) IdempotencyKey() string    { return e.RequestID }
func (e *WalletFunded) EventType() EventType      { return EventTypeWalletFunded }
func (e *WalletFunded) Partition() string         { return WalletPartition(e.Owner) }
func (e *WalletFunded) SourceSequence() int64     { return e.Sequence }
func (e *WalletFunded) EventTimestamp() time.Time { return e.Timestamp }

// WalletWithdrawn records native collateral leaving a user's wallet.
type WalletWithdrawn struct {
	RequestID string
	Owner     common.Address
	Amount    int64
	Sequence  int64
	Timestamp time.Time
}

func (e *WalletWithdrawn) IdempotencyKey() string    { return e.RequestID }
func (e *WalletWithdrawn) EventType() EventType      { return EventTypeWalletWithdrawn }
func (e *WalletWithdrawn) Partition() string         { return WalletPartition(e.Owner) }
func (e *WalletWithdrawn) SourceSequence() int64     { return e.Sequence }
func (e *WalletWithdrawn) EventTimestamp() time.Time { return e.Timestamp }
