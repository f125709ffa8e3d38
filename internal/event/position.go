package event

import (
	"strings"
	"time"

	"StableLedger/internal/oracle"

	"github.com/ethereum/go-ethereum/common"
)

// PositionPartition is the ordering partition for a depositor's deposits and withdrawals.
func PositionPartition(depositor common.Address) string {
	return "position:" + strings.ToLower(depositor.Hex())
}

// LiquidatorPartition orders one liquidator's requests.
func LiquidatorPartition(liquidator common.Address) string {
	return "liquidator:" + strings.ToLower(liquidator.Hex())
}

// Deposit locks collateral and optionally mints against it.
type Deposit struct {
	RequestID        string
	Depositor        common.Address
	CollateralAmount int64 // native base units
	MintAmount       int64 // stable base units, may be 0
	PriceQuote       oracle.PriceQuote
	CurrentSlot      uint64
	Sequence         int64
	Timestamp        time.Time
}

func (e *Deposit) IdempotencyKey() string    { return e.RequestID }
func (e *Deposit) EventType() EventType      { return EventTypeDeposit }
func (e *Deposit) Partition() string         { return PositionPartition(e.Depositor) }
func (e *Deposit) SourceSequence() int64     { return e.Sequence }
func (e *Deposit) EventTimestamp() time.Time { return e.Timestamp }
func (e *Deposit) Quote() oracle.PriceQuote  { return e.PriceQuote }
func (e *Deposit) NowSlot() uint64           { return e.CurrentSlot }

// Withdraw releases collateral and/or burns debt.
type Withdraw struct {
	RequestID        string
	Depositor        common.Address
	CollateralAmount int64
	BurnAmount       int64
	PriceQuote       oracle.PriceQuote
	CurrentSlot      uint64
	Sequence         int64
	Timestamp        time.Time
}

func (e *Withdraw) IdempotencyKey() string    { return e.RequestID }
func (e *Withdraw) EventType() EventType      { return EventTypeWithdraw }
func (e *Withdraw) Partition() string         { return PositionPartition(e.Depositor) }
func (e *Withdraw) SourceSequence() int64     { return e.Sequence }
func (e *Withdraw) EventTimestamp() time.Time { return e.Timestamp }
func (e *Withdraw) Quote() oracle.PriceQuote  { return e.PriceQuote }
func (e *Withdraw) NowSlot() uint64           { return e.CurrentSlot }

// Liquidate repays part of an unhealthy position's debt in exchange for collateral.
type Liquidate struct {
	RequestID   string
	Liquidator  common.Address
	Depositor   common.Address // target position
	BurnAmount  int64
	PriceQuote  oracle.PriceQuote
	CurrentSlot uint64
	Sequence    int64
	Timestamp   time.Time
}

func (e *Liquidate) IdempotencyKey() string    { return e.RequestID }
func (e *Liquidate) EventType() EventType      { return EventTypeLiquidate }
func (e *Liquidate) Partition() string         { return LiquidatorPartition(e.Liquidator) }
func (e *Liquidate) SourceSequence() int64     { return e.Sequence }
func (e *Liquidate) EventTimestamp() time.Time { return e.Timestamp }
func (e *Liquidate) Quote() oracle.PriceQuote  { return e.PriceQuote }
func (e *Liquidate) NowSlot() uint64           { return e.CurrentSlot }
