package core

import (
	"StableLedger/internal/event"
	"StableLedger/internal/ledger"
	"StableLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
)

// CoreOutput is everything downstream workers need for one applied event.
type CoreOutput struct {
	Envelope    *event.EventEnvelope
	Event       event.Event
	Batch       *ledger.Batch
	Position    *state.Position
	Liquidation *LiquidationReceipt
	Config      *state.Config
	StateDelta  []byte
}

// HealthView is a health factor rendered for callers.
type HealthView struct {
	Bps          int64  `json:"bps"` // saturates for infinite
	Infinite     bool   `json:"infinite"`
	Display      string `json:"display"`
	MeetsMinimum bool   `json:"meets_minimum"`
}

func NewHealthView(hf state.HealthFactor, cfg state.Config) HealthView {
	return HealthView{
		Bps:          hf.Bps(),
		Infinite:     hf.IsInfinite(),
		Display:      hf.String(),
		MeetsMinimum: hf.MeetsMinimum(cfg.MinHealthFactorBps),
	}
}

// LiquidationReceipt describes an applied liquidation.
type LiquidationReceipt struct {
	Depositor      common.Address
	Liquidator     common.Address
	BurnAmount     int64
	BaseCollateral int64
	Bonus          int64
	Seized         int64
	Capped         bool
	PreHealth      HealthView
	PostHealth     HealthView
	Position       state.Position
}

func newLiquidationReceipt(plan state.LiquidationPlan, cfg state.Config, committed state.Position) *LiquidationReceipt {
	return &LiquidationReceipt{
		Depositor:      plan.Depositor,
		Liquidator:     plan.Liquidator,
		BurnAmount:     plan.BurnAmount,
		BaseCollateral: plan.BaseCollateral,
		Bonus:          plan.Bonus,
		Seized:         plan.Seized,
		Capped:         plan.Capped,
		PreHealth:      NewHealthView(plan.PreHealth, cfg),
		PostHealth:     NewHealthView(plan.PostHealth, cfg),
		Position:       committed,
	}
}

// Receipt is the reply to a processed request.
// A duplicate carries only the request identity and Duplicate=true.
type Receipt struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Duplicate      bool
	StateHash      [32]byte

	Config      *state.Config
	Position    *state.Position
	Health      *HealthView
	Liquidation *LiquidationReceipt
	Price       int64 // validated quote price, 0 when none
}

// Balances is one address's view across its ledger accounts.
type Balances struct {
	Wallet int64 // native, unlocked
	Vault  int64 // native, escrowed
	Stable int64 // stable token
}
