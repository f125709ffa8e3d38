package server

import (
	"strings"

	"StableLedger/internal/core"
	"StableLedger/internal/oracle"
	"StableLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type configView struct {
	Authority               string `json:"authority"`
	LiquidationThresholdBps uint16 `json:"liquidation_threshold_bps"`
	LiquidationBonusBps     uint16 `json:"liquidation_bonus_bps"`
	MinHealthFactorBps      uint16 `json:"min_health_factor_bps"`
	MintReference           string `json:"mint_reference"`
	LiquidationPolicy       string `json:"liquidation_policy"`
}

type positionView struct {
	Depositor        string `json:"depositor"`
	CollateralAmount int64  `json:"collateral_amount"`
	AmountMinted     int64  `json:"amount_minted"`
	Status           string `json:"status"`
	Version          int64  `json:"version"`
}

type liquidationView struct {
	Depositor      string          `json:"depositor"`
	Liquidator     string          `json:"liquidator"`
	BurnAmount     int64           `json:"burn_amount"`
	BaseCollateral int64           `json:"base_collateral"`
	Bonus          int64           `json:"bonus"`
	Seized         int64           `json:"seized"`
	Capped         bool            `json:"capped"`
	PreHealth      core.HealthView `json:"pre_health"`
	PostHealth     core.HealthView `json:"post_health"`
}

type receiptView struct {
	Sequence       int64            `json:"sequence"`
	EventType      string           `json:"event_type"`
	IdempotencyKey string           `json:"idempotency_key"`
	Duplicate      bool             `json:"duplicate"`
	StateHash      string           `json:"state_hash,omitempty"`
	Config         *configView      `json:"config,omitempty"`
	Position       *positionView    `json:"position,omitempty"`
	Health         *core.HealthView `json:"health,omitempty"`
	Liquidation    *liquidationView `json:"liquidation,omitempty"`
	Price          string           `json:"price_usd,omitempty"`
}

type livePositionView struct {
	Position positionView     `json:"position"`
	Health   *core.HealthView `json:"health,omitempty"`
	AsOf     int64            `json:"as_of_sequence"`
}

type liveConfigView struct {
	Config        configView `json:"config"`
	LastPriceUSD  string     `json:"last_price_usd,omitempty"`
	LastPriceSlot uint64     `json:"last_price_slot,omitempty"`
	SlotMark      uint64     `json:"slot_mark"` // lowest current_slot still accepted
	Supply        int64      `json:"supply"`
	AsOf          int64      `json:"as_of_sequence"`
}

type liveBalancesView struct {
	Address string `json:"address"`
	Wallet  int64  `json:"wallet"`
	Vault   int64  `json:"vault"`
	Stable  int64  `json:"stable"`
	AsOf    int64  `json:"as_of_sequence"`
}

func lowerHex(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func newConfigView(c state.Config) configView {
	return configView{
		Authority:               lowerHex(c.Authority),
		LiquidationThresholdBps: c.LiquidationThresholdBps,
		LiquidationBonusBps:     c.LiquidationBonusBps,
		MinHealthFactorBps:      c.MinHealthFactorBps,
		MintReference:           lowerHex(c.MintReference),
		LiquidationPolicy:       string(c.LiquidationPolicy),
	}
}

func newPositionView(p state.Position) positionView {
	return positionView{
		Depositor:        lowerHex(p.Depositor),
		CollateralAmount: p.CollateralAmount,
		AmountMinted:     p.AmountMinted,
		Status:           p.Status.String(),
		Version:          p.Version,
	}
}

func newReceiptView(r *core.Receipt) receiptView {
	v := receiptView{
		Sequence:       r.Sequence,
		EventType:      r.EventType,
		IdempotencyKey: r.IdempotencyKey,
		Duplicate:      r.Duplicate,
		Health:         r.Health,
	}
	if !r.Duplicate {
		v.StateHash = hexutil.Encode(r.StateHash[:])
	}
	if r.Config != nil {
		cv := newConfigView(*r.Config)
		v.Config = &cv
	}
	if r.Position != nil {
		pv := newPositionView(*r.Position)
		v.Position = &pv
	}
	if lr := r.Liquidation; lr != nil {
		v.Liquidation = &liquidationView{
			Depositor:      lowerHex(lr.Depositor),
			Liquidator:     lowerHex(lr.Liquidator),
			BurnAmount:     lr.BurnAmount,
			BaseCollateral: lr.BaseCollateral,
			Bonus:          lr.Bonus,
			Seized:         lr.Seized,
			Capped:         lr.Capped,
			PreHealth:      lr.PreHealth,
			PostHealth:     lr.PostHealth,
		}
	}
	if r.Price > 0 {
		v.Price = oracle.FormatPrice(r.Price)
	}
	return v
}
