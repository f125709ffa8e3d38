package state

import (
	"bytes"
	"sort"

	"StableLedger/internal/apperrors"

	"github.com/ethereum/go-ethereum/common"
)

// PositionStatus tracks the position lifecycle
type PositionStatus int32

const (
	PositionStatusUninitialized PositionStatus = iota
	PositionStatusActive
	PositionStatusLiquidatable
)

func (s PositionStatus) String() string {
	switch s {
	case PositionStatusUninitialized:
		return "Uninitialized"
	case PositionStatusActive:
		return "Active"
	case PositionStatusLiquidatable:
		return "Liquidatable"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates state transitions
func (s PositionStatus) CanTransitionTo(next PositionStatus) bool {
	validTransitions := map[PositionStatus][]PositionStatus{
		PositionStatusUninitialized: {
			PositionStatusActive,
		},
		PositionStatusActive: {
			PositionStatusActive,
			PositionStatusLiquidatable,
		},
		PositionStatusLiquidatable: {
			PositionStatusLiquidatable, // partial liquidation, still unhealthy
			PositionStatusActive,       // health recovered
		},
	}

	for _, allowed := range validTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// Position is one depositor's collateral and debt.
type Position struct {
	Depositor        common.Address
	CollateralAmount int64 // native base units escrowed in the vault
	AmountMinted     int64 // outstanding debt in stable base units
	Initialized      bool
	Status           PositionStatus
	Version          int64 // bumped on every committed change
}

// IsEmpty reports a position with neither collateral nor debt.
func (p *Position) IsEmpty() bool {
	return p.CollateralAmount == 0 && p.AmountMinted == 0
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 64)

	// depositor (20 bytes)
	buf = append(buf, p.Depositor.Bytes()...)

	buf = appendInt64LE(buf, p.CollateralAmount)
	buf = appendInt64LE(buf, p.AmountMinted)

	if p.Initialized {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, byte(p.Status))
	buf = appendInt64LE(buf, p.Version)

	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// PositionDelta is a planned change to one position.
type PositionDelta struct {
	CollateralDelta int64
	DebtDelta       int64
}

// Apply returns the position after the delta. The receiver is not modified.
func (p *Position) Apply(d PositionDelta) (Position, error) {
	next := *p
	next.CollateralAmount += d.CollateralDelta
	next.AmountMinted += d.DebtDelta
	if next.CollateralAmount < 0 {
		return Position{}, apperrors.Newf(apperrors.KindInsufficientCollateral,
			"collateral %d, requested %d", p.CollateralAmount, -d.CollateralDelta)
	}
	if next.AmountMinted < 0 {
		return Position{}, apperrors.Newf(apperrors.KindInsufficientDebt,
			"debt %d, requested %d", p.AmountMinted, -d.DebtDelta)
	}
	return next, nil
}

// PositionLedger holds every position, keyed by depositor.
// Not thread-safe; owned by the deterministic core.
type PositionLedger struct {
	positions       map[common.Address]*Position
	totalDebt       int64
	totalCollateral int64
}

func NewPositionLedger() *PositionLedger {
	return &PositionLedger{
		positions: make(map[common.Address]*Position),
	}
}

// Get returns a copy of the depositor's position. An unknown depositor
// yields an uninitialized zero position.
func (pl *PositionLedger) Get(depositor common.Address) Position {
	if p, ok := pl.positions[depositor]; ok {
		return *p
	}
	return Position{Depositor: depositor, Status: PositionStatusUninitialized}
}

// Exists reports whether the depositor has ever deposited.
func (pl *PositionLedger) Exists(depositor common.Address) bool {
	_, ok := pl.positions[depositor]
	return ok
}

// Commit stores next as the depositor's position after checking the status transition.
func (pl *PositionLedger) Commit(next Position) error {
	prev := pl.Get(next.Depositor)
	if !prev.Status.CanTransitionTo(next.Status) {
		return apperrors.Newf(apperrors.KindInternal, "invalid status transition %s -> %s",
			prev.Status, next.Status)
	}
	next.Initialized = true
	next.Version = prev.Version + 1
	pl.totalDebt += next.AmountMinted - prev.AmountMinted
	pl.totalCollateral += next.CollateralAmount - prev.CollateralAmount
	p := next
	pl.positions[next.Depositor] = &p
	return nil
}

// Restore inserts a position verbatim (snapshot recovery).
func (pl *PositionLedger) Restore(p Position) {
	if prev, ok := pl.positions[p.Depositor]; ok {
		pl.totalDebt -= prev.AmountMinted
		pl.totalCollateral -= prev.CollateralAmount
	}
	cp := p
	pl.positions[p.Depositor] = &cp
	pl.totalDebt += p.AmountMinted
	pl.totalCollateral += p.CollateralAmount
}

// TotalDebt is the outstanding debt over all positions.
func (pl *PositionLedger) TotalDebt() int64 {
	return pl.totalDebt
}

// TotalCollateral is the escrowed collateral over all positions.
func (pl *PositionLedger) TotalCollateral() int64 {
	return pl.totalCollateral
}

func (pl *PositionLedger) Len() int {
	return len(pl.positions)
}

// Sorted returns copies of all positions in depositor order.
func (pl *PositionLedger) Sorted() []Position {
	out := make([]Position, 0, len(pl.positions))
	for _, p := range pl.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Depositor[:], out[j].Depositor[:]) < 0
	})
	return out
}
