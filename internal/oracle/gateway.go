package oracle

import (
	"errors"

	"StableLedger/internal/apperrors"
	fpmath "StableLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// DefaultMaxStalenessSlots is the oldest quote accepted, in slots.
	DefaultMaxStalenessSlots uint64 = 100

	// DefaultFeedID is the collateral price feed.
	DefaultFeedID = "SOL/USD"
)

// Gateway validates quotes against a set of trusted oracle authorities.
// Read-only after construction.
type Gateway struct {
	authorities       map[common.Address]struct{}
	maxStalenessSlots uint64
	feedID            string
}

func NewGateway(authorities []common.Address, maxStalenessSlots uint64, feedID string) *Gateway {
	set := make(map[common.Address]struct{}, len(authorities))
	for _, a := range authorities {
		set[a] = struct{}{}
	}
	if feedID == "" {
		feedID = DefaultFeedID
	}
	return &Gateway{
		authorities:       set,
		maxStalenessSlots: maxStalenessSlots,
		feedID:            feedID,
	}
}

func (g *Gateway) FeedID() string {
	return g.feedID
}

func (g *Gateway) MaxStalenessSlots() uint64 {
	return g.maxStalenessSlots
}

// Validate checks freshness, then authenticity, then the price itself.
func (g *Gateway) Validate(q PriceQuote, nowSlot uint64) (ValidatedPrice, error) {
	if q.Slot > nowSlot {
		return ValidatedPrice{}, apperrors.Newf(apperrors.KindStaleQuote,
			"quote slot %d is ahead of current slot %d", q.Slot, nowSlot)
	}
	if age := nowSlot - q.Slot; age > g.maxStalenessSlots {
		return ValidatedPrice{}, apperrors.Newf(apperrors.KindStaleQuote,
			"quote age %d slots exceeds %d", age, g.maxStalenessSlots)
	}

	signer, err := q.RecoverSigner()
	if err != nil {
		return ValidatedPrice{}, apperrors.WithCause(apperrors.KindUntrustedSource, "unverifiable quote signature", err)
	}
	if _, ok := g.authorities[signer]; !ok {
		return ValidatedPrice{}, apperrors.Newf(apperrors.KindUntrustedSource,
			"quote signed by unknown source %s", signer.Hex())
	}

	if q.Price <= 0 {
		return ValidatedPrice{}, apperrors.Newf(apperrors.KindInvalidPrice, "price %d", q.Price)
	}
	if q.AssetID != g.feedID {
		return ValidatedPrice{}, apperrors.Newf(apperrors.KindMissingPriceFeed,
			"quote for %q, expected %q", q.AssetID, g.feedID)
	}

	return ValidatedPrice{price: q.Price, slot: q.Slot, signer: signer}, nil
}

// ValidatedPrice is a quote that passed Gateway.Validate.
type ValidatedPrice struct {
	price  int64
	slot   uint64
	signer common.Address
}

// RestoreValidatedPrice rebuilds a price validated earlier, e.g. the last
// observed price restored from a snapshot.
func RestoreValidatedPrice(price int64, slot uint64) ValidatedPrice {
	return ValidatedPrice{price: price, slot: slot}
}

func (p ValidatedPrice) Price() int64 {
	return p.price
}

func (p ValidatedPrice) Slot() uint64 {
	return p.slot
}

func (p ValidatedPrice) Signer() common.Address {
	return p.signer
}

func (p ValidatedPrice) IsZero() bool {
	return p.price == 0
}

// NativeToUsd values native base units in stable base units, rounding down.
func (p ValidatedPrice) NativeToUsd(native int64) (int64, error) {
	v, err := fpmath.NativeToUsd(native, p.price)
	return v, mapMathErr(err)
}

// UsdToNative converts stable base units into native base units, rounding down.
func (p ValidatedPrice) UsdToNative(usd int64) (int64, error) {
	v, err := fpmath.UsdToNative(usd, p.price)
	return v, mapMathErr(err)
}

func mapMathErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, fpmath.ErrOverflow) {
		return apperrors.WithCause(apperrors.KindMathOverflow, "price conversion overflow", err)
	}
	if errors.Is(err, fpmath.ErrDivideByZero) {
		return apperrors.WithCause(apperrors.KindInvalidPrice, "zero price", err)
	}
	return err
}
