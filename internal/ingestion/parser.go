package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"StableLedger/internal/apperrors"
	"StableLedger/internal/event"
	"StableLedger/internal/oracle"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a typed event.Event.
// The shell validates, parses, and converts raw events before they reach the core.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	return ParseEvent(eventType, raw.Data)
}

// ParseEvent decodes the wire JSON of eventType. Event type names are event.EventType.String().
func ParseEvent(eventType string, data []byte) (event.Event, error) {
	et, ok := event.ParseEventType(eventType)
	if !ok {
		return nil, apperrors.Newf(apperrors.KindInvalidRequest, "unknown event type: %s", eventType)
	}

	switch et {
	case event.EventTypeInitializeConfig:
		return parseInitializeConfig(data)
	case event.EventTypeUpdateConfig:
		return parseUpdateConfig(data)
	case event.EventTypeDeposit:
		return parseDeposit(data)
	case event.EventTypeWithdraw:
		return parseWithdraw(data)
	case event.EventTypeLiquidate:
		return parseLiquidate(data)
	case event.EventTypeWalletFunded:
		return parseWalletFunded(data)
	case event.EventTypeWalletWithdrawn:
		return parseWalletWithdrawn(data)
	}
	return nil, apperrors.Newf(apperrors.KindInvalidRequest, "unsupported event type: %s", eventType)
}

// EncodeEvent is the inverse of ParseEvent. The event log stores this form,
// so replay re-parses exactly what was applied.
func EncodeEvent(evt event.Event) ([]byte, error) {
	var v interface{}

	switch e := evt.(type) {
	case *event.InitializeConfig:
		v = initializeConfigJSON{
			RequestID:               e.RequestID,
			Authority:               hexAddress(e.Authority),
			LiquidationThresholdBps: e.LiquidationThresholdBps,
			LiquidationBonusBps:     e.LiquidationBonusBps,
			MinHealthFactorBps:      e.MinHealthFactorBps,
			MintReference:           hexAddress(e.MintReference),
			LiquidationPolicy:       e.LiquidationPolicy,
			Sequence:                e.Sequence,
			TimestampUs:             e.Timestamp.UnixMicro(),
		}
	case *event.UpdateConfig:
		j := updateConfigJSON{
			RequestID:               e.RequestID,
			Caller:                  hexAddress(e.Caller),
			LiquidationThresholdBps: e.LiquidationThresholdBps,
			LiquidationBonusBps:     e.LiquidationBonusBps,
			MinHealthFactorBps:      e.MinHealthFactorBps,
			LiquidationPolicy:       e.LiquidationPolicy,
			Sequence:                e.Sequence,
			TimestampUs:             e.Timestamp.UnixMicro(),
		}
		if e.NewAuthority != nil {
			s := hexAddress(*e.NewAuthority)
			j.NewAuthority = &s
		}
		v = j
	case *event.Deposit:
		v = depositJSON{
			RequestID:        e.RequestID,
			Depositor:        hexAddress(e.Depositor),
			CollateralAmount: e.CollateralAmount,
			MintAmount:       e.MintAmount,
			Quote:            encodeQuote(e.PriceQuote),
			CurrentSlot:      e.CurrentSlot,
			Sequence:         e.Sequence,
			TimestampUs:      e.Timestamp.UnixMicro(),
		}
	case *event.Withdraw:
		v = withdrawJSON{
			RequestID:        e.RequestID,
			Depositor:        hexAddress(e.Depositor),
			CollateralAmount: e.CollateralAmount,
			BurnAmount:       e.BurnAmount,
			Quote:            encodeQuote(e.PriceQuote),
			CurrentSlot:      e.CurrentSlot,
			Sequence:         e.Sequence,
			TimestampUs:      e.Timestamp.UnixMicro(),
		}
	case *event.Liquidate:
		v = liquidateJSON{
			RequestID:   e.RequestID,
			Liquidator:  hexAddress(e.Liquidator),
			Depositor:   hexAddress(e.Depositor),
			BurnAmount:  e.BurnAmount,
			Quote:       encodeQuote(e.PriceQuote),
			CurrentSlot: e.CurrentSlot,
			Sequence:    e.Sequence,
			TimestampUs: e.Timestamp.UnixMicro(),
		}
	case *event.WalletFunded:
		v = walletJSON{
			RequestID:   e.RequestID,
			Owner:       hexAddress(e.Owner),
			Amount:      e.Amount,
			Sequence:    e.Sequence,
			TimestampUs: e.Timestamp.UnixMicro(),
		}
	case *event.WalletWithdrawn:
		v = walletJSON{
			RequestID:   e.RequestID,
			Owner:       hexAddress(e.Owner),
			Amount:      e.Amount,
			Sequence:    e.Sequence,
			TimestampUs: e.Timestamp.UnixMicro(),
		}
	default:
		return nil, fmt.Errorf("encode: unsupported event %T", evt)
	}

	return json.Marshal(v)
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.
// Addresses are 0x-prefixed hex; timestamps are epoch microseconds.

type quoteJSON struct {
	AssetID   string `json:"asset_id"`
	Price     int64  `json:"price,omitempty"`     // fixed-point, 8 decimals
	PriceUSD  string `json:"price_usd,omitempty"` // decimal alternative to price
	Slot      uint64 `json:"slot"`
	Signature string `json:"signature"`
}

type initializeConfigJSON struct {
	RequestID               string `json:"request_id"`
	Authority               string `json:"authority"`
	LiquidationThresholdBps uint16 `json:"liquidation_threshold_bps"`
	LiquidationBonusBps     uint16 `json:"liquidation_bonus_bps"`
	MinHealthFactorBps      uint16 `json:"min_health_factor_bps"`
	MintReference           string `json:"mint_reference,omitempty"`
	LiquidationPolicy       string `json:"liquidation_policy,omitempty"`
	Sequence                int64  `json:"sequence"`
	TimestampUs             int64  `json:"timestamp_us"`
}

type updateConfigJSON struct {
	RequestID               string  `json:"request_id"`
	Caller                  string  `json:"caller"`
	NewAuthority            *string `json:"new_authority,omitempty"`
	LiquidationThresholdBps *uint16 `json:"liquidation_threshold_bps,omitempty"`
	LiquidationBonusBps     *uint16 `json:"liquidation_bonus_bps,omitempty"`
	MinHealthFactorBps      *uint16 `json:"min_health_factor_bps,omitempty"`
	LiquidationPolicy       *string `json:"liquidation_policy,omitempty"`
	Sequence                int64   `json:"sequence"`
	TimestampUs             int64   `json:"timestamp_us"`
}

type depositJSON struct {
	RequestID        string    `json:"request_id"`
	Depositor        string    `json:"depositor"`
	CollateralAmount int64     `json:"collateral_amount"`
	MintAmount       int64     `json:"mint_amount"`
	Quote            quoteJSON `json:"quote"`
	CurrentSlot      uint64    `json:"current_slot"`
	Sequence         int64     `json:"sequence"`
	TimestampUs      int64     `json:"timestamp_us"`
}

type withdrawJSON struct {
	RequestID        string    `json:"request_id"`
	Depositor        string    `json:"depositor"`
	CollateralAmount int64     `json:"collateral_amount"`
	BurnAmount       int64     `json:"burn_amount"`
	Quote            quoteJSON `json:"quote"`
	CurrentSlot      uint64    `json:"current_slot"`
	Sequence         int64     `json:"sequence"`
	TimestampUs      int64     `json:"timestamp_us"`
}

type liquidateJSON struct {
	RequestID   string    `json:"request_id"`
	Liquidator  string    `json:"liquidator"`
	Depositor   string    `json:"depositor"`
	BurnAmount  int64     `json:"burn_amount"`
	Quote       quoteJSON `json:"quote"`
	CurrentSlot uint64    `json:"current_slot"`
	Sequence    int64     `json:"sequence"`
	TimestampUs int64     `json:"timestamp_us"`
}

type walletJSON struct {
	RequestID   string `json:"request_id"`
	Owner       string `json:"owner"`
	Amount      int64  `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseInitializeConfig(data []byte) (*event.InitializeConfig, error) {
	var j initializeConfigJSON
	if err := decode("InitializeConfig", data, &j); err != nil {
		return nil, err
	}

	authority, err := parseAddress("authority", j.Authority)
	if err != nil {
		return nil, err
	}
	var mintRef common.Address
	if j.MintReference != "" {
		if mintRef, err = parseAddress("mint_reference", j.MintReference); err != nil {
			return nil, err
		}
	}

	return &event.InitializeConfig{
		RequestID:               j.RequestID,
		Authority:               authority,
		LiquidationThresholdBps: j.LiquidationThresholdBps,
		LiquidationBonusBps:     j.LiquidationBonusBps,
		MinHealthFactorBps:      j.MinHealthFactorBps,
		MintReference:           mintRef,
		LiquidationPolicy:       j.LiquidationPolicy,
		Sequence:                j.Sequence,
		Timestamp:               parseTimestamp(j.TimestampUs),
	}, nil
}

func parseUpdateConfig(data []byte) (*event.UpdateConfig, error) {
	var j updateConfigJSON
	if err := decode("UpdateConfig", data, &j); err != nil {
		return nil, err
	}

	caller, err := parseAddress("caller", j.Caller)
	if err != nil {
		return nil, err
	}

	evt := &event.UpdateConfig{
		RequestID:               j.RequestID,
		Caller:                  caller,
		LiquidationThresholdBps: j.LiquidationThresholdBps,
		LiquidationBonusBps:     j.LiquidationBonusBps,
		MinHealthFactorBps:      j.MinHealthFactorBps,
		LiquidationPolicy:       j.LiquidationPolicy,
		Sequence:                j.Sequence,
		Timestamp:               parseTimestamp(j.TimestampUs),
	}
	if j.NewAuthority != nil {
		next, err := parseAddress("new_authority", *j.NewAuthority)
		if err != nil {
			return nil, err
		}
		evt.NewAuthority = &next
	}
	return evt, nil
}

func parseDeposit(data []byte) (*event.Deposit, error) {
	var j depositJSON
	if err := decode("Deposit", data, &j); err != nil {
		return nil, err
	}

	depositor, err := parseAddress("depositor", j.Depositor)
	if err != nil {
		return nil, err
	}
	quote, err := parseQuote(j.Quote)
	if err != nil {
		return nil, err
	}

	return &event.Deposit{
		RequestID:        j.RequestID,
		Depositor:        depositor,
		CollateralAmount: j.CollateralAmount,
		MintAmount:       j.MintAmount,
		PriceQuote:       quote,
		CurrentSlot:      j.CurrentSlot,
		Sequence:         j.Sequence,
		Timestamp:        parseTimestamp(j.TimestampUs),
	}, nil
}

func parseWithdraw(data []byte) (*event.Withdraw, error) {
	var j withdrawJSON
	if err := decode("Withdraw", data, &j); err != nil {
		return nil, err
	}

	depositor, err := parseAddress("depositor", j.Depositor)
	if err != nil {
		return nil, err
	}
	quote, err := parseQuote(j.Quote)
	if err != nil {
		return nil, err
	}

	return &event.Withdraw{
		RequestID:        j.RequestID,
		Depositor:        depositor,
		CollateralAmount: j.CollateralAmount,
		BurnAmount:       j.BurnAmount,
		PriceQuote:       quote,
		CurrentSlot:      j.CurrentSlot,
		Sequence:         j.Sequence,
		Timestamp:        parseTimestamp(j.TimestampUs),
	}, nil
}

func parseLiquidate(data []byte) (*event.Liquidate, error) {
	var j liquidateJSON
	if err := decode("Liquidate", data, &j); err != nil {
		return nil, err
	}

	liquidator, err := parseAddress("liquidator", j.Liquidator)
	if err != nil {
		return nil, err
	}
	depositor, err := parseAddress("depositor", j.Depositor)
	if err != nil {
		return nil, err
	}
	quote, err := parseQuote(j.Quote)
	if err != nil {
		return nil, err
	}

	return &event.Liquidate{
		RequestID:   j.RequestID,
		Liquidator:  liquidator,
		Depositor:   depositor,
		BurnAmount:  j.BurnAmount,
		PriceQuote:  quote,
		CurrentSlot: j.CurrentSlot,
		Sequence:    j.Sequence,
		Timestamp:   parseTimestamp(j.TimestampUs),
	}, nil
}

func parseWalletFunded(data []byte) (*event.WalletFunded, error) {
	var j walletJSON
	if err := decode("WalletFunded", data, &j); err != nil {
		return nil, err
	}
	owner, err := parseAddress("owner", j.Owner)
	if err != nil {
		return nil, err
	}
	return &event.WalletFunded{
		RequestID: j.RequestID,
		Owner:     owner,
		Amount:    j.Amount,
		Sequence:  j.Sequence,
		Timestamp: parseTimestamp(j.TimestampUs),
	}, nil
}

func parseWalletWithdrawn(data []byte) (*event.WalletWithdrawn, error) {
	var j walletJSON
	if err := decode("WalletWithdrawn", data, &j); err != nil {
		return nil, err
	}
	owner, err := parseAddress("owner", j.Owner)
	if err != nil {
		return nil, err
	}
	return &event.WalletWithdrawn{
		RequestID: j.RequestID,
		Owner:     owner,
		Amount:    j.Amount,
		Sequence:  j.Sequence,
		Timestamp: parseTimestamp(j.TimestampUs),
	}, nil
}

// --- field helpers ---

func decode(name string, data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.WithCause(apperrors.KindInvalidRequest, "parse "+name, err)
	}
	return nil
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, apperrors.Newf(apperrors.KindInvalidRequest, "%s: invalid address %q", field, s)
	}
	return common.HexToAddress(s), nil
}

// ParseAddress validates a hex address taken from a URL path or query.
func ParseAddress(field, s string) (common.Address, error) {
	return parseAddress(field, s)
}

func hexAddress(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func parseQuote(j quoteJSON) (oracle.PriceQuote, error) {
	price := j.Price
	if price == 0 && j.PriceUSD != "" {
		p, err := oracle.ParseDecimalPrice(j.PriceUSD)
		if err != nil {
			return oracle.PriceQuote{}, apperrors.WithCause(apperrors.KindInvalidPrice, "quote.price_usd", err)
		}
		price = p
	}

	sig, err := hexutil.Decode(j.Signature)
	if err != nil {
		return oracle.PriceQuote{}, apperrors.WithCause(apperrors.KindInvalidRequest, "quote.signature", err)
	}

	return oracle.PriceQuote{
		AssetID:   j.AssetID,
		Price:     price,
		Slot:      j.Slot,
		Signature: sig,
	}, nil
}

func encodeQuote(q oracle.PriceQuote) quoteJSON {
	return quoteJSON{
		AssetID:   q.AssetID,
		Price:     q.Price,
		Slot:      q.Slot,
		Signature: hexutil.Encode(q.Signature),
	}
}

// A zero timestamp_us stays the zero time so the core rejects it.
func parseTimestamp(us int64) time.Time {
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}
