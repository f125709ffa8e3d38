package oracle

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	fpmath "StableLedger/internal/math"
)

const quoteDomain = "stableledger:quote:v1"

// SignatureLength is the [R || S || V] secp256k1 signature length.
const SignatureLength = 65

// PriceQuote is an attested price sample supplied with each request.
// Price is USD per native unit at PriceConfig scale; Slot is the attestation time.
type PriceQuote struct {
	AssetID   string
	Price     int64
	Slot      uint64
	Signature []byte
}

// Digest returns the Keccak256 hash the oracle signs.
func (q PriceQuote) Digest() []byte {
	payload := fmt.Sprintf("%s|asset=%s|price=%d|slot=%d", quoteDomain, q.AssetID, q.Price, q.Slot)
	return crypto.Keccak256([]byte(payload))
}

// RecoverSigner returns the address that produced q.Signature.
func (q PriceQuote) RecoverSigner() (common.Address, error) {
	if len(q.Signature) != SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(q.Signature))
	}

	sig := make([]byte, SignatureLength)
	copy(sig, q.Signature)
	// Normalize V to 0/1 for recovery.
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(q.Digest(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Signer attests quotes with an oracle key.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

// NewSignerFromHex loads a hex-encoded secp256k1 key (with or without 0x).
func NewSignerFromHex(hexKey string) (*Signer, error) {
	if len(hexKey) > 1 && hexKey[:2] == "0x" {
		hexKey = hexKey[2:]
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("load oracle key: %w", err)
	}
	return NewSigner(key), nil
}

func (s *Signer) Address() common.Address {
	return s.address
}

// Sign returns a signed quote for asset at price and slot.
func (s *Signer) Sign(assetID string, price int64, slot uint64) (PriceQuote, error) {
	q := PriceQuote{AssetID: assetID, Price: price, Slot: slot}
	sig, err := crypto.Sign(q.Digest(), s.key)
	if err != nil {
		return PriceQuote{}, fmt.Errorf("sign quote: %w", err)
	}
	q.Signature = sig
	return q, nil
}

// ParseDecimalPrice converts "101.25" into PriceConfig fixed-point.
func ParseDecimalPrice(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", s, err)
	}
	if d.Exponent() < -int32(fpmath.PriceConfig.DecimalPrecision) {
		return 0, fmt.Errorf("price %q exceeds %d decimal places", s, fpmath.PriceConfig.DecimalPrecision)
	}
	scaled := d.Shift(int32(fpmath.PriceConfig.DecimalPrecision))
	if !scaled.IsInteger() || !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("price %q out of range", s)
	}
	return scaled.IntPart(), nil
}

// FormatPrice renders a fixed-point price as a decimal string.
func FormatPrice(price int64) string {
	return decimal.New(price, -int32(fpmath.PriceConfig.DecimalPrecision)).String()
}
