package oracle_test

import (
	"testing"

	"StableLedger/internal/apperrors"
	"StableLedger/internal/oracle"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSigner(t *testing.T) *oracle.Signer {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return oracle.NewSigner(key)
}

func newGateway(signers ...*oracle.Signer) *oracle.Gateway {
	addrs := make([]common.Address, 0, len(signers))
	for _, s := range signers {
		addrs = append(addrs, s.Address())
	}
	return oracle.NewGateway(addrs, oracle.DefaultMaxStalenessSlots, oracle.DefaultFeedID)
}

func TestValidate_Accepts(t *testing.T) {
	signer := newSigner(t)
	gw := newGateway(signer)

	q, err := signer.Sign("SOL/USD", 100_00000000, 1_000)
	require.NoError(t, err)

	p, err := gw.Validate(q, 1_050)
	require.NoError(t, err)
	assert.Equal(t, int64(100_00000000), p.Price())
	assert.Equal(t, signer.Address(), p.Signer())

	usd, err := p.NativeToUsd(1_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000_000), usd)
}

func TestValidate_StalenessBoundary(t *testing.T) {
	signer := newSigner(t)
	gw := newGateway(signer)
	q, err := signer.Sign("SOL/USD", 100_00000000, 1_000)
	require.NoError(t, err)

	_, err = gw.Validate(q, 1_100)
	assert.NoError(t, err, "age == max is accepted")

	_, err = gw.Validate(q, 1_101)
	assert.ErrorIs(t, err, apperrors.ErrStaleQuote)
}

func TestValidate_FutureSlotIsStale(t *testing.T) {
	signer := newSigner(t)
	gw := newGateway(signer)
	q, err := signer.Sign("SOL/USD", 100_00000000, 2_000)
	require.NoError(t, err)

	_, err = gw.Validate(q, 1_999)
	assert.ErrorIs(t, err, apperrors.ErrStaleQuote)
}

func TestValidate_StaleCheckedBeforeSource(t *testing.T) {
	trusted := newSigner(t)
	rogue := newSigner(t)
	gw := newGateway(trusted)

	q, err := rogue.Sign("SOL/USD", 100_00000000, 1)
	require.NoError(t, err)

	_, err = gw.Validate(q, 500)
	assert.ErrorIs(t, err, apperrors.ErrStaleQuote)
}

func TestValidate_UntrustedSource(t *testing.T) {
	trusted := newSigner(t)
	rogue := newSigner(t)
	gw := newGateway(trusted)

	q, err := rogue.Sign("SOL/USD", 100_00000000, 1_000)
	require.NoError(t, err)

	_, err = gw.Validate(q, 1_000)
	assert.ErrorIs(t, err, apperrors.ErrUntrustedSource)
}

func TestValidate_TamperedPrice(t *testing.T) {
	signer := newSigner(t)
	gw := newGateway(signer)

	q, err := signer.Sign("SOL/USD", 100_00000000, 1_000)
	require.NoError(t, err)
	q.Price = 1_000_00000000

	_, err = gw.Validate(q, 1_000)
	assert.ErrorIs(t, err, apperrors.ErrUntrustedSource)
}

func TestValidate_MalformedSignature(t *testing.T) {
	signer := newSigner(t)
	gw := newGateway(signer)

	q := oracle.PriceQuote{AssetID: "SOL/USD", Price: 1, Slot: 1_000, Signature: []byte{1, 2, 3}}
	_, err := gw.Validate(q, 1_000)
	assert.ErrorIs(t, err, apperrors.ErrUntrustedSource)
}

func TestValidate_LegacyRecoveryID(t *testing.T) {
	signer := newSigner(t)
	gw := newGateway(signer)

	q, err := signer.Sign("SOL/USD", 100_00000000, 1_000)
	require.NoError(t, err)
	q.Signature[64] += 27

	_, err = gw.Validate(q, 1_000)
	assert.NoError(t, err)
}

func TestValidate_NonPositivePrice(t *testing.T) {
	signer := newSigner(t)
	gw := newGateway(signer)

	q, err := signer.Sign("SOL/USD", 0, 1_000)
	require.NoError(t, err)

	_, err = gw.Validate(q, 1_000)
	assert.ErrorIs(t, err, apperrors.ErrInvalidPrice)
}

func TestValidate_WrongFeed(t *testing.T) {
	signer := newSigner(t)
	gw := newGateway(signer)

	q, err := signer.Sign("ETH/USD", 3_000_00000000, 1_000)
	require.NoError(t, err)

	_, err = gw.Validate(q, 1_000)
	assert.ErrorIs(t, err, apperrors.ErrMissingPriceFeed)
}

func TestParseDecimalPrice(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"100", 100_00000000, false},
		{"101.25", 101_25000000, false},
		{"0.00000001", 1, false},
		{"0.000000001", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := oracle.ParseDecimalPrice(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "101.25", oracle.FormatPrice(101_25000000))
}

func TestNewSignerFromHex(t *testing.T) {
	const (
		keyHex  = "289c2857d4598e37fb9647507e47a309d6133539bf21a8b9cb6df88fd5232032"
		address = "0x970E8128AB834E8EAC17Ab8E3812F010678CF791"
	)

	bare, err := oracle.NewSignerFromHex(keyHex)
	require.NoError(t, err)
	prefixed, err := oracle.NewSignerFromHex("0x" + keyHex)
	require.NoError(t, err)

	assert.Equal(t, common.HexToAddress(address), bare.Address())
	assert.Equal(t, bare.Address(), prefixed.Address())

	q, err := bare.Sign(oracle.DefaultFeedID, 100_00000000, 1_000)
	require.NoError(t, err)
	_, err = newGateway(prefixed).Validate(q, 1_000)
	assert.NoError(t, err)

	_, err = oracle.NewSignerFromHex("not-a-key")
	assert.Error(t, err)
}
