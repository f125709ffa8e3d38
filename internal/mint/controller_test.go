package mint_test

import (
	"testing"

	"StableLedger/internal/apperrors"
	"StableLedger/internal/ledger"
	"StableLedger/internal/mint"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var holder = common.HexToAddress("0x3333333333333333333333333333333333333333")

func TestMintThenBurn(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(bt)
	mc := mint.NewController(bt)

	b := jg.NewBatch(ledger.BatchRef{Sequence: 1})
	require.NoError(t, mc.Mint(b, holder, 50_000_000))
	require.NoError(t, bt.ApplyBatch(b.Build()))
	assert.Equal(t, int64(50_000_000), mc.Balance(holder))
	assert.Equal(t, int64(50_000_000), mc.Supply())

	b = jg.NewBatch(ledger.BatchRef{Sequence: 2})
	require.NoError(t, mc.Burn(b, holder, 20_000_000))
	require.NoError(t, bt.ApplyBatch(b.Build()))
	assert.Equal(t, int64(30_000_000), mc.Balance(holder))
	assert.Equal(t, int64(30_000_000), mc.Supply())
}

func TestZeroIsNoOp(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(bt)
	mc := mint.NewController(bt)

	b := jg.NewBatch(ledger.BatchRef{})
	require.NoError(t, mc.Mint(b, holder, 0))
	require.NoError(t, mc.Burn(b, holder, 0))
	assert.Zero(t, b.Len())
	assert.Nil(t, b.Build())
}

func TestBurn_InsufficientTokenBalance(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(bt)
	mc := mint.NewController(bt)

	err := mc.Burn(jg.NewBatch(ledger.BatchRef{}), holder, 1)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientTokenBalance)

	err = mc.BurnForLiquidation(jg.NewBatch(ledger.BatchRef{}), holder, 1)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientTokenBalance)
}

func TestBurnForLiquidation_JournalType(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(bt)
	mc := mint.NewController(bt)

	b := jg.NewBatch(ledger.BatchRef{Sequence: 1})
	require.NoError(t, mc.Mint(b, holder, 10))
	require.NoError(t, bt.ApplyBatch(b.Build()))

	b = jg.NewBatch(ledger.BatchRef{Sequence: 2})
	require.NoError(t, mc.BurnForLiquidation(b, holder, 10))
	batch := b.Build()
	require.Len(t, batch.Journals, 1)
	assert.Equal(t, ledger.JournalTypeLiquidationBurn, batch.Journals[0].JournalType)
}
