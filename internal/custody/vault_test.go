package custody_test

import (
	"testing"

	"StableLedger/internal/apperrors"
	"StableLedger/internal/custody"
	"StableLedger/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	depositor  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	liquidator = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func setup(t *testing.T, walletFunds int64) (*ledger.BalanceTracker, *ledger.JournalGenerator, *custody.Vaults) {
	t.Helper()
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(bt)
	if walletFunds > 0 {
		require.NoError(t, bt.ApplyBatch(jg.NewBatch(ledger.BatchRef{Sequence: 1}).FundWallet(depositor, walletFunds).Build()))
	}
	return bt, jg, custody.NewVaults(bt)
}

func TestLockAndRelease(t *testing.T) {
	bt, jg, vaults := setup(t, 1_000)

	b := jg.NewBatch(ledger.BatchRef{Sequence: 2})
	require.NoError(t, vaults.Lock(b, depositor, 700))
	require.NoError(t, bt.ApplyBatch(b.Build()))
	assert.Equal(t, int64(700), vaults.Balance(depositor))
	assert.Equal(t, int64(300), bt.GetWalletBalance(depositor))

	b = jg.NewBatch(ledger.BatchRef{Sequence: 3})
	require.NoError(t, vaults.Release(b, depositor, depositor, 200))
	require.NoError(t, bt.ApplyBatch(b.Build()))
	assert.Equal(t, int64(500), vaults.Balance(depositor))
	assert.Equal(t, int64(500), bt.GetWalletBalance(depositor))
}

func TestReleaseToLiquidatorIsSeizure(t *testing.T) {
	bt, jg, vaults := setup(t, 1_000)
	b := jg.NewBatch(ledger.BatchRef{Sequence: 2})
	require.NoError(t, vaults.Lock(b, depositor, 1_000))
	require.NoError(t, bt.ApplyBatch(b.Build()))

	b = jg.NewBatch(ledger.BatchRef{Sequence: 3})
	require.NoError(t, vaults.Release(b, depositor, liquidator, 400))
	batch := b.Build()
	require.Len(t, batch.Journals, 1)
	assert.Equal(t, ledger.JournalTypeLiquidationSeize, batch.Journals[0].JournalType)

	require.NoError(t, bt.ApplyBatch(batch))
	assert.Equal(t, int64(400), bt.GetWalletBalance(liquidator))
	assert.Equal(t, int64(600), vaults.Balance(depositor))
}

func TestLock_InsufficientFunds(t *testing.T) {
	_, jg, vaults := setup(t, 10)
	b := jg.NewBatch(ledger.BatchRef{Sequence: 2})

	err := vaults.Lock(b, depositor, 11)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)
	assert.Zero(t, b.Len())
}

func TestRelease_InsufficientCollateral(t *testing.T) {
	_, jg, vaults := setup(t, 0)
	err := vaults.Release(jg.NewBatch(ledger.BatchRef{}), depositor, depositor, 1)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientCollateral)
}

func TestNegativeAmountsRejected(t *testing.T) {
	_, jg, vaults := setup(t, 10)
	b := jg.NewBatch(ledger.BatchRef{})
	assert.ErrorIs(t, vaults.Lock(b, depositor, -1), apperrors.ErrInvalidAmount)
	assert.ErrorIs(t, vaults.Release(b, depositor, depositor, -1), apperrors.ErrInvalidAmount)
}
