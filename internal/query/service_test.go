package query_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/event"
	"StableLedger/internal/ingestion"
	"StableLedger/internal/oracle"
	"StableLedger/internal/persistence"
	"StableLedger/internal/projection"
	"StableLedger/internal/query"
	"StableLedger/internal/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	authority = common.HexToAddress("0x00000000000000000000000000000000000a0001")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func TestClampLimit(t *testing.T) {
	assert.Equal(t, query.DefaultPageSize, query.ClampLimit(0))
	assert.Equal(t, query.DefaultPageSize, query.ClampLimit(-3))
	assert.Equal(t, 7, query.ClampLimit(7))
	assert.Equal(t, query.MaxPageSize, query.ClampLimit(query.MaxPageSize+1))
}

func TestIntegration_QueriesAndIntegrity(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := oracle.NewSigner(key)
	q, err := signer.Sign(oracle.DefaultFeedID, 100_00000000, 1000)
	require.NoError(t, err)

	persistChan := make(chan core.CoreOutput, 64)
	gw := oracle.NewGateway([]common.Address{signer.Address()}, oracle.DefaultMaxStalenessSlots, oracle.DefaultFeedID)
	c := core.NewDeterministicCore(0, gw, persistChan, make(chan core.CoreOutput, 64), nil, core.WithLogger(zerolog.Nop()))

	n := int64(0)
	next := func() (string, time.Time) {
		n++
		return "q-" + strconv.FormatInt(n, 10), time.UnixMicro(2_000_000 + n)
	}
	minHF := uint16(20_000)
	ids := make([]string, 7)
	tss := make([]time.Time, 7)
	for i := range ids {
		ids[i], tss[i] = next()
	}
	events := []event.Event{
		&event.InitializeConfig{RequestID: ids[0], Authority: authority, LiquidationThresholdBps: 5000,
			LiquidationBonusBps: 10, MinHealthFactorBps: 10_000, Timestamp: tss[0]},
		&event.WalletFunded{RequestID: ids[1], Owner: alice, Amount: 1_000_000_000, Timestamp: tss[1]},
		&event.WalletFunded{RequestID: ids[2], Owner: bob, Amount: 10_000_000_000, Timestamp: tss[2]},
		&event.Deposit{RequestID: ids[3], Depositor: alice, CollateralAmount: 1_000_000_000, MintAmount: 50_000_000,
			PriceQuote: q, CurrentSlot: 1000, Timestamp: tss[3]},
		&event.Deposit{RequestID: ids[4], Depositor: bob, CollateralAmount: 10_000_000_000, MintAmount: 100_000_000,
			PriceQuote: q, CurrentSlot: 1000, Timestamp: tss[4]},
		&event.UpdateConfig{RequestID: ids[5], Caller: authority, MinHealthFactorBps: &minHF, Timestamp: tss[5]},
		&event.Liquidate{RequestID: ids[6], Liquidator: bob, Depositor: alice, BurnAmount: 25_000_000,
			PriceQuote: q, CurrentSlot: 1000, Timestamp: tss[6]},
	}

	projChan := make(chan projection.ProjectionOutput, len(events))
	projWorker := projection.NewProjectionWorker(db, projChan, nil)

	var rows []persistence.EventRow
	var journals []persistence.JournalRow
	for _, evt := range events {
		_, err := c.ProcessEvent(evt)
		require.NoError(t, err, evt.EventType().String())

		out := <-persistChan
		payload, err := ingestion.EncodeEvent(out.Event)
		require.NoError(t, err)
		r := persistence.RowsFromOutput(out, payload)
		rows = append(rows, r.EventRow)
		journals = append(journals, r.JournalRows...)

		require.NoError(t, projWorker.Apply(ctx, projection.FromCoreOutput(out)))
	}
	require.NoError(t, persistence.NewPersistenceWorker(db, nil, 10, time.Second, nil).Flush(ctx, rows, journals))

	qs := query.NewQueryService(db)

	t.Run("position", func(t *testing.T) {
		p, err := qs.GetPosition(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, c.Position(alice).CollateralAmount, p.CollateralAmount)
		assert.Equal(t, int64(25_000_000), p.AmountMinted)
		assert.Equal(t, "Liquidatable", p.Status)
		assert.Equal(t, int64(6), p.AsOfSequence)

		_, err = qs.GetPosition(ctx, common.HexToAddress("0xdead"))
		assert.ErrorIs(t, err, query.ErrNotFound)
	})

	t.Run("list positions pages", func(t *testing.T) {
		page, err := qs.ListPositions(ctx, "", "", 1)
		require.NoError(t, err)
		require.Len(t, page.Positions, 1)
		require.NotEmpty(t, page.NextCursor)

		rest, err := qs.ListPositions(ctx, "", page.NextCursor, 1)
		require.NoError(t, err)
		require.Len(t, rest.Positions, 1)
		assert.Empty(t, rest.NextCursor)
		assert.NotEqual(t, page.Positions[0].Depositor, rest.Positions[0].Depositor)

		liq, err := qs.ListPositions(ctx, "Liquidatable", "", 10)
		require.NoError(t, err)
		require.Len(t, liq.Positions, 1)
	})

	t.Run("balances match core", func(t *testing.T) {
		for _, addr := range []common.Address{alice, bob} {
			b, err := qs.GetBalances(ctx, addr)
			require.NoError(t, err)
			want := c.Balances(addr)
			assert.Equal(t, want.Wallet, b.Wallet)
			assert.Equal(t, want.Vault, b.Vault)
			assert.Equal(t, want.Stable, b.Stable)
		}
	})

	t.Run("liquidations", func(t *testing.T) {
		liqs, err := qs.ListLiquidations(ctx, alice, 10, nil)
		require.NoError(t, err)
		require.Len(t, liqs, 1)
		assert.Equal(t, int64(6), liqs[0].Sequence)
		assert.Equal(t, int64(250_250_000), liqs[0].Seized)

		none, err := qs.ListLiquidations(ctx, bob, 10, nil)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("journals", func(t *testing.T) {
		entries, err := qs.ListJournals(ctx, bob, 100, nil)
		require.NoError(t, err)
		// fund, lock, mint, burn, seize
		assert.Len(t, entries, 5)
		assert.Equal(t, int64(6), entries[0].Sequence)
	})

	t.Run("integrity healthy", func(t *testing.T) {
		report, err := qs.VerifyIntegrity(ctx)
		require.NoError(t, err)
		assert.True(t, report.IsHealthy, "%+v", report)
		assert.Equal(t, int64(len(events)), report.EventsChecked)
		assert.Equal(t, int64(6), report.LastSequence)
	})

	t.Run("integrity detects tampering", func(t *testing.T) {
		_, err := db.ExecContext(ctx, `UPDATE event_log.events SET state_digest = '\x00' WHERE sequence = 3`)
		require.NoError(t, err)

		report, err := qs.VerifyIntegrity(ctx)
		require.NoError(t, err)
		assert.False(t, report.IsHealthy)
		assert.Equal(t, []int64{3}, report.HashChainBreaks)
	})
}
