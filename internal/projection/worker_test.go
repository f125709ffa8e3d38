package projection_test

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/event"
	"StableLedger/internal/ledger"
	"StableLedger/internal/oracle"
	"StableLedger/internal/projection"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sol      = int64(1_000_000_000)
	usd      = int64(1_000_000)
	price100 = int64(100_00000000)
	slot     = uint64(1_000)
)

var (
	authority = common.HexToAddress("0x00000000000000000000000000000000000a0001")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000A11CE")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000B0B")
)

// runLiquidation drives alice under the minimum and has bob liquidate half her debt.
func runLiquidation(t *testing.T) []core.CoreOutput {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := oracle.NewSigner(key)
	q, err := signer.Sign(oracle.DefaultFeedID, price100, slot)
	require.NoError(t, err)

	projChan := make(chan core.CoreOutput, 64)
	gw := oracle.NewGateway([]common.Address{signer.Address()}, oracle.DefaultMaxStalenessSlots, oracle.DefaultFeedID)
	c := core.NewDeterministicCore(0, gw, make(chan core.CoreOutput, 64), projChan, nil, core.WithLogger(zerolog.Nop()))

	n := int64(0)
	next := func() (string, time.Time) {
		n++
		return "req-" + strconv.FormatInt(n, 10), time.UnixMicro(1_000_000 + n)
	}
	minHF := uint16(20_000)

	id1, ts1 := next()
	id2, ts2 := next()
	id3, ts3 := next()
	id4, ts4 := next()
	id5, ts5 := next()
	id6, ts6 := next()
	id7, ts7 := next()
	events := []event.Event{
		&event.InitializeConfig{RequestID: id1, Authority: authority, LiquidationThresholdBps: 5000,
			LiquidationBonusBps: 10, MinHealthFactorBps: 10_000, Timestamp: ts1},
		&event.WalletFunded{RequestID: id2, Owner: alice, Amount: sol, Timestamp: ts2},
		&event.WalletFunded{RequestID: id3, Owner: bob, Amount: 10 * sol, Timestamp: ts3},
		&event.Deposit{RequestID: id4, Depositor: alice, CollateralAmount: sol, MintAmount: 50 * usd,
			PriceQuote: q, CurrentSlot: slot, Timestamp: ts4},
		&event.Deposit{RequestID: id5, Depositor: bob, CollateralAmount: 10 * sol, MintAmount: 100 * usd,
			PriceQuote: q, CurrentSlot: slot, Timestamp: ts5},
		&event.UpdateConfig{RequestID: id6, Caller: authority, MinHealthFactorBps: &minHF, Timestamp: ts6},
		&event.Liquidate{RequestID: id7, Liquidator: bob, Depositor: alice, BurnAmount: 25 * usd,
			PriceQuote: q, CurrentSlot: slot, Timestamp: ts7},
	}
	for _, evt := range events {
		_, err := c.ProcessEvent(evt)
		require.NoError(t, err, evt.EventType().String())
	}

	var outputs []core.CoreOutput
	for len(projChan) > 0 {
		outputs = append(outputs, <-projChan)
	}
	require.Len(t, outputs, len(events))
	return outputs
}

func TestFromCoreOutput_Deposit(t *testing.T) {
	outputs := runLiquidation(t)
	po := projection.FromCoreOutput(outputs[3])

	assert.Equal(t, int64(3), po.Sequence)
	assert.Equal(t, "Deposit", po.EventType)
	require.NotNil(t, po.Position)
	assert.Equal(t, strings.ToLower(alice.Hex()), po.Position.Depositor)
	assert.Equal(t, sol, po.Position.CollateralAmount)
	assert.Equal(t, 50*usd, po.Position.AmountMinted)
	assert.Equal(t, "Active", po.Position.Status)
	assert.Nil(t, po.Liquidation)

	require.Len(t, po.JournalEntries, 2)
	assert.Equal(t, ledger.VaultKey(alice).AccountPath(), po.JournalEntries[0].DebitAccount)
	assert.Equal(t, ledger.WalletKey(alice).AccountPath(), po.JournalEntries[0].CreditAccount)
}

func TestFromCoreOutput_Liquidation(t *testing.T) {
	outputs := runLiquidation(t)
	po := projection.FromCoreOutput(outputs[len(outputs)-1])

	require.NotNil(t, po.Liquidation)
	l := po.Liquidation
	assert.Equal(t, strings.ToLower(alice.Hex()), l.Depositor)
	assert.Equal(t, strings.ToLower(bob.Hex()), l.Liquidator)
	assert.Equal(t, 25*usd, l.BurnAmount)
	assert.Equal(t, int64(250_000_000), l.BaseCollateral)
	assert.Equal(t, int64(250_000), l.Bonus)
	assert.Equal(t, int64(250_250_000), l.Seized)
	assert.False(t, l.Capped)
	assert.Equal(t, int64(10_000), l.PreHealthBps)
	assert.Equal(t, int64(14_995), l.PostHealthBps)
	assert.Equal(t, price100, l.Price)

	require.NotNil(t, po.Position)
	assert.Equal(t, int64(749_750_000), po.Position.CollateralAmount)
	assert.Equal(t, "Liquidatable", po.Position.Status)
}

func TestFromCoreOutput_ConfigHasNoRows(t *testing.T) {
	outputs := runLiquidation(t)
	po := projection.FromCoreOutput(outputs[0])

	assert.Equal(t, int64(0), po.Sequence)
	assert.Empty(t, po.JournalEntries)
	assert.Nil(t, po.Position)
	assert.Nil(t, po.Liquidation)
}
