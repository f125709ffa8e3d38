package persistence_test

import (
	"bytes"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/event"
	"StableLedger/internal/ingestion"
	"StableLedger/internal/ledger"
	"StableLedger/internal/oracle"
	"StableLedger/internal/persistence"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
)

var (
	authority = common.HexToAddress("0x00000000000000000000000000000000000a0001")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
)

type fixture struct {
	t       *testing.T
	signer  *oracle.Signer
	core    *core.DeterministicCore
	persist chan core.CoreOutput
	n       int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f := &fixture{t: t, signer: oracle.NewSigner(key)}
	f.core, f.persist = f.newCore()
	return f
}

func (f *fixture) newCore() (*core.DeterministicCore, chan core.CoreOutput) {
	persistChan := make(chan core.CoreOutput, 64)
	gw := oracle.NewGateway([]common.Address{f.signer.Address()}, oracle.DefaultMaxStalenessSlots, oracle.DefaultFeedID)
	c := core.NewDeterministicCore(0, gw, persistChan, make(chan core.CoreOutput, 64), nil, core.WithLogger(zerolog.Nop()))
	return c, persistChan
}

func (f *fixture) next() (string, time.Time) {
	f.n++
	return "req-" + strconv.FormatInt(f.n, 10), time.UnixMicro(1_000_000 + f.n)
}

// seed applies config, funding and one deposit with debt.
func (f *fixture) seed() {
	f.t.Helper()
	q, err := f.signer.Sign(oracle.DefaultFeedID, 100_00000000, 1000)
	if err != nil {
		f.t.Fatalf("sign: %v", err)
	}

	id1, ts1 := f.next()
	id2, ts2 := f.next()
	id3, ts3 := f.next()
	events := []event.Event{
		&event.InitializeConfig{RequestID: id1, Authority: authority, LiquidationThresholdBps: 5000,
			LiquidationBonusBps: 10, MinHealthFactorBps: 10_000, Timestamp: ts1},
		&event.WalletFunded{RequestID: id2, Owner: alice, Amount: 2_000_000_000, Timestamp: ts2},
		&event.Deposit{RequestID: id3, Depositor: alice, CollateralAmount: 1_000_000_000, MintAmount: 40_000_000,
			PriceQuote: q, CurrentSlot: 1000, Timestamp: ts3},
	}
	for _, evt := range events {
		if _, err := f.core.ProcessEvent(evt); err != nil {
			f.t.Fatalf("%s: %v", evt.EventType(), err)
		}
	}
}

func TestRowsFromOutput_Deposit(t *testing.T) {
	f := newFixture(t)
	f.seed()

	var last core.CoreOutput
	for i := 0; i < 3; i++ {
		last = <-f.persist
	}

	payload, err := ingestion.EncodeEvent(last.Event)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	rows := persistence.RowsFromOutput(last, payload)

	ev := rows.EventRow
	if ev.Sequence != 2 || ev.EventType != "Deposit" {
		t.Errorf("event row: seq=%d type=%s", ev.Sequence, ev.EventType)
	}
	if ev.Partition != event.PositionPartition(alice) {
		t.Errorf("partition: got %s", ev.Partition)
	}
	if !bytes.Equal(ev.StateHash, last.Envelope.StateHash[:]) || len(ev.PrevHash) != 32 {
		t.Error("hash columns not copied from envelope")
	}

	// The stored digest must reproduce the stored hash.
	var prev [32]byte
	copy(prev[:], ev.PrevHash)
	if got := core.ChainHash(prev, ev.Sequence, ev.StateDigest); !bytes.Equal(got[:], ev.StateHash) {
		t.Error("state_digest does not reproduce state_hash")
	}

	// Deposit with a mint: lock + mint.
	if len(rows.JournalRows) != 2 {
		t.Fatalf("journal rows: got %d, want 2", len(rows.JournalRows))
	}
	lock := rows.JournalRows[0]
	if lock.DebitAccount != ledger.VaultKey(alice).AccountPath() || lock.CreditAccount != ledger.WalletKey(alice).AccountPath() {
		t.Errorf("lock accounts: %s <- %s", lock.DebitAccount, lock.CreditAccount)
	}
	if lock.Amount != 1_000_000_000 || lock.Sequence != 2 {
		t.Errorf("lock: amount=%d seq=%d", lock.Amount, lock.Sequence)
	}

	// Payload replays to the same event.
	replayed, err := ingestion.ParseEvent(ev.EventType, ev.Payload)
	if err != nil {
		t.Fatalf("replay parse: %v", err)
	}
	if replayed.IdempotencyKey() != last.Event.IdempotencyKey() {
		t.Errorf("replayed key: got %s", replayed.IdempotencyKey())
	}
}

func TestSnapshotData_RestoresIdenticalState(t *testing.T) {
	f := newFixture(t)
	f.seed()

	stored := persistence.SnapshotFromState(f.core.CreateSnapshotState())

	// Through JSON, as SaveSnapshot/LoadLatestSnapshot do.
	data, err := json.Marshal(stored)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var loaded persistence.SnapshotData
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	snapState, err := loaded.ToState()
	if err != nil {
		t.Fatalf("to state: %v", err)
	}

	restored, _ := f.newCore()
	restored.RestoreFromSnapshot(snapState)

	if restored.GetStateHash() != f.core.GetStateHash() {
		t.Error("state hash differs after restore")
	}
	if restored.GetSequence() != f.core.GetSequence() {
		t.Errorf("sequence: got %d, want %d", restored.GetSequence(), f.core.GetSequence())
	}
	if restored.Balances(alice) != f.core.Balances(alice) {
		t.Errorf("balances: got %+v, want %+v", restored.Balances(alice), f.core.Balances(alice))
	}
	if restored.Position(alice) != f.core.Position(alice) {
		t.Errorf("position: got %+v, want %+v", restored.Position(alice), f.core.Position(alice))
	}
	if restored.SlotMark() != f.core.SlotMark() {
		t.Errorf("slot mark: got %d, want %d", restored.SlotMark(), f.core.SlotMark())
	}
	gotCfg, err := restored.Config()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	wantCfg, _ := f.core.Config()
	if gotCfg != wantCfg {
		t.Errorf("config: got %+v, want %+v", gotCfg, wantCfg)
	}
	if p, _ := restored.LastPrice(); p != 100_00000000 {
		t.Errorf("last price: got %d", p)
	}
}

func TestSnapshotData_RejectsCorruptRows(t *testing.T) {
	tests := []struct {
		name string
		data persistence.SnapshotData
	}{
		{"short hash", persistence.SnapshotData{StateHash: []byte{1, 2}}},
		{"bad account path", persistence.SnapshotData{
			StateHash: make([]byte, 32),
			Balances:  map[string]int64{"user:nope": 1},
		}},
		{"bad depositor", persistence.SnapshotData{
			StateHash: make([]byte, 32),
			Positions: []persistence.PositionSnapshot{{Depositor: "xyz"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.data.ToState(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
