package ledger_test

import (
	"errors"
	"testing"

	"StableLedger/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

func ref(seq int64) ledger.BatchRef {
	return ledger.BatchRef{EventRef: "evt", Sequence: seq, Timestamp: 1_700_000_000_000_000}
}

func mustApply(t *testing.T, bt *ledger.BalanceTracker, b *ledger.BatchBuilder) {
	t.Helper()
	batch := b.Build()
	if batch == nil {
		t.Fatal("builder produced no journals")
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}
}

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_UserPath(t *testing.T) {
	path := ledger.VaultKey(alice).AccountPath()
	expected := "user:0x00000000000000000000000000000000000000a1:vault:SOL"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_SystemAndExternalPath(t *testing.T) {
	if got := ledger.StableSupplyKey().AccountPath(); got != "system:stable_supply:USDS" {
		t.Errorf("got %q, want %q", got, "system:stable_supply:USDS")
	}
	if got := ledger.ExternalInflowKey().AccountPath(); got != "external:inflow:SOL" {
		t.Errorf("got %q, want %q", got, "external:inflow:SOL")
	}
}

func TestParseAccountPath_RoundTrip(t *testing.T) {
	keys := []ledger.AccountKey{
		ledger.WalletKey(alice),
		ledger.VaultKey(bob),
		ledger.StableKey(alice),
		ledger.StableSupplyKey(),
		ledger.ExternalInflowKey(),
	}
	for _, k := range keys {
		got, err := ledger.ParseAccountPath(k.AccountPath())
		if err != nil {
			t.Fatalf("ParseAccountPath(%q): %v", k.AccountPath(), err)
		}
		if got != k {
			t.Errorf("round trip of %q produced %+v", k.AccountPath(), got)
		}
	}
}

func TestParseAccountPath_Rejects(t *testing.T) {
	for _, p := range []string{
		"",
		"user:nothex:wallet:SOL",
		"user:0x00000000000000000000000000000000000000a1:savings:SOL",
		"system:stable_supply:DOGE",
		"bogus:a:b",
	} {
		if _, err := ledger.ParseAccountPath(p); err == nil {
			t.Errorf("expected error for %q", p)
		}
	}
}

func TestGetAssetID(t *testing.T) {
	if id, ok := ledger.GetAssetID("SOL"); !ok || id != ledger.AssetNative {
		t.Errorf("SOL: got (%d, %v)", id, ok)
	}
	if _, ok := ledger.GetAssetID("DOGE"); ok {
		t.Error("DOGE should not be a known asset")
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_FundLockMint(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(bt)

	mustApply(t, bt, jg.NewBatch(ref(1)).FundWallet(alice, 5_000_000_000))
	mustApply(t, bt, jg.NewBatch(ref(2)).
		LockCollateral(alice, 1_000_000_000).
		MintStable(alice, 50_000_000))

	if got := bt.GetWalletBalance(alice); got != 4_000_000_000 {
		t.Errorf("wallet: got %d, want 4_000_000_000", got)
	}
	if got := bt.GetVaultBalance(alice); got != 1_000_000_000 {
		t.Errorf("vault: got %d, want 1_000_000_000", got)
	}
	if got := bt.GetStableBalance(alice); got != 50_000_000 {
		t.Errorf("stable: got %d, want 50_000_000", got)
	}
	if got := bt.GetOutstandingSupply(); got != 50_000_000 {
		t.Errorf("supply: got %d, want 50_000_000", got)
	}
}

func TestBalanceTracker_ApplyBatchIsAtomic(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(bt)
	mustApply(t, bt, jg.NewBatch(ref(1)).FundWallet(alice, 100))

	// First leg is fine, second leg overdraws the stable account.
	batch := jg.NewBatch(ref(2)).
		LockCollateral(alice, 100).
		BurnStable(alice, 1).
		Build()

	err := bt.ApplyBatch(batch)
	var nbe *ledger.NegativeBalanceError
	if !errors.As(err, &nbe) {
		t.Fatalf("expected NegativeBalanceError, got %v", err)
	}
	if nbe.Account != ledger.StableKey(alice) {
		t.Errorf("wrong account reported: %s", nbe.Account.AccountPath())
	}
	if bt.GetWalletBalance(alice) != 100 || bt.GetVaultBalance(alice) != 0 {
		t.Error("failed batch must not move any balance")
	}
}

func TestBalanceTracker_SystemAccountsMayGoNegative(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(bt)

	mustApply(t, bt, jg.NewBatch(ref(1)).MintStable(bob, 10))
	if got := bt.GetBalance(ledger.StableSupplyKey()); got != -10 {
		t.Errorf("supply account: got %d, want -10", got)
	}
}

func TestBalanceTracker_GlobalBalanceZeroSum(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(bt)

	mustApply(t, bt, jg.NewBatch(ref(1)).FundWallet(alice, 1_000))
	mustApply(t, bt, jg.NewBatch(ref(2)).LockCollateral(alice, 600).MintStable(alice, 30))
	mustApply(t, bt, jg.NewBatch(ref(3)).FundWallet(bob, 10))
	mustApply(t, bt, jg.NewBatch(ref(4)).LiquidationBurn(alice, 10).LiquidationSeize(alice, bob, 200))

	for aid, total := range bt.ComputeGlobalBalance() {
		if total != 0 {
			t.Errorf("asset %d has non-zero global balance: %d", aid, total)
		}
	}
	if bt.GetWalletBalance(bob) != 210 {
		t.Errorf("liquidator wallet: got %d, want 210", bt.GetWalletBalance(bob))
	}
}

func TestBalanceTracker_ValidateSufficient(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(bt)

	if err := bt.ValidateSufficient(ledger.WalletKey(alice), 100); err == nil {
		t.Error("expected error for insufficient balance")
	}

	mustApply(t, bt, jg.NewBatch(ref(1)).FundWallet(alice, 1_000))

	if err := bt.ValidateSufficient(ledger.WalletKey(alice), 1_000); err != nil {
		t.Errorf("should have sufficient balance: %v", err)
	}
	if err := bt.ValidateSufficient(ledger.WalletKey(alice), 1_001); err == nil {
		t.Error("expected error for 1_001 > 1_000")
	}
}

func TestBalanceTracker_SnapshotAndRestore(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(bt)
	mustApply(t, bt, jg.NewBatch(ref(1)).FundWallet(alice, 999))

	snap := bt.Snapshot()
	if len(snap) == 0 {
		t.Fatal("snapshot should not be empty")
	}
	for k := range snap {
		snap[k] = 0
	}
	if bt.GetWalletBalance(alice) != 999 {
		t.Error("tracker balance should not be affected by snapshot mutation")
	}

	restored := ledger.NewBalanceTracker()
	for k, v := range bt.Snapshot() {
		restored.SetBalance(k, v)
	}
	if restored.GetWalletBalance(alice) != 999 {
		t.Errorf("restored wallet: got %d", restored.GetWalletBalance(alice))
	}
}

// ============================================================================
// Test: JournalGenerator
// ============================================================================

func TestGenerator_ZeroAmountLegsAreSkipped(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(bt)

	b := jg.NewBatch(ref(1)).LockCollateral(alice, 0).MintStable(alice, 0)
	if b.Len() != 0 {
		t.Errorf("expected no journals, got %d", b.Len())
	}
	batch, err := jg.Prepare(b)
	if err != nil || batch != nil {
		t.Errorf("empty builder should prepare to (nil, nil), got (%v, %v)", batch, err)
	}
}

func TestGenerator_PrepareRejectsOverdraw(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(bt)

	_, err := jg.Prepare(jg.NewBatch(ref(1)).LockCollateral(alice, 1))
	var nbe *ledger.NegativeBalanceError
	if !errors.As(err, &nbe) {
		t.Fatalf("expected NegativeBalanceError, got %v", err)
	}
	if nbe.Account.SubType != ledger.SubTypeWallet {
		t.Errorf("expected wallet overdraw, got %s", nbe.Account.AccountPath())
	}
}

func TestGenerator_JournalsCarryRef(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(bt)

	batch := jg.NewBatch(ref(7)).FundWallet(alice, 5).Build()
	j := batch.Journals[0]
	if j.Sequence != 7 || j.EventRef != "evt" || j.BatchID != batch.BatchID {
		t.Errorf("journal does not carry batch ref: %+v", j)
	}
	if j.JournalType != ledger.JournalTypeWalletFund || j.JournalType.String() != "WalletFund" {
		t.Errorf("unexpected journal type %s", j.JournalType)
	}
}

// ============================================================================
// Test: Batch Validation
// ============================================================================

func singleJournalBatch(mutate func(*ledger.Journal)) *ledger.Batch {
	batchID := uuid.New()
	j := ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		DebitAccount:  ledger.WalletKey(alice),
		CreditAccount: ledger.ExternalInflowKey(),
		AssetID:       ledger.AssetNative,
		Amount:        1_000_000,
	}
	if mutate != nil {
		mutate(&j)
	}
	return &ledger.Batch{BatchID: batchID, Journals: []ledger.Journal{j}}
}

func TestBatchValidate(t *testing.T) {
	tests := []struct {
		name    string
		batch   *ledger.Batch
		wantErr bool
	}{
		{"valid", singleJournalBatch(nil), false},
		{"empty", &ledger.Batch{BatchID: uuid.New()}, true},
		{"zero amount", singleJournalBatch(func(j *ledger.Journal) { j.Amount = 0 }), true},
		{"negative amount", singleJournalBatch(func(j *ledger.Journal) { j.Amount = -100 }), true},
		{"self transfer", singleJournalBatch(func(j *ledger.Journal) { j.CreditAccount = j.DebitAccount }), true},
		{"mismatched batch id", singleJournalBatch(func(j *ledger.Journal) { j.BatchID = uuid.New() }), true},
		{"mixed assets", singleJournalBatch(func(j *ledger.Journal) { j.DebitAccount = ledger.StableKey(alice) }), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.batch.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(bt)
	v := ledger.NewInvariantValidator(bt)

	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("empty ledger should have zero global balance: %v", err)
	}

	mustApply(t, bt, jg.NewBatch(ref(1)).FundWallet(alice, 1_000))
	mustApply(t, bt, jg.NewBatch(ref(2)).LockCollateral(alice, 400).MintStable(alice, 20))

	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("balanced ledger should have zero global balance: %v", err)
	}
	if err := v.ValidateVaultMatches(alice, 400); err != nil {
		t.Errorf("vault should match: %v", err)
	}
	if err := v.ValidateVaultMatches(alice, 401); err == nil {
		t.Error("expected vault mismatch")
	}
	if err := v.ValidateSupplyMatchesDebt(20); err != nil {
		t.Errorf("supply should match debt: %v", err)
	}
	if err := v.ValidateSupplyMatchesDebt(19); err == nil {
		t.Error("expected supply mismatch")
	}
	if err := v.ValidateUserAccountsNonNegative(alice); err != nil {
		t.Errorf("accounts should be non-negative: %v", err)
	}
}
