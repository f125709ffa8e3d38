package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// BatchRef identifies the event a batch is generated for.
type BatchRef struct {
	EventRef  string
	Sequence  int64
	Timestamp int64 // epoch microseconds
}

// JournalGenerator creates balanced journal batches for position operations.
// Every generated batch is pre-checked against the tracker so the caller can
// reject an operation before any state is touched.
type JournalGenerator struct {
	balanceTracker *BalanceTracker
}

func NewJournalGenerator(tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		balanceTracker: tracker,
	}
}

// BatchBuilder accumulates journals for one event.
type BatchBuilder struct {
	batch *Batch
}

// NewBatch starts an empty batch for ref.
func (jg *JournalGenerator) NewBatch(ref BatchRef) *BatchBuilder {
	return &BatchBuilder{
		batch: &Batch{
			BatchID:   uuid.New(),
			EventRef:  ref.EventRef,
			Sequence:  ref.Sequence,
			Timestamp: ref.Timestamp,
			Journals:  make([]Journal, 0, 2),
		},
	}
}

func (b *BatchBuilder) add(debit, credit AccountKey, amount int64, jt JournalType) {
	if amount == 0 {
		return
	}
	b.batch.Journals = append(b.batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.batch.BatchID,
		EventRef:      b.batch.EventRef,
		Sequence:      b.batch.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       debit.AssetID,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     b.batch.Timestamp,
	})
}

// FundWallet: external:inflow → user:wallet
func (b *BatchBuilder) FundWallet(owner common.Address, amount int64) *BatchBuilder {
	b.add(WalletKey(owner), ExternalInflowKey(), amount, JournalTypeWalletFund)
	return b
}

// WithdrawWallet: user:wallet → external:inflow
func (b *BatchBuilder) WithdrawWallet(owner common.Address, amount int64) *BatchBuilder {
	b.add(ExternalInflowKey(), WalletKey(owner), amount, JournalTypeWalletWithdraw)
	return b
}

// LockCollateral: user:wallet → user:vault
func (b *BatchBuilder) LockCollateral(owner common.Address, amount int64) *BatchBuilder {
	b.add(VaultKey(owner), WalletKey(owner), amount, JournalTypeCollateralLock)
	return b
}

// ReleaseCollateral: user:vault → recipient:wallet
func (b *BatchBuilder) ReleaseCollateral(owner, recipient common.Address, amount int64) *BatchBuilder {
	b.add(WalletKey(recipient), VaultKey(owner), amount, JournalTypeCollateralRelease)
	return b
}

// MintStable: system:stable_supply → user:stable
func (b *BatchBuilder) MintStable(owner common.Address, amount int64) *BatchBuilder {
	b.add(StableKey(owner), StableSupplyKey(), amount, JournalTypeStableMint)
	return b
}

// BurnStable: user:stable → system:stable_supply
func (b *BatchBuilder) BurnStable(owner common.Address, amount int64) *BatchBuilder {
	b.add(StableSupplyKey(), StableKey(owner), amount, JournalTypeStableBurn)
	return b
}

// LiquidationBurn burns the liquidator's stable tokens against the supply.
func (b *BatchBuilder) LiquidationBurn(liquidator common.Address, amount int64) *BatchBuilder {
	b.add(StableSupplyKey(), StableKey(liquidator), amount, JournalTypeLiquidationBurn)
	return b
}

// LiquidationSeize moves seized collateral from the depositor's vault to the liquidator's wallet.
func (b *BatchBuilder) LiquidationSeize(depositor, liquidator common.Address, amount int64) *BatchBuilder {
	b.add(WalletKey(liquidator), VaultKey(depositor), amount, JournalTypeLiquidationSeize)
	return b
}

// Len returns the number of journals accumulated so far.
func (b *BatchBuilder) Len() int {
	return len(b.batch.Journals)
}

// Build returns the batch. A batch with no journals is returned as nil.
func (b *BatchBuilder) Build() *Batch {
	if len(b.batch.Journals) == 0 {
		return nil
	}
	return b.batch
}

// Prepare builds the batch and pre-checks it against current balances.
func (jg *JournalGenerator) Prepare(b *BatchBuilder) (*Batch, error) {
	batch := b.Build()
	if batch == nil {
		return nil, nil
	}
	if err := jg.balanceTracker.CheckBatch(batch); err != nil {
		return nil, fmt.Errorf("batch pre-check failed: %w", err)
	}
	return batch, nil
}
