package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// NegativeBalanceError reports a batch that would drive a user account below zero.
type NegativeBalanceError struct {
	Account   AccountKey
	Balance   int64
	Requested int64
}

func (e *NegativeBalanceError) Error() string {
	return fmt.Sprintf("account %s would go negative: have=%d, need=%d",
		e.Account.AccountPath(), e.Balance, e.Requested)
}

// BalanceTracker maintains in-memory account balances.
// Not thread-safe; owned by the single-threaded deterministic core.
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// CheckBatch verifies the batch is well-formed and that no user account
// would end negative. Nothing is mutated.
func (bt *BalanceTracker) CheckBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	deltas := make(map[AccountKey]int64, len(batch.Journals)*2)
	for _, j := range batch.Journals {
		deltas[j.DebitAccount] += j.Amount
		deltas[j.CreditAccount] -= j.Amount
	}

	for key, delta := range deltas {
		if key.Scope != AccountScopeUser || delta >= 0 {
			continue
		}
		current := bt.balances[key]
		if current+delta < 0 {
			return &NegativeBalanceError{Account: key, Balance: current, Requested: -delta}
		}
	}
	return nil
}

// ApplyBatch applies all journals in a batch, or none of them.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := bt.CheckBatch(batch); err != nil {
		return err
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// SetBalance overwrites a balance. Used by snapshot restore only.
func (bt *BalanceTracker) SetBalance(key AccountKey, balance int64) {
	if balance == 0 {
		delete(bt.balances, key)
		return
	}
	bt.balances[key] = balance
}

// === User Balance Queries ===

// GetWalletBalance returns native collateral the user holds outside any vault
func (bt *BalanceTracker) GetWalletBalance(owner common.Address) int64 {
	return bt.GetBalance(WalletKey(owner))
}

// GetVaultBalance returns native collateral escrowed for the user's position
func (bt *BalanceTracker) GetVaultBalance(owner common.Address) int64 {
	return bt.GetBalance(VaultKey(owner))
}

// GetStableBalance returns the user's stable token balance
func (bt *BalanceTracker) GetStableBalance(owner common.Address) int64 {
	return bt.GetBalance(StableKey(owner))
}

// GetOutstandingSupply returns the issued stable supply as a positive number
func (bt *BalanceTracker) GetOutstandingSupply() int64 {
	return -bt.GetBalance(StableSupplyKey())
}

// === Invariant Checks ===

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// ValidateSufficient checks an account holds at least required
func (bt *BalanceTracker) ValidateSufficient(key AccountKey, required int64) error {
	have := bt.GetBalance(key)
	if have < required {
		return &NegativeBalanceError{Account: key, Balance: have, Requested: required}
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}
