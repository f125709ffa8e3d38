package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeWalletFund JournalType = iota
	JournalTypeWalletWithdraw
	JournalTypeCollateralLock
	JournalTypeCollateralRelease
	JournalTypeStableMint
	JournalTypeStableBurn
	JournalTypeLiquidationBurn
	JournalTypeLiquidationSeize
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeWalletFund:
		return "WalletFund"
	case JournalTypeWalletWithdraw:
		return "WalletWithdraw"
	case JournalTypeCollateralLock:
		return "CollateralLock"
	case JournalTypeCollateralRelease:
		return "CollateralRelease"
	case JournalTypeStableMint:
		return "StableMint"
	case JournalTypeStableBurn:
		return "StableBurn"
	case JournalTypeLiquidationBurn:
		return "LiquidationBurn"
	case JournalTypeLiquidationSeize:
		return "LiquidationSeize"
	default:
		return "Unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Idempotency key of source event
	Sequence      int64       // Global event sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        int64       // Fixed-point amount (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Versioned input timestamp (epoch microseconds)
}

// Batch represents a balanced set of journal entries applied atomically
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Each journal moves one positive amount from credit to debit, so every entry
// is balanced on its own; a batch groups the legs of one event.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}
	}

	return nil
}
