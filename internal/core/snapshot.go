package core

import (
	"StableLedger/internal/ledger"
	"StableLedger/internal/oracle"
	"StableLedger/internal/state"
)

// SnapshotState holds the serializable in-memory state for restore.
// persistence.SnapshotData is its JSON form.
type SnapshotState struct {
	Sequence        int64 // last applied sequence, -1 before any event
	StateHash       [32]byte
	Balances        map[ledger.AccountKey]int64
	Positions       []state.Position
	Config          *state.Config
	ConfigVersion   int64
	LastPrice       int64
	LastPriceSlot   uint64
	SlotMark        uint64
	SequenceState   map[string]int64
	IdempotencyKeys []string // oldest first
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := &SnapshotState{
		Sequence:      c.sequence - 1,
		StateHash:     c.hasher.GetPrevHash(),
		Balances:      c.balanceTracker.Snapshot(),
		Positions:     c.positions.Sorted(),
		LastPrice:     c.lastPrice.Price(),
		LastPriceSlot: c.lastPrice.Slot(),
		SlotMark:      c.slotMark,
		SequenceState: c.sequenceValidator.GetAllPartitions(),
	}
	if cfg, err := c.configStore.Snapshot(); err == nil {
		snap.Config = &cfg
		snap.ConfigVersion = c.configStore.Version()
	}

	// LRU order is newest first; store oldest first so a warm restores recency.
	keys := c.idempotency.Keys()
	for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
		keys[i], keys[j] = keys[j], keys[i]
	}
	snap.IdempotencyKeys = keys

	return snap
}

// RestoreFromSnapshot restores the core's in-memory state from a snapshot.
// Must run before the first ProcessEvent.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)

	for key, balance := range snap.Balances {
		c.balanceTracker.SetBalance(key, balance)
	}
	for _, pos := range snap.Positions {
		c.positions.Restore(pos)
	}
	if snap.Config != nil {
		c.configStore.Restore(*snap.Config, snap.ConfigVersion)
	}
	if snap.LastPrice > 0 {
		c.lastPrice = oracle.RestoreValidatedPrice(snap.LastPrice, snap.LastPriceSlot)
	}
	c.slotMark = snap.SlotMark
	for partition, seq := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, seq)
	}
	c.idempotency.Warm(snap.IdempotencyKeys)

	c.logger.Info().
		Int64("sequence", snap.Sequence).
		Int("positions", len(snap.Positions)).
		Int("accounts", len(snap.Balances)).
		Msg("restored from snapshot")
}
