package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/ledger"
	"StableLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// SnapshotFormatVersion identifies the JSON layout of SnapshotData.
const SnapshotFormatVersion = 1

// SnapshotManager handles creating and loading state snapshots for recovery.
// A snapshot holds balances, positions, config, the last validated price,
// sequence counters, idempotency keys, and the last state hash.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData contains the full in-memory state at a point in time.
type SnapshotData struct {
	Sequence        int64              `json:"sequence"`
	StateHash       []byte             `json:"state_hash"`
	Balances        map[string]int64   `json:"balances"` // AccountPath -> balance
	Positions       []PositionSnapshot `json:"positions"`
	Config          *ConfigSnapshot    `json:"config,omitempty"`
	ConfigVersion   int64              `json:"config_version"`
	LastPrice       int64              `json:"last_price"`
	LastPriceSlot   uint64             `json:"last_price_slot"`
	SlotMark        uint64             `json:"slot_mark"`
	SequenceState   map[string]int64   `json:"sequence_state"`   // partition -> last committed source sequence
	IdempotencyKeys []string           `json:"idempotency_keys"` // oldest first
	CreatedAt       time.Time          `json:"created_at"`
}

// PositionSnapshot is a serializable position.
type PositionSnapshot struct {
	Depositor        string `json:"depositor"`
	CollateralAmount int64  `json:"collateral_amount"`
	AmountMinted     int64  `json:"amount_minted"`
	Initialized      bool   `json:"initialized"`
	Status           int32  `json:"status"`
	Version          int64  `json:"version"`
}

// ConfigSnapshot is a serializable config.
type ConfigSnapshot struct {
	Authority               string `json:"authority"`
	LiquidationThresholdBps uint16 `json:"liquidation_threshold_bps"`
	LiquidationBonusBps     uint16 `json:"liquidation_bonus_bps"`
	MinHealthFactorBps      uint16 `json:"min_health_factor_bps"`
	MintReference           string `json:"mint_reference"`
	LiquidationPolicy       string `json:"liquidation_policy"`
}

// SnapshotFromState converts the core's snapshot into its stored form.
func SnapshotFromState(s *core.SnapshotState) *SnapshotData {
	data := &SnapshotData{
		Sequence:        s.Sequence,
		StateHash:       append([]byte(nil), s.StateHash[:]...),
		Balances:        make(map[string]int64, len(s.Balances)),
		Positions:       make([]PositionSnapshot, 0, len(s.Positions)),
		ConfigVersion:   s.ConfigVersion,
		LastPrice:       s.LastPrice,
		LastPriceSlot:   s.LastPriceSlot,
		SlotMark:        s.SlotMark,
		SequenceState:   s.SequenceState,
		IdempotencyKeys: s.IdempotencyKeys,
		CreatedAt:       time.Now().UTC(),
	}

	for key, balance := range s.Balances {
		data.Balances[key.AccountPath()] = balance
	}
	for _, p := range s.Positions {
		data.Positions = append(data.Positions, PositionSnapshot{
			Depositor:        p.Depositor.Hex(),
			CollateralAmount: p.CollateralAmount,
			AmountMinted:     p.AmountMinted,
			Initialized:      p.Initialized,
			Status:           int32(p.Status),
			Version:          p.Version,
		})
	}
	if s.Config != nil {
		data.Config = &ConfigSnapshot{
			Authority:               s.Config.Authority.Hex(),
			LiquidationThresholdBps: s.Config.LiquidationThresholdBps,
			LiquidationBonusBps:     s.Config.LiquidationBonusBps,
			MinHealthFactorBps:      s.Config.MinHealthFactorBps,
			MintReference:           s.Config.MintReference.Hex(),
			LiquidationPolicy:       string(s.Config.LiquidationPolicy),
		}
	}
	return data
}

// ToState converts the stored form back for core.RestoreFromSnapshot.
func (d *SnapshotData) ToState() (*core.SnapshotState, error) {
	if len(d.StateHash) != 32 {
		return nil, fmt.Errorf("snapshot %d: state hash has %d bytes", d.Sequence, len(d.StateHash))
	}

	s := &core.SnapshotState{
		Sequence:        d.Sequence,
		Balances:        make(map[ledger.AccountKey]int64, len(d.Balances)),
		Positions:       make([]state.Position, 0, len(d.Positions)),
		ConfigVersion:   d.ConfigVersion,
		LastPrice:       d.LastPrice,
		LastPriceSlot:   d.LastPriceSlot,
		SlotMark:        d.SlotMark,
		SequenceState:   d.SequenceState,
		IdempotencyKeys: d.IdempotencyKeys,
	}
	copy(s.StateHash[:], d.StateHash)

	for path, balance := range d.Balances {
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return nil, fmt.Errorf("snapshot %d: %w", d.Sequence, err)
		}
		s.Balances[key] = balance
	}
	for _, p := range d.Positions {
		if !common.IsHexAddress(p.Depositor) {
			return nil, fmt.Errorf("snapshot %d: invalid depositor %q", d.Sequence, p.Depositor)
		}
		s.Positions = append(s.Positions, state.Position{
			Depositor:        common.HexToAddress(p.Depositor),
			CollateralAmount: p.CollateralAmount,
			AmountMinted:     p.AmountMinted,
			Initialized:      p.Initialized,
			Status:           state.PositionStatus(p.Status),
			Version:          p.Version,
		})
	}
	if d.Config != nil {
		s.Config = &state.Config{
			Authority:               common.HexToAddress(d.Config.Authority),
			LiquidationThresholdBps: d.Config.LiquidationThresholdBps,
			LiquidationBonusBps:     d.Config.LiquidationBonusBps,
			MinHealthFactorBps:      d.Config.MinHealthFactorBps,
			MintReference:           common.HexToAddress(d.Config.MintReference),
			LiquidationPolicy:       state.LiquidationPolicy(d.Config.LiquidationPolicy),
		}
	}
	if s.SequenceState == nil {
		s.SequenceState = make(map[string]int64)
	}
	return s, nil
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot as unverified and returns its encoded size.
// A snapshot may run ahead of the event log; MarkVerifiedUpTo promotes it once
// the events it covers are durable.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, uuid.New(), snap.Sequence, data, snap.StateHash, SnapshotFormatVersion, len(data), snap.CreatedAt)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on a cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE AND format_version = $1
		ORDER BY sequence DESC
		LIMIT 1
	`, SnapshotFormatVersion)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerifiedUpTo marks every pending snapshot at or below persistedSeq as verified.
func (sm *SnapshotManager) MarkVerifiedUpTo(ctx context.Context, persistedSeq int64) (int64, error) {
	res, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE
		WHERE verified = FALSE AND sequence <= $1
	`, persistedSeq)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// LoadEventsFrom loads events from a given sequence for replay.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, partition, payload,
		       state_hash, prev_hash, state_digest, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Partition, &e.Payload,
			&e.StateHash, &e.PrevHash, &e.StateDigest, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetLatestSequence returns the highest persisted sequence, or -1 for an empty log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := sm.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
