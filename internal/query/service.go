package query

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"StableLedger/internal/core"
	"StableLedger/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNotFound is returned when a projected row does not exist.
var ErrNotFound = errors.New("not found")

const (
	DefaultPageSize = 50
	MaxPageSize     = 500

	maxReportedBreaks = 100
)

// QueryService provides read-only access to projection tables and the event
// log. Every response carries as_of_sequence, the projection watermark.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// ClampLimit maps a requested page size into [1, MaxPageSize].
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageSize
	case limit > MaxPageSize:
		return MaxPageSize
	}
	return limit
}

// GetPosition returns the projected position of depositor.
func (qs *QueryService) GetPosition(ctx context.Context, depositor common.Address) (*PositionResponse, error) {
	asOfSeq, err := qs.Watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	p := PositionResponse{AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx, `
		SELECT depositor, collateral_amount, amount_minted, status, version, last_sequence
		FROM projections.positions
		WHERE depositor = $1
	`, hexLower(depositor)).Scan(
		&p.Depositor, &p.CollateralAmount, &p.AmountMinted, &p.Status, &p.Version, &p.LastSequence,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPositions pages through positions ordered by depositor. after is the
// previous page's NextCursor; status filters when non-empty.
func (qs *QueryService) ListPositions(ctx context.Context, status, after string, limit int) (*PositionPage, error) {
	asOfSeq, err := qs.Watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	limit = ClampLimit(limit)

	query := `
		SELECT depositor, collateral_amount, amount_minted, status, version, last_sequence
		FROM projections.positions
		WHERE depositor > $1
	`
	args := []interface{}{strings.ToLower(after)}
	argIdx := 2

	if status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, status)
		argIdx++
	}

	// One extra row tells us whether another page exists.
	query += " ORDER BY depositor ASC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit+1)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page := &PositionPage{Positions: make([]PositionResponse, 0, limit)}
	for rows.Next() {
		var p PositionResponse
		p.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&p.Depositor, &p.CollateralAmount, &p.AmountMinted, &p.Status, &p.Version, &p.LastSequence,
		); err != nil {
			return nil, err
		}
		page.Positions = append(page.Positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(page.Positions) > limit {
		page.Positions = page.Positions[:limit]
		page.NextCursor = page.Positions[limit-1].Depositor
	}
	return page, nil
}

// GetBalances returns the projected wallet, vault and stable balances of owner.
func (qs *QueryService) GetBalances(ctx context.Context, owner common.Address) (*BalanceResponse, error) {
	asOfSeq, err := qs.Watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	resp := &BalanceResponse{Address: hexLower(owner), AsOfSequence: asOfSeq}
	for _, b := range []struct {
		key ledger.AccountKey
		dst *int64
	}{
		{ledger.WalletKey(owner), &resp.Wallet},
		{ledger.VaultKey(owner), &resp.Vault},
		{ledger.StableKey(owner), &resp.Stable},
	} {
		v, err := qs.getProjectedBalance(ctx, b.key)
		if err != nil {
			return nil, err
		}
		*b.dst = v
	}
	return resp, nil
}

// ListLiquidations returns liquidations newest first. A zero depositor lists
// every liquidation; beforeSequence pages backwards.
func (qs *QueryService) ListLiquidations(
	ctx context.Context,
	depositor common.Address,
	limit int,
	beforeSequence *int64,
) ([]LiquidationResponse, error) {
	query := `
		SELECT sequence, depositor, liquidator, burn_amount, base_collateral, bonus, seized,
		       capped, pre_health_bps, post_health_bps, price, timestamp
		FROM projections.liquidations
		WHERE TRUE
	`
	var args []interface{}
	argIdx := 1

	if depositor != (common.Address{}) {
		query += fmt.Sprintf(" AND depositor = $%d", argIdx)
		args = append(args, hexLower(depositor))
		argIdx++
	}

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, ClampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []LiquidationResponse{}
	for rows.Next() {
		var r LiquidationResponse
		var ts sql.NullTime
		if err := rows.Scan(
			&r.Sequence, &r.Depositor, &r.Liquidator, &r.BurnAmount, &r.BaseCollateral, &r.Bonus,
			&r.Seized, &r.Capped, &r.PreHealthBps, &r.PostHealthBps, &r.Price, &ts,
		); err != nil {
			return nil, err
		}
		if ts.Valid {
			r.TimestampUs = ts.Time.UnixMicro()
		}
		results = append(results, r)
	}

	return results, rows.Err()
}

// ListJournals returns journal entries touching any of owner's accounts, newest first.
func (qs *QueryService) ListJournals(
	ctx context.Context,
	owner common.Address,
	limit int,
	beforeSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := "user:" + hexLower(owner) + ":%"

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, journal_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, ClampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []JournalHistoryEntry{}
	for rows.Next() {
		var e JournalHistoryEntry
		var journalType int32
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&journalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.JournalType = ledger.JournalType(journalType).String()
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity recomputes the hash chain over the persisted log from
// genesis and checks the projected balances against the ledger invariants.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{LastSequence: -1}

	if err := qs.verifyChain(ctx, report); err != nil {
		return nil, fmt.Errorf("verify chain: %w", err)
	}

	// Every journal moves value between two accounts, so each asset sums to zero.
	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance) AS total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var assetID uint16
		var total int64
		if err := balanceRows.Scan(&assetID, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			AssetID:   assetID,
			Imbalance: total,
		})
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	// Minting credits the supply account, so issued supply is its negated balance.
	supplyBalance, err := qs.getProjectedBalance(ctx, ledger.StableSupplyKey())
	if err != nil {
		return nil, err
	}
	var debt int64
	if err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_minted), 0) FROM projections.positions
	`).Scan(&debt); err != nil {
		return nil, err
	}
	report.SupplyMismatch = -supplyBalance - debt

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		len(report.SequenceGaps) == 0 &&
		len(report.UnbalancedAssets) == 0 &&
		report.SupplyMismatch == 0
	return report, nil
}

// verifyChain walks event_log.events in order. A break is recorded when an
// event's prev_hash is not its predecessor's state_hash, or when its
// state_hash does not follow from prev_hash and the stored state digest.
func (qs *QueryService) verifyChain(ctx context.Context, report *IntegrityReport) error {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT sequence, prev_hash, state_hash, state_digest
		FROM event_log.events
		ORDER BY sequence ASC
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	expectedPrev := core.GenesisHash()
	expectedSeq := int64(0)

	for rows.Next() {
		var seq int64
		var prevHash, stateHash, digest []byte
		if err := rows.Scan(&seq, &prevHash, &stateHash, &digest); err != nil {
			return err
		}
		report.EventsChecked++
		report.LastSequence = seq

		if seq != expectedSeq {
			report.SequenceGaps = append(report.SequenceGaps, expectedSeq)
		}
		expectedSeq = seq + 1

		var prev [32]byte
		copy(prev[:], prevHash)
		recomputed := core.ChainHash(prev, seq, digest)

		if (!bytes.Equal(prevHash, expectedPrev[:]) || !bytes.Equal(recomputed[:], stateHash)) &&
			len(report.HashChainBreaks) < maxReportedBreaks {
			report.HashChainBreaks = append(report.HashChainBreaks, seq)
		}
		copy(expectedPrev[:], stateHash)
	}
	return rows.Err()
}

// --- helpers ---

// Watermark is the last sequence folded into the projections, -1 before any.
func (qs *QueryService) Watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, key ledger.AccountKey) (int64, error) {
	var balance int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT balance FROM projections.balances
		WHERE account_path = $1 AND asset_id = $2
	`, key.AccountPath(), int32(key.AssetID)).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

func hexLower(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
