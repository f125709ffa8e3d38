package projection

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/event"
	"StableLedger/internal/observability"

	"github.com/rs/zerolog"
)

const watermarkWorker = "main"

// ProjectionOutput is the part of a core output the read model needs.
type ProjectionOutput struct {
	Sequence       int64
	EventType      string
	Timestamp      time.Time
	JournalEntries []JournalEntry
	Position       *PositionRow
	Liquidation    *LiquidationRow
}

// JournalEntry is a simplified journal for projection consumption.
type JournalEntry struct {
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        int64
}

// PositionRow is one row of projections.positions.
type PositionRow struct {
	Depositor        string
	CollateralAmount int64
	AmountMinted     int64
	Status           string
	Version          int64
}

// LiquidationRow is one row of projections.liquidations.
type LiquidationRow struct {
	Depositor      string
	Liquidator     string
	BurnAmount     int64
	BaseCollateral int64
	Bonus          int64
	Seized         int64
	Capped         bool
	PreHealthBps   int64
	PostHealthBps  int64
	Price          int64
}

// FromCoreOutput flattens a core output for the projection channel.
func FromCoreOutput(out core.CoreOutput) ProjectionOutput {
	env := out.Envelope
	po := ProjectionOutput{
		Sequence:  env.Sequence,
		EventType: env.EventType.String(),
		Timestamp: env.Timestamp,
	}

	if out.Batch != nil {
		po.JournalEntries = make([]JournalEntry, 0, len(out.Batch.Journals))
		for _, j := range out.Batch.Journals {
			po.JournalEntries = append(po.JournalEntries, JournalEntry{
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				AssetID:       uint16(j.AssetID),
				Amount:        j.Amount,
			})
		}
	}

	pos := out.Position
	if pos == nil && out.Liquidation != nil {
		pos = &out.Liquidation.Position
	}
	if pos != nil && pos.Initialized {
		po.Position = &PositionRow{
			Depositor:        strings.ToLower(pos.Depositor.Hex()),
			CollateralAmount: pos.CollateralAmount,
			AmountMinted:     pos.AmountMinted,
			Status:           pos.Status.String(),
			Version:          pos.Version,
		}
	}

	if lr := out.Liquidation; lr != nil {
		row := &LiquidationRow{
			Depositor:      strings.ToLower(lr.Depositor.Hex()),
			Liquidator:     strings.ToLower(lr.Liquidator.Hex()),
			BurnAmount:     lr.BurnAmount,
			BaseCollateral: lr.BaseCollateral,
			Bonus:          lr.Bonus,
			Seized:         lr.Seized,
			Capped:         lr.Capped,
			PreHealthBps:   lr.PreHealth.Bps,
			PostHealthBps:  lr.PostHealth.Bps,
		}
		if q, ok := out.Event.(event.Quoted); ok {
			row.Price = q.Quote().Price
		}
		po.Liquidation = row
	}
	return po
}

// ProjectionWorker updates projection tables from processed events.
// The projection channel is non-blocking with drop; a projection that falls
// behind is rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    observability.NewLogger("projection"),
		lastSeq:   -1,
	}
}

// LastSequence is the last sequence this worker attempted.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			// Projections are eventually consistent; a failed update is logged
			// and repaired by RebuildProjections.
			if err := pw.Apply(ctx, output); err != nil {
				pw.logger.Warn().Err(err).Int64("seq", output.Sequence).Str("event_type", output.EventType).
					Msg("projection update failed")
			}
			pw.lastSeq = output.Sequence
		}
	}
}

// Apply writes one output to the projection tables in a single transaction.
func (pw *ProjectionWorker) Apply(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if len(output.JournalEntries) > 0 {
		start := time.Now()
		for _, j := range output.JournalEntries {
			if err := updateBalance(ctx, tx, j, output.Sequence); err != nil {
				return fmt.Errorf("balance projection: %w", err)
			}
		}
		pw.observe("balances", start)
	}

	if output.Position != nil {
		start := time.Now()
		if err := upsertPosition(ctx, tx, output.Position, output.Sequence); err != nil {
			return fmt.Errorf("position projection: %w", err)
		}
		pw.observe("positions", start)
	}

	if output.Liquidation != nil {
		start := time.Now()
		if err := insertLiquidation(ctx, tx, output.Liquidation, output.Sequence, output.Timestamp); err != nil {
			return fmt.Errorf("liquidation projection: %w", err)
		}
		pw.observe("liquidations", start)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, watermarkWorker, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *ProjectionWorker) observe(projection string, start time.Time) {
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues(projection).Observe(time.Since(start).Seconds())
	}
}

// updateBalance applies one journal: the debit side grows, the credit side shrinks.
func updateBalance(ctx context.Context, tx *sql.Tx, j JournalEntry, seq int64) error {
	legs := []struct {
		account string
		delta   int64
	}{
		{j.DebitAccount, j.Amount},
		{j.CreditAccount, -j.Amount},
	}
	for _, leg := range legs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (account_path, asset_id)
			DO UPDATE SET balance = projections.balances.balance + $3, last_sequence = $4
		`, leg.account, int32(j.AssetID), leg.delta, seq); err != nil {
			return err
		}
	}
	return nil
}

func upsertPosition(ctx context.Context, tx *sql.Tx, p *PositionRow, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.positions
			(depositor, collateral_amount, amount_minted, status, version, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (depositor) DO UPDATE SET
			collateral_amount = $2, amount_minted = $3, status = $4,
			version = $5, last_sequence = $6, updated_at = NOW()
		WHERE projections.positions.version < $5
	`, p.Depositor, p.CollateralAmount, p.AmountMinted, p.Status, p.Version, seq)
	return err
}

func insertLiquidation(ctx context.Context, tx *sql.Tx, l *LiquidationRow, seq int64, ts time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.liquidations
			(sequence, depositor, liquidator, burn_amount, base_collateral, bonus, seized,
			 capped, pre_health_bps, post_health_bps, price, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (sequence) DO NOTHING
	`, seq, l.Depositor, l.Liquidator, l.BurnAmount, l.BaseCollateral, l.Bonus, l.Seized,
		l.Capped, l.PreHealthBps, l.PostHealthBps, l.Price, ts)
	return err
}

// RebuildProjections rebuilds the balances projection from the journal and
// resets the watermark to the last persisted sequence. Positions and
// liquidations are cleared; the caller refills them by replaying the event
// log through Apply with the journal entries stripped.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	logger := observability.NewLogger("projection")

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`TRUNCATE projections.balances, projections.positions, projections.liquidations`); err != nil {
		return fmt.Errorf("truncate projections: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT account_path, asset_id, SUM(delta), MAX(sequence)
		FROM (
			SELECT debit_account AS account_path, asset_id, amount AS delta, sequence FROM event_log.journal
			UNION ALL
			SELECT credit_account AS account_path, asset_id, -amount AS delta, sequence FROM event_log.journal
		) legs
		GROUP BY account_path, asset_id
	`)
	if err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		SELECT $1, COALESCE(MAX(sequence), -1), NOW() FROM event_log.events
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
	`, watermarkWorker); err != nil {
		return fmt.Errorf("reset watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	n, _ := res.RowsAffected()
	logger.Info().Int64("accounts", n).Msg("projection rebuild complete")
	return nil
}
