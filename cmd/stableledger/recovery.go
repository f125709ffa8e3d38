package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/ingestion"
	"StableLedger/internal/observability"
	"StableLedger/internal/persistence"

	"github.com/rs/zerolog"
)

const replayBatchSize = 1000

var errEmptyLedger = errors.New("no events applied yet")

// replayer feeds logged events back through a core and reads each output
// back synchronously. outputs must be the core's persist channel; nobody
// else may read it while a replay runs.
type replayer struct {
	core      *core.DeterministicCore
	outputs   <-chan core.CoreOutput
	discard   <-chan core.CoreOutput // projection channel, emptied as we go
	snapshots *persistence.SnapshotManager
}

// run replays every logged event from fromSeq. Each event must land on the
// same sequence with the same state hash it was logged with. onApplied, if
// set, sees every regenerated output.
func (r *replayer) run(ctx context.Context, fromSeq int64, onApplied func(core.CoreOutput) error) (int64, error) {
	var replayed int64
	for {
		rows, err := r.snapshots.LoadEventsFrom(ctx, fromSeq, replayBatchSize)
		if err != nil {
			return replayed, fmt.Errorf("load events from seq %d: %w", fromSeq, err)
		}
		if len(rows) == 0 {
			return replayed, nil
		}

		for _, row := range rows {
			if err := r.replayOne(row, onApplied); err != nil {
				return replayed, err
			}
			replayed++
		}
		fromSeq = rows[len(rows)-1].Sequence + 1
	}
}

func (r *replayer) replayOne(row persistence.EventRow, onApplied func(core.CoreOutput) error) error {
	evt, err := ingestion.ParseEvent(row.EventType, row.Payload)
	if err != nil {
		return fmt.Errorf("seq %d: parse %s: %w", row.Sequence, row.EventType, err)
	}

	receipt, err := r.core.ProcessEvent(evt)
	if err != nil {
		return fmt.Errorf("seq %d: logged event rejected on replay: %w", row.Sequence, err)
	}
	if receipt.Duplicate {
		return fmt.Errorf("seq %d: logged event %s/%s replayed as duplicate",
			row.Sequence, row.EventType, row.IdempotencyKey)
	}

	out := <-r.outputs
	r.drainDiscard()

	if receipt.Sequence != row.Sequence {
		return fmt.Errorf("replay landed on seq %d, log has %d", receipt.Sequence, row.Sequence)
	}
	if !bytes.Equal(receipt.StateHash[:], row.StateHash) {
		return fmt.Errorf("seq %d: state hash mismatch: log %x, replay %x",
			row.Sequence, row.StateHash, receipt.StateHash)
	}

	if onApplied != nil {
		return onApplied(out)
	}
	return nil
}

func (r *replayer) drainDiscard() {
	for {
		select {
		case <-r.discard:
		default:
			return
		}
	}
}

// recoverCore restores the latest verified snapshot, checks it against the
// log, and replays everything after it. Returns the number of replayed events.
func recoverCore(
	ctx context.Context,
	c *core.DeterministicCore,
	persistOut, projectionOut <-chan core.CoreOutput,
	snapshots *persistence.SnapshotManager,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (int64, error) {
	start := time.Now()
	fromSeq := int64(0)

	snap, err := snapshots.LoadLatestSnapshot(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load snapshot, replaying from genesis")
		snap = nil
	}
	if snap != nil {
		if err := verifySnapshotAgainstLog(ctx, snapshots, snap); err != nil {
			return 0, err
		}
		st, err := snap.ToState()
		if err != nil {
			return 0, err
		}
		c.RestoreFromSnapshot(st)
		fromSeq = snap.Sequence + 1
	} else {
		logger.Info().Msg("no snapshot found, cold start from sequence 0")
	}

	r := &replayer{
		core:      c,
		outputs:   persistOut,
		discard:   projectionOut,
		snapshots: snapshots,
	}
	replayed, err := r.run(ctx, fromSeq, nil)
	if err != nil {
		return replayed, fmt.Errorf("event replay: %w", err)
	}

	if metrics != nil {
		metrics.ReplayEventsTotal.Add(float64(replayed))
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	logger.Info().
		Int64("replayed", replayed).
		Int64("next_sequence", c.GetSequence()).
		Hex("state_hash", hashBytes(c.GetStateHash())).
		Dur("took", time.Since(start)).
		Msg("recovery complete")
	return replayed, nil
}

// verifySnapshotAgainstLog checks the snapshot's hash against the logged
// event it claims to follow.
func verifySnapshotAgainstLog(ctx context.Context, snapshots *persistence.SnapshotManager, snap *persistence.SnapshotData) error {
	rows, err := snapshots.LoadEventsFrom(ctx, snap.Sequence, 1)
	if err != nil {
		return fmt.Errorf("load event %d: %w", snap.Sequence, err)
	}
	if len(rows) == 0 || rows[0].Sequence != snap.Sequence {
		return fmt.Errorf("snapshot at seq %d has no matching logged event", snap.Sequence)
	}
	if !bytes.Equal(rows[0].StateHash, snap.StateHash) {
		return fmt.Errorf("snapshot at seq %d: state hash %x, log has %x",
			snap.Sequence, snap.StateHash, rows[0].StateHash)
	}
	return nil
}

// takeSnapshot saves the core's current state as an unverified snapshot and
// promotes whatever the event log already covers.
func takeSnapshot(
	ctx context.Context,
	c *core.DeterministicCore,
	snapshots *persistence.SnapshotManager,
	metrics *observability.Metrics,
) (int64, error) {
	start := time.Now()

	data := persistence.SnapshotFromState(c.CreateSnapshotState())
	if data.Sequence < 0 {
		return -1, errEmptyLedger
	}

	size, err := snapshots.SaveSnapshot(ctx, data)
	if err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}
	if err := verifySnapshots(ctx, snapshots); err != nil {
		return 0, err
	}

	if metrics != nil {
		metrics.SnapshotTaken.Inc()
		metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		metrics.SnapshotSizeBytes.Set(float64(size))
		metrics.SnapshotLastSeq.Set(float64(data.Sequence))
	}
	return data.Sequence, nil
}

// verifySnapshots promotes pending snapshots whose events are all durable.
func verifySnapshots(ctx context.Context, snapshots *persistence.SnapshotManager) error {
	persisted, err := snapshots.GetLatestSequence(ctx)
	if err != nil {
		return fmt.Errorf("latest persisted sequence: %w", err)
	}
	if _, err := snapshots.MarkVerifiedUpTo(ctx, persisted); err != nil {
		return fmt.Errorf("verify snapshots: %w", err)
	}
	return nil
}

// runPeriodicSnapshots snapshots every interval applied events, checked every 10s.
func runPeriodicSnapshots(
	ctx context.Context,
	c *core.DeterministicCore,
	snapshots *persistence.SnapshotManager,
	interval int64,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) {
	if interval <= 0 {
		interval = 100_000
	}

	lastSnapshotSeq := c.GetSequence()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := c.GetSequence()
			if current-lastSnapshotSeq < interval {
				// Earlier snapshots may have become durable since.
				if err := verifySnapshots(ctx, snapshots); err != nil {
					logger.Warn().Err(err).Msg("snapshot verification failed")
				}
				continue
			}
			seq, err := takeSnapshot(ctx, c, snapshots, metrics)
			if err != nil {
				logger.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			lastSnapshotSeq = current
			logger.Info().Int64("sequence", seq).Msg("periodic snapshot saved")
		}
	}
}

func hashBytes(h [32]byte) []byte {
	return h[:]
}
