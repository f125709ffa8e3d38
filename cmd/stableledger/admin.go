package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"StableLedger/internal/core"
	"StableLedger/internal/observability"
	"StableLedger/internal/oracle"
	"StableLedger/internal/persistence"
	"StableLedger/internal/projection"

	"github.com/rs/zerolog"
)

// adminService backs the /v1/admin routes.
type adminService struct {
	db        *sql.DB
	core      *core.DeterministicCore
	gateway   *oracle.Gateway
	snapshots *persistence.SnapshotManager
	metrics   *observability.Metrics
	logger    zerolog.Logger

	rebuildMu sync.Mutex
}

func (a *adminService) TakeSnapshot(ctx context.Context) (int64, error) {
	seq, err := takeSnapshot(ctx, a.core, a.snapshots, a.metrics)
	if errors.Is(err, errEmptyLedger) {
		return -1, nil
	}
	if err != nil {
		return 0, err
	}
	a.logger.Info().Int64("sequence", seq).Msg("snapshot saved on request")
	return seq, nil
}

func (a *adminService) LatestPersistedSequence(ctx context.Context) (int64, error) {
	return a.snapshots.GetLatestSequence(ctx)
}

// RebuildProjections recomputes balances from the journal, then replays the
// whole log through a scratch core to refill positions and liquidations.
// Live projection updates that land mid-rebuild are not reconciled; run it
// while writes are quiet.
func (a *adminService) RebuildProjections(ctx context.Context) error {
	if !a.rebuildMu.TryLock() {
		return errors.New("projection rebuild already running")
	}
	defer a.rebuildMu.Unlock()

	if err := projection.RebuildProjections(ctx, a.db); err != nil {
		return err
	}

	// Capacity 1: the replayer reads each output back before the next event.
	outputs := make(chan core.CoreOutput, 1)
	scratch := core.NewDeterministicCore(0, a.gateway, outputs, nil, nil,
		core.WithLogger(zerolog.Nop()))
	worker := projection.NewProjectionWorker(a.db, nil, a.metrics)

	r := &replayer{core: scratch, outputs: outputs, snapshots: a.snapshots}
	replayed, err := r.run(ctx, 0, func(out core.CoreOutput) error {
		po := projection.FromCoreOutput(out)
		po.JournalEntries = nil // balances already rebuilt from the journal
		return worker.Apply(ctx, po)
	})
	if err != nil {
		return fmt.Errorf("replay into projections: %w", err)
	}

	a.logger.Info().Int64("replayed", replayed).Msg("projections rebuilt")
	return nil
}
