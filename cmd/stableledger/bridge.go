package main

import (
	"context"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/ingestion"
	"StableLedger/internal/observability"
	"StableLedger/internal/persistence"
	"StableLedger/internal/projection"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
)

// runPersistBridge turns core outputs into event-log rows and outbound
// messages. The row send blocks so the core's backpressure reaches the
// writer; the publish send drops. Closes both outputs when in closes.
func runPersistBridge(
	in <-chan core.CoreOutput,
	rows chan<- persistence.CoreOutput,
	publish chan<- ingestion.PublishableEvent,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) {
	defer close(rows)
	defer close(publish)

	for out := range in {
		payload, err := ingestion.EncodeEvent(out.Event)
		if err != nil {
			// Already applied in memory; the log cannot be allowed to skip it.
			logger.Fatal().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("encode applied event")
		}

		row := persistence.RowsFromOutput(out, payload)
		rows <- row

		select {
		case publish <- ingestion.PublishableEvent{
			Sequence:       row.EventRow.Sequence,
			EventType:      row.EventRow.EventType,
			IdempotencyKey: row.EventRow.IdempotencyKey,
			Partition:      row.EventRow.Partition,
			Payload:        payload,
			StateHash:      hexutil.Encode(row.EventRow.StateHash),
			Timestamp:      row.EventRow.Timestamp,
		}:
		default:
			if metrics != nil {
				metrics.PublishDrops.Inc()
			}
		}
	}
}

// runProjectionBridge converts outputs for the projection worker, dropping
// when it falls behind.
func runProjectionBridge(
	in <-chan core.CoreOutput,
	out chan<- projection.ProjectionOutput,
	metrics *observability.Metrics,
) {
	defer close(out)

	for o := range in {
		select {
		case out <- projection.FromCoreOutput(o):
		default:
			if metrics != nil {
				metrics.ProjectionDrops.WithLabelValues("bridge").Inc()
			}
		}
	}
}

type sampledChannel struct {
	name     string
	size     func() int
	capacity int
}

// runChannelSampler reports channel depth every few seconds.
func runChannelSampler(ctx context.Context, metrics *observability.Metrics, channels []sampledChannel) {
	if metrics == nil {
		return
	}
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, ch := range channels {
				metrics.SetChannelMetrics(ch.name, ch.size(), ch.capacity)
			}
		}
	}
}
