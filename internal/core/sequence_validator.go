package core

import (
	"strings"

	"StableLedger/internal/apperrors"
)

// SequenceValidator orders source sequences per partition.
// Sequences must increase; gaps are tolerated. Sequence 0 means the producer
// does not sequence its requests and skips the check.
// Not thread-safe; only accessed from the single-threaded deterministic core.
type SequenceValidator struct {
	lastCommitted map[string]int64 // partition -> last committed sequence
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		lastCommitted: make(map[string]int64),
	}
}

// Check validates sourceSequence without recording it.
func (sv *SequenceValidator) Check(partition string, sourceSequence int64) error {
	if sourceSequence == 0 {
		return nil
	}
	if sourceSequence < 0 {
		return apperrors.Newf(apperrors.KindInvalidRequest, "negative source sequence %d", sourceSequence)
	}

	last := sv.lastCommitted[partition]
	if sourceSequence <= last {
		return apperrors.Newf(apperrors.KindOutOfOrder,
			"partition=%s last=%d got=%d", partition, last, sourceSequence)
	}
	return nil
}

// Commit records sourceSequence after the event was applied.
// Returns true when the sequence skipped ahead of last+1.
func (sv *SequenceValidator) Commit(partition string, sourceSequence int64) (gap bool) {
	if sourceSequence == 0 {
		return false
	}
	last := sv.lastCommitted[partition]
	if sourceSequence > last+1 {
		gap = true
	}
	sv.lastCommitted[partition] = sourceSequence
	return gap
}

// RestorePartition initializes a partition (used during recovery)
func (sv *SequenceValidator) RestorePartition(partition string, seq int64) {
	sv.lastCommitted[partition] = seq
}

// GetAllPartitions returns a copy of the partition state for snapshots
func (sv *SequenceValidator) GetAllPartitions() map[string]int64 {
	out := make(map[string]int64, len(sv.lastCommitted))
	for k, v := range sv.lastCommitted {
		out[k] = v
	}
	return out
}

// PartitionKind strips the address from a partition key ("position:0xabc" -> "position").
func PartitionKind(partition string) string {
	if i := strings.IndexByte(partition, ':'); i >= 0 {
		return partition[:i]
	}
	return partition
}

