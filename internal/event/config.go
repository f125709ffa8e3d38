package event

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PartitionConfig orders all config changes.
const PartitionConfig = "config"

type InitializeConfig struct {
	RequestID               string
	Authority               common.Address
	LiquidationThresholdBps uint16
	LiquidationBonusBps     uint16
	MinHealthFactorBps      uint16
	MintReference           common.Address
	LiquidationPolicy       string // "" selects the default
	Sequence                int64
	Timestamp               time.Time
}

func (e *InitializeConfig) IdempotencyKey() string    { return e.RequestID }
func (e *InitializeConfig) EventType() EventType      { return EventTypeInitializeConfig }
func (e *InitializeConfig) Partition() string         { return PartitionConfig }
func (e *InitializeConfig) SourceSequence() int64     { return e.Sequence }
func (e *InitializeConfig) EventTimestamp() time.Time { return e.Timestamp }

// UpdateConfig carries a partial config update. Nil fields are unchanged.
type UpdateConfig struct {
	RequestID               string
	Caller                  common.Address
	NewAuthority            *common.Address
	LiquidationThresholdBps *uint16
	LiquidationBonusBps     *uint16
	MinHealthFactorBps      *uint16
	LiquidationPolicy       *string
	Sequence                int64
	Timestamp               time.Time
}

func (e *UpdateConfig) IdempotencyKey() string    { return e.RequestID }
func (e *UpdateConfig) EventType() EventType      { return EventTypeUpdateConfig }
func (e *UpdateConfig) Partition() string         { return PartitionConfig }
func (e *UpdateConfig) SourceSequence() int64     { return e.Sequence }
func (e *UpdateConfig) EventTimestamp() time.Time { return e.Timestamp }
