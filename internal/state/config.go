package state

import (
	"StableLedger/internal/apperrors"
	fpmath "StableLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

// LiquidationPolicy selects the postcondition a liquidation must satisfy.
type LiquidationPolicy string

const (
	// PolicyImprove accepts a liquidation that reaches the minimum or strictly improves health.
	PolicyImprove LiquidationPolicy = "improve"
	// PolicyRecover only accepts a liquidation that reaches the minimum.
	PolicyRecover LiquidationPolicy = "recover"
)

func (p LiquidationPolicy) Valid() bool {
	return p == PolicyImprove || p == PolicyRecover
}

// Config is the protocol's singleton parameter set.
type Config struct {
	Authority               common.Address
	LiquidationThresholdBps uint16 // max loan-to-value, 5000 = 50%
	LiquidationBonusBps     uint16 // extra collateral per unit repaid
	MinHealthFactorBps      uint16 // 10_000 = health factor 1.0
	MintReference           common.Address
	LiquidationPolicy       LiquidationPolicy
}

// Validate checks the basis-point fields.
func (c Config) Validate() error {
	if c.LiquidationThresholdBps == 0 {
		return apperrors.New(apperrors.KindInvalidBasisPoints, "liquidation threshold must be positive")
	}
	if int64(c.LiquidationBonusBps) > fpmath.BpsScale {
		return apperrors.Newf(apperrors.KindInvalidBasisPoints,
			"liquidation bonus %d exceeds %d", c.LiquidationBonusBps, fpmath.BpsScale)
	}
	if c.MinHealthFactorBps == 0 {
		return apperrors.New(apperrors.KindInvalidBasisPoints, "minimum health factor must be positive")
	}
	if !c.LiquidationPolicy.Valid() {
		return apperrors.Newf(apperrors.KindInvalidRequest, "unknown liquidation policy %q", c.LiquidationPolicy)
	}
	return nil
}

// ConfigPatch is a partial update. Nil fields are left unchanged.
type ConfigPatch struct {
	Authority               *common.Address
	LiquidationThresholdBps *uint16
	LiquidationBonusBps     *uint16
	MinHealthFactorBps      *uint16
	LiquidationPolicy       *LiquidationPolicy
}

// IsEmpty reports whether the patch changes nothing.
func (p ConfigPatch) IsEmpty() bool {
	return p.Authority == nil && p.LiquidationThresholdBps == nil &&
		p.LiquidationBonusBps == nil && p.MinHealthFactorBps == nil && p.LiquidationPolicy == nil
}

// ApplyTo returns a copy of cfg with the patch applied.
func (p ConfigPatch) ApplyTo(cfg Config) Config {
	if p.Authority != nil {
		cfg.Authority = *p.Authority
	}
	if p.LiquidationThresholdBps != nil {
		cfg.LiquidationThresholdBps = *p.LiquidationThresholdBps
	}
	if p.LiquidationBonusBps != nil {
		cfg.LiquidationBonusBps = *p.LiquidationBonusBps
	}
	if p.MinHealthFactorBps != nil {
		cfg.MinHealthFactorBps = *p.MinHealthFactorBps
	}
	if p.LiquidationPolicy != nil {
		cfg.LiquidationPolicy = *p.LiquidationPolicy
	}
	return cfg
}

// ConfigStore holds the live config. Owned by the core; callers get value copies.
type ConfigStore struct {
	cfg         Config
	initialized bool
	version     int64
}

func NewConfigStore() *ConfigStore {
	return &ConfigStore{}
}

// Initialize installs the first config.
func (s *ConfigStore) Initialize(cfg Config) error {
	if s.initialized {
		return apperrors.ErrConfigAlreadyInitialized
	}
	if cfg.LiquidationPolicy == "" {
		cfg.LiquidationPolicy = PolicyImprove
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.cfg = cfg
	s.initialized = true
	s.version = 1
	return nil
}

// Update applies patch on behalf of caller. The result is validated before
// anything is committed.
func (s *ConfigStore) Update(caller common.Address, patch ConfigPatch) (Config, error) {
	if !s.initialized {
		return Config{}, apperrors.ErrConfigNotInitialized
	}
	if caller != s.cfg.Authority {
		return Config{}, apperrors.Newf(apperrors.KindUnauthorized,
			"%s is not the config authority", caller.Hex())
	}
	next := patch.ApplyTo(s.cfg)
	if err := next.Validate(); err != nil {
		return Config{}, err
	}
	s.cfg = next
	s.version++
	return next, nil
}

// Snapshot returns a copy of the live config.
func (s *ConfigStore) Snapshot() (Config, error) {
	if !s.initialized {
		return Config{}, apperrors.ErrConfigNotInitialized
	}
	return s.cfg, nil
}

func (s *ConfigStore) Initialized() bool {
	return s.initialized
}

func (s *ConfigStore) Version() int64 {
	return s.version
}

// Restore overwrites the store from a snapshot.
func (s *ConfigStore) Restore(cfg Config, version int64) {
	s.cfg = cfg
	s.initialized = true
	s.version = version
}

// CanonicalBytes returns deterministic serialization for hashing
func (c Config) CanonicalBytes() []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, c.Authority.Bytes()...)
	buf = appendUint16LE(buf, c.LiquidationThresholdBps)
	buf = appendUint16LE(buf, c.LiquidationBonusBps)
	buf = appendUint16LE(buf, c.MinHealthFactorBps)
	buf = append(buf, c.MintReference.Bytes()...)
	buf = append(buf, byte(len(c.LiquidationPolicy)))
	buf = append(buf, []byte(c.LiquidationPolicy)...)
	return buf
}

func appendUint16LE(buf []byte, v uint16) []byte {
	return append(buf, byte(v), byte(v>>8))
}
