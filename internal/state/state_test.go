package state_test

import (
	"testing"

	"StableLedger/internal/apperrors"
	"StableLedger/internal/oracle"
	"StableLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	oneSol     int64 = 1_000_000_000
	oneStable  int64 = 1_000_000
	hundredUSD int64 = 100_00000000
)

var (
	authority  = common.HexToAddress("0xA000000000000000000000000000000000000001")
	depositor  = common.HexToAddress("0xD000000000000000000000000000000000000001")
	liquidator = common.HexToAddress("0xB000000000000000000000000000000000000001")
	price100   = oracle.RestoreValidatedPrice(hundredUSD, 1)
)

func baseConfig() state.Config {
	return state.Config{
		Authority:               authority,
		LiquidationThresholdBps: 5_000,
		LiquidationBonusBps:     10,
		MinHealthFactorBps:      10_000,
		LiquidationPolicy:       state.PolicyImprove,
	}
}

func u16(v uint16) *uint16 { return &v }

// ============================================================================
// ConfigStore
// ============================================================================

func TestConfigStore_InitializeOnce(t *testing.T) {
	s := state.NewConfigStore()
	_, err := s.Snapshot()
	assert.ErrorIs(t, err, apperrors.ErrConfigNotInitialized)

	require.NoError(t, s.Initialize(baseConfig()))
	assert.ErrorIs(t, s.Initialize(baseConfig()), apperrors.ErrConfigAlreadyInitialized)

	cfg, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, uint16(5_000), cfg.LiquidationThresholdBps)
	assert.Equal(t, int64(1), s.Version())
}

func TestConfigStore_DefaultsPolicy(t *testing.T) {
	s := state.NewConfigStore()
	cfg := baseConfig()
	cfg.LiquidationPolicy = ""
	require.NoError(t, s.Initialize(cfg))
	got, _ := s.Snapshot()
	assert.Equal(t, state.PolicyImprove, got.LiquidationPolicy)
}

func TestConfigStore_InvalidBasisPoints(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*state.Config)
	}{
		{"zero threshold", func(c *state.Config) { c.LiquidationThresholdBps = 0 }},
		{"bonus above 100%", func(c *state.Config) { c.LiquidationBonusBps = 10_001 }},
		{"zero min health", func(c *state.Config) { c.MinHealthFactorBps = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(&cfg)
			err := state.NewConfigStore().Initialize(cfg)
			assert.ErrorIs(t, err, apperrors.ErrInvalidBasisPoints)
		})
	}
}

func TestConfigStore_Update(t *testing.T) {
	s := state.NewConfigStore()
	require.NoError(t, s.Initialize(baseConfig()))

	_, err := s.Update(depositor, state.ConfigPatch{MinHealthFactorBps: u16(20_000)})
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	cfg, err := s.Update(authority, state.ConfigPatch{MinHealthFactorBps: u16(20_000)})
	require.NoError(t, err)
	assert.Equal(t, uint16(20_000), cfg.MinHealthFactorBps)
	assert.Equal(t, uint16(5_000), cfg.LiquidationThresholdBps, "unset fields are unchanged")
	assert.Equal(t, int64(2), s.Version())
}

func TestConfigStore_UpdateIsAllOrNothing(t *testing.T) {
	s := state.NewConfigStore()
	require.NoError(t, s.Initialize(baseConfig()))

	_, err := s.Update(authority, state.ConfigPatch{
		MinHealthFactorBps:  u16(20_000),
		LiquidationBonusBps: u16(20_000),
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidBasisPoints)

	cfg, _ := s.Snapshot()
	assert.Equal(t, uint16(10_000), cfg.MinHealthFactorBps)
}

func TestConfigStore_AuthorityHandover(t *testing.T) {
	s := state.NewConfigStore()
	require.NoError(t, s.Initialize(baseConfig()))

	next := liquidator
	_, err := s.Update(authority, state.ConfigPatch{Authority: &next})
	require.NoError(t, err)

	_, err = s.Update(authority, state.ConfigPatch{MinHealthFactorBps: u16(12_000)})
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	_, err = s.Update(liquidator, state.ConfigPatch{MinHealthFactorBps: u16(12_000)})
	assert.NoError(t, err)
}

func TestConfigStore_UpdateBeforeInit(t *testing.T) {
	_, err := state.NewConfigStore().Update(authority, state.ConfigPatch{})
	assert.ErrorIs(t, err, apperrors.ErrConfigNotInitialized)
}

// ============================================================================
// HealthFactor
// ============================================================================

func TestHealthFactor_BoundaryEqualityPasses(t *testing.T) {
	p := state.Position{CollateralAmount: oneSol, AmountMinted: 50 * oneStable}
	hf, err := state.EvaluateHealth(p, baseConfig(), price100)
	require.NoError(t, err)

	assert.True(t, hf.MeetsMinimum(10_000))
	assert.False(t, hf.MeetsMinimum(10_001))
	assert.Equal(t, int64(10_000), hf.Bps())
	assert.Equal(t, "1", hf.String())
}

func TestHealthFactor_ZeroDebtIsInfinite(t *testing.T) {
	hf := state.ComputeHealthFactor(state.Position{CollateralAmount: 0}, baseConfig(), 0)
	assert.True(t, hf.IsInfinite())
	assert.True(t, hf.MeetsMinimum(65_535))
	assert.Equal(t, "inf", hf.String())

	finite := state.ComputeHealthFactor(state.Position{AmountMinted: 1}, baseConfig(), 1_000_000)
	assert.Equal(t, 1, hf.Cmp(finite))
	assert.Equal(t, -1, finite.Cmp(hf))
}

func TestHealthFactor_CmpIsExact(t *testing.T) {
	cfg := baseConfig()
	// 100/3 vs 33.333...: the first is larger by a third of a unit.
	a := state.ComputeHealthFactor(state.Position{AmountMinted: 3}, cfg, 100)
	b := state.ComputeHealthFactor(state.Position{AmountMinted: 1_000_000}, cfg, 33_333_333)
	assert.Equal(t, 1, a.Cmp(b))
	assert.Equal(t, 0, a.Cmp(a))
}

// ============================================================================
// Deposit / Withdraw
// ============================================================================

func TestPlanDeposit_Scenario(t *testing.T) {
	p := state.Position{Depositor: depositor}
	plan, err := state.PlanDeposit(p, oneSol, 50*oneStable, price100, baseConfig())
	require.NoError(t, err)
	assert.Equal(t, oneSol, plan.After.CollateralAmount)
	assert.Equal(t, 50*oneStable, plan.After.AmountMinted)
	assert.Equal(t, state.PositionStatusActive, plan.After.Status)
	assert.Zero(t, p.CollateralAmount, "input position is not modified")
}

func TestPlanDeposit_BelowMinimum(t *testing.T) {
	_, err := state.PlanDeposit(state.Position{}, oneSol, 50*oneStable+1, price100, baseConfig())
	assert.ErrorIs(t, err, apperrors.ErrBelowMinimumHealthFactor)
}

func TestPlanDeposit_InvalidAmounts(t *testing.T) {
	_, err := state.PlanDeposit(state.Position{}, 0, 0, price100, baseConfig())
	assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)
	_, err = state.PlanDeposit(state.Position{}, 1, -1, price100, baseConfig())
	assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)
}

func TestPlanWithdraw(t *testing.T) {
	p := state.Position{Depositor: depositor, CollateralAmount: 2 * oneSol, AmountMinted: 50 * oneStable, Initialized: true, Status: state.PositionStatusActive}
	cfg := baseConfig()

	plan, err := state.PlanWithdraw(p, oneSol, 0, price100, cfg)
	require.NoError(t, err, "HF exactly 1.0 after withdrawal")
	assert.Equal(t, oneSol, plan.After.CollateralAmount)

	_, err = state.PlanWithdraw(p, oneSol+1, 0, price100, cfg)
	assert.ErrorIs(t, err, apperrors.ErrBelowMinimumHealthFactor)

	_, err = state.PlanWithdraw(p, 3*oneSol, 0, price100, cfg)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientCollateral)

	_, err = state.PlanWithdraw(p, 0, 51*oneStable, price100, cfg)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientDebt)

	_, err = state.PlanWithdraw(p, 0, 0, price100, cfg)
	assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)

	plan, err = state.PlanWithdraw(p, 2*oneSol, 50*oneStable, price100, cfg)
	require.NoError(t, err, "full close")
	assert.True(t, plan.After.IsEmpty())
	assert.True(t, plan.PostHealth.IsInfinite())
}

// ============================================================================
// Liquidation
// ============================================================================

func unhealthyScenario() (state.Position, state.Config) {
	cfg := baseConfig()
	cfg.MinHealthFactorBps = 20_000
	p := state.Position{
		Depositor:        depositor,
		CollateralAmount: oneSol,
		AmountMinted:     50 * oneStable,
		Initialized:      true,
		Status:           state.PositionStatusActive,
	}
	return p, cfg
}

func TestPlanLiquidation_Scenario(t *testing.T) {
	p, cfg := unhealthyScenario()

	plan, err := state.PlanLiquidation(p, liquidator, 25*oneStable, price100, cfg)
	require.NoError(t, err)

	assert.Equal(t, int64(250_000_000), plan.BaseCollateral)
	assert.Equal(t, int64(250_000), plan.Bonus)
	assert.Equal(t, int64(250_250_000), plan.Seized)
	assert.False(t, plan.Capped)
	assert.Equal(t, int64(749_750_000), plan.After.CollateralAmount)
	assert.Equal(t, 25*oneStable, plan.After.AmountMinted)
	assert.Equal(t, "1.4995", plan.PostHealth.String())
	assert.Equal(t, state.PositionStatusLiquidatable, plan.After.Status)
	assert.Equal(t, 1, plan.PostHealth.Cmp(plan.PreHealth))
}

func TestPlanLiquidation_RecoverPolicyRejectsPartial(t *testing.T) {
	p, cfg := unhealthyScenario()
	cfg.LiquidationPolicy = state.PolicyRecover

	_, err := state.PlanLiquidation(p, liquidator, 25*oneStable, price100, cfg)
	assert.ErrorIs(t, err, apperrors.ErrBelowMinimumHealthFactor)

	// Burning 40 leaves 10 debt against ~$59.96: HF ~2.998.
	plan, err := state.PlanLiquidation(p, liquidator, 40*oneStable, price100, cfg)
	require.NoError(t, err)
	assert.Equal(t, state.PositionStatusActive, plan.After.Status)
}

func TestPlanLiquidation_HealthyPosition(t *testing.T) {
	p, _ := unhealthyScenario()
	_, err := state.PlanLiquidation(p, liquidator, 25*oneStable, price100, baseConfig())
	assert.ErrorIs(t, err, apperrors.ErrAboveMinimumHealthFactor)
}

func TestPlanLiquidation_CheckOrder(t *testing.T) {
	p, cfg := unhealthyScenario()

	_, err := state.PlanLiquidation(p, liquidator, 51*oneStable, price100, cfg)
	assert.ErrorIs(t, err, apperrors.ErrExcessiveBurnAmount)

	_, err = state.PlanLiquidation(p, liquidator, 0, price100, cfg)
	assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)

	_, err = state.PlanLiquidation(state.Position{}, liquidator, 1, price100, cfg)
	assert.ErrorIs(t, err, apperrors.ErrAboveMinimumHealthFactor, "no debt means infinite health")
}

func TestPlanLiquidation_SeizureCappedAtCollateral(t *testing.T) {
	cfg := baseConfig()
	cfg.LiquidationBonusBps = 1_000
	// Price crashed to $40: 1 SOL backs 50 debt.
	crashed := oracle.RestoreValidatedPrice(40_00000000, 1)
	p := state.Position{Depositor: depositor, CollateralAmount: oneSol, AmountMinted: 50 * oneStable, Initialized: true, Status: state.PositionStatusActive}

	plan, err := state.PlanLiquidation(p, liquidator, 50*oneStable, crashed, cfg)
	require.NoError(t, err)
	assert.True(t, plan.Capped)
	assert.Equal(t, oneSol, plan.Seized)
	assert.True(t, plan.After.IsEmpty())
	assert.LessOrEqual(t, plan.Seized, p.CollateralAmount)
}

func TestPlanLiquidation_RepeatedPartialsDecreaseDebt(t *testing.T) {
	p, cfg := unhealthyScenario()
	debt := p.AmountMinted
	for i := 0; i < 5; i++ {
		plan, err := state.PlanLiquidation(p, liquidator, 5*oneStable, price100, cfg)
		if err != nil {
			assert.ErrorIs(t, err, apperrors.ErrAboveMinimumHealthFactor)
			break
		}
		assert.Less(t, plan.After.AmountMinted, debt)
		debt = plan.After.AmountMinted
		p = plan.After
	}
}

// ============================================================================
// PositionLedger
// ============================================================================

func TestPositionStatus_Transitions(t *testing.T) {
	assert.True(t, state.PositionStatusUninitialized.CanTransitionTo(state.PositionStatusActive))
	assert.False(t, state.PositionStatusUninitialized.CanTransitionTo(state.PositionStatusLiquidatable))
	assert.True(t, state.PositionStatusActive.CanTransitionTo(state.PositionStatusLiquidatable))
	assert.True(t, state.PositionStatusLiquidatable.CanTransitionTo(state.PositionStatusActive))
	assert.False(t, state.PositionStatusActive.CanTransitionTo(state.PositionStatusUninitialized))
}

func TestPositionLedger_Commit(t *testing.T) {
	pl := state.NewPositionLedger()
	assert.False(t, pl.Exists(depositor))
	assert.Equal(t, state.PositionStatusUninitialized, pl.Get(depositor).Status)

	plan, err := state.PlanDeposit(pl.Get(depositor), oneSol, 10*oneStable, price100, baseConfig())
	require.NoError(t, err)
	require.NoError(t, pl.Commit(plan.After))

	got := pl.Get(depositor)
	assert.True(t, got.Initialized)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, 10*oneStable, pl.TotalDebt())
	assert.Equal(t, oneSol, pl.TotalCollateral())

	plan, err = state.PlanWithdraw(got, oneSol, 10*oneStable, price100, baseConfig())
	require.NoError(t, err)
	require.NoError(t, pl.Commit(plan.After))

	got = pl.Get(depositor)
	assert.True(t, got.IsEmpty())
	assert.True(t, pl.Exists(depositor), "emptied positions are retained")
	assert.Equal(t, int64(2), got.Version)
}

func TestPositionLedger_SortedAndCanonical(t *testing.T) {
	pl := state.NewPositionLedger()
	pl.Restore(state.Position{Depositor: liquidator, CollateralAmount: 1, Initialized: true, Status: state.PositionStatusActive})
	pl.Restore(state.Position{Depositor: depositor, CollateralAmount: 2, Initialized: true, Status: state.PositionStatusActive})

	sorted := pl.Sorted()
	require.Len(t, sorted, 2)
	assert.Equal(t, liquidator, sorted[0].Depositor)

	a, b := sorted[0], sorted[0]
	assert.Equal(t, a.CanonicalBytes(), b.CanonicalBytes())
	b.Version++
	assert.NotEqual(t, a.CanonicalBytes(), b.CanonicalBytes())
}
