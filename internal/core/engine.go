package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"StableLedger/internal/apperrors"
	"StableLedger/internal/custody"
	"StableLedger/internal/event"
	"StableLedger/internal/ledger"
	"StableLedger/internal/mint"
	"StableLedger/internal/observability"
	"StableLedger/internal/oracle"
	"StableLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

const (
	// DefaultLRUCapacity bounds the in-memory idempotency tier.
	DefaultLRUCapacity = 1_000_000

	// globalCheckInterval is how often (in events) the zero-sum check runs.
	globalCheckInterval = 1000
)

// DeterministicCore applies events one at a time. Each event is validated,
// turned into a journal batch, applied atomically, hashed into the state
// chain and emitted to the persistence and projection workers.
type DeterministicCore struct {
	// procMu serializes ProcessEvent so outputs leave in sequence order.
	procMu sync.Mutex
	// mu guards in-memory state; readers take RLock.
	mu sync.RWMutex

	sequence          int64 // next sequence to assign
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	vaults            *custody.Vaults
	minter            *mint.Controller
	positions         *state.PositionLedger
	configStore       *state.ConfigStore
	gateway           *oracle.Gateway
	lastPrice         oracle.ValidatedPrice
	slotMark          uint64 // highest submission slot among applied quoted events
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	logger            zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

type coreOptions struct {
	lruCapacity int
	tiers       []namedTier
	logger      *zerolog.Logger
}

// Option configures a DeterministicCore.
type Option func(*coreOptions)

// WithIdempotencyTier adds a durable dedup lookup behind the LRU.
func WithIdempotencyTier(name string, checker DBIdempotencyChecker) Option {
	return func(o *coreOptions) {
		o.tiers = append(o.tiers, namedTier{name: name, checker: checker})
	}
}

func WithLRUCapacity(capacity int) Option {
	return func(o *coreOptions) {
		o.lruCapacity = capacity
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *coreOptions) {
		o.logger = &logger
	}
}

func NewDeterministicCore(
	startSequence int64,
	gateway *oracle.Gateway,
	persistChan, projectionChan chan<- CoreOutput,
	metrics *observability.Metrics,
	opts ...Option,
) *DeterministicCore {
	o := coreOptions{lruCapacity: DefaultLRUCapacity}
	for _, opt := range opts {
		opt(&o)
	}

	logger := observability.NewLogger("core")
	if o.logger != nil {
		logger = *o.logger
	}

	balanceTracker := ledger.NewBalanceTracker()
	idempotency := NewIdempotencyChecker(o.lruCapacity)
	for _, t := range o.tiers {
		idempotency.AddTier(t.name, t.checker)
	}
	idempotency.OnTierError(func(tier string, err error) {
		if metrics != nil {
			metrics.IdempotencyTierErrors.WithLabelValues(tier).Inc()
		}
		logger.Warn().Err(err).Str("tier", tier).Msg("dedup tier lookup failed, skipping")
	})

	return &DeterministicCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		journalGen:        ledger.NewJournalGenerator(balanceTracker),
		validator:         ledger.NewInvariantValidator(balanceTracker),
		vaults:            custody.NewVaults(balanceTracker),
		minter:            mint.NewController(balanceTracker),
		positions:         state.NewPositionLedger(),
		configStore:       state.NewConfigStore(),
		gateway:           gateway,
		idempotency:       idempotency,
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		logger:            logger,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// applyResult is what a handler decided for one event.
type applyResult struct {
	batch       *ledger.Batch
	position    *state.Position // planned position, committed after the batch
	health      *state.HealthFactor
	liquidation *state.LiquidationPlan
	config      *state.Config
	price       oracle.ValidatedPrice
	nowSlot     uint64
	// owners whose accounts the batch touches
	owners []common.Address
}

// ProcessEvent is the main processing pipeline. It returns the receipt for
// the event, or the typed reason it was rejected. A rejected event changes
// nothing.
func (c *DeterministicCore) ProcessEvent(evt event.Event) (*Receipt, error) {
	c.procMu.Lock()
	defer c.procMu.Unlock()

	start := time.Now()
	eventType := evt.EventType().String()

	c.mu.Lock()
	output, receipt, err := c.apply(evt)
	c.mu.Unlock()

	if err != nil {
		c.recordRejection(eventType, err)
		return nil, err
	}
	if output == nil {
		return receipt, nil
	}

	c.emit(*output)
	c.recordApplied(eventType, *output, start)

	return receipt, nil
}

// apply runs steps 1-8 of the pipeline under the write lock.
func (c *DeterministicCore) apply(evt event.Event) (*CoreOutput, *Receipt, error) {
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()
	if idempotencyKey == "" {
		return nil, nil, apperrors.New(apperrors.KindInvalidRequest, "missing request id")
	}
	if evt.EventTimestamp().IsZero() {
		return nil, nil, apperrors.New(apperrors.KindInvalidRequest, "missing timestamp")
	}

	// Step 1: Idempotency check
	if dup, tier := c.idempotency.IsDuplicate(eventType, idempotencyKey); dup {
		if c.metrics != nil {
			c.metrics.IdempotencyDuplicates.WithLabelValues(eventType, tier).Inc()
		}
		return nil, &Receipt{
			EventType:      eventType,
			IdempotencyKey: idempotencyKey,
			Duplicate:      true,
		}, nil
	}

	// Step 2: Sequence check. Committed only once the event applies.
	partition := evt.Partition()
	sourceSequence := evt.SourceSequence()
	if err := c.sequenceValidator.Check(partition, sourceSequence); err != nil {
		if c.metrics != nil && apperrors.KindOf(err) == apperrors.KindOutOfOrder {
			c.metrics.EventOutOfOrder.WithLabelValues(PartitionKind(partition)).Inc()
		}
		return nil, nil, err
	}

	// Step 3-4: dispatch to validate, plan and build the batch
	timestamp := evt.EventTimestamp()
	ref := ledger.BatchRef{
		EventRef:  idempotencyKey,
		Sequence:  c.sequence,
		Timestamp: timestamp.UnixMicro(),
	}
	res, err := c.dispatchEvent(evt, ref)
	if err != nil {
		return nil, nil, err
	}

	// Step 5: Atomic apply
	if res.batch != nil {
		if err := c.validator.ValidateBatchBalance(res.batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
		if err := c.balanceTracker.ApplyBatch(res.batch); err != nil {
			return nil, nil, mapLedgerError(err)
		}
	}
	var committed *state.Position
	if res.position != nil {
		if err := c.positions.Commit(*res.position); err != nil {
			panic(fmt.Sprintf("FATAL: position commit after balances applied: %v", err))
		}
		p := c.positions.Get(res.position.Depositor)
		committed = &p
	}
	if !res.price.IsZero() {
		c.lastPrice = res.price
	}
	if res.nowSlot > c.slotMark {
		c.slotMark = res.nowSlot
	}

	// Step 6: Post-checks
	if err := c.postCheckInvariants(res); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 7: State digest and hash chain
	hashStart := time.Now()
	digest := c.computeStateDigest(res, committed)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, digest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	// Step 8: Envelope
	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		Partition:      partition,
		Timestamp:      timestamp,
		SourceSequence: sourceSequence,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := &CoreOutput{
		Envelope:   envelope,
		Event:      evt,
		Batch:      res.batch,
		Position:   committed,
		Config:     res.config,
		StateDelta: digest,
	}
	receipt := &Receipt{
		Sequence:       c.sequence,
		EventType:      eventType,
		IdempotencyKey: idempotencyKey,
		StateHash:      stateHash,
		Config:         res.config,
		Position:       committed,
		Price:          res.price.Price(),
	}
	if res.liquidation != nil {
		cfg, _ := c.configStore.Snapshot()
		lr := newLiquidationReceipt(*res.liquidation, cfg, *committed)
		output.Liquidation = lr
		receipt.Liquidation = lr
	}
	if res.health != nil {
		cfg, _ := c.configStore.Snapshot()
		hv := NewHealthView(*res.health, cfg)
		receipt.Health = &hv
	}

	c.sequence++
	if c.sequenceValidator.Commit(partition, sourceSequence) && c.metrics != nil {
		c.metrics.EventSequenceGap.WithLabelValues(PartitionKind(partition)).Inc()
	}
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	return output, receipt, nil
}

// emit hands an output to the workers.
// Persistence is a blocking send: the core stalls until the writer drains,
// so no applied event is lost. Projections are best effort and rebuild from
// the log when they fall behind.
func (c *DeterministicCore) emit(output CoreOutput) {
	c.persistChan <- output

	select {
	case c.projectionChan <- output:
	default:
		if c.metrics != nil {
			c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
		}
	}
}

func (c *DeterministicCore) dispatchEvent(evt event.Event, ref ledger.BatchRef) (*applyResult, error) {
	switch e := evt.(type) {
	case *event.InitializeConfig:
		return c.handleInitializeConfig(e)
	case *event.UpdateConfig:
		return c.handleUpdateConfig(e)
	case *event.Deposit:
		return c.handleDeposit(e, ref)
	case *event.Withdraw:
		return c.handleWithdraw(e, ref)
	case *event.Liquidate:
		return c.handleLiquidate(e, ref)
	case *event.WalletFunded:
		return c.handleWalletFunded(e, ref)
	case *event.WalletWithdrawn:
		return c.handleWalletWithdrawn(e, ref)
	default:
		return nil, apperrors.Newf(apperrors.KindInvalidRequest, "unknown event type: %T", evt)
	}
}

// --- Config ---

func (c *DeterministicCore) handleInitializeConfig(e *event.InitializeConfig) (*applyResult, error) {
	if e.Authority == (common.Address{}) {
		return nil, apperrors.New(apperrors.KindInvalidRequest, "authority is required")
	}
	cfg := state.Config{
		Authority:               e.Authority,
		LiquidationThresholdBps: e.LiquidationThresholdBps,
		LiquidationBonusBps:     e.LiquidationBonusBps,
		MinHealthFactorBps:      e.MinHealthFactorBps,
		MintReference:           e.MintReference,
		LiquidationPolicy:       state.LiquidationPolicy(e.LiquidationPolicy),
	}
	if err := c.configStore.Initialize(cfg); err != nil {
		return nil, err
	}
	live, _ := c.configStore.Snapshot()
	c.logger.Info().
		Str("authority", live.Authority.Hex()).
		Uint16("threshold_bps", live.LiquidationThresholdBps).
		Uint16("bonus_bps", live.LiquidationBonusBps).
		Uint16("min_hf_bps", live.MinHealthFactorBps).
		Str("policy", string(live.LiquidationPolicy)).
		Msg("config initialized")
	return &applyResult{config: &live}, nil
}

func (c *DeterministicCore) handleUpdateConfig(e *event.UpdateConfig) (*applyResult, error) {
	patch := state.ConfigPatch{
		Authority:               e.NewAuthority,
		LiquidationThresholdBps: e.LiquidationThresholdBps,
		LiquidationBonusBps:     e.LiquidationBonusBps,
		MinHealthFactorBps:      e.MinHealthFactorBps,
	}
	if e.LiquidationPolicy != nil {
		p := state.LiquidationPolicy(*e.LiquidationPolicy)
		patch.LiquidationPolicy = &p
	}
	if e.NewAuthority != nil && *e.NewAuthority == (common.Address{}) {
		return nil, apperrors.New(apperrors.KindInvalidRequest, "new authority must not be the zero address")
	}

	live, err := c.configStore.Update(e.Caller, patch)
	if err != nil {
		return nil, err
	}
	c.logger.Info().
		Str("caller", e.Caller.Hex()).
		Int64("version", c.configStore.Version()).
		Msg("config updated")
	return &applyResult{config: &live}, nil
}

// --- Positions ---

// validateQuote runs the oracle gateway and records the outcome. The
// submitted slot may not fall behind the highest slot already applied, so an
// old quote cannot be made fresh by replaying it with its own slot.
func (c *DeterministicCore) validateQuote(q event.Quoted) (oracle.ValidatedPrice, error) {
	var (
		price oracle.ValidatedPrice
		err   error
	)
	if now := q.NowSlot(); now < c.slotMark {
		err = apperrors.Newf(apperrors.KindStaleQuote,
			"submitted at slot %d, ledger has applied slot %d", now, c.slotMark)
	} else {
		price, err = c.gateway.Validate(q.Quote(), now)
	}
	if c.metrics == nil {
		return price, err
	}
	if err != nil {
		c.metrics.OracleRejections.WithLabelValues(string(apperrors.KindOf(err))).Inc()
		return price, err
	}
	c.metrics.OracleLastPrice.Set(float64(price.Price()))
	c.metrics.OracleQuoteAge.Observe(float64(q.NowSlot() - price.Slot()))
	return price, nil
}

func (c *DeterministicCore) liveConfig() (state.Config, error) {
	return c.configStore.Snapshot()
}

func checkTransition(before, after state.Position) error {
	if !before.Status.CanTransitionTo(after.Status) {
		return apperrors.Newf(apperrors.KindInternal, "invalid status transition %s -> %s",
			before.Status, after.Status)
	}
	return nil
}

func (c *DeterministicCore) handleDeposit(e *event.Deposit, ref ledger.BatchRef) (*applyResult, error) {
	if e.Depositor == (common.Address{}) {
		return nil, apperrors.New(apperrors.KindInvalidRequest, "depositor is required")
	}
	price, err := c.validateQuote(e)
	if err != nil {
		return nil, err
	}
	cfg, err := c.liveConfig()
	if err != nil {
		return nil, err
	}

	pos := c.positions.Get(e.Depositor)
	plan, err := state.PlanDeposit(pos, e.CollateralAmount, e.MintAmount, price, cfg)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(pos, plan.After); err != nil {
		return nil, err
	}

	b := c.journalGen.NewBatch(ref)
	if err := c.vaults.Lock(b, e.Depositor, e.CollateralAmount); err != nil {
		return nil, err
	}
	if err := c.minter.Mint(b, e.Depositor, e.MintAmount); err != nil {
		return nil, err
	}
	batch, err := c.journalGen.Prepare(b)
	if err != nil {
		return nil, mapLedgerError(err)
	}

	return &applyResult{
		batch:    batch,
		position: &plan.After,
		health:   &plan.PostHealth,
		price:    price,
		nowSlot:  e.NowSlot(),
		owners:   []common.Address{e.Depositor},
	}, nil
}

func (c *DeterministicCore) handleWithdraw(e *event.Withdraw, ref ledger.BatchRef) (*applyResult, error) {
	if e.Depositor == (common.Address{}) {
		return nil, apperrors.New(apperrors.KindInvalidRequest, "depositor is required")
	}
	price, err := c.validateQuote(e)
	if err != nil {
		return nil, err
	}
	cfg, err := c.liveConfig()
	if err != nil {
		return nil, err
	}

	pos := c.positions.Get(e.Depositor)
	plan, err := state.PlanWithdraw(pos, e.CollateralAmount, e.BurnAmount, price, cfg)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(pos, plan.After); err != nil {
		return nil, err
	}

	b := c.journalGen.NewBatch(ref)
	if err := c.minter.Burn(b, e.Depositor, e.BurnAmount); err != nil {
		return nil, err
	}
	if err := c.vaults.Release(b, e.Depositor, e.Depositor, e.CollateralAmount); err != nil {
		return nil, err
	}
	batch, err := c.journalGen.Prepare(b)
	if err != nil {
		return nil, mapLedgerError(err)
	}

	return &applyResult{
		batch:    batch,
		position: &plan.After,
		health:   &plan.PostHealth,
		price:    price,
		nowSlot:  e.NowSlot(),
		owners:   []common.Address{e.Depositor},
	}, nil
}

func (c *DeterministicCore) handleLiquidate(e *event.Liquidate, ref ledger.BatchRef) (*applyResult, error) {
	if e.Depositor == (common.Address{}) || e.Liquidator == (common.Address{}) {
		return nil, apperrors.New(apperrors.KindInvalidRequest, "depositor and liquidator are required")
	}
	price, err := c.validateQuote(e)
	if err != nil {
		return nil, err
	}
	cfg, err := c.liveConfig()
	if err != nil {
		return nil, err
	}

	pos := c.positions.Get(e.Depositor)
	plan, err := state.PlanLiquidation(pos, e.Liquidator, e.BurnAmount, price, cfg)
	if err != nil {
		if c.metrics != nil {
			c.metrics.Liquidations.WithLabelValues(string(apperrors.KindOf(err))).Inc()
		}
		return nil, err
	}
	if err := checkTransition(pos, plan.After); err != nil {
		return nil, err
	}

	b := c.journalGen.NewBatch(ref)
	if err := c.minter.BurnForLiquidation(b, e.Liquidator, plan.BurnAmount); err != nil {
		return nil, err
	}
	if err := c.vaults.Release(b, e.Depositor, e.Liquidator, plan.Seized); err != nil {
		return nil, err
	}
	batch, err := c.journalGen.Prepare(b)
	if err != nil {
		return nil, mapLedgerError(err)
	}

	c.logger.Info().
		Str("depositor", e.Depositor.Hex()).
		Str("liquidator", e.Liquidator.Hex()).
		Int64("burn", plan.BurnAmount).
		Int64("seized", plan.Seized).
		Bool("capped", plan.Capped).
		Str("pre_hf", plan.PreHealth.String()).
		Str("post_hf", plan.PostHealth.String()).
		Msg("liquidation planned")

	return &applyResult{
		batch:       batch,
		position:    &plan.After,
		health:      &plan.PostHealth,
		liquidation: &plan,
		price:       price,
		nowSlot:     e.NowSlot(),
		owners:      []common.Address{e.Depositor, e.Liquidator},
	}, nil
}

// --- Wallets ---

func (c *DeterministicCore) handleWalletFunded(e *event.WalletFunded, ref ledger.BatchRef) (*applyResult, error) {
	if e.Owner == (common.Address{}) {
		return nil, apperrors.New(apperrors.KindInvalidRequest, "owner is required")
	}
	if e.Amount <= 0 {
		return nil, apperrors.Newf(apperrors.KindInvalidAmount, "fund amount %d", e.Amount)
	}
	batch, err := c.journalGen.Prepare(c.journalGen.NewBatch(ref).FundWallet(e.Owner, e.Amount))
	if err != nil {
		return nil, mapLedgerError(err)
	}
	return &applyResult{batch: batch, owners: []common.Address{e.Owner}}, nil
}

func (c *DeterministicCore) handleWalletWithdrawn(e *event.WalletWithdrawn, ref ledger.BatchRef) (*applyResult, error) {
	if e.Owner == (common.Address{}) {
		return nil, apperrors.New(apperrors.KindInvalidRequest, "owner is required")
	}
	if e.Amount <= 0 {
		return nil, apperrors.Newf(apperrors.KindInvalidAmount, "withdraw amount %d", e.Amount)
	}
	if have := c.balanceTracker.GetWalletBalance(e.Owner); have < e.Amount {
		return nil, apperrors.Newf(apperrors.KindInsufficientFunds,
			"wallet %s holds %d, withdrawal needs %d", e.Owner.Hex(), have, e.Amount)
	}
	batch, err := c.journalGen.Prepare(c.journalGen.NewBatch(ref).WithdrawWallet(e.Owner, e.Amount))
	if err != nil {
		return nil, mapLedgerError(err)
	}
	return &applyResult{batch: batch, owners: []common.Address{e.Owner}}, nil
}

// mapLedgerError turns a balance pre-check failure into the caller-facing kind.
func mapLedgerError(err error) error {
	var neg *ledger.NegativeBalanceError
	if !errors.As(err, &neg) {
		return err
	}
	kind := apperrors.KindInternal
	switch neg.Account.SubType {
	case ledger.SubTypeWallet:
		kind = apperrors.KindInsufficientFunds
	case ledger.SubTypeStable:
		kind = apperrors.KindInsufficientTokenBalance
	case ledger.SubTypeVault:
		kind = apperrors.KindInsufficientCollateral
	}
	return apperrors.WithCause(kind, "balance check failed", err)
}

// --- Invariants & hashing ---

// postCheckInvariants validates invariants after the batch and position are applied
func (c *DeterministicCore) postCheckInvariants(res *applyResult) error {
	for _, owner := range res.owners {
		if err := c.validator.ValidateUserAccountsNonNegative(owner); err != nil {
			return fmt.Errorf("post-check user accounts: %w", err)
		}
	}
	if res.position != nil {
		p := c.positions.Get(res.position.Depositor)
		if err := c.validator.ValidateVaultMatches(p.Depositor, p.CollateralAmount); err != nil {
			return fmt.Errorf("post-check vault: %w", err)
		}
	}
	if err := c.validator.ValidateSupplyMatchesDebt(c.positions.TotalDebt()); err != nil {
		return fmt.Errorf("post-check supply: %w", err)
	}

	// Periodic global balance check
	if c.sequence > 0 && c.sequence%globalCheckInterval == 0 {
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			return fmt.Errorf("post-check zero-sum at seq %d: %w", c.sequence, err)
		}
	}
	return nil
}

// computeStateDigest creates canonical bytes for the state hash: the
// affected balances in account-path order, then the committed position,
// the live config and the validated price.
func (c *DeterministicCore) computeStateDigest(res *applyResult, committed *state.Position) []byte {
	affected := make(map[ledger.AccountKey]bool)
	if res.batch != nil {
		for _, j := range res.batch.Journals {
			affected[j.DebitAccount] = true
			affected[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*80+128)
	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, path...)
		digest = appendInt64LE(digest, c.balanceTracker.GetBalance(key))
	}

	if committed != nil {
		digest = append(digest, 'P')
		digest = append(digest, committed.CanonicalBytes()...)
	}
	if res.config != nil {
		digest = append(digest, 'C')
		digest = append(digest, res.config.CanonicalBytes()...)
	}
	if !res.price.IsZero() {
		digest = append(digest, 'Q')
		digest = appendInt64LE(digest, res.price.Price())
		digest = appendInt64LE(digest, int64(res.price.Slot()))
		digest = append(digest, 'S')
		digest = appendInt64LE(digest, int64(c.slotMark))
	}

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// --- Metrics ---

func (c *DeterministicCore) recordRejection(eventType string, err error) {
	kind := apperrors.KindOf(err)
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, string(kind)).Inc()
	}
	c.logger.Debug().
		Str("event_type", eventType).
		Str("reason", string(kind)).
		Err(err).
		Msg("event rejected")
}

func (c *DeterministicCore) recordApplied(eventType string, out CoreOutput, start time.Time) {
	if c.metrics == nil {
		return
	}
	m := c.metrics
	m.CoreEventsApplied.WithLabelValues(eventType).Inc()
	m.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	m.CoreSequence.Set(float64(out.Envelope.Sequence))

	if out.Batch != nil {
		for _, j := range out.Batch.Journals {
			m.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
			switch j.JournalType {
			case ledger.JournalTypeStableMint:
				m.StableMinted.Add(float64(j.Amount))
			case ledger.JournalTypeStableBurn:
				m.StableBurned.WithLabelValues("repay").Add(float64(j.Amount))
			case ledger.JournalTypeLiquidationBurn:
				m.StableBurned.WithLabelValues("liquidation").Add(float64(j.Amount))
			}
		}
	}
	if lr := out.Liquidation; lr != nil {
		m.Liquidations.WithLabelValues("applied").Inc()
		m.CollateralSeized.Add(float64(lr.Seized))
		m.LiquidationBonusPay.Add(float64(lr.Seized - lr.BaseCollateral))
		if !lr.PostHealth.Infinite {
			m.HealthFactor.WithLabelValues(eventType).Observe(float64(lr.PostHealth.Bps) / 10_000)
		}
	}

	c.mu.RLock()
	m.CollateralLocked.Set(float64(c.positions.TotalCollateral()))
	m.OutstandingDebt.Set(float64(c.positions.TotalDebt()))
	m.OpenPositions.Set(float64(c.positions.Len()))
	m.DedupLRUSize.Set(float64(c.idempotency.Size()))
	c.mu.RUnlock()
}

// --- Read API ---

// Position returns the depositor's position (uninitialized when unknown).
func (c *DeterministicCore) Position(depositor common.Address) state.Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.positions.Get(depositor)
}

// Positions returns every position in depositor order.
func (c *DeterministicCore) Positions() []state.Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.positions.Sorted()
}

func (c *DeterministicCore) Balances(owner common.Address) Balances {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Balances{
		Wallet: c.balanceTracker.GetWalletBalance(owner),
		Vault:  c.vaults.Balance(owner),
		Stable: c.minter.Balance(owner),
	}
}

// Supply returns the outstanding stable supply.
func (c *DeterministicCore) Supply() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.minter.Supply()
}

// Config returns the live config, or ConfigNotInitialized.
func (c *DeterministicCore) Config() (state.Config, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.configStore.Snapshot()
}

// Health evaluates the depositor's position at the last validated price.
func (c *DeterministicCore) Health(depositor common.Address) (HealthView, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cfg, err := c.configStore.Snapshot()
	if err != nil {
		return HealthView{}, err
	}
	if c.lastPrice.IsZero() {
		return HealthView{}, apperrors.New(apperrors.KindMissingPriceFeed, "no validated price observed yet")
	}
	hf, err := state.EvaluateHealth(c.positions.Get(depositor), cfg, c.lastPrice)
	if err != nil {
		return HealthView{}, err
	}
	return NewHealthView(hf, cfg), nil
}

// SlotMark returns the highest submission slot the ledger has applied.
func (c *DeterministicCore) SlotMark() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.slotMark
}

// LastPrice returns the last validated quote price and its slot.
func (c *DeterministicCore) LastPrice() (price int64, slot uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPrice.Price(), c.lastPrice.Slot()
}

// GetSequence returns the next sequence number to be assigned.
func (c *DeterministicCore) GetSequence() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hasher.GetPrevHash()
}

// WarmLRU loads recent composite idempotency keys into the LRU cache.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idempotency.Warm(keys)
}

// AttachIdempotencyTier adds a durable dedup tier to a running core.
// Recovery attaches log-backed tiers only after replay, since every replayed
// event is already in the log.
func (c *DeterministicCore) AttachIdempotencyTier(name string, checker DBIdempotencyChecker) {
	c.procMu.Lock()
	defer c.procMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idempotency.AddTier(name, checker)
}
