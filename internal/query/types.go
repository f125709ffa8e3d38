package query

// PositionResponse is a projected position.
type PositionResponse struct {
	Depositor        string `json:"depositor"`
	CollateralAmount int64  `json:"collateral_amount"`
	AmountMinted     int64  `json:"amount_minted"`
	Status           string `json:"status"`
	Version          int64  `json:"version"`
	LastSequence     int64  `json:"last_sequence"`
	AsOfSequence     int64  `json:"as_of_sequence"`
}

// PositionPage is one page of ListPositions. NextCursor is "" on the last page.
type PositionPage struct {
	Positions  []PositionResponse `json:"positions"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

// BalanceResponse is an address's projected balances.
type BalanceResponse struct {
	Address      string `json:"address"`
	Wallet       int64  `json:"wallet"` // native, unlocked
	Vault        int64  `json:"vault"`  // native, escrowed
	Stable       int64  `json:"stable"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// LiquidationResponse is one applied liquidation.
type LiquidationResponse struct {
	Sequence       int64  `json:"sequence"`
	Depositor      string `json:"depositor"`
	Liquidator     string `json:"liquidator"`
	BurnAmount     int64  `json:"burn_amount"`
	BaseCollateral int64  `json:"base_collateral"`
	Bonus          int64  `json:"bonus"`
	Seized         int64  `json:"seized"`
	Capped         bool   `json:"capped"`
	PreHealthBps   int64  `json:"pre_health_bps"`
	PostHealthBps  int64  `json:"post_health_bps"`
	Price          int64  `json:"price"`
	TimestampUs    int64  `json:"timestamp_us"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        int64  `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	EventsChecked    int64             `json:"events_checked"`
	LastSequence     int64             `json:"last_sequence"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	SequenceGaps     []int64           `json:"sequence_gaps,omitempty"` // first missing sequence of each gap
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
	SupplyMismatch   int64             `json:"supply_mismatch,omitempty"` // issued supply minus projected debt
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance int64  `json:"imbalance"`
}
