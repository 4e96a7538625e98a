package query

// Amounts are base-10 strings of the token's smallest unit. Every response
// carries as_of_sequence, the last call applied to the projections.

// BalanceResponse is one account's balance of one token.
type BalanceResponse struct {
	Account      string `json:"account"`
	Token        string `json:"token"`
	Balance      string `json:"balance"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// CooldownResponse is the pending exit of one account. State is "none",
// "cooling" or "ready" at the time of the query.
type CooldownResponse struct {
	Account          string `json:"account"`
	CooldownEnd      uint64 `json:"cooldown_end"`
	UnderlyingAmount string `json:"underlying_amount"`
	State            string `json:"state"`
	AsOfSequence     int64  `json:"as_of_sequence"`
}

// VaultSummary aggregates the vault from the balance and cooldown projections.
type VaultSummary struct {
	Vault            string `json:"vault"`
	Silo             string `json:"silo"`
	Asset            string `json:"asset"`
	TotalAssets      string `json:"total_assets"`
	TotalSupply      string `json:"total_supply"`
	SiloBalance      string `json:"silo_balance"`
	PendingCooldowns string `json:"pending_cooldowns"`
	CooldownCount    int64  `json:"cooldown_count"`
	CooldownDuration uint64 `json:"cooldown_duration"`
	AssetsPerShare   string `json:"assets_per_share"` // assets redeemable for one whole share
	AsOfSequence     int64  `json:"as_of_sequence"`
}

// CooldownHistoryEntry is one cooldown start or unstake of an account.
type CooldownHistoryEntry struct {
	Sequence    int64  `json:"sequence"`
	Kind        string `json:"kind"`
	Assets      string `json:"assets"`
	Shares      string `json:"shares,omitempty"`
	CooldownEnd uint64 `json:"cooldown_end,omitempty"`
	Receiver    string `json:"receiver,omitempty"`
	BlockTime   int64  `json:"block_time"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID   string `json:"journal_id"`
	BatchID     string `json:"batch_id"`
	EventRef    string `json:"event_ref"`
	Sequence    int64  `json:"sequence"`
	Token       string `json:"token"`
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      string `json:"amount"`
	JournalType string `json:"journal_type"`
	Timestamp   int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool             `json:"is_healthy"`
	HashChainBreaks []int64          `json:"hash_chain_breaks,omitempty"`
	SupplyMismatch  []SupplyMismatch `json:"supply_mismatch,omitempty"`
}

// SupplyMismatch is a token whose projected balances do not add up to the
// supply minted minus burned in the journal.
type SupplyMismatch struct {
	Token     string `json:"token"`
	Projected string `json:"projected"`
	Journaled string `json:"journaled"`
}
