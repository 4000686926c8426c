package models

import "fmt"

// StroopsPerXLM is the number of minor units in one XLM.
const StroopsPerXLM = 10_000_000

// XLMString formats a stroop amount as a human-readable XLM string.
func XLMString(stroops int64) string {
	return fmt.Sprintf("%.7f XLM", float64(stroops)/StroopsPerXLM)
}

// WalletSnapshot is the agent's wallet state for the dashboard.
type WalletSnapshot struct {
	Address        string `json:"address"`
	BalanceStroops int64  `json:"balance_stroops"`
	BalanceXLM     string `json:"balance_xlm"`
	CanCoverTx     bool   `json:"can_cover_tx"` // enough for at least one collect_pin
	EstimatedTxFee int64  `json:"estimated_tx_fee"`
}

// EarningsSnapshot is the earnings summary for the dashboard.
type EarningsSnapshot struct {
	TotalEarnedStroops     int64  `json:"total_earned_stroops"`
	TotalEarnedXLM         string `json:"total_earned_xlm"`
	Earned24hStroops       int64  `json:"earned_24h_stroops"`
	Earned24hXLM           string `json:"earned_24h_xlm"`
	Earned7dStroops        int64  `json:"earned_7d_stroops"`
	Earned7dXLM            string `json:"earned_7d_xlm"`
	Earned30dStroops       int64  `json:"earned_30d_stroops"`
	Earned30dXLM           string `json:"earned_30d_xlm"`
	ClaimsCount            int64  `json:"claims_count"`
	AveragePerClaimStroops int64  `json:"average_per_claim_stroops"`
}

// OfferSnapshot is a PIN offer as presented to a UI.
type OfferSnapshot struct {
	SlotID        uint64 `json:"slot_id"`
	CID           string `json:"cid"`
	Filename      string `json:"filename"`
	Gateway       string `json:"gateway"`
	OfferPrice    int64  `json:"offer_price"`
	OfferPriceXLM string `json:"offer_price_xlm"`
	PinQty        uint32 `json:"pin_qty"`
	PinsRemaining uint32 `json:"pins_remaining"`
	Publisher     string `json:"publisher"`
	Status        string `json:"status"`
	RejectReason  string `json:"reject_reason,omitempty"`
	NetProfit     int64  `json:"net_profit"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// PinSnapshot is a locally pinned CID for a UI.
type PinSnapshot struct {
	CID         string `json:"cid"`
	SlotID      uint64 `json:"slot_id,omitempty"`
	BytesPinned int64  `json:"bytes_pinned,omitempty"`
	PinnedAt    string `json:"pinned_at"`
}

// ActivityEntry is a single line in the activity feed.
type ActivityEntry struct {
	Timestamp string `json:"timestamp"`
	EventType string `json:"event_type"`
	SlotID    uint64 `json:"slot_id,omitempty"`
	CID       string `json:"cid,omitempty"`
	Amount    int64  `json:"amount,omitempty"`
	Message   string `json:"message"`
}

// TrackedPinSnapshot is a tracked (CID, pinner) pair for a UI.
type TrackedPinSnapshot struct {
	CID                 string `json:"cid"`
	PinnerAddress       string `json:"pinner_address"`
	PinnerNodeID        string `json:"pinner_node_id"`
	Status              string `json:"status"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	FailureThreshold    int    `json:"failure_threshold"`
	TotalChecks         int    `json:"total_checks"`
	TotalFailures       int    `json:"total_failures"`
	LastVerifiedAt      string `json:"last_verified_at,omitempty"`
	LastCheckedAt       string `json:"last_checked_at,omitempty"`
	FlaggedAt           string `json:"flagged_at,omitempty"`
}

// HunterSummary is the audit subsystem's status block on the dashboard.
type HunterSummary struct {
	Enabled               bool   `json:"enabled"`
	TotalTrackedPins      int    `json:"total_tracked_pins"`
	VerifiedCount         int    `json:"verified_count"`
	SuspectCount          int    `json:"suspect_count"`
	FlaggedCount          int    `json:"flagged_count"`
	TotalChecksLifetime   int    `json:"total_checks_lifetime"`
	TotalFlagsLifetime    int    `json:"total_flags_lifetime"`
	BountiesEarnedStroops int64  `json:"bounties_earned_stroops"`
	BountiesEarnedXLM     string `json:"bounties_earned_xlm"`
	LastCycleAt           string `json:"last_cycle_at,omitempty"`
	NextCycleAt           string `json:"next_cycle_at,omitempty"`
	CycleIntervalSeconds  int    `json:"cycle_interval_seconds"`
}

// DashboardSnapshot is the complete daemon state in one serializable object.
type DashboardSnapshot struct {
	Mode          string `json:"mode"`
	PinnerAddress string `json:"pinner_address"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	Wallet WalletSnapshot `json:"wallet"`

	OffersSeen             int `json:"offers_seen"`
	OffersRejected         int `json:"offers_rejected"`
	OffersAwaitingApproval int `json:"offers_awaiting_approval"`
	PinsActive             int `json:"pins_active"`
	ClaimsCompleted        int `json:"claims_completed"`

	Earnings EarningsSnapshot `json:"earnings"`

	ApprovalQueue  []OfferSnapshot `json:"approval_queue"`
	RecentActivity []ActivityEntry `json:"recent_activity"`

	Hunter *HunterSummary `json:"hunter,omitempty"`
}
