package models

import "time"

// Offer status values. Transitions are monotonic except that a FreedEvent
// may override any non-terminal status with StatusExpired.
const (
	StatusPending          = "pending"
	StatusRejected         = "rejected"
	StatusAwaitingApproval = "awaiting_approval"
	StatusApproved         = "approved"
	StatusPinning          = "pinning"
	StatusPinFailed        = "pin_failed"
	StatusClaiming         = "claiming"
	StatusClaimFailed      = "claim_failed"
	StatusClaimed          = "claimed"
	StatusFilled           = "filled"
	StatusExpired          = "expired"
)

// PinResult is the outcome of a pin pipeline run against the local Kubo node.
type PinResult struct {
	Success     bool   `json:"success"`
	CID         string `json:"cid"`
	BytesPinned int64  `json:"bytes_pinned,omitempty"`
	Error       string `json:"error,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
}

// ClaimResult is the outcome of a collect_pin() submission.
type ClaimResult struct {
	Success      bool   `json:"success"`
	SlotID       uint64 `json:"slot_id"`
	AmountEarned int64  `json:"amount_earned,omitempty"` // stroops
	TxHash       string `json:"tx_hash,omitempty"`
	Error        string `json:"error,omitempty"`
}

// FilterResult carries an accept/reject decision plus the figures that
// produced it, so the rejection reason is auditable after the fact.
type FilterResult struct {
	Accepted       bool   `json:"accepted"`
	Reason         string `json:"reason"` // "accepted" or a reject reason code
	SlotID         uint64 `json:"slot_id"`
	OfferPrice     int64  `json:"offer_price"`
	WalletBalance  int64  `json:"wallet_balance"` // stroops at evaluation time
	EstimatedTxFee int64  `json:"estimated_tx_fee"`
	NetProfit      int64  `json:"net_profit"`
}

// OfferRecord is a PIN offer as persisted in the state store.
type OfferRecord struct {
	SlotID         uint64
	CID            string
	Filename       string
	Gateway        string
	OfferPrice     int64
	PinQty         uint32
	PinsRemaining  uint32
	Publisher      string
	LedgerSequence uint32
	Status         string
	RejectReason   string
	NetProfit      int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PinRecord is a CID pinned on our local Kubo node.
type PinRecord struct {
	CID         string
	SlotID      uint64
	BytesPinned int64
	PinnedAt    time.Time
}

// ActivityRecord is a single entry in the activity feed.
type ActivityRecord struct {
	ID        int64
	EventType string
	SlotID    uint64
	CID       string
	Amount    int64
	Message   string
	CreatedAt time.Time
}

// ActionResult reports the outcome of a facade-initiated action.
type ActionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// EarningsSummary aggregates claim payouts over trailing windows.
type EarningsSummary struct {
	TotalEarned int64
	Earned24h   int64
	Earned7d    int64
	Earned30d   int64
	ClaimsCount int64
}

// DaemonConfigRecord is the runtime daemon config row. The daemon resumes
// in the last persisted mode after a restart.
type DaemonConfigRecord struct {
	Mode           string
	MinPrice       int64
	MaxContentSize int64
}

// SlotInfo is a slot's on-chain state as returned by a read-only query.
type SlotInfo struct {
	SlotID        uint64
	CIDHash       string // hex
	Publisher     string
	OfferPrice    int64
	PinQty        uint32
	PinsRemaining uint32
	EscrowBalance int64
	CreatedAt     uint64
	Claimants     []string
}

// ParticipantData is a pinner's on-chain registry entry.
type ParticipantData struct {
	Address       string
	NodeID        string
	Multiaddr     string
	Active        bool
	Flags         uint32
	MinPrice      int64
	PinsCompleted uint32
	Staked        int64
	JoinedAt      uint64
}
