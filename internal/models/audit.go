package models

import "time"

// Tracked-pin status values.
const (
	TrackStatusTracking      = "tracking"
	TrackStatusVerified      = "verified"
	TrackStatusSuspect       = "suspect"
	TrackStatusFlagSubmitted = "flag_submitted"
	TrackStatusSlotFreed     = "slot_freed"
)

// Verification method names, in their canonical pipeline order.
const (
	MethodDHTProvider = "dht_provider"
	MethodBitswap     = "bitswap"
	MethodRetrieval   = "retrieval"
)

// MethodOutcome is the result of one verification method.
// Passed is three-valued: true, false, or nil for inconclusive.
type MethodOutcome struct {
	Method     string `json:"method"`
	Passed     *bool  `json:"passed"` // nil = inconclusive
	Detail     string `json:"detail"`
	DurationMs int64  `json:"duration_ms"`
}

// VerificationResult is the composite outcome of the method pipeline for
// one (CID, pinner) pair.
type VerificationResult struct {
	CID              string          `json:"cid"`
	PinnerNodeID     string          `json:"pinner_node_id"`
	Passed           bool            `json:"passed"`
	MethodUsed       string          `json:"method_used"` // method producing the terminating outcome
	MethodsAttempted []MethodOutcome `json:"methods_attempted"`
	DurationMs       int64           `json:"duration_ms"`
	CheckedAt        time.Time       `json:"checked_at"`
}

// TrackedContent is a CID we published and therefore audit.
type TrackedContent struct {
	CID       string
	CIDHash   string // SHA256 hex, matches the on-chain cid_hash
	SlotID    uint64
	Publisher string
	Gateway   string
	PinQty    uint32
}

// TrackedPin is a (CID, pinner) pair under periodic verification.
type TrackedPin struct {
	CID                 string
	PinnerAddress       string
	PinnerNodeID        string
	PinnerMultiaddr     string
	SlotID              uint64
	ClaimedAt           time.Time
	LastVerifiedAt      time.Time // zero if never verified
	LastCheckedAt       time.Time // zero if never checked
	ConsecutiveFailures int
	TotalChecks         int
	TotalFailures       int
	Status              string
	FlaggedAt           time.Time // zero unless flag_submitted
	FlagTxHash          string
}

// ParticipantInfo is the cached subset of a pinner's registry entry needed
// to verify it: which IPFS node to probe and whether the pinner is active.
type ParticipantInfo struct {
	Address   string
	NodeID    string
	Multiaddr string
	Active    bool
	CachedAt  time.Time
}

// FlagOutcome is the result of a flag_pinner() submission.
type FlagOutcome struct {
	Success       bool   `json:"success"`
	PinnerAddress string `json:"pinner_address"`
	FlagCount     uint32 `json:"flag_count,omitempty"` // pinner's count after our flag
	TxHash        string `json:"tx_hash,omitempty"`
	BountyEarned  int64  `json:"bounty_earned,omitempty"` // stroops
	Error         string `json:"error,omitempty"`
}

// FlagRecord is a historical record of a flag we submitted.
type FlagRecord struct {
	ID             int64
	PinnerAddress  string
	TxHash         string
	FlagCountAfter uint32
	BountyEarned   int64
	SubmittedAt    time.Time
}

// CycleReport summarizes one verification sweep.
type CycleReport struct {
	CycleID      int64
	StartedAt    time.Time
	CompletedAt  time.Time
	TotalChecked int
	Passed       int
	Failed       int
	Flagged      int
	Skipped      int
	Errors       int
	DurationMs   int64
}
