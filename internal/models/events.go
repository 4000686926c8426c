// Package models holds the typed events, persisted records, and
// serialization-ready snapshots shared across the daemon's components.
package models

// ContractEvent is the closed set of contract events the poller produces.
// Unknown topic symbols never reach this type; they are dropped at decode.
type ContractEvent interface {
	Ledger() uint32
}

// PinEvent is emitted when a publisher creates a pin request (PIN topic).
type PinEvent struct {
	SlotID         uint64 `json:"slot_id"`
	CID            string `json:"cid"`
	Filename       string `json:"filename"`
	Gateway        string `json:"gateway"`
	OfferPrice     int64  `json:"offer_price"` // stroops
	PinQty         uint32 `json:"pin_qty"`
	Publisher      string `json:"publisher"` // Stellar address
	LedgerSequence uint32 `json:"ledger_sequence"`
}

func (e PinEvent) Ledger() uint32 { return e.LedgerSequence }

// ClaimedEvent is emitted when a pinner collects payment (PINNED topic).
// This is what tells the CID hunter which pinner claimed which slot.
type ClaimedEvent struct {
	SlotID         uint64 `json:"slot_id"`
	CIDHash        string `json:"cid_hash"` // SHA256 hex of the CID
	Pinner         string `json:"pinner"`   // claiming pinner's address
	Amount         int64  `json:"amount"`   // stroops paid out
	PinsRemaining  int32  `json:"pins_remaining"`
	LedgerSequence uint32 `json:"ledger_sequence"`
}

func (e ClaimedEvent) Ledger() uint32 { return e.LedgerSequence }

// FreedEvent is emitted when a slot is freed (UNPIN topic): cancelled,
// expired, or filled.
type FreedEvent struct {
	SlotID         uint64 `json:"slot_id"`
	CIDHash        string `json:"cid_hash"`
	LedgerSequence uint32 `json:"ledger_sequence"`
}

func (e FreedEvent) Ledger() uint32 { return e.LedgerSequence }
