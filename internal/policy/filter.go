// Package policy decides whether the agent should act on a PIN offer.
package policy

import (
	"context"
	"log"
	"sync/atomic"

	"github.com/pintheon/pinner/internal/models"
)

// EstimatedTxFee is the assumed cost of a collect_pin call in stroops.
// Deliberately conservative: 0.01 XLM.
const EstimatedTxFee int64 = 100_000

// ChainView is the subset of ledger queries the filter needs.
type ChainView interface {
	WalletBalance(ctx context.Context, address string) (int64, error)
	IsSlotExpired(ctx context.Context, slotID uint64) (bool, error)
	GetSlot(ctx context.Context, slotID uint64) (*models.SlotInfo, error)
}

// OfferFilter evaluates PIN offers against local policy and wallet
// health. Checks run in a fixed order and the first failure wins:
// price floor, wallet balance, slot liveness, net profit.
type OfferFilter struct {
	chain      ChainView
	ourAddress string
	minPrice   atomic.Int64
	logger     *log.Logger
}

// NewOfferFilter returns a filter for our agent address.
func NewOfferFilter(chain ChainView, ourAddress string, minPrice int64) *OfferFilter {
	f := &OfferFilter{
		chain:      chain,
		ourAddress: ourAddress,
		logger:     log.New(log.Writer(), "[FILTER] ", log.LstdFlags),
	}
	f.minPrice.Store(minPrice)
	return f
}

// MinPrice returns the current price floor in stroops.
func (f *OfferFilter) MinPrice() int64 {
	return f.minPrice.Load()
}

// SetMinPrice updates the price floor at runtime.
func (f *OfferFilter) SetMinPrice(v int64) {
	f.minPrice.Store(v)
}

// Evaluate runs the policy checks against one offer. A chain query error
// fails the corresponding check rather than aborting: a rejected offer
// costs nothing, a bad claim costs a tx fee.
func (f *OfferFilter) Evaluate(ctx context.Context, ev models.PinEvent) models.FilterResult {
	result := models.FilterResult{
		SlotID:         ev.SlotID,
		OfferPrice:     ev.OfferPrice,
		EstimatedTxFee: EstimatedTxFee,
		NetProfit:      ev.OfferPrice - EstimatedTxFee,
	}

	if ev.OfferPrice < f.minPrice.Load() {
		result.Reason = "price_too_low"
		return result
	}

	balance, err := f.chain.WalletBalance(ctx, f.ourAddress)
	if err != nil {
		f.logger.Printf("wallet balance check failed for slot %d: %v", ev.SlotID, err)
	}
	result.WalletBalance = balance
	// need headroom beyond a single tx fee
	if balance < EstimatedTxFee*2 {
		result.Reason = "insufficient_xlm"
		return result
	}

	if !f.slotActive(ctx, ev.SlotID) {
		result.Reason = "slot_not_active"
		return result
	}

	if result.NetProfit <= 0 {
		result.Reason = "unprofitable"
		return result
	}

	f.logger.Printf("offer accepted: slot %d, price %d stroops, net profit %d",
		ev.SlotID, ev.OfferPrice, result.NetProfit)
	result.Accepted = true
	result.Reason = "accepted"
	return result
}

// slotActive confirms the slot is still claimable on-chain: not expired,
// still exists, and has pins remaining.
func (f *OfferFilter) slotActive(ctx context.Context, slotID uint64) bool {
	expired, err := f.chain.IsSlotExpired(ctx, slotID)
	if err == nil && expired {
		return false
	}

	slot, err := f.chain.GetSlot(ctx, slotID)
	if err != nil || slot == nil {
		return false
	}
	return slot.PinsRemaining > 0
}
