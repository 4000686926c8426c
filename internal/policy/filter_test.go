package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pintheon/pinner/internal/models"
)

type fakeChain struct {
	balance    int64
	balanceErr error
	expired    bool
	expiredErr error
	slot       *models.SlotInfo
	slotErr    error
}

func (f *fakeChain) WalletBalance(context.Context, string) (int64, error) {
	return f.balance, f.balanceErr
}

func (f *fakeChain) IsSlotExpired(context.Context, uint64) (bool, error) {
	return f.expired, f.expiredErr
}

func (f *fakeChain) GetSlot(context.Context, uint64) (*models.SlotInfo, error) {
	return f.slot, f.slotErr
}

func healthyChain() *fakeChain {
	return &fakeChain{
		balance: 10_000_000,
		slot:    &models.SlotInfo{SlotID: 1, PinsRemaining: 3},
	}
}

func offer(price int64) models.PinEvent {
	return models.PinEvent{SlotID: 1, CID: "QmX", OfferPrice: price, PinQty: 3}
}

func TestEvaluateAccepted(t *testing.T) {
	f := NewOfferFilter(healthyChain(), "GME", 100)

	result := f.Evaluate(context.Background(), offer(1_000_000))
	assert.True(t, result.Accepted)
	assert.Equal(t, "accepted", result.Reason)
	assert.Equal(t, int64(1_000_000-EstimatedTxFee), result.NetProfit)
	assert.Equal(t, int64(10_000_000), result.WalletBalance)
}

func TestEvaluatePriceTooLow(t *testing.T) {
	f := NewOfferFilter(healthyChain(), "GME", 500_000)

	result := f.Evaluate(context.Background(), offer(499_999))
	assert.False(t, result.Accepted)
	assert.Equal(t, "price_too_low", result.Reason)

	// boundary: exactly min_price passes the price check
	result = f.Evaluate(context.Background(), offer(500_000))
	assert.True(t, result.Accepted)
}

func TestEvaluateInsufficientXLM(t *testing.T) {
	chain := healthyChain()
	chain.balance = EstimatedTxFee*2 - 1
	f := NewOfferFilter(chain, "GME", 100)

	result := f.Evaluate(context.Background(), offer(1_000_000))
	assert.False(t, result.Accepted)
	assert.Equal(t, "insufficient_xlm", result.Reason)

	// boundary: exactly twice the fee passes
	chain.balance = EstimatedTxFee * 2
	result = f.Evaluate(context.Background(), offer(1_000_000))
	assert.True(t, result.Accepted)
}

func TestEvaluateSlotNotActive(t *testing.T) {
	t.Run("expired", func(t *testing.T) {
		chain := healthyChain()
		chain.expired = true
		f := NewOfferFilter(chain, "GME", 100)

		result := f.Evaluate(context.Background(), offer(1_000_000))
		assert.Equal(t, "slot_not_active", result.Reason)
	})

	t.Run("missing slot", func(t *testing.T) {
		chain := healthyChain()
		chain.slot = nil
		f := NewOfferFilter(chain, "GME", 100)

		result := f.Evaluate(context.Background(), offer(1_000_000))
		assert.Equal(t, "slot_not_active", result.Reason)
	})

	t.Run("no pins remaining", func(t *testing.T) {
		chain := healthyChain()
		chain.slot.PinsRemaining = 0
		f := NewOfferFilter(chain, "GME", 100)

		result := f.Evaluate(context.Background(), offer(1_000_000))
		assert.Equal(t, "slot_not_active", result.Reason)
	})

	t.Run("query error counts as inactive", func(t *testing.T) {
		chain := healthyChain()
		chain.slotErr = errors.New("rpc down")
		f := NewOfferFilter(chain, "GME", 100)

		result := f.Evaluate(context.Background(), offer(1_000_000))
		assert.Equal(t, "slot_not_active", result.Reason)
	})
}

func TestEvaluateUnprofitable(t *testing.T) {
	f := NewOfferFilter(healthyChain(), "GME", 100)

	// price above floor but not above the estimated fee
	result := f.Evaluate(context.Background(), offer(EstimatedTxFee))
	assert.False(t, result.Accepted)
	assert.Equal(t, "unprofitable", result.Reason)
	assert.Equal(t, int64(0), result.NetProfit)

	// one stroop of profit is enough
	result = f.Evaluate(context.Background(), offer(EstimatedTxFee+1))
	assert.True(t, result.Accepted)
}

func TestCheckOrderPriceBeforeBalance(t *testing.T) {
	chain := healthyChain()
	chain.balance = 0
	f := NewOfferFilter(chain, "GME", 500_000)

	// both checks would fail; price check runs first
	result := f.Evaluate(context.Background(), offer(100))
	assert.Equal(t, "price_too_low", result.Reason)
}

func TestSetMinPrice(t *testing.T) {
	f := NewOfferFilter(healthyChain(), "GME", 100)

	result := f.Evaluate(context.Background(), offer(1_000_000))
	assert.True(t, result.Accepted)

	f.SetMinPrice(2_000_000)
	result = f.Evaluate(context.Background(), offer(1_000_000))
	assert.Equal(t, "price_too_low", result.Reason)
	assert.Equal(t, int64(2_000_000), f.MinPrice())
}
