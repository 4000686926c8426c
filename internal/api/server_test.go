package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pintheon/pinner/internal/config"
	"github.com/pintheon/pinner/internal/daemon"
	"github.com/pintheon/pinner/internal/models"
	"github.com/pintheon/pinner/internal/policy"
	"github.com/pintheon/pinner/internal/store"
)

const testAddress = "GAGENTADDRESS"

// fakeWallet serves a fixed balance.
type fakeWallet struct {
	balance int64
}

func (f *fakeWallet) WalletBalance(context.Context, string) (int64, error) {
	return f.balance, nil
}

// fakeChain satisfies the filter's chain view; the filter is only
// exercised here through SetMinPrice.
type fakeChain struct{}

func (fakeChain) WalletBalance(context.Context, string) (int64, error)      { return 0, nil }
func (fakeChain) IsSlotExpired(context.Context, uint64) (bool, error)       { return false, nil }
func (fakeChain) GetSlot(context.Context, uint64) (*models.SlotInfo, error) { return nil, nil }

type apiHarness struct {
	store  *store.Store
	agg    *Aggregator
	srv    *httptest.Server
	filter *policy.OfferFilter
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	filter := policy.NewOfferFilter(fakeChain{}, testAddress, 100)
	agg := NewAggregator(st, &fakeWallet{balance: 5_000_000}, daemon.NewModeController(config.ModeApprove),
		filter, nil, nil, testAddress)
	srv := httptest.NewServer(NewServer(agg, 3).Router())
	t.Cleanup(srv.Close)
	return &apiHarness{store: st, agg: agg, srv: srv, filter: filter}
}

func (h *apiHarness) get(t *testing.T, path string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(h.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func (h *apiHarness) post(t *testing.T, path string, body any, out any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(h.srv.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func seedOffer(t *testing.T, st *store.Store, slotID uint64, status string) {
	t.Helper()
	require.NoError(t, st.SaveOffer(models.PinEvent{
		SlotID:     slotID,
		CID:        "QmAPITestCID",
		Gateway:    "https://gw.example.com",
		OfferPrice: 2_000_000,
		PinQty:     2,
		Publisher:  "GPUBLISHER",
	}, status))
}

func TestDashboardSnapshot(t *testing.T) {
	h := newAPIHarness(t)
	seedOffer(t, h.store, 1, models.StatusAwaitingApproval)
	seedOffer(t, h.store, 2, models.StatusRejected)
	require.NoError(t, h.store.SaveClaim(models.ClaimResult{Success: true, SlotID: 1, AmountEarned: 2_000_000, TxHash: "tx1"}))
	require.NoError(t, h.store.LogActivity("offer_seen", "PIN offer", 1, "QmAPITestCID", 0))

	var snap models.DashboardSnapshot
	resp := h.get(t, "/api/dashboard", &snap)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, config.ModeApprove, snap.Mode)
	assert.Equal(t, testAddress, snap.PinnerAddress)
	assert.Equal(t, 2, snap.OffersSeen)
	assert.Equal(t, 1, snap.OffersRejected)
	assert.Equal(t, 1, snap.OffersAwaitingApproval)
	assert.Equal(t, 1, snap.ClaimsCompleted)
	assert.Equal(t, int64(2_000_000), snap.Earnings.TotalEarnedStroops)
	assert.Equal(t, "0.2000000 XLM", snap.Earnings.TotalEarnedXLM)
	assert.Equal(t, int64(5_000_000), snap.Wallet.BalanceStroops)
	assert.True(t, snap.Wallet.CanCoverTx)
	require.Len(t, snap.ApprovalQueue, 1)
	assert.Equal(t, uint64(1), snap.ApprovalQueue[0].SlotID)
	assert.NotEmpty(t, snap.RecentActivity)
	// hunter disabled in this harness
	assert.Nil(t, snap.Hunter)
}

func TestOffersFilteredByStatus(t *testing.T) {
	h := newAPIHarness(t)
	seedOffer(t, h.store, 1, models.StatusPending)
	seedOffer(t, h.store, 2, models.StatusRejected)

	var offers []models.OfferSnapshot
	h.get(t, "/api/offers?status=rejected", &offers)
	require.Len(t, offers, 1)
	assert.Equal(t, uint64(2), offers[0].SlotID)
	assert.Equal(t, "0.2000000 XLM", offers[0].OfferPriceXLM)

	h.get(t, "/api/offers", &offers)
	assert.Len(t, offers, 2)
}

func TestApproveOnlyMovesAwaitingOffers(t *testing.T) {
	h := newAPIHarness(t)
	seedOffer(t, h.store, 1, models.StatusAwaitingApproval)
	seedOffer(t, h.store, 2, models.StatusRejected)

	var results []models.ActionResult
	h.post(t, "/api/offers/approve", map[string][]uint64{"slot_ids": {1, 2, 99}}, &results)
	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Message, "not awaiting_approval")
	assert.False(t, results[2].Success)
	assert.Contains(t, results[2].Message, "not found")

	offer, err := h.store.Offer(1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, offer.Status)

	// approving twice is rejected, the pin pipeline runs at most once
	h.post(t, "/api/offers/approve", map[string][]uint64{"slot_ids": {1}}, &results)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
}

func TestRejectMarksOperatorRejected(t *testing.T) {
	h := newAPIHarness(t)
	seedOffer(t, h.store, 1, models.StatusAwaitingApproval)

	var results []models.ActionResult
	h.post(t, "/api/offers/reject", map[string][]uint64{"slot_ids": {1}}, &results)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)

	offer, err := h.store.Offer(1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, offer.Status)
	assert.Equal(t, "operator_rejected", offer.RejectReason)
}

func TestSetModePersists(t *testing.T) {
	h := newAPIHarness(t)

	var result models.ActionResult
	resp := h.post(t, "/api/mode", map[string]string{"mode": config.ModeAuto}, &result)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, result.Success)

	cfg, _, err := h.store.DaemonConfig()
	require.NoError(t, err)
	assert.Equal(t, config.ModeAuto, cfg.Mode)

	resp = h.post(t, "/api/mode", map[string]string{"mode": "turbo"}, &result)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.False(t, result.Success)
}

func TestSetModeRepeatIsNoOp(t *testing.T) {
	h := newAPIHarness(t)

	var result models.ActionResult
	h.post(t, "/api/mode", map[string]string{"mode": config.ModeAuto}, &result)
	assert.True(t, result.Success)
	h.post(t, "/api/mode", map[string]string{"mode": config.ModeAuto}, &result)
	assert.True(t, result.Success)

	// exactly one mode change was logged and persisted
	var activity []models.ActivityEntry
	h.get(t, "/api/activity", &activity)
	changes := 0
	for _, entry := range activity {
		if entry.EventType == "mode_changed" {
			changes++
		}
	}
	assert.Equal(t, 1, changes)
}

func TestUpdatePolicyAdjustsFilter(t *testing.T) {
	h := newAPIHarness(t)

	var result models.ActionResult
	h.post(t, "/api/policy", map[string]int64{"min_price": 9_000}, &result)
	assert.True(t, result.Success)
	assert.Equal(t, int64(9_000), h.filter.MinPrice())

	cfg, _, err := h.store.DaemonConfig()
	require.NoError(t, err)
	assert.Equal(t, int64(9_000), cfg.MinPrice)
	// absent max_content_size keeps the default
	assert.Equal(t, int64(1<<30), cfg.MaxContentSize)
}

func TestWalletSnapshot(t *testing.T) {
	h := newAPIHarness(t)

	var wallet models.WalletSnapshot
	h.get(t, "/api/wallet", &wallet)
	assert.Equal(t, testAddress, wallet.Address)
	assert.Equal(t, "0.5000000 XLM", wallet.BalanceXLM)
	assert.Equal(t, policy.EstimatedTxFee, wallet.EstimatedTxFee)
}

func TestHunterEndpointsWhenDisabled(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.post(t, "/api/hunter/flag", map[string]string{"pinner": "GSOMEONE"}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var pins []models.TrackedPinSnapshot
	resp = h.get(t, "/api/hunter/pins", &pins)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, pins)
}

func TestCORSHeaders(t *testing.T) {
	h := newAPIHarness(t)

	req, err := http.NewRequest(http.MethodOptions, h.srv.URL+"/api/dashboard", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
