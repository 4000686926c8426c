// Package api exposes the daemon's state to UI clients: the aggregator
// assembles JSON snapshots from component state, the server serves them
// over REST.
package api

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pintheon/pinner/internal/audit"
	"github.com/pintheon/pinner/internal/daemon"
	"github.com/pintheon/pinner/internal/metrics"
	"github.com/pintheon/pinner/internal/models"
	"github.com/pintheon/pinner/internal/policy"
	"github.com/pintheon/pinner/internal/store"
)

// WalletSource reads account balances from the network.
type WalletSource interface {
	WalletBalance(ctx context.Context, address string) (int64, error)
}

// Aggregator builds serializable snapshots from daemon component state
// and applies operator actions. It is the sole surface between the
// daemon and any UI client.
type Aggregator struct {
	store      *store.Store
	wallet     WalletSource
	modeCtrl   *daemon.ModeController
	filter     *policy.OfferFilter
	hunter     *audit.Hunter // nil when the audit subsystem is disabled
	metrics    *metrics.Metrics
	ourAddress string
	startedAt  time.Time
	logger     *log.Logger
}

// NewAggregator wires the facade. hunter and m may be nil.
func NewAggregator(st *store.Store, wallet WalletSource, modeCtrl *daemon.ModeController,
	filter *policy.OfferFilter, hunter *audit.Hunter, m *metrics.Metrics, ourAddress string) *Aggregator {
	return &Aggregator{
		store:      st,
		wallet:     wallet,
		modeCtrl:   modeCtrl,
		filter:     filter,
		hunter:     hunter,
		metrics:    m,
		ourAddress: ourAddress,
		startedAt:  time.Now(),
		logger:     log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
}

func timeString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func offerSnapshot(o models.OfferRecord) models.OfferSnapshot {
	return models.OfferSnapshot{
		SlotID:        o.SlotID,
		CID:           o.CID,
		Filename:      o.Filename,
		Gateway:       o.Gateway,
		OfferPrice:    o.OfferPrice,
		OfferPriceXLM: models.XLMString(o.OfferPrice),
		PinQty:        o.PinQty,
		PinsRemaining: o.PinsRemaining,
		Publisher:     o.Publisher,
		Status:        o.Status,
		RejectReason:  o.RejectReason,
		NetProfit:     o.NetProfit,
		CreatedAt:     timeString(o.CreatedAt),
		UpdatedAt:     timeString(o.UpdatedAt),
	}
}

// Dashboard assembles the full dashboard snapshot.
func (a *Aggregator) Dashboard(ctx context.Context) (models.DashboardSnapshot, error) {
	snap := models.DashboardSnapshot{
		Mode:          a.modeCtrl.Mode(),
		PinnerAddress: a.ourAddress,
		UptimeSeconds: int64(time.Since(a.startedAt).Seconds()),
	}

	wallet, err := a.Wallet(ctx)
	if err != nil {
		return snap, err
	}
	snap.Wallet = wallet

	earnings, err := a.Earnings()
	if err != nil {
		return snap, err
	}
	snap.Earnings = earnings
	snap.ClaimsCompleted = int(earnings.ClaimsCount)

	if snap.OffersSeen, err = a.store.CountOffers(); err != nil {
		return snap, err
	}
	if snap.OffersRejected, err = a.store.CountOffersByStatus(models.StatusRejected); err != nil {
		return snap, err
	}

	queue, err := a.store.ApprovalQueue()
	if err != nil {
		return snap, err
	}
	snap.OffersAwaitingApproval = len(queue)
	snap.ApprovalQueue = make([]models.OfferSnapshot, 0, len(queue))
	for _, o := range queue {
		snap.ApprovalQueue = append(snap.ApprovalQueue, offerSnapshot(o))
	}

	pins, err := a.store.AllPins()
	if err != nil {
		return snap, err
	}
	snap.PinsActive = len(pins)

	activity, err := a.store.RecentActivity(20)
	if err != nil {
		return snap, err
	}
	snap.RecentActivity = make([]models.ActivityEntry, 0, len(activity))
	for _, rec := range activity {
		snap.RecentActivity = append(snap.RecentActivity, models.ActivityEntry{
			Timestamp: timeString(rec.CreatedAt),
			EventType: rec.EventType,
			SlotID:    rec.SlotID,
			CID:       rec.CID,
			Amount:    rec.Amount,
			Message:   rec.Message,
		})
	}

	if a.hunter != nil {
		summary, err := a.hunter.Summary()
		if err != nil {
			return snap, err
		}
		snap.Hunter = &summary
	}
	return snap, nil
}

// Offers lists offers, optionally filtered by status.
func (a *Aggregator) Offers(status string) ([]models.OfferSnapshot, error) {
	var (
		offers []models.OfferRecord
		err    error
	)
	if status != "" {
		offers, err = a.store.OffersByStatus(status)
	} else {
		offers, err = a.store.AllOffers()
	}
	if err != nil {
		return nil, err
	}
	out := make([]models.OfferSnapshot, 0, len(offers))
	for _, o := range offers {
		out = append(out, offerSnapshot(o))
	}
	return out, nil
}

// ApprovalQueue lists offers waiting on the operator.
func (a *Aggregator) ApprovalQueue() ([]models.OfferSnapshot, error) {
	return a.Offers(models.StatusAwaitingApproval)
}

// Earnings builds the earnings snapshot with XLM-formatted figures.
func (a *Aggregator) Earnings() (models.EarningsSnapshot, error) {
	e, err := a.store.Earnings()
	if err != nil {
		return models.EarningsSnapshot{}, err
	}
	var avg int64
	if e.ClaimsCount > 0 {
		avg = e.TotalEarned / e.ClaimsCount
	}
	return models.EarningsSnapshot{
		TotalEarnedStroops:     e.TotalEarned,
		TotalEarnedXLM:         models.XLMString(e.TotalEarned),
		Earned24hStroops:       e.Earned24h,
		Earned24hXLM:           models.XLMString(e.Earned24h),
		Earned7dStroops:        e.Earned7d,
		Earned7dXLM:            models.XLMString(e.Earned7d),
		Earned30dStroops:       e.Earned30d,
		Earned30dXLM:           models.XLMString(e.Earned30d),
		ClaimsCount:            e.ClaimsCount,
		AveragePerClaimStroops: avg,
	}, nil
}

// Pins lists locally pinned CIDs.
func (a *Aggregator) Pins() ([]models.PinSnapshot, error) {
	pins, err := a.store.AllPins()
	if err != nil {
		return nil, err
	}
	out := make([]models.PinSnapshot, 0, len(pins))
	for _, p := range pins {
		out = append(out, models.PinSnapshot{
			CID:         p.CID,
			SlotID:      p.SlotID,
			BytesPinned: p.BytesPinned,
			PinnedAt:    timeString(p.PinnedAt),
		})
	}
	return out, nil
}

// Wallet builds the wallet snapshot.
func (a *Aggregator) Wallet(ctx context.Context) (models.WalletSnapshot, error) {
	balance, err := a.wallet.WalletBalance(ctx, a.ourAddress)
	if err != nil {
		return models.WalletSnapshot{}, fmt.Errorf("wallet balance: %w", err)
	}
	a.metrics.RecordWalletBalance(balance)
	return models.WalletSnapshot{
		Address:        a.ourAddress,
		BalanceStroops: balance,
		BalanceXLM:     models.XLMString(balance),
		CanCoverTx:     balance >= policy.EstimatedTxFee*2,
		EstimatedTxFee: policy.EstimatedTxFee,
	}, nil
}

// Activity returns the most recent activity entries.
func (a *Aggregator) Activity(limit int) ([]models.ActivityEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	records, err := a.store.RecentActivity(limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.ActivityEntry, 0, len(records))
	for _, rec := range records {
		out = append(out, models.ActivityEntry{
			Timestamp: timeString(rec.CreatedAt),
			EventType: rec.EventType,
			SlotID:    rec.SlotID,
			CID:       rec.CID,
			Amount:    rec.Amount,
			Message:   rec.Message,
		})
	}
	return out, nil
}

// ApproveOffers releases awaiting offers for execution. Only offers in
// awaiting_approval move; everything else reports a failure so a
// double-click can't re-run a pin.
func (a *Aggregator) ApproveOffers(slotIDs []uint64) []models.ActionResult {
	results := make([]models.ActionResult, 0, len(slotIDs))
	for _, sid := range slotIDs {
		offer, err := a.store.Offer(sid)
		if err != nil {
			results = append(results, models.ActionResult{Message: fmt.Sprintf("slot %d: %v", sid, err)})
			continue
		}
		if offer == nil {
			results = append(results, models.ActionResult{Message: fmt.Sprintf("slot %d not found", sid)})
			continue
		}
		if offer.Status != models.StatusAwaitingApproval {
			results = append(results, models.ActionResult{
				Message: fmt.Sprintf("slot %d status is %q, not awaiting_approval", sid, offer.Status),
			})
			continue
		}
		a.store.UpdateOfferStatus(sid, models.StatusApproved, "")
		a.store.LogActivity("offer_approved", fmt.Sprintf("Approved slot %d", sid), sid, offer.CID, 0)
		results = append(results, models.ActionResult{Success: true, Message: fmt.Sprintf("slot %d approved", sid)})
	}
	return results
}

// RejectOffers marks offers operator_rejected.
func (a *Aggregator) RejectOffers(slotIDs []uint64) []models.ActionResult {
	results := make([]models.ActionResult, 0, len(slotIDs))
	for _, sid := range slotIDs {
		offer, err := a.store.Offer(sid)
		if err != nil {
			results = append(results, models.ActionResult{Message: fmt.Sprintf("slot %d: %v", sid, err)})
			continue
		}
		if offer == nil {
			results = append(results, models.ActionResult{Message: fmt.Sprintf("slot %d not found", sid)})
			continue
		}
		a.store.UpdateOfferStatus(sid, models.StatusRejected, "operator_rejected")
		a.store.LogActivity("offer_rejected", fmt.Sprintf("Rejected slot %d", sid), sid, offer.CID, 0)
		results = append(results, models.ActionResult{Success: true, Message: fmt.Sprintf("slot %d rejected", sid)})
	}
	return results
}

// SetMode switches the operating mode and persists it. Setting the
// mode the daemon is already in changes nothing: no persist, no
// activity entry.
func (a *Aggregator) SetMode(mode string) models.ActionResult {
	if mode == a.modeCtrl.Mode() {
		return models.ActionResult{Success: true, Message: "Mode already " + mode}
	}
	if err := a.modeCtrl.SetMode(mode); err != nil {
		return models.ActionResult{Message: err.Error()}
	}
	if err := a.store.SetDaemonConfig(mode, -1, -1); err != nil {
		return models.ActionResult{Message: fmt.Sprintf("persist mode: %v", err)}
	}
	a.store.LogActivity("mode_changed", "Mode set to "+mode, 0, "", 0)
	return models.ActionResult{Success: true, Message: "Mode set to " + mode}
}

// UpdatePolicy adjusts runtime policy knobs. Negative values keep the
// current setting. min_price takes effect immediately;
// max_content_size is persisted and picked up at the next start, where
// the pin executor is constructed.
func (a *Aggregator) UpdatePolicy(minPrice, maxContentSize int64) models.ActionResult {
	if err := a.store.SetDaemonConfig("", minPrice, maxContentSize); err != nil {
		return models.ActionResult{Message: fmt.Sprintf("persist policy: %v", err)}
	}
	msg := "Policy updated:"
	if minPrice >= 0 {
		a.filter.SetMinPrice(minPrice)
		msg += fmt.Sprintf(" min_price=%d", minPrice)
	}
	if maxContentSize >= 0 {
		msg += fmt.Sprintf(" max_content_size=%d", maxContentSize)
	}
	a.store.LogActivity("policy_updated", msg, 0, "", 0)
	return models.ActionResult{Success: true, Message: msg}
}

// TrackedPins lists the audit subsystem's pairs for a UI.
func (a *Aggregator) TrackedPins(failureThreshold int) ([]models.TrackedPinSnapshot, error) {
	if a.hunter == nil {
		return nil, nil
	}
	pins, err := a.store.TrackedPins()
	if err != nil {
		return nil, err
	}
	out := make([]models.TrackedPinSnapshot, 0, len(pins))
	for _, p := range pins {
		out = append(out, models.TrackedPinSnapshot{
			CID:                 p.CID,
			PinnerAddress:       p.PinnerAddress,
			PinnerNodeID:        p.PinnerNodeID,
			Status:              p.Status,
			ConsecutiveFailures: p.ConsecutiveFailures,
			FailureThreshold:    failureThreshold,
			TotalChecks:         p.TotalChecks,
			TotalFailures:       p.TotalFailures,
			LastVerifiedAt:      timeString(p.LastVerifiedAt),
			LastCheckedAt:       timeString(p.LastCheckedAt),
			FlaggedAt:           timeString(p.FlaggedAt),
		})
	}
	return out, nil
}

// VerifyNow triggers a one-shot verification of tracked pins.
func (a *Aggregator) VerifyNow(ctx context.Context, cid, pinner string) ([]audit.VerifyNowResult, error) {
	if a.hunter == nil {
		return nil, fmt.Errorf("audit subsystem disabled")
	}
	return a.hunter.VerifyNow(ctx, cid, pinner)
}

// FlagNow manually disputes a pinner, bypassing the failure threshold.
func (a *Aggregator) FlagNow(ctx context.Context, pinner string) (models.FlagOutcome, error) {
	if a.hunter == nil {
		return models.FlagOutcome{}, fmt.Errorf("audit subsystem disabled")
	}
	return a.hunter.FlagNow(ctx, pinner)
}
