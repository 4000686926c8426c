// Package daemon wires the pinner agent's components into the main
// polling loop: ingest contract events, filter offers, pin content,
// claim payments.
package daemon

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pintheon/pinner/internal/config"
	"github.com/pintheon/pinner/internal/metrics"
	"github.com/pintheon/pinner/internal/models"
	"github.com/pintheon/pinner/internal/store"
)

// EventSource feeds decoded contract events into the loop.
type EventSource interface {
	Poll(ctx context.Context) ([]models.ContractEvent, error)
	CursorLedger() (uint32, bool)
	RestoreCursor(ledger uint32)
}

// OfferPolicy decides whether an offer is worth claiming.
type OfferPolicy interface {
	Evaluate(ctx context.Context, ev models.PinEvent) models.FilterResult
}

// ContentPinner runs the pin pipeline for one CID.
type ContentPinner interface {
	Pin(ctx context.Context, cid, gateway string) models.PinResult
}

// ClaimSender submits collect_pin transactions.
type ClaimSender interface {
	SubmitClaim(ctx context.Context, slotID uint64) models.ClaimResult
}

// AuditHooks receives contract events relevant to the audit subsystem.
type AuditHooks interface {
	OnPinEvent(ev models.PinEvent) error
	OnClaimedEvent(ctx context.Context, ev models.ClaimedEvent) error
	OnFreedEvent(ev models.FreedEvent) error
}

// Daemon is the agent's main loop.
type Daemon struct {
	store     *store.Store
	poller    EventSource
	filter    OfferPolicy
	executor  ContentPinner
	submitter ClaimSender
	modeCtrl  *ModeController
	hunter    AuditHooks // nil when the audit subsystem is disabled
	metrics   *metrics.Metrics

	pollInterval time.Duration
	errorBackoff time.Duration

	stopCh chan struct{}
	logger *log.Logger
}

// New assembles a daemon. hunter and m may be nil.
func New(st *store.Store, poller EventSource, filter OfferPolicy, executor ContentPinner,
	submitter ClaimSender, modeCtrl *ModeController, hunter AuditHooks, m *metrics.Metrics,
	pollInterval, errorBackoff time.Duration) *Daemon {
	return &Daemon{
		store:        st,
		poller:       poller,
		filter:       filter,
		executor:     executor,
		submitter:    submitter,
		modeCtrl:     modeCtrl,
		hunter:       hunter,
		metrics:      m,
		pollInterval: pollInterval,
		errorBackoff: errorBackoff,
		stopCh:       make(chan struct{}),
		logger:       log.New(log.Writer(), "[DAEMON] ", log.LstdFlags),
	}
}

// Run restores persisted state and executes the main loop until Stop is
// called or the context is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if ledger, ok, err := d.store.Cursor(); err != nil {
		return fmt.Errorf("restore cursor: %w", err)
	} else if ok {
		d.poller.RestoreCursor(ledger)
		d.logger.Printf("restored cursor: ledger %d", ledger)
	}

	// resume in the last persisted mode
	if cfg, ok, err := d.store.DaemonConfig(); err == nil && ok && config.ValidMode(cfg.Mode) {
		d.modeCtrl.SetMode(cfg.Mode)
	}

	d.store.LogActivity("daemon_started", "Daemon started", 0, "", 0)
	d.logger.Printf("running in %s mode", d.modeCtrl.Mode())

	defer func() {
		d.store.LogActivity("daemon_stopped", "Daemon stopped", 0, "", 0)
		d.logger.Printf("daemon shut down cleanly")
	}()

	for {
		delay := d.pollInterval
		if err := d.runOnce(ctx); err != nil {
			d.logger.Printf("main loop error: %v", err)
			d.store.LogActivity("error", err.Error(), 0, "", 0)
			delay = d.errorBackoff
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.stopCh:
			return nil
		case <-time.After(delay):
		}
	}
}

// Stop signals the loop to exit at the next iteration boundary.
func (d *Daemon) Stop() {
	d.logger.Printf("stop requested")
	close(d.stopCh)
}

// runOnce is one poll-dispatch-claim iteration.
func (d *Daemon) runOnce(ctx context.Context) error {
	events, err := d.poller.Poll(ctx)
	if err != nil {
		return fmt.Errorf("poll events: %w", err)
	}

	for _, event := range events {
		switch ev := event.(type) {
		case models.PinEvent:
			d.handlePinEvent(ctx, ev)
		case models.ClaimedEvent:
			d.handleClaimedEvent(ctx, ev)
		case models.FreedEvent:
			d.handleFreedEvent(ev)
		}
	}

	// operator-approved offers are executed from here, not from the
	// approval call, so a frontend crash can't orphan a pin
	approved, err := d.store.OffersByStatus(models.StatusApproved)
	if err != nil {
		return fmt.Errorf("load approved offers: %w", err)
	}
	for _, offer := range approved {
		d.executePinAndClaim(ctx, offerToEvent(offer))
	}

	if ledger, ok := d.poller.CursorLedger(); ok {
		if err := d.store.SetCursor(ledger); err != nil {
			return fmt.Errorf("save cursor: %w", err)
		}
		d.metrics.RecordCursor(ledger)
	}
	return nil
}

func offerToEvent(offer models.OfferRecord) models.PinEvent {
	return models.PinEvent{
		SlotID:         offer.SlotID,
		CID:            offer.CID,
		Filename:       offer.Filename,
		Gateway:        offer.Gateway,
		OfferPrice:     offer.OfferPrice,
		PinQty:         offer.PinQty,
		Publisher:      offer.Publisher,
		LedgerSequence: offer.LedgerSequence,
	}
}

func (d *Daemon) handlePinEvent(ctx context.Context, ev models.PinEvent) {
	d.logger.Printf("PIN event: slot=%d cid=%s price=%d publisher=%s",
		ev.SlotID, short(ev.CID), ev.OfferPrice, short(ev.Publisher))
	d.metrics.RecordEvent("pin")
	d.metrics.RecordOfferSeen()

	if err := d.store.SaveOffer(ev, models.StatusPending); err != nil {
		d.logger.Printf("failed to save offer %d: %v", ev.SlotID, err)
		return
	}
	d.store.LogActivity("offer_seen",
		fmt.Sprintf("PIN offer: slot %d, %d stroops", ev.SlotID, ev.OfferPrice),
		ev.SlotID, ev.CID, 0)

	result := d.filter.Evaluate(ctx, ev)
	d.store.SetOfferNetProfit(ev.SlotID, result.NetProfit)
	if !result.Accepted {
		d.store.UpdateOfferStatus(ev.SlotID, models.StatusRejected, result.Reason)
		d.store.LogActivity("offer_rejected", "Rejected: "+result.Reason, ev.SlotID, "", 0)
		d.metrics.RecordRejection(result.Reason)
		return
	}

	if d.hunter != nil {
		if err := d.hunter.OnPinEvent(ev); err != nil {
			d.logger.Printf("audit pin hook failed: %v", err)
		}
	}

	if d.modeCtrl.Mode() == config.ModeApprove {
		d.store.UpdateOfferStatus(ev.SlotID, models.StatusAwaitingApproval, "")
		d.store.LogActivity("offer_queued",
			fmt.Sprintf("Queued for approval: slot %d", ev.SlotID), ev.SlotID, ev.CID, 0)
		d.metrics.RecordOfferQueued()
		return
	}

	d.executePinAndClaim(ctx, ev)
}

func (d *Daemon) handleClaimedEvent(ctx context.Context, ev models.ClaimedEvent) {
	d.logger.Printf("PINNED event: slot=%d pinner=%s remaining=%d",
		ev.SlotID, short(ev.Pinner), ev.PinsRemaining)
	d.metrics.RecordEvent("pinned")

	d.store.LogActivity("slot_claimed",
		fmt.Sprintf("Slot %d claimed by %s, %d remaining",
			ev.SlotID, short(ev.Pinner), ev.PinsRemaining),
		ev.SlotID, "", ev.Amount)

	if d.hunter != nil {
		if err := d.hunter.OnClaimedEvent(ctx, ev); err != nil {
			d.logger.Printf("audit claim hook failed: %v", err)
		}
	}

	offer, err := d.store.Offer(ev.SlotID)
	if err != nil {
		d.logger.Printf("offer lookup failed for slot %d: %v", ev.SlotID, err)
		return
	}
	if offer != nil && ev.PinsRemaining <= 0 {
		d.store.UpdateOfferStatus(ev.SlotID, models.StatusFilled, "")
	}
}

func (d *Daemon) handleFreedEvent(ev models.FreedEvent) {
	d.logger.Printf("UNPIN event: slot=%d", ev.SlotID)
	d.metrics.RecordEvent("unpin")

	if d.hunter != nil {
		if err := d.hunter.OnFreedEvent(ev); err != nil {
			d.logger.Printf("audit freed hook failed: %v", err)
		}
	}

	d.store.UpdateOfferStatus(ev.SlotID, models.StatusExpired, "")
	d.store.LogActivity("offer_expired",
		fmt.Sprintf("Slot %d freed", ev.SlotID), ev.SlotID, "", 0)
}

// executePinAndClaim pins the content locally, then claims the slot's
// payment on chain.
func (d *Daemon) executePinAndClaim(ctx context.Context, ev models.PinEvent) {
	d.store.UpdateOfferStatus(ev.SlotID, models.StatusPinning, "")
	d.store.LogActivity("pin_started", "Pinning CID: "+short(ev.CID), ev.SlotID, ev.CID, 0)

	pinResult := d.executor.Pin(ctx, ev.CID, ev.Gateway)
	d.metrics.RecordPin(pinResult.Success, pinResult.BytesPinned,
		float64(pinResult.DurationMs)/1000)
	if !pinResult.Success {
		d.store.UpdateOfferStatus(ev.SlotID, models.StatusPinFailed, pinResult.Error)
		d.store.LogActivity("pin_failed", "Pin failed: "+pinResult.Error, ev.SlotID, ev.CID, 0)
		return
	}

	d.store.SavePin(ev.CID, ev.SlotID, pinResult.BytesPinned)
	d.store.LogActivity("pin_success",
		fmt.Sprintf("Pinned %s (%d bytes)", short(ev.CID), pinResult.BytesPinned),
		ev.SlotID, ev.CID, 0)

	d.store.UpdateOfferStatus(ev.SlotID, models.StatusClaiming, "")
	claim := d.submitter.SubmitClaim(ctx, ev.SlotID)

	if !claim.Success {
		d.metrics.RecordClaim(false, 0)
		d.store.UpdateOfferStatus(ev.SlotID, models.StatusClaimFailed, claim.Error)
		d.store.LogActivity("claim_failed", "Claim failed: "+claim.Error, ev.SlotID, ev.CID, 0)
		return
	}

	// the PINNED event doesn't echo the payout, the offer price is it
	claim.AmountEarned = ev.OfferPrice
	d.metrics.RecordClaim(true, ev.OfferPrice)
	if err := d.store.SaveClaim(claim); err != nil {
		d.logger.Printf("failed to record claim for slot %d: %v", ev.SlotID, err)
	}
	d.store.UpdateOfferStatus(ev.SlotID, models.StatusClaimed, "")
	d.store.LogActivity("claim_success",
		fmt.Sprintf("Claimed slot %d: +%d stroops", ev.SlotID, ev.OfferPrice),
		ev.SlotID, ev.CID, ev.OfferPrice)
}

func short(s string) string {
	if len(s) > 20 {
		return s[:20] + "..."
	}
	return s
}
