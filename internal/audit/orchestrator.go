package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"sync"
	"time"

	"github.com/pintheon/pinner/internal/models"
	"github.com/pintheon/pinner/internal/store"
)

// Hunter is the audit orchestrator. It reacts to contract events to
// build the tracked-pin set and runs the periodic verification cycle.
//
// Only content we published gets audited: tracking starts when a PIN
// event carries our own address as publisher, and a pair enters
// verification when a PINNED event claims one of those slots.
type Hunter struct {
	store         *store.Store
	registry      *Registry
	scheduler     *Scheduler
	cycleInterval time.Duration
	ourAddress    string

	mu          sync.Mutex
	lastCycleAt time.Time
	nextCycleAt time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
	logger *log.Logger
}

// NewHunter wires the orchestrator over its store, registry and sweep
// scheduler. ourAddress is the daemon's own Stellar account; PIN events
// from other publishers are ignored.
func NewHunter(st *store.Store, registry *Registry, scheduler *Scheduler, cycleInterval time.Duration, ourAddress string) *Hunter {
	return &Hunter{
		store:         st,
		registry:      registry,
		scheduler:     scheduler,
		cycleInterval: cycleInterval,
		ourAddress:    ourAddress,
		logger:        log.New(log.Writer(), "[HUNTER] ", log.LstdFlags),
	}
}

// CIDHash returns the hex SHA256 of a CID string, the form the contract
// stores in pin slots.
func CIDHash(cid string) string {
	sum := sha256.Sum256([]byte(cid))
	return hex.EncodeToString(sum[:])
}

// OnPinEvent starts tracking a slot's CID when we are its publisher.
func (h *Hunter) OnPinEvent(ev models.PinEvent) error {
	if ev.Publisher != h.ourAddress {
		return nil
	}
	h.logger.Printf("tracking own content: slot %d, CID %s", ev.SlotID, shortCID(ev.CID))
	return h.store.SaveTrackedCID(models.TrackedContent{
		CID:       ev.CID,
		CIDHash:   CIDHash(ev.CID),
		SlotID:    ev.SlotID,
		Publisher: ev.Publisher,
		Gateway:   ev.Gateway,
		PinQty:    ev.PinQty,
	})
}

// OnClaimedEvent starts verifying a pinner that claimed one of our
// tracked slots. Claims for slots we don't track, and claims by
// addresses without a registry entry, are ignored.
func (h *Hunter) OnClaimedEvent(ctx context.Context, ev models.ClaimedEvent) error {
	cid, err := h.store.TrackedCIDBySlot(ev.SlotID)
	if err != nil {
		return err
	}
	if cid == "" {
		return nil
	}

	info, err := h.registry.PinnerInfo(ctx, ev.Pinner)
	if err != nil {
		return err
	}
	if info == nil {
		h.logger.Printf("claimant %s has no registry entry, not tracking", short(ev.Pinner))
		return nil
	}

	h.logger.Printf("tracking pin: %s claimed slot %d (%s)", short(ev.Pinner), ev.SlotID, shortCID(cid))
	return h.store.SaveTrackedPin(models.TrackedPin{
		CID:             cid,
		PinnerAddress:   ev.Pinner,
		PinnerNodeID:    info.NodeID,
		PinnerMultiaddr: info.Multiaddr,
		SlotID:          ev.SlotID,
		ClaimedAt:       time.Now().UTC(),
		Status:          models.TrackStatusTracking,
	})
}

// OnFreedEvent retires tracked pins for a freed slot. Pins we already
// flagged keep their status; the flag record outlives the slot.
func (h *Hunter) OnFreedEvent(ev models.FreedEvent) error {
	pins, err := h.store.TrackedPins(
		models.TrackStatusTracking, models.TrackStatusVerified, models.TrackStatusSuspect)
	if err != nil {
		return err
	}
	status := models.TrackStatusSlotFreed
	for _, pin := range pins {
		if pin.SlotID != ev.SlotID {
			continue
		}
		if err := h.store.UpdateTrackedPin(pin.CID, pin.PinnerAddress, store.TrackedPinUpdate{
			Status: &status,
		}); err != nil {
			return err
		}
		h.logger.Printf("slot %d freed, retired tracking for %s", ev.SlotID, short(pin.PinnerAddress))
	}
	return nil
}

// VerifyNowResult is the outcome of one manually triggered check.
type VerifyNowResult struct {
	CID           string `json:"cid"`
	PinnerAddress string `json:"pinner_address"`
	Outcome       string `json:"outcome"`
}

// VerifyNow verifies tracked pins on demand, outside the cycle
// schedule. Empty cid or pinner act as wildcards.
func (h *Hunter) VerifyNow(ctx context.Context, cid, pinnerAddress string) ([]VerifyNowResult, error) {
	pins, err := h.store.TrackedPins(
		models.TrackStatusTracking, models.TrackStatusVerified, models.TrackStatusSuspect)
	if err != nil {
		return nil, err
	}

	var results []VerifyNowResult
	for _, pin := range pins {
		if cid != "" && pin.CID != cid {
			continue
		}
		if pinnerAddress != "" && pin.PinnerAddress != pinnerAddress {
			continue
		}
		results = append(results, VerifyNowResult{
			CID:           pin.CID,
			PinnerAddress: pin.PinnerAddress,
			Outcome:       h.scheduler.verifyPin(ctx, pin),
		})
	}
	return results, nil
}

// FlagNow flags a pinner on demand, bypassing the failure threshold.
// All of the pinner's tracked pins move to flag_submitted on success.
func (h *Hunter) FlagNow(ctx context.Context, pinnerAddress string) (models.FlagOutcome, error) {
	if h.scheduler.flagger == nil {
		return models.FlagOutcome{PinnerAddress: pinnerAddress, Error: "flagging disabled"}, nil
	}

	outcome := h.scheduler.flagger.SubmitFlag(ctx, pinnerAddress)
	if !outcome.Success {
		return outcome, nil
	}

	now := time.Now().UTC()
	if err := h.store.SaveFlag(models.FlagRecord{
		PinnerAddress:  pinnerAddress,
		TxHash:         outcome.TxHash,
		FlagCountAfter: outcome.FlagCount,
		BountyEarned:   outcome.BountyEarned,
		SubmittedAt:    now,
	}); err != nil {
		return outcome, err
	}

	pins, err := h.store.TrackedPins(
		models.TrackStatusTracking, models.TrackStatusVerified, models.TrackStatusSuspect)
	if err != nil {
		return outcome, err
	}
	status := models.TrackStatusFlagSubmitted
	for _, pin := range pins {
		if pin.PinnerAddress != pinnerAddress {
			continue
		}
		if err := h.store.UpdateTrackedPin(pin.CID, pin.PinnerAddress, store.TrackedPinUpdate{
			Status:     &status,
			FlaggedAt:  &now,
			FlagTxHash: &outcome.TxHash,
		}); err != nil {
			return outcome, err
		}
	}
	return outcome, nil
}

// Summary aggregates the audit subsystem's state for the dashboard.
func (h *Hunter) Summary() (models.HunterSummary, error) {
	summary := models.HunterSummary{
		Enabled:              true,
		CycleIntervalSeconds: int(h.cycleInterval / time.Second),
	}

	pins, err := h.store.TrackedPins()
	if err != nil {
		return summary, err
	}
	summary.TotalTrackedPins = len(pins)
	for _, pin := range pins {
		summary.TotalChecksLifetime += pin.TotalChecks
		switch pin.Status {
		case models.TrackStatusVerified:
			summary.VerifiedCount++
		case models.TrackStatusSuspect:
			summary.SuspectCount++
		case models.TrackStatusFlagSubmitted:
			summary.FlaggedCount++
		}
	}

	flags, err := h.store.FlagHistory()
	if err != nil {
		return summary, err
	}
	summary.TotalFlagsLifetime = len(flags)
	for _, f := range flags {
		summary.BountiesEarnedStroops += f.BountyEarned
	}
	summary.BountiesEarnedXLM = models.XLMString(summary.BountiesEarnedStroops)

	h.mu.Lock()
	if !h.lastCycleAt.IsZero() {
		summary.LastCycleAt = h.lastCycleAt.Format(time.RFC3339)
	}
	if !h.nextCycleAt.IsZero() {
		summary.NextCycleAt = h.nextCycleAt.Format(time.RFC3339)
	}
	h.mu.Unlock()
	return summary, nil
}

// Start launches the periodic verification loop.
func (h *Hunter) Start(ctx context.Context) {
	h.stopCh = make(chan struct{})
	h.mu.Lock()
	h.nextCycleAt = time.Now().UTC().Add(h.cycleInterval)
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.cycleInterval)
		defer ticker.Stop()
		h.logger.Printf("verification loop started (every %s)", h.cycleInterval)
		for {
			select {
			case <-ticker.C:
				h.runOnce(ctx)
			case <-h.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (h *Hunter) runOnce(ctx context.Context) {
	if _, err := h.scheduler.RunCycle(ctx); err != nil {
		h.logger.Printf("verification cycle failed: %v", err)
	}
	now := time.Now().UTC()
	h.mu.Lock()
	h.lastCycleAt = now
	h.nextCycleAt = now.Add(h.cycleInterval)
	h.mu.Unlock()
}

// Stop halts the verification loop and waits for it to exit.
func (h *Hunter) Stop() {
	if h.stopCh == nil {
		return
	}
	close(h.stopCh)
	h.wg.Wait()
	h.stopCh = nil
}
