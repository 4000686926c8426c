package audit

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/pintheon/pinner/internal/models"
	"github.com/pintheon/pinner/internal/store"
)

// PairVerifier probes whether a pinner is serving a CID.
type PairVerifier interface {
	Verify(ctx context.Context, cid, pinnerNodeID, pinnerMultiaddr string) models.VerificationResult
}

// FlagSubmitter submits flag_pinner() transactions.
type FlagSubmitter interface {
	SubmitFlag(ctx context.Context, pinnerAddress string) models.FlagOutcome
}

// Per-pin outcomes of one sweep.
const (
	outcomePassed  = "passed"
	outcomeFailed  = "failed"
	outcomeFlagged = "flagged"
	outcomeSkipped = "skipped"
	outcomeError   = "error"
)

// Scheduler runs verification sweeps over the tracked (CID, pinner)
// pairs: verify each, escalate to suspect at the failure threshold, and
// flag suspects on chain.
type Scheduler struct {
	store            *store.Store
	verifier         PairVerifier
	registry         *Registry
	flagger          FlagSubmitter
	maxConcurrent    int
	failureThreshold int
	flagMu           sync.Mutex // serializes HasFlagged check + submission
	logger           *log.Logger
}

// NewScheduler returns a sweep scheduler. A nil flagger disables
// on-chain flagging; suspects then stay suspect.
func NewScheduler(st *store.Store, verifier PairVerifier, registry *Registry, flagger FlagSubmitter, maxConcurrent, failureThreshold int) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	return &Scheduler{
		store:            st,
		verifier:         verifier,
		registry:         registry,
		flagger:          flagger,
		maxConcurrent:    maxConcurrent,
		failureThreshold: failureThreshold,
		logger:           log.New(log.Writer(), "[HUNTER] ", log.LstdFlags),
	}
}

// RunCycle verifies every active tracked pin and persists a cycle
// report. Pins are checked with bounded concurrency, oldest check
// first.
func (s *Scheduler) RunCycle(ctx context.Context) (models.CycleReport, error) {
	started := time.Now().UTC()
	report := models.CycleReport{StartedAt: started}

	pins, err := s.store.TrackedPins(
		models.TrackStatusTracking, models.TrackStatusVerified, models.TrackStatusSuspect)
	if err != nil {
		return report, err
	}
	report.TotalChecked = len(pins)
	if len(pins) == 0 {
		report.CompletedAt = time.Now().UTC()
		return report, nil
	}

	s.logger.Printf("verification cycle started: %d pins to check", len(pins))

	outcomes := make([]string, len(pins))
	sem := make(chan struct{}, s.maxConcurrent)
	var wg sync.WaitGroup
	for i, pin := range pins {
		wg.Add(1)
		go func(i int, pin models.TrackedPin) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes[i] = s.verifyPin(ctx, pin)
		}(i, pin)
	}
	wg.Wait()

	for _, outcome := range outcomes {
		switch outcome {
		case outcomePassed:
			report.Passed++
		case outcomeFailed:
			report.Failed++
		case outcomeFlagged:
			report.Flagged++
		case outcomeSkipped:
			report.Skipped++
		default:
			report.Errors++
		}
	}

	report.CompletedAt = time.Now().UTC()
	report.DurationMs = report.CompletedAt.Sub(started).Milliseconds()
	if err := s.store.SaveCycleReport(report); err != nil {
		s.logger.Printf("failed to save cycle report: %v", err)
	}
	s.logger.Printf("cycle complete: %d checked, %d passed, %d failed, %d flagged, %d skipped, %d errors (%dms)",
		report.TotalChecked, report.Passed, report.Failed, report.Flagged,
		report.Skipped, report.Errors, report.DurationMs)
	return report, nil
}

// verifyPin checks one pair and applies the status transition.
func (s *Scheduler) verifyPin(ctx context.Context, pin models.TrackedPin) string {
	if pin.Status == models.TrackStatusFlagSubmitted {
		return outcomeSkipped
	}

	info, err := s.registry.PinnerInfo(ctx, pin.PinnerAddress)
	if err != nil {
		s.logger.Printf("registry lookup failed for %s: %v", short(pin.PinnerAddress), err)
		return outcomeError
	}
	if info == nil {
		s.logger.Printf("skipping %s: no registry entry", short(pin.PinnerAddress))
		return outcomeSkipped
	}
	if !info.Active {
		s.logger.Printf("skipping %s: pinner inactive", short(pin.PinnerAddress))
		return outcomeSkipped
	}

	result := s.verifier.Verify(ctx, pin.CID, info.NodeID, info.Multiaddr)
	if err := s.store.RecordVerification(pin.PinnerAddress, result); err != nil {
		s.logger.Printf("failed to record verification: %v", err)
	}

	now := time.Now().UTC()
	if result.Passed {
		zero := 0
		status := models.TrackStatusVerified
		err := s.store.UpdateTrackedPin(pin.CID, pin.PinnerAddress, store.TrackedPinUpdate{
			Status:              &status,
			ConsecutiveFailures: &zero,
			LastVerifiedAt:      &now,
			LastCheckedAt:       &now,
		})
		if err != nil {
			s.logger.Printf("failed to update pin state: %v", err)
			return outcomeError
		}
		return outcomePassed
	}

	failures := pin.ConsecutiveFailures + 1
	status := pin.Status
	if failures >= s.failureThreshold {
		status = models.TrackStatusSuspect
	}
	err = s.store.UpdateTrackedPin(pin.CID, pin.PinnerAddress, store.TrackedPinUpdate{
		Status:              &status,
		ConsecutiveFailures: &failures,
		LastCheckedAt:       &now,
	})
	if err != nil {
		s.logger.Printf("failed to update pin state: %v", err)
		return outcomeError
	}
	s.logger.Printf("verification failed for %s / %s (%d consecutive)",
		shortCID(pin.CID), short(pin.PinnerAddress), failures)

	if failures >= s.failureThreshold {
		return s.flagPinner(ctx, pin)
	}
	return outcomeFailed
}

// flagPinner submits flag_pinner() for a suspect pair. Each pinner is
// flagged at most once per daemon lifetime; the contract rejects
// duplicates anyway.
func (s *Scheduler) flagPinner(ctx context.Context, pin models.TrackedPin) string {
	if s.flagger == nil {
		return outcomeFailed
	}

	s.flagMu.Lock()
	defer s.flagMu.Unlock()

	flagged, err := s.store.HasFlagged(pin.PinnerAddress)
	if err != nil {
		s.logger.Printf("flag history lookup failed: %v", err)
		return outcomeError
	}
	if flagged {
		s.logger.Printf("already flagged %s, leaving suspect", short(pin.PinnerAddress))
		return outcomeFailed
	}

	s.logger.Printf("flagging pinner %s for %s", short(pin.PinnerAddress), shortCID(pin.CID))
	outcome := s.flagger.SubmitFlag(ctx, pin.PinnerAddress)
	now := time.Now().UTC()

	if !outcome.Success {
		// the contract already has our flag: record the state, skip the tx
		if strings.Contains(outcome.Error, "already_flagged") {
			status := models.TrackStatusFlagSubmitted
			if err := s.store.UpdateTrackedPin(pin.CID, pin.PinnerAddress, store.TrackedPinUpdate{
				Status:    &status,
				FlaggedAt: &now,
			}); err != nil {
				s.logger.Printf("failed to mark pin flag_submitted: %v", err)
			}
			return outcomeFlagged
		}
		s.logger.Printf("flag submission failed for %s: %s", short(pin.PinnerAddress), outcome.Error)
		return outcomeFailed
	}

	status := models.TrackStatusFlagSubmitted
	if err := s.store.UpdateTrackedPin(pin.CID, pin.PinnerAddress, store.TrackedPinUpdate{
		Status:     &status,
		FlaggedAt:  &now,
		FlagTxHash: &outcome.TxHash,
	}); err != nil {
		s.logger.Printf("failed to mark pin flag_submitted: %v", err)
	}
	if err := s.store.SaveFlag(models.FlagRecord{
		PinnerAddress:  pin.PinnerAddress,
		TxHash:         outcome.TxHash,
		FlagCountAfter: outcome.FlagCount,
		BountyEarned:   outcome.BountyEarned,
		SubmittedAt:    now,
	}); err != nil {
		s.logger.Printf("failed to record flag: %v", err)
	}
	s.logger.Printf("flag submitted for %s (tx %s)", short(pin.PinnerAddress), short(outcome.TxHash))
	return outcomeFlagged
}

func short(s string) string {
	if len(s) > 12 {
		return s[:12] + "..."
	}
	return s
}

func shortCID(cid string) string {
	if len(cid) > 16 {
		return cid[:16] + "..."
	}
	return cid
}
