package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pintheon/pinner/internal/models"
	"github.com/pintheon/pinner/internal/store"
)

const (
	ourAddress    = "GOURPUBLISHERADDRESS"
	pinnerAddress = "GPINNERADDRESSONE"
	pinnerNodeID  = "12D3KooWPinnerOne"
	trackedCID    = "QmTrackedContentCID"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeSource is an in-memory pinner registry.
type fakeSource struct {
	pinners map[string]*models.ParticipantData
	calls   int
}

func (f *fakeSource) GetPinner(_ context.Context, address string) (*models.ParticipantData, error) {
	f.calls++
	return f.pinners[address], nil
}

func registeredPinner(address string) *models.ParticipantData {
	return &models.ParticipantData{
		Address:   address,
		NodeID:    pinnerNodeID,
		Multiaddr: "/ip4/10.0.0.2/tcp/4001/p2p/" + pinnerNodeID,
		Active:    true,
	}
}

// fakeVerifier passes or fails per CID.
type fakeVerifier struct {
	passing map[string]bool
	calls   int
}

func (f *fakeVerifier) Verify(_ context.Context, cid, nodeID, _ string) models.VerificationResult {
	f.calls++
	passed := f.passing[cid]
	method := models.MethodBitswap
	if !passed {
		method = "none"
	}
	return models.VerificationResult{
		CID:          cid,
		PinnerNodeID: nodeID,
		Passed:       passed,
		MethodUsed:   method,
		CheckedAt:    time.Now().UTC(),
	}
}

// fakeFlagger records submissions and returns a fixed outcome.
type fakeFlagger struct {
	outcome models.FlagOutcome
	flagged []string
}

func (f *fakeFlagger) SubmitFlag(_ context.Context, address string) models.FlagOutcome {
	f.flagged = append(f.flagged, address)
	out := f.outcome
	out.PinnerAddress = address
	return out
}

func trackedPin(cid, pinner string, slotID uint64) models.TrackedPin {
	return models.TrackedPin{
		CID:             cid,
		PinnerAddress:   pinner,
		PinnerNodeID:    pinnerNodeID,
		PinnerMultiaddr: "/ip4/10.0.0.2/tcp/4001/p2p/" + pinnerNodeID,
		SlotID:          slotID,
		Status:          models.TrackStatusTracking,
	}
}

func newTestScheduler(t *testing.T, st *store.Store, verifier PairVerifier, flagger FlagSubmitter, threshold int) (*Scheduler, *fakeSource) {
	t.Helper()
	source := &fakeSource{pinners: map[string]*models.ParticipantData{
		pinnerAddress: registeredPinner(pinnerAddress),
	}}
	registry := NewRegistry(st, source, time.Hour)
	return NewScheduler(st, verifier, registry, flagger, 2, threshold), source
}

func TestRegistryCachesUntilTTL(t *testing.T) {
	st := newTestStore(t)
	source := &fakeSource{pinners: map[string]*models.ParticipantData{
		pinnerAddress: registeredPinner(pinnerAddress),
	}}
	reg := NewRegistry(st, source, time.Hour)

	info, err := reg.PinnerInfo(context.Background(), pinnerAddress)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, pinnerNodeID, info.NodeID)
	assert.Equal(t, 1, source.calls)

	// second lookup is served from the cache
	_, err = reg.PinnerInfo(context.Background(), pinnerAddress)
	require.NoError(t, err)
	assert.Equal(t, 1, source.calls)
}

func TestRegistryExpiredEntryRefreshes(t *testing.T) {
	st := newTestStore(t)
	source := &fakeSource{pinners: map[string]*models.ParticipantData{
		pinnerAddress: registeredPinner(pinnerAddress),
	}}
	reg := NewRegistry(st, source, -time.Second)

	for i := 0; i < 2; i++ {
		_, err := reg.PinnerInfo(context.Background(), pinnerAddress)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, source.calls)
}

func TestRegistryUnknownPinner(t *testing.T) {
	st := newTestStore(t)
	reg := NewRegistry(st, &fakeSource{}, time.Hour)

	info, err := reg.PinnerInfo(context.Background(), "GUNKNOWN")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestRunCyclePassAndFail(t *testing.T) {
	st := newTestStore(t)
	verifier := &fakeVerifier{passing: map[string]bool{"QmGood": true}}
	sched, _ := newTestScheduler(t, st, verifier, nil, 3)

	require.NoError(t, st.SaveTrackedPin(trackedPin("QmGood", pinnerAddress, 1)))
	require.NoError(t, st.SaveTrackedPin(trackedPin("QmGone", pinnerAddress, 2)))

	report, err := sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.TotalChecked)
	assert.Equal(t, 1, report.Passed)
	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, report.Flagged)

	good, err := st.TrackedPin("QmGood", pinnerAddress)
	require.NoError(t, err)
	assert.Equal(t, models.TrackStatusVerified, good.Status)
	assert.Zero(t, good.ConsecutiveFailures)
	assert.False(t, good.LastVerifiedAt.IsZero())

	gone, err := st.TrackedPin("QmGone", pinnerAddress)
	require.NoError(t, err)
	assert.Equal(t, models.TrackStatusTracking, gone.Status)
	assert.Equal(t, 1, gone.ConsecutiveFailures)
}

func TestRunCycleFlagsAtThreshold(t *testing.T) {
	st := newTestStore(t)
	verifier := &fakeVerifier{passing: map[string]bool{}}
	flagger := &fakeFlagger{outcome: models.FlagOutcome{
		Success: true, FlagCount: 2, TxHash: "abc123", BountyEarned: 500,
	}}
	sched, _ := newTestScheduler(t, st, verifier, flagger, 2)

	require.NoError(t, st.SaveTrackedPin(trackedPin(trackedCID, pinnerAddress, 1)))

	// first failure stays below the threshold
	report, err := sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Empty(t, flagger.flagged)

	// second failure crosses it
	report, err = sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Flagged)
	require.Equal(t, []string{pinnerAddress}, flagger.flagged)

	pin, err := st.TrackedPin(trackedCID, pinnerAddress)
	require.NoError(t, err)
	assert.Equal(t, models.TrackStatusFlagSubmitted, pin.Status)
	assert.Equal(t, "abc123", pin.FlagTxHash)

	flagged, err := st.HasFlagged(pinnerAddress)
	require.NoError(t, err)
	assert.True(t, flagged)

	// flag_submitted pins drop out of subsequent cycles
	report, err = sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.TotalChecked)
}

func TestRunCycleFlagsPinnerOnlyOnce(t *testing.T) {
	st := newTestStore(t)
	verifier := &fakeVerifier{passing: map[string]bool{}}
	flagger := &fakeFlagger{outcome: models.FlagOutcome{Success: true, TxHash: "abc123"}}
	sched, _ := newTestScheduler(t, st, verifier, flagger, 1)

	require.NoError(t, st.SaveTrackedPin(trackedPin("QmOne", pinnerAddress, 1)))
	require.NoError(t, st.SaveTrackedPin(trackedPin("QmTwo", pinnerAddress, 2)))

	report, err := sched.RunCycle(context.Background())
	require.NoError(t, err)
	// one pin produces the flag, the other stays suspect
	assert.Equal(t, 1, report.Flagged)
	assert.Equal(t, 1, report.Failed)
	assert.Len(t, flagger.flagged, 1)
}

func TestRunCycleAlreadyFlaggedOnChain(t *testing.T) {
	st := newTestStore(t)
	verifier := &fakeVerifier{passing: map[string]bool{}}
	flagger := &fakeFlagger{outcome: models.FlagOutcome{
		Success: false, Error: "simulation_failed:already_flagged",
	}}
	sched, _ := newTestScheduler(t, st, verifier, flagger, 1)

	require.NoError(t, st.SaveTrackedPin(trackedPin(trackedCID, pinnerAddress, 1)))

	report, err := sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Flagged)

	pin, err := st.TrackedPin(trackedCID, pinnerAddress)
	require.NoError(t, err)
	assert.Equal(t, models.TrackStatusFlagSubmitted, pin.Status)
	// no local flag record exists for a flag we never submitted
	flags, err := st.FlagHistory()
	require.NoError(t, err)
	assert.Empty(t, flags)
}

func TestRunCycleSkipsUnregisteredAndInactive(t *testing.T) {
	st := newTestStore(t)
	verifier := &fakeVerifier{passing: map[string]bool{trackedCID: true}}
	sched, source := newTestScheduler(t, st, verifier, nil, 3)

	inactive := registeredPinner("GINACTIVE")
	inactive.Active = false
	source.pinners["GINACTIVE"] = inactive

	require.NoError(t, st.SaveTrackedPin(trackedPin(trackedCID, "GINACTIVE", 1)))
	require.NoError(t, st.SaveTrackedPin(trackedPin(trackedCID, "GUNREGISTERED", 2)))

	report, err := sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Skipped)
	assert.Zero(t, verifier.calls)
}

func newTestHunter(t *testing.T, st *store.Store, verifier PairVerifier, flagger FlagSubmitter) (*Hunter, *fakeSource) {
	t.Helper()
	sched, source := newTestScheduler(t, st, verifier, flagger, 3)
	hunter := NewHunter(st, sched.registry, sched, time.Hour, ourAddress)
	return hunter, source
}

func ownPinEvent(slotID uint64) models.PinEvent {
	return models.PinEvent{
		SlotID:     slotID,
		CID:        trackedCID,
		Gateway:    "https://gw.example.com",
		OfferPrice: 1_000_000,
		PinQty:     3,
		Publisher:  ourAddress,
	}
}

func TestOnPinEventTracksOwnContentOnly(t *testing.T) {
	st := newTestStore(t)
	hunter, _ := newTestHunter(t, st, &fakeVerifier{}, nil)

	foreign := ownPinEvent(1)
	foreign.Publisher = "GSOMEONEELSE"
	require.NoError(t, hunter.OnPinEvent(foreign))

	cid, err := st.TrackedCIDBySlot(1)
	require.NoError(t, err)
	assert.Empty(t, cid)

	require.NoError(t, hunter.OnPinEvent(ownPinEvent(2)))
	cid, err = st.TrackedCIDBySlot(2)
	require.NoError(t, err)
	assert.Equal(t, trackedCID, cid)
}

func TestOnClaimedEventStartsTracking(t *testing.T) {
	st := newTestStore(t)
	hunter, _ := newTestHunter(t, st, &fakeVerifier{}, nil)
	require.NoError(t, hunter.OnPinEvent(ownPinEvent(1)))

	claim := models.ClaimedEvent{SlotID: 1, CIDHash: CIDHash(trackedCID), Pinner: pinnerAddress}
	require.NoError(t, hunter.OnClaimedEvent(context.Background(), claim))

	pin, err := st.TrackedPin(trackedCID, pinnerAddress)
	require.NoError(t, err)
	require.NotNil(t, pin)
	assert.Equal(t, models.TrackStatusTracking, pin.Status)
	assert.Equal(t, pinnerNodeID, pin.PinnerNodeID)
}

func TestOnClaimedEventIgnoresUntrackedSlot(t *testing.T) {
	st := newTestStore(t)
	hunter, _ := newTestHunter(t, st, &fakeVerifier{}, nil)

	claim := models.ClaimedEvent{SlotID: 99, Pinner: pinnerAddress}
	require.NoError(t, hunter.OnClaimedEvent(context.Background(), claim))

	pins, err := st.TrackedPins()
	require.NoError(t, err)
	assert.Empty(t, pins)
}

func TestOnClaimedEventIgnoresUnregisteredClaimant(t *testing.T) {
	st := newTestStore(t)
	hunter, _ := newTestHunter(t, st, &fakeVerifier{}, nil)
	require.NoError(t, hunter.OnPinEvent(ownPinEvent(1)))

	claim := models.ClaimedEvent{SlotID: 1, Pinner: "GUNREGISTERED"}
	require.NoError(t, hunter.OnClaimedEvent(context.Background(), claim))

	pins, err := st.TrackedPins()
	require.NoError(t, err)
	assert.Empty(t, pins)
}

func TestOnFreedEventRetiresPinsButKeepsFlags(t *testing.T) {
	st := newTestStore(t)
	hunter, _ := newTestHunter(t, st, &fakeVerifier{}, nil)

	require.NoError(t, st.SaveTrackedPin(trackedPin("QmOne", pinnerAddress, 1)))
	flaggedPin := trackedPin("QmTwo", "GFLAGGED", 1)
	flaggedPin.Status = models.TrackStatusFlagSubmitted
	require.NoError(t, st.SaveTrackedPin(flaggedPin))
	require.NoError(t, st.SaveTrackedPin(trackedPin("QmOther", pinnerAddress, 2)))

	require.NoError(t, hunter.OnFreedEvent(models.FreedEvent{SlotID: 1}))

	one, err := st.TrackedPin("QmOne", pinnerAddress)
	require.NoError(t, err)
	assert.Equal(t, models.TrackStatusSlotFreed, one.Status)

	two, err := st.TrackedPin("QmTwo", "GFLAGGED")
	require.NoError(t, err)
	assert.Equal(t, models.TrackStatusFlagSubmitted, two.Status)

	other, err := st.TrackedPin("QmOther", pinnerAddress)
	require.NoError(t, err)
	assert.Equal(t, models.TrackStatusTracking, other.Status)
}

func TestVerifyNowFiltersByPinner(t *testing.T) {
	st := newTestStore(t)
	verifier := &fakeVerifier{passing: map[string]bool{trackedCID: true}}
	hunter, source := newTestHunter(t, st, verifier, nil)
	source.pinners["GOTHERPINNER"] = registeredPinner("GOTHERPINNER")

	require.NoError(t, st.SaveTrackedPin(trackedPin(trackedCID, pinnerAddress, 1)))
	require.NoError(t, st.SaveTrackedPin(trackedPin(trackedCID, "GOTHERPINNER", 1)))

	results, err := hunter.VerifyNow(context.Background(), "", pinnerAddress)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, pinnerAddress, results[0].PinnerAddress)
	assert.Equal(t, outcomePassed, results[0].Outcome)
}

func TestFlagNowMarksAllPins(t *testing.T) {
	st := newTestStore(t)
	flagger := &fakeFlagger{outcome: models.FlagOutcome{Success: true, TxHash: "deadbeef", BountyEarned: 250}}
	hunter, _ := newTestHunter(t, st, &fakeVerifier{}, flagger)

	require.NoError(t, st.SaveTrackedPin(trackedPin("QmOne", pinnerAddress, 1)))
	require.NoError(t, st.SaveTrackedPin(trackedPin("QmTwo", pinnerAddress, 2)))

	outcome, err := hunter.FlagNow(context.Background(), pinnerAddress)
	require.NoError(t, err)
	assert.True(t, outcome.Success)

	for _, cid := range []string{"QmOne", "QmTwo"} {
		pin, err := st.TrackedPin(cid, pinnerAddress)
		require.NoError(t, err)
		assert.Equal(t, models.TrackStatusFlagSubmitted, pin.Status)
		assert.Equal(t, "deadbeef", pin.FlagTxHash)
	}

	flags, err := st.FlagHistory()
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.Equal(t, int64(250), flags[0].BountyEarned)
}

func TestSummaryAggregates(t *testing.T) {
	st := newTestStore(t)
	flagger := &fakeFlagger{outcome: models.FlagOutcome{Success: true, TxHash: "abc", BountyEarned: 1_000_000}}
	hunter, _ := newTestHunter(t, st, &fakeVerifier{}, flagger)

	verified := trackedPin("QmOne", pinnerAddress, 1)
	verified.Status = models.TrackStatusVerified
	require.NoError(t, st.SaveTrackedPin(verified))
	suspect := trackedPin("QmTwo", "GSUSPECT", 2)
	suspect.Status = models.TrackStatusSuspect
	require.NoError(t, st.SaveTrackedPin(suspect))

	_, err := hunter.FlagNow(context.Background(), "GSUSPECT")
	require.NoError(t, err)

	summary, err := hunter.Summary()
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalTrackedPins)
	assert.Equal(t, 1, summary.VerifiedCount)
	assert.Zero(t, summary.SuspectCount)
	assert.Equal(t, 1, summary.FlaggedCount)
	assert.Equal(t, 1, summary.TotalFlagsLifetime)
	assert.Equal(t, int64(1_000_000), summary.BountiesEarnedStroops)
	assert.Equal(t, "0.1000000 XLM", summary.BountiesEarnedXLM)
}

func TestCIDHashIsHexSHA256(t *testing.T) {
	h := CIDHash("QmFoo")
	assert.Len(t, h, 64)
	assert.Equal(t, h, CIDHash("QmFoo"))
	assert.NotEqual(t, h, CIDHash("QmBar"))
}
