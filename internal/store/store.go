// Package store persists all daemon state in a single SQLite file:
// the event cursor, offers, claims, pins, the activity log, and the
// hunter's tracking tables. Losing the file means re-deciding offers,
// never double-claiming; the contract rejects duplicates.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pintheon/pinner/internal/models"
)

// Store is a SQLite-backed state store. All writes serialize through a
// mutex; SQLite allows one writer at a time and we'd rather queue in
// process than retry on SQLITE_BUSY.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates the database file (and parent directory) if needed and
// applies the schema.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

// ── Cursor ─────────────────────────────────────────────────

// Cursor returns the last processed ledger, or (0, false) when the
// daemon has never run.
func (s *Store) Cursor() (uint32, bool, error) {
	var ledger uint32
	err := s.db.QueryRow("SELECT last_ledger FROM cursor WHERE id=1").Scan(&ledger)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return ledger, true, nil
}

// SetCursor records the last fully processed ledger sequence.
func (s *Store) SetCursor(ledger uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO cursor (id, last_ledger, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET last_ledger=excluded.last_ledger, updated_at=excluded.updated_at`,
		ledger, now())
	return err
}

// ── Daemon config ──────────────────────────────────────────

// DaemonConfig returns the persisted runtime config. The second return
// reports whether the row exists; when it does not, the record carries
// defaults and the operator has never changed anything.
func (s *Store) DaemonConfig() (models.DaemonConfigRecord, bool, error) {
	rec := models.DaemonConfigRecord{Mode: "auto", MinPrice: 100, MaxContentSize: 1 << 30}
	err := s.db.QueryRow("SELECT mode, min_price, max_content_size FROM daemon_config WHERE id=1").
		Scan(&rec.Mode, &rec.MinPrice, &rec.MaxContentSize)
	if err == sql.ErrNoRows {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, err
	}
	return rec, true, nil
}

// SetDaemonConfig upserts the runtime config row. Empty mode and
// negative numeric fields keep their current values.
func (s *Store) SetDaemonConfig(mode string, minPrice, maxContentSize int64) error {
	current, _, err := s.DaemonConfig()
	if err != nil {
		return err
	}
	if mode == "" {
		mode = current.Mode
	}
	if minPrice < 0 {
		minPrice = current.MinPrice
	}
	if maxContentSize < 0 {
		maxContentSize = current.MaxContentSize
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		`INSERT INTO daemon_config (id, mode, min_price, max_content_size, updated_at)
		 VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		 mode=excluded.mode, min_price=excluded.min_price,
		 max_content_size=excluded.max_content_size, updated_at=excluded.updated_at`,
		mode, minPrice, maxContentSize, now())
	return err
}

// ── Offers ─────────────────────────────────────────────────

// SaveOffer inserts or replaces the offer row for an incoming PinEvent.
func (s *Store) SaveOffer(ev models.PinEvent, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := now()
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO offers
		 (slot_id, cid, filename, gateway, offer_price, pin_qty, pins_remaining,
		  publisher, ledger_sequence, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.SlotID, ev.CID, ev.Filename, ev.Gateway, ev.OfferPrice,
		ev.PinQty, ev.PinQty, ev.Publisher, ev.LedgerSequence, status, ts, ts)
	return err
}

// Offer returns the offer for slotID, or (nil, nil) when unknown.
func (s *Store) Offer(slotID uint64) (*models.OfferRecord, error) {
	row := s.db.QueryRow(offerColumns+" FROM offers WHERE slot_id=?", slotID)
	rec, err := scanOffer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// UpdateOfferStatus sets the offer's status, optionally recording a
// reject reason.
func (s *Store) UpdateOfferStatus(slotID uint64, status, rejectReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if rejectReason != "" {
		_, err = s.db.Exec(
			"UPDATE offers SET status=?, reject_reason=?, updated_at=? WHERE slot_id=?",
			status, rejectReason, now(), slotID)
	} else {
		_, err = s.db.Exec(
			"UPDATE offers SET status=?, updated_at=? WHERE slot_id=?",
			status, now(), slotID)
	}
	return err
}

// SetOfferNetProfit records the filter's profit estimate on the offer.
func (s *Store) SetOfferNetProfit(slotID uint64, netProfit int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		"UPDATE offers SET net_profit=?, updated_at=? WHERE slot_id=?",
		netProfit, now(), slotID)
	return err
}

// OffersByStatus returns offers with the given status, oldest first.
func (s *Store) OffersByStatus(status string) ([]models.OfferRecord, error) {
	return s.queryOffers(offerColumns+" FROM offers WHERE status=? ORDER BY created_at", status)
}

// ApprovalQueue returns offers waiting for operator approval.
func (s *Store) ApprovalQueue() ([]models.OfferRecord, error) {
	return s.OffersByStatus(models.StatusAwaitingApproval)
}

// AllOffers returns every tracked offer, oldest first.
func (s *Store) AllOffers() ([]models.OfferRecord, error) {
	return s.queryOffers(offerColumns + " FROM offers ORDER BY created_at")
}

// CountOffersByStatus returns how many offers carry the given status.
func (s *Store) CountOffersByStatus(status string) (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM offers WHERE status=?", status).Scan(&n)
	return n, err
}

// CountOffers returns the total number of tracked offers.
func (s *Store) CountOffers() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM offers").Scan(&n)
	return n, err
}

const offerColumns = `SELECT slot_id, cid, filename, gateway, offer_price, pin_qty,
	pins_remaining, publisher, ledger_sequence, status,
	COALESCE(reject_reason, ''), COALESCE(net_profit, 0), created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOffer(row rowScanner) (*models.OfferRecord, error) {
	var rec models.OfferRecord
	var createdAt, updatedAt string
	err := row.Scan(
		&rec.SlotID, &rec.CID, &rec.Filename, &rec.Gateway, &rec.OfferPrice,
		&rec.PinQty, &rec.PinsRemaining, &rec.Publisher, &rec.LedgerSequence,
		&rec.Status, &rec.RejectReason, &rec.NetProfit, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	return &rec, nil
}

func (s *Store) queryOffers(query string, args ...any) ([]models.OfferRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.OfferRecord
	for rows.Next() {
		rec, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// ── Claims & earnings ──────────────────────────────────────

// SaveClaim records a successful collect_pin payout.
func (s *Store) SaveClaim(claim models.ClaimResult) error {
	offer, err := s.Offer(claim.SlotID)
	if err != nil {
		return err
	}
	cid := ""
	if offer != nil {
		cid = offer.CID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		`INSERT INTO claims (slot_id, cid, amount_earned, tx_hash, claimed_at)
		 VALUES (?, ?, ?, ?, ?)`,
		claim.SlotID, cid, claim.AmountEarned, claim.TxHash, now())
	return err
}

// Earnings aggregates claim payouts over the standard trailing windows.
func (s *Store) Earnings() (models.EarningsSummary, error) {
	var sum models.EarningsSummary
	nowT := time.Now().UTC()

	var err error
	if sum.TotalEarned, err = s.sumEarnings(""); err != nil {
		return sum, err
	}
	if sum.Earned24h, err = s.sumEarnings(nowT.Add(-24 * time.Hour).Format(time.RFC3339Nano)); err != nil {
		return sum, err
	}
	if sum.Earned7d, err = s.sumEarnings(nowT.Add(-7 * 24 * time.Hour).Format(time.RFC3339Nano)); err != nil {
		return sum, err
	}
	if sum.Earned30d, err = s.sumEarnings(nowT.Add(-30 * 24 * time.Hour).Format(time.RFC3339Nano)); err != nil {
		return sum, err
	}
	err = s.db.QueryRow("SELECT COUNT(*) FROM claims").Scan(&sum.ClaimsCount)
	return sum, err
}

func (s *Store) sumEarnings(since string) (int64, error) {
	var total int64
	var err error
	if since != "" {
		err = s.db.QueryRow(
			"SELECT COALESCE(SUM(amount_earned), 0) FROM claims WHERE claimed_at >= ?", since).Scan(&total)
	} else {
		err = s.db.QueryRow("SELECT COALESCE(SUM(amount_earned), 0) FROM claims").Scan(&total)
	}
	return total, err
}

// ── Pins ───────────────────────────────────────────────────

// SavePin records a CID pinned on the local Kubo node.
func (s *Store) SavePin(cid string, slotID uint64, bytesPinned int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO pins (cid, slot_id, bytes_pinned, pinned_at) VALUES (?, ?, ?, ?)",
		cid, slotID, bytesPinned, now())
	return err
}

// IsCIDPinned reports whether the CID is recorded as locally pinned.
func (s *Store) IsCIDPinned(cid string) (bool, error) {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM pins WHERE cid=?", cid).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// AllPins returns every locally pinned CID, oldest first.
func (s *Store) AllPins() ([]models.PinRecord, error) {
	rows, err := s.db.Query(
		"SELECT cid, COALESCE(slot_id, 0), COALESCE(bytes_pinned, 0), pinned_at FROM pins ORDER BY pinned_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PinRecord
	for rows.Next() {
		var rec models.PinRecord
		var pinnedAt string
		if err := rows.Scan(&rec.CID, &rec.SlotID, &rec.BytesPinned, &pinnedAt); err != nil {
			return nil, err
		}
		rec.PinnedAt = parseTime(pinnedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ── Activity log ───────────────────────────────────────────

// LogActivity appends an entry to the activity feed.
func (s *Store) LogActivity(eventType, message string, slotID uint64, cid string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO activity_log (event_type, slot_id, cid, amount, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		eventType, slotID, cid, amount, message, now())
	return err
}

// RecentActivity returns the newest activity entries, newest first.
func (s *Store) RecentActivity(limit int) ([]models.ActivityRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, event_type, COALESCE(slot_id, 0), COALESCE(cid, ''),
		 COALESCE(amount, 0), message, created_at
		 FROM activity_log ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ActivityRecord
	for rows.Next() {
		var rec models.ActivityRecord
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.EventType, &rec.SlotID, &rec.CID,
			&rec.Amount, &rec.Message, &createdAt); err != nil {
			return nil, err
		}
		rec.CreatedAt = parseTime(createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ── Hunter: tracked CIDs ───────────────────────────────────

// SaveTrackedCID records a CID we published, keyed for later slot lookup.
// Re-inserting the same CID is a no-op.
func (s *Store) SaveTrackedCID(tc models.TrackedContent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO tracked_cids
		 (cid, cid_hash, slot_id, publisher, gateway, pin_qty, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tc.CID, tc.CIDHash, tc.SlotID, tc.Publisher, tc.Gateway, tc.PinQty, now())
	return err
}

// TrackedCIDBySlot resolves a slot ID to the tracked CID, or "" when the
// slot is not ours.
func (s *Store) TrackedCIDBySlot(slotID uint64) (string, error) {
	var cid string
	err := s.db.QueryRow("SELECT cid FROM tracked_cids WHERE slot_id=?", slotID).Scan(&cid)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return cid, err
}

// ── Hunter: tracked pins ───────────────────────────────────

// SaveTrackedPin inserts or replaces a (CID, pinner) verification pair.
func (s *Store) SaveTrackedPin(pin models.TrackedPin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := now()
	claimedAt := pin.ClaimedAt
	if claimedAt.IsZero() {
		claimedAt = time.Now().UTC()
	}
	status := pin.Status
	if status == "" {
		status = models.TrackStatusTracking
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO tracked_pins
		 (cid, pinner_address, pinner_node_id, pinner_multiaddr,
		  slot_id, claimed_at, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pin.CID, pin.PinnerAddress, pin.PinnerNodeID, pin.PinnerMultiaddr,
		pin.SlotID, claimedAt.Format(time.RFC3339Nano), status, ts, ts)
	return err
}

// TrackedPins returns tracked pairs, optionally filtered to the given
// statuses, least recently checked first.
func (s *Store) TrackedPins(statuses ...string) ([]models.TrackedPin, error) {
	query := trackedPinColumns + " FROM tracked_pins"
	var args []any
	if len(statuses) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
		query += " WHERE status IN (" + placeholders + ")"
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	query += " ORDER BY last_checked_at"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TrackedPin
	for rows.Next() {
		pin, err := scanTrackedPin(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pin)
	}
	return out, rows.Err()
}

// TrackedPin returns one tracked pair, or (nil, nil) when unknown.
func (s *Store) TrackedPin(cid, pinnerAddress string) (*models.TrackedPin, error) {
	row := s.db.QueryRow(
		trackedPinColumns+" FROM tracked_pins WHERE cid=? AND pinner_address=?",
		cid, pinnerAddress)
	pin, err := scanTrackedPin(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pin, nil
}

const trackedPinColumns = `SELECT cid, pinner_address, pinner_node_id, pinner_multiaddr,
	slot_id, claimed_at, COALESCE(last_verified_at, ''), COALESCE(last_checked_at, ''),
	consecutive_failures, total_checks, total_failures, status,
	COALESCE(flagged_at, ''), COALESCE(flag_tx_hash, '')`

func scanTrackedPin(row rowScanner) (models.TrackedPin, error) {
	var pin models.TrackedPin
	var claimedAt, lastVerified, lastChecked, flaggedAt string
	err := row.Scan(
		&pin.CID, &pin.PinnerAddress, &pin.PinnerNodeID, &pin.PinnerMultiaddr,
		&pin.SlotID, &claimedAt, &lastVerified, &lastChecked,
		&pin.ConsecutiveFailures, &pin.TotalChecks, &pin.TotalFailures,
		&pin.Status, &flaggedAt, &pin.FlagTxHash)
	if err != nil {
		return pin, err
	}
	pin.ClaimedAt = parseTime(claimedAt)
	pin.LastVerifiedAt = parseTime(lastVerified)
	pin.LastCheckedAt = parseTime(lastChecked)
	pin.FlaggedAt = parseTime(flaggedAt)
	return pin, nil
}

// TrackedPinUpdate carries the fields to change on a tracked pair.
// Nil pointers leave the column untouched. Setting ConsecutiveFailures
// also increments total_checks, and total_failures when the new count
// is above zero.
type TrackedPinUpdate struct {
	Status              *string
	ConsecutiveFailures *int
	LastVerifiedAt      *time.Time
	LastCheckedAt       *time.Time
	FlaggedAt           *time.Time
	FlagTxHash          *string
}

// UpdateTrackedPin applies a partial update to one (cid, pinner) pair.
func (s *Store) UpdateTrackedPin(cid, pinnerAddress string, upd TrackedPinUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sets := []string{"updated_at=?"}
	args := []any{now()}

	if upd.Status != nil {
		sets = append(sets, "status=?")
		args = append(args, *upd.Status)
	}
	if upd.ConsecutiveFailures != nil {
		sets = append(sets, "consecutive_failures=?", "total_checks=total_checks+1")
		args = append(args, *upd.ConsecutiveFailures)
		if *upd.ConsecutiveFailures > 0 {
			sets = append(sets, "total_failures=total_failures+1")
		}
	}
	if upd.LastVerifiedAt != nil {
		sets = append(sets, "last_verified_at=?")
		args = append(args, upd.LastVerifiedAt.UTC().Format(time.RFC3339Nano))
	}
	if upd.LastCheckedAt != nil {
		sets = append(sets, "last_checked_at=?")
		args = append(args, upd.LastCheckedAt.UTC().Format(time.RFC3339Nano))
	}
	if upd.FlaggedAt != nil {
		sets = append(sets, "flagged_at=?")
		args = append(args, upd.FlaggedAt.UTC().Format(time.RFC3339Nano))
	}
	if upd.FlagTxHash != nil {
		sets = append(sets, "flag_tx_hash=?")
		args = append(args, *upd.FlagTxHash)
	}

	args = append(args, cid, pinnerAddress)
	query := "UPDATE tracked_pins SET " + strings.Join(sets, ", ") + " WHERE cid=? AND pinner_address=?"
	_, err := s.db.Exec(query, args...)
	return err
}

// ── Hunter: verification log & cycles ──────────────────────

// RecordVerification appends one verification result to the log.
func (s *Store) RecordVerification(pinnerAddress string, result models.VerificationResult) error {
	methodsJSON, err := json.Marshal(result.MethodsAttempted)
	if err != nil {
		return err
	}
	passed := 0
	if result.Passed {
		passed = 1
	}
	checkedAt := result.CheckedAt
	if checkedAt.IsZero() {
		checkedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		`INSERT INTO verification_log
		 (cid, pinner_address, passed, method_used, methods_attempted, duration_ms, checked_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		result.CID, pinnerAddress, passed, result.MethodUsed,
		string(methodsJSON), result.DurationMs, checkedAt.Format(time.RFC3339Nano))
	return err
}

// SaveCycleReport appends a completed verification sweep to the history.
func (s *Store) SaveCycleReport(report models.CycleReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO verification_cycles
		 (started_at, completed_at, total_checked, passed, failed, flagged, skipped, errors, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.StartedAt.UTC().Format(time.RFC3339Nano),
		report.CompletedAt.UTC().Format(time.RFC3339Nano),
		report.TotalChecked, report.Passed, report.Failed,
		report.Flagged, report.Skipped, report.Errors, report.DurationMs)
	return err
}

// CycleHistory returns the most recent sweep reports, newest first.
func (s *Store) CycleHistory(limit int) ([]models.CycleReport, error) {
	rows, err := s.db.Query(
		`SELECT id, started_at, completed_at, total_checked, passed, failed,
		 flagged, skipped, errors, duration_ms
		 FROM verification_cycles ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CycleReport
	for rows.Next() {
		var rep models.CycleReport
		var startedAt, completedAt string
		if err := rows.Scan(&rep.CycleID, &startedAt, &completedAt, &rep.TotalChecked,
			&rep.Passed, &rep.Failed, &rep.Flagged, &rep.Skipped, &rep.Errors,
			&rep.DurationMs); err != nil {
			return nil, err
		}
		rep.StartedAt = parseTime(startedAt)
		rep.CompletedAt = parseTime(completedAt)
		out = append(out, rep)
	}
	return out, rows.Err()
}

// ── Hunter: flags ──────────────────────────────────────────

// SaveFlag appends a submitted flag to the history.
func (s *Store) SaveFlag(rec models.FlagRecord) error {
	submittedAt := rec.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO flag_history (pinner_address, tx_hash, flag_count_after, bounty_earned, submitted_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.PinnerAddress, rec.TxHash, rec.FlagCountAfter, rec.BountyEarned,
		submittedAt.Format(time.RFC3339Nano))
	return err
}

// FlagHistory returns every flag we submitted, newest first.
func (s *Store) FlagHistory() ([]models.FlagRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, pinner_address, COALESCE(tx_hash, ''), COALESCE(flag_count_after, 0),
		 COALESCE(bounty_earned, 0), submitted_at
		 FROM flag_history ORDER BY submitted_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FlagRecord
	for rows.Next() {
		var rec models.FlagRecord
		var submittedAt string
		if err := rows.Scan(&rec.ID, &rec.PinnerAddress, &rec.TxHash,
			&rec.FlagCountAfter, &rec.BountyEarned, &submittedAt); err != nil {
			return nil, err
		}
		rec.SubmittedAt = parseTime(submittedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// HasFlagged reports whether we already flagged this pinner.
func (s *Store) HasFlagged(pinnerAddress string) (bool, error) {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM flag_history WHERE pinner_address=? LIMIT 1", pinnerAddress).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ── Hunter: pinner cache ───────────────────────────────────

// CachedPinner returns the cached registry entry for address, or
// (nil, nil) on a cache miss.
func (s *Store) CachedPinner(address string) (*models.ParticipantInfo, error) {
	var info models.ParticipantInfo
	var active int
	var cachedAt string
	err := s.db.QueryRow(
		"SELECT address, node_id, multiaddr, active, cached_at FROM pinner_cache WHERE address=?",
		address).Scan(&info.Address, &info.NodeID, &info.Multiaddr, &active, &cachedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	info.Active = active != 0
	info.CachedAt = parseTime(cachedAt)
	return &info, nil
}

// CachePinner inserts or refreshes a registry cache entry.
func (s *Store) CachePinner(info models.ParticipantInfo) error {
	active := 0
	if info.Active {
		active = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO pinner_cache (address, node_id, multiaddr, active, cached_at)
		 VALUES (?, ?, ?, ?, ?)`,
		info.Address, info.NodeID, info.Multiaddr, active, now())
	return err
}
