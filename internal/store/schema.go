package store

const schema = `
-- Event cursor for resumption
CREATE TABLE IF NOT EXISTS cursor (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	last_ledger INTEGER NOT NULL,
	updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

-- Daemon runtime config
CREATE TABLE IF NOT EXISTS daemon_config (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	mode TEXT NOT NULL DEFAULT 'auto',
	min_price INTEGER NOT NULL DEFAULT 100,
	max_content_size INTEGER NOT NULL DEFAULT 1073741824,
	updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

-- Tracked offers
CREATE TABLE IF NOT EXISTS offers (
	slot_id INTEGER PRIMARY KEY,
	cid TEXT NOT NULL,
	filename TEXT NOT NULL DEFAULT '',
	gateway TEXT NOT NULL,
	offer_price INTEGER NOT NULL,
	pin_qty INTEGER NOT NULL,
	pins_remaining INTEGER NOT NULL,
	publisher TEXT NOT NULL,
	ledger_sequence INTEGER NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	reject_reason TEXT,
	net_profit INTEGER,
	created_at TEXT NOT NULL DEFAULT (datetime('now')),
	updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_offers_status ON offers(status);

-- Completed claims
CREATE TABLE IF NOT EXISTS claims (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	slot_id INTEGER NOT NULL,
	cid TEXT NOT NULL,
	amount_earned INTEGER NOT NULL,
	tx_hash TEXT NOT NULL,
	claimed_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_claims_claimed_at ON claims(claimed_at);

-- Pinned CIDs
CREATE TABLE IF NOT EXISTS pins (
	cid TEXT PRIMARY KEY,
	slot_id INTEGER,
	bytes_pinned INTEGER,
	pinned_at TEXT NOT NULL DEFAULT (datetime('now'))
);

-- Activity log
CREATE TABLE IF NOT EXISTS activity_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	slot_id INTEGER,
	cid TEXT,
	amount INTEGER,
	message TEXT NOT NULL,
	created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_activity_created ON activity_log(created_at);

-- Hunter: tracked CIDs we published
CREATE TABLE IF NOT EXISTS tracked_cids (
	cid TEXT NOT NULL,
	cid_hash TEXT NOT NULL,
	slot_id INTEGER NOT NULL,
	publisher TEXT NOT NULL,
	gateway TEXT,
	pin_qty INTEGER NOT NULL,
	created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tracked_cids_cid ON tracked_cids(cid);

-- Hunter: (CID, pinner) verification pairs
CREATE TABLE IF NOT EXISTS tracked_pins (
	cid TEXT NOT NULL,
	pinner_address TEXT NOT NULL,
	pinner_node_id TEXT NOT NULL,
	pinner_multiaddr TEXT NOT NULL,
	slot_id INTEGER NOT NULL,
	claimed_at TEXT NOT NULL,
	last_verified_at TEXT,
	last_checked_at TEXT,
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	total_checks INTEGER NOT NULL DEFAULT 0,
	total_failures INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'tracking',
	flagged_at TEXT,
	flag_tx_hash TEXT,
	created_at TEXT NOT NULL DEFAULT (datetime('now')),
	updated_at TEXT NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (cid, pinner_address)
);
CREATE INDEX IF NOT EXISTS idx_tracked_pins_status ON tracked_pins(status);

-- Hunter: verification log
CREATE TABLE IF NOT EXISTS verification_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	cid TEXT NOT NULL,
	pinner_address TEXT NOT NULL,
	passed INTEGER NOT NULL,
	method_used TEXT NOT NULL,
	methods_attempted TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	checked_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_vlog_checked ON verification_log(checked_at);

-- Hunter: cycle history
CREATE TABLE IF NOT EXISTS verification_cycles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at TEXT NOT NULL,
	completed_at TEXT NOT NULL,
	total_checked INTEGER NOT NULL,
	passed INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	flagged INTEGER NOT NULL,
	skipped INTEGER NOT NULL,
	errors INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL
);

-- Hunter: flag history
CREATE TABLE IF NOT EXISTS flag_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	pinner_address TEXT NOT NULL,
	tx_hash TEXT,
	flag_count_after INTEGER,
	bounty_earned INTEGER,
	submitted_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_flags_pinner ON flag_history(pinner_address);

-- Hunter: pinner registry cache
CREATE TABLE IF NOT EXISTS pinner_cache (
	address TEXT PRIMARY KEY,
	node_id TEXT NOT NULL,
	multiaddr TEXT NOT NULL,
	active INTEGER NOT NULL,
	cached_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`
