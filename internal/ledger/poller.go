package ledger

import (
	"context"
	"fmt"
	"log"

	"github.com/stellar/go/xdr"

	"github.com/pintheon/pinner/internal/models"
)

// Topic symbols emitted by the pin-service contract.
const (
	topicPin    = "PIN"
	topicPinned = "PINNED"
	topicUnpin  = "UNPIN"
)

const pollLimit = 100

// Poller polls Soroban RPC for PIN, PINNED, and UNPIN contract events and
// keeps a pagination cursor for resumption across restarts.
type Poller struct {
	client      *Client
	contractID  string
	filters     []EventFilter
	cursor      string // opaque RPC paging token, not durable across restarts
	lastLedger  uint32 // ledger of the newest event observed
	startLedger uint32
	logger      *log.Logger
}

// NewPoller returns a poller for the given contract. startLedger is used
// only on the first poll when no cursor has been restored; zero means
// start from the latest ledger.
func NewPoller(client *Client, contractID string, startLedger uint32) *Poller {
	return &Poller{
		client:      client,
		contractID:  contractID,
		startLedger: startLedger,
		logger:      log.New(log.Writer(), "[POLLER] ", log.LstdFlags),
		filters: []EventFilter{{
			Type:        "contract",
			ContractIDs: []string{contractID},
			Topics: [][]string{
				{symbolXDR(topicPin), "*"},
				{symbolXDR(topicPinned), "*"},
				{symbolXDR(topicUnpin), "*"},
			},
		}},
	}
}

// RestoreCursor resumes polling from a persisted ledger sequence. The
// RPC paging token does not survive restarts, so resumption goes
// through startLedger: the stored ledger is re-read in full, and offer
// upserts keyed by slot make the overlap harmless.
func (p *Poller) RestoreCursor(ledger uint32) {
	p.startLedger = ledger
	p.lastLedger = ledger
}

// CursorLedger returns the ledger sequence polling has reached, or
// (0, false) before the first event. Event IDs are TOID-based and do
// not fit a ledger number, so this tracks the decoded ledger field of
// the newest event instead of parsing the paging token.
func (p *Poller) CursorLedger() (uint32, bool) {
	if p.lastLedger == 0 {
		return 0, false
	}
	return p.lastLedger, true
}

// Poll fetches events since the last cursor. Events from failed contract
// calls are skipped, and events that fail to decode are logged and
// dropped rather than aborting the batch.
func (p *Poller) Poll(ctx context.Context) ([]models.ContractEvent, error) {
	var resp *GetEventsResponse
	var err error

	if p.cursor != "" {
		resp, err = p.client.GetEvents(ctx, 0, p.cursor, p.filters, pollLimit)
	} else {
		start := p.startLedger
		if start == 0 {
			latest, lerr := p.client.GetLatestLedger(ctx)
			if lerr != nil {
				return nil, fmt.Errorf("resolve start ledger: %w", lerr)
			}
			start = latest.Sequence
			p.logger.Printf("no cursor, starting from latest ledger %d", start)
		}
		resp, err = p.client.GetEvents(ctx, start, "", p.filters, pollLimit)
	}
	if err != nil {
		return nil, fmt.Errorf("poll events: %w", err)
	}

	var events []models.ContractEvent
	for _, info := range resp.Events {
		if !info.InSuccessfulContractCall {
			continue
		}
		parsed, perr := parseEvent(info)
		if perr != nil {
			p.logger.Printf("skipping event %s: %v", info.ID, perr)
			continue
		}
		if parsed != nil {
			events = append(events, parsed)
		}
	}

	if n := len(resp.Events); n > 0 {
		p.cursor = resp.Events[n-1].ID
		p.lastLedger = resp.Events[n-1].Ledger
	} else if resp.Cursor != "" {
		p.cursor = resp.Cursor
	}

	if len(events) > 0 {
		p.logger.Printf("polled %d events (cursor %s)", len(events), p.cursor)
	}
	return events, nil
}

// parseEvent decodes one raw event into a typed model event. A nil result
// with nil error means the event kind is not one we handle.
func parseEvent(info EventInfo) (models.ContractEvent, error) {
	if len(info.Topic) == 0 {
		return nil, fmt.Errorf("event has no topics")
	}

	topicVal, err := decodeScVal(info.Topic[0])
	if err != nil {
		return nil, fmt.Errorf("decode topic[0]: %w", err)
	}
	kind, ok := scvalSymbol(topicVal)
	if !ok {
		return nil, fmt.Errorf("topic[0] is not a symbol")
	}

	value, err := decodeScVal(info.Value)
	if err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}

	switch kind {
	case topicPin:
		return parsePinEvent(value, info.Ledger)
	case topicPinned:
		return parsePinnedEvent(value, info.Ledger)
	case topicUnpin:
		return parseUnpinEvent(value, info.Ledger)
	default:
		return nil, nil
	}
}

func parsePinEvent(value xdr.ScVal, ledger uint32) (models.ContractEvent, error) {
	ev := models.PinEvent{LedgerSequence: ledger}

	slotVal, ok := mapField(value, "slot_id")
	if !ok {
		return nil, fmt.Errorf("PIN event missing slot_id")
	}
	if ev.SlotID, ok = scvalU64(slotVal); !ok {
		return nil, fmt.Errorf("PIN event slot_id not a u64")
	}

	cidVal, ok := mapField(value, "cid")
	if !ok {
		return nil, fmt.Errorf("PIN event missing cid")
	}
	if ev.CID, ok = scvalString(cidVal); !ok {
		return nil, fmt.Errorf("PIN event cid not a string")
	}

	if v, ok := mapField(value, "filename"); ok {
		ev.Filename, _ = scvalString(v)
	}
	if v, ok := mapField(value, "gateway"); ok {
		ev.Gateway, _ = scvalString(v)
	}

	priceVal, ok := mapField(value, "offer_price")
	if !ok {
		return nil, fmt.Errorf("PIN event missing offer_price")
	}
	if ev.OfferPrice, ok = scvalI64(priceVal); !ok {
		return nil, fmt.Errorf("PIN event offer_price not an integer")
	}

	qtyVal, ok := mapField(value, "pin_qty")
	if !ok {
		return nil, fmt.Errorf("PIN event missing pin_qty")
	}
	if ev.PinQty, ok = scvalU32(qtyVal); !ok {
		return nil, fmt.Errorf("PIN event pin_qty not a u32")
	}

	pubVal, ok := mapField(value, "publisher")
	if !ok {
		return nil, fmt.Errorf("PIN event missing publisher")
	}
	if ev.Publisher, ok = scvalAddress(pubVal); !ok {
		return nil, fmt.Errorf("PIN event publisher not an address")
	}

	return ev, nil
}

func parsePinnedEvent(value xdr.ScVal, ledger uint32) (models.ContractEvent, error) {
	ev := models.ClaimedEvent{LedgerSequence: ledger}

	slotVal, ok := mapField(value, "slot_id")
	if !ok {
		return nil, fmt.Errorf("PINNED event missing slot_id")
	}
	if ev.SlotID, ok = scvalU64(slotVal); !ok {
		return nil, fmt.Errorf("PINNED event slot_id not a u64")
	}

	hashVal, ok := mapField(value, "cid_hash")
	if !ok {
		return nil, fmt.Errorf("PINNED event missing cid_hash")
	}
	if ev.CIDHash, ok = scvalBytesHex(hashVal); !ok {
		return nil, fmt.Errorf("PINNED event cid_hash not bytes")
	}

	pinnerVal, ok := mapField(value, "pinner")
	if !ok {
		return nil, fmt.Errorf("PINNED event missing pinner")
	}
	if ev.Pinner, ok = scvalAddress(pinnerVal); !ok {
		return nil, fmt.Errorf("PINNED event pinner not an address")
	}

	amountVal, ok := mapField(value, "amount")
	if !ok {
		return nil, fmt.Errorf("PINNED event missing amount")
	}
	if ev.Amount, ok = scvalI64(amountVal); !ok {
		return nil, fmt.Errorf("PINNED event amount not an integer")
	}

	if v, ok := mapField(value, "pins_remaining"); ok {
		if rem, ok := scvalU32(v); ok {
			ev.PinsRemaining = int32(rem)
		}
	}

	return ev, nil
}

func parseUnpinEvent(value xdr.ScVal, ledger uint32) (models.ContractEvent, error) {
	ev := models.FreedEvent{LedgerSequence: ledger}

	slotVal, ok := mapField(value, "slot_id")
	if !ok {
		return nil, fmt.Errorf("UNPIN event missing slot_id")
	}
	if ev.SlotID, ok = scvalU64(slotVal); !ok {
		return nil, fmt.Errorf("UNPIN event slot_id not a u64")
	}

	if v, ok := mapField(value, "cid_hash"); ok {
		ev.CIDHash, _ = scvalBytesHex(v)
	}

	return ev, nil
}
