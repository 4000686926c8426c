package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stellar/go/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pintheon/pinner/internal/models"
)

const (
	testPublisher = "GA7QYNF7SOWQ3GLR2BGMZEHXAVIRZA4KVWLTJJFC7MGXUA74P7UJVSGZ"
	testPinner    = "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H"
)

func mustB64(t *testing.T, v any) string {
	t.Helper()
	out, err := xdr.MarshalBase64(v)
	require.NoError(t, err)
	return out
}

func symVal(s string) xdr.ScVal {
	sym := xdr.ScSymbol(s)
	return xdr.ScVal{Type: xdr.ScValTypeScvSymbol, Sym: &sym}
}

func strVal(s string) xdr.ScVal {
	str := xdr.ScString(s)
	return xdr.ScVal{Type: xdr.ScValTypeScvString, Str: &str}
}

func u32TestVal(v uint32) xdr.ScVal {
	u := xdr.Uint32(v)
	return xdr.ScVal{Type: xdr.ScValTypeScvU32, U32: &u}
}

func i128Val(lo int64) xdr.ScVal {
	parts := xdr.Int128Parts{Hi: 0, Lo: xdr.Uint64(lo)}
	return xdr.ScVal{Type: xdr.ScValTypeScvI128, I128: &parts}
}

func bytesVal(b []byte) xdr.ScVal {
	sb := xdr.ScBytes(b)
	return xdr.ScVal{Type: xdr.ScValTypeScvBytes, Bytes: &sb}
}

func accountVal(address string) xdr.ScVal {
	accountID := xdr.MustAddress(address)
	addr := xdr.ScAddress{Type: xdr.ScAddressTypeScAddressTypeAccount, AccountId: &accountID}
	return xdr.ScVal{Type: xdr.ScValTypeScvAddress, Address: &addr}
}

func mapVal(pairs ...xdr.ScMapEntry) xdr.ScVal {
	m := xdr.ScMap(pairs)
	pm := &m
	return xdr.ScVal{Type: xdr.ScValTypeScvMap, Map: &pm}
}

func entry(key string, val xdr.ScVal) xdr.ScMapEntry {
	return xdr.ScMapEntry{Key: symVal(key), Val: val}
}

func pinEventValue(t *testing.T) string {
	return mustB64(t, mapVal(
		entry("slot_id", u64Val(7)),
		entry("cid", strVal("QmPinMe")),
		entry("filename", strVal("scene.glb")),
		entry("gateway", strVal("https://gw.example.com")),
		entry("offer_price", i128Val(1_000_000)),
		entry("pin_qty", u32TestVal(3)),
		entry("publisher", accountVal(testPublisher)),
	))
}

func TestParsePinEvent(t *testing.T) {
	info := EventInfo{
		ID:                       "100-1",
		Ledger:                   100,
		Topic:                    []string{mustB64(t, symVal("PIN")), mustB64(t, symVal("request"))},
		Value:                    pinEventValue(t),
		InSuccessfulContractCall: true,
	}

	parsed, err := parseEvent(info)
	require.NoError(t, err)

	ev, ok := parsed.(models.PinEvent)
	require.True(t, ok)
	assert.Equal(t, uint64(7), ev.SlotID)
	assert.Equal(t, "QmPinMe", ev.CID)
	assert.Equal(t, "scene.glb", ev.Filename)
	assert.Equal(t, "https://gw.example.com", ev.Gateway)
	assert.Equal(t, int64(1_000_000), ev.OfferPrice)
	assert.Equal(t, uint32(3), ev.PinQty)
	assert.Equal(t, testPublisher, ev.Publisher)
	assert.Equal(t, uint32(100), ev.Ledger())
}

func TestParsePinnedEvent(t *testing.T) {
	value := mustB64(t, mapVal(
		entry("slot_id", u64Val(7)),
		entry("cid_hash", bytesVal([]byte{0xde, 0xad, 0xbe, 0xef})),
		entry("pinner", accountVal(testPinner)),
		entry("amount", i128Val(1_000_000)),
		entry("pins_remaining", u32TestVal(2)),
	))
	info := EventInfo{
		ID:     "101-0",
		Ledger: 101,
		Topic:  []string{mustB64(t, symVal("PINNED")), mustB64(t, symVal("claim"))},
		Value:  value,
	}

	parsed, err := parseEvent(info)
	require.NoError(t, err)

	ev, ok := parsed.(models.ClaimedEvent)
	require.True(t, ok)
	assert.Equal(t, uint64(7), ev.SlotID)
	assert.Equal(t, "deadbeef", ev.CIDHash)
	assert.Equal(t, testPinner, ev.Pinner)
	assert.Equal(t, int64(1_000_000), ev.Amount)
	assert.Equal(t, int32(2), ev.PinsRemaining)
}

func TestParseUnpinEvent(t *testing.T) {
	value := mustB64(t, mapVal(
		entry("slot_id", u64Val(9)),
		entry("cid_hash", bytesVal([]byte{0x01, 0x02})),
	))
	info := EventInfo{
		ID:     "102-0",
		Ledger: 102,
		Topic:  []string{mustB64(t, symVal("UNPIN")), mustB64(t, symVal("request"))},
		Value:  value,
	}

	parsed, err := parseEvent(info)
	require.NoError(t, err)

	ev, ok := parsed.(models.FreedEvent)
	require.True(t, ok)
	assert.Equal(t, uint64(9), ev.SlotID)
	assert.Equal(t, "0102", ev.CIDHash)
}

func TestParseEventUnknownKindIgnored(t *testing.T) {
	info := EventInfo{
		ID:     "103-0",
		Ledger: 103,
		Topic:  []string{mustB64(t, symVal("TRANSFER"))},
		Value:  mustB64(t, mapVal()),
	}

	parsed, err := parseEvent(info)
	require.NoError(t, err)
	assert.Nil(t, parsed)
}

func TestParseEventMissingFieldFails(t *testing.T) {
	value := mustB64(t, mapVal(entry("slot_id", u64Val(1))))
	info := EventInfo{
		ID:    "104-0",
		Topic: []string{mustB64(t, symVal("PIN"))},
		Value: value,
	}

	_, err := parseEvent(info)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing cid")
}

// rpcTestServer answers JSON-RPC calls with canned per-method results.
func rpcTestServer(t *testing.T, results map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		result, ok := results[req.Method]
		require.True(t, ok, "unexpected rpc method %s", req.Method)
		raw, err := json.Marshal(result)
		require.NoError(t, err)
		json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: raw})
	}))
}

func TestPollerSkipsFailedAndMalformed(t *testing.T) {
	events := []EventInfo{
		{
			ID: "200-0", Ledger: 200,
			Topic:                    []string{mustB64(t, symVal("PIN"))},
			Value:                    pinEventValue(t),
			InSuccessfulContractCall: true,
		},
		{
			// failed contract call, skipped
			ID: "200-1", Ledger: 200,
			Topic:                    []string{mustB64(t, symVal("PIN"))},
			Value:                    pinEventValue(t),
			InSuccessfulContractCall: false,
		},
		{
			// malformed value, logged and skipped
			ID: "201-0", Ledger: 201,
			Topic:                    []string{mustB64(t, symVal("PIN"))},
			Value:                    "not-base64!",
			InSuccessfulContractCall: true,
		},
	}
	srv := rpcTestServer(t, map[string]any{
		"getEvents": GetEventsResponse{Events: events, LatestLedger: 201},
	})
	defer srv.Close()

	poller := NewPoller(NewClient(srv.URL), "CCONTRACT", 0)
	poller.RestoreCursor(199)

	parsed, err := poller.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, parsed, 1)

	// cursor advances to the last raw event even though it was malformed
	ledger, ok := poller.CursorLedger()
	assert.True(t, ok)
	assert.Equal(t, uint32(201), ledger)
}

func TestPollerFirstPollUsesLatestLedger(t *testing.T) {
	var sawStartLedger uint32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var result any
		switch req.Method {
		case "getLatestLedger":
			result = LatestLedger{Sequence: 5000}
		case "getEvents":
			raw, _ := json.Marshal(req.Params)
			var params struct {
				StartLedger uint32 `json:"startLedger"`
			}
			require.NoError(t, json.Unmarshal(raw, &params))
			sawStartLedger = params.StartLedger
			result = GetEventsResponse{Cursor: "5000-0"}
		default:
			t.Fatalf("unexpected method %s", req.Method)
		}
		raw, _ := json.Marshal(result)
		json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: raw})
	}))
	defer srv.Close()

	poller := NewPoller(NewClient(srv.URL), "CCONTRACT", 0)
	parsed, err := poller.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, parsed)
	assert.Equal(t, uint32(5000), sawStartLedger)

	// empty batch advances the paging token but there is no ledger
	// position to persist until an event is seen
	assert.Equal(t, "5000-0", poller.cursor)
	_, ok := poller.CursorLedger()
	assert.False(t, ok)
}

func TestRestoreCursorResumesFromStoredLedger(t *testing.T) {
	var gotStart uint32
	var gotCursor string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "getEvents", req.Method)

		raw, _ := json.Marshal(req.Params)
		var params struct {
			StartLedger uint32 `json:"startLedger"`
			Pagination  struct {
				Cursor string `json:"cursor"`
			} `json:"pagination"`
		}
		require.NoError(t, json.Unmarshal(raw, &params))
		gotStart = params.StartLedger
		gotCursor = params.Pagination.Cursor

		result, _ := json.Marshal(GetEventsResponse{LatestLedger: 4400})
		json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
	}))
	defer srv.Close()

	poller := NewPoller(NewClient(srv.URL), "CCONTRACT", 0)
	poller.RestoreCursor(4321)

	ledger, ok := poller.CursorLedger()
	assert.True(t, ok)
	assert.Equal(t, uint32(4321), ledger)

	// resumption re-reads the stored ledger via startLedger, not a
	// synthesized paging token
	_, err := poller.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(4321), gotStart)
	assert.Empty(t, gotCursor)

	// an empty batch keeps the restored position
	ledger, ok = poller.CursorLedger()
	assert.True(t, ok)
	assert.Equal(t, uint32(4321), ledger)
}

// Event IDs from live RPC endpoints are TOID-based: the first component
// packs the ledger into the high 32 bits and overflows uint32 on its
// own. The persisted position must come from the decoded ledger field.
func TestPollerCursorHandlesTOIDEventIDs(t *testing.T) {
	const toid = "0164066720412532736-0000000003"
	var polls int
	var gotCursor string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "getEvents", req.Method)

		raw, _ := json.Marshal(req.Params)
		var params struct {
			Pagination struct {
				Cursor string `json:"cursor"`
			} `json:"pagination"`
		}
		require.NoError(t, json.Unmarshal(raw, &params))

		resp := GetEventsResponse{LatestLedger: 38_200_001}
		if polls == 0 {
			resp.Events = []EventInfo{{
				ID: toid, Ledger: 38_200_000,
				Topic:                    []string{mustB64(t, symVal("PIN"))},
				Value:                    pinEventValue(t),
				InSuccessfulContractCall: true,
			}}
		} else {
			gotCursor = params.Pagination.Cursor
		}
		polls++

		result, _ := json.Marshal(resp)
		json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
	}))
	defer srv.Close()

	poller := NewPoller(NewClient(srv.URL), "CCONTRACT", 0)
	poller.RestoreCursor(38_199_999)

	parsed, err := poller.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, parsed, 1)

	ledger, ok := poller.CursorLedger()
	assert.True(t, ok)
	assert.Equal(t, uint32(38_200_000), ledger)

	// the raw TOID is still the paging token for the next poll
	_, err = poller.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, toid, gotCursor)
}
