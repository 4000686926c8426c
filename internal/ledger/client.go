// Package ledger talks to the Stellar network: it polls Soroban RPC for
// pin-service contract events, runs read-only contract queries, and
// submits collect_pin and flag_pinner transactions.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Client is a minimal Soroban JSON-RPC 2.0 client.
type Client struct {
	url  string
	http *http.Client
}

// NewClient returns a client for the given Soroban RPC endpoint.
func NewClient(rpcURL string) *Client {
	return &Client{
		url:  rpcURL,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: http %d: %s", method, resp.StatusCode, string(data))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s: %w", method, rpcResp.Error)
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return nil
}

// ── getEvents ──────────────────────────────────────────────

// EventFilter narrows a getEvents call to specific contracts and topics.
type EventFilter struct {
	Type        string     `json:"type"`
	ContractIDs []string   `json:"contractIds,omitempty"`
	Topics      [][]string `json:"topics,omitempty"`
}

type getEventsParams struct {
	StartLedger uint32            `json:"startLedger,omitempty"`
	Filters     []EventFilter     `json:"filters"`
	Pagination  *eventsPagination `json:"pagination,omitempty"`
}

type eventsPagination struct {
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// EventInfo is one raw contract event from getEvents.
type EventInfo struct {
	ID                       string   `json:"id"`
	Ledger                   uint32   `json:"ledger"`
	ContractID               string   `json:"contractId"`
	Topic                    []string `json:"topic"` // base64 XDR ScVals
	Value                    string   `json:"value"` // base64 XDR ScVal
	InSuccessfulContractCall bool     `json:"inSuccessfulContractCall"`
	TxHash                   string   `json:"txHash"`
}

// GetEventsResponse is the getEvents result payload.
type GetEventsResponse struct {
	Events       []EventInfo `json:"events"`
	LatestLedger uint32      `json:"latestLedger"`
	Cursor       string      `json:"cursor"`
}

// GetEvents fetches contract events. Exactly one of startLedger or cursor
// should be set; the RPC rejects requests carrying both.
func (c *Client) GetEvents(ctx context.Context, startLedger uint32, cursor string, filters []EventFilter, limit int) (*GetEventsResponse, error) {
	params := getEventsParams{Filters: filters, Pagination: &eventsPagination{Limit: limit}}
	if cursor != "" {
		params.Pagination.Cursor = cursor
	} else {
		params.StartLedger = startLedger
	}

	var out GetEventsResponse
	if err := c.call(ctx, "getEvents", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ── getLatestLedger ────────────────────────────────────────

// LatestLedger is the getLatestLedger result payload.
type LatestLedger struct {
	Sequence        uint32 `json:"sequence"`
	ProtocolVersion int    `json:"protocolVersion"`
}

// GetLatestLedger returns the most recent ledger known to the RPC.
func (c *Client) GetLatestLedger(ctx context.Context) (*LatestLedger, error) {
	var out LatestLedger
	if err := c.call(ctx, "getLatestLedger", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ── getLedgerEntries ───────────────────────────────────────

type getLedgerEntriesParams struct {
	Keys []string `json:"keys"`
}

// LedgerEntry is one entry from getLedgerEntries.
type LedgerEntry struct {
	Key                string `json:"key"`
	XDR                string `json:"xdr"` // base64 LedgerEntryData
	LastModifiedLedger uint32 `json:"lastModifiedLedgerSeq"`
}

// GetLedgerEntriesResponse is the getLedgerEntries result payload.
type GetLedgerEntriesResponse struct {
	Entries      []LedgerEntry `json:"entries"`
	LatestLedger uint32        `json:"latestLedger"`
}

// GetLedgerEntries fetches raw ledger entries by base64 LedgerKey.
func (c *Client) GetLedgerEntries(ctx context.Context, keys []string) (*GetLedgerEntriesResponse, error) {
	var out GetLedgerEntriesResponse
	if err := c.call(ctx, "getLedgerEntries", getLedgerEntriesParams{Keys: keys}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ── simulateTransaction ────────────────────────────────────

type simulateParams struct {
	Transaction string `json:"transaction"`
}

// SimulateResult is one host-function result from a simulation.
type SimulateResult struct {
	Auth []string `json:"auth"` // base64 SorobanAuthorizationEntry
	XDR  string   `json:"xdr"`  // base64 ScVal return value
}

// SimulateResponse is the simulateTransaction result payload.
type SimulateResponse struct {
	TransactionData string           `json:"transactionData"` // base64 SorobanTransactionData
	MinResourceFee  string           `json:"minResourceFee"`
	Results         []SimulateResult `json:"results"`
	LatestLedger    uint32           `json:"latestLedger"`
	Error           string           `json:"error,omitempty"`
}

// SimulateTransaction simulates a base64-encoded transaction envelope.
// A contract-level failure comes back in the Error field, not as an error.
func (c *Client) SimulateTransaction(ctx context.Context, txBase64 string) (*SimulateResponse, error) {
	var out SimulateResponse
	if err := c.call(ctx, "simulateTransaction", simulateParams{Transaction: txBase64}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ── sendTransaction / getTransaction ───────────────────────

type sendParams struct {
	Transaction string `json:"transaction"`
}

// SendResponse is the sendTransaction result payload.
type SendResponse struct {
	Hash           string `json:"hash"`
	Status         string `json:"status"` // PENDING, DUPLICATE, TRY_AGAIN_LATER, ERROR
	ErrorResultXDR string `json:"errorResultXdr,omitempty"`
	LatestLedger   uint32 `json:"latestLedger"`
}

// SendTransaction submits a signed base64-encoded transaction envelope.
func (c *Client) SendTransaction(ctx context.Context, txBase64 string) (*SendResponse, error) {
	var out SendResponse
	if err := c.call(ctx, "sendTransaction", sendParams{Transaction: txBase64}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type getTransactionParams struct {
	Hash string `json:"hash"`
}

// Transaction statuses returned by getTransaction.
const (
	TxStatusSuccess  = "SUCCESS"
	TxStatusNotFound = "NOT_FOUND"
	TxStatusFailed   = "FAILED"
)

// GetTransactionResponse is the getTransaction result payload.
type GetTransactionResponse struct {
	Status      string `json:"status"`
	ResultXDR   string `json:"resultXdr,omitempty"`
	ReturnValue string `json:"returnValue,omitempty"` // base64 ScVal
	Ledger      uint32 `json:"ledger,omitempty"`
}

// GetTransaction looks up a submitted transaction by hash.
func (c *Client) GetTransaction(ctx context.Context, hash string) (*GetTransactionResponse, error) {
	var out GetTransactionResponse
	if err := c.call(ctx, "getTransaction", getTransactionParams{Hash: hash}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
