// Package ipfs drives a local Kubo node over its HTTP RPC API: the
// executor pins offer content, the verifier probes remote pinners.
package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pintheon/pinner/internal/models"
)

// Executor pins and unpins content on the local Kubo node.
//
// Pintheon nodes run private IPFS swarms, so DHT resolution won't find
// fresh content. The pin pipeline instead fetches the bytes from the
// publisher's HTTPS gateway, adds them locally with the publisher's
// chunking parameters, verifies the resulting CID, and pins.
type Executor struct {
	baseURL        string
	pinTimeout     time.Duration
	maxContentSize int64
	fetchRetries   int
	http           *http.Client
	logger         *log.Logger
}

// NewExecutor returns an executor for the Kubo RPC endpoint.
func NewExecutor(kuboRPCURL string, pinTimeout time.Duration, maxContentSize int64, fetchRetries int) *Executor {
	if fetchRetries < 1 {
		fetchRetries = 1
	}
	return &Executor{
		baseURL:        strings.TrimRight(kuboRPCURL, "/"),
		pinTimeout:     pinTimeout,
		maxContentSize: maxContentSize,
		fetchRetries:   fetchRetries,
		http:           &http.Client{},
		logger:         log.New(log.Writer(), "[KUBO] ", log.LstdFlags),
	}
}

func (e *Executor) url(endpoint string) string {
	return e.baseURL + "/api/v0/" + endpoint
}

// Kubo add parameters. These must match how Pintheon publishers add
// content, or the resulting CID will not match the offer's.
var addParams = url.Values{
	"wrap-with-directory": {"false"},
	"chunker":             {"size-262144"},
	"raw-leaves":          {"false"},
	"cid-version":         {"0"},
	"hash":                {"sha2-256"},
	"pin":                 {"false"}, // pinned explicitly after CID verification
}

// Pin runs the gateway-fetch pin pipeline for one CID.
func (e *Executor) Pin(ctx context.Context, cid, gateway string) models.PinResult {
	e.logger.Printf("pinning CID %s via gateway %s", cid, gateway)
	start := time.Now()
	fail := func(errMsg string) models.PinResult {
		return models.PinResult{CID: cid, Error: errMsg, DurationMs: time.Since(start).Milliseconds()}
	}

	content, errMsg := e.fetchFromGateway(ctx, cid, gateway)
	if errMsg != "" {
		e.logger.Printf("gateway fetch failed for %s: %s", cid, errMsg)
		return fail(errMsg)
	}

	returnedCID, size, err := e.add(ctx, content)
	if err != nil {
		e.logger.Printf("kubo add failed for %s: %v", cid, err)
		return fail(fmt.Sprintf("kubo_add: %v", err))
	}
	if returnedCID != cid {
		e.logger.Printf("CID mismatch for %s: Kubo returned %s", cid, returnedCID)
		return fail(fmt.Sprintf("cid_mismatch: expected %s, got %s", cid, returnedCID))
	}

	if err := e.pinAdd(ctx, cid); err != nil {
		e.logger.Printf("local pin failed for %s: %v", cid, err)
		return fail(fmt.Sprintf("local_pin: %v", err))
	}

	duration := time.Since(start).Milliseconds()
	e.logger.Printf("pinned %s (%d bytes) in %dms", cid, size, duration)
	return models.PinResult{Success: true, CID: cid, BytesPinned: size, DurationMs: duration}
}

// fetchFromGateway downloads the content bytes, retrying timeouts and
// gateway 5xx responses. Oversize content and 4xx responses fail
// immediately. A non-empty string return is the failure reason.
func (e *Executor) fetchFromGateway(ctx context.Context, cid, gateway string) ([]byte, string) {
	gatewayURL := strings.TrimRight(gateway, "/") + "/ipfs/" + cid

	var lastErr string
	for attempt := 1; attempt <= e.fetchRetries; attempt++ {
		content, errMsg, retryable := e.fetchOnce(ctx, gatewayURL)
		if errMsg == "" {
			e.logger.Printf("fetched %d bytes from gateway (attempt %d)", len(content), attempt)
			return content, ""
		}
		if !retryable {
			return nil, errMsg
		}
		lastErr = errMsg
		e.logger.Printf("gateway fetch failed for %s (attempt %d/%d): %s",
			cid, attempt, e.fetchRetries, errMsg)
	}
	return nil, fmt.Sprintf("gateway timeout after %d attempts: %s", e.fetchRetries, lastErr)
}

func (e *Executor) fetchOnce(ctx context.Context, gatewayURL string) (content []byte, errMsg string, retryable bool) {
	fetchCtx, cancel := context.WithTimeout(ctx, e.pinTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, gatewayURL, nil)
	if err != nil {
		return nil, err.Error(), false
	}

	resp, err := e.http.Do(req)
	if err != nil {
		// network errors and timeouts are worth retrying
		return nil, fmt.Sprintf("gateway fetch: %v", err), true
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("gateway HTTP %d", resp.StatusCode)
		return nil, msg, resp.StatusCode >= 500
	}

	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n > e.maxContentSize {
			return nil, fmt.Sprintf("content too large: %d bytes (max %d)", n, e.maxContentSize), false
		}
	}

	// cap the read in case Content-Length lied or was absent
	data, err := io.ReadAll(io.LimitReader(resp.Body, e.maxContentSize+1))
	if err != nil {
		return nil, fmt.Sprintf("gateway read: %v", err), true
	}
	if int64(len(data)) > e.maxContentSize {
		return nil, fmt.Sprintf("content exceeded max size during download (>%d bytes)", e.maxContentSize), false
	}
	return data, "", false
}

// add uploads content to the local node and returns the CID Kubo
// computed plus the reported size.
func (e *Executor) add(ctx context.Context, content []byte) (string, int64, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "data")
	if err != nil {
		return "", 0, err
	}
	if _, err := part.Write(content); err != nil {
		return "", 0, err
	}
	if err := writer.Close(); err != nil {
		return "", 0, err
	}

	addCtx, cancel := context.WithTimeout(ctx, e.pinTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(addCtx, http.MethodPost,
		e.url("add")+"?"+addParams.Encode(), &body)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := e.http.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", 0, fmt.Errorf("http %d: %s", resp.StatusCode, string(data))
	}

	// Kubo reports Size as a JSON string
	var addResp struct {
		Hash string `json:"Hash"`
		Size string `json:"Size"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&addResp); err != nil {
		return "", 0, fmt.Errorf("decode add response: %w", err)
	}
	size, _ := strconv.ParseInt(addResp.Size, 10, 64)
	return addResp.Hash, size, nil
}

// pinAdd pins a CID whose blocks are already in the local blockstore.
func (e *Executor) pinAdd(ctx context.Context, cid string) error {
	pinCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := e.post(pinCtx, "pin/add", url.Values{"arg": {cid}})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(data))
	}
	return nil
}

// VerifyPinned reports whether the CID is recursively pinned locally.
func (e *Executor) VerifyPinned(ctx context.Context, cid string) bool {
	lsCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := e.post(lsCtx, "pin/ls", url.Values{"arg": {cid}, "type": {"recursive"}})
	if err != nil {
		e.logger.Printf("verify_pinned(%s) failed: %v", cid, err)
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var lsResp struct {
		Keys map[string]json.RawMessage `json:"Keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&lsResp); err != nil {
		return false
	}
	_, ok := lsResp.Keys[cid]
	return ok
}

// Unpin removes a local pin. A CID that was never pinned counts as
// success; the desired end state holds either way.
func (e *Executor) Unpin(ctx context.Context, cid string) bool {
	rmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := e.post(rmCtx, "pin/rm", url.Values{"arg": {cid}})
	if err != nil {
		e.logger.Printf("unpin error for %s: %v", cid, err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		e.logger.Printf("unpinned %s", cid)
		return true
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if strings.Contains(strings.ToLower(string(data)), "not pinned") {
		return true
	}
	e.logger.Printf("unpin failed for %s: %s", cid, string(data))
	return false
}

// ObjectSize returns the cumulative DAG size of a local object, or
// (0, false) when it cannot be determined.
func (e *Executor) ObjectSize(ctx context.Context, cid string) (int64, bool) {
	statCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := e.post(statCtx, "object/stat", url.Values{"arg": {cid}})
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, false
	}

	var statResp struct {
		CumulativeSize int64 `json:"CumulativeSize"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&statResp); err != nil {
		return 0, false
	}
	return statResp.CumulativeSize, true
}

func (e *Executor) post(ctx context.Context, endpoint string, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.url(endpoint)+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return e.http.Do(req)
}
