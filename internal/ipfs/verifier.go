package ipfs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pintheon/pinner/internal/models"
)

// Verifier checks that a remote pinner is actually serving a CID, using
// the local Kubo node as the probe.
//
// Method semantics: a DHT provider hit is proof, a miss is inconclusive
// because provider records propagate slowly. Bitswap is definitive both
// ways: after a direct connect, a peer that cannot serve the block does
// not have it. Partial retrieval is an optional extra.
type Verifier struct {
	baseURL      string
	checkTimeout time.Duration
	methods      []string
	http         *http.Client
	logger       *log.Logger
}

// NewVerifier returns a verifier running the given methods in order.
func NewVerifier(kuboRPCURL string, checkTimeout time.Duration, methods []string) *Verifier {
	if len(methods) == 0 {
		methods = []string{models.MethodDHTProvider, models.MethodBitswap}
	}
	return &Verifier{
		baseURL:      strings.TrimRight(kuboRPCURL, "/"),
		checkTimeout: checkTimeout,
		methods:      methods,
		http:         &http.Client{},
		logger:       log.New(log.Writer(), "[VERIFY] ", log.LstdFlags),
	}
}

func (v *Verifier) url(endpoint string) string {
	return v.baseURL + "/api/v0/" + endpoint
}

// Verify runs the method pipeline against one (CID, pinner) pair and
// stops at the first definitive outcome.
func (v *Verifier) Verify(ctx context.Context, cid, pinnerNodeID, pinnerMultiaddr string) models.VerificationResult {
	start := time.Now()
	result := models.VerificationResult{
		CID:          cid,
		PinnerNodeID: pinnerNodeID,
		MethodUsed:   "none",
	}

	for _, method := range v.methods {
		var outcome models.MethodOutcome
		switch method {
		case models.MethodDHTProvider:
			outcome = v.checkDHTProvider(ctx, cid, pinnerNodeID)
		case models.MethodBitswap:
			outcome = v.checkBitswap(ctx, cid, pinnerMultiaddr)
		case models.MethodRetrieval:
			outcome = v.checkRetrieval(ctx, cid)
		default:
			continue
		}
		result.MethodsAttempted = append(result.MethodsAttempted, outcome)

		if outcome.Passed != nil && *outcome.Passed {
			result.Passed = true
			result.MethodUsed = outcome.Method
			break
		}
		// a failed bitswap check is definitive
		if outcome.Passed != nil && !*outcome.Passed && method == models.MethodBitswap {
			result.MethodUsed = outcome.Method
			break
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()
	result.CheckedAt = time.Now().UTC()
	return result
}

func boolPtr(b bool) *bool { return &b }

// checkDHTProvider looks for the pinner among the CID's DHT providers.
func (v *Verifier) checkDHTProvider(ctx context.Context, cid, pinnerNodeID string) models.MethodOutcome {
	start := time.Now()
	outcome := models.MethodOutcome{Method: models.MethodDHTProvider}
	done := func() models.MethodOutcome {
		outcome.DurationMs = time.Since(start).Milliseconds()
		return outcome
	}

	checkCtx, cancel := context.WithTimeout(ctx, v.checkTimeout)
	defer cancel()

	resp, err := v.post(checkCtx, "routing/findprovs",
		url.Values{"arg": {cid}, "num-providers": {"20"}})
	if err != nil {
		outcome.Detail = fmt.Sprintf("DHT lookup error: %v", err)
		return done()
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		outcome.Detail = fmt.Sprintf("DHT lookup error: http %d", resp.StatusCode)
		return done()
	}

	// findprovs streams NDJSON, one provider record per line
	found := false
	dec := json.NewDecoder(resp.Body)
	for dec.More() {
		var entry struct {
			Responses []struct {
				ID string `json:"ID"`
			} `json:"Responses"`
		}
		if err := dec.Decode(&entry); err != nil {
			break
		}
		for _, r := range entry.Responses {
			if r.ID == pinnerNodeID {
				found = true
				break
			}
		}
		if found {
			break
		}
	}

	if found {
		outcome.Passed = boolPtr(true)
		outcome.Detail = fmt.Sprintf("pinner found in DHT providers for %s", shortCID(cid))
	} else {
		// inconclusive: provider records may not have propagated yet
		outcome.Detail = "pinner not found in DHT providers (checked 20)"
	}
	return done()
}

// checkBitswap connects directly to the pinner and requests the block.
func (v *Verifier) checkBitswap(ctx context.Context, cid, pinnerMultiaddr string) models.MethodOutcome {
	start := time.Now()
	outcome := models.MethodOutcome{Method: models.MethodBitswap}
	done := func() models.MethodOutcome {
		outcome.DurationMs = time.Since(start).Milliseconds()
		return outcome
	}

	checkCtx, cancel := context.WithTimeout(ctx, v.checkTimeout)
	defer cancel()

	connectResp, err := v.post(checkCtx, "swarm/connect", url.Values{"arg": {pinnerMultiaddr}})
	if err != nil {
		outcome.Passed = boolPtr(false)
		outcome.Detail = fmt.Sprintf("bitswap error: %v", err)
		return done()
	}
	connectResp.Body.Close()
	if connectResp.StatusCode != http.StatusOK {
		outcome.Passed = boolPtr(false)
		outcome.Detail = fmt.Sprintf("failed to connect to pinner: http %d", connectResp.StatusCode)
		return done()
	}

	blockResp, err := v.post(checkCtx, "block/get", url.Values{"arg": {cid}})
	if err != nil {
		outcome.Passed = boolPtr(false)
		outcome.Detail = "bitswap timeout, pinner not responding"
		return done()
	}
	defer blockResp.Body.Close()

	data, _ := io.ReadAll(blockResp.Body)
	if blockResp.StatusCode == http.StatusOK && len(data) > 0 {
		outcome.Passed = boolPtr(true)
		outcome.Detail = fmt.Sprintf("block retrieved (%d bytes)", len(data))
	} else {
		outcome.Passed = boolPtr(false)
		outcome.Detail = fmt.Sprintf("block not available (http %d)", blockResp.StatusCode)
	}
	return done()
}

// checkRetrieval fetches the first 1024 bytes of the content.
func (v *Verifier) checkRetrieval(ctx context.Context, cid string) models.MethodOutcome {
	start := time.Now()
	outcome := models.MethodOutcome{Method: models.MethodRetrieval}
	done := func() models.MethodOutcome {
		outcome.DurationMs = time.Since(start).Milliseconds()
		return outcome
	}

	checkCtx, cancel := context.WithTimeout(ctx, v.checkTimeout)
	defer cancel()

	resp, err := v.post(checkCtx, "cat", url.Values{"arg": {cid}, "length": {"1024"}})
	if err != nil {
		outcome.Passed = boolPtr(false)
		outcome.Detail = fmt.Sprintf("retrieval error: %v", err)
		return done()
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusOK && len(data) > 0 {
		outcome.Passed = boolPtr(true)
		outcome.Detail = fmt.Sprintf("retrieved %d bytes", len(data))
	} else {
		outcome.Passed = boolPtr(false)
		outcome.Detail = fmt.Sprintf("retrieval failed (http %d)", resp.StatusCode)
	}
	return done()
}

func (v *Verifier) post(ctx context.Context, endpoint string, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		v.url(endpoint)+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return v.http.Do(req)
}

func shortCID(cid string) string {
	if len(cid) > 16 {
		return cid[:16] + "..."
	}
	return cid
}
