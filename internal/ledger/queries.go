package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/stellar/go/amount"
	"github.com/stellar/go/strkey"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"

	"github.com/pintheon/pinner/internal/models"
)

// Queries runs read-only pin-service contract calls via transaction
// simulation; nothing here is signed or submitted.
type Queries struct {
	client     *Client
	contractID string
	sourceAcct string // any valid account address, used only as tx source
	horizonURL string
	http       *http.Client
}

// NewQueries returns a query helper. sourceAcct is the agent's public
// key; simulations need a syntactically valid source account but never
// touch its sequence number.
func NewQueries(client *Client, contractID, sourceAcct, horizonURL string) *Queries {
	if horizonURL == "" {
		horizonURL = "https://horizon-testnet.stellar.org"
	}
	return &Queries{
		client:     client,
		contractID: contractID,
		sourceAcct: sourceAcct,
		horizonURL: horizonURL,
		http:       &http.Client{Timeout: 15 * time.Second},
	}
}

// simulateCall simulates a contract invocation and returns the decoded
// result ScVal.
func (q *Queries) simulateCall(ctx context.Context, fn string, args ...xdr.ScVal) (xdr.ScVal, error) {
	txB64, err := buildInvokeTx(q.sourceAcct, 0, q.contractID, fn, args, nil, nil, txnbuild.MinBaseFee)
	if err != nil {
		return xdr.ScVal{}, fmt.Errorf("build %s call: %w", fn, err)
	}

	resp, err := q.client.SimulateTransaction(ctx, txB64)
	if err != nil {
		return xdr.ScVal{}, err
	}
	if resp.Error != "" {
		return xdr.ScVal{}, fmt.Errorf("%s simulation: %s", fn, resp.Error)
	}
	if len(resp.Results) == 0 || resp.Results[0].XDR == "" {
		return xdr.ScVal{Type: xdr.ScValTypeScvVoid}, nil
	}
	return decodeScVal(resp.Results[0].XDR)
}

// GetSlot returns a slot's on-chain state, or (nil, nil) when the slot
// does not exist.
func (q *Queries) GetSlot(ctx context.Context, slotID uint64) (*models.SlotInfo, error) {
	result, err := q.simulateCall(ctx, "get_slot", u64Val(slotID))
	if err != nil {
		return nil, err
	}
	if result.Type == xdr.ScValTypeScvVoid {
		return nil, nil
	}

	info := &models.SlotInfo{SlotID: slotID}
	if v, ok := mapField(result, "cid_hash"); ok {
		info.CIDHash, _ = scvalBytesHex(v)
	}
	if v, ok := mapField(result, "publisher"); ok {
		info.Publisher, _ = scvalAddress(v)
	}
	if v, ok := mapField(result, "offer_price"); ok {
		info.OfferPrice, _ = scvalI64(v)
	}
	if v, ok := mapField(result, "pin_qty"); ok {
		info.PinQty, _ = scvalU32(v)
	}
	if v, ok := mapField(result, "pins_remaining"); ok {
		info.PinsRemaining, _ = scvalU32(v)
	}
	if v, ok := mapField(result, "escrow_balance"); ok {
		info.EscrowBalance, _ = scvalI64(v)
	}
	if v, ok := mapField(result, "created_at"); ok {
		info.CreatedAt, _ = scvalU64(v)
	}
	if v, ok := mapField(result, "claims"); ok && v.Type == xdr.ScValTypeScvVec && v.Vec != nil && *v.Vec != nil {
		for _, entry := range **v.Vec {
			if addr, ok := scvalAddress(entry); ok {
				info.Claimants = append(info.Claimants, addr)
			}
		}
	}
	return info, nil
}

// GetPinner returns a pinner's registry entry, or (nil, nil) when the
// address never joined.
func (q *Queries) GetPinner(ctx context.Context, address string) (*models.ParticipantData, error) {
	addrArg, err := addressVal(address)
	if err != nil {
		return nil, err
	}
	result, err := q.simulateCall(ctx, "get_pinner", addrArg)
	if err != nil {
		return nil, err
	}
	if result.Type == xdr.ScValTypeScvVoid {
		return nil, nil
	}

	data := &models.ParticipantData{Address: address}
	if v, ok := mapField(result, "node_id"); ok {
		data.NodeID, _ = scvalString(v)
	}
	if v, ok := mapField(result, "multiaddr"); ok {
		data.Multiaddr, _ = scvalString(v)
	}
	if v, ok := mapField(result, "active"); ok && v.Type == xdr.ScValTypeScvBool && v.B != nil {
		data.Active = *v.B
	}
	if v, ok := mapField(result, "flags"); ok {
		data.Flags, _ = scvalU32(v)
	}
	if v, ok := mapField(result, "min_price"); ok {
		data.MinPrice, _ = scvalI64(v)
	}
	if v, ok := mapField(result, "pins_completed"); ok {
		data.PinsCompleted, _ = scvalU32(v)
	}
	if v, ok := mapField(result, "staked"); ok {
		data.Staked, _ = scvalI64(v)
	}
	if v, ok := mapField(result, "joined_at"); ok {
		data.JoinedAt, _ = scvalU64(v)
	}
	return data, nil
}

// IsSlotExpired reports whether the slot passed its on-chain deadline.
func (q *Queries) IsSlotExpired(ctx context.Context, slotID uint64) (bool, error) {
	result, err := q.simulateCall(ctx, "is_slot_expired", u64Val(slotID))
	if err != nil {
		return false, err
	}
	if result.Type == xdr.ScValTypeScvBool && result.B != nil {
		return *result.B, nil
	}
	return false, fmt.Errorf("is_slot_expired: unexpected result type %v", result.Type)
}

// JoinFee returns the pinner join fee in stroops.
func (q *Queries) JoinFee(ctx context.Context) (int64, error) {
	result, err := q.simulateCall(ctx, "join_fee")
	if err != nil {
		return 0, err
	}
	fee, ok := scvalI64(result)
	if !ok {
		return 0, fmt.Errorf("join_fee: unexpected result type %v", result.Type)
	}
	return fee, nil
}

// PinnerStake returns the required pinner stake in stroops.
func (q *Queries) PinnerStake(ctx context.Context) (int64, error) {
	result, err := q.simulateCall(ctx, "pinner_stake_amount")
	if err != nil {
		return 0, err
	}
	stake, ok := scvalI64(result)
	if !ok {
		return 0, fmt.Errorf("pinner_stake_amount: unexpected result type %v", result.Type)
	}
	return stake, nil
}

// WalletBalance returns the native XLM balance for an address in stroops
// via the Horizon accounts endpoint. Unfunded accounts report zero.
func (q *Queries) WalletBalance(ctx context.Context, address string) (int64, error) {
	if !strkey.IsValidEd25519PublicKey(address) {
		return 0, fmt.Errorf("invalid account address %q", address)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		q.horizonURL+"/accounts/"+address, nil)
	if err != nil {
		return 0, err
	}
	resp, err := q.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("horizon account lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("horizon account lookup: http %d", resp.StatusCode)
	}

	var account struct {
		Balances []struct {
			AssetType string `json:"asset_type"`
			Balance   string `json:"balance"`
		} `json:"balances"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&account); err != nil {
		return 0, fmt.Errorf("decode account: %w", err)
	}

	for _, b := range account.Balances {
		if b.AssetType == "native" {
			stroops, err := amount.ParseInt64(b.Balance)
			if err != nil {
				return 0, fmt.Errorf("parse balance %q: %w", b.Balance, err)
			}
			return stroops, nil
		}
	}
	return 0, nil
}
