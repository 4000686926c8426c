package ledger

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"

	"github.com/pintheon/pinner/internal/models"
)

const (
	txPollInterval = 2 * time.Second
	txPollBudget   = 60 * time.Second
)

// Submitter builds, signs, and submits pin-service contract invocations:
// collect_pin for claims and flag_pinner for audits.
type Submitter struct {
	client     *Client
	contractID string
	keypair    *keypair.Full
	passphrase string
	logger     *log.Logger
}

// NewSubmitter returns a submitter signing with the given keypair.
func NewSubmitter(client *Client, contractID string, kp *keypair.Full, networkPassphrase string) *Submitter {
	return &Submitter{
		client:     client,
		contractID: contractID,
		keypair:    kp,
		passphrase: networkPassphrase,
		logger:     log.New(log.Writer(), "[SUBMIT] ", log.LstdFlags),
	}
}

// Address returns the submitter's public key.
func (s *Submitter) Address() string {
	return s.keypair.Address()
}

// SubmitClaim invokes collect_pin(caller, slot_id). AmountEarned is left
// zero; the daemon fills it in from the offer record.
func (s *Submitter) SubmitClaim(ctx context.Context, slotID uint64) models.ClaimResult {
	s.logger.Printf("submitting collect_pin for slot %d", slotID)

	callerArg, err := addressVal(s.keypair.Address())
	if err != nil {
		return models.ClaimResult{SlotID: slotID, Error: err.Error()}
	}

	retval, txHash, err := s.invoke(ctx, "collect_pin", callerArg, u64Val(slotID))
	if err != nil {
		s.logger.Printf("collect_pin failed for slot %d: %v", slotID, err)
		return models.ClaimResult{SlotID: slotID, TxHash: txHash, Error: err.Error()}
	}

	pinsRemaining, _ := scvalU32(retval)
	s.logger.Printf("collect_pin succeeded for slot %d (pins_remaining=%d, tx=%s)",
		slotID, pinsRemaining, short(txHash))
	return models.ClaimResult{Success: true, SlotID: slotID, TxHash: txHash}
}

// SubmitFlag invokes flag_pinner(caller, pinner_addr) and returns the
// pinner's flag count after ours.
func (s *Submitter) SubmitFlag(ctx context.Context, pinnerAddress string) models.FlagOutcome {
	s.logger.Printf("submitting flag_pinner for %s", short(pinnerAddress))

	callerArg, err := addressVal(s.keypair.Address())
	if err != nil {
		return models.FlagOutcome{PinnerAddress: pinnerAddress, Error: err.Error()}
	}
	pinnerArg, err := addressVal(pinnerAddress)
	if err != nil {
		return models.FlagOutcome{PinnerAddress: pinnerAddress, Error: err.Error()}
	}

	retval, txHash, err := s.invoke(ctx, "flag_pinner", callerArg, pinnerArg)
	if err != nil {
		s.logger.Printf("flag_pinner failed for %s: %v", short(pinnerAddress), err)
		return models.FlagOutcome{PinnerAddress: pinnerAddress, TxHash: txHash, Error: err.Error()}
	}

	flagCount, _ := scvalU32(retval)
	s.logger.Printf("flag_pinner succeeded: %s now has %d flags (tx=%s)",
		short(pinnerAddress), flagCount, short(txHash))
	return models.FlagOutcome{
		Success:       true,
		PinnerAddress: pinnerAddress,
		FlagCount:     flagCount,
		TxHash:        txHash,
	}
}

// invoke runs the full submission flow: fetch sequence, simulate,
// assemble with footprint and auth, sign, send, and poll for the result.
// Simulation failures come back as "simulation_failed:<reason>" errors,
// on-chain failures as "tx_failed:<reason>".
func (s *Submitter) invoke(ctx context.Context, fn string, args ...xdr.ScVal) (xdr.ScVal, string, error) {
	void := xdr.ScVal{Type: xdr.ScValTypeScvVoid}

	seq, err := s.accountSequence(ctx)
	if err != nil {
		return void, "", fmt.Errorf("fetch account sequence: %w", err)
	}

	simB64, err := buildInvokeTx(s.keypair.Address(), seq, s.contractID, fn, args, nil, nil, txnbuild.MinBaseFee)
	if err != nil {
		return void, "", err
	}

	sim, err := s.client.SimulateTransaction(ctx, simB64)
	if err != nil {
		return void, "", err
	}
	if sim.Error != "" {
		return void, "", fmt.Errorf("simulation_failed:%s", classifyContractError(sim.Error))
	}

	var sorobanData xdr.SorobanTransactionData
	if err := xdr.SafeUnmarshalBase64(sim.TransactionData, &sorobanData); err != nil {
		return void, "", fmt.Errorf("decode soroban data: %w", err)
	}

	var auth []xdr.SorobanAuthorizationEntry
	if len(sim.Results) > 0 {
		for _, a := range sim.Results[0].Auth {
			var entry xdr.SorobanAuthorizationEntry
			if err := xdr.SafeUnmarshalBase64(a, &entry); err != nil {
				return void, "", fmt.Errorf("decode auth entry: %w", err)
			}
			auth = append(auth, entry)
		}
	}

	minResourceFee, err := strconv.ParseInt(sim.MinResourceFee, 10, 64)
	if err != nil {
		return void, "", fmt.Errorf("parse min resource fee %q: %w", sim.MinResourceFee, err)
	}

	tx, err := newInvokeTx(s.keypair.Address(), seq, s.contractID, fn, args,
		auth, &sorobanData, txnbuild.MinBaseFee+minResourceFee)
	if err != nil {
		return void, "", err
	}
	tx, err = tx.Sign(s.passphrase, s.keypair)
	if err != nil {
		return void, "", fmt.Errorf("sign transaction: %w", err)
	}
	signedB64, err := tx.Base64()
	if err != nil {
		return void, "", err
	}

	send, err := s.client.SendTransaction(ctx, signedB64)
	if err != nil {
		return void, "", err
	}
	if send.Status == "ERROR" {
		return void, send.Hash, fmt.Errorf("tx_failed:%s", classifyContractError(send.ErrorResultXDR))
	}

	return s.awaitTransaction(ctx, send.Hash)
}

// awaitTransaction polls getTransaction until the tx leaves NOT_FOUND or
// the poll budget runs out.
func (s *Submitter) awaitTransaction(ctx context.Context, hash string) (xdr.ScVal, string, error) {
	void := xdr.ScVal{Type: xdr.ScValTypeScvVoid}
	deadline := time.Now().Add(txPollBudget)

	for {
		resp, err := s.client.GetTransaction(ctx, hash)
		if err != nil {
			return void, hash, err
		}

		switch resp.Status {
		case TxStatusSuccess:
			if resp.ReturnValue == "" {
				return void, hash, nil
			}
			retval, err := decodeScVal(resp.ReturnValue)
			if err != nil {
				return void, hash, fmt.Errorf("decode return value: %w", err)
			}
			return retval, hash, nil
		case TxStatusFailed:
			return void, hash, fmt.Errorf("tx_failed:%s", classifyContractError(resp.ResultXDR))
		}

		if time.Now().After(deadline) {
			return void, hash, fmt.Errorf("tx_failed:timeout waiting for %s", short(hash))
		}
		select {
		case <-ctx.Done():
			return void, hash, ctx.Err()
		case <-time.After(txPollInterval):
		}
	}
}

// accountSequence fetches the current sequence number of the signing
// account via getLedgerEntries.
func (s *Submitter) accountSequence(ctx context.Context) (int64, error) {
	accountID := xdr.MustAddress(s.keypair.Address())
	key := xdr.LedgerKey{
		Type:    xdr.LedgerEntryTypeAccount,
		Account: &xdr.LedgerKeyAccount{AccountId: accountID},
	}
	keyB64, err := xdr.MarshalBase64(key)
	if err != nil {
		return 0, err
	}

	resp, err := s.client.GetLedgerEntries(ctx, []string{keyB64})
	if err != nil {
		return 0, err
	}
	if len(resp.Entries) == 0 {
		return 0, fmt.Errorf("account %s not found on ledger", short(s.keypair.Address()))
	}

	var data xdr.LedgerEntryData
	if err := xdr.SafeUnmarshalBase64(resp.Entries[0].XDR, &data); err != nil {
		return 0, fmt.Errorf("decode account entry: %w", err)
	}
	if data.Account == nil {
		return 0, fmt.Errorf("ledger entry is not an account")
	}
	return int64(data.Account.SeqNum), nil
}

func short(s string) string {
	if len(s) > 16 {
		return s[:16]
	}
	return s
}
