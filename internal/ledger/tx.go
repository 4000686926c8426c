package ledger

import (
	"fmt"

	"github.com/stellar/go/strkey"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"
)

const txTimeoutSecs = 300

// newInvokeTx assembles an unsigned transaction invoking one contract
// function. auth and sorobanData are nil before simulation; after
// simulation the caller rebuilds with the values the RPC returned.
func newInvokeTx(
	source string,
	sequence int64,
	contractID, fn string,
	args []xdr.ScVal,
	auth []xdr.SorobanAuthorizationEntry,
	sorobanData *xdr.SorobanTransactionData,
	baseFee int64,
) (*txnbuild.Transaction, error) {
	raw, err := strkey.Decode(strkey.VersionByteContract, contractID)
	if err != nil {
		return nil, fmt.Errorf("decode contract id: %w", err)
	}
	var cid xdr.ContractId
	copy(cid[:], raw)

	op := &txnbuild.InvokeHostFunction{
		SourceAccount: source,
		HostFunction: xdr.HostFunction{
			Type: xdr.HostFunctionTypeHostFunctionTypeInvokeContract,
			InvokeContract: &xdr.InvokeContractArgs{
				ContractAddress: xdr.ScAddress{
					Type:       xdr.ScAddressTypeScAddressTypeContract,
					ContractId: &cid,
				},
				FunctionName: xdr.ScSymbol(fn),
				Args:         args,
			},
		},
		Auth: auth,
	}
	if sorobanData != nil {
		op.Ext = xdr.TransactionExt{V: 1, SorobanData: sorobanData}
	}

	account := txnbuild.NewSimpleAccount(source, sequence)
	return txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &account,
		IncrementSequenceNum: true,
		Operations:           []txnbuild.Operation{op},
		BaseFee:              baseFee,
		Preconditions: txnbuild.Preconditions{
			TimeBounds: txnbuild.NewTimeout(txTimeoutSecs),
		},
	})
}

// buildInvokeTx is newInvokeTx plus base64 encoding, for simulation-only
// callers that never sign.
func buildInvokeTx(
	source string,
	sequence int64,
	contractID, fn string,
	args []xdr.ScVal,
	auth []xdr.SorobanAuthorizationEntry,
	sorobanData *xdr.SorobanTransactionData,
	baseFee int64,
) (string, error) {
	tx, err := newInvokeTx(source, sequence, contractID, fn, args, auth, sorobanData, baseFee)
	if err != nil {
		return "", err
	}
	return tx.Base64()
}
