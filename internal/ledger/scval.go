package ledger

import (
	"encoding/hex"
	"fmt"

	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
)

// decodeScVal parses a base64 XDR ScVal as returned in event topics and
// values.
func decodeScVal(b64 string) (xdr.ScVal, error) {
	var val xdr.ScVal
	if err := xdr.SafeUnmarshalBase64(b64, &val); err != nil {
		return val, fmt.Errorf("decode scval: %w", err)
	}
	return val, nil
}

// symbolXDR encodes a symbol as base64 XDR, the form getEvents topic
// filters expect.
func symbolXDR(s string) string {
	sym := xdr.ScSymbol(s)
	val := xdr.ScVal{Type: xdr.ScValTypeScvSymbol, Sym: &sym}
	out, err := xdr.MarshalBase64(val)
	if err != nil {
		// Symbols are compile-time constants here; encoding cannot fail.
		panic(err)
	}
	return out
}

// scvalSymbol extracts the symbol from a decoded topic ScVal.
func scvalSymbol(val xdr.ScVal) (string, bool) {
	if val.Type != xdr.ScValTypeScvSymbol || val.Sym == nil {
		return "", false
	}
	return string(*val.Sym), true
}

// mapField looks up a symbol-keyed field in an ScvMap event payload.
func mapField(val xdr.ScVal, key string) (xdr.ScVal, bool) {
	if val.Type != xdr.ScValTypeScvMap || val.Map == nil || *val.Map == nil {
		return xdr.ScVal{}, false
	}
	for _, entry := range **val.Map {
		if k, ok := scvalSymbol(entry.Key); ok && k == key {
			return entry.Val, true
		}
	}
	return xdr.ScVal{}, false
}

// scvalU64 reads a u64 or u32 value.
func scvalU64(val xdr.ScVal) (uint64, bool) {
	switch val.Type {
	case xdr.ScValTypeScvU64:
		if val.U64 != nil {
			return uint64(*val.U64), true
		}
	case xdr.ScValTypeScvU32:
		if val.U32 != nil {
			return uint64(*val.U32), true
		}
	}
	return 0, false
}

// scvalU32 reads a u32 value.
func scvalU32(val xdr.ScVal) (uint32, bool) {
	if val.Type == xdr.ScValTypeScvU32 && val.U32 != nil {
		return uint32(*val.U32), true
	}
	return 0, false
}

// scvalI64 reads an amount that may arrive as i128, i64, u64, or u32.
// Token amounts in this contract fit well inside int64; an i128 with a
// nonzero high word is treated as malformed.
func scvalI64(val xdr.ScVal) (int64, bool) {
	switch val.Type {
	case xdr.ScValTypeScvI128:
		if val.I128 == nil {
			return 0, false
		}
		parts := *val.I128
		// Hi 0 with a positive low word, or Hi -1 with a negative one,
		// means the value fits in int64.
		if parts.Hi == 0 && int64(parts.Lo) >= 0 {
			return int64(parts.Lo), true
		}
		if parts.Hi == -1 && int64(parts.Lo) < 0 {
			return int64(parts.Lo), true
		}
		return 0, false
	case xdr.ScValTypeScvI64:
		if val.I64 != nil {
			return int64(*val.I64), true
		}
	case xdr.ScValTypeScvU64:
		if val.U64 != nil {
			return int64(*val.U64), true
		}
	case xdr.ScValTypeScvU32:
		if val.U32 != nil {
			return int64(*val.U32), true
		}
	}
	return 0, false
}

// scvalString reads a string, symbol, or UTF-8 bytes value.
func scvalString(val xdr.ScVal) (string, bool) {
	switch val.Type {
	case xdr.ScValTypeScvString:
		if val.Str != nil {
			return string(*val.Str), true
		}
	case xdr.ScValTypeScvSymbol:
		if val.Sym != nil {
			return string(*val.Sym), true
		}
	case xdr.ScValTypeScvBytes:
		if val.Bytes != nil {
			return string(*val.Bytes), true
		}
	}
	return "", false
}

// scvalBytesHex reads a bytes value as lowercase hex.
func scvalBytesHex(val xdr.ScVal) (string, bool) {
	if val.Type != xdr.ScValTypeScvBytes || val.Bytes == nil {
		return "", false
	}
	return hex.EncodeToString(*val.Bytes), true
}

// scvalAddress reads an address value as a strkey string (G... or C...).
func scvalAddress(val xdr.ScVal) (string, bool) {
	if val.Type != xdr.ScValTypeScvAddress || val.Address == nil {
		return "", false
	}
	addr := *val.Address
	switch addr.Type {
	case xdr.ScAddressTypeScAddressTypeAccount:
		if addr.AccountId == nil {
			return "", false
		}
		return addr.AccountId.Address(), true
	case xdr.ScAddressTypeScAddressTypeContract:
		if addr.ContractId == nil {
			return "", false
		}
		raw := *addr.ContractId
		out, err := strkey.Encode(strkey.VersionByteContract, raw[:])
		if err != nil {
			return "", false
		}
		return out, true
	}
	return "", false
}

// ── ScVal builders for contract call arguments ─────────────

func u64Val(v uint64) xdr.ScVal {
	u := xdr.Uint64(v)
	return xdr.ScVal{Type: xdr.ScValTypeScvU64, U64: &u}
}

// addressVal builds an ScVal address argument from a strkey string.
func addressVal(address string) (xdr.ScVal, error) {
	var scAddr xdr.ScAddress
	switch {
	case strkey.IsValidEd25519PublicKey(address):
		accountID := xdr.MustAddress(address)
		scAddr = xdr.ScAddress{Type: xdr.ScAddressTypeScAddressTypeAccount, AccountId: &accountID}
	case strkey.IsValidContractAddress(address):
		raw, err := strkey.Decode(strkey.VersionByteContract, address)
		if err != nil {
			return xdr.ScVal{}, err
		}
		var contractID xdr.ContractId
		copy(contractID[:], raw)
		scAddr = xdr.ScAddress{Type: xdr.ScAddressTypeScAddressTypeContract, ContractId: &contractID}
	default:
		return xdr.ScVal{}, fmt.Errorf("invalid address %q", address)
	}
	return xdr.ScVal{Type: xdr.ScValTypeScvAddress, Address: &scAddr}, nil
}
