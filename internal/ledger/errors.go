package ledger

import (
	"fmt"
	"regexp"
)

// Contract error codes raised by the pin-service contract.
const (
	errNotPinner      = 1
	errPinnerInactive = 2
	errSlotNotActive  = 3
	errAlreadyClaimed = 4
	errSlotExpired    = 5
	errAlreadyFlagged = 6
)

var contractErrorNames = map[int]string{
	errNotPinner:      "not_pinner",
	errPinnerInactive: "pinner_inactive",
	errSlotNotActive:  "slot_not_active",
	errAlreadyClaimed: "already_claimed",
	errSlotExpired:    "slot_expired",
	errAlreadyFlagged: "already_flagged",
}

// Soroban diagnostics render contract failures as Error(Contract, #N).
var contractErrorRe = regexp.MustCompile(`Error\(Contract, #(\d+)\)`)

// classifyContractError maps an RPC error message to a stable reason
// string, or "unknown" when no contract error code is present.
func classifyContractError(msg string) string {
	m := contractErrorRe.FindStringSubmatch(msg)
	if m == nil {
		return "unknown"
	}
	var code int
	fmt.Sscanf(m[1], "%d", &code)
	if name, ok := contractErrorNames[code]; ok {
		return name
	}
	return "unknown"
}
