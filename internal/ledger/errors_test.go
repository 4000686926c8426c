package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyContractError(t *testing.T) {
	cases := []struct {
		name string
		msg  string
		want string
	}{
		{"not pinner", "HostError: Error(Contract, #1)", "not_pinner"},
		{"pinner inactive", "HostError: Error(Contract, #2)", "pinner_inactive"},
		{"slot not active", "HostError: Error(Contract, #3)", "slot_not_active"},
		{"already claimed", "transaction simulation failed: Error(Contract, #4) caused by...", "already_claimed"},
		{"slot expired", "Error(Contract, #5)", "slot_expired"},
		{"already flagged", "Error(Contract, #6)", "already_flagged"},
		{"unknown code", "Error(Contract, #99)", "unknown"},
		{"no contract error", "connection refused", "unknown"},
		{"empty", "", "unknown"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classifyContractError(tc.msg))
		})
	}
}
