package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pintheon/pinner/internal/config"
	"github.com/pintheon/pinner/internal/store"
)

func TestApplyStoredOverrides(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer st.Close()

	// nothing persisted yet, the file config stands
	cfg := config.Default()
	cfg.Policy.MinPrice = 42
	applyStoredOverrides(cfg, st)
	assert.Equal(t, config.ModeAuto, cfg.Daemon.Mode)
	assert.Equal(t, int64(42), cfg.Policy.MinPrice)

	// operator-set values survive a restart
	require.NoError(t, st.SetDaemonConfig(config.ModeApprove, 9_000, 555))
	applyStoredOverrides(cfg, st)
	assert.Equal(t, config.ModeApprove, cfg.Daemon.Mode)
	assert.Equal(t, int64(9_000), cfg.Policy.MinPrice)
	assert.Equal(t, int64(555), cfg.IPFS.MaxContentSize)
}
