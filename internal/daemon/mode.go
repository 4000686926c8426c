package daemon

import (
	"fmt"
	"log"
	"sync"

	"github.com/pintheon/pinner/internal/config"
)

// ModeController holds the daemon's operating mode. Persisting a mode
// change is the caller's concern; the controller only guards the
// in-memory value.
type ModeController struct {
	mu     sync.RWMutex
	mode   string
	logger *log.Logger
}

// NewModeController returns a controller starting in the given mode.
func NewModeController(initial string) *ModeController {
	return &ModeController{
		mode:   initial,
		logger: log.New(log.Writer(), "[MODE] ", log.LstdFlags),
	}
}

// Mode returns the current operating mode.
func (m *ModeController) Mode() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// SetMode switches the operating mode. Unknown modes are rejected.
func (m *ModeController) SetMode(mode string) error {
	if !config.ValidMode(mode) {
		return fmt.Errorf("invalid mode: %q", mode)
	}
	m.mu.Lock()
	old := m.mode
	m.mode = mode
	m.mu.Unlock()
	if old != mode {
		m.logger.Printf("mode changed: %s -> %s", old, mode)
	}
	return nil
}
