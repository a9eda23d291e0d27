package leader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigKeyNamespacesBySlot(t *testing.T) {
	cfg := DefaultConfig("mongo:orders/incremental")
	assert.Equal(t, "surreal-sync:slot-lock:mongo:orders/incremental", cfg.key())
}

func TestDefaultConfigSetsSaneTimers(t *testing.T) {
	cfg := DefaultConfig("slot")
	assert.Equal(t, 30*time.Second, cfg.TTL)
	assert.Equal(t, 10*time.Second, cfg.RefreshInterval)
	assert.NotEmpty(t, cfg.InstanceID)
}
