package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilitiesHaveNoFullOrExplicitTo(t *testing.T) {
	a := &Adapter{cfg: Config{Topic: "events"}}
	caps := a.Capabilities()
	assert.False(t, caps.SupportsFull)
	assert.True(t, caps.SupportsIncremental)
	assert.False(t, caps.SupportsTo)
}

func TestConfigDefaultsIDField(t *testing.T) {
	var c Config
	assert.Equal(t, "id", c.idField())
	c.IDField = "user_id"
	assert.Equal(t, "user_id", c.idField())
}

func TestLastSegmentExtractsMessageName(t *testing.T) {
	assert.Equal(t, "Event", lastSegment("myapp.events.v1.Event"))
	assert.Equal(t, "Event", lastSegment("Event"))
}

func TestCloneOffsetsCopiesMap(t *testing.T) {
	src := map[int32]int64{0: 10, 1: 20}
	dst := cloneOffsets(src)
	dst[0] = 99
	assert.Equal(t, int64(10), src[0])
	assert.Equal(t, int64(99), dst[0])
}
