package neo4j

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	syncpkg "github.com/surrealdb/surreal-sync/internal/sync"
)

func TestCapabilitiesNeverCaptureDeletes(t *testing.T) {
	a := &Adapter{cfg: Config{Labels: []string{"Person"}}}
	caps := a.Capabilities()
	assert.True(t, caps.SupportsFull)
	assert.True(t, caps.SupportsIncremental)
	assert.False(t, caps.CapturesDeletes)
}

func TestConfigDefaultsTimestampPropertyAndTimezone(t *testing.T) {
	var c Config
	assert.Equal(t, "updated_at", c.timestampProperty())
	assert.Equal(t, time.UTC, c.timezone())

	c.TimestampProperty = "modified"
	assert.Equal(t, "modified", c.timestampProperty())
}

func TestNeo4jTimeToGoHandlesPlainTime(t *testing.T) {
	now := time.Now().UTC()
	got := neo4jTimeToGo(now, time.UTC)
	assert.True(t, got.Equal(now))
}

func TestCheckpointLessOrdersTimestamps(t *testing.T) {
	earlier := syncpkg.Checkpoint{Kind: syncpkg.CheckpointTimestamp, Timestamp: time.Unix(1, 0)}
	later := syncpkg.Checkpoint{Kind: syncpkg.CheckpointTimestamp, Timestamp: time.Unix(2, 0)}
	assert.True(t, earlier.Less(later))
	assert.False(t, later.Less(earlier))
}
