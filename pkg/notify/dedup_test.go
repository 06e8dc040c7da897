package notify

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeduplicatorRecordsOnFirstSight(t *testing.T) {
	dedup := NewMemoryDeduplicator()

	assert.False(t, dedup.Seen("user@example.com", "100"))
	assert.True(t, dedup.Seen("user@example.com", "100"))

	// Different cursor or user is a different key.
	assert.False(t, dedup.Seen("user@example.com", "101"))
	assert.False(t, dedup.Seen("other@example.com", "100"))
}

func TestDeduplicatorBulkClearsWhenFull(t *testing.T) {
	dedup := NewMemoryDeduplicator()

	assert.False(t, dedup.Seen("user@example.com", "first"))
	for i := 0; i < dedupCapacity-1; i++ {
		dedup.Seen("user@example.com", fmt.Sprintf("cursor-%d", i))
	}

	// The cache is now full; the next insert clears everything, so the
	// first key is forgotten and reported as unseen again.
	assert.False(t, dedup.Seen("user@example.com", "overflow"))
	assert.False(t, dedup.Seen("user@example.com", "first"))
}
