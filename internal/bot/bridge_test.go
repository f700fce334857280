package bot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridge_TakeRemovesPending(t *testing.T) {
	b := NewBridge(time.Minute)
	b.ExpectReply(10, 100)

	p, ok := b.Take(10)
	require.True(t, ok)
	assert.Equal(t, pendingReply, p.kind)
	assert.Equal(t, int64(100), p.parentID)

	_, ok = b.Take(10)
	assert.False(t, ok, "pending must be consumed by the first take")
}

func TestBridge_LastWriterWins(t *testing.T) {
	b := NewBridge(time.Minute)
	b.ExpectReply(10, 100)
	b.ExpectPost(10, 2)

	p, ok := b.Take(10)
	require.True(t, ok)
	assert.Equal(t, pendingPost, p.kind)
	assert.Equal(t, 2, p.topicID)
}

func TestBridge_ExpiredPendingIsDropped(t *testing.T) {
	b := NewBridge(10 * time.Millisecond)
	b.ExpectReply(10, 100)

	time.Sleep(20 * time.Millisecond)
	_, ok := b.Take(10)
	assert.False(t, ok)
}

func TestBridge_ClearCancelsDialog(t *testing.T) {
	b := NewBridge(time.Minute)
	b.ExpectQuitDate(10)
	b.Clear(10)

	_, ok := b.Take(10)
	assert.False(t, ok)
}

func TestBridge_IsolatedPerUser(t *testing.T) {
	b := NewBridge(time.Minute)
	b.ExpectReply(10, 100)
	b.ExpectPost(20, 3)

	p10, ok := b.Take(10)
	require.True(t, ok)
	assert.Equal(t, pendingReply, p10.kind)

	p20, ok := b.Take(20)
	require.True(t, ok)
	assert.Equal(t, pendingPost, p20.kind)
}

func TestBridge_SweepDropsOnlyExpired(t *testing.T) {
	b := NewBridge(30 * time.Millisecond)
	b.ExpectReply(10, 100)
	time.Sleep(40 * time.Millisecond)
	b.ExpectReply(20, 200)

	b.sweep()

	_, ok := b.Take(10)
	assert.False(t, ok)
	_, ok = b.Take(20)
	assert.True(t, ok)
}
