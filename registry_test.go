package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryGetOrCreate(t *testing.T) {
	reg := newRoomRegistry(newTestConfig(), &MockQuestionSource{})

	room := reg.getOrCreate("arena")
	require.NotNil(t, room)
	assert.Same(t, room, reg.getOrCreate("arena"))

	_, ok := reg.lookup("arena")
	assert.True(t, ok)

	_, ok = reg.lookup("nowhere")
	assert.False(t, ok)
}

func TestRegistryReap(t *testing.T) {
	reg := newRoomRegistry(newTestConfig(), &MockQuestionSource{})
	clock := newFakeClock()

	stale := reg.getOrCreate("stale")
	stale.now = clock.now
	_, err := stale.Join("Ada")
	require.NoError(t, err)

	empty := reg.getOrCreate("empty")
	empty.now = clock.now

	live := reg.getOrCreate("live")
	live.now = clock.now

	clock.advance(2 * time.Minute)
	_, err = live.Join("Lin")
	require.NoError(t, err)

	reg.reap()

	_, ok := reg.lookup("stale")
	assert.False(t, ok, "room with only idle players is destroyed")

	_, ok = reg.lookup("empty")
	assert.False(t, ok, "room that never gained players is destroyed")

	room, ok := reg.lookup("live")
	require.True(t, ok, "room with a live player survives")
	assert.Len(t, room.State("Lin").Scores, 1)

	// reap is idempotent.
	reg.reap()
	_, ok = reg.lookup("live")
	assert.True(t, ok)
}

func TestRegistryReapAbortsShortCountdown(t *testing.T) {
	reg := newRoomRegistry(newTestConfig(), &MockQuestionSource{})
	clock := newFakeClock()

	room := reg.getOrCreate("arena")
	room.now = clock.now

	_, _ = room.Join("Ada")
	_, _ = room.Join("Lin")
	_, _ = room.Ready("Ada")
	_, err := room.Ready("Lin")
	require.NoError(t, err)
	require.Equal(t, "countdown", room.State("Lin").Phase)

	// Ada crosses the liveness window mid-countdown.
	room.mu.Lock()
	room.players["ada"].LastSeen = room.players["ada"].LastSeen.Add(-2 * time.Minute)
	room.mu.Unlock()

	reg.reap()

	snap := room.State("Lin")
	assert.Equal(t, "lobby", snap.Phase)
	assert.Len(t, snap.Scores, 1)
}

func TestRegistryNewRoomID(t *testing.T) {
	reg := newRoomRegistry(newTestConfig(), &MockQuestionSource{})

	seen := make(map[string]bool)
	for i := 0; i < 32; i++ {
		id := reg.newRoomID()
		assert.Len(t, id, 8)
		assert.False(t, seen[id], "room IDs should not repeat")
		seen[id] = true
	}
}
