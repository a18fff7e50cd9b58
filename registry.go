package main

import (
	"crypto/rand"
	"sync"
)

// RoomRegistry owns every live room, keyed by lowercased room ID. Rooms are
// created lazily on the join path and destroyed only by reap, never by the
// rooms themselves. Lock ordering is always registry before room.
type RoomRegistry struct {
	mu     sync.Mutex
	rooms  map[string]*Room
	cfg    *Config
	source QuestionSource
}

func newRoomRegistry(cfg *Config, source QuestionSource) *RoomRegistry {
	return &RoomRegistry{
		rooms:  make(map[string]*Room),
		cfg:    cfg,
		source: source,
	}
}

// getOrCreate returns the room for id, creating it on first access.
func (reg *RoomRegistry) getOrCreate(id string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if room, ok := reg.rooms[id]; ok {
		return room
	}

	room := newRoom(id, reg.cfg, reg.source)
	reg.rooms[id] = room
	logf(reg.cfg, "GAMES: Created room %s", id)
	return room
}

// lookup returns the room for id without creating one.
func (reg *RoomRegistry) lookup(id string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[id]
	return room, ok
}

// reap drops idle players from every room and deletes rooms left with no
// live players. It is idempotent and cheap, so request handlers run it
// opportunistically instead of a background sweeper.
func (reg *RoomRegistry) reap() {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for id, room := range reg.rooms {
		if room.reapIdle() {
			delete(reg.rooms, id)
			logf(reg.cfg, "GAMES: Reaped room %s", id)
		}
	}
}

// newRoomID generates a crypto-random room ID that doesn't collide with
// any existing room.
func (reg *RoomRegistry) newRoomID() string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		reg.mu.Lock()
		_, exists := reg.rooms[id]
		reg.mu.Unlock()

		if !exists {
			return id
		}
	}
}
