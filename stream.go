package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const streamInterval = time.Second

// serveRoomStream is a read-only convenience layer over the poll API: it
// samples the room's snapshot once per interval and pushes it whenever it
// changes. Room mutations still go through the POST endpoints, so the
// state-machine contracts are untouched.
func serveRoomStream(cfg *Config, reg *RoomRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		room, ok := reg.lookup(foldName(ps.ByName("roomid")))
		if !ok {
			http.Error(w, "unknown room", http.StatusNotFound)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "GAMES: Stream upgrade failed for %s: %v", room.id, err)
			return
		}
		defer conn.Close()

		// Reads are only consumed to notice the peer going away.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		player := r.URL.Query().Get("playerName")

		ticker := time.NewTicker(streamInterval)
		defer ticker.Stop()

		var last []byte
		for {
			snap := room.State(player)

			// NowMs ticks on every sample; exclude it from the change check
			// so an idle lobby stays quiet.
			stable := snap
			stable.NowMs = 0
			key, err := json.Marshal(stable)
			if err != nil {
				return
			}

			if !bytes.Equal(key, last) {
				raw, err := json.Marshal(snap)
				if err != nil {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(timeout))
				if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
					return
				}
				last = key
			}

			select {
			case <-closed:
				return
			case <-ticker.C:
			}
		}
	}
}
