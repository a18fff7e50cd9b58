package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// sessionRequest carries the common fields of every mutating API call.
// Round is only meaningful for answer submissions.
type sessionRequest struct {
	RoomID     string `json:"roomId"`
	PlayerName string `json:"playerName"`
	Round      int    `json:"round"`
	Answer     string `json:"answer"`
}

type answerResponse struct {
	Correct  bool     `json:"correct"`
	IsWinner bool     `json:"isWinner"`
	State    Snapshot `json:"state"`
}

type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeSessionRequest(w http.ResponseWriter, r *http.Request) (sessionRequest, bool) {
	var req sessionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid JSON body"})
		return req, false
	}

	req.RoomID = foldName(req.RoomID)
	if req.RoomID == "" {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "roomId is required"})
		return req, false
	}

	return req, true
}

// validationStatus maps the room's validation errors to response codes.
// Anything unrecognized falls through as a 400.
func validationStatus(err error) int {
	switch {
	case errors.Is(err, errNameTaken), errors.Is(err, errRoomFull), errors.Is(err, errWrongPhase):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func serveJoin(cfg *Config, reg *RoomRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		req, ok := decodeSessionRequest(w, r)
		if !ok {
			return
		}

		reg.reap()

		snap, err := reg.getOrCreate(req.RoomID).Join(req.PlayerName)
		if err != nil {
			writeJSON(w, validationStatus(err), apiError{Error: err.Error()})
			return
		}

		logf(cfg, "GAMES: Player %q joined %s from %s", strings.TrimSpace(req.PlayerName), req.RoomID, realIP(r))
		writeJSON(w, http.StatusOK, snap)
	}
}

func serveReady(cfg *Config, reg *RoomRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		req, ok := decodeSessionRequest(w, r)
		if !ok {
			return
		}

		room, ok := reg.lookup(req.RoomID)
		if !ok {
			writeJSON(w, http.StatusNotFound, apiError{Error: "unknown room"})
			return
		}

		snap, err := room.Ready(req.PlayerName)
		if err != nil {
			writeJSON(w, validationStatus(err), apiError{Error: err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, snap)
	}
}

func serveAnswer(cfg *Config, reg *RoomRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		req, ok := decodeSessionRequest(w, r)
		if !ok {
			return
		}
		if strings.TrimSpace(req.Answer) == "" {
			writeJSON(w, http.StatusBadRequest, apiError{Error: "answer is required"})
			return
		}

		room, ok := reg.lookup(req.RoomID)
		if !ok {
			writeJSON(w, http.StatusNotFound, apiError{Error: "unknown room"})
			return
		}

		result, snap, err := room.Answer(req.PlayerName, req.Round, req.Answer)
		if err != nil {
			writeJSON(w, validationStatus(err), apiError{Error: err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, answerResponse{
			Correct:  result.Correct,
			IsWinner: result.IsWinner,
			State:    snap,
		})
	}
}

func serveLeave(cfg *Config, reg *RoomRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		req, ok := decodeSessionRequest(w, r)
		if !ok {
			return
		}

		room, ok := reg.lookup(req.RoomID)
		if !ok {
			writeJSON(w, http.StatusNotFound, apiError{Error: "unknown room"})
			return
		}

		snap, err := room.Leave(req.PlayerName)
		if err != nil {
			writeJSON(w, validationStatus(err), apiError{Error: err.Error()})
			return
		}

		logf(cfg, "GAMES: Player %q left %s", strings.TrimSpace(req.PlayerName), req.RoomID)
		writeJSON(w, http.StatusOK, snap)
	}
}

func serveState(cfg *Config, reg *RoomRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		roomID := foldName(r.URL.Query().Get("roomId"))
		if roomID == "" {
			writeJSON(w, http.StatusBadRequest, apiError{Error: "roomId is required"})
			return
		}

		reg.reap()

		room, ok := reg.lookup(roomID)
		if !ok {
			writeJSON(w, http.StatusNotFound, apiError{Error: "unknown room"})
			return
		}

		writeJSON(w, http.StatusOK, room.State(r.URL.Query().Get("playerName")))
	}
}

// serveNewRoom redirects to a fresh, unused room ID so a share link can be
// minted without the client inventing one.
func serveNewRoom(cfg *Config, path string, reg *RoomRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		roomID := reg.newRoomID()
		logf(cfg, "GAMES: Minted room ID %s/%s", path, roomID)
		http.Redirect(w, r, path+"/"+roomID, http.StatusTemporaryRedirect)
	}
}

func serveRoomPage(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		io.WriteString(w, newPage("quizbox", "Room "+ps.ByName("roomid")))
	}
}

// serveRoomQR renders a PNG QR code of the room URL so the second player
// can join from a phone.
func serveRoomQR(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if ps.ByName("roomid") == "" {
			http.Error(w, "missing room id", http.StatusBadRequest)
			return
		}

		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		path := strings.TrimSuffix(r.URL.Path, "/qr")
		url := scheme + "://" + r.Host + path

		const qrSize = 320
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		_, _ = w.Write(png)
	}
}

// registerTriviaGame sets up the session API and per-room routes:
//   - /api/join|ready|answer|leave  → room mutations (POST, JSON)
//   - /api/state                    → pollable snapshot (GET)
//   - /play                        → redirect to a fresh random room
//   - /play/:roomid                → placeholder room page
//   - /play/:roomid/qr             → PNG QR code for the room URL
//   - /play/:roomid/ws             → read-only snapshot stream
func registerTriviaGame(cfg *Config, source QuestionSource, mux *httprouter.Router) *RoomRegistry {
	reg := newRoomRegistry(cfg, source)

	mux.POST(cfg.prefix+"/api/join", serveJoin(cfg, reg))
	mux.POST(cfg.prefix+"/api/ready", serveReady(cfg, reg))
	mux.POST(cfg.prefix+"/api/answer", serveAnswer(cfg, reg))
	mux.POST(cfg.prefix+"/api/leave", serveLeave(cfg, reg))
	mux.GET(cfg.prefix+"/api/state", serveState(cfg, reg))

	mux.GET(cfg.prefix+"/play", serveNewRoom(cfg, cfg.prefix+"/play", reg))
	mux.GET(cfg.prefix+"/play/:roomid", serveRoomPage(cfg))
	mux.GET(cfg.prefix+"/play/:roomid/qr", serveRoomQR(cfg))
	mux.GET(cfg.prefix+"/play/:roomid/ws", serveRoomStream(cfg, reg))

	return reg
}
