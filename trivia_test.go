package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, source QuestionSource) (*httptest.Server, *Config) {
	t.Helper()

	cfg := newTestConfig()
	cfg.countdown = 50 * time.Millisecond
	cfg.questionTime = 5 * time.Second

	mux := httprouter.New()
	registerTriviaGame(cfg, source, mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv, cfg
}

func postJSON(t *testing.T, srv *httptest.Server, path string, payload any) (*http.Response, []byte) {
	t.Helper()

	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	resp, err := srv.Client().Post(srv.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)

	return resp, body.Bytes()
}

func getJSON(t *testing.T, srv *httptest.Server, path string) (*http.Response, []byte) {
	t.Helper()

	resp, err := srv.Client().Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)

	return resp, body.Bytes()
}

func TestSessionAPIFullRound(t *testing.T) {
	source := &MockQuestionSource{}
	source.On("GenerateQuestion", mock.Anything, mock.Anything).Return(sampleQuestion(), nil).Once()
	source.On("Judge", mock.Anything, mock.Anything, "Istanbul").Return(true, nil).Once()

	srv, cfg := newTestServer(t, source)

	for _, name := range []string{"Ada", "Lin"} {
		resp, body := postJSON(t, srv, "/api/join", sessionRequest{RoomID: "Arena", PlayerName: name})
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	}

	resp, _ := postJSON(t, srv, "/api/ready", sessionRequest{RoomID: "arena", PlayerName: "Ada"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := postJSON(t, srv, "/api/ready", sessionRequest{RoomID: "arena", PlayerName: "Lin"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, "countdown", snap.Phase)

	// Let the countdown lapse; the next poll fetches the question.
	time.Sleep(2 * cfg.countdown)

	resp, body = getJSON(t, srv, "/api/state?roomId=arena&playerName=Ada")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &snap))
	require.Equal(t, "question", snap.Phase)
	require.Equal(t, 1, snap.Round)
	require.NotNil(t, snap.Question)
	assert.Equal(t, "Which city sits on two continents?", snap.Question.Text)

	resp, body = postJSON(t, srv, "/api/answer", sessionRequest{
		RoomID:     "arena",
		PlayerName: "Ada",
		Round:      snap.Round,
		Answer:     "Istanbul",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result answerResponse
	require.NoError(t, json.Unmarshal(body, &result))
	assert.True(t, result.Correct)
	assert.True(t, result.IsWinner)
	assert.Equal(t, "round_end", result.State.Phase)
	require.NotNil(t, result.State.Question)
	assert.Equal(t, "Ada", result.State.Question.Winner)
	assert.Equal(t, PlayerScore{Name: "Ada", Score: 1}, result.State.Scores[0])

	source.AssertExpectations(t)
}

func TestSessionAPIValidation(t *testing.T) {
	source := &MockQuestionSource{}
	srv, _ := newTestServer(t, source)

	resp, _ := postJSON(t, srv, "/api/join", sessionRequest{RoomID: "", PlayerName: "Ada"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = postJSON(t, srv, "/api/join", sessionRequest{RoomID: "arena", PlayerName: " "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = postJSON(t, srv, "/api/join", sessionRequest{RoomID: "arena", PlayerName: "Ada"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := postJSON(t, srv, "/api/join", sessionRequest{RoomID: "arena", PlayerName: "ada"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var apiErr apiError
	require.NoError(t, json.Unmarshal(body, &apiErr))
	assert.NotEmpty(t, apiErr.Error)

	resp, _ = postJSON(t, srv, "/api/join", sessionRequest{RoomID: "arena", PlayerName: "Lin"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = postJSON(t, srv, "/api/join", sessionRequest{RoomID: "arena", PlayerName: "Sam"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Non-join calls never create rooms.
	resp, _ = postJSON(t, srv, "/api/ready", sessionRequest{RoomID: "nowhere", PlayerName: "Ada"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = postJSON(t, srv, "/api/leave", sessionRequest{RoomID: "nowhere", PlayerName: "Ada"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = getJSON(t, srv, "/api/state?roomId=nowhere")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = getJSON(t, srv, "/api/state")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = postJSON(t, srv, "/api/answer", sessionRequest{RoomID: "arena", PlayerName: "Ada", Round: 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionAPILeaveAbortsCountdown(t *testing.T) {
	source := &MockQuestionSource{}
	srv, _ := newTestServer(t, source)

	for _, name := range []string{"Ada", "Lin"} {
		postJSON(t, srv, "/api/join", sessionRequest{RoomID: "arena", PlayerName: name})
		postJSON(t, srv, "/api/ready", sessionRequest{RoomID: "arena", PlayerName: name})
	}

	resp, body := postJSON(t, srv, "/api/leave", sessionRequest{RoomID: "arena", PlayerName: "Lin"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, "lobby", snap.Phase)
	assert.Len(t, snap.Scores, 1)

	source.AssertNotCalled(t, "GenerateQuestion", mock.Anything, mock.Anything)
}

func TestServeNewRoomRedirect(t *testing.T) {
	source := &MockQuestionSource{}
	srv, _ := newTestServer(t, source)

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Get(srv.URL + "/play")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)

	location := resp.Header.Get("Location")
	require.Regexp(t, `^/play/[a-z0-9]{8}$`, location)
}

func TestServeRoomQR(t *testing.T) {
	source := &MockQuestionSource{}
	srv, _ := newTestServer(t, source)

	resp, body := getJSON(t, srv, "/play/arena/qr")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(body, []byte("\x89PNG")), "response should be a PNG")
}

func TestSessionAPIStaleAnswerAfterWin(t *testing.T) {
	source := &MockQuestionSource{}
	source.On("GenerateQuestion", mock.Anything, mock.Anything).Return(sampleQuestion(), nil).Once()
	source.On("Judge", mock.Anything, mock.Anything, "Istanbul").Return(true, nil).Once()

	srv, cfg := newTestServer(t, source)

	for _, name := range []string{"Ada", "Lin"} {
		postJSON(t, srv, "/api/join", sessionRequest{RoomID: "arena", PlayerName: name})
		postJSON(t, srv, "/api/ready", sessionRequest{RoomID: "arena", PlayerName: name})
	}
	time.Sleep(2 * cfg.countdown)
	getJSON(t, srv, fmt.Sprintf("/api/state?roomId=arena&playerName=%s", "Ada"))

	_, body := postJSON(t, srv, "/api/answer", sessionRequest{RoomID: "arena", PlayerName: "Ada", Round: 1, Answer: "Istanbul"})
	var result answerResponse
	require.NoError(t, json.Unmarshal(body, &result))
	require.True(t, result.IsWinner)

	// Lin's answer arrives after the round has been decided.
	_, body = postJSON(t, srv, "/api/answer", sessionRequest{RoomID: "arena", PlayerName: "Lin", Round: 1, Answer: "Ankara"})
	require.NoError(t, json.Unmarshal(body, &result))
	assert.False(t, result.Correct)
	assert.False(t, result.IsWinner)

	for _, score := range result.State.Scores {
		if score.Name == "Lin" {
			assert.Zero(t, score.Score)
		}
	}

	source.AssertExpectations(t)
}
