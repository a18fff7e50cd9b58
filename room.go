// Quizbox trivia rooms
//
// Two players join a room, both press Ready, and a countdown starts. When it
// runs out, the host (a Gemini-backed persona) asks a free-text trivia
// question. The first player whose answer the host judges correct takes the
// round and a point; then everyone re-readies for the next round.
//
// Features:
// - Rooms are created lazily on first join and reaped once every player has
//   been idle past the liveness window
// - Phases: lobby -> countdown -> question -> round_end, advanced lazily from
//   wall-clock time on every request; no background tickers
// - All state transitions for one room are serialized behind a single mutex,
//   so concurrent ready votes and answer submissions resolve deterministically
//   in lock-acquisition order
// - Answers are judged outside the room lock (the judge may be slow); the
//   winner commit re-validates the round under the lock, so at most one
//   submission per round can win
// - Stale submissions (a previous round, or the wrong phase) are ignored
//   rather than rejected, since they are normal client races
// - A capped host/system event feed gives clients the play-by-play

package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type roomPhase int

const (
	phaseLobby roomPhase = iota
	phaseCountdown
	phaseQuestion
	phaseRoundEnd
)

func (p roomPhase) String() string {
	switch p {
	case phaseCountdown:
		return "countdown"
	case phaseQuestion:
		return "question"
	case phaseRoundEnd:
		return "round_end"
	default:
		return "lobby"
	}
}

const (
	// readyQuorum is how many simultaneously-ready players a round needs.
	readyQuorum = 2

	// maxEvents caps the per-room event backlog.
	maxEvents = 120

	// maxRecentCategories caps the rotation history fed to the generator.
	maxRecentCategories = 12
)

// Player holds one participant's server-side state.
type Player struct {
	Name     string
	Score    int
	Ready    bool
	LastSeen time.Time
}

// Event is one line of the host/system feed. IDs are monotonic per room so
// clients can render incrementally.
type Event struct {
	ID   int    `json:"id"`
	Role string `json:"role"`
	Text string `json:"text"`
}

// PlayerScore is the client-facing score entry.
type PlayerScore struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// Snapshot is the full client-facing room state, returned by every API call.
type Snapshot struct {
	Phase     string        `json:"phase"`
	Round     int           `json:"round"`
	Countdown int           `json:"countdown"`
	TimeLeft  int           `json:"timeLeft"`
	Scores    []PlayerScore `json:"scores"`
	Ready     []string      `json:"ready"`
	Events    []Event       `json:"events"`
	Question  *QuestionView `json:"question,omitempty"`
	Error     string        `json:"error,omitempty"`
	NowMs     int64         `json:"nowMs"`
}

// AnswerResult reports the outcome of a single answer submission.
type AnswerResult struct {
	Correct  bool
	IsWinner bool
}

// Room is one isolated play session. All exported methods serialize on mu;
// helpers suffixed Locked assume mu is already held.
type Room struct {
	id     string
	cfg    *Config
	source QuestionSource
	now    func() time.Time

	mu         sync.Mutex
	players    map[string]*Player
	phase      roomPhase
	deadline   time.Time
	round      int
	question   *Question
	events     []Event
	eventSeq   int
	lastError  string
	categories []string

	// Question-fetch bookkeeping. generating latches while a fetch is in
	// flight so concurrent polls don't trigger duplicates; fetchEpoch fences
	// off fetches started for an earlier, since-cancelled countdown;
	// fetchRetries bounds the automatic retry after a failed fetch.
	generating   bool
	fetchEpoch   int
	fetchRetries int
}

func newRoom(id string, cfg *Config, source QuestionSource) *Room {
	return &Room{
		id:      id,
		cfg:     cfg,
		source:  source,
		now:     time.Now,
		players: make(map[string]*Player),
	}
}

func foldName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Join creates or reattaches a player. A duplicate name is rejected only
// while its current holder is still live; joining with the name of a player
// who went silent reclaims that seat, score included.
func (r *Room) Join(name string) (Snapshot, error) {
	display := strings.TrimSpace(name)
	key := foldName(name)
	if key == "" {
		return Snapshot{}, errEmptyName
	}

	r.maybeFetchQuestion()

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.advanceLocked(now)

	if p, ok := r.players[key]; ok {
		if now.Sub(p.LastSeen) < r.cfg.playerTimeout {
			return r.snapshotLocked(now), errNameTaken
		}
		p.LastSeen = now
		r.addEventLocked("system", p.Name+" reconnected.")
		return r.snapshotLocked(now), nil
	}

	if len(r.players) >= r.cfg.roomCapacity {
		return r.snapshotLocked(now), errRoomFull
	}

	r.players[key] = &Player{
		Name:     display,
		LastSeen: now,
	}
	r.addEventLocked("system", display+" joined the room.")

	return r.snapshotLocked(now), nil
}

// Ready records a start vote. Once the quorum is reached the countdown
// begins. Repeat votes in the same phase are no-ops.
func (r *Room) Ready(name string) (Snapshot, error) {
	r.maybeFetchQuestion()

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.advanceLocked(now)

	p, ok := r.players[foldName(name)]
	if !ok {
		return r.snapshotLocked(now), errUnknownPlayer
	}
	p.LastSeen = now

	if r.phase != phaseLobby && r.phase != phaseRoundEnd {
		return r.snapshotLocked(now), errWrongPhase
	}

	if p.Ready {
		return r.snapshotLocked(now), nil
	}

	p.Ready = true
	r.addEventLocked("system", p.Name+" is ready.")

	if r.readyCountLocked() >= readyQuorum {
		r.enterCountdownLocked(now)
	}

	return r.snapshotLocked(now), nil
}

// Leave removes a player. Losing the ready quorum mid-countdown cancels the
// countdown and returns the room to the lobby.
func (r *Room) Leave(name string) (Snapshot, error) {
	r.maybeFetchQuestion()

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.advanceLocked(now)

	key := foldName(name)
	p, ok := r.players[key]
	if !ok {
		return r.snapshotLocked(now), errUnknownPlayer
	}

	delete(r.players, key)
	r.addEventLocked("system", p.Name+" left the room.")
	r.abortCountdownIfShortLocked()

	return r.snapshotLocked(now), nil
}

// Answer submits a guess for the given round. The judge call runs outside
// the room lock; the result is only applied if the same round is still open
// once the lock is reacquired, which makes the winner assignment atomic with
// respect to concurrent submissions.
func (r *Room) Answer(name string, round int, text string) (AnswerResult, Snapshot, error) {
	text = strings.TrimSpace(text)

	r.maybeFetchQuestion()

	r.mu.Lock()
	now := r.now()
	r.advanceLocked(now)

	p, ok := r.players[foldName(name)]
	if !ok {
		snap := r.snapshotLocked(now)
		r.mu.Unlock()
		return AnswerResult{}, snap, errUnknownPlayer
	}
	p.LastSeen = now

	if r.phase != phaseQuestion || r.question == nil || round != r.round {
		// Stale or mistimed submission; a normal client race, not an error.
		snap := r.snapshotLocked(now)
		r.mu.Unlock()
		return AnswerResult{}, snap, nil
	}

	key := r.question.Key
	r.addEventLocked("system", fmt.Sprintf("%s: %s", p.Name, text))
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.judgeTimeout)
	correct, err := r.source.Judge(ctx, key, text)
	cancel()
	if err != nil {
		// A slow or broken judge costs this submission, not the room.
		logf(r.cfg, "GAMES: Judge failed for %q in %s: %v", name, r.id, err)
		correct = false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now = r.now()
	r.advanceLocked(now)

	if r.phase != phaseQuestion || r.question == nil || round != r.round {
		// The round resolved while we were judging. A correct answer here
		// lost the race; report it as correct but not the winner.
		return AnswerResult{Correct: correct}, r.snapshotLocked(now), nil
	}

	winner, ok := r.players[foldName(name)]
	if !ok {
		return AnswerResult{}, r.snapshotLocked(now), errUnknownPlayer
	}

	if !correct {
		r.addEventLocked("host", winner.Name+", not this time. Keep going.")
		return AnswerResult{}, r.snapshotLocked(now), nil
	}

	r.question.Winner = winner.Name
	winner.Score++
	winner.LastSeen = now
	r.phase = phaseRoundEnd
	r.deadline = time.Time{}

	r.addEventLocked("host", fmt.Sprintf("Correct! %s takes round %d. (+1 point)", winner.Name, r.round))
	r.addEventLocked("host", "Score: "+r.scoreLineLocked())
	r.addEventLocked("host", "Everyone hit Ready for the next round.")

	logf(r.cfg, "GAMES: %q won round %d in %s", winner.Name, r.round, r.id)

	return AnswerResult{Correct: true, IsWinner: true}, r.snapshotLocked(now), nil
}

// State returns the current snapshot; a known playerName refreshes that
// player's liveness, which is what keeps polling clients from being reaped.
func (r *Room) State(name string) Snapshot {
	r.maybeFetchQuestion()

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.advanceLocked(now)

	if p, ok := r.players[foldName(name)]; ok {
		p.LastSeen = now
	}

	return r.snapshotLocked(now)
}

// reapIdle drops players who have been silent past the liveness window and
// reports whether the room is now empty and should be destroyed.
func (r *Room) reapIdle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.advanceLocked(now)

	for key, p := range r.players {
		if now.Sub(p.LastSeen) >= r.cfg.playerTimeout {
			delete(r.players, key)
			r.addEventLocked("system", p.Name+" timed out.")
		}
	}
	r.abortCountdownIfShortLocked()

	return len(r.players) == 0
}

// advanceLocked applies any pending wall-clock transitions. The only one
// that can be resolved entirely under the lock is the question deadline;
// countdown expiry needs a question fetch and is handled by
// maybeFetchQuestion before the lock is taken.
func (r *Room) advanceLocked(now time.Time) {
	if r.phase == phaseQuestion && !r.deadline.IsZero() && !now.Before(r.deadline) {
		r.phase = phaseRoundEnd
		r.deadline = time.Time{}
		r.addEventLocked("host", "Time! Nobody got that one.")
		r.addEventLocked("host", "Everyone hit Ready for the next round.")
	}
}

// maybeFetchQuestion turns an expired countdown into a question. The fetch
// itself happens with the lock released, so a slow generator never wedges
// the room; the commit re-validates that the same countdown is still the
// current one.
func (r *Room) maybeFetchQuestion() {
	r.mu.Lock()
	now := r.now()
	if r.phase != phaseCountdown || now.Before(r.deadline) || r.generating {
		r.mu.Unlock()
		return
	}
	r.generating = true
	epoch := r.fetchEpoch
	recent := append([]string(nil), r.categories...)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.generateTimeout)
	q, err := r.source.GenerateQuestion(ctx, recent)
	cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.generating = false
	if r.phase != phaseCountdown || epoch != r.fetchEpoch {
		// The countdown this fetch was serving no longer exists.
		return
	}

	now = r.now()

	if err != nil {
		logf(r.cfg, "GAMES: Question fetch failed in %s: %v", r.id, err)
		if r.fetchRetries == 0 {
			r.fetchRetries++
			r.deadline = now.Add(r.cfg.countdown)
			r.addEventLocked("host", "Hit a snag getting the next question. One more try...")
			return
		}
		r.phase = phaseLobby
		r.deadline = time.Time{}
		r.lastError = "the host could not come up with a question; try readying up again"
		r.addEventLocked("host", "The question well is dry for now. Ready up to try again.")
		return
	}

	r.round++
	r.phase = phaseQuestion
	r.deadline = now.Add(r.cfg.questionTime)
	q.Winner = ""
	r.question = &q
	r.lastError = ""

	if q.Category != "" {
		r.categories = append(r.categories, q.Category)
		if len(r.categories) > maxRecentCategories {
			r.categories = r.categories[len(r.categories)-maxRecentCategories:]
		}
	}

	r.addEventLocked("host", q.Text)
	if q.HostComment != "" {
		r.addEventLocked("host", q.HostComment)
	}

	logf(r.cfg, "GAMES: Round %d question served in %s", r.round, r.id)
}

// enterCountdownLocked starts a fresh countdown: ready flags reset, any
// displayed question is cleared, and the retry budget starts over.
func (r *Room) enterCountdownLocked(now time.Time) {
	r.phase = phaseCountdown
	r.deadline = now.Add(r.cfg.countdown)
	r.question = nil
	r.lastError = ""
	r.fetchRetries = 0
	r.fetchEpoch++
	for _, p := range r.players {
		p.Ready = false
	}

	r.addEventLocked("host", fmt.Sprintf("Round %d starting. %d seconds...",
		r.round+1, int(r.cfg.countdown.Seconds())))
}

// abortCountdownIfShortLocked cancels the countdown when the ready quorum
// has been lost, before its deadline has a chance to fire.
func (r *Room) abortCountdownIfShortLocked() {
	if r.phase != phaseCountdown {
		return
	}
	if len(r.players) >= readyQuorum {
		return
	}
	r.phase = phaseLobby
	r.deadline = time.Time{}
	r.fetchEpoch++
	r.addEventLocked("host", "Countdown cancelled; waiting for players.")
}

func (r *Room) readyCountLocked() int {
	count := 0
	for _, p := range r.players {
		if p.Ready {
			count++
		}
	}
	return count
}

func (r *Room) addEventLocked(role, text string) {
	r.eventSeq++
	r.events = append(r.events, Event{
		ID:   r.eventSeq,
		Role: role,
		Text: text,
	})
	if len(r.events) > maxEvents {
		r.events = r.events[len(r.events)-maxEvents:]
	}
}

func (r *Room) scoreLineLocked() string {
	scores := r.scoresLocked()
	parts := make([]string, 0, len(scores))
	for _, s := range scores {
		parts = append(parts, fmt.Sprintf("%s: %d", s.Name, s.Score))
	}
	return strings.Join(parts, " | ")
}

func (r *Room) scoresLocked() []PlayerScore {
	scores := make([]PlayerScore, 0, len(r.players))
	for _, p := range r.players {
		scores = append(scores, PlayerScore{
			Name:  p.Name,
			Score: p.Score,
		})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Name < scores[j].Name
	})
	return scores
}

func (r *Room) snapshotLocked(now time.Time) Snapshot {
	snap := Snapshot{
		Phase:    r.phase.String(),
		Round:    r.round,
		Scores:   r.scoresLocked(),
		Ready:    make([]string, 0, len(r.players)),
		Events:   append([]Event(nil), r.events...),
		Question: r.question.view(),
		Error:    r.lastError,
		NowMs:    now.UnixMilli(),
	}

	for _, p := range r.players {
		if p.Ready {
			snap.Ready = append(snap.Ready, p.Name)
		}
	}
	sort.Strings(snap.Ready)

	switch r.phase {
	case phaseCountdown:
		snap.Countdown = remainingSeconds(r.deadline, now)
	case phaseQuestion:
		snap.TimeLeft = remainingSeconds(r.deadline, now)
	}

	return snap
}

// remainingSeconds reports the whole seconds left until deadline, rounded
// up so a client never displays 0 while time remains.
func remainingSeconds(deadline, now time.Time) int {
	if deadline.IsZero() || !now.Before(deadline) {
		return 0
	}
	return int((deadline.Sub(now) + time.Second - 1) / time.Second)
}
