package main

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

// --- QuestionSource ---

type MockQuestionSource struct {
	mock.Mock
}

func (m *MockQuestionSource) GenerateQuestion(ctx context.Context, recentCategories []string) (Question, error) {
	args := m.Called(ctx, recentCategories)
	return args.Get(0).(Question), args.Error(1)
}

func (m *MockQuestionSource) Judge(ctx context.Context, key AnswerKey, submitted string) (bool, error) {
	args := m.Called(ctx, key, submitted)
	return args.Bool(0), args.Error(1)
}

// --- Clock ---

// fakeClock lets tests drive the lazy deadline evaluation deterministically.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, time.March, 14, 15, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// --- Fixtures ---

func newTestConfig() *Config {
	return &Config{
		countdown:       10 * time.Second,
		generateTimeout: time.Second,
		judgeTimeout:    time.Second,
		playerTimeout:   90 * time.Second,
		questionTime:    45 * time.Second,
		roomCapacity:    2,
	}
}

func newTestRoom(source QuestionSource) (*Room, *fakeClock) {
	clock := newFakeClock()
	room := newRoom("arena", newTestConfig(), source)
	room.now = clock.now
	return room, clock
}

func sampleQuestion() Question {
	return Question{
		Text:        "Which city sits on two continents?",
		HostComment: "A classic, but can you spell it?",
		Category:    "Geography",
		Key: AnswerKey{
			Question: "Which city sits on two continents?",
			Answer:   "Istanbul",
		},
	}
}
