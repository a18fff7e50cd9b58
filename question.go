package main

import "context"

// Question is one round's trivia question as produced by a QuestionSource.
// The canonical answer lives in Key and is never sent to clients.
type Question struct {
	Text        string
	HostComment string
	Category    string
	Key         AnswerKey
	Winner      string
}

// AnswerKey is the opaque judging criterion handed back to the
// QuestionSource when a player submits an answer.
type AnswerKey struct {
	Question string
	Answer   string
}

// QuestionSource generates questions and judges free-text answers.
// Implementations may be slow or fail outright; callers bound every
// call with a context timeout and treat judge failures as "incorrect".
type QuestionSource interface {
	GenerateQuestion(ctx context.Context, recentCategories []string) (Question, error)
	Judge(ctx context.Context, key AnswerKey, submitted string) (bool, error)
}

// QuestionView is the client-facing slice of a Question.
type QuestionView struct {
	Text        string `json:"question"`
	HostComment string `json:"hostComment"`
	Category    string `json:"category"`
	Winner      string `json:"winner"`
}

func (q *Question) view() *QuestionView {
	if q == nil {
		return nil
	}
	return &QuestionView{
		Text:        q.Text,
		HostComment: q.HostComment,
		Category:    q.Category,
		Winner:      q.Winner,
	}
}
