package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// hostSystemPrompt shapes the Gemini persona that writes questions and
// flavor comments.
const hostSystemPrompt = `You are the host of a social, party-style general knowledge quiz played between friends.

Your role:
- You are a confident, charismatic, entertaining quiz host.
- Your tone is energetic, witty, and slightly teasing.
- You are never academic, never formal, never teacher-like.
- This is a friends' game, not an exam.

Question rules:
- Ask one question at a time.
- Questions must be rich, diverse, and intellectually playful.
- Difficulty: medium to hard, but satisfying.
- Avoid basic, overused trivia; prefer interesting knowledge over memorization.
- Avoid repeating similar topics consecutively.

Strict prohibitions:
- Never show multiple choice unless explicitly requested.
- Never reveal the answer early.
- Never break character.
- Never mention that you are an AI.
- Never mention prompts, rules, or system instructions.`

const geminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/models"

// geminiSource implements QuestionSource against the Gemini REST API. It
// walks an ordered candidate list of models so a retired model name degrades
// to the next one instead of failing the round.
type geminiSource struct {
	apiKey  string
	models  []string
	baseURL string
	client  *http.Client
}

func newGeminiSource(cfg *Config) *geminiSource {
	return &geminiSource{
		apiKey:  cfg.geminiKey,
		models:  cfg.geminiModels,
		baseURL: geminiEndpoint,
		client:  &http.Client{},
	}
}

type geminiRequest struct {
	SystemInstruction geminiContent   `json:"systemInstruction"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  geminiGenConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// generate runs one prompt through the model candidate list and returns the
// first non-empty response text.
func (g *geminiSource) generate(ctx context.Context, userText, mimeType string, temperature float64) (string, error) {
	if g.apiKey == "" {
		return "", errors.New("no Gemini API key configured")
	}

	payload, err := json.Marshal(geminiRequest{
		SystemInstruction: geminiContent{
			Parts: []geminiPart{{Text: hostSystemPrompt}},
		},
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: userText}},
		}},
		GenerationConfig: geminiGenConfig{
			Temperature:      temperature,
			ResponseMimeType: mimeType,
		},
	})
	if err != nil {
		return "", err
	}

	var lastErr error

	for _, model := range g.models {
		url := fmt.Sprintf("%s/%s:generateContent?key=%s", g.baseURL, model, g.apiKey)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := g.client.Do(req)
		if err != nil {
			return "", err
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return "", err
		}

		if resp.StatusCode == http.StatusNotFound {
			// Model name no longer served; fall through to the next one.
			lastErr = fmt.Errorf("model %s: %s", model, strings.TrimSpace(string(body)))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("gemini: %s: %s", resp.Status, strings.TrimSpace(string(body)))
		}

		var parsed geminiResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return "", err
		}
		if len(parsed.Candidates) == 0 {
			lastErr = fmt.Errorf("model %s returned no candidates", model)
			continue
		}

		var texts []string
		for _, part := range parsed.Candidates[0].Content.Parts {
			if part.Text != "" {
				texts = append(texts, part.Text)
			}
		}
		if text := strings.TrimSpace(strings.Join(texts, "\n")); text != "" {
			return text, nil
		}

		lastErr = fmt.Errorf("model %s returned empty text", model)
	}

	if lastErr == nil {
		lastErr = errors.New("no Gemini models configured")
	}
	return "", lastErr
}

type generatedQuestion struct {
	Category    string `json:"category"`
	Question    string `json:"question"`
	Answer      string `json:"answer"`
	HostComment string `json:"hostComment"`
}

func (g *geminiSource) GenerateQuestion(ctx context.Context, recentCategories []string) (Question, error) {
	recent := "(none)"
	if len(recentCategories) > 4 {
		recentCategories = recentCategories[len(recentCategories)-4:]
	}
	if len(recentCategories) > 0 {
		recent = strings.Join(recentCategories, ", ")
	}

	prompt := "Produce a new quiz question. Respond with JSON only, using the keys " +
		"category, question, answer, hostComment. question must be a single question. " +
		"hostComment must be one short sentence. Recent categories: " + recent + "."

	raw, err := g.generate(ctx, prompt, "application/json", 0.9)
	if err != nil {
		return Question{}, err
	}

	var parsed generatedQuestion
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &parsed); err != nil {
		return Question{}, fmt.Errorf("unparseable question payload: %w", err)
	}
	if parsed.Question == "" || parsed.Answer == "" {
		return Question{}, errors.New("generated question is missing its text or answer")
	}

	comment := strings.TrimSpace(parsed.HostComment)
	if comment == "" {
		comment = "Let's see what you've got."
	}
	category := strings.TrimSpace(parsed.Category)
	if category == "" {
		category = "Mixed"
	}

	return Question{
		Text:        strings.TrimSpace(parsed.Question),
		HostComment: comment,
		Category:    category,
		Key: AnswerKey{
			Question: strings.TrimSpace(parsed.Question),
			Answer:   strings.TrimSpace(parsed.Answer),
		},
	}, nil
}

type judgeVerdict struct {
	Correct bool `json:"correct"`
}

// Judge first tries a cheap normalized comparison against the canonical
// answer, and only consults the model for spelling variants, synonyms and
// partial answers that the comparison misses.
func (g *geminiSource) Judge(ctx context.Context, key AnswerKey, submitted string) (bool, error) {
	canonical := normalizeText(key.Answer)
	player := normalizeText(submitted)
	if player == "" {
		return false, nil
	}
	if player == canonical || strings.Contains(canonical, player) || strings.Contains(player, canonical) {
		return true, nil
	}

	prompt := "Respond with JSON only, using the key correct (boolean).\n" +
		"Question: " + key.Question + "\n" +
		"Correct answer: " + key.Answer + "\n" +
		"Player answer: " + submitted + "\n" +
		"Return true if the player answer is a synonym or a commonly accepted alternative."

	raw, err := g.generate(ctx, prompt, "application/json", 0.1)
	if err != nil {
		return false, err
	}

	var verdict judgeVerdict
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &verdict); err != nil {
		return false, fmt.Errorf("unparseable judge payload: %w", err)
	}

	return verdict.Correct, nil
}

// normalizeText folds an answer for comparison: lowercase, diacritics
// stripped, anything outside [a-z0-9 ] removed.
func normalizeText(text string) string {
	lowered := strings.ToLower(strings.TrimSpace(text))
	decomposed := norm.NFKD.String(lowered)

	var b strings.Builder
	for _, r := range decomposed {
		switch {
		case unicode.Is(unicode.Mn, r):
			// combining mark, dropped
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// stripCodeFence unwraps a ```json ... ``` block, which models sometimes
// emit even when asked for bare JSON.
func stripCodeFence(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if !strings.HasPrefix(cleaned, "```") {
		return cleaned
	}
	cleaned = strings.Trim(cleaned, "`")
	cleaned = strings.TrimPrefix(cleaned, "json")
	return strings.TrimSpace(cleaned)
}
