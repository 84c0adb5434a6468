package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"carnival/db"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Difficulty levels accepted for trivia.
const (
	Easy   = "easy"
	Medium = "medium"
	Hard   = "hard"
)

// historyWindow is how many prior turns are sent with each chat message.
const historyWindow = 10

// NormalizeDifficulty maps anything unknown to Medium.
func NormalizeDifficulty(d string) string {
	switch d {
	case Easy, Medium, Hard:
		return d
	}
	return Medium
}

// Trivia is one generated multiple-choice question.
type Trivia struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
	Explanation   string   `json:"explanation"`
	FunFact       string   `json:"funFact"`
}

// Topic is a suggested trivia theme.
type Topic struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Icon        string `json:"icon"`
	Description string `json:"description"`
}

var topics = []Topic{
	{"carnaval-historia", "Carnival History 🎭", "🎭", "Origins and traditions"},
	{"musica-carnaval", "Carnival Music 🎵", "🎵", "Samba, murgas and comparsas"},
	{"disfraces", "Costumes 👗", "👗", "Traditional outfits and masks"},
	{"comida-carnaval", "Festive Food 🍰", "🍰", "Sweets and typical dishes"},
	{"carnavales-mundo", "Carnivals of the World 🌎", "🌎", "Rio, Venice and more"},
	{"cultura-popular", "Pop Culture 🎬", "🎬", "Carnival on film and TV"},
}

// Topics returns the fixed list of suggested trivia topics.
func Topics() []Topic {
	out := make([]Topic, len(topics))
	copy(out, topics)
	return out
}

const chatPrompt = `You are "Carnivalito" 🎭, the cheerful assistant of a carnival video voting site.

Personality: upbeat and playful, lots of emojis, always ties answers back to carnival.

Rules:
1. Keep replies short, three or four lines at most.
2. Use at least three emojis per reply.
3. When asked about videos, encourage people to vote.
4. When asked how the site works, explain it with enthusiasm. Each IP gets one vote per video.
5. When the topic has nothing to do with carnival or voting, steer back with humor.`

func triviaPrompt(topic, difficulty string) string {
	level := map[string]string{Easy: "easy", Medium: "medium difficulty", Hard: "hard"}[difficulty]
	return fmt.Sprintf(`You write carnival-themed trivia questions.
Write one %s question about %s. Make it fun and festive, with emojis.

Answer with strict JSON only, no other text:
{
  "question": "Question with emojis 🎭",
  "options": ["Option A", "Option B", "Option C", "Option D"],
  "correctAnswer": 0,
  "explanation": "Playful explanation",
  "funFact": "Related fun fact 🎉"
}`, level, topic)
}

// stripFences removes a surrounding markdown code block, if any.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ParseTrivia decodes a model reply into a Trivia, tolerating code fences.
func ParseTrivia(raw string) (*Trivia, error) {
	var t Trivia
	if err := json.Unmarshal([]byte(stripFences(raw)), &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadTrivia, err)
	}
	if t.Question == "" || len(t.Options) != 4 {
		return nil, fmt.Errorf("%w: want a question with 4 options", ErrBadTrivia)
	}
	if t.CorrectAnswer < 0 || t.CorrectAnswer >= len(t.Options) {
		return nil, fmt.Errorf("%w: correctAnswer %d out of range", ErrBadTrivia, t.CorrectAnswer)
	}
	return &t, nil
}

// Completer is the subset of Client the service needs.
type Completer interface {
	Complete(ctx context.Context, kind, system string, msgs []Message) (*Completion, error)
}

// Service builds prompts and stores chat turns.
type Service struct {
	LLM Completer
	DB  *db.CompatDB
}

// GenerateTrivia asks the model for one question on topic.
func (s *Service) GenerateTrivia(ctx context.Context, topic, difficulty string) (*Trivia, error) {
	difficulty = NormalizeDifficulty(difficulty)
	c, err := s.LLM.Complete(ctx, "trivia", triviaPrompt(topic, difficulty), []Message{
		{Role: "user", Content: "Write a trivia question about: " + topic},
	})
	if err != nil {
		return nil, err
	}
	return ParseTrivia(c.Content)
}

// ChatRequest is one user turn.
type ChatRequest struct {
	Message   string
	History   []Message
	SessionID string
	IP        string
}

// ChatReply is the assistant turn plus the session it belongs to.
type ChatReply struct {
	Response  string      `json:"response"`
	SessionID string      `json:"sessionId"`
	Usage     *TokenUsage `json:"usage,omitempty"`
}

// trimHistory keeps the last historyWindow user/assistant turns.
func trimHistory(h []Message) []Message {
	out := make([]Message, 0, len(h))
	for _, m := range h {
		if (m.Role == "user" || m.Role == "assistant") && strings.TrimSpace(m.Content) != "" {
			out = append(out, m)
		}
	}
	if len(out) > historyWindow {
		out = out[len(out)-historyWindow:]
	}
	return out
}

// Chat answers req and records the exchange under its session id, which is
// generated when absent. A failed write is logged; the reply is still
// returned.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatReply, error) {
	msgs := append(trimHistory(req.History), Message{Role: "user", Content: req.Message})
	c, err := s.LLM.Complete(ctx, "chat", chatPrompt, msgs)
	if err != nil {
		return nil, err
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	if s.DB != nil {
		if _, err := s.DB.ExecContext(ctx,
			`INSERT INTO chat_conversations (session_id, user_ip, message, response) VALUES (?, ?, ?, ?)`,
			sessionID, req.IP, req.Message, c.Content); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("store chat turn")
		}
	}
	return &ChatReply{Response: c.Content, SessionID: sessionID, Usage: c.Usage}, nil
}
