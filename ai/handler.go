package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"carnival/activity"
	"carnival/httputil"
	"carnival/ratelimit"

	"github.com/rs/zerolog/log"
)

// KeyChecker reports whether the LLM key is set.
type KeyChecker interface {
	Configured(ctx context.Context) bool
}

// Handler serves /api/ai.
type Handler struct {
	AI       *Service
	Keys     KeyChecker
	Activity *activity.Log
}

// RequireConfigured answers 503 while no Groq key is set.
func (h *Handler) RequireConfigured(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Keys == nil || !h.Keys.Configured(r.Context()) {
			httputil.WriteError(w, 503, "AI service not configured, contact the administrator")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeLLMError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, ErrNotConfigured):
		httputil.WriteError(w, 503, "AI service not configured")
	case errors.Is(err, ErrBadTrivia):
		log.Warn().Err(err).Msg("unparseable trivia reply")
		httputil.WriteError(w, 502, "failed to process trivia question")
	case errors.Is(err, ErrUpstream):
		log.Warn().Err(err).Str("op", what).Msg("llm call failed")
		httputil.WriteError(w, 502, "failed to reach the AI service")
	default:
		log.Error().Err(err).Str("op", what).Msg("ai request failed")
		httputil.WriteError(w, 500, "failed to "+what)
	}
}

type triviaRequest struct {
	Topic      string `json:"topic"`
	Difficulty string `json:"difficulty"`
}

// HandleTrivia generates one trivia question.
func (h *Handler) HandleTrivia(w http.ResponseWriter, r *http.Request) {
	var req triviaRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, 400, "invalid request body")
		return
	}
	req.Topic = strings.TrimSpace(req.Topic)
	if req.Topic == "" {
		httputil.WriteError(w, 400, "topic is required")
		return
	}
	difficulty := NormalizeDifficulty(req.Difficulty)

	t, err := h.AI.GenerateTrivia(r.Context(), req.Topic, difficulty)
	if err != nil {
		writeLLMError(w, err, "generate trivia")
		return
	}
	h.Activity.RecordQuietly(r.Context(), activity.TriviaGenerated,
		map[string]string{"topic": req.Topic, "difficulty": difficulty},
		ratelimit.ClientIP(r), r.UserAgent())
	httputil.WriteJSON(w, 200, t)
}

type chatRequest struct {
	Message             string    `json:"message"`
	ConversationHistory []Message `json:"conversationHistory"`
	SessionID           string    `json:"sessionId"`
}

// HandleChat answers one chat message.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, 400, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		httputil.WriteError(w, 400, "message is required")
		return
	}

	ip := ratelimit.ClientIP(r)
	reply, err := h.AI.Chat(r.Context(), ChatRequest{
		Message:   req.Message,
		History:   req.ConversationHistory,
		SessionID: req.SessionID,
		IP:        ip,
	})
	if err != nil {
		writeLLMError(w, err, "process message")
		return
	}

	preview := req.Message
	if runes := []rune(preview); len(runes) > 100 {
		preview = string(runes[:100])
	}
	h.Activity.RecordQuietly(r.Context(), activity.ChatMessage,
		map[string]string{"message": preview, "sessionId": reply.SessionID}, ip, r.UserAgent())
	httputil.WriteJSON(w, 200, reply)
}

// HandleTopics lists suggested trivia topics.
func (h *Handler) HandleTopics(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, 200, Topics())
}

// HandleStats reports AI usage over the last week.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	u, err := h.Activity.AIUsage(r.Context(), 7)
	if err != nil {
		log.Error().Err(err).Msg("ai usage stats failed")
		httputil.WriteError(w, 500, "failed to load statistics")
		return
	}
	httputil.WriteJSON(w, 200, map[string]interface{}{
		"triviaQuestions": u.TriviaQuestions,
		"chatMessages":    u.ChatMessages,
		"period":          "last_7_days",
	})
}
