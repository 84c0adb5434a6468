// Package ai generates carnival trivia and chat replies through Groq's
// OpenAI-compatible chat completions endpoint.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"carnival/settings"

	"github.com/rs/zerolog/log"
)

var (
	ErrNotConfigured = errors.New("ai service not configured")
	ErrUpstream      = errors.New("llm request failed")
	ErrBadTrivia     = errors.New("could not parse trivia question")
)

const (
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	DefaultModel   = "llama-3.3-70b-versatile"
	DefaultTimeout = 30 * time.Second
)

// Credentials resolves the API key at call time.
type Credentials interface {
	Get(ctx context.Context, key string) (string, error)
}

// Observer receives one outcome per completion call.
type Observer interface {
	ObserveLLM(kind, outcome string)
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TokenUsage is the usage block returned by the API.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the first choice of a chat completion.
type Completion struct {
	Content string
	Usage   *TokenUsage
}

// Client calls the chat completions endpoint.
type Client struct {
	Creds    Credentials
	BaseURL  string
	Model    string
	HTTP     *http.Client
	Timeout  time.Duration
	Observer Observer
}

func (c *Client) baseURL() string {
	if u := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/"); u != "" {
		return u
	}
	return DefaultBaseURL
}

func (c *Client) model() string {
	if c.Model != "" {
		return c.Model
	}
	return DefaultModel
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) observe(kind, outcome string) {
	if c.Observer != nil {
		c.Observer.ObserveLLM(kind, outcome)
	}
}

func (c *Client) apiKey(ctx context.Context) (string, error) {
	if c.Creds == nil {
		return "", ErrNotConfigured
	}
	key, err := c.Creds.Get(ctx, settings.KeyGroq)
	if err != nil {
		return "", fmt.Errorf("read groq key: %w", err)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrNotConfigured
	}
	return key, nil
}

// Configured reports whether a Groq key is currently set.
func (c *Client) Configured(ctx context.Context) bool {
	_, err := c.apiKey(ctx)
	return err == nil
}

// Complete sends system plus msgs and returns the first choice. kind labels
// the call for metrics.
func (c *Client) Complete(ctx context.Context, kind, system string, msgs []Message) (*Completion, error) {
	out, err := c.complete(ctx, system, msgs)
	switch {
	case errors.Is(err, ErrNotConfigured):
		c.observe(kind, "not_configured")
	case err != nil:
		c.observe(kind, "error")
	default:
		c.observe(kind, "ok")
	}
	return out, err
}

func (c *Client) complete(ctx context.Context, system string, msgs []Message) (*Completion, error) {
	key, err := c.apiKey(ctx)
	if err != nil {
		return nil, err
	}

	all := make([]Message, 0, len(msgs)+1)
	if system != "" {
		all = append(all, Message{Role: "system", Content: system})
	}
	all = append(all, msgs...)

	reqBody, err := json.Marshal(map[string]interface{}{
		"model":       c.model(),
		"messages":    all,
		"temperature": 0.8,
		"max_tokens":  1024,
		"top_p":       0.9,
	})
	if err != nil {
		return nil, err
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL()+"/chat/completions", strings.NewReader(string(reqBody)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(body, &apiErr)
		log.Warn().Int("status", resp.StatusCode).Str("detail", apiErr.Error.Message).Msg("groq request failed")
		if apiErr.Error.Message != "" {
			return nil, fmt.Errorf("%w: status=%d: %s", ErrUpstream, resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("%w: status=%d", ErrUpstream, resp.StatusCode)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage *TokenUsage `json:"usage"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUpstream, err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrUpstream)
	}
	return &Completion{
		Content: strings.TrimSpace(result.Choices[0].Message.Content),
		Usage:   result.Usage,
	}, nil
}

// Probe sends a minimal prompt to verify the key works.
func (c *Client) Probe(ctx context.Context) error {
	_, err := c.Complete(ctx, "probe", "", []Message{{Role: "user", Content: "Reply with OK."}})
	return err
}
