package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"digestbot/internal/resilience"
	"digestbot/internal/sources"
)

const (
	defaultBaseURL     = "https://api.deepseek.com"
	defaultModel       = "deepseek-chat"
	defaultTemperature = 0.7
)

// Config configures the chat-completions client.
type Config struct {
	BaseURL     string        // default defaultBaseURL
	APIKey      string        // required
	Model       string        // default defaultModel
	Timeout     time.Duration // per-request; default 60s
	MaxTokens   int           // default 1500
	Temperature *float64      // nil selects 0.7; 0 is a valid deterministic setting
}

// Client calls an OpenAI-compatible /chat/completions endpoint.
type Client struct {
	cfg  Config
	http *http.Client

	// now is swappable for tests (the system prompt embeds today's date).
	now func() time.Time
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("summarize: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1500
	}
	if cfg.Temperature == nil {
		t := defaultTemperature
		cfg.Temperature = &t
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		now:  time.Now,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Summarize submits items and returns the model's digest text.
func (c *Client) Summarize(ctx context.Context, items []sources.Item) (string, error) {
	if len(items) == 0 {
		return "", resilience.NoRetry(errors.New("summarize: no items"))
	}

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(c.now())},
			{Role: "user", Content: "Here is today's news. Create the digest:\n\n" + formatItemsForPrompt(items)},
		},
		Temperature: *c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", resilience.NoRetry(err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", resilience.NoRetry(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err // network-level: transient
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		return "", c.classifyHTTP(resp, raw)
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("summarize: decode response: %w", err)
	}
	if out.Error != nil {
		return "", resilience.NoRetry(fmt.Errorf("summarize: api error: %s", out.Error.Message))
	}
	if len(out.Choices) == 0 {
		return "", errors.New("summarize: empty choices")
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("summarize: empty completion")
	}
	return text, nil
}

// classifyHTTP maps status codes onto the retry taxonomy: 429 carries the
// server's Retry-After hint, 5xx stays transient, auth and other 4xx are
// fatal.
func (c *Client) classifyHTTP(resp *http.Response, raw []byte) error {
	err := fmt.Errorf("summarize: %s: %s", resp.Status, truncateBody(raw))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		var after time.Duration
		if secs, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil && secs > 0 {
			after = time.Duration(secs) * time.Second
		}
		return resilience.RetryAfter(err, after)
	case resp.StatusCode >= 500:
		return err
	default:
		return resilience.NoRetry(err)
	}
}

func truncateBody(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
