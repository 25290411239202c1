package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"

	"ragqa/internal/domain"
	"ragqa/internal/generator"
)

const providerName = "openai"

// Client calls an OpenAI-compatible /chat/completions endpoint.
// Failed calls are reported as *domain.ProviderError and are not retried.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	limiter     *rate.Limiter
	http        *http.Client
}

// Config configures the chat-completions client.
type Config struct {
	BaseURL           string
	APIKey            string
	APIKeyEnv         string
	Model             string
	Temperature       float64
	MaxTokens         int
	Timeout           time.Duration
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// NewClient creates a chat-completions client.
func NewClient(cfg Config) (*Client, error) {
	key := cfg.APIKey
	if key == "" && cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("%w: missing API key in env %s", domain.ErrConfiguration, cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-3.5-turbo"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 300
	}
	t := cfg.Timeout
	if t == 0 {
		t = 60 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: t}
	}
	var lim *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		apiKey:      key,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		limiter:     lim,
		http:        hc,
	}, nil
}

func (c *Client) Name() string { return providerName }

// Complete sends prompt as a system + user message pair and returns the first choice.
func (c *Client) Complete(ctx context.Context, prompt generator.Prompt) (string, error) {
	text, err := c.complete(ctx, prompt)
	return text, domain.NewProviderError(providerName, "chat completion", err)
}

func (c *Client) complete(ctx context.Context, prompt generator.Prompt) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	var msgs []map[string]string
	if prompt.System != "" {
		msgs = append(msgs, map[string]string{"role": "system", "content": prompt.System})
	}
	msgs = append(msgs, map[string]string{"role": "user", "content": prompt.User})

	body := map[string]any{
		"model":       c.model,
		"messages":    msgs,
		"temperature": c.temperature,
		"max_tokens":  c.maxTokens,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(respBody))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("malformed response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", errors.New("malformed response: no choices")
	}
	return result.Choices[0].Message.Content, nil
}

var _ generator.Completer = (*Client)(nil)
