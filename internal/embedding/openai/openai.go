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

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"ragqa/internal/domain"
)

const providerName = "openai"

// Client is an OpenAI-compatible embeddings client implementing domain.Embedder.
// Failed calls are reported as *domain.ProviderError and are not retried.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	dimension   int
	batchSize   int
	concurrency int
	limiter     *rate.Limiter
	client      *http.Client
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL   string
	APIKey    string
	APIKeyEnv string
	Model     string
	Dimension int
	Timeout   time.Duration
	// BatchSize caps the number of inputs sent in one request.
	BatchSize int
	// Concurrency caps the number of requests in flight for one EmbedBatch call.
	Concurrency int
	// RequestsPerSecond throttles outgoing requests; zero disables the limit.
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// NewClient creates a new embeddings client using the provided configuration.
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
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
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
		dimension:   cfg.Dimension,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
		limiter:     lim,
		client:      hc,
	}, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return providerName }

// Dimension returns the expected dimensionality of the produced vectors.
func (c *Client) Dimension() int { return c.dimension }

// Embed returns an embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	vecs, err := c.request(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one embedding per input, in input order. Inputs are
// split into batches that are sent concurrently, bounded by Concurrency.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	if len(texts) == 0 {
		return out, nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		g.Go(func() error {
			vecs, err := c.request(gctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	// Ollama-native shape: { "embedding": [...] }
	Embedding []float64 `json:"embedding"`
}

func (c *Client) request(ctx context.Context, texts []string) ([][]float64, error) {
	vecs, err := c.do(ctx, texts)
	return vecs, domain.NewProviderError(providerName, "embeddings", err)
}

func (c *Client) do(ctx context.Context, texts []string) ([][]float64, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	body := map[string]any{"model": c.model, "input": texts}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(payload))
	}

	var out embeddingsResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	if len(out.Data) == 0 && len(out.Embedding) > 0 && len(texts) == 1 {
		return [][]float64{out.Embedding}, nil
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("malformed response: got %d embeddings for %d inputs", len(out.Data), len(texts))
	}
	vecs := make([][]float64, len(texts))
	for i, d := range out.Data {
		idx := d.Index
		// Some compatible servers omit index; fall back to position.
		if idx < 0 || idx >= len(vecs) || vecs[idx] != nil {
			idx = i
		}
		if len(d.Embedding) == 0 {
			return nil, errors.New("malformed response: empty embedding")
		}
		vecs[idx] = d.Embedding
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("malformed response: missing embedding for input %d", i)
		}
	}
	return vecs, nil
}
