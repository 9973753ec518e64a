// Package embedding wraps the sentence-embedding service that turns document
// text into unit-normalized vectors. The service hosts a multilingual model
// behind a text-embeddings-inference compatible HTTP API; this client is the
// only component that talks to it.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strings"
	"sync"

	"github.com/vitrine-studio/vitrine/config"
)

// Provider turns batches of text into fixed-dimension unit vectors.
// Implementations are loaded lazily on first use and reused for the process
// lifetime; a provider that fails to load is a configuration error, not a
// retryable condition.
type Provider interface {
	// EnsureLoaded verifies the backing model is reachable. Safe to call
	// repeatedly; the check runs once.
	EnsureLoaded(ctx context.Context) error
	// Embed returns one unit-normalized vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions reports the vector dimension.
	Dimensions() int
}

// Client is the HTTP Provider implementation.
type Client struct {
	cfg        config.EmbeddingConfig
	httpClient *http.Client
	logger     *log.Logger

	loadOnce sync.Once
	loadErr  error
}

// NewClient builds an embedding client from config. The model service is not
// contacted until EnsureLoaded or the first Embed call.
func NewClient(cfg config.EmbeddingConfig, logger *log.Logger) *Client {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[EMBED] ", log.LstdFlags)
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Dimensions reports the configured vector dimension.
func (c *Client) Dimensions() int { return c.cfg.Dimensions }

// EnsureLoaded checks the embedding service once and caches the outcome. A
// failure here means no query or load can proceed.
func (c *Client) EnsureLoaded(ctx context.Context) error {
	c.loadOnce.Do(func() {
		c.logger.Printf("checking embedding service at %s", c.cfg.BaseURL)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.cfg.BaseURL, "/")+"/info", nil)
		if err != nil {
			c.loadErr = fmt.Errorf("build info request: %w", err)
			return
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.loadErr = fmt.Errorf("embedding service unreachable: %w", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			c.loadErr = fmt.Errorf("embedding service returned status %d", resp.StatusCode)
			return
		}
		var info struct {
			ModelID string `json:"model_id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
			c.loadErr = fmt.Errorf("decode service info: %w", err)
			return
		}
		if c.cfg.Model != "" && info.ModelID != "" && !strings.Contains(info.ModelID, c.cfg.Model) {
			c.loadErr = fmt.Errorf("embedding service hosts %q, want %q", info.ModelID, c.cfg.Model)
			return
		}
		c.logger.Printf("embedding model ready (%s, %d dimensions)", info.ModelID, c.cfg.Dimensions)
	})
	return c.loadErr
}

// Embed embeds texts in fixed-size batches and normalizes every vector so
// inner product equals cosine similarity.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := c.EnsureLoaded(ctx); err != nil {
		return nil, err
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding service returned %d vectors for %d texts", len(vectors), len(texts))
	}
	return vectors, nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(map[string]interface{}{"inputs": texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding service returned %d vectors for %d texts", len(vectors), len(texts))
	}
	for i, vec := range vectors {
		if len(vec) != c.cfg.Dimensions {
			return nil, fmt.Errorf("vector %d has dimension %d, want %d", i, len(vec), c.cfg.Dimensions)
		}
		Normalize(vec)
	}
	return vectors, nil
}

// Normalize scales a vector to unit length in place. Zero vectors are left
// unchanged.
func Normalize(vec []float32) {
	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
