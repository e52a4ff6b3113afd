// Package embedding produces dense vectors for text via the local model
// server. Callers treat absent embeddings as a skip signal, never a hard
// failure; retrieval degrades to fulltext when this service is down.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/apperr"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/httpx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
)

// MaxInputChars bounds what we send to the model server; embeddings of the
// leading content are representative enough for retrieval.
const MaxInputChars = 2000

type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)
}

type Config struct {
	BaseURL    string
	Model      string
	Dimension  int
	Timeout    time.Duration
	MaxRetries int
}

type client struct {
	log        *logger.Logger
	baseURL    string
	model      string
	dim        int
	maxRetries int
	httpClient *http.Client
}

func NewClient(log *logger.Logger, cfg Config) Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 768
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &client{
		log:        log.With("service", "EmbeddingClient"),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		dim:        cfg.Dimension,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (c *client) Embed(ctx context.Context, text string) ([]float32, error) {
	text = Truncate(text, MaxInputChars)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("embed: %w: empty input", apperr.ErrValidation)
	}

	backoff := 500 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		vec, err := c.embedOnce(ctx, text)
		if err == nil {
			if len(vec) != c.dim {
				return nil, fmt.Errorf("embed: model returned %d dims, want %d", len(vec), c.dim)
			}
			return vec, nil
		}
		lastErr = err
		if !httpx.IsRetryableError(err) || attempt == c.maxRetries {
			break
		}
		sleepFor := httpx.JitterSleep(backoff)
		c.log.Warn("Embedding request retrying",
			"attempt", attempt+1,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		time.Sleep(sleepFor)
		backoff *= 2
	}
	return nil, fmt.Errorf("%w: %v", apperr.ErrEmbeddingUnavailable, lastErr)
}

func (c *client) embedOnce(ctx context.Context, text string) ([]float32, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(embeddingRequest{Model: c.model, Prompt: text}); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &serverError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	var out embeddingResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("embedding decode error: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("embedding response missing vector")
	}
	return out.Embedding, nil
}

// batchConcurrency bounds in-flight requests during a batch; the model
// server exposes no batch API, so large refreshes fan out one request per
// input.
const batchConcurrency = 4

// BatchEmbed embeds texts with a bounded number of concurrent requests. A
// nil slot marks an input that could not be embedded, while a
// transport-level failure aborts the whole batch.
func (c *client) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		g.Go(func() error {
			vec, err := c.Embed(gctx, t)
			if err != nil {
				if errors.Is(err, apperr.ErrEmbeddingUnavailable) {
					return err
				}
				c.log.Warn("Batch embed skipping input", "index", i, "error", err.Error())
				return nil
			}
			out[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

type serverError struct {
	StatusCode int
	Body       string
}

func (e *serverError) Error() string {
	return fmt.Sprintf("embedding server http %d: %s", e.StatusCode, e.Body)
}

func (e *serverError) HTTPStatusCode() int { return e.StatusCode }

// Truncate bounds text to max characters without splitting a rune.
func Truncate(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}

// Cosine computes cosine similarity for in-memory comparisons; database-side
// similarity uses the vector index's native distance instead.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
