// Package llm provides a uniform generation interface over the local model
// server and the cloud providers. Every provider speaks the same
// Generate/Stream contract; transport differences (NDJSON vs SSE, header
// schemes, usage reporting) stay inside each implementation.
package llm

import (
	"context"
	"fmt"
	"time"
)

const (
	ProviderLocal     = "local"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderCustom    = "custom"
)

const (
	generateTimeout = 180 * time.Second
	listTimeout     = 30 * time.Second
	healthTimeout   = 5 * time.Second
	pullTimeout     = 600 * time.Second
)

// Message is one turn of a chat prompt. Images carry base64-encoded image
// bytes for vision prompts; only the local backend consumes them, cloud
// providers send text content only.
type Message struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// GenerateRequest is the provider-independent generation input. A zero
// MaxTokens lets the backend choose; ContextSize is only honored by the
// local server (num_ctx).
type GenerateRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	ContextSize int
}

// GenerateResult is the terminal outcome of a generation, streamed or not.
// Token counts are zero when the backend does not report usage.
type GenerateResult struct {
	Content      string
	Model        string
	Provider     string
	InputTokens  int
	OutputTokens int
}

// StreamChunk is one unit of streamed output. The final chunk has Done=true
// and carries usage totals when the backend reports them; intermediate
// chunks carry only Content.
type StreamChunk struct {
	Content      string
	Done         bool
	InputTokens  int
	OutputTokens int
}

// ModelInfo describes one installed model on a backend.
type ModelInfo struct {
	Name          string    `json:"name"`
	Size          int64     `json:"size,omitempty"`
	ParameterSize string    `json:"parameter_size,omitempty"`
	Quantization  string    `json:"quantization,omitempty"`
	ModifiedAt    time.Time `json:"modified_at,omitempty"`
}

// Provider is the capability set shared by all backends. Stream invokes
// onChunk from the calling goroutine as chunks arrive, so a slow consumer
// back-pressures the transport read. Implementations classify their own
// failures (see ClassifyError) before returning them.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
	Stream(ctx context.Context, req GenerateRequest, onChunk func(StreamChunk)) (*GenerateResult, error)
	HealthCheck(ctx context.Context) error
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// httpError is the transport-level error shared by the hand-rolled clients.
type httpError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *httpError) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("%s http %d: %s", e.Provider, e.StatusCode, body)
}

func (e *httpError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func validateRequest(req GenerateRequest) error {
	if req.Model == "" {
		return fmt.Errorf("model required")
	}
	if len(req.Messages) == 0 {
		return fmt.Errorf("at least one message required")
	}
	return nil
}
