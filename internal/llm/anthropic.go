package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/httpx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
)

const (
	anthropicBaseURL    = "https://api.anthropic.com"
	anthropicAPIVersion = "2023-06-01"

	// The messages API requires max_tokens; used when the caller leaves it 0.
	anthropicDefaultMaxTokens = 4096
)

type anthropicProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	log        *logger.Logger
}

func NewAnthropic(apiKey string, log *logger.Logger) Provider {
	return &anthropicProvider{
		baseURL:    anthropicBaseURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{},
		maxRetries: 2,
		log:        log.With("provider", ProviderAnthropic),
	}
}

func (p *anthropicProvider) Name() string { return ProviderAnthropic }

type anthropicMessagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicMessagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      anthropicUsage `json:"usage"`
}

// buildRequest splits system turns out of the message list; the messages
// API takes system text as a top-level field and rejects role=system.
func (p *anthropicProvider) buildRequest(req GenerateRequest, stream bool) anthropicMessagesRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	var system strings.Builder
	msgs := make([]Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(m.Content)
			continue
		}
		msgs = append(msgs, m)
	}

	return anthropicMessagesRequest{
		Model:       req.Model,
		MaxTokens:   maxTokens,
		System:      system.String(),
		Messages:    msgs,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

func (p *anthropicProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, ClassifyError(ProviderAnthropic, err)
	}

	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	var resp anthropicMessagesResponse
	if err := p.doJSON(ctx, p.buildRequest(req, false), &resp); err != nil {
		return nil, ClassifyError(ProviderAnthropic, err)
	}

	var full strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			full.WriteString(block.Text)
		}
	}

	return &GenerateResult{
		Content:      full.String(),
		Model:        req.Model,
		Provider:     ProviderAnthropic,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}

func (p *anthropicProvider) Stream(ctx context.Context, req GenerateRequest, onChunk func(StreamChunk)) (*GenerateResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, ClassifyError(ProviderAnthropic, err)
	}

	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(p.buildRequest(req, true)); err != nil {
		return nil, ClassifyError(ProviderAnthropic, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", &buf)
	if err != nil {
		return nil, ClassifyError(ProviderAnthropic, err)
	}
	p.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, ClassifyError(ProviderAnthropic, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, ClassifyError(ProviderAnthropic, &httpError{Provider: ProviderAnthropic, StatusCode: resp.StatusCode, Body: string(raw)})
	}

	result := &GenerateResult{Model: req.Model, Provider: ProviderAnthropic}
	var full strings.Builder

	streamErr := scanSSE(resp.Body, func(event string, data string) error {
		var env struct {
			Type    string `json:"type"`
			Message struct {
				Usage anthropicUsage `json:"usage"`
			} `json:"message"`
			Delta struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"delta"`
			Usage *anthropicUsage `json:"usage"`
			Error *struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &env); err != nil {
			return nil
		}
		if env.Type == "" {
			env.Type = strings.TrimSpace(event)
		}

		switch env.Type {
		case "message_start":
			result.InputTokens = env.Message.Usage.InputTokens
		case "content_block_delta":
			if env.Delta.Type == "text_delta" && env.Delta.Text != "" {
				full.WriteString(env.Delta.Text)
				if onChunk != nil {
					onChunk(StreamChunk{Content: env.Delta.Text})
				}
			}
		case "message_delta":
			if env.Usage != nil {
				result.OutputTokens = env.Usage.OutputTokens
			}
		case "error":
			if env.Error != nil {
				status := 0
				if env.Error.Type == "overloaded_error" {
					status = 529
				}
				return &httpError{Provider: ProviderAnthropic, StatusCode: status, Body: env.Error.Message}
			}
			return errors.New("unspecified stream error")
		}
		return nil
	})

	result.Content = full.String()
	if streamErr != nil {
		return result, ClassifyError(ProviderAnthropic, streamErr)
	}
	if onChunk != nil {
		onChunk(StreamChunk{
			Done:         true,
			InputTokens:  result.InputTokens,
			OutputTokens: result.OutputTokens,
		})
	}
	return result, nil
}

// ListModels returns the curated set usable through this integration; the
// hosted API has no inventory endpoint comparable to the local server's.
func (p *anthropicProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	_ = ctx
	return []ModelInfo{
		{Name: "claude-sonnet-4-5"},
		{Name: "claude-opus-4-1"},
		{Name: "claude-3-5-haiku-latest"},
	}, nil
}

// HealthCheck sends a one-token request; a 2xx or a 4xx other than auth
// both prove the endpoint is reachable and the key is accepted.
func (p *anthropicProvider) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req := anthropicMessagesRequest{
		Model:     "claude-3-5-haiku-latest",
		MaxTokens: 1,
		Messages:  []Message{{Role: "user", Content: "ping"}},
	}
	err := p.doJSON(ctx, req, nil)
	if err == nil {
		return nil
	}
	var he *httpError
	if errors.As(err, &he) && he.StatusCode != http.StatusUnauthorized && he.StatusCode != http.StatusForbidden && he.StatusCode < 500 {
		return nil
	}
	return ClassifyError(ProviderAnthropic, err)
}

func (p *anthropicProvider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
}

func (p *anthropicProvider) doJSON(ctx context.Context, body anthropicMessagesRequest, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	backoff := 1 * time.Second
	var lastErr error

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		p.setHeaders(req)

		resp, err := p.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
			_ = resp.Body.Close()
			if readErr != nil {
				return readErr
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				lastErr = &httpError{Provider: ProviderAnthropic, StatusCode: resp.StatusCode, Body: string(raw)}
			} else {
				if out == nil {
					return nil
				}
				if err := json.Unmarshal(raw, out); err != nil {
					return fmt.Errorf("decode messages response: %w", err)
				}
				return nil
			}
		}

		if !httpx.IsRetryableError(lastErr) || attempt == p.maxRetries {
			return lastErr
		}

		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 15*time.Second))
		p.log.Warn("messages request retrying",
			"attempt", attempt+1,
			"sleep", sleepFor.String(),
			"error", lastErr.Error(),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepFor):
		}
		backoff *= 2
	}

	return lastErr
}
