package llm

import (
	"bufio"
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

// openAICompatProvider implements the chat-completions wire protocol. It
// backs both the hosted OpenAI provider and user-supplied OpenAI-compatible
// endpoints (vLLM, LM Studio, gateways), which differ only in name and base
// URL.
type openAICompatProvider struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	log        *logger.Logger
}

func NewOpenAI(apiKey string, log *logger.Logger) Provider {
	return &openAICompatProvider{
		name:       ProviderOpenAI,
		baseURL:    "https://api.openai.com",
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{},
		maxRetries: 2,
		log:        log.With("provider", ProviderOpenAI),
	}
}

// NewCustom targets any OpenAI-compatible server at baseURL. The API key is
// optional; some self-hosted servers accept anonymous requests.
func NewCustom(baseURL, apiKey string, log *logger.Logger) (Provider, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("custom provider requires a base URL")
	}
	return &openAICompatProvider{
		name:       ProviderCustom,
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{},
		maxRetries: 2,
		log:        log.With("provider", ProviderCustom),
	}, nil
}

func (p *openAICompatProvider) Name() string { return p.name }

type chatCompletionsRequest struct {
	Model         string    `json:"model"`
	Messages      []Message `json:"messages"`
	Temperature   float64   `json:"temperature"`
	MaxTokens     int       `json:"max_tokens,omitempty"`
	Stream        bool      `json:"stream,omitempty"`
	StreamOptions *struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options,omitempty"`
}

type chatCompletionsUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type chatCompletionsResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage chatCompletionsUsage `json:"usage"`
}

func (p *openAICompatProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, ClassifyError(p.name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	body := chatCompletionsRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	var resp chatCompletionsResponse
	if err := p.doJSON(ctx, "/v1/chat/completions", body, &resp); err != nil {
		return nil, ClassifyError(p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, ClassifyError(p.name, errors.New("no choices in response"))
	}

	return &GenerateResult{
		Content:      resp.Choices[0].Message.Content,
		Model:        req.Model,
		Provider:     p.name,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

type chatCompletionsChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *chatCompletionsUsage `json:"usage"`
}

func (p *openAICompatProvider) Stream(ctx context.Context, req GenerateRequest, onChunk func(StreamChunk)) (*GenerateResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, ClassifyError(p.name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	body := chatCompletionsRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	}
	body.StreamOptions = &struct {
		IncludeUsage bool `json:"include_usage"`
	}{IncludeUsage: true}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, ClassifyError(p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", &buf)
	if err != nil {
		return nil, ClassifyError(p.name, err)
	}
	p.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, ClassifyError(p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, ClassifyError(p.name, &httpError{Provider: p.name, StatusCode: resp.StatusCode, Body: string(raw)})
	}

	result := &GenerateResult{Model: req.Model, Provider: p.name}
	var full strings.Builder

	streamErr := scanSSE(resp.Body, func(_ string, data string) error {
		if strings.TrimSpace(data) == "[DONE]" {
			return nil
		}
		var chunk chatCompletionsChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil
		}
		if chunk.Usage != nil {
			result.InputTokens = chunk.Usage.PromptTokens
			result.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			return nil
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			full.WriteString(delta)
			if onChunk != nil {
				onChunk(StreamChunk{Content: delta})
			}
		}
		return nil
	})

	result.Content = full.String()
	if streamErr != nil {
		return result, ClassifyError(p.name, streamErr)
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

func (p *openAICompatProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	var resp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := p.doJSON(ctx, "/v1/models", nil, &resp); err != nil {
		return nil, ClassifyError(p.name, err)
	}

	out := make([]ModelInfo, 0, len(resp.Data))
	for _, m := range resp.Data {
		out = append(out, ModelInfo{Name: m.ID})
	}
	return out, nil
}

func (p *openAICompatProvider) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	if err := p.doJSON(ctx, "/v1/models", nil, nil); err != nil {
		return ClassifyError(p.name, err)
	}
	return nil
}

func (p *openAICompatProvider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}

func (p *openAICompatProvider) doJSON(ctx context.Context, path string, body any, out any) error {
	var payload []byte
	method := http.MethodGet
	if body != nil {
		method = http.MethodPost
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	backoff := 1 * time.Second
	var lastErr error

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		p.setHeaders(req)

		resp, err := p.httpClient.Do(req)
		var raw []byte
		if err != nil {
			lastErr = err
		} else {
			raw, err = io.ReadAll(io.LimitReader(resp.Body, 8<<20))
			_ = resp.Body.Close()
			if err != nil {
				return err
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				lastErr = &httpError{Provider: p.name, StatusCode: resp.StatusCode, Body: string(raw)}
			} else {
				if out == nil {
					return nil
				}
				if err := json.Unmarshal(raw, out); err != nil {
					return fmt.Errorf("decode %s response: %w", path, err)
				}
				return nil
			}
		}

		if !httpx.IsRetryableError(lastErr) || attempt == p.maxRetries {
			return lastErr
		}

		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		p.log.Warn("chat completions request retrying",
			"path", path,
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

// scanSSE parses a text/event-stream body, invoking onEvent once per
// event with joined data lines.
func scanSSE(r io.Reader, onEvent func(event string, data string) error) error {
	br := bufio.NewReader(r)
	var (
		eventName string
		dataLines []string
	)

	flush := func() error {
		if len(dataLines) == 0 {
			eventName = ""
			return nil
		}
		data := strings.Join(dataLines, "\n")
		ev := eventName
		dataLines = nil
		eventName = ""
		return onEvent(ev, data)
	}

	for {
		line, err := br.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return flush()
			}
			return err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "event:") {
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			continue
		}
	}
}
