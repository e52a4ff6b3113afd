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

// LocalProvider speaks the local model server's API: JSON-in, NDJSON-out
// for chat, plus inventory, pull, and delete for model management. It is
// the only provider that exists without user credentials and the fallback
// target when a cloud call fails.
type LocalProvider struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	log        *logger.Logger
}

type LocalOptions struct {
	BaseURL    string
	MaxRetries int
	HTTPClient *http.Client
}

func NewLocal(opts LocalOptions, log *logger.Logger) *LocalProvider {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	hc := opts.HTTPClient
	if hc == nil {
		// No client-level timeout: streams run long and each call carries
		// its own context deadline.
		hc = &http.Client{}
	}
	return &LocalProvider{
		baseURL:    baseURL,
		httpClient: hc,
		maxRetries: maxRetries,
		log:        log.With("provider", ProviderLocal),
	}
}

func (p *LocalProvider) Name() string { return ProviderLocal }

type localChatOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
	NumCtx      int     `json:"num_ctx,omitempty"`
}

type localChatRequest struct {
	Model    string            `json:"model"`
	Messages []Message         `json:"messages"`
	Stream   bool              `json:"stream"`
	Options  *localChatOptions `json:"options,omitempty"`
}

type localChatChunk struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
	Error           string `json:"error,omitempty"`
}

func (p *LocalProvider) chatRequest(req GenerateRequest, stream bool) localChatRequest {
	return localChatRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   stream,
		Options: &localChatOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
			NumCtx:      req.ContextSize,
		},
	}
}

func (p *LocalProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, ClassifyError(ProviderLocal, err)
	}

	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	var chunk localChatChunk
	if err := p.doJSON(ctx, http.MethodPost, "/api/chat", p.chatRequest(req, false), &chunk); err != nil {
		return nil, ClassifyError(ProviderLocal, err)
	}
	if chunk.Error != "" {
		return nil, ClassifyError(ProviderLocal, errors.New(chunk.Error))
	}

	return &GenerateResult{
		Content:      chunk.Message.Content,
		Model:        req.Model,
		Provider:     ProviderLocal,
		InputTokens:  chunk.PromptEvalCount,
		OutputTokens: chunk.EvalCount,
	}, nil
}

// Stream POSTs a streaming chat and forwards each NDJSON chunk. On
// mid-stream failure the returned result still carries the partial content
// so callers can persist what the model produced before the error.
func (p *LocalProvider) Stream(ctx context.Context, req GenerateRequest, onChunk func(StreamChunk)) (*GenerateResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, ClassifyError(ProviderLocal, err)
	}

	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(p.chatRequest(req, true)); err != nil {
		return nil, ClassifyError(ProviderLocal, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", &buf)
	if err != nil {
		return nil, ClassifyError(ProviderLocal, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, ClassifyError(ProviderLocal, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, ClassifyError(ProviderLocal, &httpError{Provider: ProviderLocal, StatusCode: resp.StatusCode, Body: string(raw)})
	}

	result := &GenerateResult{Model: req.Model, Provider: ProviderLocal}
	var full strings.Builder

	streamErr := scanNDJSON(resp.Body, func(line []byte) error {
		var chunk localChatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			// Tolerate a malformed line; the stream's done marker decides.
			return nil
		}
		if chunk.Error != "" {
			return errors.New(chunk.Error)
		}
		if chunk.Message.Content != "" {
			full.WriteString(chunk.Message.Content)
			if onChunk != nil {
				onChunk(StreamChunk{Content: chunk.Message.Content})
			}
		}
		if chunk.Done {
			result.InputTokens = chunk.PromptEvalCount
			result.OutputTokens = chunk.EvalCount
			if onChunk != nil {
				onChunk(StreamChunk{
					Done:         true,
					InputTokens:  chunk.PromptEvalCount,
					OutputTokens: chunk.EvalCount,
				})
			}
		}
		return nil
	})

	result.Content = full.String()
	if streamErr != nil {
		return result, ClassifyError(ProviderLocal, streamErr)
	}
	return result, nil
}

type localTagsResponse struct {
	Models []struct {
		Name       string    `json:"name"`
		Size       int64     `json:"size"`
		ModifiedAt time.Time `json:"modified_at"`
		Details    struct {
			ParameterSize     string `json:"parameter_size"`
			QuantizationLevel string `json:"quantization_level"`
		} `json:"details"`
	} `json:"models"`
}

func (p *LocalProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	var resp localTagsResponse
	if err := p.doJSON(ctx, http.MethodGet, "/api/tags", nil, &resp); err != nil {
		return nil, ClassifyError(ProviderLocal, err)
	}

	out := make([]ModelInfo, 0, len(resp.Models))
	for _, m := range resp.Models {
		out = append(out, ModelInfo{
			Name:          m.Name,
			Size:          m.Size,
			ParameterSize: m.Details.ParameterSize,
			Quantization:  m.Details.QuantizationLevel,
			ModifiedAt:    m.ModifiedAt,
		})
	}
	return out, nil
}

func (p *LocalProvider) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	if err := p.doJSON(ctx, http.MethodGet, "/api/tags", nil, nil); err != nil {
		return ClassifyError(ProviderLocal, err)
	}
	return nil
}

// PullProgress is one status line of a streaming model pull.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

// PullModel downloads a model onto the local server, reporting progress per
// NDJSON status line.
func (p *LocalProvider) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ClassifyError(ProviderLocal, errors.New("model name required"))
	}

	ctx, cancel := context.WithTimeout(ctx, pullTimeout)
	defer cancel()

	body := map[string]any{"name": name, "stream": true}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return ClassifyError(ProviderLocal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/pull", &buf)
	if err != nil {
		return ClassifyError(ProviderLocal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return ClassifyError(ProviderLocal, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return ClassifyError(ProviderLocal, &httpError{Provider: ProviderLocal, StatusCode: resp.StatusCode, Body: string(raw)})
	}

	err = scanNDJSON(resp.Body, func(line []byte) error {
		var progress struct {
			PullProgress
			Error string `json:"error,omitempty"`
		}
		if err := json.Unmarshal(line, &progress); err != nil {
			return nil
		}
		if progress.Error != "" {
			return errors.New(progress.Error)
		}
		if onProgress != nil {
			onProgress(progress.PullProgress)
		}
		return nil
	})
	if err != nil {
		return ClassifyError(ProviderLocal, err)
	}
	return nil
}

// DeleteModel removes a model from the local server.
func (p *LocalProvider) DeleteModel(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ClassifyError(ProviderLocal, errors.New("model name required"))
	}

	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	if err := p.doJSON(ctx, http.MethodDelete, "/api/delete", map[string]any{"name": name}, nil); err != nil {
		return ClassifyError(ProviderLocal, err)
	}
	return nil
}

func (p *LocalProvider) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	backoff := 500 * time.Millisecond
	var lastErr error

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

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
				lastErr = &httpError{Provider: ProviderLocal, StatusCode: resp.StatusCode, Body: string(raw)}
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

		sleepFor := httpx.JitterSleep(backoff)
		p.log.Warn("local model server request retrying",
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

// scanNDJSON feeds each non-blank line to onLine until EOF or error.
func scanNDJSON(r io.Reader, onLine func(line []byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := onLine(line); err != nil {
			return err
		}
	}
	return sc.Err()
}
