package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/hyperjump/ronbun/internal/metrics"
	"github.com/hyperjump/ronbun/pkg/utils"
)

const openAIProvider = "openai"

// ErrProvider marks failures reported by a remote embedding API.
var ErrProvider = errors.New("embedding provider error")

// OpenAIConfig holds the settings for an OpenAI-compatible embedding endpoint.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	Logger     *zap.Logger
}

// OpenAIEmbedder encodes text through an OpenAI-compatible /embeddings API.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	logger     *zap.Logger
}

// NewOpenAIEmbedder creates a remote embedder. Dimensions must be the width the model returns.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.Model == "" {
		return nil, errors.New("openai embedder: model is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("openai embedder: invalid dimensions %d", cfg.Dimensions)
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(cfg.Model),
		dimensions: cfg.Dimensions,
		logger:     logger,
	}, nil
}

// Embed encodes a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch encodes texts in one request. The API rejects empty input, so empty strings are
// not sent and map to the zero vector.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	input := make([]string, 0, len(texts))
	positions := make([]int, 0, len(texts))
	for i, t := range texts {
		if t == "" {
			out[i] = make([]float32, e.dimensions)
			continue
		}
		input = append(input, t)
		positions = append(positions, i)
	}
	if len(input) == 0 {
		return out, nil
	}

	req := openai.EmbeddingRequest{
		Input:          input,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}

	model := string(e.model)
	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(openAIProvider, model, "error").Inc()
		return nil, parseAPIError(err)
	}
	metrics.EmbeddingRequestDuration.WithLabelValues(openAIProvider, model).Observe(time.Since(start).Seconds())

	if len(resp.Data) != len(input) {
		metrics.EmbeddingRequestsTotal.WithLabelValues(openAIProvider, model, "error").Inc()
		return nil, fmt.Errorf("expected %d embeddings, got %d: %w", len(input), len(resp.Data), ErrProvider)
	}
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(input) {
			metrics.EmbeddingRequestsTotal.WithLabelValues(openAIProvider, model, "error").Inc()
			return nil, fmt.Errorf("embedding index %d out of range: %w", d.Index, ErrProvider)
		}
		if len(d.Embedding) != e.dimensions {
			metrics.EmbeddingRequestsTotal.WithLabelValues(openAIProvider, model, "error").Inc()
			return nil, fmt.Errorf("embedding has %d dimensions, want %d: %w", len(d.Embedding), e.dimensions, ErrProvider)
		}
		vec := make([]float32, e.dimensions)
		copy(vec, d.Embedding)
		utils.NormalizeL2(vec)
		out[positions[d.Index]] = vec
	}
	for i := range out {
		if out[i] == nil {
			metrics.EmbeddingRequestsTotal.WithLabelValues(openAIProvider, model, "error").Inc()
			return nil, fmt.Errorf("missing embedding for input %d: %w", i, ErrProvider)
		}
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(openAIProvider, model, "success").Inc()
	e.logger.Debug("embedded batch",
		zap.Int("texts", len(input)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Duration("took", time.Since(start)))
	return out, nil
}

// Dimensions returns the configured embedding width.
func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }

// ModelName returns the remote model identifier.
func (e *OpenAIEmbedder) ModelName() string { return string(e.model) }

// Close is a no-op; the HTTP client holds no exclusive resources.
func (e *OpenAIEmbedder) Close() error { return nil }

func parseAPIError(err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if detail := extractDetail(reqErr.Body); detail != "" {
			return fmt.Errorf("embedding API error %d: %s: %w", reqErr.HTTPStatusCode, detail, ErrProvider)
		}
		return fmt.Errorf("embedding API error %d: %s: %w", reqErr.HTTPStatusCode, string(reqErr.Body), ErrProvider)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("embedding API error %d: %s: %w", apiErr.HTTPStatusCode, apiErr.Message, ErrProvider)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("embedding request failed: %v: %w", err, ErrProvider)
}

// extractDetail reads the "detail" field some compatible providers put in error bodies.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
