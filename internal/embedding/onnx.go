//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/ronbun/internal/metrics"
	"github.com/hyperjump/ronbun/pkg/utils"
)

var onnxInputNames = []string{"input_ids", "attention_mask", "token_type_ids"}

const onnxOutputName = "last_hidden_state"

// ONNXEmbedder runs a sentence-transformer exported to ONNX locally. The model's token
// embeddings are mean-pooled over the attention mask. It requires CGO and the onnxruntime
// shared library. Inference is serialized through pre-allocated tensors; waiting for the
// session respects the caller's context.
type ONNXEmbedder struct {
	sem       chan struct{} // one slot: holder owns the tensors and session
	session   *ort.AdvancedSession
	inputIDs  *ort.Tensor[int64]
	mask      *ort.Tensor[int64]
	typeIDs   *ort.Tensor[int64]
	hidden    *ort.Tensor[float32] // [1, maxTokens, dimensions]
	tokenizer Tokenizer

	modelName  string
	dimensions int
	maxTokens  int
}

type destroyer interface {
	Destroy() error
}

// NewONNXEmbedder loads the model at modelPath and its WordPiece vocab.txt at vocabPath. The
// onnxruntime environment is initialized on first use.
func NewONNXEmbedder(modelName, modelPath, vocabPath string, dimensions, maxTokens int) (*ONNXEmbedder, error) {
	if dimensions <= 0 || maxTokens <= 0 {
		return nil, fmt.Errorf("onnx: dimensions and max tokens must be positive (got %d, %d)", dimensions, maxTokens)
	}
	vocab, err := LoadWordPieceVocab(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: %w", err)
	}
	tokenizer, err := NewWordPieceTokenizer(vocab)
	if err != nil {
		return nil, fmt.Errorf("onnx: %w", err)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	var created []destroyer
	fail := func(err error) (*ONNXEmbedder, error) {
		for i := len(created) - 1; i >= 0; i-- {
			_ = created[i].Destroy()
		}
		return nil, err
	}

	inputShape := ort.NewShape(1, int64(maxTokens))
	inputs := make([]*ort.Tensor[int64], len(onnxInputNames))
	for i, name := range onnxInputNames {
		t, err := ort.NewEmptyTensor[int64](inputShape)
		if err != nil {
			return fail(fmt.Errorf("failed to create %s tensor: %w", name, err))
		}
		created = append(created, t)
		inputs[i] = t
	}
	hidden, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(maxTokens), int64(dimensions)))
	if err != nil {
		return fail(fmt.Errorf("failed to create %s tensor: %w", onnxOutputName, err))
	}
	created = append(created, hidden)

	session, err := ort.NewAdvancedSession(
		modelPath,
		onnxInputNames,
		[]string{onnxOutputName},
		[]ort.ArbitraryTensor{inputs[0], inputs[1], inputs[2]},
		[]ort.ArbitraryTensor{hidden},
		nil,
	)
	if err != nil {
		return fail(fmt.Errorf("failed to create ONNX session for %s: %w", modelPath, err))
	}

	return &ONNXEmbedder{
		sem:        make(chan struct{}, 1),
		session:    session,
		inputIDs:   inputs[0],
		mask:       inputs[1],
		typeIDs:    inputs[2],
		hidden:     hidden,
		tokenizer:  tokenizer,
		modelName:  modelName,
		dimensions: dimensions,
		maxTokens:  maxTokens,
	}, nil
}

// Embed runs inference for a single text and returns its mean-pooled, L2-normalized embedding.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids, mask, typeIDs := e.tokenizer.Tokenize(text, e.maxTokens)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-e.sem }()
	if e.session == nil {
		return nil, fmt.Errorf("onnx: embedder is closed")
	}

	start := time.Now()
	copy(e.inputIDs.GetData(), ids)
	copy(e.mask.GetData(), mask)
	copy(e.typeIDs.GetData(), typeIDs)
	if err := e.session.Run(); err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues("onnx", e.modelName, "error").Inc()
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	metrics.EmbeddingRequestsTotal.WithLabelValues("onnx", e.modelName, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues("onnx", e.modelName).Observe(time.Since(start).Seconds())

	vec := meanPool(e.hidden.GetData(), mask, e.dimensions)
	utils.NormalizeL2(vec)
	return vec, nil
}

// EmbedBatch encodes texts one at a time, in order.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

func (e *ONNXEmbedder) Dimensions() int { return e.dimensions }

func (e *ONNXEmbedder) ModelName() string { return e.modelName }

// Close destroys the session and its tensors. Embed fails after Close.
func (e *ONNXEmbedder) Close() error {
	e.sem <- struct{}{}
	defer func() { <-e.sem }()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	for _, t := range []destroyer{e.inputIDs, e.mask, e.typeIDs, e.hidden} {
		_ = t.Destroy()
	}
	e.session = nil
	return err
}
