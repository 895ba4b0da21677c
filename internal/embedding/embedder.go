// Package embedding provides text encoders (ONNX, OpenAI-compatible, mock) and query caching.
package embedding

import "context"

// Embedder produces vector embeddings for text. EmbedBatch returns one vector per input in
// input order, each of length Dimensions(). The empty string is encoded like any other text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
	Close() error
}
