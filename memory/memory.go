// Package memory provides the long-term memory layer: a vector index
// interface with metadata scoped per conversation, an embedder interface,
// and the relevance retriever that maps similarity matches back onto
// history positions and blends similarity with recency.
//
// Long-term memory is an optional enhancement. Every operation here
// degrades to "no memory this round" rather than failing a turn.
package memory

import (
	"context"
	"time"
)

// Metadata is attached to every stored vector and returned with matches.
// The timestamp is the join key back into a conversation's history.
type Metadata struct {
	ConversationID string
	Timestamp      time.Time
	MessageID      string
}

// Match is one raw similarity hit from the vector index.
type Match struct {
	VectorID string
	// Score is the backend's similarity value, not guaranteed to be
	// normalized; the retriever normalizes before blending.
	Score    float32
	Metadata Metadata
}

// VectorIndex is the long-term-memory storage backend.
type VectorIndex interface {
	// Upsert stores a vector under id with its metadata.
	Upsert(ctx context.Context, id string, vector []float32, meta Metadata) error

	// Query returns up to topK nearest neighbors scoped to a conversation,
	// best first.
	Query(ctx context.Context, conversationID string, vector []float32, topK int) ([]Match, error)

	// Delete removes the given vector ids from a conversation's scope.
	Delete(ctx context.Context, conversationID string, ids []string) error

	// Purge removes every vector stored for a conversation.
	Purge(ctx context.Context, conversationID string) error
}

// Embedder converts text to a fixed-length vector.
//
// Implementations: mock.Embedder (testing), onnx.Embedder (local,
// build-tagged), openai.Embedder (remote).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}
