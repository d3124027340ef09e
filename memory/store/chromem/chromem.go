// Package chromem implements memory.VectorIndex on chromem-go, a pure Go
// embedded vector database. Each conversation gets its own collection so
// queries are scoped without filter overhead.
package chromem

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/keelworks/convene/memory"
)

const (
	metaConversation = "conversation_id"
	metaTimestamp    = "timestamp"
	metaMessage      = "message_id"
)

// Index is the chromem-backed vector index.
type Index struct {
	db          *chromem.DB
	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

// New creates an in-memory index.
func New() *Index {
	return &Index{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}
}

// NewPersistent creates an index persisted under dir.
func NewPersistent(dir string) (*Index, error) {
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("chromem: open %q: %w", dir, err)
	}
	return &Index{db: db, collections: make(map[string]*chromem.Collection)}, nil
}

func collectionName(conversationID string) string {
	return "conversation-" + conversationID
}

func (x *Index) collection(conversationID string) (*chromem.Collection, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if col, ok := x.collections[conversationID]; ok {
		return col, nil
	}
	col, err := x.db.GetOrCreateCollection(collectionName(conversationID), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: collection for %q: %w", conversationID, err)
	}
	x.collections[conversationID] = col
	return col, nil
}

// Upsert stores a vector with its metadata. Timestamps are stored at
// millisecond precision, which is also the precision of the position
// mapping on retrieval.
func (x *Index) Upsert(ctx context.Context, id string, vector []float32, meta memory.Metadata) error {
	col, err := x.collection(meta.ConversationID)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        id,
		Content:   meta.MessageID,
		Embedding: vector,
		Metadata: map[string]string{
			metaConversation: meta.ConversationID,
			metaTimestamp:    strconv.FormatInt(meta.Timestamp.UnixMilli(), 10),
			metaMessage:      meta.MessageID,
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("chromem: upsert %q: %w", id, err)
	}
	return nil
}

// Query returns up to topK nearest neighbors in the conversation's
// collection. chromem rejects result counts above the collection size, so
// topK is clamped first.
func (x *Index) Query(ctx context.Context, conversationID string, vector []float32, topK int) ([]memory.Match, error) {
	col, err := x.collection(conversationID)
	if err != nil {
		return nil, err
	}

	if n := col.Count(); topK > n {
		topK = n
	}
	if topK <= 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, vector, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: query: %w", err)
	}

	matches := make([]memory.Match, 0, len(results))
	for _, res := range results {
		ms, err := strconv.ParseInt(res.Metadata[metaTimestamp], 10, 64)
		if err != nil {
			// A vector without a parseable timestamp cannot be mapped back
			// to a history position; skip it.
			continue
		}
		matches = append(matches, memory.Match{
			VectorID: res.ID,
			Score:    res.Similarity,
			Metadata: memory.Metadata{
				ConversationID: res.Metadata[metaConversation],
				Timestamp:      time.UnixMilli(ms),
				MessageID:      res.Metadata[metaMessage],
			},
		})
	}
	return matches, nil
}

// Delete removes specific vectors from a conversation's collection.
func (x *Index) Delete(ctx context.Context, conversationID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	col, err := x.collection(conversationID)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("chromem: delete: %w", err)
	}
	return nil
}

// Purge drops the conversation's entire collection, for conversations
// marked deleted upstream.
func (x *Index) Purge(ctx context.Context, conversationID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	delete(x.collections, conversationID)
	if err := x.db.DeleteCollection(collectionName(conversationID)); err != nil {
		return fmt.Errorf("chromem: purge %q: %w", conversationID, err)
	}
	return nil
}
