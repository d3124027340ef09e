package memory

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/keelworks/convene/core"
	"github.com/keelworks/convene/history"
	"github.com/keelworks/convene/metrics"
)

// DefaultTopK is the neighbor count requested from the vector index.
const DefaultTopK = 100

// Relevance is one credited history position with its scoring breakdown.
// Transient: never persisted.
type Relevance struct {
	// Position indexes into the conversation's ordered history.
	Position int

	// Score is the raw backend similarity, kept for observability.
	Score float32

	// Recency is position / history length, in [0, 1).
	Recency float64

	// Weighted is normalized(Score)*(1-w) + w*Recency.
	Weighted float64
}

// Retriever turns a query vector into scored history positions.
type Retriever struct {
	index VectorIndex
	log   zerolog.Logger
}

// NewRetriever creates a retriever over the given index. A nil index is
// allowed and yields empty results.
func NewRetriever(index VectorIndex, log zerolog.Logger) *Retriever {
	return &Retriever{index: index, log: log}
}

// Retrieve queries the vector index and returns one Relevance per credited
// history position. The recency weight w in [0, 1] shifts the blend from
// pure similarity (0) toward pure recency (1).
//
// Matches whose timestamp does not map to a history position are stale or
// foreign vectors and are discarded. A mapped match also credits the other
// half of its conversational pair: the response following a matched human
// message, or the human message preceding a matched response. A position
// credited more than once keeps its maximum score.
//
// Retrieval never fails a round: any index error returns an empty result.
func (r *Retriever) Retrieve(ctx context.Context, conversationID string, query []float32, log *history.Log, w float64) []Relevance {
	if r.index == nil || log.Len() == 0 {
		return nil
	}

	matches, err := r.index.Query(ctx, conversationID, query, DefaultTopK)
	if err != nil {
		r.log.Warn().Err(err).
			Str("conversation", conversationID).
			Msg("vector query failed, continuing without long-term memory")
		return nil
	}

	idx := log.BuildTimestampIndex()
	n := log.Len()

	best := make(map[int]float32)
	credit := func(pos int, score float32) {
		if cur, ok := best[pos]; !ok || score > cur {
			best[pos] = score
		}
	}

	for _, m := range matches {
		pos, ok := idx.Position(m.Metadata.Timestamp)
		if !ok {
			continue
		}
		credit(pos, m.Score)
		switch log.At(pos).Kind {
		case core.KindHuman:
			if pos+1 < n {
				credit(pos+1, m.Score)
			}
		case core.KindResponse:
			if pos > 0 {
				credit(pos-1, m.Score)
			}
		}
	}

	out := make([]Relevance, 0, len(best))
	for pos, score := range best {
		rank := float64(pos) / float64(n)
		out = append(out, Relevance{
			Position: pos,
			Score:    score,
			Recency:  rank,
			Weighted: normalizeScore(score)*(1-w) + w*rank,
		})
	}

	metrics.RetrievalMatches.Observe(float64(len(out)))
	return out
}

// normalizeScore maps a cosine similarity in [-1, 1] onto [0, 1] so the
// recency blend weights mean what they say. Out-of-range backend values
// are clamped.
func normalizeScore(s float32) float64 {
	v := (float64(s) + 1) / 2
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
