package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/keelworks/convene/completion"
	"github.com/keelworks/convene/config"
	"github.com/keelworks/convene/core"
	"github.com/keelworks/convene/history"
	"github.com/keelworks/convene/memory"
	"github.com/keelworks/convene/prompt"
	"github.com/keelworks/convene/store"
)

// Engine ties the pieces together for callers: it loads and persists
// conversations, runs turns through the driver, and keeps the long-term
// memory index in step with history.
//
// The engine holds no per-conversation lock. Callers must serialize turns
// per thread identifier.
type Engine struct {
	cfg    config.Config
	client completion.Client
	coster history.Coster
	kv     store.KV
	log    zerolog.Logger

	cache      *store.Cache
	index      memory.VectorIndex
	embedder   memory.Embedder
	retriever  *memory.Retriever
	gate       Gate
	summarizer *Summarizer

	driver *Driver
}

// Option configures the engine.
type Option func(*Engine)

// WithCache caches loaded conversation objects.
func WithCache(c *store.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithMemory enables long-term memory over the given index and embedder.
func WithMemory(index memory.VectorIndex, embedder memory.Embedder) Option {
	return func(e *Engine) {
		e.index = index
		e.embedder = embedder
	}
}

// WithGate sets an admission check consulted before each turn.
func WithGate(g Gate) Option {
	return func(e *Engine) { e.gate = g }
}

// WithSummarizer enables periodic summary refreshes of aged history.
func WithSummarizer(s *Summarizer) Option {
	return func(e *Engine) { e.summarizer = s }
}

// New creates an engine. kv is required; everything optional degrades to
// "feature off".
func New(cfg config.Config, client completion.Client, coster history.Coster, kv store.KV, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		client: client,
		coster: coster,
		kv:     kv,
		log:    log,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.retriever = memory.NewRetriever(e.index, log)
	e.driver = NewDriver(client, coster, log)
	return e
}

// ErrGateDenied is returned by RunTurn when the admission gate refuses
// the turn. No notification is emitted; the caller owns the refusal UX.
var ErrGateDenied = errors.New("engine: turn denied by gate")

// Load fetches a conversation by thread identifier, consulting the cache
// first. Returns store.ErrNotFound when no conversation exists.
func (e *Engine) Load(ctx context.Context, threadID string) (*core.Conversation, error) {
	if e.cache != nil {
		conv, presence := e.cache.Get(threadID)
		switch presence {
		case store.PresenceCached:
			return conv, nil
		case store.PresenceAbsent:
			return nil, store.ErrNotFound
		}
	}

	data, err := e.kv.Get(ctx, threadID)
	if errors.Is(err, store.ErrNotFound) {
		if e.cache != nil {
			e.cache.PutAbsent(threadID)
		}
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("engine: load conversation %q: %w", threadID, err)
	}

	conv, err := core.DecodeConversation(data)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Put(threadID, conv)
	}
	return conv, nil
}

// Persist writes the conversation and refreshes the cache.
func (e *Engine) Persist(ctx context.Context, conv *core.Conversation) error {
	data, err := core.EncodeConversation(conv)
	if err != nil {
		return err
	}
	if err := e.kv.Set(ctx, conv.ThreadID, data); err != nil {
		return fmt.Errorf("engine: persist conversation %q: %w", conv.ThreadID, err)
	}
	if e.cache != nil {
		e.cache.Put(conv.ThreadID, conv)
	}
	return nil
}

// RunTurn executes one full turn: prompt assembly, the completion rounds,
// history commit, memory upserts, and persistence. The human entry's own
// embedding is computed while the completion call is in flight.
//
// Persistence and memory failures are logged and swallowed; the turn's
// outcome is the driver's outcome.
func (e *Engine) RunTurn(ctx context.Context, conv *core.Conversation, turn *core.Entry, notify NotifyFunc) (*Result, error) {
	if e.gate != nil {
		res, err := e.gate.Check(ctx, turn.UserID)
		if err != nil {
			return nil, fmt.Errorf("engine: gate check: %w", err)
		}
		if !res.Allowed {
			return nil, fmt.Errorf("%w: %s", ErrGateDenied, res.Reason)
		}
	}

	log := history.NewLog(conv.History)
	asm := prompt.NewAssembler(prompt.Config{
		MaxPromptTokens: e.cfg.MaxPromptTokens,
		RecentBudget:    e.cfg.RecentBudget,
		RecencyWeight:   e.cfg.RecencyWeight,
		Timestamps:      e.cfg.Timestamps,
	}, conv, log, e.coster, e.retriever, e.embedder, e.log)

	// The human message's embedding has no dependency on the completion
	// rounds; compute it alongside them.
	var humanVec []float32
	g, gctx := errgroup.WithContext(ctx)
	if e.memoryEnabled() {
		g.Go(func() error {
			vec, err := e.embedder.Embed(gctx, turn.Content)
			if err != nil {
				e.log.Warn().Err(err).
					Str("conversation", conv.ThreadID).
					Msg("human message embedding failed, entry will not be indexed")
				return nil
			}
			humanVec = vec
			return nil
		})
	}

	result := e.driver.Run(ctx, TurnInput{
		Conversation:      conv,
		Log:               log,
		Assembler:         asm,
		Turn:              turn,
		Model:             e.cfg.Model,
		MaxResponseTokens: e.cfg.MaxResponseTokens,
		Notify:            notify,
	})
	_ = g.Wait()

	if result.State != StateDone {
		if e.gate != nil {
			e.gate.RecordFailure(ctx, turn.UserID)
		}
		return result, nil
	}

	if e.memoryEnabled() {
		e.indexEntry(ctx, conv, result.Human, humanVec)
		e.indexEntry(ctx, conv, result.Response, nil)
	}

	conv.History = log.Entries()
	conv.Touch()
	e.scheduleSummary(ctx, conv, log)

	if err := e.Persist(ctx, conv); err != nil {
		// In-memory state stays valid; the next successful persist
		// overwrites whatever the store holds.
		e.log.Error().Err(err).
			Str("conversation", conv.ThreadID).
			Msg("persist failed after completed turn")
	}

	if e.gate != nil {
		e.gate.RecordSuccess(ctx, turn.UserID)
	}
	return result, nil
}

// indexEntry stores an entry's vector in long-term memory. vec may be nil,
// in which case the entry is embedded here.
func (e *Engine) indexEntry(ctx context.Context, conv *core.Conversation, entry *core.Entry, vec []float32) {
	if entry.Timestamp == nil {
		return
	}
	if vec == nil {
		v, err := e.embedder.Embed(ctx, entry.Content)
		if err != nil {
			e.log.Warn().Err(err).
				Str("conversation", conv.ThreadID).
				Str("entry", entry.ID).
				Msg("embedding failed, entry will not be indexed")
			return
		}
		vec = v
	}

	meta := memory.Metadata{
		ConversationID: conv.ThreadID,
		Timestamp:      *entry.Timestamp,
		MessageID:      entry.ID,
	}
	if err := e.index.Upsert(ctx, entry.ID, vec, meta); err != nil {
		e.log.Warn().Err(err).
			Str("conversation", conv.ThreadID).
			Str("entry", entry.ID).
			Msg("vector upsert failed")
		return
	}
	entry.VectorID = entry.ID
}

// scheduleSummary counts down the refresh cadence and refreshes the
// running summary when due. Refresh failures leave the old summary in
// place and re-arm the counter.
func (e *Engine) scheduleSummary(ctx context.Context, conv *core.Conversation, log *history.Log) {
	if e.summarizer == nil || e.cfg.SummaryEvery <= 0 {
		return
	}
	if conv.SummaryDue > 1 {
		conv.SummaryDue--
		return
	}
	conv.SummaryDue = e.cfg.SummaryEvery

	if err := e.summarizer.Refresh(ctx, conv, log); err != nil {
		e.log.Warn().Err(err).
			Str("conversation", conv.ThreadID).
			Msg("summary refresh failed, keeping previous summary")
	}
}

// DeleteLast removes the last n history entries and cascades the delete to
// their long-term-memory vectors, then persists.
func (e *Engine) DeleteLast(ctx context.Context, conv *core.Conversation, n int) error {
	log := history.NewLog(conv.History)

	var vectorIDs []string
	for i := log.Len() - n; i < log.Len(); i++ {
		if i < 0 {
			continue
		}
		if vid := log.At(i).VectorID; vid != "" {
			vectorIDs = append(vectorIDs, vid)
		}
	}

	log.DeleteLast(n)
	conv.History = log.Entries()

	if e.index != nil && len(vectorIDs) > 0 {
		if err := e.index.Delete(ctx, conv.ThreadID, vectorIDs); err != nil {
			e.log.Warn().Err(err).
				Str("conversation", conv.ThreadID).
				Msg("vector cascade delete failed")
		}
	}
	return e.Persist(ctx, conv)
}

// MarkDeleted soft-deletes a conversation whose backing channel is gone
// and purges its long-term memory.
func (e *Engine) MarkDeleted(ctx context.Context, conv *core.Conversation) error {
	conv.Deleted = true
	if e.index != nil {
		if err := e.index.Purge(ctx, conv.ThreadID); err != nil {
			e.log.Warn().Err(err).
				Str("conversation", conv.ThreadID).
				Msg("vector purge failed")
		}
	}
	return e.Persist(ctx, conv)
}

func (e *Engine) memoryEnabled() bool {
	return e.index != nil && e.embedder != nil
}
