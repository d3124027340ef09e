package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keelworks/convene/completion"
	"github.com/keelworks/convene/config"
	"github.com/keelworks/convene/core"
	"github.com/keelworks/convene/memory"
	"github.com/keelworks/convene/store"
)

// fakeIndex records vector operations.
type fakeIndex struct {
	upserts map[string]memory.Metadata
	deleted []string
	purged  []string
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{upserts: make(map[string]memory.Metadata)}
}

func (f *fakeIndex) Upsert(ctx context.Context, id string, vector []float32, meta memory.Metadata) error {
	f.upserts[id] = meta
	return nil
}

func (f *fakeIndex) Query(ctx context.Context, conversationID string, vector []float32, topK int) ([]memory.Match, error) {
	return nil, nil
}

func (f *fakeIndex) Delete(ctx context.Context, conversationID string, ids []string) error {
	f.deleted = append(f.deleted, ids...)
	return nil
}

func (f *fakeIndex) Purge(ctx context.Context, conversationID string) error {
	f.purged = append(f.purged, conversationID)
	return nil
}

// flatEmbedder returns a constant vector.
type flatEmbedder struct{}

func (flatEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (flatEmbedder) Dimensions() int { return 3 }

// allowAll is a gate that admits everything and counts outcomes.
type allowAll struct {
	successes int
	failures  int
}

func (g *allowAll) Check(ctx context.Context, userID string) (GateResult, error) {
	return GateResult{Allowed: true}, nil
}
func (g *allowAll) RecordSuccess(ctx context.Context, userID string) { g.successes++ }
func (g *allowAll) RecordFailure(ctx context.Context, userID string) { g.failures++ }

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Model = "test-model"
	cfg.MaxPromptTokens = 2000
	cfg.RecentBudget = 800
	cfg.SummaryEvery = 0
	return cfg
}

func TestEngineRunTurnPersistsAndIndexes(t *testing.T) {
	client := &scriptedClient{script: []any{
		&completion.Response{Text: "hello alice", FinishReason: completion.FinishStop,
			Usage: completion.Usage{PromptTokens: 30, CompletionTokens: 5}},
	}}
	kv := store.NewMemoryKV()
	idx := newFakeIndex()
	gate := &allowAll{}

	e := New(testConfig(), client, wordCoster{}, kv, zerolog.Nop(),
		WithMemory(idx, flatEmbedder{}),
		WithGate(gate),
	)

	conv := core.NewConversation("thread-1", "creator", "guild", "Nova")
	turn := core.NewHumanEntry("user-1", "alice", "hello bot")
	rec := &recorder{}

	res, err := e.RunTurn(context.Background(), conv, turn, rec.notify)
	require.NoError(t, err)
	require.Equal(t, StateDone, res.State)

	// History committed back onto the conversation.
	require.Len(t, conv.History, 2)
	assert.Equal(t, "hello bot", conv.History[0].Content)
	assert.Equal(t, "hello alice", conv.History[1].Content)

	// Both entries indexed, timestamp metadata scoped to the thread.
	assert.Len(t, idx.upserts, 2)
	assert.Equal(t, "thread-1", idx.upserts[res.Human.ID].ConversationID)
	assert.Equal(t, res.Human.ID, res.Human.VectorID)

	// Persisted and reloadable through the engine.
	loaded, err := e.Load(context.Background(), "thread-1")
	require.NoError(t, err)
	assert.Len(t, loaded.History, 2)

	assert.Equal(t, 1, gate.successes)
	assert.Zero(t, gate.failures)
}

func TestEngineRunTurnFailureSkipsCommit(t *testing.T) {
	client := &scriptedClient{script: []any{
		&completion.Error{Kind: completion.KindQuota, Message: "insufficient_quota"},
	}}
	kv := store.NewMemoryKV()
	gate := &allowAll{}
	e := New(testConfig(), client, wordCoster{}, kv, zerolog.Nop(), WithGate(gate))

	conv := core.NewConversation("thread-1", "creator", "guild", "Nova")
	rec := &recorder{}

	res, err := e.RunTurn(context.Background(), conv, core.NewHumanEntry("u", "alice", "hi"), rec.notify)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State)

	assert.Empty(t, conv.History)
	_, err = kv.Get(context.Background(), "thread-1")
	assert.ErrorIs(t, err, store.ErrNotFound, "failed turns are not persisted")
	assert.Equal(t, 1, gate.failures)
}

func TestEngineGateDenied(t *testing.T) {
	e := New(testConfig(), &scriptedClient{}, wordCoster{}, store.NewMemoryKV(), zerolog.Nop(),
		WithGate(denyGate{}))

	conv := core.NewConversation("thread-1", "creator", "guild", "Nova")
	rec := &recorder{}

	_, err := e.RunTurn(context.Background(), conv, core.NewHumanEntry("u", "alice", "hi"), rec.notify)
	assert.ErrorIs(t, err, ErrGateDenied)
	assert.Empty(t, rec.notes, "the gate refusal emits no notification")
}

type denyGate struct{}

func (denyGate) Check(ctx context.Context, userID string) (GateResult, error) {
	return GateResult{Allowed: false, Reason: "rate limited"}, nil
}
func (denyGate) RecordSuccess(ctx context.Context, userID string) {}
func (denyGate) RecordFailure(ctx context.Context, userID string) {}

func TestEngineLoadCacheTriState(t *testing.T) {
	kv := store.NewMemoryKV()
	cache, err := store.NewCache(100, time.Minute)
	require.NoError(t, err)
	e := New(testConfig(), &scriptedClient{}, wordCoster{}, kv, zerolog.Nop(), WithCache(cache))
	ctx := context.Background()

	// Miss goes to the store and caches the absence.
	_, err = e.Load(ctx, "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
	cache.Wait()
	_, presence := cache.Get("ghost")
	assert.Equal(t, store.PresenceAbsent, presence)

	// Persist populates the cache; a reload returns the same object.
	conv := core.NewConversation("thread-1", "creator", "guild", "Nova")
	require.NoError(t, e.Persist(ctx, conv))
	cache.Wait()

	loaded, err := e.Load(ctx, "thread-1")
	require.NoError(t, err)
	assert.Same(t, conv, loaded)
}

func TestEngineSummaryRefreshCadence(t *testing.T) {
	turnResp := &completion.Response{Text: "reply", FinishReason: completion.FinishStop}
	summaryResp := &completion.Response{Text: "They discussed gardening.", FinishReason: completion.FinishStop}
	client := &scriptedClient{script: []any{turnResp, summaryResp, turnResp, turnResp, summaryResp}}

	cfg := testConfig()
	cfg.SummaryEvery = 2
	e := New(cfg, client, wordCoster{}, store.NewMemoryKV(), zerolog.Nop(),
		WithSummarizer(NewSummarizer(client, "test-model", 200, zerolog.Nop())))

	conv := core.NewConversation("thread-1", "creator", "guild", "Nova")
	ctx := context.Background()
	rec := &recorder{}

	// First turn: refresh fires and re-arms the counter.
	_, err := e.RunTurn(ctx, conv, core.NewHumanEntry("u", "alice", "about gardening"), rec.notify)
	require.NoError(t, err)
	assert.Equal(t, "They discussed gardening.", conv.Summary)
	assert.Equal(t, 2, conv.SummaryDue)

	// Second turn counts down; third refreshes again.
	_, err = e.RunTurn(ctx, conv, core.NewHumanEntry("u", "alice", "more"), rec.notify)
	require.NoError(t, err)
	assert.Equal(t, 1, conv.SummaryDue)

	_, err = e.RunTurn(ctx, conv, core.NewHumanEntry("u", "alice", "again"), rec.notify)
	require.NoError(t, err)
	assert.Equal(t, 2, conv.SummaryDue)
	assert.Empty(t, client.script, "both summary refreshes consumed the script")
}

func TestEngineDeleteLastCascades(t *testing.T) {
	kv := store.NewMemoryKV()
	idx := newFakeIndex()
	e := New(testConfig(), &scriptedClient{}, wordCoster{}, kv, zerolog.Nop(),
		WithMemory(idx, flatEmbedder{}))

	conv := core.NewConversation("thread-1", "creator", "guild", "Nova")
	older := core.NewHumanEntry("u", "alice", "keep me")
	h := core.NewHumanEntry("u", "alice", "drop me")
	h.VectorID = h.ID
	r := core.NewResponseEntry("Nova", "dropped reply", core.Usage{})
	r.VectorID = r.ID
	conv.History = []*core.Entry{older, h, r}

	require.NoError(t, e.DeleteLast(context.Background(), conv, 2))

	require.Len(t, conv.History, 1)
	assert.Equal(t, "keep me", conv.History[0].Content)
	assert.ElementsMatch(t, []string{h.ID, r.ID}, idx.deleted)
}

func TestEngineMarkDeletedPurges(t *testing.T) {
	kv := store.NewMemoryKV()
	idx := newFakeIndex()
	e := New(testConfig(), &scriptedClient{}, wordCoster{}, kv, zerolog.Nop(),
		WithMemory(idx, flatEmbedder{}))

	conv := core.NewConversation("thread-1", "creator", "guild", "Nova")
	require.NoError(t, e.MarkDeleted(context.Background(), conv))

	assert.True(t, conv.Deleted)
	assert.Equal(t, []string{"thread-1"}, idx.purged)

	loaded, err := e.Load(context.Background(), "thread-1")
	require.NoError(t, err)
	assert.True(t, loaded.Deleted)
}
