// Package prompt composes the bounded prompt sent to the completion
// backend: instruction preamble, optional long-term-memory excerpts, the
// token-budgeted recency window, and the current turn, closed by a cue
// line naming the assistant persona.
package prompt

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/keelworks/convene/core"
	"github.com/keelworks/convene/history"
	"github.com/keelworks/convene/memory"
)

// TurnSeparator closes assistant turns in rendered history so the model
// learns where its own statements end. Human turns carry no separator.
const TurnSeparator = "<|endofstatement|>"

const (
	relevantHeader = "Earlier parts of the conversation that may be relevant:"
	recentHeader   = "Recent conversation:"

	// queryContextEntries is how many trailing history entries join the
	// current turn to form the retrieval query.
	queryContextEntries = 4

	// admitFloor stops greedy admission of relevant entries once the
	// leftover budget drops this low.
	admitFloor = 50
)

// defaultPreamble is used when the conversation has no custom preamble.
// {bot} is replaced by the persona name.
const defaultPreamble = "Instructions for {bot}: you are {bot}, a thoughtful conversational " +
	"assistant in a group chat. Speak naturally in the flow of the conversation, stay " +
	"consistent with what has been said before, and be concise unless asked for depth. " +
	"The text " + TurnSeparator + " marks the end of each of your statements."

// Config bounds assembly.
type Config struct {
	// MaxPromptTokens is the total token allowance for the assembled
	// prompt.
	MaxPromptTokens int

	// RecentBudget caps the recency window, before clamping to whatever
	// budget is actually available.
	RecentBudget int

	// RecencyWeight is the retrieval blend weight; small values keep
	// retrieval close to pure similarity.
	RecencyWeight float64

	// Timestamps toggles the timestamp prefix on rendered entries.
	Timestamps bool
}

// Assembler builds the prompt for the rounds of a single turn. It performs
// at most one relevance retrieval per turn: continuation rounds reuse the
// cached result. Not safe for concurrent use; create one per turn.
type Assembler struct {
	cfg       Config
	conv      *core.Conversation
	log       *history.Log
	coster    history.Coster
	retriever *memory.Retriever
	embedder  memory.Embedder
	logger    zerolog.Logger

	retrieved     []memory.Relevance
	retrievalDone bool
}

// NewAssembler creates the assembler for one turn. retriever and embedder
// may be nil, which disables long-term memory for the turn.
func NewAssembler(cfg Config, conv *core.Conversation, log *history.Log, coster history.Coster, retriever *memory.Retriever, embedder memory.Embedder, logger zerolog.Logger) *Assembler {
	return &Assembler{
		cfg:       cfg,
		conv:      conv,
		log:       log,
		coster:    coster,
		retriever: retriever,
		embedder:  embedder,
		logger:    logger,
	}
}

// Assemble produces the prompt for one round. turn is the current human
// entry (not yet appended to history); partial is the response text
// accumulated by earlier rounds of this turn, empty on the first round.
func (a *Assembler) Assemble(ctx context.Context, turn *core.Entry, partial string) (string, error) {
	preamble := a.preamble()
	turnText := renderEntry(turn, a.cfg.Timestamps)

	available := a.cfg.MaxPromptTokens -
		a.coster.Count(preamble) -
		a.coster.Count(partial) -
		a.coster.Count(turnText)
	if available <= 0 {
		return "", fmt.Errorf("prompt: no budget left after preamble and current turn (%d tokens over)", -available)
	}

	// Young conversations: everything fits, no windowing or retrieval.
	if a.log.TotalTokens(a.coster) <= available {
		return a.render(preamble, nil, a.log.Entries(), turnText, partial), nil
	}

	recentBudget := a.cfg.RecentBudget
	if recentBudget > available {
		recentBudget = available
	}
	recent := a.log.LastNByTokens(a.coster, recentBudget, true)

	relevant := a.admitRelevant(ctx, turn, recent, available)

	return a.render(preamble, relevant, recent, turnText, partial), nil
}

// admitRelevant selects long-term-memory entries: retrieved once per turn,
// deduplicated against the recency window, admitted greedily by weighted
// score into the leftover budget, then re-sorted chronologically so the
// rendered block reads in time order.
func (a *Assembler) admitRelevant(ctx context.Context, turn *core.Entry, recent []*core.Entry, available int) []*core.Entry {
	a.retrieveOnce(ctx, turn)
	if len(a.retrieved) == 0 {
		return nil
	}

	inRecent := make(map[string]struct{}, len(recent))
	remaining := available
	for _, e := range recent {
		inRecent[e.ID] = struct{}{}
		remaining -= a.coster.EntryCost(e)
	}

	var admitted []*core.Entry
	for _, rel := range a.retrieved {
		if remaining <= admitFloor {
			break
		}
		entry := a.log.At(rel.Position)
		if _, dup := inRecent[entry.ID]; dup {
			continue
		}
		cost := a.coster.EntryCost(entry)
		if cost > remaining {
			continue
		}
		admitted = append(admitted, entry)
		inRecent[entry.ID] = struct{}{}
		remaining -= cost
	}

	sort.Slice(admitted, func(i, j int) bool {
		return admitted[i].Timestamp != nil && admitted[j].Timestamp != nil &&
			admitted[i].Timestamp.Before(*admitted[j].Timestamp)
	})
	return admitted
}

// retrieveOnce runs the relevance search on the first round of the turn
// and caches the sorted result for continuation rounds.
func (a *Assembler) retrieveOnce(ctx context.Context, turn *core.Entry) {
	if a.retrievalDone {
		return
	}
	a.retrievalDone = true

	if a.retriever == nil || a.embedder == nil {
		return
	}

	query := a.queryText(turn)
	vec, err := a.embedder.Embed(ctx, query)
	if err != nil {
		a.logger.Warn().Err(err).Msg("query embedding failed, skipping long-term memory this turn")
		return
	}

	rels := a.retriever.Retrieve(ctx, a.conv.ThreadID, vec, a.log, a.cfg.RecencyWeight)
	sort.Slice(rels, func(i, j int) bool { return rels[i].Weighted > rels[j].Weighted })
	a.retrieved = rels
}

// queryText joins the last few history entries with the current turn to
// contextualize the similarity search.
func (a *Assembler) queryText(turn *core.Entry) string {
	var parts []string
	start := a.log.Len() - queryContextEntries
	if start < 0 {
		start = 0
	}
	for i := start; i < a.log.Len(); i++ {
		parts = append(parts, a.log.At(i).Content)
	}
	parts = append(parts, turn.Content)
	return strings.Join(parts, "\n")
}

func (a *Assembler) preamble() string {
	base := a.conv.Preamble
	if base == "" {
		base = strings.ReplaceAll(defaultPreamble, "{bot}", a.conv.Persona)
	}
	if a.conv.Summary != "" {
		base += "\nSummary of the conversation so far: " + a.conv.Summary
	}
	return base
}

// render lays the prompt out: preamble, optional labeled relevant block,
// labeled recent block with the current turn, then the persona cue line.
// On continuation rounds the accumulated partial follows the cue so the
// model picks up where it was truncated.
func (a *Assembler) render(preamble string, relevant, recent []*core.Entry, turnText, partial string) string {
	var b strings.Builder
	b.WriteString(preamble)
	b.WriteString("\n")

	if len(relevant) > 0 {
		b.WriteString(relevantHeader)
		b.WriteString("\n")
		for _, e := range relevant {
			b.WriteString(renderEntry(e, a.cfg.Timestamps))
			b.WriteString("\n")
		}
		b.WriteString(recentHeader)
		b.WriteString("\n")
	}

	for _, e := range recent {
		b.WriteString(renderEntry(e, a.cfg.Timestamps))
		b.WriteString("\n")
	}
	b.WriteString(turnText)
	b.WriteString("\n")

	b.WriteString(a.conv.Persona)
	b.WriteString(":")
	if partial != "" {
		b.WriteString(" ")
		b.WriteString(partial)
	}
	return b.String()
}

// renderEntry formats one history entry: optional timestamp, speaker name,
// trimmed content, and the turn separator on assistant turns only.
func renderEntry(e *core.Entry, timestamps bool) string {
	var b strings.Builder
	if timestamps && e.Timestamp != nil {
		b.WriteString(e.Timestamp.UTC().Format("2006-01-02 15:04"))
		b.WriteString(" ")
	}
	b.WriteString(e.Name)
	b.WriteString(": ")
	b.WriteString(strings.TrimSpace(e.Content))
	if e.Kind == core.KindResponse {
		b.WriteString(" ")
		b.WriteString(TurnSeparator)
	}
	return b.String()
}
