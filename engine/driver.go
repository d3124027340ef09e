// Package engine runs conversation turns: it assembles prompts, drives the
// possibly multi-round completion call, commits finished turns to history
// and long-term memory, and persists the conversation.
package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/keelworks/convene/completion"
	"github.com/keelworks/convene/core"
	"github.com/keelworks/convene/history"
	"github.com/keelworks/convene/metrics"
	"github.com/keelworks/convene/prompt"
)

// State is the driver's position in a turn.
type State int

const (
	StateAssembling State = iota
	StateCalling
	StateContinue
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAssembling:
		return "assembling"
	case StateCalling:
		return "calling"
	case StateContinue:
		return "continue"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	// maxStructuredRetries bounds retry of well-formed backend errors.
	maxStructuredRetries = 3

	// maxRounds bounds the continuation loop on top of the shrinking
	// prompt budget, so a pathological backend cannot spin the driver.
	maxRounds = 10
)

// User-facing notices for terminal failures. The backend's own message is
// surfaced only for structured errors.
const (
	transportNotice = "I couldn't reach the language model. Please try again in a moment."
	quotaNotice     = "The language model account is out of quota. Please check the billing status."
	malformedNotice = "The language model returned an unusable response. Please try again."
	assemblyNotice  = "That message is too long for this conversation's budget. Try something shorter."
)

// Notification is one progress event from a running turn. Exactly one
// final notification is emitted per turn; non-final ones carry the text
// accumulated so far.
type Notification struct {
	Text  string
	Final bool
	// Failed marks the single terminal notification of a failed turn; its
	// Text is the user-facing notice.
	Failed bool
}

// NotifyFunc consumes progress notifications. Delivery errors do not fail
// the turn; they are logged and the turn proceeds.
type NotifyFunc func(ctx context.Context, n Notification) error

// Result is the outcome of a driven turn.
type Result struct {
	State State

	// Text is the full accumulated response for a StateDone result.
	Text string

	// Human and Response are the entries appended to history on StateDone,
	// nil otherwise.
	Human    *core.Entry
	Response *core.Entry

	Rounds int
	Usage  core.Usage

	// Notice is the user-facing text of a StateFailed result.
	Notice string
}

// Driver executes the completion state machine for single turns. It is
// stateless across turns and safe to share.
type Driver struct {
	client completion.Client
	coster history.Coster
	log    zerolog.Logger
}

// NewDriver creates a driver over the given backend.
func NewDriver(client completion.Client, coster history.Coster, log zerolog.Logger) *Driver {
	return &Driver{client: client, coster: coster, log: log}
}

// TurnInput is everything one turn needs.
type TurnInput struct {
	Conversation *core.Conversation
	Log          *history.Log
	Assembler    *prompt.Assembler

	// Turn is the current human entry; it is appended to history only
	// when the turn completes.
	Turn *core.Entry

	// Model and MaxResponseTokens configure each completion round.
	Model             string
	MaxResponseTokens int

	Notify NotifyFunc
}

// Run drives one turn to DONE or FAILED. On DONE the human and response
// entries are appended to the history log; persistence is the caller's
// step. Exactly one final notification is emitted either way.
func (d *Driver) Run(ctx context.Context, in TurnInput) *Result {
	start := time.Now()
	defer func() {
		metrics.TurnDuration.Observe(time.Since(start).Seconds())
	}()

	var (
		acc     strings.Builder
		usage   core.Usage
		rounds  int
		retries int
		req     completion.Request
	)

	state := StateAssembling
	for {
		switch state {
		case StateAssembling:
			p, err := in.Assembler.Assemble(ctx, in.Turn, acc.String())
			if err != nil {
				d.log.Error().Err(err).
					Str("conversation", in.Conversation.ThreadID).
					Msg("prompt assembly failed")
				return d.fail(ctx, in, completion.KindMalformed, assemblyNotice)
			}
			req = completion.Request{
				Model:       in.Model,
				Prompt:      p,
				Temperature: in.Conversation.Temperature,
				MaxTokens:   in.MaxResponseTokens,
				User:        in.Turn.UserID,
			}
			state = StateCalling

		case StateCalling:
			if ctx.Err() != nil {
				return d.fail(ctx, in, completion.KindTransport, transportNotice)
			}
			rounds++

			resp, err := d.client.Complete(ctx, req)
			if err != nil {
				next, notice, retry := d.classify(err, retries)
				if retry {
					retries++
					metrics.CompletionRetries.Inc()
					d.log.Warn().Err(err).
						Int("attempt", retries).
						Str("conversation", in.Conversation.ThreadID).
						Msg("retrying structured backend error")
					continue
				}
				return d.fail(ctx, in, next, notice)
			}

			retries = 0
			acc.WriteString(resp.Text)
			usage.PromptTokens += resp.Usage.PromptTokens
			usage.CompletionTokens += resp.Usage.CompletionTokens

			if resp.FinishReason == completion.FinishLength && rounds < maxRounds {
				state = StateContinue
				break
			}
			if resp.FinishReason == completion.FinishLength {
				d.log.Warn().
					Int("rounds", rounds).
					Str("conversation", in.Conversation.ThreadID).
					Msg("continuation ceiling reached, finalizing truncated response")
			}
			state = StateDone

		case StateContinue:
			metrics.CompletionRounds.WithLabelValues("continue").Inc()
			d.notify(ctx, in, Notification{Text: acc.String()})
			state = StateAssembling

		case StateDone:
			metrics.CompletionRounds.WithLabelValues("done").Inc()
			return d.finish(ctx, in, acc.String(), usage, rounds)

		default:
			// StateFailed is returned directly from fail.
			return d.fail(ctx, in, completion.KindMalformed, malformedNotice)
		}
	}
}

// classify maps a backend error onto the driver's reaction: the error kind
// for metrics, the user-facing notice, and whether to retry instead.
func (d *Driver) classify(err error, retries int) (completion.ErrorKind, string, bool) {
	var cerr *completion.Error
	if !errors.As(err, &cerr) {
		return completion.KindTransport, transportNotice, false
	}

	switch cerr.Kind {
	case completion.KindQuota:
		return completion.KindQuota, quotaNotice, false
	case completion.KindStructured:
		if retries < maxStructuredRetries {
			return completion.KindStructured, "", true
		}
		return completion.KindStructured, "The language model reported: " + cerr.Message, false
	case completion.KindMalformed:
		return completion.KindMalformed, malformedNotice, false
	default:
		return completion.KindTransport, transportNotice, false
	}
}

// finish commits the turn: both entries appended exactly once, then the
// single final notification.
func (d *Driver) finish(ctx context.Context, in TurnInput, text string, usage core.Usage, rounds int) *Result {
	in.Turn.NumTokens = d.coster.EntryCost(in.Turn)
	in.Turn.FixedTokens = true
	in.Log.Append(in.Turn)

	response := core.NewResponseEntry(in.Conversation.Persona, text, usage)
	response.NumTokens = d.coster.EntryCost(response)
	response.FixedTokens = true
	in.Log.Append(response)

	d.notify(ctx, in, Notification{Text: text, Final: true})

	return &Result{
		State:    StateDone,
		Text:     text,
		Human:    in.Turn,
		Response: response,
		Rounds:   rounds,
		Usage:    usage,
	}
}

func (d *Driver) fail(ctx context.Context, in TurnInput, kind completion.ErrorKind, notice string) *Result {
	metrics.CompletionRounds.WithLabelValues("failed").Inc()
	metrics.CompletionFailures.WithLabelValues(kind.String()).Inc()
	d.notify(ctx, in, Notification{Text: notice, Final: true, Failed: true})
	return &Result{State: StateFailed, Notice: notice}
}

func (d *Driver) notify(ctx context.Context, in TurnInput, n Notification) {
	if in.Notify == nil {
		return
	}
	if err := in.Notify(ctx, n); err != nil {
		d.log.Warn().Err(err).
			Bool("final", n.Final).
			Str("conversation", in.Conversation.ThreadID).
			Msg("progress notification failed")
	}
}
