// Package continuation drives a generative call to a complete response.
// Models stop mid-thought when they hit token ceilings; the controller
// detects the truncation, asks the model to continue from the last word,
// and assembles the pieces. It also rejects degenerate replies (empty or
// pad-character repetition) before they waste continuation turns.
package continuation

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/aelwyn/go-drafter/internal/domain"
	"github.com/aelwyn/go-drafter/internal/gateway"
)

// DefaultMaxTurns is the continuation budget for one logical call.
const DefaultMaxTurns = 4

// completedSentinel is the reply a model gives when asked to continue a
// response it already finished.
const completedSentinel = "completed."

// continueInstruction asks the model to resume exactly where it stopped.
const continueInstruction = "Continue your previous response from the last word onward, " +
	"without repeating. Do not restart or summarize. " +
	"If you already finished, reply only with 'completed.'"

// terminalRunes are the characters a finished response plausibly ends
// with: sentence punctuation plus the markup a table, list, code fence,
// or quote closes on.
const terminalRunes = ".;!?`}\n|-*\"'>]”/】"

const (
	// degenerateRatio is the collapsed-to-compacted length ratio at which
	// a reply counts as pathological repetition.
	degenerateRatio = 9

	// collapsedRunLen is what an overlong pad run is shortened to before
	// the ratio is computed, so a single legitimate horizontal rule or
	// aligned table cannot tip the verdict on its own.
	collapsedRunLen = 100

	// tailLen bounds the assembled-text tail carried in ExhaustedError.
	tailLen = 160
)

var (
	dashRunRe  = regexp.MustCompile(`-{101,}`)
	spaceRunRe = regexp.MustCompile(` {101,}`)
)

// Gateway is the consumed collaborator that performs one generative
// exchange.
type Gateway interface {
	Invoke(ctx context.Context, req *gateway.Request) (*gateway.Reply, error)
}

// Repairer normalizes assembled output against a record schema. It is
// best effort: a repair failure falls back to the unrepaired text.
type Repairer interface {
	Repair(ctx context.Context, text string, schema *domain.RecordSchema) (string, error)
}

// Config controls one controller.
type Config struct {
	// MaxTurns caps continuation requests per logical call. Zero means
	// DefaultMaxTurns.
	MaxTurns int

	// EndTokens, when set, replaces the terminal-character heuristic:
	// a reply is complete only when it ends with one of these tokens.
	EndTokens []string
}

// Controller runs the continuation state machine over a Gateway. A
// controller is stateless between calls and safe for concurrent use;
// all per-call state lives in the request's History, which is advanced
// strictly sequentially within one call.
type Controller struct {
	gateway  Gateway
	repairer Repairer
	cfg      Config
	logger   *slog.Logger
}

// NewController creates a controller. The repairer may be nil, in which
// case assembled text is returned as-is.
func NewController(gw Gateway, repairer Repairer, cfg Config) *Controller {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	return &Controller{
		gateway:  gw,
		repairer: repairer,
		cfg:      cfg,
		logger:   slog.Default().With("component", "continuation"),
	}
}

// Outcome is the assembled result of one driven call.
type Outcome struct {
	// Text is every assistant-authored turn concatenated in order,
	// after the repair step when a repairer is configured.
	Text string

	// Continuations is the number of continuation exchanges completed.
	Continuations int

	// Usage aggregates token counts across the initial call and every
	// continuation.
	Usage gateway.NormalizedUsage

	// RequestIDs collects provider request IDs across all exchanges.
	RequestIDs []string
}

// Complete performs the initial generative call and continues it until
// the reply reads as finished. The request's History is advanced in
// place, so the caller sees the full exchange afterwards.
//
// The first reply is screened for degeneracy; an empty or pad-dominated
// reply fails immediately without any continuation request. Errors on
// continuation requests do not fail the call: the controller stops and
// proceeds with what was gathered. Exceeding the turn budget with the
// response still incomplete is an ExhaustedError.
//
// The schema is only consulted by the repair step and may be nil.
func (c *Controller) Complete(ctx context.Context, req *gateway.Request, schema *domain.RecordSchema) (*Outcome, error) {
	first, err := c.gateway.Invoke(ctx, req)
	if err != nil {
		return nil, err
	}

	out := &Outcome{}
	out.Usage.Add(first.Usage)
	out.RequestIDs = append(out.RequestIDs, first.ProviderRequestIDs...)

	if derr := screenDegenerate(first.Text); derr != nil {
		return nil, derr
	}
	req.History.AppendAssistant(first.Text)

	latest := first.Text
	for !isSentinel(latest) && !c.isComplete(latest) {
		if out.Continuations >= c.cfg.MaxTurns {
			return nil, &ExhaustedError{
				Turns: out.Continuations,
				Tail:  tail(req.History.AssistantText()),
			}
		}

		req.History.AppendUser(continueInstruction)
		reply, err := c.gateway.Invoke(ctx, req)
		if err != nil {
			// A failed continuation abandons only the continuation, not
			// the call: proceed with what was gathered.
			c.logger.Warn("continuation request failed, proceeding with partial response",
				"continuations", out.Continuations,
				"error", err)
			break
		}

		out.Continuations++
		out.Usage.Add(reply.Usage)
		out.RequestIDs = append(out.RequestIDs, reply.ProviderRequestIDs...)

		if isSentinel(reply.Text) {
			break
		}
		req.History.AppendAssistant(reply.Text)
		latest = reply.Text
	}

	out.Text = req.History.AssistantText()
	if c.repairer != nil && schema != nil {
		repaired, err := c.repairer.Repair(ctx, out.Text, schema)
		if err != nil {
			c.logger.Warn("output repair failed, keeping unrepaired text", "error", err)
		} else {
			out.Text = repaired
		}
	}
	return out, nil
}

// isComplete reports whether a reply reads as finished. An explicit
// end-token set takes precedence over the terminal-character heuristic.
func (c *Controller) isComplete(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if len(c.cfg.EndTokens) > 0 {
		for _, token := range c.cfg.EndTokens {
			if strings.HasSuffix(trimmed, token) {
				return true
			}
		}
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(trimmed)
	return strings.ContainsRune(terminalRunes, last)
}

func isSentinel(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), completedSentinel)
}

// screenDegenerate rejects replies with no substance. Pad runs longer
// than collapsedRunLen are first shortened to exactly that length, then
// the reply is compacted by dropping every space and dash; a compacted
// length of zero, or a collapsed-to-compacted ratio at or above
// degenerateRatio, is degenerate.
func screenDegenerate(text string) *DegenerateError {
	collapsed := dashRunRe.ReplaceAllString(text, strings.Repeat("-", collapsedRunLen))
	collapsed = spaceRunRe.ReplaceAllString(collapsed, strings.Repeat(" ", collapsedRunLen))

	compact := strings.NewReplacer(" ", "", "-", "").Replace(collapsed)
	if len(compact) == 0 {
		return &DegenerateError{RawLen: len(collapsed), CompactLen: 0, Ratio: 0}
	}
	ratio := len(collapsed) / len(compact)
	if ratio >= degenerateRatio {
		return &DegenerateError{RawLen: len(collapsed), CompactLen: len(compact), Ratio: ratio}
	}
	return nil
}

// tail returns the last tailLen bytes of text, trimmed at a rune
// boundary.
func tail(text string) string {
	if len(text) <= tailLen {
		return text
	}
	cut := text[len(text)-tailLen:]
	for len(cut) > 0 && !utf8.RuneStart(cut[0]) {
		cut = cut[1:]
	}
	return cut
}
