// Package dialog maintains short-term conversation memory for a call, builds
// the business-specific prompt, invokes the language model, and post-processes
// the reply text for speech synthesis.
package dialog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/voxline-ai/voxline/pkg/provider/llm"
)

// Role identifies the speaker of a conversation turn.
type Role string

const (
	RoleCaller    Role = "caller"
	RoleAssistant Role = "assistant"
)

// Turn is one utterance in the conversation history. Turns are never mutated
// after creation; the full list forms the model's conversational memory for
// the session's lifetime only.
type Turn struct {
	Role Role
	Text string
	At   time.Time
}

// Customer holds the attributes known about the caller, injected into the
// prompt when available.
type Customer struct {
	Name  string
	Phone string
	Notes string
}

// Conversation is the read-only view of call state the orchestrator needs.
type Conversation struct {
	Turns    []Turn
	Customer Customer
}

// Config tunes the orchestrator.
type Config struct {
	// Instructions is the business-specific system instruction for this
	// deployment (who the agent is, what it sells, how it should speak).
	Instructions string

	// MaxContextTurns bounds how many recent turns are sent to the model,
	// keeping token cost and latency flat as calls grow long. Default: 12.
	MaxContextTurns int

	// MaxReplyTokens caps reply length. Voice replies must stay short.
	// Default: 200.
	MaxReplyTokens int

	// Temperature for the completion. Default: 0.7.
	Temperature float64

	// FallbackReply is spoken when the model fails. Default: a Hebrew apology.
	FallbackReply string
}

// DefaultFallbackReply is spoken when the language model cannot be reached.
const DefaultFallbackReply = "סליחה, לא הצלחתי להבין. אפשר לחזור על זה?"

// Orchestrator produces assistant replies. Safe for concurrent use across
// calls; it holds no per-call state.
type Orchestrator struct {
	provider llm.Provider
	cfg      Config
}

// New creates an Orchestrator over provider, filling config defaults.
func New(provider llm.Provider, cfg Config) *Orchestrator {
	if cfg.MaxContextTurns <= 0 {
		cfg.MaxContextTurns = 12
	}
	if cfg.MaxReplyTokens <= 0 {
		cfg.MaxReplyTokens = 200
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.FallbackReply == "" {
		cfg.FallbackReply = DefaultFallbackReply
	}
	return &Orchestrator{provider: provider, cfg: cfg}
}

// Respond generates the assistant reply for callerText given the conversation
// so far. The model is invoked at most once; on any failure the configured
// fallback phrase is returned instead, so a dialogue error can never
// terminate the call. The reply always passes through Normalize before being
// returned.
func (o *Orchestrator) Respond(ctx context.Context, conv Conversation, callerText string) string {
	req := llm.CompletionRequest{
		SystemPrompt: o.buildSystemPrompt(conv.Customer),
		Messages:     o.buildMessages(conv.Turns, callerText),
		Temperature:  o.cfg.Temperature,
		MaxTokens:    o.cfg.MaxReplyTokens,
	}

	resp, err := o.provider.Complete(ctx, req)
	if err != nil {
		slog.Error("dialog: completion failed, using fallback", "err", err)
		return Normalize(o.cfg.FallbackReply)
	}
	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		slog.Warn("dialog: empty completion, using fallback")
		return Normalize(o.cfg.FallbackReply)
	}
	return Normalize(reply)
}

// buildSystemPrompt combines the business instructions with known customer
// attributes.
func (o *Orchestrator) buildSystemPrompt(cust Customer) string {
	var b strings.Builder
	b.WriteString(o.cfg.Instructions)
	if cust.Name != "" {
		fmt.Fprintf(&b, "\nשם הלקוח: %s. פנה אליו בשמו.", cust.Name)
	}
	if cust.Notes != "" {
		fmt.Fprintf(&b, "\nמידע קודם על הלקוח: %s", cust.Notes)
	}
	b.WriteString("\nענה בקצרה ובשפה דבורה, משפט או שניים, בלי רשימות ובלי עיצוב טקסט.")
	return b.String()
}

// buildMessages converts the most recent turns plus the new caller text into
// the model's message list.
func (o *Orchestrator) buildMessages(turns []Turn, callerText string) []llm.Message {
	recent := turns
	if len(recent) > o.cfg.MaxContextTurns {
		recent = recent[len(recent)-o.cfg.MaxContextTurns:]
	}

	msgs := make([]llm.Message, 0, len(recent)+1)
	for _, t := range recent {
		role := "user"
		if t.Role == RoleAssistant {
			role = "assistant"
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Text})
	}
	return append(msgs, llm.Message{Role: "user", Content: callerText})
}
