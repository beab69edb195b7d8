// ABOUTME: Per-message response pipeline composing ledger, store, decision engine, and LLM
// ABOUTME: Guarantees ledger release on every exit path and contains all downstream errors

package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rcs/ollama-discord/internal/conversation"
	"github.com/rcs/ollama-discord/internal/coordination"
	"github.com/rcs/ollama-discord/internal/decision"
	"github.com/rcs/ollama-discord/internal/ollama"
)

// Completer produces one completion for an ordered chat transcript. It is
// satisfied by *ollama.Client; tests substitute fakes.
type Completer interface {
	Complete(ctx context.Context, turns []ollama.Turn) (string, error)
}

// Notifier delivers agent output back to the chat platform. SendChunked
// must split content that exceeds the platform's message size limit.
type Notifier interface {
	Send(ctx context.Context, channelID, content string) error
	SendChunked(ctx context.Context, channelID, content string) error
}

// Agent bundles one agent's identity with its collaborators. Each agent
// owns its store and completer; the ledger and notifier are shared.
type Agent struct {
	Name         string
	SystemPrompt string
	Matcher      *coordination.ChannelMatcher
	Store        conversation.Store
	Completer    Completer
	Engine       *decision.Engine
}

// InboundMessage is one chat message as seen by the pipeline.
type InboundMessage struct {
	MessageID     string
	ChannelID     string
	ChannelName   string
	ChannelType   string
	UserID        string
	Username      string
	Content       string
	AuthorIsAgent bool
}

// Orchestrator runs the response pipeline for every (agent, message) pair.
type Orchestrator struct {
	ledger       *coordination.Ledger
	notifier     Notifier
	contextDepth int
	logger       *slog.Logger

	nowFunc func() time.Time
}

// New creates an orchestrator. contextDepth bounds how many stored messages
// are replayed to the model; <= 0 defaults to 20.
func New(ledger *coordination.Ledger, notifier Notifier, contextDepth int, logger *slog.Logger) *Orchestrator {
	if contextDepth <= 0 {
		contextDepth = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		ledger:       ledger,
		notifier:     notifier,
		contextDepth: contextDepth,
		logger:       logger.With("component", "orchestrator"),
		nowFunc:      time.Now,
	}
}

// HandleMessage runs the full pipeline for one agent and one message, and
// reports whether the agent produced a response. It never returns an error:
// every failure past admission is logged, surfaced to the channel as one
// best-effort notice, and collapsed into handled=false. The ledger entry
// taken by MarkResponding is released on every exit path.
func (o *Orchestrator) HandleMessage(ctx context.Context, agent *Agent, msg InboundMessage) bool {
	log := o.logger.With("agent", agent.Name, "channel", msg.ChannelName, "message_id", msg.MessageID)

	admitted, reason := o.ledger.Admit(agent.Name, agent.Matcher, coordination.Inbound{
		Channel:       msg.ChannelName,
		UserID:        msg.UserID,
		Content:       msg.Content,
		AuthorIsAgent: msg.AuthorIsAgent,
	})
	if !admitted {
		log.Debug("not admitted", "reason", reason)
		return false
	}

	// Admit reserved the active entry; release it on every exit path.
	defer o.ledger.MarkComplete(agent.Name, msg.ChannelName)

	if _, err := agent.Store.AddMessage(ctx, msg.ChannelID, msg.UserID, conversation.RoleUser, msg.Content, "", map[string]string{
		"username":     msg.Username,
		"channel_name": msg.ChannelName,
		"channel_type": msg.ChannelType,
		"message_id":   msg.MessageID,
	}); err != nil {
		log.Error("failed to store inbound message", "error", err)
		o.notifyError(ctx, agent, msg.ChannelID)
		return false
	}

	convo, err := agent.Store.GetContext(ctx, msg.ChannelID, msg.UserID)
	if err != nil {
		log.Error("failed to load conversation", "error", err)
		o.notifyError(ctx, agent, msg.ChannelID)
		return false
	}

	d := agent.Engine.Decide(agent.Name, msg.Content, convo, o.nowFunc())
	if !d.Respond {
		log.Debug("declined to respond", "probability", d.Probability, "heuristics", d.Heuristics)
		return false
	}

	if err := sleep(ctx, d.Delay); err != nil {
		log.Debug("cancelled during pacing delay")
		return false
	}

	turns := buildTurns(agent.SystemPrompt, convo.Recent(o.contextDepth))
	completion, err := agent.Completer.Complete(ctx, turns)
	if err != nil {
		log.Error("completion failed", "error", err)
		o.notifyError(ctx, agent, msg.ChannelID)
		return false
	}

	if _, err := agent.Store.AddMessage(ctx, msg.ChannelID, msg.UserID, conversation.RoleAssistant, completion, agent.Name, nil); err != nil {
		// History lags by one turn; still deliver the reply.
		log.Warn("failed to store assistant message", "error", err)
	}

	if err := o.notifier.SendChunked(ctx, msg.ChannelID, completion); err != nil {
		log.Error("failed to deliver response", "error", err)
		o.notifyError(ctx, agent, msg.ChannelID)
		return false
	}

	log.Info("responded",
		"probability", d.Probability,
		"heuristics", d.Heuristics,
		"delay", d.Delay,
	)
	return true
}

// buildTurns assembles the model transcript: the agent's system preamble
// followed by the recent conversation, the inbound message last.
func buildTurns(systemPrompt string, msgs []conversation.Message) []ollama.Turn {
	turns := make([]ollama.Turn, 0, len(msgs)+1)
	if systemPrompt != "" {
		turns = append(turns, ollama.Turn{Role: "system", Content: systemPrompt})
	}
	for _, m := range msgs {
		role := m.Role
		if role != conversation.RoleAssistant && role != conversation.RoleSystem {
			role = conversation.RoleUser
		}
		turns = append(turns, ollama.Turn{Role: role, Content: m.Content})
	}
	return turns
}

// notifyError sends one best-effort plain notice; delivery failures are
// only logged.
func (o *Orchestrator) notifyError(ctx context.Context, agent *Agent, channelID string) {
	notice := fmt.Sprintf("%s ran into a problem and could not respond.", agent.Name)
	if err := o.notifier.Send(ctx, channelID, notice); err != nil {
		o.logger.Debug("error notice delivery failed", "agent", agent.Name, "error", err)
	}
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
