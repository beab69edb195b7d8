// ABOUTME: CoordinationLedger tracking active and recent responders per channel
// ABOUTME: Gates admission so concurrent agents never pile onto one message

package coordination

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rcs/ollama-discord/internal/ratelimit"
)

// Admission rejection reasons, reported for logging and asserted in tests.
const (
	ReasonAgentAuthor = "agent_author"
	ReasonCommand     = "command"
	ReasonChannel     = "channel_not_assigned"
	ReasonRateLimited = "rate_limited"
	ReasonCongested   = "channel_congested"
)

// Inbound is the slice of a chat message the ledger needs to gate on.
type Inbound struct {
	Channel       string
	UserID        string
	Content       string
	AuthorIsAgent bool
}

// recentResponse is one RecentResponseLog entry.
type recentResponse struct {
	agent string
	at    time.Time
}

// Ledger is the shared per-channel bookkeeping of who is responding now and
// who responded recently. One instance is shared by every agent in the
// process; it is always injected, never package state, so tests get
// independent ledgers.
type Ledger struct {
	maxConcurrent int
	cooldown      time.Duration
	limiter       *ratelimit.Limiter
	logger        *slog.Logger

	mu     sync.Mutex
	active map[string]map[string]bool
	recent map[string][]recentResponse

	nowFunc func() time.Time
}

// NewLedger creates a ledger. maxConcurrent <= 0 defaults to 1. A nil
// limiter disables the rate-limit gate.
func NewLedger(maxConcurrent int, cooldown time.Duration, limiter *ratelimit.Limiter, logger *slog.Logger) *Ledger {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		maxConcurrent: maxConcurrent,
		cooldown:      cooldown,
		limiter:       limiter,
		logger:        logger.With("component", "ledger"),
		active:        make(map[string]map[string]bool),
		recent:        make(map[string][]recentResponse),
		nowFunc:       time.Now,
	}
}

// Admit runs the ordered gates for one (agent, message) pair: identity,
// membership, rate limit, congestion. On success it atomically reserves
// the agent's active entry, so two agents can never both clear a
// one-slot channel; the caller must release the entry with MarkComplete
// on every exit path. A rejection leaves the ledger and the user's
// rate-limit budget untouched. Returns the rejection reason when not
// admitted.
func (l *Ledger) Admit(agent string, matcher *ChannelMatcher, msg Inbound) (bool, string) {
	if msg.AuthorIsAgent {
		return false, ReasonAgentAuthor
	}
	if strings.HasPrefix(msg.Content, "!") {
		return false, ReasonCommand
	}

	if !matcher.Matches(msg.Channel) {
		return false, ReasonChannel
	}

	if l.limiter.Remaining(msg.UserID) == 0 {
		l.logger.Debug("rate limited", "agent", agent, "user_id", msg.UserID)
		return false, ReasonRateLimited
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(msg.Channel)
	if len(l.active[msg.Channel]) >= l.maxConcurrent || len(l.recent[msg.Channel]) >= l.maxConcurrent {
		l.logger.Debug("channel congested",
			"agent", agent,
			"channel", msg.Channel,
			"active", len(l.active[msg.Channel]),
			"recent", len(l.recent[msg.Channel]),
		)
		return false, ReasonCongested
	}

	// The user's budget is consumed only by an admission that sticks; an
	// agent turned away at congestion leaves it untouched. Allow re-checks
	// under the limiter's own lock in case a concurrent admission for the
	// same user spent the last token after the peek above.
	if !l.limiter.Allow(msg.UserID) {
		l.logger.Debug("rate limited", "agent", agent, "user_id", msg.UserID)
		return false, ReasonRateLimited
	}

	l.markRespondingLocked(agent, msg.Channel)
	return true, ""
}

// MarkResponding records that agent has begun responding in channel. Every
// call must be paired with MarkComplete, normally via defer. Admit calls
// this itself on success; it is exported for callers that bypass admission.
func (l *Ledger) MarkResponding(agent, channel string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.markRespondingLocked(agent, channel)
}

func (l *Ledger) markRespondingLocked(agent, channel string) {
	if l.active[channel] == nil {
		l.active[channel] = make(map[string]bool)
	}
	l.active[channel][agent] = true
}

// MarkComplete clears agent from the channel's active set, prunes stale
// recent entries, and appends a fresh timestamped entry so the cooldown
// gate counts this response.
func (l *Ledger) MarkComplete(agent, channel string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.active[channel], agent)
	if len(l.active[channel]) == 0 {
		delete(l.active, channel)
	}

	l.pruneLocked(channel)
	l.recent[channel] = append(l.recent[channel], recentResponse{agent: agent, at: l.nowFunc()})
}

// pruneLocked drops recent entries older than the cooldown. Caller holds mu.
func (l *Ledger) pruneLocked(channel string) {
	cutoff := l.nowFunc().Add(-l.cooldown)
	kept := l.recent[channel][:0]
	for _, r := range l.recent[channel] {
		if r.at.After(cutoff) {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		delete(l.recent, channel)
		return
	}
	l.recent[channel] = kept
}

// Activity is a point-in-time view of one channel's ledger state.
type Activity struct {
	Active []string
	Recent []string
}

// ChannelActivity reports who is responding now and who responded within
// the cooldown, for status commands and debugging.
func (l *Ledger) ChannelActivity(channel string) Activity {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(channel)

	var a Activity
	for agent := range l.active[channel] {
		a.Active = append(a.Active, agent)
	}
	sort.Strings(a.Active)
	for _, r := range l.recent[channel] {
		a.Recent = append(a.Recent, r.agent)
	}
	return a
}

// ResetChannel wipes all ledger state for a channel.
func (l *Ledger) ResetChannel(channel string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.active, channel)
	delete(l.recent, channel)
}
