// ABOUTME: Probabilistic response-decision engine for agents sharing a channel
// ABOUTME: Pure additive scoring plus a seedable accept draw and pacing delay

package decision

import (
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rcs/ollama-discord/internal/conversation"
)

// Heuristic names carried in Decision.Heuristics, for logging and tests.
const (
	HeuristicMentioned          = "mentioned"
	HeuristicQuestion           = "question"
	HeuristicActiveConversation = "active_conversation"
	HeuristicNoRecentResponse   = "no_recent_response"
)

// Scoring weights and windows.
const (
	baseProbability   = 0.3
	mentionedBoost    = 0.6
	questionBoost     = 0.3
	activeBoost       = 0.2
	noRecentBoost     = 0.1
	activityWindow    = 5 * time.Minute
	activityThreshold = 3
	recentSelfWindow  = 2 * time.Minute
)

// Decision is the outcome for one (agent, message) pair.
type Decision struct {
	Respond     bool
	Probability float64
	Heuristics  []string
	Delay       time.Duration
}

// Engine turns a score into a respond/ignore decision with a pacing delay.
// The random source is injected so tests can seed it; a mutex guards it
// because *rand.Rand is not safe for concurrent use.
type Engine struct {
	delayMin      time.Duration
	delayMax      time.Duration
	alwaysRespond bool
	logger        *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewEngine creates an engine with the given delay range. A nil rng gets a
// time-seeded source. alwaysRespond skips the accept draw, for agents
// configured to answer everything that passes the ledger.
func NewEngine(delayMin, delayMax time.Duration, alwaysRespond bool, rng *rand.Rand, logger *slog.Logger) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = slog.Default()
	}
	if delayMax < delayMin {
		delayMax = delayMin
	}
	return &Engine{
		delayMin:      delayMin,
		delayMax:      delayMax,
		alwaysRespond: alwaysRespond,
		logger:        logger.With("component", "decision"),
		rng:           rng,
	}
}

// Score computes the response probability for agent given the message
// content and the conversation so far. It is pure: same inputs, same
// output, no randomness.
func Score(agent, content string, ctx *conversation.Context, now time.Time) (float64, []string) {
	prob := baseProbability
	var heuristics []string

	lower := strings.ToLower(content)
	name := strings.ToLower(agent)
	if strings.Contains(lower, name) || strings.Contains(lower, "@"+name) {
		prob += mentionedBoost
		heuristics = append(heuristics, HeuristicMentioned)
	}

	if strings.Contains(content, "?") {
		prob += questionBoost
		heuristics = append(heuristics, HeuristicQuestion)
	}

	if len(ctx.MessagesSince(now.Add(-activityWindow))) >= activityThreshold {
		prob += activeBoost
		heuristics = append(heuristics, HeuristicActiveConversation)
	}

	if !agentPostedSince(ctx, agent, now.Add(-recentSelfWindow)) {
		prob += noRecentBoost
		heuristics = append(heuristics, HeuristicNoRecentResponse)
	}

	if prob > 1.0 {
		prob = 1.0
	}
	return prob, heuristics
}

func agentPostedSince(ctx *conversation.Context, agent string, since time.Time) bool {
	for _, m := range ctx.AgentMessages(agent) {
		if m.Timestamp.After(since) {
			return true
		}
	}
	return false
}

// Decide scores the message and draws the accept/reject outcome. Only the
// draw and the delay sample are randomized.
func (e *Engine) Decide(agent, content string, ctx *conversation.Context, now time.Time) Decision {
	prob, heuristics := Score(agent, content, ctx, now)

	d := Decision{Probability: prob, Heuristics: heuristics}

	e.mu.Lock()
	if e.alwaysRespond {
		d.Respond = true
	} else {
		d.Respond = e.rng.Float64() < prob
	}
	if d.Respond {
		d.Delay = e.sampleDelayLocked()
	}
	e.mu.Unlock()

	e.logger.Debug("response decision",
		"agent", agent,
		"respond", d.Respond,
		"probability", d.Probability,
		"heuristics", d.Heuristics,
		"delay", d.Delay,
	)
	return d
}

// sampleDelayLocked draws a uniform delay from [delayMin, delayMax].
// Caller holds mu.
func (e *Engine) sampleDelayLocked() time.Duration {
	span := e.delayMax - e.delayMin
	if span <= 0 {
		return e.delayMin
	}
	return e.delayMin + time.Duration(e.rng.Int63n(int64(span)+1))
}
