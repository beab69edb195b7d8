package decision

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rcs/ollama-discord/internal/conversation"
)

// contextWith builds a conversation context from (role, agent, age) tuples.
func contextWith(now time.Time, msgs ...conversation.Message) *conversation.Context {
	return &conversation.Context{ChannelID: "chan-1", UserID: "user-1", Messages: msgs, LastUpdated: now}
}

func agentMsg(agent string, age time.Duration, now time.Time) conversation.Message {
	return conversation.Message{Role: conversation.RoleAssistant, AgentName: agent, Content: "...", Timestamp: now.Add(-age)}
}

func userMsg(age time.Duration, now time.Time) conversation.Message {
	return conversation.Message{Role: conversation.RoleUser, Content: "...", Timestamp: now.Add(-age)}
}

func TestScore_BaseOnly(t *testing.T) {
	now := time.Now()
	// A recent post by the agent suppresses the no_recent_response boost.
	ctx := contextWith(now, agentMsg("sage", 30*time.Second, now))

	prob, heuristics := Score("sage", "hello there", ctx, now)
	assert.InDelta(t, 0.3, prob, 1e-9)
	assert.Empty(t, heuristics)
}

func TestScore_Mentioned(t *testing.T) {
	now := time.Now()
	ctx := contextWith(now, agentMsg("sage", 30*time.Second, now))

	prob, heuristics := Score("sage", "hey Sage, thoughts", ctx, now)
	assert.InDelta(t, 0.9, prob, 1e-9)
	assert.Equal(t, []string{HeuristicMentioned}, heuristics)
}

func TestScore_Question(t *testing.T) {
	now := time.Now()
	ctx := contextWith(now, agentMsg("sage", 30*time.Second, now))

	prob, heuristics := Score("sage", "what is it?", ctx, now)
	assert.InDelta(t, 0.6, prob, 1e-9)
	assert.Equal(t, []string{HeuristicQuestion}, heuristics)
}

func TestScore_ActiveConversation(t *testing.T) {
	now := time.Now()
	ctx := contextWith(now,
		userMsg(4*time.Minute, now),
		userMsg(3*time.Minute, now),
		userMsg(2*time.Minute, now),
		agentMsg("sage", time.Minute, now),
	)

	prob, heuristics := Score("sage", "hello", ctx, now)
	assert.InDelta(t, 0.5, prob, 1e-9)
	assert.Equal(t, []string{HeuristicActiveConversation}, heuristics)
}

func TestScore_ActiveConversationNeedsThreeRecent(t *testing.T) {
	now := time.Now()
	ctx := contextWith(now,
		userMsg(10*time.Minute, now),
		userMsg(2*time.Minute, now),
		agentMsg("sage", time.Minute, now),
	)

	_, heuristics := Score("sage", "hello", ctx, now)
	assert.NotContains(t, heuristics, HeuristicActiveConversation)
}

func TestScore_NoRecentResponse(t *testing.T) {
	now := time.Now()
	ctx := contextWith(now, agentMsg("sage", 10*time.Minute, now))

	prob, heuristics := Score("sage", "hello", ctx, now)
	assert.InDelta(t, 0.4, prob, 1e-9)
	assert.Equal(t, []string{HeuristicNoRecentResponse}, heuristics)
}

func TestScore_ClampsToOne(t *testing.T) {
	now := time.Now()
	ctx := contextWith(now,
		userMsg(3*time.Minute, now),
		userMsg(2*time.Minute, now),
		userMsg(time.Minute, now),
	)

	// mentioned + question + active + no_recent would exceed 1.0.
	prob, heuristics := Score("sage", "sage, what is it?", ctx, now)
	assert.InDelta(t, 1.0, prob, 1e-9)
	assert.Len(t, heuristics, 4)
}

func TestScore_IsDeterministic(t *testing.T) {
	now := time.Now()
	ctx := contextWith(now, agentMsg("sage", 30*time.Second, now))

	p1, h1 := Score("sage", "hey sage?", ctx, now)
	p2, h2 := Score("sage", "hey sage?", ctx, now)
	assert.Equal(t, p1, p2)
	assert.Equal(t, h1, h2)
}

func TestEngine_DecideSeededDraw(t *testing.T) {
	now := time.Now()
	ctx := contextWith(now, agentMsg("sage", 30*time.Second, now))

	// Same seed, same sequence of outcomes.
	run := func() []bool {
		e := NewEngine(0, 0, false, rand.New(rand.NewSource(42)), nil)
		var outcomes []bool
		for i := 0; i < 20; i++ {
			outcomes = append(outcomes, e.Decide("sage", "hello", ctx, now).Respond)
		}
		return outcomes
	}
	assert.Equal(t, run(), run())
}

func TestEngine_CertaintyAlwaysResponds(t *testing.T) {
	now := time.Now()
	ctx := contextWith(now,
		userMsg(3*time.Minute, now),
		userMsg(2*time.Minute, now),
		userMsg(time.Minute, now),
	)
	e := NewEngine(0, 0, false, rand.New(rand.NewSource(1)), nil)

	// Probability 1.0 responds regardless of the draw.
	for i := 0; i < 50; i++ {
		d := e.Decide("sage", "sage, what is it?", ctx, now)
		assert.True(t, d.Respond)
		assert.InDelta(t, 1.0, d.Probability, 1e-9)
	}
}

func TestEngine_AlwaysRespondMode(t *testing.T) {
	now := time.Now()
	ctx := contextWith(now, agentMsg("sage", 30*time.Second, now))
	e := NewEngine(0, 0, true, rand.New(rand.NewSource(1)), nil)

	for i := 0; i < 50; i++ {
		assert.True(t, e.Decide("sage", "hello", ctx, now).Respond)
	}
}

func TestEngine_DelayWithinRange(t *testing.T) {
	now := time.Now()
	ctx := contextWith(now, userMsg(time.Second, now))
	e := NewEngine(time.Second, 3*time.Second, true, rand.New(rand.NewSource(7)), nil)

	for i := 0; i < 50; i++ {
		d := e.Decide("sage", "hello", ctx, now)
		assert.GreaterOrEqual(t, d.Delay, time.Second)
		assert.LessOrEqual(t, d.Delay, 3*time.Second)
	}
}

func TestEngine_NoDelayWhenNotResponding(t *testing.T) {
	now := time.Now()
	ctx := contextWith(now, agentMsg("sage", 30*time.Second, now))
	e := NewEngine(time.Second, 3*time.Second, false, rand.New(rand.NewSource(3)), nil)

	sawReject := false
	for i := 0; i < 100; i++ {
		d := e.Decide("sage", "hello", ctx, now)
		if !d.Respond {
			sawReject = true
			assert.Zero(t, d.Delay)
		}
	}
	assert.True(t, sawReject, "base probability 0.3 must reject sometimes over 100 draws")
}
