package orchestrator

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcs/ollama-discord/internal/conversation"
	"github.com/rcs/ollama-discord/internal/coordination"
	"github.com/rcs/ollama-discord/internal/decision"
	"github.com/rcs/ollama-discord/internal/ollama"
)

// fakeCompleter returns a canned reply or error and records the transcript.
type fakeCompleter struct {
	reply string
	err   error

	mu    sync.Mutex
	calls [][]ollama.Turn
}

func (f *fakeCompleter) Complete(ctx context.Context, turns []ollama.Turn) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, turns)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeNotifier records deliveries and plain notices.
type fakeNotifier struct {
	mu      sync.Mutex
	sent    []string
	notices []string
	err     error
}

func (f *fakeNotifier) Send(ctx context.Context, channelID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, content)
	return f.err
}

func (f *fakeNotifier) SendChunked(ctx context.Context, channelID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, content)
	return nil
}

func testAgent(t *testing.T, name string, patterns []string, completer Completer) *Agent {
	t.Helper()

	matcher, err := coordination.NewChannelMatcher(patterns)
	require.NoError(t, err)

	return &Agent{
		Name:         name,
		SystemPrompt: "You are " + name + ".",
		Matcher:      matcher,
		Store:        conversation.NewMemoryStore(100),
		Completer:    completer,
		Engine:       decision.NewEngine(0, 0, true, rand.New(rand.NewSource(1)), nil),
	}
}

func testOrchestrator(notifier Notifier) (*Orchestrator, *coordination.Ledger) {
	ledger := coordination.NewLedger(1, time.Millisecond, nil, nil)
	return New(ledger, notifier, 20, nil), ledger
}

func sageMessage(content, channel string) InboundMessage {
	return InboundMessage{
		MessageID:   "msg-1",
		ChannelID:   "100",
		ChannelName: channel,
		UserID:      "user-1",
		Username:    "alice",
		Content:     content,
	}
}

func TestHandleMessage_FullPipeline(t *testing.T) {
	completer := &fakeCompleter{reply: "it is a question"}
	notifier := &fakeNotifier{}
	o, ledger := testOrchestrator(notifier)
	agent := testAgent(t, "sage", []string{"bambam"}, completer)

	handled := o.HandleMessage(context.Background(), agent, sageMessage("Hey sage, what is it?", "bambam"))
	assert.True(t, handled)

	// The reply was delivered and both turns were stored.
	assert.Equal(t, []string{"it is a question"}, notifier.sent)

	c, err := agent.Store.GetContext(context.Background(), "100", "user-1")
	require.NoError(t, err)
	require.Len(t, c.Messages, 2)
	assert.Equal(t, conversation.RoleUser, c.Messages[0].Role)
	assert.Equal(t, "alice", c.Messages[0].Metadata["username"])
	assert.Equal(t, conversation.RoleAssistant, c.Messages[1].Role)
	assert.Equal(t, "sage", c.Messages[1].AgentName)

	// The transcript opened with the system preamble and ended with the
	// inbound message.
	require.Equal(t, 1, completer.callCount())
	turns := completer.calls[0]
	assert.Equal(t, "system", turns[0].Role)
	assert.Equal(t, "Hey sage, what is it?", turns[len(turns)-1].Content)

	// The active entry was released.
	assert.Empty(t, ledger.ChannelActivity("bambam").Active)
}

func TestHandleMessage_UnassignedChannel(t *testing.T) {
	completer := &fakeCompleter{reply: "never"}
	notifier := &fakeNotifier{}
	o, _ := testOrchestrator(notifier)
	agent := testAgent(t, "sage", []string{"bambam"}, completer)

	handled := o.HandleMessage(context.Background(), agent, sageMessage("Hey sage, what is it?", "random"))
	assert.False(t, handled)

	// Rejection has zero side effects: nothing stored, model never called.
	c, err := agent.Store.GetContext(context.Background(), "100", "user-1")
	require.NoError(t, err)
	assert.Empty(t, c.Messages)
	assert.Zero(t, completer.callCount())
	assert.Empty(t, notifier.sent)
}

func TestHandleMessage_CompleterFailure(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("model unavailable")}
	notifier := &fakeNotifier{}
	o, ledger := testOrchestrator(notifier)
	agent := testAgent(t, "sage", []string{"bambam"}, completer)

	handled := o.HandleMessage(context.Background(), agent, sageMessage("hello sage", "bambam"))
	assert.False(t, handled)

	// Exactly one plain error notice, no reply, ledger released.
	require.Len(t, notifier.notices, 1)
	assert.Contains(t, notifier.notices[0], "sage")
	assert.Empty(t, notifier.sent)
	assert.Empty(t, ledger.ChannelActivity("bambam").Active)
}

func TestHandleMessage_DeclinedKeepsInboundStored(t *testing.T) {
	completer := &fakeCompleter{reply: "unused"}
	notifier := &fakeNotifier{}
	ledger := coordination.NewLedger(1, time.Millisecond, nil, nil)
	o := New(ledger, notifier, 20, nil)

	agent := testAgent(t, "sage", []string{"bambam"}, completer)
	agent.Engine = decision.NewEngine(0, 0, false, rand.New(rand.NewSource(0)), nil)

	var handled, stored bool
	for i := 0; i < 50 && !stored; i++ {
		msg := sageMessage("hello there", "bambam")
		handled = o.HandleMessage(context.Background(), agent, msg)
		if !handled {
			stored = true
		}
		ledger.ResetChannel("bambam")
	}
	require.True(t, stored, "a 0.4 probability must decline within 50 draws")

	// Declined messages still land in history; no reply was attempted for them.
	c, err := agent.Store.GetContext(context.Background(), "100", "user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, c.Messages)
	assert.Equal(t, conversation.RoleUser, c.Messages[0].Role)
}

func TestHandleMessage_AgentAuthorIgnored(t *testing.T) {
	completer := &fakeCompleter{reply: "never"}
	notifier := &fakeNotifier{}
	o, _ := testOrchestrator(notifier)
	agent := testAgent(t, "sage", []string{"bambam"}, completer)

	msg := sageMessage("I am another agent", "bambam")
	msg.AuthorIsAgent = true

	assert.False(t, o.HandleMessage(context.Background(), agent, msg))
	assert.Zero(t, completer.callCount())
}

func TestHandleMessage_CongestionBlocksSecondAgent(t *testing.T) {
	notifier := &fakeNotifier{}
	ledger := coordination.NewLedger(1, time.Hour, nil, nil)
	o := New(ledger, notifier, 20, nil)

	first := testAgent(t, "sage", []string{"bambam"}, &fakeCompleter{reply: "from sage"})
	second := testAgent(t, "spark", []string{"bambam"}, &fakeCompleter{reply: "from spark"})

	assert.True(t, o.HandleMessage(context.Background(), first, sageMessage("hello?", "bambam")))

	// sage's completed response sits in the recent log for an hour.
	assert.False(t, o.HandleMessage(context.Background(), second, sageMessage("hello?", "bambam")))
	assert.Equal(t, []string{"from sage"}, notifier.sent)
}

func TestHandleMessage_CancelledDuringDelay(t *testing.T) {
	completer := &fakeCompleter{reply: "late"}
	notifier := &fakeNotifier{}
	ledger := coordination.NewLedger(1, time.Millisecond, nil, nil)
	o := New(ledger, notifier, 20, nil)

	agent := testAgent(t, "sage", []string{"bambam"}, completer)
	agent.Engine = decision.NewEngine(time.Minute, time.Minute, true, rand.New(rand.NewSource(1)), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() {
		done <- o.HandleMessage(ctx, agent, sageMessage("hello sage", "bambam"))
	}()

	cancel()
	select {
	case handled := <-done:
		assert.False(t, handled)
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not return after cancellation")
	}

	// The ledger entry was still released.
	assert.Empty(t, ledger.ChannelActivity("bambam").Active)
	assert.Zero(t, completer.callCount())
}

func TestHandleMessage_DeliveryFailure(t *testing.T) {
	completer := &fakeCompleter{reply: "lost"}
	notifier := &fakeNotifier{err: errors.New("platform down")}
	o, ledger := testOrchestrator(notifier)
	agent := testAgent(t, "sage", []string{"bambam"}, completer)

	handled := o.HandleMessage(context.Background(), agent, sageMessage("hello sage", "bambam"))
	assert.False(t, handled)
	assert.Empty(t, ledger.ChannelActivity("bambam").Active)

	// An error notice was still attempted, even though the platform is the
	// thing that is failing.
	require.Len(t, notifier.notices, 1)
	assert.Contains(t, notifier.notices[0], "sage")
}

func TestBuildTurns_RolesNormalized(t *testing.T) {
	msgs := []conversation.Message{
		{Role: conversation.RoleUser, Content: "hi"},
		{Role: conversation.RoleAssistant, Content: "hello"},
		{Role: "weird", Content: "??"},
	}

	turns := buildTurns("preamble", msgs)
	require.Len(t, turns, 4)
	assert.Equal(t, ollama.Turn{Role: "system", Content: "preamble"}, turns[0])
	assert.Equal(t, "user", turns[1].Role)
	assert.Equal(t, "assistant", turns[2].Role)
	assert.Equal(t, "user", turns[3].Role, "unknown roles degrade to user")
}
