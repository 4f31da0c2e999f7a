package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"go.uber.org/goleak"

	"github.com/sagekit/sage/internal/log"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeCaller records each call and replays canned responses.
type fakeCaller struct {
	mu        sync.Mutex
	response  string
	err       error
	chunks    []string
	gotModel  string
	gotTemp   float32
	gotMsgs   [][]*ai.Message
	callCount int
}

func (c *fakeCaller) Generate(ctx context.Context, providerModel string, temperature float32, messages []*ai.Message, callback StreamCallback) (string, error) {
	c.mu.Lock()
	c.callCount++
	c.gotModel = providerModel
	c.gotTemp = temperature
	c.gotMsgs = append(c.gotMsgs, messages)
	c.mu.Unlock()

	if c.err != nil {
		return "", c.err
	}
	if callback != nil {
		for _, chunk := range c.chunks {
			if err := callback(ctx, chunk); err != nil {
				return "", err
			}
		}
	}
	return c.response, nil
}

func newTestGateway(t *testing.T, caller Caller) *Gateway {
	t.Helper()
	g, err := New(&Config{
		Caller: caller,
		Models: map[string]ModelSpec{
			"chat": {Provider: "googleai", Model: "gemini-2.0-flash", Temperature: 0.7},
			"fast": {Provider: "ollama", Model: "llama3.2", Temperature: 0.2},
		},
		Logger: log.NewNop(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return g
}

func messageText(m *ai.Message) string {
	var s string
	for _, p := range m.Content {
		s += p.Text
	}
	return s
}

func TestGatewayConfigValidation(t *testing.T) {
	logger := log.NewNop()
	if _, err := New(&Config{Logger: logger}); err == nil {
		t.Error("New() accepted config without caller or genkit")
	}
	if _, err := New(&Config{Caller: &fakeCaller{}, Logger: logger}); err == nil {
		t.Error("New() accepted config without models")
	}
}

func TestChatUnknownModel(t *testing.T) {
	g := newTestGateway(t, &fakeCaller{response: "hi"})

	_, err := g.Chat(context.Background(), "s1", "missing", "", []string{"hello"})
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("error = %v, want ErrModelNotFound", err)
	}
}

func TestChatResolvesProviderModel(t *testing.T) {
	caller := &fakeCaller{response: "hi"}
	g := newTestGateway(t, caller)

	if _, err := g.Chat(context.Background(), "s1", "fast", "", []string{"hello"}); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if caller.gotModel != "ollama/llama3.2" {
		t.Errorf("provider model = %q", caller.gotModel)
	}
	if caller.gotTemp != 0.2 {
		t.Errorf("temperature = %v, want 0.2", caller.gotTemp)
	}
}

func TestChatAccumulatesHistory(t *testing.T) {
	caller := &fakeCaller{response: "answer"}
	g := newTestGateway(t, caller)
	ctx := context.Background()

	if _, err := g.Chat(ctx, "s1", "chat", "", []string{"first question"}); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if _, err := g.Chat(ctx, "s1", "chat", "", []string{"second question"}); err != nil {
		t.Fatalf("turn 2: %v", err)
	}

	// Second call sees the first turn's user and model messages.
	msgs := caller.gotMsgs[1]
	if len(msgs) != 3 {
		t.Fatalf("turn 2 sent %d messages, want 3", len(msgs))
	}
	if messageText(msgs[0]) != "first question" || msgs[0].Role != ai.RoleUser {
		t.Errorf("msg 0 = %q (%s)", messageText(msgs[0]), msgs[0].Role)
	}
	if messageText(msgs[1]) != "answer" || msgs[1].Role != ai.RoleModel {
		t.Errorf("msg 1 = %q (%s)", messageText(msgs[1]), msgs[1].Role)
	}

	history := g.History("s1")
	if len(history) != 4 {
		t.Errorf("history has %d messages, want 4", len(history))
	}
}

func TestChatSystemPromptFirstWriterWins(t *testing.T) {
	caller := &fakeCaller{response: "ok"}
	g := newTestGateway(t, caller)
	ctx := context.Background()

	if _, err := g.Chat(ctx, "s1", "chat", "you are a historian", []string{"q1"}); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if _, err := g.Chat(ctx, "s1", "chat", "you are a pirate", []string{"q2"}); err != nil {
		t.Fatalf("turn 2: %v", err)
	}

	var systemMsgs []string
	for _, m := range g.History("s1") {
		if m.Role == ai.RoleSystem {
			systemMsgs = append(systemMsgs, messageText(m))
		}
	}
	if len(systemMsgs) != 1 {
		t.Fatalf("history has %d system messages, want 1", len(systemMsgs))
	}
	if systemMsgs[0] != "you are a historian" {
		t.Errorf("system prompt = %q, want the first writer's", systemMsgs[0])
	}

	// Turn 2 must not carry the replacement prompt either.
	for _, m := range caller.gotMsgs[1] {
		if m.Role == ai.RoleSystem && messageText(m) != "you are a historian" {
			t.Errorf("turn 2 sent system prompt %q", messageText(m))
		}
	}
}

func TestChatEmptyPromptDoesNotClaimSlot(t *testing.T) {
	caller := &fakeCaller{response: "ok"}
	g := newTestGateway(t, caller)
	ctx := context.Background()

	if _, err := g.Chat(ctx, "s1", "chat", "", []string{"q1"}); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if _, err := g.Chat(ctx, "s1", "chat", "late prompt", []string{"q2"}); err != nil {
		t.Fatalf("turn 2: %v", err)
	}

	found := false
	for _, m := range g.History("s1") {
		if m.Role == ai.RoleSystem && messageText(m) == "late prompt" {
			found = true
		}
	}
	if !found {
		t.Error("prompt from the first turn that supplied one was not injected")
	}
}

func TestChatFailureLeavesSessionUntouched(t *testing.T) {
	caller := &fakeCaller{err: errors.New("provider down")}
	g := newTestGateway(t, caller)

	if _, err := g.Chat(context.Background(), "s1", "chat", "prompt", []string{"q1"}); err == nil {
		t.Fatal("Chat() succeeded despite caller failure")
	}
	if h := g.History("s1"); len(h) != 0 {
		t.Errorf("failed turn left %d messages in history", len(h))
	}

	// The prompt slot stays open for the next successful turn.
	caller.err = nil
	caller.response = "ok"
	if _, err := g.Chat(context.Background(), "s1", "chat", "prompt", []string{"q1"}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if h := g.History("s1"); len(h) != 3 {
		t.Errorf("history has %d messages after retry, want 3", len(h))
	}
}

func TestChatStreamDeliversChunks(t *testing.T) {
	caller := &fakeCaller{response: "hello world", chunks: []string{"hello ", "world"}}
	g := newTestGateway(t, caller)

	var got []string
	text, err := g.ChatStream(context.Background(), "s1", "chat", "", []string{"q"},
		func(_ context.Context, chunk string) error {
			got = append(got, chunk)
			return nil
		})
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	if text != "hello world" {
		t.Errorf("final text = %q", text)
	}
	if len(got) != 2 || got[0] != "hello " || got[1] != "world" {
		t.Errorf("chunks = %q", got)
	}
}

func TestChatMultipleMessagesBecomeUserTurns(t *testing.T) {
	caller := &fakeCaller{response: "ok"}
	g := newTestGateway(t, caller)

	if _, err := g.Chat(context.Background(), "s1", "chat", "", []string{"part one", "part two"}); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	msgs := caller.gotMsgs[0]
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want 2", len(msgs))
	}
	for i, m := range msgs {
		if m.Role != ai.RoleUser {
			t.Errorf("message %d role = %s, want user", i, m.Role)
		}
	}
	if len(g.History("s1")) != 3 {
		t.Errorf("history has %d messages, want 3", len(g.History("s1")))
	}
}

func TestChatRejectsEmptyMessageList(t *testing.T) {
	g := newTestGateway(t, &fakeCaller{response: "ok"})
	if _, err := g.Chat(context.Background(), "s1", "chat", "", nil); err == nil {
		t.Error("Chat() accepted an empty message list")
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	caller := &fakeCaller{response: "ok"}
	g := newTestGateway(t, caller)
	ctx := context.Background()

	if _, err := g.Chat(ctx, "s1", "chat", "", []string{"q1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Chat(ctx, "s2", "chat", "", []string{"q2"}); err != nil {
		t.Fatal(err)
	}

	if g.sessions.len() != 2 {
		t.Errorf("session count = %d, want 2", g.sessions.len())
	}
	if len(caller.gotMsgs[1]) != 1 {
		t.Errorf("second session saw %d messages, want a fresh history of 1", len(caller.gotMsgs[1]))
	}
	if g.History("unknown") != nil {
		t.Error("History(unknown) should be nil")
	}
}

func TestConcurrentTurnsSerializePerSession(t *testing.T) {
	caller := &fakeCaller{response: "ok"}
	g := newTestGateway(t, caller)

	const turns = 20
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := g.Chat(context.Background(), "s1", "chat", "", []string{fmt.Sprintf("q%d", i)}); err != nil {
				t.Errorf("turn %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	history := g.History("s1")
	if len(history) != 2*turns {
		t.Fatalf("history has %d messages, want %d", len(history), 2*turns)
	}
	// Turns never interleave: user and model messages strictly alternate.
	for i, m := range history {
		wantRole := ai.RoleUser
		if i%2 == 1 {
			wantRole = ai.RoleModel
		}
		if m.Role != wantRole {
			t.Fatalf("message %d has role %s, want %s", i, m.Role, wantRole)
		}
	}
}
