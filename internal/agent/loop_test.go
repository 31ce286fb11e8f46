package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/markusylisiurunen/ticketdesk/internal/logger"
	"github.com/markusylisiurunen/ticketdesk/internal/pricing"
	"github.com/markusylisiurunen/ticketdesk/toolkit/llm"
	"github.com/markusylisiurunen/ticketdesk/toolkit/tool"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// scriptedModel answers each query with the next scripted step. A step sees
// the messages it was sent so it can echo tool results back.
type scriptedModel struct {
	mux   sync.Mutex
	steps []func(messages []llm.Message) []llm.Event
	calls [][]llm.Message
}

func (m *scriptedModel) Stream(ctx context.Context, messages []llm.Message, _ ...llm.StreamOption) <-chan llm.Event {
	m.mux.Lock()
	idx := len(m.calls)
	m.calls = append(m.calls, messages)
	m.mux.Unlock()
	ch := make(chan llm.Event)
	go func() {
		defer close(ch)
		if idx >= len(m.steps) {
			ch <- &llm.ErrorEvent{Err: fmt.Errorf("unexpected query %d", idx)}
			return
		}
		for _, e := range m.steps[idx](messages) {
			ch <- e
		}
	}()
	return ch
}

func text(s string) func([]llm.Message) []llm.Event {
	return func([]llm.Message) []llm.Event {
		return []llm.Event{&llm.ContentDeltaEvent{Content: s}, &llm.UsageEvent{Usage: llm.Usage{PromptTokens: 10, CompletionTokens: 2}}}
	}
}

func toolCalls(calls ...llm.ToolCall) func([]llm.Message) []llm.Event {
	return func([]llm.Message) []llm.Event {
		events := make([]llm.Event, 0, len(calls))
		for i, c := range calls {
			events = append(events, &llm.ToolUseEvent{ID: c.ID, Index: i, FuncName: c.Function.Name, FuncArgs: c.Function.Args})
		}
		return events
	}
}

func getPrice(id, city string) llm.ToolCall {
	return llm.ToolCall{ID: id, Function: llm.ToolCallFunction{
		Name: tool.GetTicketPriceName,
		Args: fmt.Sprintf(`{"destination_city":%q}`, city),
	}}
}

// echoLastToolPrice replies with the price found in the latest tool message.
func echoLastToolPrice(messages []llm.Message) []llm.Event {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleTool {
			price := gjson.Get(messages[i].Content.Text(), "price").Float()
			return []llm.Event{&llm.ContentDeltaEvent{Content: fmt.Sprintf("It costs $%.2f.", price)}}
		}
	}
	return []llm.Event{&llm.ErrorEvent{Err: errors.New("no tool result")}}
}

func newTestStore(t *testing.T) *pricing.Store {
	t.Helper()
	store, err := pricing.Open(context.Background(), filepath.Join(t.TempDir(), "prices.db"), logger.NoOp())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() }) //nolint:errcheck
	return store
}

func newTestLoop(t *testing.T, store *pricing.Store, model llm.Model, opts ...LoopOption) *Loop {
	t.Helper()
	handler := tool.NewHandler(
		tool.NewGetTicketPrice(pricing.NewResolver(store, logger.NoOp())),
		tool.NewSetTicketPrice(store),
	)
	return NewLoop(model, handler, append([]LoopOption{WithSystemPrompt("You are a ticket assistant.")}, opts...)...)
}

func TestLoopPlainReply(t *testing.T) {
	model := &scriptedModel{steps: []func([]llm.Message) []llm.Event{text("Hello! How can I help?")}}
	loop := newTestLoop(t, newTestStore(t), model)

	turn, err := loop.Run(context.Background(), nil, "hi")
	require.NoError(t, err)
	require.Equal(t, "Hello! How can I help?", turn.Reply)
	require.Equal(t, 0, turn.Rounds)
	require.Len(t, turn.History, 2)
	require.Equal(t, llm.RoleUser, turn.History[0].Role)
	require.Equal(t, llm.RoleAssistant, turn.History[1].Role)
	require.Equal(t, llm.Usage{PromptTokens: 10, CompletionTokens: 2}, turn.Usage)

	require.Len(t, model.calls, 1)
	require.Equal(t, llm.RoleSystem, model.calls[0][0].Role)
	require.Equal(t, "You are a ticket assistant.", model.calls[0][0].Content.Text())
	require.Equal(t, "hi", model.calls[0][1].Content.Text())
}

func TestLoopExecutesToolsInOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Set(ctx, "paris", 799))
	require.NoError(t, store.Set(ctx, "tokyo", 1420))
	model := &scriptedModel{steps: []func([]llm.Message) []llm.Event{
		toolCalls(getPrice("call_1", "Tokyo"), getPrice("call_2", "Paris"), llm.ToolCall{ID: "call_3", Function: llm.ToolCallFunction{Name: "bogus_tool", Args: "{}"}}),
		text("Tokyo is $1420 and Paris is $799."),
	}}
	loop := newTestLoop(t, store, model)

	var progressed []llm.Role
	turn, err := loop.Run(ctx, nil, "prices for tokyo and paris?", WithProgress(func(m llm.Message) {
		progressed = append(progressed, m.Role)
	}))
	require.NoError(t, err)
	require.Equal(t, "Tokyo is $1420 and Paris is $799.", turn.Reply)
	require.Equal(t, 1, turn.Rounds)

	h := turn.History
	require.Len(t, h, 6)
	require.Len(t, h[1].ToolCalls, 3)
	require.Equal(t, "call_1", h[2].ToolCallID)
	require.Equal(t, 1420.0, gjson.Get(h[2].Content.Text(), "price").Float())
	require.Equal(t, "call_2", h[3].ToolCallID)
	require.Equal(t, 799.0, gjson.Get(h[3].Content.Text(), "price").Float())
	require.Equal(t, "call_3", h[4].ToolCallID)
	require.Equal(t, "unknown tool: bogus_tool", gjson.Get(h[4].Content.Text(), "error").String())
	require.Equal(t, []llm.Role{llm.RoleUser, llm.RoleAssistant, llm.RoleTool, llm.RoleTool, llm.RoleTool, llm.RoleAssistant}, progressed)

	// second query carries the system prompt plus the whole working history
	require.Len(t, model.calls[1], 6)
}

func TestLoopSamePriceAcrossTurns(t *testing.T) {
	store := newTestStore(t)
	model := &scriptedModel{steps: []func([]llm.Message) []llm.Event{
		toolCalls(getPrice("call_1", "Dubai")),
		echoLastToolPrice,
		toolCalls(getPrice("call_2", "dubai")),
		echoLastToolPrice,
	}}
	loop := newTestLoop(t, store, model)

	first, err := loop.Run(context.Background(), nil, "How much to Dubai?")
	require.NoError(t, err)
	require.Equal(t, "newly_added", gjson.Get(first.History[2].Content.Text(), "status").String())

	second, err := loop.Run(context.Background(), first.History, "And Dubai again?")
	require.NoError(t, err)
	require.Equal(t, first.Reply, second.Reply)
	require.Equal(t, "existing", gjson.Get(second.History[len(second.History)-2].Content.Text(), "status").String())
}

func TestLoopRoundCap(t *testing.T) {
	steps := make([]func([]llm.Message) []llm.Event, 0, 3)
	for i := range 3 {
		steps = append(steps, toolCalls(getPrice(fmt.Sprintf("call_%d", i), "Lima")))
	}
	model := &scriptedModel{steps: steps}
	loop := newTestLoop(t, newTestStore(t), model, WithMaxRounds(2))

	turn, err := loop.Run(context.Background(), nil, "loop forever")
	require.NoError(t, err)
	require.True(t, turn.Capped)
	require.Equal(t, FallbackReply, turn.Reply)
	require.Len(t, model.calls, 3)

	last := turn.History[len(turn.History)-1]
	require.Equal(t, llm.RoleAssistant, last.Role)
	require.Empty(t, last.ToolCalls)
	require.Equal(t, FallbackReply, last.Content.Text())
	for _, msg := range turn.History {
		for _, call := range msg.ToolCalls {
			require.NotEqual(t, "call_2", call.ID, "unanswered tool call kept in history")
		}
	}
}

func TestLoopRoundCapKeepsLastText(t *testing.T) {
	withText := func(messages []llm.Message) []llm.Event {
		return append([]llm.Event{&llm.ContentDeltaEvent{Content: "Checking Lima..."}}, toolCalls(getPrice("call_x", "Lima"))(messages)...)
	}
	model := &scriptedModel{steps: []func([]llm.Message) []llm.Event{withText, withText}}
	loop := newTestLoop(t, newTestStore(t), model, WithMaxRounds(1))

	turn, err := loop.Run(context.Background(), nil, "lima?")
	require.NoError(t, err)
	require.True(t, turn.Capped)
	require.Equal(t, "Checking Lima...", turn.Reply)
}

func TestLoopModelErrorLeavesHistory(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	model := &scriptedModel{steps: []func([]llm.Message) []llm.Event{
		toolCalls(llm.ToolCall{ID: "call_1", Function: llm.ToolCallFunction{
			Name: tool.SetTicketPriceName,
			Args: `{"destination_city":"Rome","price":650}`,
		}}),
		func([]llm.Message) []llm.Event {
			return []llm.Event{&llm.ErrorEvent{Err: &llm.APIError{StatusCode: 429, Body: "rate limited"}}}
		},
	}}
	loop := newTestLoop(t, store, model)
	history := []llm.Message{
		llm.NewTextMessage(llm.RoleUser, "hi"),
		llm.NewTextMessage(llm.RoleAssistant, "hello"),
	}

	turn, err := loop.Run(ctx, history, "set rome to 650")
	var queryErr *ModelQueryError
	require.ErrorAs(t, err, &queryErr)
	var apiErr *llm.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Empty(t, turn.History)
	require.Len(t, history, 2)

	// the write that happened before the failure stays in the store
	price, ok, err := store.Get(ctx, "rome")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 650.0, price)
}

type slowModel struct{}

func (slowModel) Stream(ctx context.Context, _ []llm.Message, _ ...llm.StreamOption) <-chan llm.Event {
	ch := make(chan llm.Event)
	go func() {
		defer close(ch)
		<-ctx.Done()
		ch <- &llm.ErrorEvent{Err: ctx.Err()}
	}()
	return ch
}

func TestLoopModelTimeout(t *testing.T) {
	loop := newTestLoop(t, newTestStore(t), slowModel{}, WithModelTimeout(20*time.Millisecond))
	_, err := loop.Run(context.Background(), nil, "hi")
	require.ErrorIs(t, err, ErrModelTimeout)
}

func TestLoopParentCancel(t *testing.T) {
	loop := newTestLoop(t, newTestStore(t), slowModel{}, WithModelTimeout(time.Minute))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := loop.Run(ctx, nil, "hi")
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, ErrModelTimeout)
}

func TestNewLoopDefaults(t *testing.T) {
	loop := NewLoop(slowModel{}, tool.NewHandler(), WithMaxRounds(0), WithModelTimeout(-1))
	require.Equal(t, DefaultMaxRounds, loop.maxRounds)
	require.Equal(t, DefaultModelTimeout, loop.modelTimeout)
}
