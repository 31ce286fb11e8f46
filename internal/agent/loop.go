package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/markusylisiurunen/ticketdesk/internal/logger"
	"github.com/markusylisiurunen/ticketdesk/toolkit/llm"
	"github.com/markusylisiurunen/ticketdesk/toolkit/tool"
)

const (
	DefaultMaxRounds    = 5
	DefaultModelTimeout = 60 * time.Second

	FallbackReply = "I'm sorry, I was unable to complete that request."
)

// Turn is the outcome of one user message.
type Turn struct {
	Reply   string
	History []llm.Message
	Usage   llm.Usage
	Rounds  int
	Capped  bool
}

type LoopOption func(*Loop)

func WithSystemPrompt(prompt string) LoopOption {
	return func(l *Loop) { l.system = prompt }
}

// WithMaxRounds caps the number of tool-execution rounds in a single turn.
func WithMaxRounds(rounds int) LoopOption {
	return func(l *Loop) { l.maxRounds = rounds }
}

// WithModelTimeout bounds each model query, tool execution is not covered.
func WithModelTimeout(timeout time.Duration) LoopOption {
	return func(l *Loop) { l.modelTimeout = timeout }
}

func WithStreamOptions(opts ...llm.StreamOption) LoopOption {
	return func(l *Loop) { l.streamOptions = append(l.streamOptions, opts...) }
}

func WithLogger(logger logger.Logger) LoopOption {
	return func(l *Loop) { l.logger = logger }
}

// Loop drives the exchange between the model and the tools for a single user
// message. It holds no conversation state and can be shared across sessions.
type Loop struct {
	logger        logger.Logger
	model         llm.Model
	handler       *tool.Handler
	system        string
	maxRounds     int
	modelTimeout  time.Duration
	streamOptions []llm.StreamOption
}

func NewLoop(model llm.Model, handler *tool.Handler, opts ...LoopOption) *Loop {
	l := &Loop{
		logger:       logger.NoOp(),
		model:        model,
		handler:      handler,
		maxRounds:    DefaultMaxRounds,
		modelTimeout: DefaultModelTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.maxRounds <= 0 {
		l.maxRounds = DefaultMaxRounds
	}
	if l.modelTimeout <= 0 {
		l.modelTimeout = DefaultModelTimeout
	}
	return l
}

type runConfig struct {
	progress func(llm.Message)
}

type RunOption func(*runConfig)

// WithProgress is called with every message appended during the turn, in
// order, before the turn completes.
func WithProgress(fn func(llm.Message)) RunOption {
	return func(c *runConfig) { c.progress = fn }
}

// Run answers text given the prior history. On success the returned turn
// carries the updated history; on failure history is not modified and no
// partial messages are returned.
func (l *Loop) Run(ctx context.Context, history []llm.Message, text string, opts ...RunOption) (Turn, error) {
	var config runConfig
	for _, opt := range opts {
		opt(&config)
	}
	appendMsg := func(working []llm.Message, msg llm.Message) []llm.Message {
		if config.progress != nil {
			config.progress(msg)
		}
		return append(working, msg)
	}
	working := make([]llm.Message, 0, len(history)+4)
	working = append(working, history...)
	working = appendMsg(working, llm.NewTextMessage(llm.RoleUser, text))
	var usage llm.Usage
	var lastText string
	for rounds := 0; ; rounds++ {
		msg, u, err := l.query(ctx, working)
		usage.Add(u)
		if err != nil {
			l.logger.Error("turn aborted after %d rounds: %s", rounds, err.Error())
			return Turn{}, err
		}
		if content := msg.Content.Text(); strings.TrimSpace(content) != "" {
			lastText = content
		}
		if len(msg.ToolCalls) == 0 {
			working = appendMsg(working, msg)
			return Turn{Reply: msg.Content.Text(), History: working, Usage: usage, Rounds: rounds}, nil
		}
		if rounds >= l.maxRounds {
			// the unanswered tool calls are dropped so the history stays valid
			reply := lastText
			if reply == "" {
				reply = FallbackReply
			}
			l.logger.Error("tool round limit of %d reached, returning fallback reply", l.maxRounds)
			working = appendMsg(working, llm.NewTextMessage(llm.RoleAssistant, reply))
			return Turn{Reply: reply, History: working, Usage: usage, Rounds: rounds, Capped: true}, nil
		}
		working = appendMsg(working, msg)
		for _, call := range msg.ToolCalls {
			res := l.handler.Dispatch(ctx, tool.InvocationFrom(call))
			working = appendMsg(working, llm.Message{
				Role:       llm.RoleTool,
				Content:    llm.ContentParts{llm.NewTextContentPart(res.Content)},
				Name:       res.Name,
				ToolCallID: res.CallID,
			})
		}
	}
}

func (l *Loop) query(ctx context.Context, working []llm.Message) (llm.Message, llm.Usage, error) {
	qctx, cancel := context.WithTimeout(ctx, l.modelTimeout)
	defer cancel()
	messages := make([]llm.Message, 0, len(working)+1)
	if l.system != "" {
		messages = append(messages, llm.NewTextMessage(llm.RoleSystem, l.system))
	}
	messages = append(messages, working...)
	opts := append(slices.Clone(l.streamOptions), llm.WithTools(l.handler.Tools()...))
	msg, usage, err := llm.Rollup(l.model.Stream(qctx, messages, opts...))
	if err != nil {
		if ctx.Err() == nil && errors.Is(qctx.Err(), context.DeadlineExceeded) {
			return llm.Message{}, usage, fmt.Errorf("%w after %s", ErrModelTimeout, l.modelTimeout)
		}
		return llm.Message{}, usage, &ModelQueryError{Err: err}
	}
	return msg, usage, nil
}
