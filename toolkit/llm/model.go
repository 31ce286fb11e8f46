package llm

import (
	"context"
	"strings"
)

// events ------------------------------------------------------------------------------------------

type Event any

type ContentDeltaEvent struct {
	Content string
}

type ToolUseEvent struct {
	ID       string
	Index    int
	FuncName string
	FuncArgs string
}

type UsageEvent struct {
	Usage Usage
}

type ErrorEvent struct {
	Err error
}

// messages ----------------------------------------------------------------------------------------

type Role string

const (
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
	RoleUser      Role = "user"
)

type ToolCallFunction struct {
	Name string
	Args string
}
type ToolCall struct {
	ID       string
	Index    int
	Function ToolCallFunction
}

type ContentPart any

type TextContentPart struct {
	Type string
	Text string
}

func NewTextContentPart(text string) TextContentPart {
	return TextContentPart{Type: "text", Text: text}
}

type ContentParts []ContentPart

func (c *ContentParts) AppendText(text string) {
	if c == nil {
		return
	}
	if len(*c) == 0 {
		*c = append(*c, NewTextContentPart(text))
	} else if p, ok := (*c)[len(*c)-1].(TextContentPart); ok {
		p.Text += text
		(*c)[len(*c)-1] = p
	} else {
		*c = append(*c, NewTextContentPart(text))
	}
}

func (c ContentParts) Text() string {
	var sb strings.Builder
	for _, part := range c {
		switch p := part.(type) {
		case TextContentPart:
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

type Message struct {
	Role       Role
	Content    ContentParts
	ToolCalls  []ToolCall
	Name       string
	ToolCallID string
}

func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Content: ContentParts{NewTextContentPart(text)}}
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
}

// model -------------------------------------------------------------------------------------------

type streamConfig struct {
	maxTokens   int
	temperature float64
	tools       []Tool
}

type StreamOption func(*streamConfig)

func WithMaxTokens(maxTokens int) StreamOption {
	return func(c *streamConfig) { c.maxTokens = maxTokens }
}
func WithTemperature(temperature float64) StreamOption {
	return func(c *streamConfig) { c.temperature = temperature }
}

// WithTools declares the tools the model may call during the turn. The model
// only reads their specs, calling them is up to the caller.
func WithTools(tools ...Tool) StreamOption {
	return func(c *streamConfig) { c.tools = append(c.tools, tools...) }
}

// Model streams a single assistant turn.
type Model interface {
	Stream(ctx context.Context, messages []Message, opts ...StreamOption) <-chan Event
}
