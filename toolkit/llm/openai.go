package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/markusylisiurunen/ticketdesk/internal/logger"
	"github.com/tidwall/gjson"
)

var _ Model = (*OpenAI)(nil)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

type OpenAIOption func(*OpenAI)

// WithBaseURL points the client at any OpenAI compatible chat completions API.
func WithBaseURL(baseURL string) OpenAIOption {
	return func(o *OpenAI) { o.baseURL = strings.TrimRight(baseURL, "/") }
}

type OpenAI struct {
	logger  logger.Logger
	token   string
	model   string
	baseURL string
	client  *http.Client
}

func NewOpenAI(logger logger.Logger, token, model string, opts ...OpenAIOption) *OpenAI {
	o := &OpenAI{
		logger:  logger,
		token:   token,
		model:   model,
		baseURL: defaultOpenAIBaseURL,
		client:  &http.Client{Timeout: 300 * time.Second /* 5 min */},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *OpenAI) Stream(ctx context.Context, messages []Message, opts ...StreamOption) <-chan Event {
	config := o.generationConfig(opts...)
	ch := make(chan Event)
	go func() {
		defer close(ch)
		o.streamTurn(ctx, messages, config, ch)
	}()
	return ch
}

func (o *OpenAI) streamTurn(ctx context.Context, messages []Message, config streamConfig, ch chan<- Event) {
	resp, err := o.request(ctx, messages, config)
	if err != nil {
		ch <- &ErrorEvent{Err: err}
		return
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			ch <- &ErrorEvent{Err: fmt.Errorf("error reading response body: %w", err)}
		} else {
			ch <- &ErrorEvent{Err: &APIError{StatusCode: resp.StatusCode, Body: string(body)}}
		}
		return
	}
	var toolCallBuffer []*ToolUseEvent
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		select {
		case <-ctx.Done():
			ch <- &ErrorEvent{Err: ctx.Err()}
			return
		default:
		}
		if err != nil && !errors.Is(err, io.EOF) {
			ch <- &ErrorEvent{Err: fmt.Errorf("error reading stream: %w", err)}
			return
		}
		eof := errors.Is(err, io.EOF)
		line = strings.TrimSpace(line)
		raw, ok := strings.CutPrefix(line, "data: ")
		if !ok && strings.HasPrefix(line, "{") {
			raw, ok = line, true
		}
		if raw == "[DONE]" {
			break
		}
		if ok && raw != "" {
			if streamErr, failed := chunkError(raw); failed {
				o.logger.Error("chat completion stream failed: %v", streamErr)
				ch <- &ErrorEvent{Err: streamErr}
				return
			}
			var chunk openAI_Chunk
			if err := json.Unmarshal([]byte(raw), &chunk); err != nil {
				ch <- &ErrorEvent{Err: fmt.Errorf("error parsing chat completion chunk: %w", err)}
				return
			}
			toolCallBuffer = o.processChunk(chunk, ch, toolCallBuffer)
		}
		if eof {
			break
		}
	}
	for _, toolCall := range toolCallBuffer {
		if toolCall != nil {
			ch <- toolCall
		}
	}
}

// chunkError reports the error object of a chunk, if it carries one.
func chunkError(raw string) (StreamError, bool) {
	e := gjson.Get(raw, "error")
	if !e.Exists() || e.Type == gjson.Null {
		return StreamError{}, false
	}
	if !e.IsObject() {
		return StreamError{Message: e.String()}, true
	}
	return StreamError{
		Code:    e.Get("code").String(),
		Type:    e.Get("type").String(),
		Message: e.Get("message").String(),
	}, true
}

func (o *OpenAI) processChunk(chunk openAI_Chunk, ch chan<- Event, toolCallBuffer []*ToolUseEvent) []*ToolUseEvent {
	if chunk.Usage != nil {
		ch <- &UsageEvent{Usage: Usage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
		}}
	}
	if len(chunk.Choices) == 0 {
		return toolCallBuffer
	}
	delta := chunk.Choices[0].Delta
	if delta == nil {
		return toolCallBuffer
	}
	if delta.Content != "" {
		ch <- &ContentDeltaEvent{Content: delta.Content}
	}
	for _, toolCall := range delta.ToolCalls {
		index := toolCall.Index
		if index < 0 {
			o.logger.Error("ignoring tool call delta with negative index %d", index)
			continue
		}
		for len(toolCallBuffer) <= index {
			toolCallBuffer = append(toolCallBuffer, nil)
		}
		var name, args string
		if toolCall.Function != nil {
			name, args = toolCall.Function.Name, toolCall.Function.Arguments
		}
		if toolCallBuffer[index] == nil {
			toolCallBuffer[index] = &ToolUseEvent{
				ID:       toolCall.ID,
				Index:    index,
				FuncName: name,
				FuncArgs: args,
			}
		} else {
			if toolCall.ID != "" {
				toolCallBuffer[index].ID = toolCall.ID
			}
			toolCallBuffer[index].FuncName += name
			toolCallBuffer[index].FuncArgs += args
		}
	}
	return toolCallBuffer
}

func (o *OpenAI) request(ctx context.Context, messages []Message, config streamConfig) (*http.Response, error) {
	payload := openAI_Request{
		MaxTokens:     config.maxTokens,
		Messages:      []openAI_Message{},
		Model:         o.model,
		Stream:        true,
		StreamOptions: openAI_Request_StreamOptions{IncludeUsage: true},
		Temperature:   config.temperature,
	}
	for _, msg := range messages {
		var m openAI_Message
		if err := m.from(msg); err != nil {
			return nil, fmt.Errorf("error converting message: %w", err)
		}
		payload.Messages = append(payload.Messages, m)
	}
	if len(config.tools) > 0 {
		payload.Tools = make([]openAI_Request_Tool, len(config.tools))
		for i, tool := range config.tools {
			name, description, parameters := tool.Spec()
			payload.Tools[i] = openAI_Request_Tool{
				Type: "function",
				Function: &openAI_Request_Tool_Function{
					Name:        name,
					Description: description,
					Parameters:  parameters,
				},
			}
		}
	}
	var data bytes.Buffer
	encoder := json.NewEncoder(&data)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(payload); err != nil {
		return nil, fmt.Errorf("error marshalling request: %w", err)
	}
	o.logger.Debug("chat completion request with %d messages and %d tools", len(payload.Messages), len(payload.Tools))
	req, err := http.NewRequestWithContext(ctx,
		http.MethodPost, o.baseURL+"/chat/completions", &data)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.token)
	req.Header.Set("Content-Type", "application/json")
	return o.client.Do(req)
}

func (o *OpenAI) generationConfig(opts ...StreamOption) streamConfig {
	c := streamConfig{
		maxTokens:   4096,
		temperature: 1.0,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}
	return c
}

// helper types ------------------------------------------------------------------------------------

// messages
type openAI_Message_ToolCall_Function struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}
type openAI_Message_ToolCall struct {
	Index    int                               `json:"index"`
	ID       string                            `json:"id,omitempty"`
	Type     string                            `json:"type,omitempty"`
	Function *openAI_Message_ToolCall_Function `json:"function,omitempty"`
}

type openAI_Message struct {
	Role       string                    `json:"role"`
	Content    string                    `json:"-"`
	ToolCalls  []openAI_Message_ToolCall `json:"tool_calls,omitempty"`
	Name       *string                   `json:"name,omitempty"`
	ToolCallID *string                   `json:"tool_call_id,omitempty"`
}

func (m *openAI_Message) from(msg Message) error {
	switch msg.Role {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
	default:
		return fmt.Errorf("unexpected message role: %s", msg.Role)
	}
	m.Role = string(msg.Role)
	m.Content = msg.Content.Text()
	m.ToolCalls = nil
	for _, tc := range msg.ToolCalls {
		m.ToolCalls = append(m.ToolCalls, openAI_Message_ToolCall{
			Index: tc.Index,
			ID:    tc.ID,
			Type:  "function",
			Function: &openAI_Message_ToolCall_Function{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Args,
			},
		})
	}
	if msg.Role == RoleTool {
		if msg.ToolCallID == "" {
			return fmt.Errorf("tool message without a tool call ID")
		}
		m.Name = &msg.Name
		m.ToolCallID = &msg.ToolCallID
	}
	return nil
}

func (m openAI_Message) MarshalJSON() ([]byte, error) {
	type Alias openAI_Message
	aux := &struct {
		Content *string `json:"content"`
		*Alias
	}{
		Alias: (*Alias)(&m),
	}
	// assistant messages carrying only tool calls send a null content
	if m.Content != "" || len(m.ToolCalls) == 0 {
		aux.Content = &m.Content
	}
	return json.Marshal(aux)
}

// requests
type openAI_Request_Tool_Function struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}
type openAI_Request_Tool struct {
	Type     string                        `json:"type"`
	Function *openAI_Request_Tool_Function `json:"function,omitempty"`
}

type openAI_Request_StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAI_Request struct {
	MaxTokens     int                          `json:"max_tokens,omitempty"`
	Messages      []openAI_Message             `json:"messages"`
	Model         string                       `json:"model"`
	Stream        bool                         `json:"stream"`
	StreamOptions openAI_Request_StreamOptions `json:"stream_options"`
	Temperature   float64                      `json:"temperature"`
	Tools         []openAI_Request_Tool        `json:"tools,omitempty"`
}

// stream responses
type openAI_Chunk_Choice_Delta struct {
	Role      string                    `json:"role"`
	Content   string                    `json:"content"`
	ToolCalls []openAI_Message_ToolCall `json:"tool_calls"`
}
type openAI_Chunk_Choice struct {
	Delta        *openAI_Chunk_Choice_Delta `json:"delta"`
	FinishReason *string                    `json:"finish_reason"`
}

type openAI_Chunk_Usage struct {
	CompletionTokens int `json:"completion_tokens"`
	PromptTokens     int `json:"prompt_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAI_Chunk struct {
	Choices []openAI_Chunk_Choice `json:"choices"`
	ID      string                `json:"id"`
	Model   string                `json:"model"`
	Object  string                `json:"object"`
	Usage   *openAI_Chunk_Usage   `json:"usage"`
}
