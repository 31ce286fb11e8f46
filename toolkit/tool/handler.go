package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/markusylisiurunen/ticketdesk/internal/logger"
	"github.com/markusylisiurunen/ticketdesk/toolkit/llm"
)

type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Name)
}

type InvalidArgumentsError struct {
	Tool   string
	Reason string
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Reason)
}

// Invocation is a single tool call requested by the model.
type Invocation struct {
	ID        string
	Name      string
	Arguments string
}

func InvocationFrom(call llm.ToolCall) Invocation {
	return Invocation{ID: call.ID, Name: call.Function.Name, Arguments: call.Function.Args}
}

// Result is what goes back to the model. Content is always JSON, failures
// included; Err keeps the underlying error for logging and display.
type Result struct {
	CallID  string
	Name    string
	Content string
	Err     error
}

type errorToolResult struct {
	Error string `json:"error"`
}

func (r errorToolResult) result() string {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		panic(fmt.Sprintf("failed to marshal error result to JSON: %v", err))
	}
	return string(b)
}

type Handler struct {
	logger logger.Logger
	tools  []llm.Tool
}

func NewHandler(tools ...llm.Tool) *Handler {
	return &Handler{logger: logger.NoOp(), tools: tools}
}

func (h *Handler) SetLogger(logger logger.Logger) *Handler {
	h.logger = logger
	return h
}

// Tools returns the tools whose schemas are declared to the model.
func (h *Handler) Tools() []llm.Tool {
	return h.tools
}

func (h *Handler) lookup(name string) llm.Tool {
	for _, t := range h.tools {
		if n, _, _ := t.Spec(); n == name {
			return t
		}
	}
	return nil
}

// Dispatch runs the invocation. It never returns an error: every failure is
// turned into a structured error result the model can react to.
func (h *Handler) Dispatch(ctx context.Context, inv Invocation) Result {
	res := Result{CallID: inv.ID, Name: inv.Name}
	t := h.lookup(inv.Name)
	if t == nil {
		res.Err = &UnknownToolError{Name: inv.Name}
	} else {
		res.Content, res.Err = t.Call(ctx, inv.Arguments)
	}
	if res.Err != nil {
		h.logger.Error("tool call %s (%s) failed: %s", inv.Name, inv.ID, res.Err.Error())
		res.Content = errorToolResult{Error: res.Err.Error()}.result()
		return res
	}
	h.logger.Debug("tool call %s (%s) succeeded", inv.Name, inv.ID)
	return res
}
