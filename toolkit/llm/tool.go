package llm

import (
	"context"
	"encoding/json"
)

// Tool is a function the model can ask the host to call. Spec returns the
// tool's name, its description and the JSON schema of its arguments. Call
// receives the raw JSON arguments produced by the model.
type Tool interface {
	Spec() (name string, description string, parameters json.RawMessage)
	Call(ctx context.Context, args string) (string, error)
}
