package llm

import "slices"

type messageBuilder struct {
	msg   *Message
	usage Usage
	err   error
}

func newMessageBuilder() *messageBuilder {
	return &messageBuilder{}
}

func (b *messageBuilder) assistant() *Message {
	if b.msg == nil {
		b.msg = &Message{Role: RoleAssistant, Content: ContentParts{}}
	}
	return b.msg
}

func (b *messageBuilder) process(event Event) {
	if b.err != nil {
		return
	}
	switch e := event.(type) {
	case *ContentDeltaEvent:
		b.assistant().Content.AppendText(e.Content)
	case *ToolUseEvent:
		msg := b.assistant()
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:    e.ID,
			Index: e.Index,
			Function: ToolCallFunction{
				Name: e.FuncName,
				Args: e.FuncArgs,
			},
		})
	case *UsageEvent:
		b.usage.Add(e.Usage)
	case *ErrorEvent:
		b.err = e.Err
	}
}

func (b *messageBuilder) result() (Message, Usage, error) {
	if b.err != nil {
		return Message{}, Usage{}, b.err
	}
	if b.msg == nil {
		return Message{Role: RoleAssistant, Content: ContentParts{}}, b.usage, nil
	}
	msg := *b.msg
	slices.SortStableFunc(msg.ToolCalls, func(x, y ToolCall) int { return x.Index - y.Index })
	return msg, b.usage, nil
}

// Rollup drains a turn stream into the assistant message it produced. The
// stream is always drained, even after an error event.
func Rollup(events <-chan Event) (Message, Usage, error) {
	b := newMessageBuilder()
	for event := range events {
		b.process(event)
	}
	return b.result()
}
