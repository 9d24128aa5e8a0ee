package genx

import (
	"iter"
	"slices"
)

// ModelContextBuilder accumulates prompts and messages. Consecutive
// prompts with the same name are merged, as are consecutive text
// messages from the same role and name.
type ModelContextBuilder struct {
	Prompts  []*Prompt
	Messages []*Message
	Tools    []Tool
	Params   *ModelParams
}

// Build snapshots the builder. Later changes to the builder do not affect
// the returned context.
func (mcb *ModelContextBuilder) Build() ModelContext {
	return &modelContext{
		prompts:  slices.Clone(mcb.Prompts),
		messages: slices.Clone(mcb.Messages),
		tools:    slices.Clone(mcb.Tools),
		params:   mcb.Params,
	}
}

// PromptText adds system instructions under name.
func (mcb *ModelContextBuilder) PromptText(name, text string) {
	if n := len(mcb.Prompts); n > 0 && mcb.Prompts[n-1].Name == name {
		merged := text
		if prev := mcb.Prompts[n-1].Text; prev != "" {
			merged = prev + "\n" + text
		}
		mcb.Prompts[n-1] = &Prompt{Name: name, Text: merged}
		return
	}
	mcb.Prompts = append(mcb.Prompts, &Prompt{Name: name, Text: text})
}

// UserText adds a user message.
func (mcb *ModelContextBuilder) UserText(name, text string) {
	mcb.addText(RoleUser, name, text)
}

// ModelText adds a model message, such as an earlier reply.
func (mcb *ModelContextBuilder) ModelText(name, text string) {
	mcb.addText(RoleModel, name, text)
}

func (mcb *ModelContextBuilder) addText(role Role, name, text string) {
	if n := len(mcb.Messages); n > 0 {
		last := mcb.Messages[n-1]
		if c, ok := last.Payload.(Contents); ok && last.Role == role && last.Name == name {
			mcb.Messages[n-1] = &Message{Role: role, Name: name, Payload: append(slices.Clip(c), Text(text))}
			return
		}
	}
	mcb.Messages = append(mcb.Messages, &Message{Role: role, Name: name, Payload: Contents{Text(text)}})
}

// AddTool makes tool available to Generate.
func (mcb *ModelContextBuilder) AddTool(tool Tool) {
	mcb.Tools = append(mcb.Tools, tool)
}

type modelContext struct {
	prompts  []*Prompt
	messages []*Message
	tools    []Tool
	params   *ModelParams
}

func (m *modelContext) Prompts() iter.Seq[*Prompt]   { return slices.Values(m.prompts) }
func (m *modelContext) Messages() iter.Seq[*Message] { return slices.Values(m.messages) }
func (m *modelContext) Tools() iter.Seq[Tool]        { return slices.Values(m.tools) }
func (m *modelContext) Params() *ModelParams         { return m.params }
