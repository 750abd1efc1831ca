package session

import (
	"encoding/json"
	"strings"
	"time"
)

// wireEnvelope is the outer shape of one stream-json line.
type wireEnvelope struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Result    string          `json:"result,omitempty"`
	Message   *wireMessage    `json:"message,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
}

// wireMessage is the bundled message body on assistant/user envelopes.
type wireMessage struct {
	Content []wireBlock `json:"content"`
}

// wireBlock is one content block inside a bundle.
type wireBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   any            `json:"content,omitempty"`
}

// wireStreamEvent is the partial-message event carried on stream_event
// envelopes.
type wireStreamEvent struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block,omitempty"`
	Delta *struct {
		Type        string `json:"type"`
		PartialJSON string `json:"partial_json,omitempty"`
	} `json:"delta,omitempty"`
}

// toolBuffer accumulates streamed tool input for one content block.
type toolBuffer struct {
	id    string
	name  string
	input strings.Builder
}

// Normalizer turns raw provider wire lines into normalized
// AgentMessages. Bundles that mix text and tool blocks are decomposed:
// text blocks coalesce into one event that precedes the tool events.
// Streaming tool-input deltas are buffered per block and flushed when
// the block completes; the final bundle then skips tools already
// emitted. Not safe for concurrent use; each session owns one.
type Normalizer struct {
	buffers map[int]*toolBuffer // stream index -> partial tool input
	emitted map[string]bool     // tool ids already flushed from deltas
	now     func() time.Time
}

// NewNormalizer creates a normalizer with empty buffers.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		buffers: make(map[int]*toolBuffer),
		emitted: make(map[string]bool),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Normalize parses one wire line and returns zero or more normalized
// messages. Malformed lines become a single error event; unknown
// envelope types are dropped.
func (n *Normalizer) Normalize(line []byte) []AgentMessage {
	trimmed := strings.TrimSpace(string(line))
	if trimmed == "" {
		return nil
	}
	var env wireEnvelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return []AgentMessage{errorMessage("malformed provider output: "+err.Error(), line)}
	}

	switch env.Type {
	case "system":
		return []AgentMessage{{
			Kind:      KindSystem,
			Subtype:   env.Subtype,
			SessionID: env.SessionID,
			At:        n.now(),
		}}
	case "assistant":
		return n.decompose(KindAssistant, env.Message)
	case "user":
		return n.decompose(KindUser, env.Message)
	case "result":
		return []AgentMessage{{
			Kind:    KindResult,
			Subtype: env.Subtype,
			Content: env.Result,
			At:      n.now(),
		}}
	case "stream_event":
		return n.streamEvent(env.Event)
	case "error":
		return []AgentMessage{errorMessage(env.Result, line)}
	}
	return nil
}

// decompose splits a bundled message into text-first normalized events.
// Empty bundles, and bundles with neither text nor tool blocks, are
// suppressed entirely.
func (n *Normalizer) decompose(kind MessageKind, msg *wireMessage) []AgentMessage {
	if msg == nil || len(msg.Content) == 0 {
		return nil
	}
	var (
		texts []string
		out   []AgentMessage
	)
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				texts = append(texts, block.Text)
			}
		case "tool_use":
			if n.emitted[block.ID] {
				delete(n.emitted, block.ID)
				continue
			}
			out = append(out, AgentMessage{
				Kind: KindToolUse,
				Tool: &ToolInfo{Name: block.Name, ID: block.ID, Input: block.Input},
				At:   n.now(),
			})
		case "tool_result":
			out = append(out, AgentMessage{
				Kind:    KindToolResult,
				Content: blockContentText(block.Content),
				Tool:    &ToolInfo{ID: block.ToolUseID},
				At:      n.now(),
			})
		}
	}
	if len(texts) == 0 && len(out) == 0 {
		return nil
	}
	if len(texts) > 0 {
		text := AgentMessage{Kind: kind, Content: strings.Join(texts, ""), At: n.now()}
		out = append([]AgentMessage{text}, out...)
	}
	return out
}

// streamEvent buffers partial tool input and flushes completed blocks.
func (n *Normalizer) streamEvent(raw json.RawMessage) []AgentMessage {
	if len(raw) == 0 {
		return nil
	}
	var ev wireStreamEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return []AgentMessage{errorMessage("malformed stream event: "+err.Error(), raw)}
	}
	switch ev.Type {
	case "content_block_start":
		if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
			n.buffers[ev.Index] = &toolBuffer{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
		}
	case "content_block_delta":
		if buf, ok := n.buffers[ev.Index]; ok && ev.Delta != nil && ev.Delta.Type == "input_json_delta" {
			buf.input.WriteString(ev.Delta.PartialJSON)
		}
	case "content_block_stop":
		buf, ok := n.buffers[ev.Index]
		if !ok {
			return nil
		}
		delete(n.buffers, ev.Index)
		var input map[string]any
		if raw := buf.input.String(); raw != "" {
			if err := json.Unmarshal([]byte(raw), &input); err != nil {
				// Incomplete input stays unflushed; the final bundle
				// carries the authoritative block.
				return nil
			}
		}
		n.emitted[buf.id] = true
		return []AgentMessage{{
			Kind: KindToolUse,
			Tool: &ToolInfo{Name: buf.name, ID: buf.id, Input: input},
			At:   n.now(),
		}}
	}
	return nil
}

// blockContentText flattens a tool_result content field, which may be a
// plain string or a list of text blocks.
func blockContentText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var parts []string
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				if text, ok := m["text"].(string); ok {
					parts = append(parts, text)
				}
			}
		}
		return strings.Join(parts, "")
	}
	return ""
}
