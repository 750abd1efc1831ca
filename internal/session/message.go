// Package session runs agent sessions: headless stream-json
// subprocesses, interactive PTY sessions, and the provider-agnostic
// message normalization between them.
package session

import (
	"encoding/json"
	"time"
)

// MessageKind discriminates normalized agent messages.
type MessageKind string

// Message kind constants
const (
	KindSystem     MessageKind = "system"
	KindAssistant  MessageKind = "assistant"
	KindUser       MessageKind = "user"
	KindToolUse    MessageKind = "tool_use"
	KindToolResult MessageKind = "tool_result"
	KindResult     MessageKind = "result"
	KindError      MessageKind = "error"
)

// ToolInfo identifies a tool invocation or its result.
type ToolInfo struct {
	Name  string         `json:"name,omitempty"`
	ID    string         `json:"id"`
	Input map[string]any `json:"input,omitempty"`
}

// AgentMessage is the provider-agnostic event emitted by a session.
// Kind selects which optional fields are populated: system messages
// carry Subtype (and SessionID for init), tool messages carry Tool,
// text-bearing kinds carry Content.
type AgentMessage struct {
	Kind      MessageKind     `json:"kind"`
	Subtype   string          `json:"subtype,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	Tool      *ToolInfo       `json:"tool,omitempty"`
	Raw       json.RawMessage `json:"raw,omitempty"`
	At        time.Time       `json:"at"`
}

// errorMessage builds an error event for transport or parse failures.
func errorMessage(content string, raw []byte) AgentMessage {
	msg := AgentMessage{Kind: KindError, Content: content, At: time.Now().UTC()}
	if len(raw) > 0 {
		msg.Raw = append(json.RawMessage(nil), raw...)
	}
	return msg
}
