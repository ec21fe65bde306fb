// Message shapes. Messages arrive either flat ({id, role, content, timestamp})
// or as legacy paired turns ({id, user?, assistant?}). The document keeps the
// shape it was given; the normalized tables only ever hold flat messages.

package types

import (
	"bytes"
	"encoding/json"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Suffixes appended to a turn id to derive the ids of its flattened messages.
const (
	TurnUserSuffix      = "_u"
	TurnAssistantSuffix = "_a"
)

// Message is the flat message shape.
type Message struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// TurnPart is one side of a legacy paired turn. Older documents stored a
// part as a bare string; such parts are re-encoded as strings.
type TurnPart struct {
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`

	bare bool
}

// UnmarshalJSON accepts either an object or a bare content string.
func (p *TurnPart) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		p.bare = true
		return json.Unmarshal(data, &p.Content)
	}
	type plain TurnPart
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = TurnPart(v)
	return nil
}

// MarshalJSON writes the part back in the shape it was read in.
func (p TurnPart) MarshalJSON() ([]byte, error) {
	if p.bare {
		return json.Marshal(p.Content)
	}
	type plain TurnPart
	return json.Marshal(plain(p))
}

// Turn is the legacy paired message shape.
type Turn struct {
	ID        string    `json:"id"`
	User      *TurnPart `json:"user,omitempty"`
	Assistant *TurnPart `json:"assistant,omitempty"`
}

// MessageEntry is one element of a node's message list, in either shape.
// Exactly one of Flat and Turn is set.
type MessageEntry struct {
	Flat *Message
	Turn *Turn
}

// FlatEntry wraps a flat message.
func FlatEntry(m Message) MessageEntry {
	return MessageEntry{Flat: &m}
}

// TurnEntry wraps a legacy paired turn.
func TurnEntry(t Turn) MessageEntry {
	return MessageEntry{Turn: &t}
}

// UnmarshalJSON detects the shape: an object with "role" is flat, an object
// with "user" or "assistant" and no "role" is a paired turn.
func (e *MessageEntry) UnmarshalJSON(data []byte) error {
	var probe struct {
		Role      *string         `json:"role"`
		User      json.RawMessage `json:"user"`
		Assistant json.RawMessage `json:"assistant"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Role == nil && (probe.User != nil || probe.Assistant != nil) {
		var t Turn
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		*e = MessageEntry{Turn: &t}
		return nil
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*e = MessageEntry{Flat: &m}
	return nil
}

// MarshalJSON writes the entry in its original shape.
func (e MessageEntry) MarshalJSON() ([]byte, error) {
	switch {
	case e.Turn != nil:
		return json.Marshal(e.Turn)
	case e.Flat != nil:
		return json.Marshal(e.Flat)
	default:
		return []byte("{}"), nil
	}
}

// Flatten returns the flat messages this entry stands for: itself when flat,
// up to two messages (user then assistant) when a paired turn.
func (e MessageEntry) Flatten() []Message {
	switch {
	case e.Flat != nil:
		return []Message{*e.Flat}
	case e.Turn != nil:
		out := make([]Message, 0, 2)
		if e.Turn.User != nil {
			out = append(out, Message{
				ID:        e.Turn.ID + TurnUserSuffix,
				Role:      RoleUser,
				Content:   e.Turn.User.Content,
				Timestamp: e.Turn.User.Timestamp,
			})
		}
		if e.Turn.Assistant != nil {
			out = append(out, Message{
				ID:        e.Turn.ID + TurnAssistantSuffix,
				Role:      RoleAssistant,
				Content:   e.Turn.Assistant.Content,
				Timestamp: e.Turn.Assistant.Timestamp,
			})
		}
		return out
	default:
		return nil
	}
}

// FlattenMessages flattens a node's message list in insertion order.
func FlattenMessages(entries []MessageEntry) []Message {
	out := make([]Message, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Flatten()...)
	}
	return out
}

// FlatEntries wraps flat messages as entries.
func FlatEntries(msgs []Message) []MessageEntry {
	out := make([]MessageEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, FlatEntry(m))
	}
	return out
}

// EqualMessages reports whether two flat message lists match element-wise.
func EqualMessages(a, b []Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
