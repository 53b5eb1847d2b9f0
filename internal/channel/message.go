package channel

import (
	"encoding/json"
	"strings"
)

const (
	// TypeCompleted is the discriminant of the terminal result message.
	TypeCompleted = "COMPLETED"
)

type MessageKind int

const (
	MessageLog MessageKind = iota
	MessageTerminal
)

func (k MessageKind) String() string {
	if k == MessageTerminal {
		return "terminal"
	}
	return "log"
}

// Completion is the payload of the terminal result message. Fields other than the
// known ones are kept in Extra.
type Completion struct {
	Type      string                     `json:"type"`
	DriveLink string                     `json:"drive_link,omitempty"`
	Filename  string                     `json:"filename,omitempty"`
	Extra     map[string]json.RawMessage `json:"-"`
}

// Message is a classified channel frame. Text is always the verbatim frame.
type Message struct {
	Kind       MessageKind
	Text       string
	Completion *Completion
}

// Classify decides whether a frame is the terminal result or a plain log line.
// Anything that does not parse into a COMPLETED payload stays a log line.
func Classify(raw string) Message {
	plain := Message{Kind: MessageLog, Text: raw}

	if !looksTerminal(raw) {
		return plain
	}
	completion, err := parseCompletion(raw)
	if err != nil || completion.Type != TypeCompleted {
		return plain
	}
	return Message{Kind: MessageTerminal, Text: raw, Completion: completion}
}

func looksTerminal(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	return strings.HasPrefix(trimmed, "{") && strings.Contains(trimmed, TypeCompleted)
}

func parseCompletion(raw string) (*Completion, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, err
	}

	var c Completion
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, err
	}
	delete(fields, "type")
	delete(fields, "drive_link")
	delete(fields, "filename")
	if len(fields) > 0 {
		c.Extra = fields
	}
	return &c, nil
}
