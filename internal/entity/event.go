package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ChangeEvent is one row change published on the change feed
type ChangeEvent struct {
	Table  string          `json:"table"`
	Type   string          `json:"type"`
	Record json.RawMessage `json:"record"`
	At     int64           `json:"at"`
}

// NewChangeEvent marshals row into a change event
func NewChangeEvent(table, eventType string, row any) (*ChangeEvent, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("marshal %s row: %w", table, err)
	}
	return &ChangeEvent{
		Table:  table,
		Type:   eventType,
		Record: data,
		At:     NowUnixMilli(),
	}, nil
}

// Column returns the value of a top-level record field rendered as a string.
// Numbers keep their exact digits.
func (e *ChangeEvent) Column(name string) (string, bool) {
	dec := json.NewDecoder(bytes.NewReader(e.Record))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return "", false
	}
	v, ok := fields[name]
	if !ok || v == nil {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	default:
		return fmt.Sprint(val), true
	}
}

// DecodeMessage decodes the record as a Message
func (e *ChangeEvent) DecodeMessage() (*Message, error) {
	var msg Message
	if err := json.Unmarshal(e.Record, &msg); err != nil {
		return nil, fmt.Errorf("decode message event: %w", err)
	}
	return &msg, nil
}

// DecodeConversation decodes the record as a Conversation
func (e *ChangeEvent) DecodeConversation() (*Conversation, error) {
	var conv Conversation
	if err := json.Unmarshal(e.Record, &conv); err != nil {
		return nil, fmt.Errorf("decode conversation event: %w", err)
	}
	return &conv, nil
}
