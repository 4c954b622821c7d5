// Package protocol defines the wire types external clients use to talk to
// a maestro daemon: the WebSocket event envelope and the command response
// shape of the HTTP facade.
package protocol

import "encoding/json"

// WSEvent is one event frame on /ws/events and /ws/agent/{workspace_id}.
type WSEvent struct {
	EventType string          `json:"event_type"`
	Scope     string          `json:"scope,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// CommandResponse is the envelope returned by POST /api/<command>.
type CommandResponse struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// DecodeWSEvent parses one WebSocket frame.
func DecodeWSEvent(frame []byte) (*WSEvent, error) {
	var ev WSEvent
	if err := json.Unmarshal(frame, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
