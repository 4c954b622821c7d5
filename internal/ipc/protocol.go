// Package ipc implements the per-project Unix-socket protocol the spawned
// agent uses to query and mutate project state.
//
// Framing is one newline-terminated JSON line per direction, one request
// per connection. The per-connection round trip keeps the handler free of
// any stateful framing layer; the agent issues few operations per second,
// so throughput is not a concern.
package ipc

import (
	"encoding/json"
	"fmt"
)

// Request is the agent's single message on a connection.
type Request struct {
	Command string         `json:"command"`
	CardID  string         `json:"card_id"`
	Payload map[string]any `json:"payload"`
}

// Response is the daemon's single reply.
type Response struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Success wraps a payload in an ok response.
func Success(data any) Response {
	return Response{OK: true, Data: data}
}

// Errorf builds an error response.
func Errorf(format string, args ...any) Response {
	return Response{OK: false, Error: fmt.Sprintf(format, args...)}
}

// EncodeLine marshals a value as a newline-terminated JSON line.
func EncodeLine(v any) ([]byte, error) {
	line, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(line, '\n'), nil
}

// decodeRequest parses one request line.
func decodeRequest(line []byte, req *Request) error {
	return json.Unmarshal(line, req)
}

// payloadString extracts a required string field from a request payload.
func payloadString(payload map[string]any, key string) (string, bool) {
	v, ok := payload[key].(string)
	return v, ok && v != ""
}
