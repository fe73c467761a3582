package control

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/drewfead/tascade/internal/logging"
)

// TimestampFormat is the layout used for every timestamp on the wire.
const TimestampFormat = time.RFC3339Nano

// Error codes carried in structured error responses.
const (
	CodeInvalidJSON    = "invalid_json"
	CodeMissingCommand = "missing_command"
	CodeUnknownCommand = "unknown_command"
	CodeHandlerError   = "handler_error"
	CodeInternalError  = "internal_error"
)

// Request is the client→server envelope.
type Request struct {
	ID       string          `json:"id,omitempty"`
	Command  string          `json:"command"`
	Params   json.RawMessage `json:"params,omitempty"`
	Context  *string         `json:"context"`
	Sequence int64           `json:"sequence"`
}

// inboundRequest is what the dispatcher decodes. ID stays raw so that a
// caller-supplied id of any JSON type is echoed back verbatim.
type inboundRequest struct {
	ID       json.RawMessage `json:"id,omitempty"`
	Command  string          `json:"command"`
	Params   json.RawMessage `json:"params,omitempty"`
	Context  *string         `json:"context,omitempty"`
	Sequence int64           `json:"sequence,omitempty"`
}

// ErrorBody is the structured form of the "error" response field.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Welcome is pushed to every client right after the upgrade.
type Welcome struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func newWelcome(name, version string, now time.Time) Welcome {
	return Welcome{
		Message:   fmt.Sprintf("Welcome to %s v%s", name, version),
		Timestamp: formatTimestamp(now),
	}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// envelopeKeys are owned by the dispatcher and never taken from a handler result.
var envelopeKeys = map[string]bool{"id": true, "timestamp": true}

// encodeSuccess merges the handler result into a response object. Object
// results keep their field order; any other JSON value lands under "result".
func encodeSuccess(id json.RawMessage, result any, now time.Time) ([]byte, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	writeField := func(key string, value []byte) {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		k, _ := json.Marshal(key)
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(value)
	}

	if len(id) > 0 {
		writeField("id", id)
	}

	trimmed := bytes.TrimSpace(raw)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
	case len(trimmed) > 0 && trimmed[0] == '{':
		fields, err := orderedFields(trimmed)
		if err != nil {
			return nil, err
		}
		for _, f := range fields {
			if envelopeKeys[f.key] {
				logging.Debug("dropping reserved key from handler result", "key", f.key)
				continue
			}
			writeField(f.key, f.value)
		}
	default:
		writeField("result", trimmed)
	}

	ts, _ := json.Marshal(formatTimestamp(now))
	writeField("timestamp", ts)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// encodeError builds an error response. errValue is either a string or an ErrorBody.
func encodeError(id json.RawMessage, errValue any, now time.Time) []byte {
	resp := struct {
		ID        json.RawMessage `json:"id,omitempty"`
		Error     any             `json:"error"`
		Timestamp string          `json:"timestamp"`
	}{ID: id, Error: errValue, Timestamp: formatTimestamp(now)}
	data, _ := json.Marshal(resp)
	return data
}

type field struct {
	key   string
	value json.RawMessage
}

// orderedFields splits a JSON object into its top-level members in source order.
func orderedFields(obj []byte) ([]field, error) {
	dec := json.NewDecoder(bytes.NewReader(obj))
	dec.UseNumber()
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	var fields []field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode result key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("decode result: unexpected key %v", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("decode result value %q: %w", key, err)
		}
		fields = append(fields, field{key: key, value: value})
	}
	return fields, nil
}

// isWelcome reports whether a decoded payload is the connection-establishment push.
func isWelcome(payload map[string]json.RawMessage) bool {
	raw, ok := payload["message"]
	if !ok {
		return false
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err != nil {
		return false
	}
	return strings.Contains(msg, "Welcome")
}

// rawString decodes a JSON string member, returning "" when absent or not a string.
func rawString(payload map[string]json.RawMessage, key string) string {
	raw, ok := payload[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// hasError reports whether the payload carries a non-null "error" member.
func hasError(payload map[string]json.RawMessage) bool {
	raw, ok := payload["error"]
	if !ok {
		return false
	}
	return !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
