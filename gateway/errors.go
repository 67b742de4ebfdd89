package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// RateLimitMessage is surfaced for every 429 response, whatever the body says.
const RateLimitMessage = "Too many requests. Please try again later."

// UnexpectedResponseMessage is surfaced when a success body does not have the
// shape the caller expects.
const UnexpectedResponseMessage = "Unexpected response from server"

// ErrRateLimited matches (errors.Is) any *Error of KindRateLimited.
var ErrRateLimited = errors.New("rate limited")

// Kind classifies a gateway failure.
type Kind int

const (
	// KindRateLimited is a 429 response.
	KindRateLimited Kind = iota + 1
	// KindServer is a failure status whose body supplied a message.
	KindServer
	// KindUnclassified is a failure status without a usable message.
	KindUnclassified
	// KindTransport means no response was received.
	KindTransport
	// KindMalformed is a success response that could not be decoded.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindServer:
		return "server"
	case KindUnclassified:
		return "unclassified"
	case KindTransport:
		return "transport"
	case KindMalformed:
		return "malformed"
	}
	return "unknown"
}

// Error is the single, human readable failure returned by Send.
// Error() is exactly the message to show the user.
type Error struct {
	Status  int
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) Is(target error) bool {
	return target == ErrRateLimited && e.Kind == KindRateLimited
}

// messageFields are consulted in order for a failure message.
var messageFields = []string{"error", "details", "message"}

// classify turns a failure status and its (possibly nil) parsed body into an *Error.
func classify(status int, data json.RawMessage) *Error {
	if status == 429 {
		return &Error{Status: status, Kind: KindRateLimited, Message: RateLimitMessage}
	}
	if msg, ok := bodyMessage(data); ok {
		return &Error{Status: status, Kind: KindServer, Message: msg}
	}
	return &Error{
		Status:  status,
		Kind:    KindUnclassified,
		Message: fmt.Sprintf("Request failed (%d)", status),
	}
}

// bodyMessage picks the first truthy message field. Structured values are
// flattened by joining their values with ", ".
func bodyMessage(data json.RawMessage) (string, bool) {
	if len(data) == 0 {
		return "", false
	}
	fields, ok := decodeObject(data)
	if !ok {
		return "", false
	}
	for _, name := range messageFields {
		raw, present := fields.get(name)
		if !present {
			continue
		}
		if msg, ok := flatten(raw); ok {
			return msg, true
		}
	}
	return "", false
}

// flatten renders a message field. Falsy values (null, false, 0, "") are skipped.
func flatten(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", false
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil || s == "" {
			return "", false
		}
		return s, true
	case '{':
		obj, ok := decodeObject(trimmed)
		if !ok {
			return "", false
		}
		values := make([]string, 0, len(obj))
		for _, entry := range obj {
			values = append(values, display(entry.value))
		}
		return strings.Join(values, ", "), true
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return "", false
		}
		values := make([]string, 0, len(items))
		for _, item := range items {
			values = append(values, display(item))
		}
		return strings.Join(values, ", "), true
	case 'n', 'f':
		return "", false
	}
	if string(trimmed) == "0" {
		return "", false
	}
	return string(trimmed), true
}

// display renders a nested JSON value as plain text.
func display(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	if msg, ok := flatten(trimmed); ok {
		return msg
	}
	return string(trimmed)
}

type objectEntry struct {
	key   string
	value json.RawMessage
}

type object []objectEntry

func (o object) get(key string) (json.RawMessage, bool) {
	for _, e := range o {
		if e.key == key {
			return e.value, true
		}
	}
	return nil, false
}

// decodeObject decodes a JSON object keeping the server's key order.
func decodeObject(data []byte) (object, bool) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, false
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, false
	}
	var obj object
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, false
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, false
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, false
		}
		obj = append(obj, objectEntry{key: key, value: value})
	}
	return obj, true
}
