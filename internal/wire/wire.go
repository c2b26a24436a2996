package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Heartbeat frames. The server sends a bare "ping" text frame; the client
// must answer with a bare "pong" frame and never treat either as a topic
// message.
const (
	Ping = "ping"
	Pong = "pong"
)

// Op is the verb carried by a wire message.
type Op string

// Request operations.
const (
	OpSub   Op = "sub"
	OpUnsub Op = "unsub"
	OpRPC   Op = "rpc"
)

// Response operations.
const (
	OpFull Op = "full"
	OpAdd  Op = "add"
	OpSet  Op = "set"
	OpDel  Op = "del"
)

// Request is a client-to-server message.
//
// Op omitted means "sub". Func, Args, and CallID are only meaningful for
// "rpc" requests; Args omitted means {}.
type Request struct {
	Topic  string `json:"t"`
	Op     Op     `json:"o,omitempty"`
	Func   string `json:"f,omitempty"`
	Args   any    `json:"v,omitempty"`
	CallID string `json:"i,omitempty"`
}

// Operation returns the effective operation, applying the omitted-field
// default.
func (r Request) Operation() Op {
	if r.Op == "" {
		return OpSub
	}
	return r.Op
}

// Sub builds a subscribe request for a topic.
func Sub(topic string) Request {
	return Request{Topic: topic}
}

// Unsub builds an unsubscribe request for a topic.
func Unsub(topic string) Request {
	return Request{Topic: topic, Op: OpUnsub}
}

// RPC builds an rpc request. Nil args are sent as an empty object so the
// server never sees a missing argument bag.
func RPC(topic, fn string, args any, callID string) Request {
	if args == nil {
		args = map[string]any{}
	}
	return Request{Topic: topic, Op: OpRPC, Func: fn, Args: args, CallID: callID}
}

// Response is a server-to-client message.
//
// Op omitted means "add". Path omitted means the topic root. Value omitted
// means null. A non-empty CallID marks the message as an RPC reply rather
// than a topic update: a present Value is the error string, an absent Value
// is success.
type Response struct {
	Topic  string          `json:"t"`
	Op     Op              `json:"o,omitempty"`
	Path   Path            `json:"k,omitempty"`
	Value  json.RawMessage `json:"v,omitempty"`
	CallID string          `json:"i,omitempty"`
}

// Operation returns the effective operation, applying the omitted-field
// default.
func (r Response) Operation() Op {
	if r.Op == "" {
		return OpAdd
	}
	return r.Op
}

// IsReply reports whether the message is an RPC reply.
func (r Response) IsReply() bool {
	return r.CallID != ""
}

var nullLiteral = []byte("null")

// HasValue reports whether the message carries a value. An explicit JSON
// null counts as absent, matching the omitted-field default.
func (r Response) HasValue() bool {
	return len(r.Value) > 0 && !bytes.Equal(bytes.TrimSpace(r.Value), nullLiteral)
}

// DecodeValue decodes the payload into a generic JSON tree (map[string]any,
// []any, scalars). An absent value decodes to nil.
func (r Response) DecodeValue() (any, error) {
	if !r.HasValue() {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(r.Value, &v); err != nil {
		return nil, fmt.Errorf("decode value for topic %q: %w", r.Topic, err)
	}
	return v, nil
}

// ErrorString extracts the error payload of a failed RPC reply. Non-string
// payloads are returned as their raw JSON text.
func (r Response) ErrorString() string {
	var s string
	if err := json.Unmarshal(r.Value, &s); err == nil {
		return s
	}
	return string(r.Value)
}

// Path addresses a position in a topic's value tree. Segments are strings
// (object keys) or ints (array indices).
type Path []any

// UnmarshalJSON normalizes JSON numbers to int so that downstream code can
// type-switch on string vs int without caring about float64.
func (p *Path) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decode path: %w", err)
	}

	segs := make([]any, 0, len(raw))
	for _, seg := range raw {
		switch v := seg.(type) {
		case string:
			segs = append(segs, v)
		case json.Number:
			n, err := strconv.Atoi(v.String())
			if err != nil {
				return fmt.Errorf("path segment %q is not an integer", v.String())
			}
			segs = append(segs, n)
		default:
			return fmt.Errorf("path segment has unsupported type %T", seg)
		}
	}
	*p = segs
	return nil
}
