// Package remote implements the distributed backend: a wire protocol
// for shipping named tasks to a worker pool over WebSocket. The Client
// side is a backend.Backend for jobs of kind distributed; the Server
// side hosts a registry of callables and executes submitted tasks on a
// bounded goroutine group.
package remote

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Nanguage/executor-engine/id"
)

// FrameType identifies the frame category.
type FrameType string

const (
	FrameRequest  FrameType = "request"
	FrameResponse FrameType = "response"
	FrameErr      FrameType = "error"
	FramePing     FrameType = "ping"
	FramePong     FrameType = "pong"
)

// Well-known methods.
const (
	// MethodAuth authenticates a connection. Always the first frame,
	// always JSON (before codec negotiation).
	MethodAuth = "auth"

	// MethodTaskSubmit ships a task to the worker pool.
	MethodTaskSubmit = "task.submit"

	// MethodTaskCancel requests cancellation of a running task.
	MethodTaskCancel = "task.cancel"
)

// Error codes carried in error frames.
const (
	ErrCodeBadRequest   = 400
	ErrCodeUnauthorized = 401
	ErrCodeNotFound     = 404
	ErrCodeInternal     = 500
)

// Frame is the wire envelope. Every message exchanged over the
// protocol is a Frame.
type Frame struct {
	// ID uniquely identifies this frame.
	ID string `json:"id" msgpack:"id"`

	// Type categorizes the frame.
	Type FrameType `json:"type" msgpack:"type"`

	// Method names the operation for request frames.
	Method string `json:"method,omitempty" msgpack:"method,omitempty"`

	// CorrelID links a response to its originating request.
	CorrelID string `json:"correl_id,omitempty" msgpack:"correl_id,omitempty"`

	// Token carries auth credentials (only on the auth frame).
	Token string `json:"token,omitempty" msgpack:"token,omitempty"`

	// Data carries the method-specific payload, msgpack-encoded.
	Data []byte `json:"data,omitempty" msgpack:"data,omitempty"`

	// Error carries error details for error frames.
	Error *ErrorDetail `json:"error,omitempty" msgpack:"error,omitempty"`

	// Timestamp records when this frame was created.
	Timestamp time.Time `json:"ts" msgpack:"ts"`
}

// ErrorDetail describes an error in a response or error frame.
type ErrorDetail struct {
	Code    int    `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
}

// NewRequestFrame creates a request frame for the given method.
func NewRequestFrame(method string, data []byte) *Frame {
	return &Frame{
		ID:        id.New(id.PrefixFrame).String(),
		Type:      FrameRequest,
		Method:    method,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// NewResponseFrame creates a response correlated to a request.
func NewResponseFrame(correlID string, data []byte) *Frame {
	return &Frame{
		ID:        id.New(id.PrefixFrame).String(),
		Type:      FrameResponse,
		CorrelID:  correlID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// NewErrorFrame creates an error frame correlated to a request.
func NewErrorFrame(correlID string, code int, message string) *Frame {
	return &Frame{
		ID:        id.New(id.PrefixFrame).String(),
		Type:      FrameErr,
		CorrelID:  correlID,
		Error:     &ErrorDetail{Code: code, Message: message},
		Timestamp: time.Now().UTC(),
	}
}

// AuthRequest is the payload of the auth frame.
type AuthRequest struct {
	Token string `json:"token" msgpack:"token"`

	// Format selects the codec for all subsequent frames ("json" or
	// "msgpack"). Empty keeps the server default.
	Format string `json:"format,omitempty" msgpack:"format,omitempty"`
}

// TaskPayload is the payload of a task.submit frame.
type TaskPayload struct {
	JobID     string `msgpack:"job_id" json:"job_id"`
	Name      string `msgpack:"name" json:"name"`
	Args      []byte `msgpack:"args,omitempty" json:"args,omitempty"`
	TimeoutMS int64  `msgpack:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
}

// ResultPayload is the payload of a task.submit response frame.
type ResultPayload struct {
	JobID  string `msgpack:"job_id" json:"job_id"`
	Result []byte `msgpack:"result,omitempty" json:"result,omitempty"`
	Error  string `msgpack:"error,omitempty" json:"error,omitempty"`
}

// CancelPayload is the payload of a task.cancel frame.
type CancelPayload struct {
	JobID string `msgpack:"job_id" json:"job_id"`
}

// marshalPayload encodes a method payload. Payloads are always msgpack;
// the negotiated codec applies to the frame envelope only. The auth
// payload is the one exception (JSON, before negotiation).
func marshalPayload(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func unmarshalPayload(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

// EncodeArgs serializes task arguments for transport. Arguments must be
// msgpack-serializable: primitives, slices, maps, and tagged structs.
func EncodeArgs(args []any) ([]byte, error) {
	return msgpack.Marshal(args)
}

// DecodeArgs deserializes transported arguments, normalizing integral
// values back to int so handlers see the types they were called with.
func DecodeArgs(data []byte) ([]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var args []any
	if err := msgpack.Unmarshal(data, &args); err != nil {
		return nil, err
	}
	for i, a := range args {
		args[i] = normalize(a)
	}
	return args, nil
}

// EncodeResult serializes a task result for transport.
func EncodeResult(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

// DecodeResult deserializes a transported task result.
func DecodeResult(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var v any
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return normalize(v), nil
}

// normalize converts msgpack's sized integer decodings to plain int and
// recurses into containers.
func normalize(v any) any {
	switch n := v.(type) {
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case uint8:
		return int(n)
	case uint16:
		return int(n)
	case uint32:
		return int(n)
	case uint64:
		return int(n) //nolint:gosec // values above MaxInt64 are not produced by EncodeArgs
	case []any:
		for i, e := range n {
			n[i] = normalize(e)
		}
		return n
	case map[string]any:
		for k, e := range n {
			n[k] = normalize(e)
		}
		return n
	default:
		return v
	}
}
