package transport

import (
	"encoding/json"
	"errors"
	"fmt"

	"risk-view-engine/internal/calcnode"
)

// MessageType tags a wire envelope.
type MessageType string

const (
	MessageJob      MessageType = "job"
	MessageResult   MessageType = "result"
	MessageError    MessageType = "error"
	MessageRelease  MessageType = "release"
	MessageReleased MessageType = "released"
)

// ErrUnknownMessage is returned for an envelope whose type has no decoder.
var ErrUnknownMessage = errors.New("unknown message type")

// Envelope is the frame exchanged between dispatcher and calculation node.
// ID correlates a result or error with the job that caused it.
type Envelope struct {
	Type    MessageType     `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// ErrorPayload reports a job the node could not run.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ReleasePayload names a finished cycle whose node-side caches can go. The
// node echoes it back once they are gone.
type ReleasePayload struct {
	CycleID string `json:"cycle_id"`
}

var messageDecoders = map[MessageType]func(json.RawMessage) (any, error){
	MessageJob:      decodePayload[calcnode.CalculationJob],
	MessageResult:   decodePayload[calcnode.CalculationJobResult],
	MessageError:    decodePayload[ErrorPayload],
	MessageRelease:  decodePayload[ReleasePayload],
	MessageReleased: decodePayload[ReleasePayload],
}

func decodePayload[T any](raw json.RawMessage) (any, error) {
	v := new(T)
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, err
	}
	return v, nil
}

// EncodeMessage builds an envelope around payload.
func EncodeMessage(typ MessageType, id string, payload any) ([]byte, error) {
	if _, ok := messageDecoders[typ]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, typ)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	data, err := json.Marshal(Envelope{Type: typ, ID: id, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", typ, err)
	}
	return data, nil
}

// DecodeMessage parses an envelope and its payload. The payload is a
// *calcnode.CalculationJob, *calcnode.CalculationJobResult, *ErrorPayload or
// *ReleasePayload according to the envelope type.
func DecodeMessage(data []byte) (Envelope, any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("decode envelope: %w", err)
	}
	dec, ok := messageDecoders[env.Type]
	if !ok {
		return env, nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}
	payload, err := dec(env.Payload)
	if err != nil {
		return env, nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return env, payload, nil
}
