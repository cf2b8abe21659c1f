// Package wire defines the JSON envelope framing shared by the backend socket and the
// daemon connection.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope types. These correspond to the "k" field of every frame.
const (
	TypeQuery  = "q" // request expecting a result, carries an id
	TypeResult = "r" // successful response to a query
	TypeError  = "x" // error response to a query
	TypePacket = "p" // push notification, no id
)

// ErrMalformed is returned for frames that cannot be decoded or that are missing
// fields required by their type.
var ErrMalformed = errors.New("malformed envelope")

// Envelope is the JSON structure of one frame. Field names are kept short since every
// frame carries them.
type Envelope struct {
	Type    string          `json:"k"`           // see Type constants
	Name    string          `json:"n,omitempty"` // message kind name
	ID      int64           `json:"i,omitempty"` // correlation id for queries and responses
	Payload json.RawMessage `json:"d,omitempty"` // kind-specific data
	Error   string          `json:"e,omitempty"` // error detail for TypeError
}

// NewQuery builds a query envelope, marshaling the input.
func NewQuery(name string, id int64, input any) (Envelope, error) {
	payload, err := marshalPayload(input)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: TypeQuery, Name: name, ID: id, Payload: payload}, nil
}

// NewResult builds a successful response envelope.
func NewResult(name string, id int64, output any) (Envelope, error) {
	payload, err := marshalPayload(output)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: TypeResult, Name: name, ID: id, Payload: payload}, nil
}

// NewError builds an error response envelope.
func NewError(name string, id int64, detail string) Envelope {
	return Envelope{Type: TypeError, Name: name, ID: id, Error: detail}
}

// NewPacket builds a push envelope.
func NewPacket(name string, payload any) (Envelope, error) {
	data, err := marshalPayload(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: TypePacket, Name: name, Payload: data}, nil
}

func marshalPayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return data, nil
}

// Encode serializes an envelope into one frame.
func Encode(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

// Decode parses one frame and validates it against its type.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Validate checks that the fields required by the envelope type are present.
func (e Envelope) Validate() error {
	switch e.Type {
	case TypeQuery:
		if e.Name == "" || e.ID == 0 {
			return fmt.Errorf("%w: query needs a name and an id", ErrMalformed)
		}
	case TypeResult, TypeError:
		if e.ID == 0 {
			return fmt.Errorf("%w: response needs an id", ErrMalformed)
		}
	case TypePacket:
		if e.Name == "" {
			return fmt.Errorf("%w: packet needs a name", ErrMalformed)
		}
	default:
		return fmt.Errorf("%w: unknown envelope type %q", ErrMalformed, e.Type)
	}
	return nil
}
