package queue

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Envelope is the wire format a broker transports. The payload stays an
// opaque JSON document regardless of the codec wrapping it.
type Envelope struct {
	MessageID string          `json:"messageId" msgpack:"messageId"`
	QueueName string          `json:"queueName" msgpack:"queueName"`
	Message   json.RawMessage `json:"message,omitempty" msgpack:"message,omitempty"`
	Metadata  Metadata        `json:"metadata" msgpack:"metadata"`
}

// Metadata carries delivery bookkeeping alongside the payload.
type Metadata struct {
	DeploymentID   string `json:"deploymentId,omitempty" msgpack:"deploymentId,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty" msgpack:"idempotencyKey,omitempty"`
	// Attempt counts deliveries of this envelope, starting at 1.
	Attempt int `json:"attempt,omitempty" msgpack:"attempt,omitempty"`

	// OwnerID, ProjectID and Environment carry the enqueue caller's
	// tenancy so consumers run under the same scope.
	OwnerID     string `json:"ownerId,omitempty" msgpack:"ownerId,omitempty"`
	ProjectID   string `json:"projectId,omitempty" msgpack:"projectId,omitempty"`
	Environment string `json:"environment,omitempty" msgpack:"environment,omitempty"`
}

// Codec defines the serialization contract for envelopes.
type Codec interface {
	// Encode serializes an envelope to bytes.
	Encode(env *Envelope) ([]byte, error)

	// Decode deserializes bytes into an envelope.
	Decode(data []byte) (*Envelope, error)

	// Name returns the codec identifier (e.g., "json", "msgpack").
	Name() string
}

// CodecName constants for broker configuration.
const (
	CodecNameJSON    = "json"
	CodecNameMsgpack = "msgpack"
)

// GetCodec returns a codec by name. Defaults to JSON.
func GetCodec(name string) Codec {
	switch name {
	case CodecNameMsgpack:
		return &MsgpackCodec{}
	default:
		return &JSONCodec{}
	}
}

// JSONCodec encodes envelopes as JSON. The default.
type JSONCodec struct{}

func (c *JSONCodec) Encode(env *Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func (c *JSONCodec) Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (c *JSONCodec) Name() string { return CodecNameJSON }

// MsgpackCodec encodes envelopes as MessagePack.
type MsgpackCodec struct{}

func (c *MsgpackCodec) Encode(env *Envelope) ([]byte, error) {
	return msgpack.Marshal(env)
}

func (c *MsgpackCodec) Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (c *MsgpackCodec) Name() string { return CodecNameMsgpack }
