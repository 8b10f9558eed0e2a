// Package envelope wraps caller payloads into identified messages handed to
// producers.
package envelope

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/messagebus/internal/runtime/errors"
	idspkg "github.com/drblury/messagebus/internal/runtime/ids"
	"github.com/drblury/messagebus/internal/runtime/jsoncodec"
	metadatapkg "github.com/drblury/messagebus/internal/runtime/metadata"
)

const (
	// PayloadTypeHeader carries the PayloadType of a published message.
	PayloadTypeHeader = "messagebus_payload_type"
	// EventSchemaHeader carries the Go type of proto payloads.
	EventSchemaHeader = "messagebus_event_schema"
)

// PayloadType tells consumers how to read Message.Payload.
type PayloadType string

const (
	PayloadJSON   PayloadType = "JSON"
	PayloadString PayloadType = "STRING"
	PayloadBinary PayloadType = "BINARY"
)

// ErrPayloadType is returned when a payload is read as the wrong type or a
// binary message is built from an unsupported value.
var ErrPayloadType = errors.New("messagebus: unexpected payload type")

var protoJSONMarshalOptions = protojson.MarshalOptions{
	EmitUnpopulated: true,
}

// Message is a uniquely identified payload.
type Message struct {
	ID          string
	Payload     []byte
	PayloadType PayloadType
	// Schema is the Go type name of proto payloads, empty otherwise.
	Schema string
}

// Create wraps payload into a Message with a fresh ULID.
func Create(payload any, binary bool) (*Message, error) {
	return CreateWithID(payload, "", binary)
}

// CreateWithID wraps payload into a Message. An empty id is replaced by a
// fresh ULID.
//
// Binary messages accept []byte and string. Otherwise strings are STRING
// payloads, byte slices are JSON when they hold valid JSON and STRING when
// not, proto messages are encoded with protojson and everything else is
// encoded as JSON.
func CreateWithID(payload any, id string, binary bool) (*Message, error) {
	if payload == nil {
		return nil, errspkg.ErrPayloadRequired
	}
	if id == "" {
		id = idspkg.CreateULID()
	}

	msg := &Message{ID: id}
	if binary {
		switch p := payload.(type) {
		case []byte:
			msg.Payload = bytes.Clone(p)
		case string:
			msg.Payload = []byte(p)
		default:
			return nil, fmt.Errorf("%w: binary payload must be []byte or string, got %T", ErrPayloadType, payload)
		}
		msg.PayloadType = PayloadBinary
		return msg, nil
	}

	switch p := payload.(type) {
	case string:
		msg.Payload = []byte(p)
		msg.PayloadType = PayloadString
	case []byte:
		msg.Payload = bytes.Clone(p)
		msg.PayloadType = PayloadString
		if jsoncodec.Valid(p) {
			msg.PayloadType = PayloadJSON
		}
	case proto.Message:
		data, err := protoJSONMarshalOptions.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal proto payload: %w", err)
		}
		msg.Payload = data
		msg.PayloadType = PayloadJSON
		msg.Schema = fmt.Sprintf("%T", p)
	default:
		data, err := jsoncodec.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		msg.Payload = data
		msg.PayloadType = PayloadJSON
	}
	return msg, nil
}

// Binary reports whether the message was built on the binary path.
func (m *Message) Binary() bool {
	return m.PayloadType == PayloadBinary
}

// StringPayload returns the payload of a STRING message.
func (m *Message) StringPayload() (string, error) {
	if m.PayloadType != PayloadString {
		return "", fmt.Errorf("%w: %s is not %s", ErrPayloadType, m.PayloadType, PayloadString)
	}
	return string(m.Payload), nil
}

// JSONPayload returns the payload of a JSON message.
func (m *Message) JSONPayload() (string, error) {
	if m.PayloadType != PayloadJSON {
		return "", fmt.Errorf("%w: %s is not %s", ErrPayloadType, m.PayloadType, PayloadJSON)
	}
	return string(m.Payload), nil
}

// BinaryPayload returns the payload of a BINARY message.
func (m *Message) BinaryPayload() ([]byte, error) {
	if m.PayloadType != PayloadBinary {
		return nil, fmt.Errorf("%w: %s is not %s", ErrPayloadType, m.PayloadType, PayloadBinary)
	}
	return m.Payload, nil
}

// ToWatermill converts the message into a Watermill message carrying headers
// plus the payload type and schema headers.
func (m *Message) ToWatermill(ctx context.Context, headers metadatapkg.Headers) *message.Message {
	msg := message.NewMessage(m.ID, m.Payload)
	msg.Metadata = metadatapkg.ToWatermill(headers)
	msg.Metadata.Set(PayloadTypeHeader, string(m.PayloadType))
	if m.Schema != "" {
		msg.Metadata.Set(EventSchemaHeader, m.Schema)
	}
	if ctx != nil {
		msg.SetContext(ctx)
	}
	return msg
}
