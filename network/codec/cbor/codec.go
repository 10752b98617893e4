package cbor

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/citadel-wallet/keysync/model/kel"
	"github.com/citadel-wallet/keysync/model/messages"
	"github.com/citadel-wallet/keysync/network/codec"
)

// encMode is deterministic so that equal messages have equal encodings.
var encMode = func() cbor.EncMode {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("could not create cbor encoding mode: %s", err))
	}
	return mode
}()

// Codec encodes messages as their one byte code followed by the CBOR payload.
type Codec struct{}

func NewCodec() *Codec {
	return &Codec{}
}

// Encode encodes a message.
func (c *Codec) Encode(v interface{}) ([]byte, error) {
	code, what, err := codec.MessageCodeFromInterface(v)
	if err != nil {
		return nil, fmt.Errorf("could not determine code: %w", err)
	}
	payload, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("could not encode %s: %w", what, err)
	}
	data := make([]byte, 0, len(payload)+1)
	data = append(data, code)
	return append(data, payload...), nil
}

// Decode decodes a message produced by Encode.
func (c *Codec) Decode(data []byte) (interface{}, error) {
	if len(data) == 0 {
		return nil, codec.ErrInvalidEncoding
	}
	v, what, err := codec.InterfaceFromMessageCode(data[0])
	if err != nil {
		return nil, err
	}
	err = cbor.Unmarshal(data[1:], v)
	if err != nil {
		return nil, fmt.Errorf("could not decode %s: %w", what, err)
	}
	return v, nil
}

// envelope is the wire form of messages.Envelope.
type envelope struct {
	ID      string
	Src     kel.Prefix
	Dest    kel.Prefix
	Topic   string
	Payload []byte
}

// EncodeEnvelope encodes an envelope and its payload.
func (c *Codec) EncodeEnvelope(env *messages.Envelope) ([]byte, error) {
	payload, err := c.Encode(env.Payload)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(&envelope{
		ID:      env.ID,
		Src:     env.Src,
		Dest:    env.Dest,
		Topic:   env.Topic,
		Payload: payload,
	})
}

// DecodeEnvelope decodes an envelope produced by EncodeEnvelope.
func (c *Codec) DecodeEnvelope(data []byte) (*messages.Envelope, error) {
	var wire envelope
	err := cbor.Unmarshal(data, &wire)
	if err != nil {
		return nil, fmt.Errorf("could not decode envelope: %w", err)
	}
	payload, err := c.Decode(wire.Payload)
	if err != nil {
		return nil, err
	}
	return &messages.Envelope{
		ID:      wire.ID,
		Src:     wire.Src,
		Dest:    wire.Dest,
		Topic:   wire.Topic,
		Payload: payload,
	}, nil
}
