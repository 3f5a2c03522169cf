package protocol

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var ErrMalformedEnvelope = errors.New("malformed packet envelope")

// encMode produces deterministic bytes so a cached serialization is
// byte-for-byte stable across re-encodes.
var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// wireEnvelope is the on-wire shape: an ordered three-element array.
type wireEnvelope struct {
	_          struct{} `cbor:",toarray"`
	Identifier int
	Encrypted  bool
	Payload    []byte
}

// Packet is the envelope exchanged inside every non-keep-alive frame.
// The payload is owned by the packet; SetPayload replaces it and drops
// any cached serialization.
type Packet struct {
	Identifier int
	Encrypted  bool

	payload    []byte
	serialized []byte
}

// New builds an application packet. The identifier has already been
// range-checked by NewPacketIdentifier.
func New(identifier PacketIdentifier, encrypted bool, payload []byte) *Packet {
	return &Packet{
		Identifier: identifier.Int(),
		Encrypted:  encrypted,
		payload:    payload,
	}
}

// NewSystem builds a reserved-range packet. System packets are never
// encrypted.
func NewSystem(packetType SystemPacketType, payload []byte) *Packet {
	return &Packet{
		Identifier: int(packetType),
		payload:    payload,
	}
}

func (p *Packet) Payload() []byte {
	return p.payload
}

// SetPayload replaces the payload and invalidates the cached
// serialization. The packet takes ownership of the slice.
func (p *Packet) SetPayload(payload []byte) {
	p.payload = payload
	p.serialized = nil
}

// Marshal serializes the envelope, caching the result so a broadcast of
// the same packet serializes once.
func (p *Packet) Marshal() ([]byte, error) {
	if p.serialized != nil {
		return p.serialized, nil
	}
	data, err := encMode.Marshal(wireEnvelope{
		Identifier: p.Identifier,
		Encrypted:  p.Encrypted,
		Payload:    p.payload,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	p.serialized = data
	return data, nil
}

// Unmarshal decodes one envelope from a frame payload.
func Unmarshal(data []byte) (*Packet, error) {
	var env wireEnvelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Identifier < 0 {
		return nil, fmt.Errorf("%w: negative identifier %d", ErrMalformedEnvelope, env.Identifier)
	}
	return &Packet{
		Identifier: env.Identifier,
		Encrypted:  env.Encrypted,
		payload:    env.Payload,
	}, nil
}

// Clone copies the envelope without the cached serialization. Used when a
// shared packet must be encrypted per session.
func (p *Packet) Clone() *Packet {
	payload := make([]byte, len(p.payload))
	copy(payload, p.payload)
	return &Packet{
		Identifier: p.Identifier,
		Encrypted:  p.Encrypted,
		payload:    payload,
	}
}
