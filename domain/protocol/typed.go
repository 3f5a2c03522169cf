package protocol

// TypedPacket is a lazily decoded view over a packet payload. The
// original bytes stay untouched, so resending the packet never
// re-encodes the view.
type TypedPacket[T any] struct {
	packet  *Packet
	decoded *T
}

// As wraps the packet in a typed view. Nothing is decoded until Value is
// called.
func As[T any](packet *Packet) *TypedPacket[T] {
	return &TypedPacket[T]{packet: packet}
}

func (t *TypedPacket[T]) Packet() *Packet {
	return t.packet
}

// Value decodes the payload on first use and caches the record.
func (t *TypedPacket[T]) Value() (T, error) {
	if t.decoded != nil {
		return *t.decoded, nil
	}
	value, err := Decode[T](t.packet.Payload())
	if err != nil {
		var zero T
		return zero, err
	}
	t.decoded = &value
	return value, nil
}
