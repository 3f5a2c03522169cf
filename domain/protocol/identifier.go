package protocol

import (
	"errors"
	"fmt"
)

var ErrReservedIdentifier = errors.New("identifier is reserved for system packets")

// PacketIdentifier is an application packet identifier. Construction
// through NewPacketIdentifier keeps application code out of the reserved
// system range.
type PacketIdentifier int

func NewPacketIdentifier(value int) (PacketIdentifier, error) {
	if value <= ReservedMax {
		return 0, fmt.Errorf("identifier %d: %w", value, ErrReservedIdentifier)
	}
	return PacketIdentifier(value), nil
}

// MustPacketIdentifier is for identifiers known at compile time.
func MustPacketIdentifier(value int) PacketIdentifier {
	id, err := NewPacketIdentifier(value)
	if err != nil {
		panic(err)
	}
	return id
}

func (p PacketIdentifier) Int() int {
	return int(p)
}
