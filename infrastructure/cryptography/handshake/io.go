package handshake

import (
	"fmt"

	"portlink/domain/protocol"
	"portlink/infrastructure/network"
)

// readHandshakePacket reads the next envelope, tolerating keep-alive
// frames. A Disconnect envelope ends the handshake as a normal close;
// anything other than a Handshake envelope is a protocol violation.
func readHandshakePacket(reader *network.FrameReader) (*protocol.Packet, error) {
	for {
		frame, err := reader.ReadFrame()
		if err != nil {
			return nil, err
		}
		if frame == nil {
			continue
		}

		packet, err := protocol.Unmarshal(frame)
		reader.Release(frame)
		if err != nil {
			return nil, err
		}

		switch packet.Identifier {
		case int(protocol.SystemHandshake):
			return packet, nil
		case int(protocol.SystemDisconnect):
			return nil, fmt.Errorf("peer disconnected during handshake: %w", network.ErrConnectionClosed)
		default:
			return nil, fmt.Errorf("%w: identifier %d", ErrUnexpectedPacket, packet.Identifier)
		}
	}
}

func writeHandshakePacket(writer *network.FrameWriter, packet *protocol.Packet) error {
	data, err := packet.Marshal()
	if err != nil {
		return err
	}
	return writer.WriteFrame(data)
}
