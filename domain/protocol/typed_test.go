package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type chatMessage struct {
	_    struct{} `cbor:",toarray"`
	From string
	Text string
}

func TestTypedPacket_Value(t *testing.T) {
	payload, err := Encode(chatMessage{From: "alice", Text: "hi"})
	require.NoError(t, err)

	p := New(MustPacketIdentifier(101), false, payload)

	view := As[chatMessage](p)
	msg, err := view.Value()
	require.NoError(t, err)
	require.Equal(t, "alice", msg.From)
	require.Equal(t, "hi", msg.Text)

	// Second access serves the cached record.
	again, err := view.Value()
	require.NoError(t, err)
	require.Equal(t, msg, again)
	require.Same(t, p, view.Packet())
}

func TestTypedPacket_Value_BadPayload(t *testing.T) {
	p := New(MustPacketIdentifier(101), false, []byte{0xff, 0xff})

	_, err := As[chatMessage](p).Value()
	require.Error(t, err)
}

func TestStringCodec_RoundTrip(t *testing.T) {
	data, err := EncodeString("Server is shutting down.")
	require.NoError(t, err)

	reason, err := DecodeString(data)
	require.NoError(t, err)
	require.Equal(t, "Server is shutting down.", reason)
}

func TestStringCodec_Empty(t *testing.T) {
	data, err := EncodeString("")
	require.NoError(t, err)
	require.Nil(t, data)

	reason, err := DecodeString(nil)
	require.NoError(t, err)
	require.Equal(t, "", reason)
}
