package exchange

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveSharedKey_BothSidesAgree(t *testing.T) {
	client, err := NewEphemeral()
	require.NoError(t, err)
	server, err := NewEphemeral()
	require.NoError(t, err)

	clientKey, err := client.DeriveSharedKey(server.PublicKey())
	require.NoError(t, err)
	serverKey, err := server.DeriveSharedKey(client.PublicKey())
	require.NoError(t, err)

	require.Len(t, clientKey, SessionKeySize)
	require.Equal(t, clientKey, serverKey)
}

func TestDeriveSharedKey_DistinctPairsDisagree(t *testing.T) {
	a, err := NewEphemeral()
	require.NoError(t, err)
	b, err := NewEphemeral()
	require.NoError(t, err)
	c, err := NewEphemeral()
	require.NoError(t, err)

	keyAB, err := a.DeriveSharedKey(b.PublicKey())
	require.NoError(t, err)
	keyAC, err := a.DeriveSharedKey(c.PublicKey())
	require.NoError(t, err)
	require.NotEqual(t, keyAB, keyAC)
}

func TestDeriveSharedKey_BadPeerKey(t *testing.T) {
	e, err := NewEphemeral()
	require.NoError(t, err)

	_, err = e.DeriveSharedKey([]byte("not a public key"))
	require.Error(t, err)
}
