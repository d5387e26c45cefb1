package peer

import (
	"net"
	"testing"
	"time"

	"github.com/prellblock/prellblock/block"
	"github.com/prellblock/prellblock/identity"
	"github.com/stretchr/testify/require"
)

func TestConnTransportSendReceive(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	server := NewTCPTransport(serverConn, time.Second, time.Second)
	client := NewTCPTransport(clientConn, time.Second, time.Second)

	key, err := identity.GenerateKey()
	require.NoError(t, err)

	want := AckPrepare{BlockNumber: 7, BlockHash: block.BlockHash{3}}

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Send(key, want)
	}()

	got, sender, sig, err := server.Receive()
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	require.Equal(t, want, got)
	require.Equal(t, key.PeerId(), sender)
	require.NotZero(t, sig)
}

func TestServerDispatchesToHandler(t *testing.T) {
	serverKey, err := identity.GenerateKey()
	require.NoError(t, err)
	clientKey, err := identity.GenerateKey()
	require.NoError(t, err)

	srv, err := Listen("127.0.0.1:0", serverKey, func(sender identity.PeerId, sig identity.Signature, msg Message) (Message, error) {
		require.Equal(t, clientKey.PeerId(), sender)
		require.NotZero(t, sig)
		ack := msg.(Prepare)
		return AckPrepare{BlockNumber: ack.Proposal.Number, BlockHash: ack.BlockHash}, nil
	})
	require.NoError(t, err)
	defer srv.Close()

	go srv.Serve()

	client, err := Dial(serverKey.PeerId(), srv.Addr().String(), clientKey)
	require.NoError(t, err)
	defer client.Close()

	resp, sig, err := client.Request(Prepare{Proposal: block.Body{Number: 5}, BlockHash: block.BlockHash{9}})
	require.NoError(t, err)
	require.NotZero(t, sig)

	ack, ok := resp.(AckPrepare)
	require.True(t, ok)
	require.Equal(t, block.BlockNumber(5), ack.BlockNumber)
	require.Equal(t, block.BlockHash{9}, ack.BlockHash)
}
