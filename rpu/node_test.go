package rpu

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prellblock/prellblock/block"
	"github.com/prellblock/prellblock/blockstore"
	"github.com/prellblock/prellblock/config"
	"github.com/prellblock/prellblock/identity"
	"github.com/prellblock/prellblock/turi"
	"github.com/prellblock/prellblock/worldstate"
	"github.com/stretchr/testify/require"
)

// buildTestCluster starts n RPU Nodes on fixed loopback ports, wired
// through a real config.Roster the way config.LoadRoster would produce
// from a YAML file. Fixed ports (rather than ":0" ephemeral ones) avoid the
// chicken-and-egg problem of a Node's broadcaster needing every peer's
// address before any peer has bound its listener.
func buildTestCluster(t *testing.T, n int, basePort int) (config.Roster, []*Node) {
	t.Helper()

	keys := make([]*identity.PrivateKey, n)
	roster := make(config.Roster, n)
	for i := 0; i < n; i++ {
		key, err := identity.GenerateKey()
		require.NoError(t, err)
		keys[i] = key
		roster[i] = config.Peer{
			Name:          key.PeerId().String(),
			PeerId:        key.PeerId(),
			PeerAddress:   fmt.Sprintf("127.0.0.1:%d", basePort+i),
			ClientAddress: fmt.Sprintf("127.0.0.1:%d", basePort+100+i),
		}
	}

	nodes := make([]*Node, n)
	for i := 0; i < n; i++ {
		node, err := New(roster, keys[i], blockstore.NewMemStore(), Options{
			BatchSize:     1,
			FlushInterval: 20 * time.Millisecond,
			PhaseTimeout:  300 * time.Millisecond,
		})
		require.NoError(t, err)
		nodes[i] = node
	}
	return roster, nodes
}

func TestNodeClusterCommitsAndServesReads(t *testing.T) {
	roster, nodes := buildTestCluster(t, 4, 19300)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, node := range nodes {
		node := node
		go node.Run(ctx)
	}

	leaderAddr := roster[0].ClientAddress
	submitterKey, err := identity.GenerateKey()
	require.NoError(t, err)
	// Grant the submitting key write permission by injecting it directly
	// into the leader's world state before submitting — a stand-in for
	// whatever out-of-band provisioning step seeds genesis accounts in
	// production.
	writable, err := nodes[0].world.AcquireWritable(ctx)
	require.NoError(t, err)
	writable.State().Accounts[submitterKey.PeerId()] = worldstate.Account{Permissions: []string{"write"}}
	writable.Commit()

	client, err := turi.Dial(leaderAddr, submitterKey)
	require.NoError(t, err)
	defer client.Close()

	signed, err := identity.Sign[block.Transaction](block.KeyValue{Key: "rail-sensor-1", Value: []byte("42")}, submitterKey)
	require.NoError(t, err)
	wire, err := block.EncodeSignedTransaction(signed)
	require.NoError(t, err)

	resp, err := client.Request(turi.Execute{Transaction: wire})
	require.NoError(t, err)
	require.Equal(t, turi.ExecuteAck{}, resp)

	require.Eventually(t, func() bool {
		resp, err := client.Request(turi.GetValue{Owner: submitterKey.PeerId(), Key: "rail-sensor-1"})
		if err != nil {
			return false
		}
		got, ok := resp.(turi.GetValueResponse)
		return ok && got.Found && string(got.Value) == "42"
	}, 3*time.Second, 20*time.Millisecond)
}
