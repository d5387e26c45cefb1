package worldstate

import (
	"context"
	"testing"
	"time"

	"github.com/prellblock/prellblock/block"
	"github.com/prellblock/prellblock/identity"
	"github.com/stretchr/testify/require"
)

func TestAllowDeniesUnknownSigner(t *testing.T) {
	ws := New()
	err := ws.Allow(identity.PeerId{1}, block.KeyValue{Key: "k", Value: []byte("v")})
	require.ErrorIs(t, err, ErrPermissionDenied)
}

func TestAllowRequiresWritePermission(t *testing.T) {
	ws := New()
	signer := identity.PeerId{1}
	ws.Accounts[signer] = Account{Permissions: []string{"read"}}

	err := ws.Allow(signer, block.KeyValue{Key: "k", Value: []byte("v")})
	require.ErrorIs(t, err, ErrPermissionDenied)

	ws.Accounts[signer] = Account{Permissions: []string{"write"}}
	require.NoError(t, ws.Allow(signer, block.KeyValue{Key: "k", Value: []byte("v")}))
}

func TestApplyLaterWriteOverwritesKey(t *testing.T) {
	ws := New()
	signer := identity.PeerId{1}
	ws.Apply(signer, block.KeyValue{Key: "k", Value: []byte("v1")})
	ws.Apply(signer, block.KeyValue{Key: "k", Value: []byte("v2")})
	require.Equal(t, []byte("v2"), ws.Data[signer]["k"])
}

func TestCloneIsIndependent(t *testing.T) {
	ws := New()
	signer := identity.PeerId{1}
	ws.Apply(signer, block.KeyValue{Key: "k", Value: []byte("v1")})

	clone := ws.Clone()
	clone.Apply(signer, block.KeyValue{Key: "k", Value: []byte("v2")})

	require.Equal(t, []byte("v1"), ws.Data[signer]["k"])
	require.Equal(t, []byte("v2"), clone.Data[signer]["k"])
}

func TestServiceSnapshotIsStableDuringWrite(t *testing.T) {
	svc := NewService()
	before := svc.Snapshot()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	writable, err := svc.AcquireWritable(ctx)
	require.NoError(t, err)
	writable.State().Apply(identity.PeerId{2}, block.KeyValue{Key: "k", Value: []byte("v")})

	// Snapshot taken before commit must be unaffected — a reader never
	// observes a half-applied block.
	require.Empty(t, before.Data)

	writable.Commit()
	after := svc.Snapshot()
	require.Equal(t, []byte("v"), after.Data[identity.PeerId{2}]["k"])
}

func TestServiceWriterIsExclusive(t *testing.T) {
	svc := NewService()
	ctx := context.Background()

	first, err := svc.AcquireWritable(ctx)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := svc.AcquireWritable(ctx)
		require.NoError(t, err)
		close(acquired)
		second.Discard()
	}()

	select {
	case <-acquired:
		t.Fatal("second writer acquired permit while first still held it")
	case <-time.After(100 * time.Millisecond):
	}

	first.Commit()
	<-acquired
}
