package batcher

import (
	"testing"
	"time"

	"github.com/prellblock/prellblock/block"
	"github.com/prellblock/prellblock/identity"
	"github.com/stretchr/testify/require"
)

func signedKeyValue(t *testing.T, key *identity.PrivateKey, k string) identity.Signed[block.Transaction] {
	t.Helper()
	signed, err := identity.Sign[block.Transaction](block.KeyValue{Key: k, Value: []byte("v")}, key)
	require.NoError(t, err)
	return signed
}

func TestBatcherFlushesOnCountThreshold(t *testing.T) {
	key, err := identity.GenerateKey()
	require.NoError(t, err)

	b := New(2, time.Hour, 10)
	go b.Run()
	defer b.Stop()

	require.NoError(t, b.Add(signedKeyValue(t, key, "a")))
	require.NoError(t, b.Add(signedKeyValue(t, key, "b")))

	select {
	case batch := <-b.Flushes():
		require.Len(t, batch, 2)
	case <-time.After(time.Second):
		t.Fatal("expected a flush on reaching MaxSize")
	}
}

func TestBatcherFlushesOnInterval(t *testing.T) {
	key, err := identity.GenerateKey()
	require.NoError(t, err)

	b := New(100, 20*time.Millisecond, 10)
	go b.Run()
	defer b.Stop()

	require.NoError(t, b.Add(signedKeyValue(t, key, "a")))

	select {
	case batch := <-b.Flushes():
		require.Len(t, batch, 1)
	case <-time.After(time.Second):
		t.Fatal("expected a flush on interval tick")
	}
}

func TestBatcherRejectsWhenBufferFull(t *testing.T) {
	key, err := identity.GenerateKey()
	require.NoError(t, err)

	b := New(1000, time.Hour, 1)
	// Run is intentionally not started: the incoming channel fills and Add
	// must fail fast rather than block.
	require.NoError(t, b.Add(signedKeyValue(t, key, "a")))
	err = b.Add(signedKeyValue(t, key, "b"))
	require.ErrorIs(t, err, ErrBatcherFull)
}
