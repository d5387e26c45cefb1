package blockstore

import (
	"path/filepath"
	"testing"

	"github.com/prellblock/prellblock/block"
	"github.com/stretchr/testify/require"
)

func genesisChild(t *testing.T, number block.BlockNumber, prev *block.Block) *block.Block {
	t.Helper()
	prevHash := block.GenesisBlockHash
	if prev != nil {
		hash, err := prev.Hash()
		require.NoError(t, err)
		prevHash = hash
	}
	return &block.Block{Number: number, PrevHash: prevHash, LeaderTerm: 0}
}

func testStoreChaining(t *testing.T, store Store) {
	t.Helper()

	_, ok := store.CurrentBlockNumber()
	require.False(t, ok)

	b0 := genesisChild(t, 0, nil)
	require.NoError(t, store.Append(b0))

	number, ok := store.CurrentBlockNumber()
	require.True(t, ok)
	require.Equal(t, block.BlockNumber(0), number)

	b1 := genesisChild(t, 1, b0)
	require.NoError(t, store.Append(b1))

	blocks, err := store.Read(0, 2)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	require.Equal(t, block.BlockNumber(0), blocks[0].Number)
	require.Equal(t, block.BlockNumber(1), blocks[1].Number)
}

func testStoreRejectsOutOfOrder(t *testing.T, store Store) {
	t.Helper()

	b0 := genesisChild(t, 0, nil)
	require.NoError(t, store.Append(b0))

	// Wrong block number.
	bad := genesisChild(t, 5, b0)
	err := store.Append(bad)
	require.ErrorIs(t, err, ErrOutOfOrder)

	// Wrong prev hash.
	bad2 := &block.Block{Number: 1, PrevHash: block.BlockHash{0xff}, LeaderTerm: 0}
	err = store.Append(bad2)
	require.ErrorIs(t, err, ErrOutOfOrder)
}

func TestMemStoreChaining(t *testing.T) {
	testStoreChaining(t, NewMemStore())
}

func TestMemStoreRejectsOutOfOrder(t *testing.T) {
	testStoreRejectsOutOfOrder(t, NewMemStore())
}

func TestLevelStoreChaining(t *testing.T) {
	store, err := OpenLevelStore(filepath.Join(t.TempDir(), "blocks"))
	require.NoError(t, err)
	defer store.Close()

	testStoreChaining(t, store)
}

func TestLevelStoreRejectsOutOfOrder(t *testing.T) {
	store, err := OpenLevelStore(filepath.Join(t.TempDir(), "blocks"))
	require.NoError(t, err)
	defer store.Close()

	testStoreRejectsOutOfOrder(t, store)
}

func TestLevelStorePersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "blocks")

	store, err := OpenLevelStore(dir)
	require.NoError(t, err)
	b0 := genesisChild(t, 0, nil)
	require.NoError(t, store.Append(b0))
	require.NoError(t, store.Close())

	reopened, err := OpenLevelStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	number, ok := reopened.CurrentBlockNumber()
	require.True(t, ok)
	require.Equal(t, block.BlockNumber(0), number)
}
