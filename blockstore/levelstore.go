package blockstore

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prellblock/prellblock/block"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// headKey is a sentinel key (4 bytes, so it never collides with an 8-byte
// block-number key) holding the current head's block
// number, so CurrentBlockNumber doesn't need a full table scan.
var headKey = []byte("head")

// LevelStore is a goleveldb-backed, durable Store. It mirrors the
// teacher's own ethdb-over-goleveldb layering: block_number is the key
// (big-endian, so iteration order matches numeric order), the RLP encoding
// of the full block is the value.
type LevelStore struct {
	mu  sync.RWMutex
	db  *leveldb.DB
	log log.Logger
}

// OpenLevelStore opens (creating if necessary) a durable block store at
// dir.
func OpenLevelStore(dir string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(dir, &opt.Options{})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIntegrity, dir, err)
	}
	return &LevelStore{db: db, log: log.New("component", "blockstore")}, nil
}

func blockKey(number block.BlockNumber) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(number))
	return key
}

func (s *LevelStore) head() (*block.Block, bool, error) {
	raw, err := s.db.Get(headKey, nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: reading head pointer: %v", ErrIntegrity, err)
	}
	number := block.BlockNumber(binary.BigEndian.Uint64(raw))
	blocks, err := s.readLocked(number, number+1)
	if err != nil {
		return nil, false, err
	}
	if len(blocks) != 1 {
		return nil, false, fmt.Errorf("%w: head pointer %d has no block", ErrIntegrity, number)
	}
	return blocks[0], true, nil
}

// Append implements Store. The write is durable (fsynced) before it
// returns success, satisfying §4.2.
func (s *LevelStore) Append(blk *block.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, _, err := s.head()
	if err != nil {
		return err
	}
	if err := validateAppend(blk, last); err != nil {
		return err
	}

	data, err := blk.CanonicalBytes()
	if err != nil {
		return fmt.Errorf("%w: encoding block %d: %v", ErrIntegrity, blk.Number, err)
	}

	batch := new(leveldb.Batch)
	batch.Put(blockKey(blk.Number), data)
	headValue := make([]byte, 8)
	binary.BigEndian.PutUint64(headValue, uint64(blk.Number))
	batch.Put(headKey, headValue)

	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		s.log.Error("block store append failed", "number", blk.Number, "err", err)
		return fmt.Errorf("%w: writing block %d: %v", ErrIntegrity, blk.Number, err)
	}
	return nil
}

func (s *LevelStore) readLocked(from, to block.BlockNumber) ([]*block.Block, error) {
	var out []*block.Block
	for n := from; n < to; n++ {
		raw, err := s.db.Get(blockKey(n), nil)
		if err == leveldb.ErrNotFound {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading block %d: %v", ErrIntegrity, n, err)
		}
		blk, err := block.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: decoding block %d: %v", ErrIntegrity, n, err)
		}
		out = append(out, blk)
	}
	return out, nil
}

// Read implements Store.
func (s *LevelStore) Read(from, to block.BlockNumber) ([]*block.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readLocked(from, to)
}

// CurrentBlockNumber implements Store.
func (s *LevelStore) CurrentBlockNumber() (block.BlockNumber, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	last, ok, err := s.head()
	if err != nil || !ok {
		return 0, false
	}
	return last.Number, true
}

// Close implements Store.
func (s *LevelStore) Close() error {
	return s.db.Close()
}
