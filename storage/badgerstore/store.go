// Package badgerstore is a durable raft.Storage backed by a Connor1996/
// badger key-value store, laid out the way kv/engine_util's CFIterator
// addresses badger through a Txn and a key prefix: one keyspace for log
// entries keyed by big-endian index, one key for the persisted hard
// state, one key for the most recent snapshot. Entries are gob-encoded,
// the same stdlib idiom Markz2z-MIT6.824's Raft.persist uses for its
// on-disk representation - there is no wire-format library in scope
// here since nothing here crosses a network boundary.
package badgerstore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"

	"github.com/Connor1996/badger"

	"github.com/tinyraft/raftcore/raft"
)

var (
	logPrefix    = []byte("l/")
	boundsKey    = []byte("m/bounds")
	hardStateKey = []byte("m/hardstate")
	snapshotKey  = []byte("m/snapshot")
)

// Store is a badger-backed raft.Storage. The zero value is not usable;
// construct with Open.
type Store struct {
	db *badger.DB
}

type bounds struct {
	First uint64 // index of the oldest entry still retained (the compaction boundary entry)
	Last  uint64 // index of the newest entry retained
}

type hardState struct {
	Term uint64
	Vote uint64
}

type snapshotRecord struct {
	Meta raft.SnapshotMeta
	Data []byte
}

// Open opens (creating if necessary) a badger database rooted at dir and
// returns a Store over it. A brand new database is seeded with the dummy
// boundary entry at index 0, matching raft.MemoryStorage's convention.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(boundsKey); err == badger.ErrKeyNotFound {
			if err := putEntry(txn, raft.Entry{}); err != nil {
				return err
			}
			return putBounds(txn, bounds{First: 1, Last: 0})
		} else if err != nil {
			return err
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying badger database.
func (s *Store) Close() error {
	return s.db.Close()
}

func logKey(index uint64) []byte {
	key := make([]byte, len(logPrefix)+8)
	copy(key, logPrefix)
	binary.BigEndian.PutUint64(key[len(logPrefix):], index)
	return key
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func getItemValue(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func putEntry(txn *badger.Txn, e raft.Entry) error {
	data, err := encode(e)
	if err != nil {
		return err
	}
	return txn.Set(logKey(e.Index), data)
}

func getEntry(txn *badger.Txn, index uint64) (raft.Entry, error) {
	val, err := getItemValue(txn, logKey(index))
	if err != nil {
		return raft.Entry{}, err
	}
	var e raft.Entry
	if err := decode(val, &e); err != nil {
		return raft.Entry{}, err
	}
	return e, nil
}

func putBounds(txn *badger.Txn, b bounds) error {
	data, err := encode(b)
	if err != nil {
		return err
	}
	return txn.Set(boundsKey, data)
}

func getBounds(txn *badger.Txn) (bounds, error) {
	val, err := getItemValue(txn, boundsKey)
	if err == badger.ErrKeyNotFound {
		return bounds{First: 1, Last: 0}, nil
	}
	if err != nil {
		return bounds{}, err
	}
	var b bounds
	if err := decode(val, &b); err != nil {
		return bounds{}, err
	}
	return b, nil
}

// InitialState returns the persisted (term, vote) pair.
func (s *Store) InitialState() (term uint64, vote uint64, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		val, gErr := getItemValue(txn, hardStateKey)
		if gErr == badger.ErrKeyNotFound {
			return nil
		}
		if gErr != nil {
			return gErr
		}
		var hs hardState
		if dErr := decode(val, &hs); dErr != nil {
			return dErr
		}
		term, vote = hs.Term, hs.Vote
		return nil
	})
	return term, vote, err
}

// SetHardState persists (term, vote) before any dependent RPC is sent.
func (s *Store) SetHardState(term, vote uint64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		data, err := encode(hardState{Term: term, Vote: vote})
		if err != nil {
			return err
		}
		return txn.Set(hardStateKey, data)
	})
}

func (s *Store) FirstIndex() (uint64, error) {
	var first uint64
	err := s.db.View(func(txn *badger.Txn) error {
		b, err := getBounds(txn)
		if err != nil {
			return err
		}
		first = b.First
		return nil
	})
	return first, err
}

func (s *Store) LastIndex() (uint64, error) {
	var last uint64
	err := s.db.View(func(txn *badger.Txn) error {
		b, err := getBounds(txn)
		if err != nil {
			return err
		}
		last = b.Last
		return nil
	})
	return last, err
}

func (s *Store) Term(i uint64) (uint64, error) {
	var term uint64
	err := s.db.View(func(txn *badger.Txn) error {
		b, err := getBounds(txn)
		if err != nil {
			return err
		}
		compactIndex := b.First - 1
		if i < compactIndex {
			return raft.ErrCompacted
		}
		if i > b.Last {
			return raft.ErrUnavailable
		}
		e, err := getEntry(txn, i)
		if err != nil {
			return err
		}
		term = e.Term
		return nil
	})
	return term, err
}

func (s *Store) Entries(lo, hi uint64) ([]raft.Entry, error) {
	var out []raft.Entry
	err := s.db.View(func(txn *badger.Txn) error {
		b, err := getBounds(txn)
		if err != nil {
			return err
		}
		if lo <= b.First-1 {
			return raft.ErrCompacted
		}
		if hi > b.Last+1 {
			return raft.ErrUnavailable
		}
		out = make([]raft.Entry, 0, hi-lo)
		for i := lo; i < hi; i++ {
			e, err := getEntry(txn, i)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Append persists entries, truncating any conflicting suffix first -
// entries whose index falls within the already-persisted range overwrite
// in place, and anything previously persisted beyond the new tail is
// dropped.
func (s *Store) Append(entries []raft.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.db.Update(func(txn *badger.Txn) error {
		b, err := getBounds(txn)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Index < b.First {
				continue
			}
			if err := putEntry(txn, e); err != nil {
				return err
			}
		}
		newLast := entries[len(entries)-1].Index
		for i := newLast + 1; i <= b.Last; i++ {
			if err := txn.Delete(logKey(i)); err != nil {
				return err
			}
		}
		b.Last = newLast
		return putBounds(txn, b)
	})
}

// TruncateSuffix drops every persisted entry at index >= from.
func (s *Store) TruncateSuffix(from uint64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		b, err := getBounds(txn)
		if err != nil {
			return err
		}
		if from <= b.First-1 {
			return raft.ErrCompacted
		}
		if from > b.Last {
			return nil
		}
		for i := from; i <= b.Last; i++ {
			if err := txn.Delete(logKey(i)); err != nil {
				return err
			}
		}
		b.Last = from - 1
		return putBounds(txn, b)
	})
}

// TruncatePrefix compacts every entry up to and including upTo, recording
// the new boundary entry and the snapshot that produced it.
func (s *Store) TruncatePrefix(upTo uint64, meta raft.SnapshotMeta, data []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		b, err := getBounds(txn)
		if err != nil {
			return err
		}
		if upTo <= b.First-1 {
			return raft.ErrCompacted
		}
		last := upTo
		if b.Last > upTo {
			last = b.Last
		}
		for i := b.First - 1; i < upTo; i++ {
			if err := txn.Delete(logKey(i)); err != nil {
				return err
			}
		}
		if err := putEntry(txn, raft.Entry{Index: upTo, Term: meta.LastTerm}); err != nil {
			return err
		}
		if err := putBounds(txn, bounds{First: upTo + 1, Last: last}); err != nil {
			return err
		}
		snapData, err := encode(snapshotRecord{Meta: meta, Data: data})
		if err != nil {
			return err
		}
		return txn.Set(snapshotKey, snapData)
	})
}

func (s *Store) Snapshot() (raft.SnapshotMeta, []byte, error) {
	var rec snapshotRecord
	err := s.db.View(func(txn *badger.Txn) error {
		val, gErr := getItemValue(txn, snapshotKey)
		if gErr == badger.ErrKeyNotFound {
			return nil
		}
		if gErr != nil {
			return gErr
		}
		return decode(val, &rec)
	})
	if err != nil {
		return raft.SnapshotMeta{}, nil, err
	}
	return rec.Meta, rec.Data, nil
}
