package raft

import "sync"

// Storage is the contract the core requires from the persistent log and
// snapshot store. The core never reaches past this interface into a file
// system, a database, or a network socket; every method here is expected
// to be fast and non-blocking from the core's point of view (an
// implementation backed by real disk I/O, such as storage/badgerstore,
// still satisfies this by doing the blocking work before acking the
// driver's request to persist).
type Storage interface {
	// InitialState returns the currently known term/vote, for a
	// restarting server. It does not return a configuration.
	InitialState() (term uint64, vote uint64, err error)
	// Entries returns entries in [lo, hi).
	Entries(lo, hi uint64) ([]Entry, error)
	// Term returns the term of the entry at index i.
	Term(i uint64) (uint64, error)
	// FirstIndex returns the index after the most recent snapshot (1 if
	// none has ever been taken).
	FirstIndex() (uint64, error)
	// LastIndex returns the index of the last entry in storage.
	LastIndex() (uint64, error)
	// Snapshot returns the most recently stored snapshot, if any.
	Snapshot() (SnapshotMeta, []byte, error)
}

// MemoryStorage is an in-memory Storage used by tests and by callers that
// don't need durability, the way a raft core package typically carries its
// own in-package storage for unit tests.
type MemoryStorage struct {
	mu sync.RWMutex

	term uint64
	vote uint64

	// ents[i] has Index = snapshot.LastIndex + i. ents[0] is a dummy entry
	// holding the snapshot's (index, term) boundary.
	ents     []Entry
	snapshot SnapshotMeta
	snapData []byte
}

// NewMemoryStorage returns a Storage with a single dummy entry at index 0.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		ents: []Entry{{}},
	}
}

func (ms *MemoryStorage) InitialState() (uint64, uint64, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.term, ms.vote, nil
}

// SetHardState persists (term, vote); it is the in-memory stand-in for the
// driver's request to persist term and vote.
func (ms *MemoryStorage) SetHardState(term, vote uint64) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.term = term
	ms.vote = vote
	return nil
}

func (ms *MemoryStorage) firstIndexLocked() uint64 {
	return ms.ents[0].Index + 1
}

func (ms *MemoryStorage) lastIndexLocked() uint64 {
	return ms.ents[0].Index + uint64(len(ms.ents)) - 1
}

func (ms *MemoryStorage) FirstIndex() (uint64, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.firstIndexLocked(), nil
}

func (ms *MemoryStorage) LastIndex() (uint64, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.lastIndexLocked(), nil
}

func (ms *MemoryStorage) Term(i uint64) (uint64, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	offset := ms.ents[0].Index
	if i < offset {
		return 0, ErrCompacted
	}
	if int(i-offset) >= len(ms.ents) {
		return 0, ErrUnavailable
	}
	return ms.ents[i-offset].Term, nil
}

func (ms *MemoryStorage) Entries(lo, hi uint64) ([]Entry, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	offset := ms.ents[0].Index
	if lo <= offset {
		return nil, ErrCompacted
	}
	if hi > ms.lastIndexLocked()+1 {
		return nil, ErrUnavailable
	}
	ents := ms.ents[lo-offset : hi-offset]
	out := make([]Entry, len(ents))
	copy(out, ents)
	return out, nil
}

// Append persists new entries, the in-memory stand-in for the driver's
// request to persist entries. Entries overlapping the existing tail
// truncate it first, mirroring the suffix-truncation contract log.go
// relies on.
func (ms *MemoryStorage) Append(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	first := ms.firstIndexLocked()
	last := entries[0].Index + uint64(len(entries)) - 1
	if last < first {
		return nil
	}
	if first > entries[0].Index {
		entries = entries[first-entries[0].Index:]
	}

	offset := entries[0].Index - ms.ents[0].Index
	switch {
	case uint64(len(ms.ents)) > offset:
		ms.ents = append([]Entry{}, ms.ents[:offset]...)
		ms.ents = append(ms.ents, entries...)
	case uint64(len(ms.ents)) == offset:
		ms.ents = append(ms.ents, entries...)
	default:
		return errorsUnavailableGap
	}
	return nil
}

// TruncateSuffix drops every persisted entry at index >= from.
func (ms *MemoryStorage) TruncateSuffix(from uint64) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	offset := ms.ents[0].Index
	if from <= offset {
		return ErrCompacted
	}
	if from > ms.lastIndexLocked()+1 {
		return nil
	}
	ms.ents = ms.ents[:from-offset]
	return nil
}

// TruncatePrefix compacts everything up to and including upTo, recording
// the snapshot boundary the way a real snapshot store would after
// installing a snapshot.
func (ms *MemoryStorage) TruncatePrefix(upTo uint64, meta SnapshotMeta, data []byte) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	offset := ms.ents[0].Index
	if upTo <= offset {
		return ErrCompacted
	}
	if upTo > ms.lastIndexLocked() {
		ms.ents = []Entry{{Index: upTo, Term: meta.LastTerm}}
	} else {
		i := upTo - offset
		remaining := append([]Entry{}, ms.ents[i:]...)
		remaining[0] = Entry{Index: upTo, Term: ms.ents[i].Term}
		ms.ents = remaining
	}
	ms.snapshot = meta
	ms.snapData = data
	return nil
}

func (ms *MemoryStorage) Snapshot() (SnapshotMeta, []byte, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.snapshot, ms.snapData, nil
}

var errorsUnavailableGap = ErrUnavailable
