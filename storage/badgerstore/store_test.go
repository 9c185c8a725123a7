package badgerstore_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinyraft/raftcore/raft"
	"github.com/tinyraft/raftcore/storage/badgerstore"
)

func openTestStore(t *testing.T) *badgerstore.Store {
	t.Helper()
	s, err := badgerstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestStoreEmptyBounds(t *testing.T) {
	s := openTestStore(t)

	first, err := s.FirstIndex()
	require.NoError(t, err)
	require.Equal(t, uint64(1), first)

	last, err := s.LastIndex()
	require.NoError(t, err)
	require.Equal(t, uint64(0), last)
}

func TestStoreAppendAndEntries(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Append([]raft.Entry{
		{Index: 1, Term: 1, Payload: []byte("a")},
		{Index: 2, Term: 1, Payload: []byte("b")},
		{Index: 3, Term: 2, Payload: []byte("c")},
	}))

	last, err := s.LastIndex()
	require.NoError(t, err)
	require.Equal(t, uint64(3), last)

	ents, err := s.Entries(1, 4)
	require.NoError(t, err)
	require.Len(t, ents, 3)
	require.Equal(t, []byte("b"), ents[1].Payload)

	term, err := s.Term(3)
	require.NoError(t, err)
	require.Equal(t, uint64(2), term)
}

func TestStoreAppendTruncatesConflictingSuffix(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Append([]raft.Entry{
		{Index: 1, Term: 1}, {Index: 2, Term: 1}, {Index: 3, Term: 1},
	}))
	require.NoError(t, s.Append([]raft.Entry{
		{Index: 2, Term: 2},
	}))

	last, err := s.LastIndex()
	require.NoError(t, err)
	require.Equal(t, uint64(2), last)

	_, err = s.Entries(3, 4)
	require.Error(t, err)
}

func TestStoreTruncatePrefixCompacts(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Append([]raft.Entry{
		{Index: 1, Term: 1}, {Index: 2, Term: 1}, {Index: 3, Term: 2},
	}))

	meta := raft.SnapshotMeta{LastIndex: 2, LastTerm: 1}
	require.NoError(t, s.TruncatePrefix(2, meta, []byte("snap")))

	first, err := s.FirstIndex()
	require.NoError(t, err)
	require.Equal(t, uint64(3), first)

	_, err = s.Entries(1, 3)
	require.ErrorIs(t, err, raft.ErrCompacted)

	gotMeta, data, err := s.Snapshot()
	require.NoError(t, err)
	require.Equal(t, meta, gotMeta)
	require.Equal(t, []byte("snap"), data)
}

func TestStoreHardState(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SetHardState(5, 2))

	term, vote, err := s.InitialState()
	require.NoError(t, err)
	require.Equal(t, uint64(5), term)
	require.Equal(t, uint64(2), vote)
}
