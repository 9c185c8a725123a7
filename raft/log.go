package raft

// raftLog is the in-memory view of the log: a logical array addressed by
// 1-based index, split between a "stable" prefix already confirmed durable
// by Storage and an "unstable" tail the driver is still persisting. The
// replication layer must never treat unstable entries as replicated
// locally, so sendAppend and the progress bookkeeping only ever look at
// lastIndex()/termOf(), which span both, while match-index advancement on
// the leader's own entry waits for stableTo.
type raftLog struct {
	storage Storage

	// committed is the highest index known to be replicated on a quorum.
	committed uint64
	// applied is the highest index delivered to the host; never exceeds
	// committed.
	applied uint64
	// stabled is the highest index the driver has confirmed persisted.
	stabled uint64

	// unstable holds entries with index > stabled: appended locally but
	// not yet confirmed durable, or delivered by an AppendEntries/Snapshot
	// that the driver hasn't acked yet.
	unstable []Entry

	pendingSnapshot *SnapshotMeta

	logger Logger
}

func newRaftLog(storage Storage, logger Logger) *raftLog {
	firstIndex, err := storage.FirstIndex()
	if err != nil {
		logger.Panicf("raftLog: FirstIndex failed: %v", err)
	}
	lastIndex, err := storage.LastIndex()
	if err != nil {
		logger.Panicf("raftLog: LastIndex failed: %v", err)
	}
	return &raftLog{
		storage:  storage,
		committed: firstIndex - 1,
		applied:   firstIndex - 1,
		stabled:   lastIndex,
		logger:    logger,
	}
}

func (l *raftLog) lastIndex() uint64 {
	if n := len(l.unstable); n > 0 {
		return l.unstable[n-1].Index
	}
	last, err := l.storage.LastIndex()
	if err != nil {
		l.logger.Panicf("raftLog: LastIndex failed: %v", err)
	}
	return last
}

func (l *raftLog) lastTerm() uint64 {
	t, err := l.termOf(l.lastIndex())
	if err != nil {
		l.logger.Panicf("raftLog: lastTerm failed: %v", err)
	}
	return t
}

// termOf returns the term of the entry at index i, or 0 for the zero/dummy
// index that stands for "no entry".
func (l *raftLog) termOf(i uint64) (uint64, error) {
	if i == 0 {
		return 0, nil
	}
	if n := len(l.unstable); n > 0 {
		first := l.unstable[0].Index
		if i >= first {
			if i > l.unstable[n-1].Index {
				return 0, ErrUnavailable
			}
			return l.unstable[i-first].Term, nil
		}
	}
	if p := l.pendingSnapshot; p != nil && i == p.LastIndex {
		return p.LastTerm, nil
	}
	return l.storage.Term(i)
}

// get returns a copy of the entry at index i.
func (l *raftLog) get(i uint64) (Entry, error) {
	t, err := l.termOf(i)
	if err != nil {
		return Entry{}, err
	}
	ents, err := l.slice(i, i+1)
	if err != nil {
		return Entry{}, err
	}
	if len(ents) == 0 {
		return Entry{Index: i, Term: t}, nil
	}
	return ents[0], nil
}

// slice returns entries in [lo, hi), spanning storage and the unstable
// tail transparently.
func (l *raftLog) slice(lo, hi uint64) ([]Entry, error) {
	if lo >= hi {
		return nil, nil
	}
	var out []Entry
	if lo <= l.stabled {
		stored, err := l.storage.Entries(lo, min(hi, l.stabled+1))
		if err != nil {
			return nil, err
		}
		out = append(out, stored...)
	}
	if hi > l.stabled+1 {
		from := max(lo, l.stabled+1)
		first := l.stabled + 1
		if len(l.unstable) > 0 {
			first = l.unstable[0].Index
		}
		if from >= first {
			lo2 := from - first
			hi2 := hi - first
			if hi2 > uint64(len(l.unstable)) {
				hi2 = uint64(len(l.unstable))
			}
			if lo2 < hi2 {
				out = append(out, l.unstable[lo2:hi2]...)
			}
		}
	}
	return out, nil
}

// entriesFrom returns every entry with index >= from (used to build an
// AppendEntries payload).
func (l *raftLog) entriesFrom(from uint64) ([]Entry, error) {
	if from > l.lastIndex() {
		return nil, nil
	}
	return l.slice(from, l.lastIndex()+1)
}

// append adds locally-originated entries (leader path only: a leader never
// overwrites its own entries) to the unstable tail and returns the new
// last index.
func (l *raftLog) append(entries ...Entry) uint64 {
	if len(entries) == 0 {
		return l.lastIndex()
	}
	if first := entries[0].Index; first <= l.committed {
		l.logger.Panicf("raftLog: append index %d <= committed %d", first, l.committed)
	}
	l.truncateUnstableFrom(entries[0].Index)
	l.unstable = append(l.unstable, entries...)
	return l.lastIndex()
}

// maybeAppend implements the follower side of AppendEntries: verify the
// (prevLogIndex, prevLogTerm) match, truncate any conflicting suffix,
// append the new entries, and advance commitIndex. Returns the index of
// the last entry this append covers (prevLogIndex + len(entries)) and
// whether the append was accepted.
func (l *raftLog) maybeAppend(prevLogIndex, prevLogTerm uint64, leaderCommit uint64, entries ...Entry) (uint64, bool) {
	if !l.matchTerm(prevLogIndex, prevLogTerm) {
		return 0, false
	}
	lastNewIndex := prevLogIndex + uint64(len(entries))
	if len(entries) > 0 {
		ci := l.findConflict(entries)
		switch {
		case ci == 0:
			// no conflict, nothing new either
		case ci <= l.committed:
			l.logger.Panicf("raftLog: conflict at %d is below committed %d", ci, l.committed)
		default:
			offset := prevLogIndex + 1
			l.truncateSuffix(ci)
			l.unstable = append(l.unstable, entries[ci-offset:]...)
		}
	}
	if leaderCommit > l.committed {
		l.commitTo(min(leaderCommit, lastNewIndex))
	}
	return lastNewIndex, true
}

// findConflict returns the index of the first entry in ents that conflicts
// with the local log (different term at the same index), or 0 if there is
// no conflict and every entry is already present.
func (l *raftLog) findConflict(ents []Entry) uint64 {
	for _, e := range ents {
		if !l.matchTerm(e.Index, e.Term) {
			if e.Index <= l.lastIndex() {
				l.logger.Infof("raftLog: found conflict at index %d [existing term: %d, incoming term: %d]",
					e.Index, l.zeroTermOnErr(e.Index), e.Term)
			}
			return e.Index
		}
	}
	return 0
}

// findConflictByTerm walks backward from index looking for the first
// entry whose term is <= the given term, returning its index (or 0 if
// none qualifies). Used to build the conflict hint a rejecting follower
// returns, so the leader's next probe can skip straight past an entire
// conflicting term instead of backing off one index at a time.
func (l *raftLog) findConflictByTerm(index, term uint64) uint64 {
	for i := index; i > 0; i-- {
		t, err := l.termOf(i)
		if err != nil {
			return 0
		}
		if t <= term {
			return i
		}
	}
	return 0
}

func (l *raftLog) matchTerm(i, term uint64) bool {
	t, err := l.termOf(i)
	if err != nil {
		return false
	}
	return t == term
}

func (l *raftLog) zeroTermOnErr(i uint64) uint64 {
	t, err := l.termOf(i)
	if err != nil {
		return 0
	}
	return t
}

// truncateSuffix drops every entry at index >= from from the unstable
// tail. Entries already confirmed stable at index >= from are logically
// superseded but physically removed only when the driver next persists
// over them; this only happens on a follower reconciling with a leader,
// never on the leader's own entries.
func (l *raftLog) truncateSuffix(from uint64) {
	l.truncateUnstableFrom(from)
	if from <= l.stabled {
		l.stabled = from - 1
	}
}

func (l *raftLog) truncateUnstableFrom(from uint64) {
	if len(l.unstable) == 0 {
		return
	}
	first := l.unstable[0].Index
	if from <= first {
		l.unstable = nil
		return
	}
	if from > l.unstable[len(l.unstable)-1].Index {
		return
	}
	l.unstable = l.unstable[:from-first]
}

// truncatePrefix is invoked after a snapshot has been installed, dropping
// everything at index <= upTo.
func (l *raftLog) truncatePrefix(upTo uint64, meta SnapshotMeta) {
	if upTo <= l.applied {
		// already reflected in applied/committed bookkeeping
	}
	l.committed = max(l.committed, upTo)
	l.applied = max(l.applied, upTo)
	l.stabled = max(l.stabled, upTo)
	l.truncateUnstableFrom(upTo + 1)
	l.pendingSnapshot = &meta
}

// commitTo advances commitIndex; it never decreases it.
func (l *raftLog) commitTo(to uint64) {
	if to > l.committed {
		if l.lastIndex() < to {
			l.logger.Panicf("raftLog: commitTo %d is out of range [lastIndex %d]", to, l.lastIndex())
		}
		l.committed = to
	}
}

// appliedTo advances lastApplied; it must never exceed commitIndex.
func (l *raftLog) appliedTo(to uint64) {
	if to == 0 {
		return
	}
	if l.committed < to || to < l.applied {
		l.logger.Panicf("raftLog: appliedTo(%d) out of range [applied %d, committed %d]", to, l.applied, l.committed)
	}
	l.applied = to
}

// stableTo records that the driver has confirmed entries durable up to
// `to`.
func (l *raftLog) stableTo(to uint64) {
	if to > l.stabled {
		l.stabled = to
	}
	// Entries at index <= to are now guaranteed recoverable from Storage;
	// drop just that confirmed prefix, leaving anything appended after the
	// Ready this stableTo answers untouched.
	if len(l.unstable) > 0 && l.unstable[0].Index <= to {
		l.unstable = l.unstable[to-l.unstable[0].Index+1:]
	}
}

// nextEntries returns the committed-but-not-yet-applied entries, for the
// driver to deliver to the state machine in order.
func (l *raftLog) nextEntries() []Entry {
	if l.applied >= l.committed {
		return nil
	}
	ents, err := l.slice(l.applied+1, l.committed+1)
	if err != nil {
		l.logger.Panicf("raftLog: nextEntries failed: %v", err)
	}
	return ents
}

// isUpToDate implements the RequestVote log comparison: whether the
// candidate's log is at least as up to date as ours.
func (l *raftLog) isUpToDate(lastIndex, lastTerm uint64) bool {
	ourTerm := l.lastTerm()
	return lastTerm > ourTerm || (lastTerm == ourTerm && lastIndex >= l.lastIndex())
}

func min(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func max(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
