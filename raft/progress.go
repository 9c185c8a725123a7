package raft

import (
	"sort"

	"github.com/google/btree"
)

// ProgressState is the per-follower flow-control mode.
type ProgressState int

const (
	// ProgressProbe carries at most one entry per AppendEntries and keeps
	// Next in place until a response arrives. It does not pause sending:
	// a broadcast before that response re-sends the same probe.
	ProgressProbe ProgressState = iota
	// ProgressPipeline allows multiple in-flight AppendEntries.
	ProgressPipeline
	// ProgressSnapshot suspends appends while an InstallSnapshot is
	// outstanding.
	ProgressSnapshot
)

func (s ProgressState) String() string {
	switch s {
	case ProgressProbe:
		return "probe"
	case ProgressPipeline:
		return "pipeline"
	case ProgressSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

// Progress tracks one follower's replication state.
type Progress struct {
	ID uint64

	Match uint64
	Next  uint64

	State ProgressState

	// RecentRecv is set on any RPC response from this follower and
	// cleared by the leader's quorum check (hasQuorumContact), mirroring
	// progress.h's recent_recv flag from the original C library.
	RecentRecv bool

	// PendingSnapshot remembers the index of a snapshot currently in
	// flight to this follower, so a stale InstallSnapshotResult can be
	// told apart from the live one.
	PendingSnapshot uint64

	// inflight bounds how many pipelined appends may be outstanding
	// before backing off; simplistic token count, not a full sliding
	// window, sufficient for the pipeline/probe distinction.
	inflight int
}

const maxInflightMsgs = 256

// becomeProbe resets flow control to probe mode, pinned at next: on any
// rejection while pipelining, fall back to probe with next = match + 1.
func (p *Progress) becomeProbe() {
	p.State = ProgressProbe
	p.inflight = 0
}

func (p *Progress) becomePipeline() {
	p.State = ProgressPipeline
	p.inflight = 0
}

func (p *Progress) becomeSnapshot(index uint64) {
	p.State = ProgressSnapshot
	p.PendingSnapshot = index
	p.inflight = 0
}

// maybeUpdate records a successful AppendEntriesResult; returns whether
// match/next actually advanced. Match is monotonic: it never regresses.
func (p *Progress) maybeUpdate(n uint64) bool {
	updated := false
	if p.Match < n {
		p.Match = n
		updated = true
	}
	if p.Next < n+1 {
		p.Next = n + 1
	}
	if p.inflight > 0 {
		p.inflight--
	}
	return updated
}

// maybeDecrTo applies a rejection: decrement next using the conflict hint
// if present, else by one. rejected is the PrevLogIndex echoed back off
// the rejected request, used to tell a stale response (answering a probe
// the leader has since moved past) apart from the live one; hintIndex/
// hintTerm are the optional conflict-hint fields off AppendEntriesResult.
func (p *Progress) maybeDecrTo(rejected, hintTerm, hintIndex uint64, termOf func(uint64) (uint64, error)) bool {
	if p.State == ProgressPipeline {
		if rejected < p.Match {
			return false
		}
		p.Next = p.Match + 1
		p.becomeProbe()
		return true
	}
	if p.Next == 0 || p.Next-1 != rejected {
		return false
	}
	if hintTerm != 0 {
		// Find our own last entry in hintTerm at or below the follower's
		// hint index; if we have one, retry just past it, otherwise jump
		// straight to the follower's hint.
		next := hintIndex
		for i := min(rejected, hintIndex); i > 0; i-- {
			t, err := termOf(i)
			if err != nil {
				break
			}
			if t == hintTerm {
				next = i + 1
				break
			}
			if t < hintTerm {
				break
			}
		}
		p.Next = max(1, next)
	} else {
		p.Next = max(1, p.Next-1)
	}
	return true
}

func (p *Progress) canSendPipelined() bool {
	return p.State == ProgressPipeline && p.inflight < maxInflightMsgs
}

// progressItem adapts *Progress to btree.Item, ordering by server id so
// iteration (majority computation, heartbeat/append broadcast) is always
// deterministic.
type progressItem struct {
	id uint64
	pr *Progress
}

func (a progressItem) Less(than btree.Item) bool {
	return a.id < than.(progressItem).id
}

// progressTable is the leader's per-server Progress map, backed by a
// btree for deterministic ordering.
type progressTable struct {
	tree *btree.BTree
}

func newProgressTable() *progressTable {
	return &progressTable{tree: btree.New(8)}
}

func (t *progressTable) get(id uint64) *Progress {
	item := t.tree.Get(progressItem{id: id})
	if item == nil {
		return nil
	}
	return item.(progressItem).pr
}

func (t *progressTable) set(id uint64, pr *Progress) {
	t.tree.ReplaceOrInsert(progressItem{id: id, pr: pr})
}

func (t *progressTable) delete(id uint64) {
	t.tree.Delete(progressItem{id: id})
}

func (t *progressTable) len() int { return t.tree.Len() }

// forEach visits every progress entry in ascending server-id order.
func (t *progressTable) forEach(f func(id uint64, pr *Progress)) {
	t.tree.Ascend(func(i btree.Item) bool {
		it := i.(progressItem)
		f(it.id, it.pr)
		return true
	})
}

// matchIndexesFor returns the match indexes restricted to the given voter
// set, used by the commit-index computation.
func (t *progressTable) matchIndexesFor(voters []uint64) []uint64 {
	out := make([]uint64, 0, len(voters))
	for _, id := range voters {
		if pr := t.get(id); pr != nil {
			out = append(out, pr.Match)
		} else {
			out = append(out, 0)
		}
	}
	return out
}

// quorumMatchIndex returns the highest index a strict majority of voters
// have matched - the Nth-from-the-top of the sorted match indexes.
func quorumMatchIndex(voters []uint64, t *progressTable) uint64 {
	matches := t.matchIndexesFor(voters)
	if len(matches) == 0 {
		return 0
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i] < matches[j] })
	return matches[len(matches)-Quorum(len(matches))]
}

// checkQuorum reports whether a majority of voters have RecentRecv set.
// It does not itself clear the flag - a joint-consensus check may need to
// evaluate RecentRecv against two overlapping voter sets in turn, so
// clearing is left to the caller once every set has been checked.
func checkQuorum(voters []uint64, t *progressTable, selfID uint64) bool {
	count := 0
	for _, id := range voters {
		if id == selfID {
			count++
			continue
		}
		pr := t.get(id)
		if pr == nil {
			continue
		}
		if pr.RecentRecv {
			count++
		}
	}
	return count >= Quorum(len(voters))
}
