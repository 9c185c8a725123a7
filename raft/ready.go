package raft

// SoftState is the volatile (non-persisted) role/leader pair a driver
// watches for role_change_notify.
type SoftState struct {
	Lead      uint64
	RaftState StateType
}

// SoftState returns the current role/leader pair.
func (r *Raft) SoftState() SoftState {
	return SoftState{Lead: r.Lead, RaftState: r.State}
}

// HardState returns the (term, vote) pair a driver must persist before
// any RPC depending on them is sent, per the persisted-state contract.
func (r *Raft) HardState() (term, vote uint64) {
	return r.Term, r.Vote
}

// UnstableEntries returns the entries appended locally since the last
// StableTo call, for the driver to persist.
func (r *Raft) UnstableEntries() []Entry {
	if len(r.RaftLog.unstable) == 0 {
		return nil
	}
	out := make([]Entry, len(r.RaftLog.unstable))
	copy(out, r.RaftLog.unstable)
	return out
}

// NextCommittedEntries returns the committed-but-not-yet-applied entries,
// for the driver to deliver via commit_notify in order.
func (r *Raft) NextCommittedEntries() []Entry {
	return r.RaftLog.nextEntries()
}

// StableTo records that the driver has durably persisted entries through
// index `to`. This is also the only point where the leader's own
// Progress.Match is allowed to advance: until its own entries are
// confirmed durable here, they count as replicated nowhere, itself
// included, the same rule applied to every follower's match index.
func (r *Raft) StableTo(to uint64) {
	r.RaftLog.stableTo(to)
	if r.State == StateLeader {
		if pr := r.prs.get(r.id); pr != nil && pr.maybeUpdate(to) {
			if r.maybeCommit() {
				r.bcastAppend()
			}
		}
	}
}

// AppliedTo records that the driver has delivered committed entries
// through index `to` to the host state machine.
func (r *Raft) AppliedTo(to uint64) {
	r.RaftLog.appliedTo(to)
}

// PendingSnapshot returns the snapshot metadata a follower must install,
// and whether one is currently pending.
func (r *Raft) PendingSnapshot() (SnapshotMeta, bool) {
	if p := r.RaftLog.pendingSnapshot; p != nil {
		return *p, true
	}
	return SnapshotMeta{}, false
}

// AckSnapshot clears the pending-snapshot marker once the driver confirms
// it has installed it.
func (r *Raft) AckSnapshot() {
	r.RaftLog.pendingSnapshot = nil
}

// HasReady reports whether there is any outbound message, any entry to
// persist, any entry to apply, or any pending snapshot for a driver to
// drain - the gate a driver uses to decide whether to build a Ready.
func (r *Raft) HasReady(prev SoftState, prevTerm, prevVote uint64) bool {
	if len(r.msgs) > 0 {
		return true
	}
	if len(r.RaftLog.unstable) > 0 {
		return true
	}
	if len(r.RaftLog.nextEntries()) > 0 {
		return true
	}
	if _, ok := r.PendingSnapshot(); ok {
		return true
	}
	if r.Term != prevTerm || r.Vote != prevVote {
		return true
	}
	if ss := r.SoftState(); ss != prev {
		return true
	}
	return false
}
