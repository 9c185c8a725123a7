package raft

// ProposalCallback is invoked exactly once per queued proposal: with nil
// once its entry commits, with ErrProposalDropped if a different entry
// commits at its index, or with ErrLeadershipLost if its leader steps
// down first. A proposal Propose refuses outright is reported through
// Propose's return value and its callback is not invoked.
type ProposalCallback func(err error)

// pendingProposal is one outstanding client proposal awaiting commit,
// keyed by the (term, index) of the entry it was appended as.
type pendingProposal struct {
	term  uint64
	index uint64
	cb    ProposalCallback
}

// Propose is the leader-only entry point for a client command: it is
// appended to the log in the current term and its completion is signalled
// through cb once commit_index reaches its index.
func (r *Raft) Propose(data []byte, cb ProposalCallback) error {
	if r.State != StateLeader {
		return ErrProposalDropped
	}
	if r.leadTransferee != None {
		return ErrProposalDropped
	}
	r.appendEntry(Entry{Kind: EntryCommand, Payload: data})
	last := r.RaftLog.lastIndex()
	if cb != nil {
		r.pendingProposals = append(r.pendingProposals, pendingProposal{term: r.Term, index: last, cb: cb})
	}
	r.bcastAppend()
	return nil
}

// resolveProposals walks the pending queue from the front, resolving any
// proposal whose index has now committed. A proposal whose recorded term
// doesn't match the committed entry's term was displaced by a different
// leader and is resolved as dropped rather than successful.
func (r *Raft) resolveProposals() {
	for len(r.pendingProposals) > 0 {
		p := r.pendingProposals[0]
		if p.index > r.RaftLog.committed {
			break
		}
		r.pendingProposals = r.pendingProposals[1:]
		term, err := r.RaftLog.termOf(p.index)
		if err != nil || term != p.term {
			p.cb(ErrProposalDropped)
			continue
		}
		p.cb(nil)
	}
}

// failPendingProposals completes every outstanding proposal with
// ErrLeadershipLost; called on leaving the leader role.
func (r *Raft) failPendingProposals() {
	for _, p := range r.pendingProposals {
		p.cb(ErrLeadershipLost)
	}
	r.pendingProposals = nil
}
