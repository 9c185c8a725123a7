package raft

import "github.com/tinyraft/raftcore/raft/confchange"

// CatchUpOutcome reports the result of a promotion attempt, drained by the
// driver the same way outbound messages are.
type CatchUpOutcome struct {
	ServerID uint64
	Promoted bool
	Err      error
}

func toConfchangeConfig(c Configuration) confchange.Config {
	servers := c.Servers()
	out := confchange.Config{Members: make([]confchange.Member, len(servers))}
	for i, s := range servers {
		out.Members[i] = confchange.Member{ID: s.ID, Address: s.Address, Role: confchange.Role(s.Role)}
	}
	return out
}

func fromConfchangeConfig(c confchange.Config) []Server {
	out := make([]Server, len(c.Members))
	for i, m := range c.Members {
		out[i] = Server{ID: m.ID, Address: m.Address, Role: ServerRole(m.Role)}
	}
	return out
}

// AddNonVoter admits a new server as a non-voter and starts the catch-up
// phase of its promotion: a bounded series of rounds, each spanning from
// the leader's log index at round start until the new server's match
// index reaches it.
func (r *Raft) AddNonVoter(id uint64, address string) error {
	if r.State != StateLeader {
		return ErrProposalDropped
	}
	if _, ok := r.config.Get(id); ok {
		return ErrProposalDropped
	}
	r.config = r.config.Upsert(Server{ID: id, Address: address, Role: NonVoter})
	r.prs.set(id, &Progress{ID: id, Next: r.RaftLog.lastIndex() + 1, State: ProgressProbe})

	r.promoteeID = id
	r.roundNumber = 1
	r.roundIndex = r.RaftLog.lastIndex()
	r.roundElapsed = 0
	r.logger.Infof("raft %d starting catch-up round %d for %d, target index %d", r.id, r.roundNumber, id, r.roundIndex)
	r.sendAppend(id)
	return nil
}

// RemoveServer drops a member from the configuration via the standard
// replication path (a configuration entry, committed like any other).
func (r *Raft) RemoveServer(id uint64) error {
	return r.proposeConfChange(confchange.Change{Type: confchange.Remove, ID: id})
}

// tickCatchUp advances the in-flight promotion's round clock; called once
// per leader tick. A round that completes in time proceeds to the commit
// phase; one that doesn't either starts a fresh round or, past the
// configured round budget, abandons the promotion.
func (r *Raft) tickCatchUp() {
	if r.promoteeID == None {
		return
	}
	r.roundElapsed++
	if r.roundElapsed < r.electionTimeout {
		return
	}

	pr := r.prs.get(r.promoteeID)
	caughtUp := pr != nil && pr.Match >= r.roundIndex
	id := r.promoteeID

	if caughtUp {
		r.logger.Infof("raft %d catch-up round %d for %d completed, proposing promotion", r.id, r.roundNumber, id)
		r.promoteeID = None
		r.roundNumber = 0
		r.roundIndex = 0
		r.roundElapsed = 0
		err := r.proposeConfChange(confchange.Change{Type: confchange.Promote, ID: id})
		r.catchUpOutcomes = append(r.catchUpOutcomes, CatchUpOutcome{ServerID: id, Promoted: err == nil, Err: err})
		return
	}

	if r.roundNumber >= r.catchUpMaxRounds {
		r.logger.Warningf("raft %d abandoning promotion of %d after %d rounds", r.id, id, r.roundNumber)
		r.promoteeID = None
		r.roundNumber = 0
		r.roundIndex = 0
		r.roundElapsed = 0
		r.catchUpOutcomes = append(r.catchUpOutcomes, CatchUpOutcome{ServerID: id, Promoted: false, Err: ErrCatchUpExceeded})
		return
	}

	r.roundNumber++
	r.roundIndex = r.RaftLog.lastIndex()
	r.roundElapsed = 0
	r.logger.Infof("raft %d starting catch-up round %d for %d, target index %d", r.id, r.roundNumber, id, r.roundIndex)
}

// TakeCatchUpOutcomes drains and returns promotion results accumulated
// since the last call, for the driver to report upstream.
func (r *Raft) TakeCatchUpOutcomes() []CatchUpOutcome {
	out := r.catchUpOutcomes
	r.catchUpOutcomes = nil
	return out
}

// proposeConfChange appends a configuration entry computing the next
// configuration via confchange.Apply, entering joint consensus against
// the incoming voter set. Only one configuration change may be
// outstanding (uncommitted) at a time.
func (r *Raft) proposeConfChange(change confchange.Change) error {
	if r.State != StateLeader {
		return ErrProposalDropped
	}
	if r.pendingConfIndex > r.RaftLog.applied {
		r.logger.Warningf("raft %d rejecting conf change: already one pending at index %d", r.id, r.pendingConfIndex)
		return ErrProposalDropped
	}

	next := confchange.Apply(toConfchangeConfig(r.config), change)
	target := NewConfiguration(fromConfchangeConfig(next)...)

	incoming := target.Servers()
	r.config.EnterJoint(incoming)
	for _, s := range incoming {
		if s.ID == r.id {
			continue
		}
		if r.prs.get(s.ID) == nil {
			r.prs.set(s.ID, &Progress{ID: s.ID, Next: r.RaftLog.lastIndex() + 1, State: ProgressProbe})
		}
	}

	entry := Entry{Kind: EntryConfiguration, ConfState: &target}
	r.appendEntry(entry)
	r.pendingConfIndex = r.RaftLog.lastIndex()
	r.bcastAppend()
	return nil
}

// refreshConfigFromLog applies the effect of any newly committed
// configuration entries to r.config, leaving joint consensus once the
// change has committed. It must run after every commit-index advance so
// subsequent quorum computations use the up-to-date voter sets.
func (r *Raft) refreshConfigFromLog() {
	for r.confAppliedIndex < r.RaftLog.committed {
		idx := r.confAppliedIndex + 1
		ent, err := r.RaftLog.get(idx)
		if err != nil {
			break
		}
		r.confAppliedIndex = idx
		if ent.Kind == EntryConfiguration && ent.ConfState != nil {
			r.config = *ent.ConfState
			r.config.LeaveJoint()
			if r.State == StateLeader && r.pendingConfIndex == idx {
				r.pendingConfIndex = 0
			}
			if _, ok := r.config.Get(r.id); !ok && r.State != StateUnavailable {
				r.logger.Warningf("raft %d was removed from the configuration", r.id)
			}
		}
	}
}
