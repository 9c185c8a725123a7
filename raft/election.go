package raft

// campaign starts an election: bump the term, vote for self, reset the
// ballot box, and broadcast RequestVote to every other voter. t controls
// whether the receiver should special-case this as a leadership-transfer
// election (Context field on the outgoing RequestVote).
func (r *Raft) campaign(t CampaignType) {
	r.becomeCandidate()
	if r.State != StateCandidate {
		// Aborted: the host couldn't safely allocate the ballot box, so
		// stay in whatever role becomeCandidate left us in rather than
		// campaigning at a term we never actually bumped to.
		return
	}
	voters, incoming := r.config.VoterSets()
	if len(voters) == 1 && incoming == nil && voters[0] == r.id {
		// Single-voter cluster: no RPC round-trip needed, the self-vote
		// already forms a majority.
		r.becomeLeader()
		return
	}
	lastIndex := r.RaftLog.lastIndex()
	lastTerm := r.RaftLog.lastTerm()
	for _, s := range r.config.Servers() {
		if s.ID == r.id || s.Role != Voter {
			continue
		}
		r.logger.Infof("raft %d [logterm: %d, index: %d] sent %s request to %d at term %d",
			r.id, lastTerm, lastIndex, t, s.ID, r.Term)
		r.send(Message{
			MsgType:      MsgRequestVote,
			To:           s.ID,
			Term:         r.Term,
			LastLogIndex: lastIndex,
			LastLogTerm:  lastTerm,
			Context:      t,
		})
	}
}

// poll records a vote decision for id and returns the tally of grants so
// far, which stepCandidate logs; the majority decision itself is made by
// electionGranted/electionLost.
func (r *Raft) poll(id uint64, grant bool) (granted int) {
	if _, ok := r.votes[id]; !ok {
		r.logger.Infof("raft %d received %v vote from %d at term %d", r.id, grant, id, r.Term)
	}
	r.votes[id] = grant
	for _, g := range r.votes {
		if g {
			granted++
		}
	}
	return granted
}

// electionGranted reports whether the current vote tally forms a quorum
// of every active voter set (old and, during joint consensus, incoming).
func (r *Raft) electionGranted() bool {
	return r.config.HasQuorum(r.votes)
}

// electionLost reports whether enough voters have explicitly rejected
// that a majority can no longer be reached, regardless of undecided votes.
func (r *Raft) electionLost() bool {
	rejected := make(map[uint64]bool, len(r.votes))
	for id, granted := range r.votes {
		if !granted {
			rejected[id] = true
		}
	}
	old, incoming := r.config.VoterSets()
	lost := func(voters []uint64) bool {
		if len(voters) == 0 {
			return false
		}
		count := 0
		for _, id := range voters {
			if rejected[id] {
				count++
			}
		}
		return count >= Quorum(len(voters))
	}
	return lost(old) || (incoming != nil && lost(incoming))
}

// handleRequestVote implements the receiver-side rules a RequestVote is
// evaluated against and returns the response to send back.
func (r *Raft) handleRequestVote(m Message) Message {
	resp := Message{MsgType: MsgRequestVoteResponse, To: m.From, From: r.id}

	canVote := r.Vote == m.From ||
		(r.Vote == None && r.Lead == None) ||
		(m.Context == campaignTransfer && r.Vote == None)
	upToDate := r.RaftLog.isUpToDate(m.LastLogIndex, m.LastLogTerm)

	if canVote && upToDate {
		r.electionElapsed = 0
		r.Vote = m.From
		resp.VoteGranted = true
		r.logger.Infof("raft %d [logterm: %d, index: %d, vote: %d] cast vote for %d [logterm: %d, index: %d] at term %d",
			r.id, r.RaftLog.lastTerm(), r.RaftLog.lastIndex(), r.Vote, m.From, m.LastLogTerm, m.LastLogIndex, r.Term)
	} else {
		resp.VoteGranted = false
		r.logger.Infof("raft %d [logterm: %d, index: %d, vote: %d] rejected vote from %d [logterm: %d, index: %d] at term %d",
			r.id, r.RaftLog.lastTerm(), r.RaftLog.lastIndex(), r.Vote, m.From, m.LastLogTerm, m.LastLogIndex, r.Term)
	}
	resp.Term = r.Term
	return resp
}

// resetRandomizedElectionTimeout redraws the per-election timeout in
// [electionTimeout, 2*electionTimeout), using the node's seeded PRNG so
// scenarios are reproducible under a fixed seed.
func (r *Raft) resetRandomizedElectionTimeout() {
	r.randomizedElectionTimeout = r.electionTimeout + r.rand.Intn(r.electionTimeout)
}

func (r *Raft) pastElectionTimeout() bool {
	return r.electionElapsed >= r.randomizedElectionTimeout
}

// sendTimeoutNow asks to immediately starts an election, skipping its
// normal randomized timeout; the last step of a leadership transfer once
// the transferee's log is fully caught up.
func (r *Raft) sendTimeoutNow(to uint64) {
	r.logger.Infof("raft %d sends MsgTimeoutNow to %d", r.id, to)
	r.send(Message{MsgType: MsgTimeoutNow, To: to, Term: r.Term})
}
