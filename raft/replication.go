package raft

// appendEntry appends entries authored by this leader in its own term;
// this is the only path that mutates a leader's log, so the
// leader-append-only invariant always holds by construction. The
// leader's own Progress.Match only advances once StableTo confirms the
// entries are durable, the same as any follower's match index.
func (r *Raft) appendEntry(entries ...Entry) {
	last := r.RaftLog.lastIndex()
	for i := range entries {
		entries[i].Term = r.Term
		entries[i].Index = last + uint64(i) + 1
	}
	r.RaftLog.append(entries...)
}

// bcastAppend sends (or schedules, in snapshot mode) an AppendEntries to
// every peer other than self.
func (r *Raft) bcastAppend() {
	for _, s := range r.config.Servers() {
		if s.ID == r.id {
			continue
		}
		r.sendAppend(s.ID)
	}
}

// sendAppend sends the next batch owed to peer `to`, according to its
// progress state: one entry at a time while probing, a full batch while
// pipelining, nothing (an InstallSnapshot instead) while snapshotting.
func (r *Raft) sendAppend(to uint64) bool {
	pr := r.prs.get(to)
	if pr == nil {
		return false
	}
	if pr.State == ProgressSnapshot {
		return false
	}
	if pr.State == ProgressPipeline && !pr.canSendPipelined() {
		return false
	}

	prevIndex := pr.Next - 1
	prevTerm, err := r.RaftLog.termOf(prevIndex)
	if err != nil {
		// The entry the follower needs has already been compacted away;
		// fall back to a snapshot.
		r.sendSnapshot(to)
		return true
	}

	var entries []Entry
	if pr.State == ProgressPipeline {
		entries, err = r.RaftLog.entriesFrom(pr.Next)
	} else {
		ents, serr := r.RaftLog.slice(pr.Next, pr.Next+1)
		err = serr
		entries = ents
	}
	if err != nil {
		r.sendSnapshot(to)
		return true
	}

	r.send(Message{
		MsgType:      MsgAppend,
		To:           to,
		Term:         r.Term,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		LeaderCommit: r.RaftLog.committed,
	})
	// Only a pipelining peer moves Next ahead optimistically; a probing
	// peer keeps Next until the response arrives, so a rejection always
	// matches Next-1.
	if n := len(entries); n > 0 && pr.State == ProgressPipeline {
		pr.Next = entries[n-1].Index + 1
		pr.inflight++
	}
	return true
}

// sendSnapshot puts the follower's progress into snapshot mode and sends
// the leader's current snapshot.
func (r *Raft) sendSnapshot(to uint64) {
	meta, data, err := r.RaftLog.storage.Snapshot()
	if err != nil {
		r.logger.Warningf("raft %d failed to read snapshot for %d: %v", r.id, to, err)
		return
	}
	pr := r.prs.get(to)
	if pr == nil {
		return
	}
	pr.becomeSnapshot(meta.LastIndex)
	r.logger.Infof("raft %d [firstindex: %d, commit: %d] sent snapshot[index: %d, term: %d] to %d",
		r.id, meta.LastIndex+1, r.RaftLog.committed, meta.LastIndex, meta.LastTerm, to)
	r.send(Message{
		MsgType:  MsgInstallSnapshot,
		To:       to,
		Term:     r.Term,
		Snapshot: meta,
		Data:     data,
		Done:     true,
	})
}

// handleAppendEntries implements the receiver-side AppendEntries rules and
// returns the response to send back.
func (r *Raft) handleAppendEntries(m Message) Message {
	resp := Message{MsgType: MsgAppendResponse, To: m.From, From: r.id, Term: r.Term}

	if m.Term < r.Term {
		resp.Success = false
		return resp
	}

	r.electionElapsed = 0
	r.Lead = m.From

	lastNewIndex, ok := r.RaftLog.maybeAppend(m.PrevLogIndex, m.PrevLogTerm, m.LeaderCommit, m.Entries...)
	if !ok {
		hintIndex := min(m.PrevLogIndex, r.RaftLog.lastIndex())
		hintIndex = r.RaftLog.findConflictByTerm(hintIndex, r.RaftLog.zeroTermOnErr(hintIndex))
		resp.Success = false
		resp.RejectedIndex = m.PrevLogIndex
		resp.ConflictIndex = hintIndex
		resp.ConflictTerm = r.RaftLog.zeroTermOnErr(hintIndex)
		resp.LastLogIndexResp = r.RaftLog.lastIndex()
		return resp
	}
	resp.Success = true
	resp.LastLogIndexResp = lastNewIndex
	r.refreshConfigFromLog()
	r.resolveProposals()
	return resp
}

// handleAppendResponse updates the sender's progress per the probe/
// pipeline state machine and, on any advance, recomputes the commit index.
func (r *Raft) handleAppendResponse(m Message) {
	pr := r.prs.get(m.From)
	if pr == nil {
		return
	}
	pr.RecentRecv = true

	if !m.Success {
		if pr.maybeDecrTo(m.RejectedIndex, m.ConflictTerm, m.ConflictIndex, func(i uint64) (uint64, error) {
			return r.RaftLog.termOf(i)
		}) {
			r.sendAppend(m.From)
		}
		return
	}

	if pr.maybeUpdate(m.LastLogIndexResp) {
		switch pr.State {
		case ProgressProbe:
			pr.becomePipeline()
		case ProgressSnapshot:
			if pr.Match >= pr.PendingSnapshot {
				pr.becomeProbe()
			}
		}
		if r.maybeCommit() {
			r.bcastAppend()
		} else if pr.State == ProgressPipeline {
			r.sendAppend(m.From)
		}
		if r.leadTransferee == m.From && pr.Match == r.RaftLog.lastIndex() {
			r.sendTimeoutNow(m.From)
		}
	}
}

// maybeCommit recomputes commit_index as the highest N such that N is
// above the current commit index, a majority of every active voter set
// (both, during joint consensus) has matched N, and the entry at N was
// authored in the current term. Returns whether commit_index advanced.
func (r *Raft) maybeCommit() bool {
	old, incoming := r.config.VoterSets()
	n := quorumMatchIndex(old, r.prs)
	if incoming != nil {
		nIncoming := quorumMatchIndex(incoming, r.prs)
		if nIncoming < n {
			n = nIncoming
		}
	}
	if n <= r.RaftLog.committed {
		return false
	}
	term, err := r.RaftLog.termOf(n)
	if err != nil || term != r.Term {
		return false
	}
	r.RaftLog.commitTo(n)
	r.refreshConfigFromLog()
	r.resolveProposals()
	return true
}

// bcastHeartbeat sends an empty AppendEntries-style heartbeat to every
// peer; leaderCommit is capped per-follower at min(commit, match) so a
// follower never learns of a commit index past what it has actually
// replicated.
func (r *Raft) bcastHeartbeat() {
	for _, s := range r.config.Servers() {
		if s.ID == r.id {
			continue
		}
		r.sendHeartbeat(s.ID)
	}
}

func (r *Raft) sendHeartbeat(to uint64) {
	pr := r.prs.get(to)
	commit := r.RaftLog.committed
	if pr != nil && pr.Match < commit {
		commit = pr.Match
	}
	r.send(Message{
		MsgType:      MsgHeartbeat,
		To:           to,
		Term:         r.Term,
		LeaderCommit: commit,
	})
}

func (r *Raft) handleHeartbeat(m Message) Message {
	r.electionElapsed = 0
	r.Lead = m.From
	if m.LeaderCommit > r.RaftLog.committed {
		r.RaftLog.commitTo(min(m.LeaderCommit, r.RaftLog.lastIndex()))
		r.refreshConfigFromLog()
		r.resolveProposals()
	}
	return Message{MsgType: MsgHeartbeatResponse, To: m.From, From: r.id, Term: r.Term}
}

func (r *Raft) handleHeartbeatResponse(m Message) {
	pr := r.prs.get(m.From)
	if pr == nil {
		return
	}
	pr.RecentRecv = true
	if pr.Match < r.RaftLog.lastIndex() {
		r.sendAppend(m.From)
	}
}

// handleInstallSnapshot restores from a leader-sent snapshot: discards the
// local log up to the snapshot boundary and replaces the configuration.
func (r *Raft) handleInstallSnapshot(m Message) Message {
	resp := Message{MsgType: MsgInstallSnapshotResponse, To: m.From, From: r.id, Term: r.Term}
	if m.Term < r.Term {
		return resp
	}
	r.electionElapsed = 0
	r.Lead = m.From
	meta := m.Snapshot
	if meta.LastIndex <= r.RaftLog.committed {
		resp.LastLogIndexResp = r.RaftLog.committed
		return resp
	}
	r.RaftLog.truncatePrefix(meta.LastIndex, meta)
	r.config = meta.Config
	r.confAppliedIndex = meta.LastIndex
	resp.LastLogIndexResp = r.RaftLog.lastIndex()
	return resp
}

func (r *Raft) handleInstallSnapshotResponse(m Message) {
	pr := r.prs.get(m.From)
	if pr == nil {
		return
	}
	pr.RecentRecv = true
	if m.LastLogIndexResp >= pr.PendingSnapshot {
		pr.becomeProbe()
		pr.Next = m.LastLogIndexResp + 1
		r.sendAppend(m.From)
	}
}
