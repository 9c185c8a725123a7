// Copyright 2015 The etcd Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package raft

import (
	"math/rand"

	"github.com/pingcap/errors"
)

const defaultCatchUpMaxRounds = 10

// Config carries the tuning a Raft core needs at construction time. The
// driver owns the concrete Storage, timer granularity, and logger; the
// core never reaches past what Config hands it.
type Config struct {
	// ID is this server's own, non-zero id.
	ID uint64
	// Peers is the initial configuration. NewRaft always builds the
	// configuration from it; Storage does not record a configuration.
	Peers []Server

	// ElectionTick is the number of Node.Tick calls that must pass
	// without a heartbeat or granted vote before a follower campaigns.
	ElectionTick int
	// HeartbeatTick is the number of Node.Tick calls between a leader's
	// heartbeat broadcasts.
	HeartbeatTick int

	Storage Storage
	Applied uint64

	// CatchUpMaxRounds bounds how many catch-up rounds a promotion gets
	// before it is abandoned. Zero uses a sane default.
	CatchUpMaxRounds int

	// Rand, when set, is used for randomized election timeouts instead
	// of a package-seeded source, so election scenarios are
	// deterministically reproducible under a fixed seed.
	Rand *rand.Rand

	Logger Logger
}

func (c *Config) validate() error {
	if c.ID == None {
		return errors.New("raft: Config.ID must not be zero")
	}
	if c.ElectionTick <= 0 {
		return errors.New("raft: Config.ElectionTick must be positive")
	}
	if c.HeartbeatTick <= 0 {
		return errors.New("raft: Config.HeartbeatTick must be positive")
	}
	if c.ElectionTick <= c.HeartbeatTick {
		return errors.New("raft: Config.ElectionTick must exceed Config.HeartbeatTick")
	}
	if c.Storage == nil {
		return errors.New("raft: Config.Storage must not be nil")
	}
	return nil
}

// Raft is the consensus core: the role state machine plus the election,
// replication, and membership-change protocols layered over it. It owns
// no timers, no sockets, and no disk; every mutation happens inside Step
// or Tick, called exclusively by a single driver goroutine.
type Raft struct {
	id uint64

	Term uint64
	Vote uint64

	RaftLog *raftLog

	config Configuration
	// confAppliedIndex is the highest log index whose configuration-entry
	// effect (if any) has already been folded into config.
	confAppliedIndex uint64

	State StateType
	Lead  uint64

	// prs is nil except while leader.
	prs *progressTable
	// votes is nil except while candidate.
	votes map[uint64]bool

	msgs []Message

	leadTransferee uint64

	pendingConfIndex uint64
	promoteeID       uint64
	roundNumber      int
	roundIndex       uint64
	roundElapsed     int
	catchUpOutcomes  []CatchUpOutcome
	catchUpMaxRounds int

	pendingProposals []pendingProposal

	electionTick  int
	heartbeatTick int

	electionElapsed           int
	heartbeatElapsed          int
	randomizedElectionTimeout int
	// electionTimeout mirrors electionTick; kept as a separate name since
	// the election/replication files talk in timeout units rather than
	// tick counts.
	electionTimeout int

	rand   *rand.Rand
	logger Logger

	tick func()
	step func(r *Raft, m Message) error
}

// NewRaft constructs a Raft core for one server, restoring term/vote from
// Storage and starting in the follower role with no leader known.
func NewRaft(c *Config) (*Raft, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	logger := c.Logger
	if logger == nil {
		logger = defaultLogger
	}
	raftLog := newRaftLog(c.Storage, logger)

	term, vote, err := c.Storage.InitialState()
	if err != nil {
		return nil, errors.Annotate(err, "raft: failed to load initial state")
	}

	config := NewConfiguration(c.Peers...)
	maxRounds := c.CatchUpMaxRounds
	if maxRounds <= 0 {
		maxRounds = defaultCatchUpMaxRounds
	}
	rnd := c.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(int64(c.ID)))
	}

	r := &Raft{
		id:               c.ID,
		RaftLog:          raftLog,
		config:           config,
		Term:             term,
		Vote:             vote,
		electionTick:     c.ElectionTick,
		heartbeatTick:    c.HeartbeatTick,
		electionTimeout:  c.ElectionTick,
		catchUpMaxRounds: maxRounds,
		rand:             rnd,
		logger:           logger,
	}
	if c.Applied > 0 {
		raftLog.appliedTo(c.Applied)
	}
	r.becomeFollower(r.Term, None)
	return r, nil
}

func (r *Raft) send(m Message) {
	m.From = r.id
	if m.Term == 0 {
		// Local pseudo-messages (Hup/Beat/Propose) carry no term; every
		// real RPC must.
		switch m.MsgType {
		case MsgRequestVote, MsgAppend, MsgHeartbeat, MsgInstallSnapshot, MsgTimeoutNow:
			m.Term = r.Term
		}
	}
	r.msgs = append(r.msgs, m)
}

// Msgs drains the outbound message queue accumulated since the last call.
func (r *Raft) Msgs() []Message {
	msgs := r.msgs
	r.msgs = nil
	return msgs
}

func (r *Raft) resetState(term uint64) {
	if r.Term != term {
		r.Term = term
		r.Vote = None
	}
	r.Lead = None
	r.electionElapsed = 0
	r.heartbeatElapsed = 0
	r.resetRandomizedElectionTimeout()
	r.leadTransferee = None
}

// becomeFollower transitions to follower, releasing any leader/candidate
// state and installing the fresh follower state: cleared current leader,
// freshly randomized election timer.
func (r *Raft) becomeFollower(term uint64, lead uint64) {
	wasLeader := r.State == StateLeader
	r.step = stepFollower
	r.tick = r.tickElection
	r.resetState(term)
	r.Lead = lead
	r.State = StateFollower
	r.votes = nil
	r.prs = nil
	r.promoteeID = None
	r.roundNumber = 0
	r.roundIndex = 0
	r.roundElapsed = 0
	if wasLeader {
		r.failPendingProposals()
	}
	r.logger.Infof("raft %d became follower at term %d", r.id, r.Term)
}

// becomeCandidate transitions to candidate: bump the term, vote for self,
// allocate a fresh ballot box. Aborts without bumping the term, reverting
// to follower with no candidate state held, if the host is too
// memory-constrained to safely allocate that ballot box.
func (r *Raft) becomeCandidate() {
	if r.State == StateLeader {
		r.logger.Panicf("raft %d invalid transition [leader -> candidate]", r.id)
	}
	if err := checkAvailableMemory(); err != nil {
		r.logger.Errorf("raft %d aborting candidacy: %v", r.id, err)
		if r.State != StateFollower {
			r.becomeFollower(r.Term, None)
		}
		return
	}
	r.step = stepCandidate
	r.tick = r.tickElection
	r.resetState(r.Term + 1)
	r.Vote = r.id
	r.State = StateCandidate
	r.votes = map[uint64]bool{r.id: true}
	r.logger.Infof("raft %d became candidate at term %d", r.id, r.Term)
}

// becomeLeader transitions to leader: allocate the progress table sized
// to the current configuration, clear membership-change scratch, and
// append a barrier entry in the new term to force commit of entries
// inherited from prior terms. Aborts the transition and reverts to
// follower if the host is too memory-constrained to safely allocate that
// progress table.
func (r *Raft) becomeLeader() {
	if r.State == StateFollower {
		r.logger.Panicf("raft %d invalid transition [follower -> leader]", r.id)
	}
	if err := checkAvailableMemory(); err != nil {
		r.logger.Errorf("raft %d aborting leader transition: %v", r.id, err)
		r.becomeFollower(r.Term, None)
		return
	}
	r.step = stepLeader
	r.tick = r.tickHeartbeat
	r.Lead = r.id
	r.State = StateLeader
	r.votes = nil

	r.prs = newProgressTable()
	last := r.RaftLog.lastIndex()
	for _, s := range r.config.Servers() {
		pr := &Progress{ID: s.ID, Next: last + 1, State: ProgressProbe}
		if s.ID == r.id {
			// Match only counts what StableTo has already confirmed
			// durable, not the full unstable tail this node may have
			// inherited as a follower before winning the election.
			pr.Match = r.RaftLog.stabled
			pr.becomePipeline()
		}
		r.prs.set(s.ID, pr)
	}
	r.promoteeID = None
	r.roundNumber = 0
	r.roundIndex = 0
	r.roundElapsed = 0
	r.leadTransferee = None
	r.recomputePendingConfIndex()

	r.appendEntry(Entry{Kind: EntryBarrier})
	r.bcastAppend()
	r.logger.Infof("raft %d became leader at term %d", r.id, r.Term)
}

// hasQuorumContact reports whether a majority of every active voter set
// (both, during joint consensus) has acknowledged an RPC since the last
// call, then clears every voter's RecentRecv flag for the next window.
func (r *Raft) hasQuorumContact() bool {
	old, incoming := r.config.VoterSets()
	ok := checkQuorum(old, r.prs, r.id)
	if ok && incoming != nil {
		ok = checkQuorum(incoming, r.prs, r.id)
	}
	r.prs.forEach(func(_ uint64, pr *Progress) {
		pr.RecentRecv = false
	})
	return ok
}

// recomputePendingConfIndex scans for an uncommitted configuration entry
// inherited from a prior leader, so a newly elected leader doesn't allow
// a second change to race the first one still in flight.
func (r *Raft) recomputePendingConfIndex() {
	r.pendingConfIndex = 0
	for i := r.RaftLog.committed + 1; i <= r.RaftLog.lastIndex(); i++ {
		ent, err := r.RaftLog.get(i)
		if err != nil {
			break
		}
		if ent.Kind == EntryConfiguration {
			r.pendingConfIndex = i
		}
	}
}

// Step is the single mutation entry point: every tick-derived local event
// and every inbound RPC passes through here.
func (r *Raft) Step(m Message) error {
	if r.State == StateUnavailable {
		return ErrProposalDropped
	}
	switch {
	case m.Term == 0:
		// local message, no term comparison
	case m.Term > r.Term:
		lead := m.From
		if m.MsgType == MsgRequestVote {
			lead = None
		}
		r.logger.Infof("raft %d [term: %d] received a message with higher term from %d [term: %d]",
			r.id, r.Term, m.From, m.Term)
		r.becomeFollower(m.Term, lead)
	case m.Term < r.Term:
		switch m.MsgType {
		case MsgRequestVote:
			r.send(Message{MsgType: MsgRequestVoteResponse, To: m.From, Term: r.Term, VoteGranted: false})
		case MsgAppend:
			r.send(Message{MsgType: MsgAppendResponse, To: m.From, Term: r.Term, Success: false})
		case MsgHeartbeat:
			r.send(Message{MsgType: MsgHeartbeatResponse, To: m.From, Term: r.Term})
		}
		return nil
	}

	switch m.MsgType {
	case MsgHup:
		if r.State != StateLeader {
			r.campaign(campaignElection)
		}
		return nil
	case MsgRequestVote:
		resp := r.handleRequestVote(m)
		r.send(resp)
		return nil
	}
	return r.step(r, m)
}

func stepFollower(r *Raft, m Message) error {
	switch m.MsgType {
	case MsgAppend:
		r.electionElapsed = 0
		r.Lead = m.From
		r.send(r.handleAppendEntries(m))
	case MsgHeartbeat:
		r.electionElapsed = 0
		r.send(r.handleHeartbeat(m))
	case MsgInstallSnapshot:
		r.electionElapsed = 0
		r.send(r.handleInstallSnapshot(m))
	case MsgTransferLeader:
		if r.Lead != None {
			m.To = r.Lead
			r.send(m)
		}
	case MsgTimeoutNow:
		r.logger.Infof("raft %d received MsgTimeoutNow, campaigning immediately", r.id)
		r.campaign(campaignTransfer)
	}
	return nil
}

func stepCandidate(r *Raft, m Message) error {
	switch m.MsgType {
	case MsgAppend:
		r.becomeFollower(r.Term, m.From)
		r.send(r.handleAppendEntries(m))
	case MsgHeartbeat:
		r.becomeFollower(r.Term, m.From)
		r.send(r.handleHeartbeat(m))
	case MsgInstallSnapshot:
		r.becomeFollower(r.Term, m.From)
		r.send(r.handleInstallSnapshot(m))
	case MsgRequestVoteResponse:
		granted := r.poll(m.From, m.VoteGranted)
		switch {
		case r.electionGranted():
			r.becomeLeader()
		case r.electionLost():
			r.logger.Infof("raft %d lost election at term %d (granted %d)", r.id, r.Term, granted)
			r.becomeFollower(r.Term, None)
		}
	}
	return nil
}

func stepLeader(r *Raft, m Message) error {
	switch m.MsgType {
	case MsgBeat:
		r.bcastHeartbeat()
	case MsgPropose:
		for _, e := range m.Entries {
			if err := r.Propose(e.Payload, nil); err != nil {
				return err
			}
		}
		return nil
	case MsgAppend:
		r.becomeFollower(r.Term, m.From)
		r.send(r.handleAppendEntries(m))
	case MsgAppendResponse:
		r.handleAppendResponse(m)
	case MsgHeartbeat:
		r.becomeFollower(r.Term, m.From)
		r.send(r.handleHeartbeat(m))
	case MsgHeartbeatResponse:
		r.handleHeartbeatResponse(m)
	case MsgInstallSnapshot:
		r.becomeFollower(r.Term, m.From)
		r.send(r.handleInstallSnapshot(m))
	case MsgInstallSnapshotResponse:
		r.handleInstallSnapshotResponse(m)
	case MsgTransferLeader:
		r.handleTransferLeader(m.From)
	}
	return nil
}

// handleTransferLeader starts a leadership transfer to the given server:
// if it is already caught up, trigger the handoff now; otherwise let
// handleAppendResponse trigger it once its match index reaches ours.
func (r *Raft) handleTransferLeader(to uint64) {
	if to == r.id {
		return
	}
	if r.leadTransferee == to {
		return
	}
	if s, ok := r.config.Get(to); !ok || s.Role != Voter {
		r.logger.Warningf("raft %d cannot transfer leadership to non-voter %d", r.id, to)
		return
	}
	r.leadTransferee = to
	pr := r.prs.get(to)
	if pr != nil && pr.Match == r.RaftLog.lastIndex() {
		r.sendTimeoutNow(to)
	} else {
		r.sendAppend(to)
	}
}

// TransferLeader is the driver-facing call to start a leadership transfer.
func (r *Raft) TransferLeader(to uint64) {
	r.Step(Message{MsgType: MsgTransferLeader, From: to, To: r.id})
}

// tickElection is the follower/candidate tick handler: advance the
// election clock and, once the randomized timeout elapses, start an
// election via the local MsgHup pseudo-message.
func (r *Raft) tickElection() {
	r.electionElapsed++
	if r.pastElectionTimeout() {
		r.electionElapsed = 0
		r.Step(Message{MsgType: MsgHup, From: r.id, To: r.id})
	}
}

// tickHeartbeat is the leader tick handler: advance the heartbeat clock
// and the catch-up round clock, broadcasting a heartbeat once the
// heartbeat interval elapses, and step down once a full election timeout
// has passed without hearing back from a quorum of voters - a leader cut
// off from the rest of the cluster by a network partition must not go on
// believing it is still leader.
func (r *Raft) tickHeartbeat() {
	r.heartbeatElapsed++
	r.electionElapsed++
	r.tickCatchUp()
	if r.electionElapsed >= r.electionTimeout {
		r.electionElapsed = 0
		if !r.hasQuorumContact() {
			r.logger.Infof("raft %d stepping down: lost contact with a quorum of voters", r.id)
			r.becomeFollower(r.Term, None)
			return
		}
	}
	if r.heartbeatElapsed >= r.heartbeatTick {
		r.heartbeatElapsed = 0
		r.Step(Message{MsgType: MsgBeat, From: r.id, To: r.id})
	}
}

// Tick advances the logical clock by one driver-chosen unit.
func (r *Raft) Tick() {
	if r.State == StateUnavailable {
		return
	}
	r.tick()
}

// HasLeader reports whether this server currently recognizes a leader.
func (r *Raft) HasLeader() bool { return r.Lead != None }

// GetConfiguration returns a copy of the currently active configuration.
func (r *Raft) GetConfiguration() Configuration { return r.config.clone() }
