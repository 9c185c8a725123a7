// Package node wraps a *raft.Raft in a single goroutine event loop so
// every mutation of the core happens on one thread, the way
// bernerdschaefer-raft's Server.loop() dispatches appendEntriesChan/
// requestVoteChan/commandChan sends to followerSelect/candidateSelect/
// leaderSelect from a single select statement. Everything a caller does
// to a Node - Tick, Step, Propose, config changes, transfer - is a
// channel send the loop goroutine picks up and applies; nothing outside
// the loop ever touches the *raft.Raft value directly.
package node

import (
	"context"
	"errors"

	"github.com/tinyraft/raftcore/raft"
)

// ErrStopped is returned by any call made after the Node has stopped.
var ErrStopped = errors.New("node: stopped")

// Ready bundles everything the host application must act on after one
// turn of the event loop: messages to send, entries to persist, entries
// to apply, and role-change / promotion notifications. The driver must
// call Advance once it has finished acting on a Ready before the next
// one is delivered.
type Ready struct {
	Messages         []raft.Message
	UnstableEntries  []raft.Entry
	CommittedEntries []raft.Entry
	HardState        *HardState
	SoftState        *raft.SoftState
	Snapshot         *raft.SnapshotMeta
	CatchUpOutcomes  []raft.CatchUpOutcome
}

// HardState is the (term, vote) pair that must be durably persisted
// before any of the Ready's Messages are sent.
type HardState struct {
	Term uint64
	Vote uint64
}

type proposal struct {
	data []byte
	cb   raft.ProposalCallback
}

type confChangeKind int

const (
	ccAddNonVoter confChangeKind = iota
	ccRemoveServer
)

type confChangeReq struct {
	kind    confChangeKind
	id      uint64
	address string
	errc    chan error
}

// Node drives a *raft.Raft on a dedicated goroutine.
type Node struct {
	tickc     chan struct{}
	recvc     chan raft.Message
	propc     chan proposal
	confc     chan confChangeReq
	transferc chan uint64
	failc     chan failureReq
	readyc    chan Ready
	advancec  chan Ready
	stopc     chan struct{}
	donec     chan struct{}
}

type failureReq struct {
	err  error
	errc chan error
}

// Start launches the event loop over r and returns immediately.
func Start(r *raft.Raft) *Node {
	n := &Node{
		tickc:     make(chan struct{}),
		recvc:     make(chan raft.Message),
		propc:     make(chan proposal),
		confc:     make(chan confChangeReq),
		transferc: make(chan uint64),
		failc:     make(chan failureReq),
		readyc:    make(chan Ready),
		advancec:  make(chan Ready),
		stopc:     make(chan struct{}),
		donec:     make(chan struct{}),
	}
	go n.run(r)
	return n
}

func (n *Node) run(r *raft.Raft) {
	defer close(n.donec)

	prevSoft := r.SoftState()
	prevTerm, prevVote := r.HardState()
	var readyc chan Ready
	var pendingReady Ready
	awaitingAdvance := false

	for {
		if !awaitingAdvance && r.HasReady(prevSoft, prevTerm, prevVote) {
			pendingReady = buildReady(r, prevSoft, prevTerm, prevVote)
			readyc = n.readyc
		} else {
			readyc = nil
		}

		select {
		case <-n.tickc:
			r.Tick()

		case m := <-n.recvc:
			r.Step(m)

		case p := <-n.propc:
			// r.Propose only invokes p.cb itself once the entry is queued
			// (on eventual commit or loss of leadership); a synchronous
			// rejection here means it never gets queued, so the caller
			// must be notified from this side instead.
			if err := r.Propose(p.data, p.cb); err != nil && p.cb != nil {
				p.cb(err)
			}

		case cc := <-n.confc:
			var err error
			switch cc.kind {
			case ccAddNonVoter:
				err = r.AddNonVoter(cc.id, cc.address)
			case ccRemoveServer:
				err = r.RemoveServer(cc.id)
			}
			cc.errc <- err

		case to := <-n.transferc:
			r.TransferLeader(to)

		case f := <-n.failc:
			f.errc <- r.ReportPersistenceFailure(f.err)

		case readyc <- pendingReady:
			if pendingReady.HardState != nil {
				prevTerm, prevVote = pendingReady.HardState.Term, pendingReady.HardState.Vote
			}
			if pendingReady.SoftState != nil {
				prevSoft = *pendingReady.SoftState
			}
			awaitingAdvance = true

		case rd := <-n.advancec:
			if k := len(rd.UnstableEntries); k > 0 {
				r.StableTo(rd.UnstableEntries[k-1].Index)
			}
			if k := len(rd.CommittedEntries); k > 0 {
				r.AppliedTo(rd.CommittedEntries[k-1].Index)
			}
			if rd.Snapshot != nil {
				r.AckSnapshot()
			}
			awaitingAdvance = false

		case <-n.stopc:
			return
		}
	}
}

func buildReady(r *raft.Raft, prevSoft raft.SoftState, prevTerm, prevVote uint64) Ready {
	rd := Ready{
		Messages:         r.Msgs(),
		UnstableEntries:  r.UnstableEntries(),
		CommittedEntries: r.NextCommittedEntries(),
		CatchUpOutcomes:  r.TakeCatchUpOutcomes(),
	}
	if term, vote := r.HardState(); term != prevTerm || vote != prevVote {
		rd.HardState = &HardState{Term: term, Vote: vote}
	}
	if ss := r.SoftState(); ss != prevSoft {
		ss := ss
		rd.SoftState = &ss
	}
	if meta, ok := r.PendingSnapshot(); ok {
		rd.Snapshot = &meta
	}
	return rd
}

// Tick advances the node's internal logical clock by one tick.
func (n *Node) Tick() {
	select {
	case n.tickc <- struct{}{}:
	case <-n.donec:
	}
}

// Step hands an inbound RPC (or local MsgHup/MsgTransferLeader) to the
// core.
func (n *Node) Step(ctx context.Context, m raft.Message) error {
	select {
	case n.recvc <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-n.donec:
		return ErrStopped
	}
}

// Campaign requests this node start an election on its next loop turn.
func (n *Node) Campaign(ctx context.Context) error {
	return n.Step(ctx, raft.Message{MsgType: raft.MsgHup})
}

// Propose submits data for replication; cb is invoked exactly once, from
// the loop goroutine, once the resulting entry commits or is dropped.
func (n *Node) Propose(ctx context.Context, data []byte, cb raft.ProposalCallback) error {
	select {
	case n.propc <- proposal{data: data, cb: cb}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-n.donec:
		return ErrStopped
	}
}

// AddNonVoter admits a new server and begins its catch-up rounds. The
// eventual promotion outcome surfaces later through Ready.CatchUpOutcomes,
// not through this call's return value.
func (n *Node) AddNonVoter(ctx context.Context, id uint64, address string) error {
	return n.sendConfChange(ctx, confChangeReq{kind: ccAddNonVoter, id: id, address: address})
}

// RemoveServer proposes removing a member from the configuration.
func (n *Node) RemoveServer(ctx context.Context, id uint64) error {
	return n.sendConfChange(ctx, confChangeReq{kind: ccRemoveServer, id: id})
}

func (n *Node) sendConfChange(ctx context.Context, cc confChangeReq) error {
	cc.errc = make(chan error, 1)
	select {
	case n.confc <- cc:
	case <-ctx.Done():
		return ctx.Err()
	case <-n.donec:
		return ErrStopped
	}
	select {
	case err := <-cc.errc:
		return err
	case <-n.donec:
		return ErrStopped
	}
}

// TransferLeader asks this node to hand leadership to id.
func (n *Node) TransferLeader(ctx context.Context, id uint64) error {
	select {
	case n.transferc <- id:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-n.donec:
		return ErrStopped
	}
}

// ReportPersistenceFailure tells the node that durably writing part of a
// Ready failed; the node moves to StateUnavailable and stops accepting
// further work. The wrapped, coded error is returned for logging upstream.
func (n *Node) ReportPersistenceFailure(ctx context.Context, err error) error {
	req := failureReq{err: err, errc: make(chan error, 1)}
	select {
	case n.failc <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-n.donec:
		return ErrStopped
	}
	select {
	case wrapped := <-req.errc:
		return wrapped
	case <-n.donec:
		return ErrStopped
	}
}

// Ready returns the channel a driver receives the next batch of work
// from. It only yields when there is something to do.
func (n *Node) Ready() <-chan Ready {
	return n.readyc
}

// Advance signals the loop that the driver has finished acting on rd -
// the same value it received from Ready - durably persisting its
// UnstableEntries and applying its CommittedEntries to the host state
// machine. It unblocks computation of the next Ready, and records rd's
// entries as stable/applied so they are not redelivered.
func (n *Node) Advance(rd Ready) {
	select {
	case n.advancec <- rd:
	case <-n.donec:
	}
}

// Stop terminates the event loop. Safe to call more than once.
func (n *Node) Stop() {
	select {
	case n.stopc <- struct{}{}:
	case <-n.donec:
	}
	<-n.donec
}
