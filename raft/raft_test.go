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
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestConfig(id uint64, peers ...uint64) *Config {
	servers := make([]Server, len(peers))
	for i, p := range peers {
		servers[i] = Server{ID: p, Role: Voter}
	}
	return &Config{
		ID:            id,
		Peers:         servers,
		ElectionTick:  10,
		HeartbeatTick: 1,
		Storage:       NewMemoryStorage(),
		Rand:          rand.New(rand.NewSource(int64(id))),
	}
}

func mustNewRaft(t *testing.T, c *Config) *Raft {
	t.Helper()
	r, err := NewRaft(c)
	require.NoError(t, err)
	return r
}

func TestNewRaftStartsAsFollowerWithNoLeader(t *testing.T) {
	r := mustNewRaft(t, newTestConfig(1, 1, 2, 3))
	require.Equal(t, StateFollower, r.State)
	require.False(t, r.HasLeader())
	require.Equal(t, uint64(0), r.Term)
}

func TestSingleVoterCampaignBecomesLeaderImmediately(t *testing.T) {
	r := mustNewRaft(t, newTestConfig(1, 1))
	require.NoError(t, r.Step(Message{MsgType: MsgHup, From: 1, To: 1}))
	require.Equal(t, StateLeader, r.State)
	require.Equal(t, uint64(1), r.Term)
}

func TestCandidateBecomesLeaderOnMajorityVotes(t *testing.T) {
	r := mustNewRaft(t, newTestConfig(1, 1, 2, 3))
	require.NoError(t, r.Step(Message{MsgType: MsgHup, From: 1, To: 1}))
	require.Equal(t, StateCandidate, r.State)

	msgs := r.Msgs()
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		require.Equal(t, MsgRequestVote, m.MsgType)
	}

	require.NoError(t, r.Step(Message{MsgType: MsgRequestVoteResponse, From: 2, To: 1, Term: r.Term, VoteGranted: true}))
	require.Equal(t, StateLeader, r.State)
	require.Equal(t, uint64(1), r.Lead)
}

func TestCandidateStepsDownOnMajorityRejection(t *testing.T) {
	r := mustNewRaft(t, newTestConfig(1, 1, 2, 3))
	require.NoError(t, r.Step(Message{MsgType: MsgHup, From: 1, To: 1}))
	r.Msgs()

	require.NoError(t, r.Step(Message{MsgType: MsgRequestVoteResponse, From: 2, To: 1, Term: r.Term, VoteGranted: false}))
	require.Equal(t, StateCandidate, r.State, "one rejection of three is not yet a majority")

	require.NoError(t, r.Step(Message{MsgType: MsgRequestVoteResponse, From: 3, To: 1, Term: r.Term, VoteGranted: false}))
	require.Equal(t, StateFollower, r.State)
}

func TestFollowerGrantsVoteOncePerTerm(t *testing.T) {
	r := mustNewRaft(t, newTestConfig(1, 1, 2, 3))

	require.NoError(t, r.Step(Message{MsgType: MsgRequestVote, From: 2, To: 1, Term: 1, LastLogTerm: 0, LastLogIndex: 0}))
	resp := r.Msgs()[0]
	require.True(t, resp.VoteGranted)

	require.NoError(t, r.Step(Message{MsgType: MsgRequestVote, From: 3, To: 1, Term: 1, LastLogTerm: 0, LastLogIndex: 0}))
	resp = r.Msgs()[0]
	require.False(t, resp.VoteGranted)
}

func TestHigherTermMessageStepsDownLeader(t *testing.T) {
	r := mustNewRaft(t, newTestConfig(1, 1))
	require.NoError(t, r.Step(Message{MsgType: MsgHup, From: 1, To: 1}))
	require.Equal(t, StateLeader, r.State)

	require.NoError(t, r.Step(Message{MsgType: MsgAppend, From: 2, To: 1, Term: r.Term + 1, PrevLogIndex: 0, PrevLogTerm: 0}))
	require.Equal(t, StateFollower, r.State)
	require.Equal(t, uint64(2), r.Lead)
}

func TestLeaderAppendsBarrierEntryOnElection(t *testing.T) {
	r := mustNewRaft(t, newTestConfig(1, 1))
	require.NoError(t, r.Step(Message{MsgType: MsgHup, From: 1, To: 1}))

	ent, err := r.RaftLog.get(r.RaftLog.lastIndex())
	require.NoError(t, err)
	require.Equal(t, EntryBarrier, ent.Kind)
	require.Equal(t, r.Term, ent.Term)
}

func TestProposeOnNonLeaderIsDropped(t *testing.T) {
	r := mustNewRaft(t, newTestConfig(1, 1, 2, 3))
	err := r.Propose([]byte("cmd"), nil)
	require.ErrorIs(t, err, ErrProposalDropped)
}

func TestSingleVoterProposeCommitsOnceStable(t *testing.T) {
	r := mustNewRaft(t, newTestConfig(1, 1))
	require.NoError(t, r.Step(Message{MsgType: MsgHup, From: 1, To: 1}))

	var callbackErr error
	called := false
	require.NoError(t, r.Propose([]byte("cmd"), func(err error) {
		called = true
		callbackErr = err
	}))

	require.False(t, called, "proposal must not commit before StableTo confirms persistence")
	require.NotEqual(t, r.RaftLog.lastIndex(), r.RaftLog.committed)

	require.NoError(t, r.RaftLog.storage.(*MemoryStorage).Append(r.UnstableEntries()))
	r.StableTo(r.RaftLog.lastIndex())

	require.True(t, called)
	require.NoError(t, callbackErr)
	require.Equal(t, r.RaftLog.lastIndex(), r.RaftLog.committed)
}

func TestFollowerAppendsLeaderEntriesAndAdvancesCommit(t *testing.T) {
	leader := mustNewRaft(t, newTestConfig(1, 1, 2, 3))
	follower := mustNewRaft(t, newTestConfig(2, 1, 2, 3))

	require.NoError(t, leader.Step(Message{MsgType: MsgHup, From: 1, To: 1}))
	leader.Msgs()
	require.NoError(t, leader.Step(Message{MsgType: MsgRequestVoteResponse, From: 2, To: 1, Term: leader.Term, VoteGranted: true}))

	// Deliver the new leader's barrier append first, so the follower holds
	// index 1 and the leader moves it to pipelining.
	for _, m := range leader.Msgs() {
		if m.To == 2 && m.MsgType == MsgAppend {
			require.NoError(t, follower.Step(m))
		}
	}
	require.NoError(t, leader.Step(follower.Msgs()[0]))
	leader.Msgs()

	require.NoError(t, leader.Propose([]byte("cmd"), nil))
	appends := leader.Msgs()

	var toFollower Message
	for _, m := range appends {
		if m.To == 2 && m.MsgType == MsgAppend {
			toFollower = m
		}
	}
	require.Equal(t, MsgAppend, toFollower.MsgType)

	require.NoError(t, follower.Step(toFollower))
	resp := follower.Msgs()[0]
	require.True(t, resp.Success)

	// The leader's own copy of the entry must also be confirmed durable
	// before it counts toward quorum.
	require.NoError(t, leader.RaftLog.storage.(*MemoryStorage).Append(leader.UnstableEntries()))
	leader.StableTo(leader.RaftLog.lastIndex())

	require.NoError(t, leader.Step(resp))
	require.Equal(t, leader.RaftLog.lastIndex(), leader.RaftLog.committed)
}

func TestAppendRejectedOnLogMismatchCarriesConflictHint(t *testing.T) {
	follower := mustNewRaft(t, newTestConfig(2, 1, 2, 3))

	m := Message{
		MsgType:      MsgAppend,
		From:         1,
		To:           2,
		Term:         1,
		PrevLogIndex: 5,
		PrevLogTerm:  1,
		Entries:      []Entry{{Index: 6, Term: 1}},
	}
	require.NoError(t, follower.Step(m))
	resp := follower.Msgs()[0]
	require.False(t, resp.Success)
	require.Equal(t, uint64(5), resp.RejectedIndex)
	// The follower's log is empty, so its hint points at index 0, term 0.
	require.Equal(t, uint64(0), resp.ConflictIndex)
	require.Equal(t, uint64(0), resp.ConflictTerm)
}

func TestTickElectionTimeoutStartsCampaign(t *testing.T) {
	r := mustNewRaft(t, newTestConfig(1, 1, 2, 3))
	for i := 0; i < r.electionTimeout*2; i++ {
		r.Tick()
		if r.State == StateCandidate {
			return
		}
	}
	t.Fatal("follower never campaigned after election timeout")
}

func TestUnavailableStateIgnoresStepAndTick(t *testing.T) {
	r := mustNewRaft(t, newTestConfig(1, 1))
	require.NoError(t, r.Step(Message{MsgType: MsgHup, From: 1, To: 1}))
	require.Error(t, r.ReportPersistenceFailure(ErrUnavailable))
	require.Equal(t, StateUnavailable, r.State)

	err := r.Step(Message{MsgType: MsgHup, From: 1, To: 1})
	require.ErrorIs(t, err, ErrProposalDropped)

	r.Tick()
	require.Equal(t, StateUnavailable, r.State)
}
