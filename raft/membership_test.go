package raft

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// driveAppendToSuccess repeatedly lets the leader probe a lagging
// follower and back off on each rejection, the same exchange a real
// catch-up round goes through against a brand-new non-voter with an
// empty log, until the follower finally accepts.
func driveAppendToSuccess(t *testing.T, leader, follower *Raft, followerID uint64) {
	t.Helper()
	for i := 0; i < 10; i++ {
		var m Message
		found := false
		for _, msg := range leader.Msgs() {
			if msg.To == followerID && msg.MsgType == MsgAppend {
				m = msg
				found = true
			}
		}
		require.True(t, found, "leader never sent an append to %d on round %d", followerID, i)

		require.NoError(t, follower.Step(m))
		resp := follower.Msgs()[0]
		require.NoError(t, leader.Step(resp))
		if resp.Success {
			return
		}
	}
	t.Fatal("follower never caught up after repeated probes")
}

// TestAddNonVoterBacksOffNextOnRejectionBeforeCatchingUp exercises the
// exact exchange S5/S6 describe: a brand-new non-voter with an empty log
// is probed optimistically at the leader's last index, rejects, and the
// leader must echo the original PrevLogIndex back to itself to recognize
// the rejection and decrement Next, rather than leaving it pinned.
func TestAddNonVoterBacksOffNextOnRejectionBeforeCatchingUp(t *testing.T) {
	leader := mustNewRaft(t, newTestConfig(1, 1))
	require.NoError(t, leader.Step(Message{MsgType: MsgHup, From: 1, To: 1}))
	require.Equal(t, StateLeader, leader.State)
	require.NoError(t, leader.RaftLog.storage.(*MemoryStorage).Append(leader.UnstableEntries()))
	leader.StableTo(leader.RaftLog.lastIndex())
	leader.Msgs()

	follower := mustNewRaft(t, newTestConfig(2, 1, 2))

	require.NoError(t, leader.AddNonVoter(2, "10.0.0.2:7000"))
	pr := leader.prs.get(2)
	require.NotNil(t, pr)
	require.Equal(t, leader.RaftLog.lastIndex()+1, pr.Next)

	firstProbe := leader.Msgs()[0]
	require.Equal(t, MsgAppend, firstProbe.MsgType)
	require.Equal(t, leader.RaftLog.lastIndex(), firstProbe.PrevLogIndex)
	require.Empty(t, firstProbe.Entries, "leader has nothing past its last index to send yet")

	require.NoError(t, follower.Step(firstProbe))
	reject := follower.Msgs()[0]
	require.False(t, reject.Success)
	require.Equal(t, firstProbe.PrevLogIndex, reject.RejectedIndex)

	require.NoError(t, leader.Step(reject))
	require.Less(t, pr.Next, firstProbe.PrevLogIndex+1, "Next must back off below the rejected probe, not stay pinned")

	retry := leader.Msgs()[0]
	require.Equal(t, MsgAppend, retry.MsgType)
	require.NotEmpty(t, retry.Entries, "the backed-off probe now carries the entry the follower is missing")

	require.NoError(t, follower.Step(retry))
	accept := follower.Msgs()[0]
	require.True(t, accept.Success)

	require.NoError(t, leader.Step(accept))
	require.Equal(t, leader.RaftLog.lastIndex(), pr.Match)
}

func TestAddNonVoterCompletesCatchUpAndProposesPromotion(t *testing.T) {
	leader := mustNewRaft(t, newTestConfig(1, 1))
	require.NoError(t, leader.Step(Message{MsgType: MsgHup, From: 1, To: 1}))
	require.NoError(t, leader.RaftLog.storage.(*MemoryStorage).Append(leader.UnstableEntries()))
	leader.StableTo(leader.RaftLog.lastIndex())
	leader.Msgs()

	follower := mustNewRaft(t, newTestConfig(2, 1, 2))

	require.NoError(t, leader.AddNonVoter(2, "10.0.0.2:7000"))
	driveAppendToSuccess(t, leader, follower, 2)

	for i := 0; i < leader.electionTimeout; i++ {
		leader.Tick()
	}
	leader.Msgs()

	outcomes := leader.TakeCatchUpOutcomes()
	require.Len(t, outcomes, 1)
	require.Equal(t, uint64(2), outcomes[0].ServerID)
	require.True(t, outcomes[0].Promoted)
	require.NoError(t, outcomes[0].Err)
	require.True(t, leader.config.IsJoint(), "promotion proposes a configuration entry, not yet committed")
}

func TestAddNonVoterAbandonedAfterRoundBudgetExceeded(t *testing.T) {
	leader := mustNewRaft(t, newTestConfig(1, 1))
	require.NoError(t, leader.Step(Message{MsgType: MsgHup, From: 1, To: 1}))
	require.NoError(t, leader.RaftLog.storage.(*MemoryStorage).Append(leader.UnstableEntries()))
	leader.StableTo(leader.RaftLog.lastIndex())
	leader.catchUpMaxRounds = 1
	leader.Msgs()

	// id 3 never responds: its progress never matches, so the one round
	// it gets times out and the promotion is abandoned immediately.
	require.NoError(t, leader.AddNonVoter(3, "10.0.0.3:7000"))
	leader.Msgs()

	for i := 0; i < leader.electionTimeout; i++ {
		leader.Tick()
	}
	leader.Msgs()

	outcomes := leader.TakeCatchUpOutcomes()
	require.Len(t, outcomes, 1)
	require.Equal(t, uint64(3), outcomes[0].ServerID)
	require.False(t, outcomes[0].Promoted)
	require.ErrorIs(t, outcomes[0].Err, ErrCatchUpExceeded)
}
