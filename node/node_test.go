package node_test

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tinyraft/raftcore/node"
	"github.com/tinyraft/raftcore/raft"
)

func newTestRaft(t *testing.T, id uint64, peers []raft.Server) *raft.Raft {
	t.Helper()
	r, err := raft.NewRaft(&raft.Config{
		ID:            id,
		Peers:         peers,
		ElectionTick:  10,
		HeartbeatTick: 1,
		Storage:       raft.NewMemoryStorage(),
		Rand:          rand.New(rand.NewSource(int64(id))),
	})
	require.NoError(t, err)
	return r
}

func TestNodeSingleVoterElectsItself(t *testing.T) {
	defer goleak.VerifyNone(t)

	peers := []raft.Server{{ID: 1, Role: raft.Voter}}
	r := newTestRaft(t, 1, peers)
	n := node.Start(r)
	defer n.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, n.Campaign(ctx))

	for {
		select {
		case rd := <-n.Ready():
			if rd.SoftState != nil && rd.SoftState.RaftState == raft.StateLeader {
				n.Advance(rd)
				return
			}
			n.Advance(rd)
		case <-ctx.Done():
			t.Fatal("node never became leader")
		}
	}
}

func TestNodeProposeWithoutLeaderIsDropped(t *testing.T) {
	defer goleak.VerifyNone(t)

	peers := []raft.Server{{ID: 1, Role: raft.Voter}, {ID: 2, Role: raft.Voter}, {ID: 3, Role: raft.Voter}}
	r := newTestRaft(t, 1, peers)
	n := node.Start(r)
	defer n.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	require.NoError(t, n.Propose(ctx, []byte("cmd"), func(err error) { done <- err }))

	select {
	case err := <-done:
		require.Error(t, err)
	case <-ctx.Done():
		t.Fatal("proposal callback never fired")
	}
}

func TestNodeStopIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	peers := []raft.Server{{ID: 1, Role: raft.Voter}}
	r := newTestRaft(t, 1, peers)
	n := node.Start(r)
	n.Stop()
	n.Stop()
}
