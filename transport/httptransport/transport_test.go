package httptransport_test

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinyraft/raftcore/raft"
	"github.com/tinyraft/raftcore/transport/httptransport"
)

type recordingDispatcher struct {
	mu  sync.Mutex
	got []raft.Message
}

func (d *recordingDispatcher) Step(_ context.Context, m raft.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.got = append(d.got, m)
	return nil
}

func (d *recordingDispatcher) messages() []raft.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]raft.Message(nil), d.got...)
}

func TestTransportSendDeliversMessage(t *testing.T) {
	d := &recordingDispatcher{}
	srv := httptest.NewServer(httptransport.NewServer(d).Handler())
	defer srv.Close()

	tr := httptransport.NewTransport()
	tr.AddPeer(2, srv.URL)

	msg := raft.Message{MsgType: raft.MsgAppend, From: 1, To: 2, Term: 3}
	require.NoError(t, tr.Send(context.Background(), msg))

	got := d.messages()
	require.Len(t, got, 1)
	require.Equal(t, msg.MsgType, got[0].MsgType)
	require.Equal(t, msg.From, got[0].From)
	require.Equal(t, msg.Term, got[0].Term)
}

func TestTransportSendUnknownPeer(t *testing.T) {
	tr := httptransport.NewTransport()
	err := tr.Send(context.Background(), raft.Message{To: 99})
	require.Error(t, err)
}

func TestTransportSendAllFansOut(t *testing.T) {
	d := &recordingDispatcher{}
	srv := httptest.NewServer(httptransport.NewServer(d).Handler())
	defer srv.Close()

	tr := httptransport.NewTransport()
	tr.AddPeer(2, srv.URL)
	tr.AddPeer(3, srv.URL)

	tr.SendAll(context.Background(), []raft.Message{
		{MsgType: raft.MsgHeartbeat, From: 1, To: 2},
		{MsgType: raft.MsgHeartbeat, From: 1, To: 3},
	})

	require.Len(t, d.messages(), 2)
}
