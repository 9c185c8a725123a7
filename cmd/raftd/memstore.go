package main

import "github.com/tinyraft/raftcore/raft"

// memStore is a placeholder host state machine: it just keeps the last
// command payload applied per log index, enough to demonstrate the
// commit_notify -> apply path end to end without pulling in a real
// key-value engine.
type memStore struct {
	applied map[uint64][]byte
}

func newMemStore() *memStore {
	return &memStore{applied: make(map[uint64][]byte)}
}

func (m *memStore) apply(e raft.Entry) {
	if e.Kind != raft.EntryCommand {
		return
	}
	m.applied[e.Index] = e.Payload
}
