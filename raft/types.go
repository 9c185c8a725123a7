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

// Package raft implements the consensus core of a Raft-based replicated
// log: the role state machine, the election and replication protocols, and
// the catch-up/joint-consensus membership-change protocol. It deliberately
// knows nothing about persistence, transport, or wall clocks; those are
// supplied by a driver through the Storage interface and through discrete
// tick/RPC events fed into Step.
package raft

import "fmt"

// None is the sentinel server id meaning "no leader" / "no vote cast".
const None uint64 = 0

// noLimit disables MaxAppendEntriesSize-style caps.
const noLimit = ^uint64(0)

// StateType is the role of a node in the cluster.
type StateType uint64

const (
	StateUnavailable StateType = iota
	StateFollower
	StateCandidate
	StateLeader
)

var stateNames = [...]string{
	"StateUnavailable",
	"StateFollower",
	"StateCandidate",
	"StateLeader",
}

func (st StateType) String() string {
	if int(st) < len(stateNames) {
		return stateNames[st]
	}
	return fmt.Sprintf("StateType(%d)", st)
}

// ServerRole is a Configuration member's role; only Voter counts toward
// quorum.
type ServerRole int

const (
	Voter ServerRole = iota
	NonVoter
	Spare
)

func (r ServerRole) String() string {
	switch r {
	case Voter:
		return "voter"
	case NonVoter:
		return "non-voter"
	case Spare:
		return "spare"
	default:
		return fmt.Sprintf("ServerRole(%d)", int(r))
	}
}

// EntryKind distinguishes the three kinds of log entry.
type EntryKind int

const (
	// EntryCommand carries an opaque application command.
	EntryCommand EntryKind = iota
	// EntryConfiguration carries a serialized Configuration change.
	EntryConfiguration
	// EntryBarrier is the no-op entry a new leader appends in its own term
	// to force commit of entries inherited from prior terms (Raft §5.4.2).
	EntryBarrier
)

func (k EntryKind) String() string {
	switch k {
	case EntryCommand:
		return "command"
	case EntryConfiguration:
		return "configuration"
	case EntryBarrier:
		return "barrier"
	default:
		return fmt.Sprintf("EntryKind(%d)", int(k))
	}
}

// Entry is one slot in the replicated log. ConfState is only set for
// EntryConfiguration entries: the full post-change configuration, carried
// directly rather than through an encoded Payload since the core defines
// no wire format of its own.
type Entry struct {
	Index   uint64
	Term    uint64
	Kind    EntryKind
	Payload []byte

	ConfState *Configuration
}

// Server identifies one cluster member.
type Server struct {
	ID      uint64
	Address string
	Role    ServerRole
}

// SnapshotMeta describes a snapshot without its data payload.
type SnapshotMeta struct {
	LastIndex uint64
	LastTerm  uint64
	Config    Configuration
}

// CampaignType distinguishes a normal timeout-driven election from a
// leadership-transfer-driven one; kept as a string so it flows into
// RequestVote.Context for the receiver to special-case.
type CampaignType string

const (
	campaignElection CampaignType = "CampaignElection"
	campaignTransfer CampaignType = "CampaignTransfer"
)
