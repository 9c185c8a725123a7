package raft

import (
	"sort"

	llrb "github.com/petar/GoLLRB/llrb"
)

// serverItem adapts Server to llrb.Item, ordering members by id so
// Configuration's iteration order (and therefore log output and test
// fixtures) is always deterministic.
type serverItem Server

func (s serverItem) Less(than llrb.Item) bool {
	return s.ID < than.(serverItem).ID
}

// Configuration is the ordered set of cluster members. It is kept in an
// LLRB tree keyed by server id, generalized to track two overlapping voter
// sets at once while a configuration change is in flight.
type Configuration struct {
	members *llrb.LLRB
	// joint, when non-nil, is the incoming voter set during a
	// configuration change still in flight; agreement requires a
	// majority in both old (members) and new (joint) voter sets.
	joint *llrb.LLRB
}

// NewConfiguration builds a Configuration from an initial server list.
func NewConfiguration(servers ...Server) Configuration {
	c := Configuration{members: llrb.New()}
	for _, s := range servers {
		c.members.InsertNoReplace(serverItem(s))
	}
	return c
}

func (c Configuration) clone() Configuration {
	out := Configuration{members: llrb.New()}
	c.members.AscendGreaterOrEqual(serverItem{}, func(i llrb.Item) bool {
		out.members.InsertNoReplace(i)
		return true
	})
	if c.joint != nil {
		out.joint = llrb.New()
		c.joint.AscendGreaterOrEqual(serverItem{}, func(i llrb.Item) bool {
			out.joint.InsertNoReplace(i)
			return true
		})
	}
	return out
}

// Get returns the member with the given id, and whether it was found.
func (c Configuration) Get(id uint64) (Server, bool) {
	item := c.members.Get(serverItem{ID: id})
	if item == nil {
		return Server{}, false
	}
	return Server(item.(serverItem)), true
}

// Servers returns every member in ascending id order.
func (c Configuration) Servers() []Server {
	out := make([]Server, 0, c.members.Len())
	c.members.AscendGreaterOrEqual(serverItem{}, func(i llrb.Item) bool {
		out = append(out, Server(i.(serverItem)))
		return true
	})
	return out
}

// Upsert adds or replaces a member.
func (c Configuration) Upsert(s Server) Configuration {
	c.members.ReplaceOrInsert(serverItem(s))
	return c
}

// Remove drops a member by id.
func (c Configuration) Remove(id uint64) Configuration {
	c.members.Delete(serverItem{ID: id})
	return c
}

// IsJoint reports whether a configuration change is currently in flight.
func (c Configuration) IsJoint() bool { return c.joint != nil }

// EnterJoint starts joint consensus with newServers as the incoming voter
// set.
func (c *Configuration) EnterJoint(newServers []Server) {
	c.joint = llrb.New()
	for _, s := range newServers {
		c.joint.InsertNoReplace(serverItem(s))
	}
}

// LeaveJoint commits the incoming voter set as the sole configuration.
func (c *Configuration) LeaveJoint() {
	if c.joint == nil {
		return
	}
	c.members = c.joint
	c.joint = nil
}

func votingIDs(tree *llrb.LLRB) []uint64 {
	var ids []uint64
	tree.AscendGreaterOrEqual(serverItem{}, func(i llrb.Item) bool {
		s := Server(i.(serverItem))
		if s.Role == Voter {
			ids = append(ids, s.ID)
		}
		return true
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// VoterSets returns the old and (if joint consensus is active) new voter
// id sets. When joint consensus isn't active the second slice is nil.
func (c Configuration) VoterSets() (old, incoming []uint64) {
	old = votingIDs(c.members)
	if c.joint != nil {
		incoming = votingIDs(c.joint)
	}
	return old, incoming
}

// NVoting counts voters in the current, non-joint configuration.
func (c Configuration) NVoting() int {
	return len(votingIDs(c.members))
}

// Quorum returns the strict-majority size for a voter set of n members.
func Quorum(n int) int {
	return n/2 + 1
}

// HasQuorum reports whether grants (a set of server ids that granted or
// acked something) forms a majority of every active voter set - both old
// and incoming during joint consensus.
func (c Configuration) HasQuorum(granted map[uint64]bool) bool {
	old, incoming := c.VoterSets()
	if !hasMajority(old, granted) {
		return false
	}
	if incoming != nil && !hasMajority(incoming, granted) {
		return false
	}
	return true
}

func hasMajority(voters []uint64, granted map[uint64]bool) bool {
	if len(voters) == 0 {
		return true
	}
	count := 0
	for _, id := range voters {
		if granted[id] {
			count++
		}
	}
	return count >= Quorum(len(voters))
}
