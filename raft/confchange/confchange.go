// Package confchange builds the next configuration for a joint-consensus
// membership change. It knows nothing about logs, terms, or progress
// tracking; it is a pure function from a base configuration plus a batch
// of changes to the resulting member set, kept deliberately independent of
// package raft so the two can be tested and reasoned about in isolation.
package confchange

import "sort"

// Role mirrors the three member roles a configuration change can assign.
type Role int

const (
	Voter Role = iota
	NonVoter
	Spare
)

// Member is one cluster server as seen by the change builder.
type Member struct {
	ID      uint64
	Address string
	Role    Role
}

// Config is the ordered member list a change is applied against.
type Config struct {
	Members []Member
}

// ChangeType enumerates the membership operations exposed as
// driver-facing calls.
type ChangeType int

const (
	// AddNonVoter brings a new server in as a non-voter, the entry point
	// to the catch-up phase of a promotion.
	AddNonVoter ChangeType = iota
	// Promote flips an existing non-voter to voter, the commit phase of
	// a promotion.
	Promote
	// Remove drops a member entirely.
	Remove
)

// Change is one requested membership mutation.
type Change struct {
	Type    ChangeType
	ID      uint64
	Address string
}

// Apply returns the configuration that results from applying changes, in
// order, to base. Unknown ids targeted by Promote or Remove are ignored
// rather than erroring, since by the time a configuration entry commits
// the caller has already validated the target exists.
func Apply(base Config, changes ...Change) Config {
	members := make(map[uint64]Member, len(base.Members))
	for _, m := range base.Members {
		members[m.ID] = m
	}
	for _, c := range changes {
		switch c.Type {
		case AddNonVoter:
			members[c.ID] = Member{ID: c.ID, Address: c.Address, Role: NonVoter}
		case Promote:
			if m, ok := members[c.ID]; ok {
				m.Role = Voter
				members[c.ID] = m
			}
		case Remove:
			delete(members, c.ID)
		}
	}
	out := Config{Members: make([]Member, 0, len(members))}
	for _, m := range members {
		out.Members = append(out.Members, m)
	}
	sort.Slice(out.Members, func(i, j int) bool { return out.Members[i].ID < out.Members[j].ID })
	return out
}
