package raft

import (
	"github.com/pingcap/errcode"
	"github.com/pingcap/errors"
)

// Root error codes for the failure kinds the core reports. Each is a leaf
// of a common "raft" namespace so a driver can errors.As/errcode.CodeChain
// a failure back to one of these without parsing strings.
var (
	rootCode = errcode.NewCode("raft")

	// CodeOutOfMemory covers "Out-of-memory during role entry" and
	// "Out-of-memory during log append".
	CodeOutOfMemory = rootCode.Child("raft.out_of_memory")
	// CodePersistenceFailure covers persistence failures that push the
	// core into StateUnavailable.
	CodePersistenceFailure = rootCode.Child("raft.persistence_failure")
	// CodeLeadershipLost is attached to every pending apply failed by a
	// leader->follower transition.
	CodeLeadershipLost = rootCode.Child("raft.leadership_lost")
	// CodeCatchUpExceeded is reported when a promotion is abandoned after
	// exhausting its configured round budget.
	CodeCatchUpExceeded = rootCode.Child("raft.catch_up_exceeded")
	// CodeProposalDropped covers proposals refused for a reason other
	// than the ones above (not leader, transfer in progress, ...).
	CodeProposalDropped = rootCode.Child("raft.proposal_dropped")
)

// codedError pairs a plain error with one of the Code values above so
// drivers can errcode.Code(err) it while %v/.Error() still reads naturally.
type codedError struct {
	code errcode.Code
	error
}

func (e codedError) Code() errcode.Code { return e.code }

func wrapCode(code errcode.Code, err error) error {
	return codedError{code: code, error: err}
}

var (
	// ErrProposalDropped is returned when a proposal is refused outright
	// (not leader, or a transfer is in progress) so the caller can retry
	// elsewhere instead of waiting on a request that was never enqueued.
	ErrProposalDropped = wrapCode(CodeProposalDropped, errors.New("raft: proposal dropped"))
	// ErrLeadershipLost completes every pending apply outstanding when a
	// leader steps down.
	ErrLeadershipLost = wrapCode(CodeLeadershipLost, errors.New("raft: leadership lost"))
	// ErrCatchUpExceeded is surfaced to the driver when a promotion is
	// abandoned after its maximum round budget.
	ErrCatchUpExceeded = wrapCode(CodeCatchUpExceeded, errors.New("raft: catch-up round budget exceeded"))
	// ErrOutOfMemory models an allocation failure during role entry or log
	// append.
	ErrOutOfMemory = wrapCode(CodeOutOfMemory, errors.New("raft: out of memory"))
	// ErrCompacted is returned by the log model when an index has already
	// been truncated away by a snapshot.
	ErrCompacted = errors.New("raft: requested index has been compacted")
	// ErrUnavailable is returned by the log model when an index hasn't
	// been appended yet.
	ErrUnavailable = errors.New("raft: requested entry is not available")
	// ErrSnapshotTemporarilyUnavailable is returned by Storage when a
	// snapshot is being generated but isn't ready yet.
	ErrSnapshotTemporarilyUnavailable = errors.New("raft: snapshot temporarily unavailable")
)

// persistenceFailure wraps a driver-reported persistence error and marks
// the core StateUnavailable; corruption is never silently recovered.
func persistenceFailure(err error) error {
	return wrapCode(CodePersistenceFailure, errors.Annotate(err, "raft: persistence failure"))
}

// ReportPersistenceFailure is called by the driver when durably writing a
// Ready's UnstableEntries or HardState fails. The node moves to
// StateUnavailable and every outstanding proposal is failed; there is no
// automatic recovery; a fresh NewRaft over the surviving storage is
// required.
func (r *Raft) ReportPersistenceFailure(err error) error {
	r.State = StateUnavailable
	r.Lead = None
	r.failPendingProposals()
	wrapped := persistenceFailure(err)
	r.logger.Errorf("raft %d: %v", r.id, wrapped)
	return wrapped
}
