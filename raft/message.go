package raft

// MessageType enumerates the RPC set plus the local, driver-originated
// pseudo-messages (Hup, Beat, Propose) that keep Step as the single
// mutation entry point.
type MessageType int

const (
	// MsgHup is a local message: "start an election now" (tick-driven or
	// forced by the driver, e.g. Node.Campaign).
	MsgHup MessageType = iota
	// MsgBeat is a local message telling a leader to broadcast heartbeats.
	MsgBeat
	// MsgPropose is a local message carrying client entries to append.
	MsgPropose

	MsgRequestVote
	MsgRequestVoteResponse

	MsgAppend
	MsgAppendResponse

	MsgHeartbeat
	MsgHeartbeatResponse

	MsgInstallSnapshot
	MsgInstallSnapshotResponse

	// MsgTransferLeader is the local trigger to start a leadership transfer
	// (leader side) or the forward-to-leader request (non-leader side).
	MsgTransferLeader
	// MsgTimeoutNow asks its receiver to start an election immediately,
	// skipping its normal randomized timeout (leadership transfer).
	MsgTimeoutNow
)

func (t MessageType) String() string {
	switch t {
	case MsgHup:
		return "MsgHup"
	case MsgBeat:
		return "MsgBeat"
	case MsgPropose:
		return "MsgPropose"
	case MsgRequestVote:
		return "MsgRequestVote"
	case MsgRequestVoteResponse:
		return "MsgRequestVoteResponse"
	case MsgAppend:
		return "MsgAppend"
	case MsgAppendResponse:
		return "MsgAppendResponse"
	case MsgHeartbeat:
		return "MsgHeartbeat"
	case MsgHeartbeatResponse:
		return "MsgHeartbeatResponse"
	case MsgInstallSnapshot:
		return "MsgInstallSnapshot"
	case MsgInstallSnapshotResponse:
		return "MsgInstallSnapshotResponse"
	case MsgTransferLeader:
		return "MsgTransferLeader"
	case MsgTimeoutNow:
		return "MsgTimeoutNow"
	default:
		return "MsgUnknown"
	}
}

// Message is the single wire-level envelope every RPC (and every local
// pseudo-event) is normalized into before reaching Step. Every message
// carries a sender id and a term; fields not relevant to MsgType are left
// zero.
type Message struct {
	MsgType MessageType
	From    uint64
	To      uint64
	Term    uint64

	// RequestVote / RequestVoteResponse
	LastLogIndex uint64
	LastLogTerm  uint64
	VoteGranted  bool
	Context      CampaignType

	// AppendEntries / AppendEntriesResult
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []Entry
	LeaderCommit uint64
	Success      bool
	// RejectedIndex echoes the PrevLogIndex the leader sent in the
	// request this response answers, letting the leader tell a stale
	// response (answering a probe it has since moved past) apart from
	// the live one before applying ConflictTerm/ConflictIndex.
	RejectedIndex    uint64
	LastLogIndexResp uint64
	ConflictTerm     uint64
	ConflictIndex    uint64

	// InstallSnapshot / InstallSnapshotResult
	Snapshot SnapshotMeta
	Data     []byte
	Offset   uint64
	Done     bool
}
