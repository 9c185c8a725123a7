package raft

import "github.com/shirou/gopsutil/mem"

// minAvailableMemoryBytes is the floor checked before a role transition
// allocates its ballot box or progress table. Conservative on purpose:
// this is a best-effort guard against allocating into exhaustion, not a
// capacity planning knob.
const minAvailableMemoryBytes = 16 * 1024 * 1024

// checkAvailableMemory reproduces the C original's raft_malloc-returns-
// RAFT_ENOMEM path ahead of the allocation instead of after it: a role
// transition that would allocate a votes map or a progress table checks
// this first and aborts rather than allocating into an already-exhausted
// host. A failure to even read memory stats is never treated as an
// out-of-memory condition - the check is best-effort and never blocks a
// transition it can't evaluate.
func checkAvailableMemory() error {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil
	}
	if vm.Available < minAvailableMemoryBytes {
		return ErrOutOfMemory
	}
	return nil
}
