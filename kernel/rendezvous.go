package kernel

import "sync/atomic"

// Rendezvous is a per-core flag barrier: each core sets
// its own flag release-ordered, then busy-polls the others acquire-ordered
// until every flag the caller's mask requires is set, or a deadline
// elapses.
type Rendezvous struct {
	flags atomic.Uint32 // bit c set => core c has arrived
}

// Arrive sets core's flag.
func (r *Rendezvous) Arrive(core CoreID) {
	for {
		old := r.flags.Load()
		if old&uint32(AffinityCore(core)) != 0 {
			return
		}
		if r.flags.CompareAndSwap(old, old|uint32(AffinityCore(core))) {
			return
		}
	}
}

// Reset clears every flag, for reuse across repeated rendezvous points.
func (r *Rendezvous) Reset() {
	r.flags.Store(0)
}

// WaitRendezvous implements OSWaitRendezvous: sets self's core flag, then polls
// until every core in mask has arrived or s.now() passes deadlineNanos
// (0 meaning no deadline). Each poll iteration also runs a scheduler
// reschedule pass so ICI-delivered wakeups and pending interrupts are
// observed.
func (s *Scheduler) WaitRendezvous(self *Thread, r *Rendezvous, mask Affinity, deadlineNanos int64) bool {
	r.Arrive(self.core)
	for {
		if r.flags.Load()&uint32(mask) == uint32(mask) {
			return true
		}
		if deadlineNanos != 0 && s.now() >= deadlineNanos {
			return false
		}
		s.Yield(self)
	}
}
