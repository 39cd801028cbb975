package kernel

// RequestReschedule stands in for the inter-core interrupt used to
// request a reschedule pass on a core other than the caller's own. In
// this goroutine-per-thread model there is no separate interrupt-delivery
// latency to simulate — the call takes the scheduler lock and runs the
// target core's reschedule synchronously — but it is kept as its own
// entry point, rather than inlined at call sites, since it marks the
// logical boundary a real inter-core interrupt would cross.
func (s *Scheduler) RequestReschedule(core CoreID) {
	s.lock.acquire(schedulerLockID)
	s.reschedule(core, false)
	s.lock.release(schedulerLockID)
}

// InterruptsEnabled reports whether core currently accepts interrupts,
// for diagnostics and tests.
func (s *Scheduler) InterruptsEnabled(core CoreID) bool {
	s.lock.acquire(lockID(core))
	defer s.lock.release(lockID(core))
	return s.cores[core].interruptsEnabled
}

// SetSchedulingEnabled toggles a per-core flag that disables rescheduling
// during critical regions, used by interrupt handlers that must run to
// completion without being preempted mid-handler.
func (s *Scheduler) SetSchedulingEnabled(core CoreID, enabled bool) (prior bool) {
	s.lock.acquire(schedulerLockID)
	defer s.lock.release(schedulerLockID)
	prior = s.cores[core].schedulingEnabled
	s.cores[core].schedulingEnabled = enabled
	return prior
}
