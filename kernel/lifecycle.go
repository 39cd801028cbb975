package kernel

import "github.com/cafeos/coreinit/guestmem"

// testThreadCancel checks whether self has a pending cancellation request,
// invoked at mutex lock and unlock, fast-mutex unlock, and spinlock
// acquire and release boundaries. Must be called
// with the scheduler lock held. The cancel path does not call ExitThread
// itself — ExitThread runs a guest callback, which must never happen
// while holding the scheduler lock — so it reports mustExit and leaves
// the actual exit to the caller, after the caller's own unlock unwinds.
func (s *Scheduler) testThreadCancel(self *Thread) (mustExit bool) {
	if self.cancelState != CancelEnabled {
		return false
	}
	switch self.requestFlag {
	case ReqSuspend:
		self.requestFlag = ReqNone
		self.suspendCount += self.needSuspend
		self.needSuspend = 0
		if self.suspendQueue != nil {
			s.wakeupAll(self.suspendQueue)
		}
	case ReqCancel:
		self.requestFlag = ReqNone
		return true
	}
	return false
}

// RequestCancel implements OSCancelThread: marks a pending cancel request.
// Taking effect is cooperative — it happens at the target's
// next testThreadCancel boundary.
func (s *Scheduler) RequestCancel(t *Thread) {
	s.lock.acquire(schedulerLockID)
	t.requestFlag = ReqCancel
	s.lock.release(schedulerLockID)
}

// RequestSuspend marks a pending suspend request with the given increment,
// cooperative in the same way as RequestCancel.
func (s *Scheduler) RequestSuspend(t *Thread, count int32) {
	s.lock.acquire(schedulerLockID)
	t.requestFlag = ReqSuspend
	t.needSuspend = count
	s.lock.release(schedulerLockID)
}

// SetCancelState implements OSSetThreadCancelState, returning the prior
// state. Only the explicit Enabled/Disabled bit is guest-settable; the
// DisabledByMutex/DisabledBySpinlock/DisabledByUserStackPointer bits are
// owned by the primitives that set them.
func (s *Scheduler) SetCancelState(t *Thread, disabled bool) (prior CancelState) {
	s.lock.acquire(schedulerLockID)
	defer s.lock.release(schedulerLockID)
	prior = t.cancelState
	if disabled {
		t.cancelState |= CancelDisabled
	} else {
		t.cancelState &^= CancelDisabled
	}
	return prior
}

// SetUserStackPointer marks a temporary user-stack-pointer section: while
// active, cancellation is blocked, matching a mutex or spinlock hold. The
// sp value is not recorded or installed anywhere; only the
// DisabledByUserStackPointer cancel bit is set. Call the returned restore
// func to clear that bit and restore cancel eligibility.
func (s *Scheduler) SetUserStackPointer(t *Thread, sp guestmem.Addr) (restore func()) {
	s.lock.acquire(schedulerLockID)
	t.cancelState |= CancelDisabledByUserStackPointer
	s.lock.release(schedulerLockID)
	return func() {
		s.lock.acquire(schedulerLockID)
		t.cancelState &^= CancelDisabledByUserStackPointer
		s.lock.release(schedulerLockID)
	}
}

// SetThreadRunQuantum implements OSSetThreadRunQuantum. The original
// aborts inside setThreadRunQuantumNoLock, so whether ticks actually
// preempt a running thread was never decided upstream. This stores the
// value, so a later read is consistent, without enforcing it — the same
// observable behavior as the source's unimplemented state, just without
// the abort.
func (s *Scheduler) SetThreadRunQuantum(t *Thread, quantumNs int64) {
	s.lock.acquire(schedulerLockID)
	t.runQuantumNs = quantumNs
	s.lock.release(schedulerLockID)
}

// ExitThread implements OSExitThread. Must be called from
// the exiting thread's own goroutine; it never returns to its caller in
// the sense that the calling goroutine should stop touching self
// afterwards.
func (s *Scheduler) ExitThread(self *Thread, exitValue int32) {
	if self.cleanupCallback != nil {
		saved := self.cancelState
		self.cancelState |= CancelDisabled
		self.cleanupCallback(self, 0, guestmem.Null)
		self.cancelState = saved
	}

	for i := range self.tls {
		self.tls[i] = 0
	}

	s.lock.acquire(schedulerLockID)

	self.exitValue = exitValue
	s.unlockAllMutexes(self)
	s.unlockAllFastMutexes(self)

	if self.joinQueue != nil {
		s.wakeupAll(self.joinQueue)
	}
	if self.suspendQueue != nil {
		s.wakeupAll(self.suspendQueue)
	}

	if self.detached {
		s.deactivate(self)
	} else {
		self.state = StateMoribund
	}

	core := self.core
	s.cores[core].current = nil
	s.reschedule(core, false)

	s.lock.release(schedulerLockID)
}

// deactivate transitions a Moribund-or-exiting thread to None and queues
// it for its per-core deallocator thread. Must be called with the
// scheduler lock held.
func (s *Scheduler) deactivate(t *Thread) {
	if t.activeElem != nil {
		s.active.Remove(t.activeElem)
		t.activeElem = nil
	}
	t.state = StateNone
	core := t.core
	if !core.valid() {
		core = MainCore
	}
	s.dealloc[core].fifo = append(s.dealloc[core].fifo, t)
	if s.dealloc[core].waitQ != nil {
		s.wakeupAll(s.dealloc[core].waitQ)
	}
}

// DetachThread implements OSDetachThread.
func (s *Scheduler) DetachThread(t *Thread) {
	s.lock.acquire(schedulerLockID)
	defer s.lock.release(schedulerLockID)
	t.detached = true
	if t.state == StateMoribund {
		s.deactivate(t)
	}
}

// JoinThread implements OSJoinThread. Returns (exitValue, ok); ok is false
// if t raced to None via detach before the join could observe its exit
// value. A second joiner while another thread is already joining is a
// fatal assertion (ErrAlreadyJoined), not a false result.
func (s *Scheduler) JoinThread(self, t *Thread) (exitValue int32, ok bool) {
	s.lock.acquire(schedulerLockID)

	if t.state == StateNone {
		s.lock.release(schedulerLockID)
		return 0, false
	}
	if t.joiner != nil {
		s.lock.release(schedulerLockID)
		fatal("JoinThread", t, ErrAlreadyJoined)
	}
	t.joiner = self

	for t.state != StateNone && t.state != StateMoribund {
		s.sleepThread(self, t.joinQueue)
		out := s.rescheduleAll(self)
		s.lock.release(schedulerLockID)
		if out {
			self.park()
		}
		s.lock.acquire(schedulerLockID)
	}

	if t.state != StateMoribund {
		t.joiner = nil
		s.lock.release(schedulerLockID)
		return 0, false
	}

	exitValue = t.exitValue
	t.joiner = nil
	s.deactivate(t)
	s.rescheduleAll(self)
	s.lock.release(schedulerLockID)
	return exitValue, true
}

// DeallocatorLoop is the GuestFunc entry point for a per-core deallocator
// thread: it sleeps on a core-local FIFO and, on wake,
// invokes each exited thread's deallocator callback with
// (thread, stackLowAddr) — the only place that callback ever runs, since
// it must not run on the exiting thread's own stack.
func (s *Scheduler) DeallocatorLoop(self *Thread, argc int32, argv guestmem.Addr) int32 {
	core := self.core
	s.lock.acquire(schedulerLockID)
	if s.dealloc[core].waitQ == nil {
		s.dealloc[core].waitQ = newWaitQueue("dealloc")
	}
	for {
		if len(s.dealloc[core].fifo) == 0 {
			s.sleepThread(self, s.dealloc[core].waitQ)
			out := s.rescheduleAll(self)
			s.lock.release(schedulerLockID)
			if out {
				self.park()
			}
			s.lock.acquire(schedulerLockID)
			continue
		}
		target := s.dealloc[core].fifo[0]
		s.dealloc[core].fifo = s.dealloc[core].fifo[1:]
		cb := target.deallocatorCallback
		stackLow := target.stackLow
		s.lock.release(schedulerLockID)
		if cb != nil {
			cb(target, 0, stackLow)
		}
		s.lock.acquire(schedulerLockID)
	}
}
