package kernel

import "runtime"

const spinLockTag uint32 = 0x53504c4b // "SPLK"

// SpinLock is a recursive busy-wait lock. While held, the
// holder's effective priority is forced to 0 (highest) via
// Thread.spinLockCount, the same mechanism priority inheritance's
// clampForSpinlock checks.
type SpinLock struct {
	tag   uint32
	name  string
	owner *Thread
	count int32

	uninterruptible bool
	savedInterrupts bool
}

func ensureSpinLock(sl *SpinLock) {
	if sl.tag != spinLockTag {
		sl.tag = spinLockTag
	}
}

// AcquireSpinLock implements OSAcquireSpinLock. Recursion is allowed; the
// underlying CAS loop only actually spins when a different thread holds
// it.
func (s *Scheduler) AcquireSpinLock(self *Thread, sl *SpinLock) {
	s.lock.acquire(schedulerLockID)
	ensureSpinLock(sl)
	for sl.owner != nil && sl.owner != self {
		s.lock.release(schedulerLockID)
		runtime.Gosched()
		s.lock.acquire(schedulerLockID)
	}
	sl.owner = self
	sl.count++
	if sl.count == 1 {
		self.spinLockCount++
		self.cancelState |= CancelDisabledBySpinlock
		s.setActualPriority(self, 0)
	}
	mustExit := s.testThreadCancel(self)
	s.lock.release(schedulerLockID)
	if mustExit {
		s.ExitThread(self, -1)
	}
}

// ReleaseSpinLock implements OSReleaseSpinLock.
func (s *Scheduler) ReleaseSpinLock(self *Thread, sl *SpinLock) {
	s.lock.acquire(schedulerLockID)
	if sl.owner != self {
		s.lock.release(schedulerLockID)
		fatal("ReleaseSpinLock", self, ErrNotOwner)
	}
	sl.count--
	if sl.count > 0 {
		s.lock.release(schedulerLockID)
		return
	}
	sl.owner = nil
	self.spinLockCount--
	if self.spinLockCount == 0 {
		self.cancelState &^= CancelDisabledBySpinlock
		s.recomputeOwnerPriority(self)
	}
	mustExit := s.testThreadCancel(self)
	s.rescheduleAll(self)
	s.lock.release(schedulerLockID)
	if mustExit {
		s.ExitThread(self, -1)
	}
}

// TryAcquireSpinLockWithTimeout implements
// OSTryAcquireSpinLockWithTimeout: bounds the CAS loop by deadlineNanos on
// s.clock, returning false rather than spinning forever.
func (s *Scheduler) TryAcquireSpinLockWithTimeout(self *Thread, sl *SpinLock, deadlineNanos int64) bool {
	s.lock.acquire(schedulerLockID)
	ensureSpinLock(sl)
	for sl.owner != nil && sl.owner != self {
		if s.now() >= deadlineNanos {
			s.lock.release(schedulerLockID)
			return false
		}
		s.lock.release(schedulerLockID)
		runtime.Gosched()
		s.lock.acquire(schedulerLockID)
	}
	sl.owner = self
	sl.count++
	if sl.count == 1 {
		self.spinLockCount++
		self.cancelState |= CancelDisabledBySpinlock
		s.setActualPriority(self, 0)
	}
	mustExit := s.testThreadCancel(self)
	s.lock.release(schedulerLockID)
	if mustExit {
		s.ExitThread(self, -1)
	}
	return true
}

// AcquireSpinLockUninterruptible additionally masks the calling core's
// interrupts for the duration of the hold.
func (s *Scheduler) AcquireSpinLockUninterruptible(self *Thread, sl *SpinLock) {
	sl.uninterruptible = true
	sl.savedInterrupts = s.DisableInterrupts(self.core)
	s.AcquireSpinLock(self, sl)
}

// ReleaseSpinLockUninterruptible restores the interrupt mask saved by
// AcquireSpinLockUninterruptible.
func (s *Scheduler) ReleaseSpinLockUninterruptible(self *Thread, sl *SpinLock) {
	prev := sl.savedInterrupts
	s.ReleaseSpinLock(self, sl)
	s.RestoreInterrupts(self.core, prev)
}
