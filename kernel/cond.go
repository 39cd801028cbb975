package kernel

const condTag uint32 = 0x434f4e44 // "COND"

// Cond is a condition variable bound to a Mutex at each wait call, not at
// construction — matching OSCondition's guest API,
// which takes the mutex as a wait() argument rather than storing it.
type Cond struct {
	tag  uint32
	name string
	wait *waitQueue
}

func ensureCond(c *Cond) {
	if c.tag != condTag {
		c.tag = condTag
		c.wait = newWaitQueue(c.name)
	}
}

// WaitCond implements OSWaitCond. self must already own m. It atomically
// releases m, sleeps on c, then reacquires m with its prior recursion
// count restored, all under the single scheduler lock so no wakeup can be
// missed between the release and the sleep.
func (s *Scheduler) WaitCond(self *Thread, c *Cond, m *Mutex) {
	s.lock.acquire(schedulerLockID)
	ensureCond(c)
	ensureMutex(m)

	if m.owner != self {
		s.lock.release(schedulerLockID)
		fatal("WaitCond", self, ErrNotOwner)
	}

	savedCount := m.count
	m.count = 0
	self.mutexOwned.Remove(m.ownedElem)
	m.ownedElem = nil
	m.owner = nil
	if self.mutexOwned.Len() == 0 && self.fastMutexOwned.Len() == 0 {
		self.cancelState &^= CancelDisabledByMutex
	}
	s.recomputeOwnerPriority(self)
	s.wakeupAll(m.wait)

	s.sleepThread(self, c.wait)
	out := s.rescheduleAll(self)
	s.lock.release(schedulerLockID)
	if out {
		self.park()
	}

	// Re-lock m exactly like LockMutex, then restore the saved recursion
	// count rather than leaving it at 1.
	s.LockMutex(self, m)
	s.lock.acquire(schedulerLockID)
	m.count = savedCount
	s.lock.release(schedulerLockID)
}

// SignalCond implements OSSignalCond: wakes every waiter, not just one.
func (s *Scheduler) SignalCond(self *Thread, c *Cond) {
	s.lock.acquire(schedulerLockID)
	ensureCond(c)
	s.wakeupAll(c.wait)
	s.rescheduleAll(self)
	s.lock.release(schedulerLockID)
}
