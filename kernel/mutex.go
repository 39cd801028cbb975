package kernel

import "container/list"

// mutexTag marks a Mutex that has been through ensureMutex. Real guest
// code is observed calling OSLockMutex on a structure it never explicitly
// initialized, so every entry point here tolerates (and silently
// completes) a zero-value Mutex instead of
// requiring OSInitMutex first.
const mutexTag uint32 = 0x4d555458 // "MUTX"

// Mutex is a recursive lock. Self-contained aside from
// the owner's intrusive mutexOwned list link, which the Scheduler splices
// directly since only it ever walks that list (priority recomputation on
// unlock).
type Mutex struct {
	tag   uint32
	name  string
	owner *Thread
	count int32
	wait  *waitQueue

	ownedElem *list.Element // this mutex's element in owner.mutexOwned
}

// InitMutex explicitly initializes m, matching OSInitMutex. Calling it is
// optional — every Scheduler method below lazily initializes on first use
// — but it lets a name be attached for diagnostics.
func InitMutex(m *Mutex, name string) {
	m.tag = mutexTag
	m.name = name
	m.wait = newWaitQueue(name)
	m.owner = nil
	m.count = 0
}

func ensureMutex(m *Mutex) {
	if m.tag != mutexTag {
		InitMutex(m, m.name)
	}
}

// LockMutex implements OSLockMutex. Recursive: if self already owns m, the
// recursion count simply increments. Otherwise self blocks, promoting the
// current owner's priority for the duration.
func (s *Scheduler) LockMutex(self *Thread, m *Mutex) {
	s.lock.acquire(schedulerLockID)
	ensureMutex(m)
	if s.testThreadCancel(self) {
		s.lock.release(schedulerLockID)
		s.ExitThread(self, -1)
		return
	}

	for m.owner != nil && m.owner != self {
		self.waitingOnMutex = m
		s.promote(m.owner, self.priority)
		s.sleepThread(self, m.wait)
		out := s.rescheduleAll(self)
		s.lock.release(schedulerLockID)
		if out {
			self.park()
		}
		s.lock.acquire(schedulerLockID)
		self.waitingOnMutex = nil
	}

	m.count++
	if m.owner == nil {
		m.owner = self
		m.ownedElem = self.mutexOwned.PushBack(m)
		self.cancelState |= CancelDisabledByMutex
	}
	s.lock.release(schedulerLockID)
}

// TryLockMutex implements OSTryLockMutex: same recursive-acquire rule, but
// never blocks.
func (s *Scheduler) TryLockMutex(self *Thread, m *Mutex) bool {
	s.lock.acquire(schedulerLockID)
	defer s.lock.release(schedulerLockID)
	ensureMutex(m)

	if m.owner != nil && m.owner != self {
		return false
	}
	m.count++
	if m.owner == nil {
		m.owner = self
		m.ownedElem = self.mutexOwned.PushBack(m)
		self.cancelState |= CancelDisabledByMutex
	}
	return true
}

// UnlockMutex implements OSUnlockMutex. Only the owner may unlock; a
// violation is a fatal assertion, not a returned error.
func (s *Scheduler) UnlockMutex(self *Thread, m *Mutex) {
	s.lock.acquire(schedulerLockID)
	ensureMutex(m)

	if m.owner != self {
		s.lock.release(schedulerLockID)
		fatal("UnlockMutex", self, ErrNotOwner)
	}

	m.count--
	if m.count > 0 {
		s.lock.release(schedulerLockID)
		return
	}

	self.mutexOwned.Remove(m.ownedElem)
	m.ownedElem = nil
	m.owner = nil
	if self.mutexOwned.Len() == 0 && self.fastMutexOwned.Len() == 0 {
		self.cancelState &^= CancelDisabledByMutex
	}
	s.recomputeOwnerPriority(self)

	s.wakeupAll(m.wait)
	mustExit := s.testThreadCancel(self)
	s.rescheduleAll(self)
	s.lock.release(schedulerLockID)
	if mustExit {
		s.ExitThread(self, -1)
	}
}

// unlockAllMutexes is the exit-time helper: release
// every mutex self still owns, handing ownership to no one (as the
// original does — a thread that exits while holding a lock is a guest
// bug, but existing waiters still need to be released).
func (s *Scheduler) unlockAllMutexes(self *Thread) {
	for e := self.mutexOwned.Front(); e != nil; {
		next := e.Next()
		m := e.Value.(*Mutex)
		m.count = 0
		m.owner = nil
		m.ownedElem = nil
		s.wakeupAll(m.wait)
		e = next
	}
	self.mutexOwned.Init()
}
