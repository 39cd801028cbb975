package kernel

import (
	"container/list"
	"sync/atomic"
)

const fastMutexTag uint32 = 0x46535458 // "FSTX"

// FastMutex is non-recursive with a lock-free uncontended fast path
//. Contention falls back to the scheduler lock: the loser
// links into fm's own wait queue and into the current owner's
// fastMutexOwned list, so the owner can recompute its inherited priority
// on release.
type FastMutex struct {
	tag   uint32
	name  string
	owner atomic.Pointer[Thread]

	contended *waitQueue    // threads blocked trying to acquire fm
	ownedElem *list.Element // fm's element within its current owner's fastMutexOwned list
}

func ensureFastMutex(fm *FastMutex) {
	if fm.tag != fastMutexTag {
		fm.tag = fastMutexTag
		fm.contended = newWaitQueue(fm.name)
	}
}

// LockFastMutex implements OSFastMutex_Lock. The uncontended path is a
// single CAS with no scheduler-lock acquisition at all.
func (s *Scheduler) LockFastMutex(self *Thread, fm *FastMutex) {
	ensureFastMutex(fm)

	if fm.owner.CompareAndSwap(nil, self) {
		return
	}

	s.lock.acquire(schedulerLockID)
	for fm.owner.Load() != self {
		owner := fm.owner.Load()
		if owner == nil {
			if fm.owner.CompareAndSwap(nil, self) {
				s.lock.release(schedulerLockID)
				return
			}
			continue
		}
		self.waitingOnFastMutex = fm
		if fm.ownedElem == nil {
			fm.ownedElem = owner.fastMutexOwned.PushBack(fm)
		}
		s.promote(owner, self.priority)
		s.sleepThread(self, fm.contended)
		out := s.rescheduleAll(self)
		s.lock.release(schedulerLockID)
		if out {
			self.park()
		}
		s.lock.acquire(schedulerLockID)
		self.waitingOnFastMutex = nil
	}
	s.lock.release(schedulerLockID)
}

// UnlockFastMutex implements OSFastMutex_Unlock. Ownership hands directly
// to the contended queue's head rather than racing woken threads for the
// CAS, which keeps the single scheduler lock as the sole point of truth
// for who owns fm next.
func (s *Scheduler) UnlockFastMutex(self *Thread, fm *FastMutex) {
	s.lock.acquire(schedulerLockID)
	ensureFastMutex(fm)

	if fm.owner.Load() != self {
		s.lock.release(schedulerLockID)
		fatal("UnlockFastMutex", self, ErrNotOwner)
	}

	if fm.ownedElem != nil {
		self.fastMutexOwned.Remove(fm.ownedElem)
		fm.ownedElem = nil
		s.recomputeOwnerPriority(self)
	}

	fm.owner.Store(nil)
	if head := fm.contended.front(); head != nil {
		fm.owner.Store(head)
		s.wakeupOne(head)
	}

	mustExit := s.testThreadCancel(self)
	s.rescheduleAll(self)
	s.lock.release(schedulerLockID)
	if mustExit {
		s.ExitThread(self, -1)
	}
}

// unlockAllFastMutexes is the exit-time helper, symmetric to
// unlockAllMutexes.
func (s *Scheduler) unlockAllFastMutexes(self *Thread) {
	for e := self.fastMutexOwned.Front(); e != nil; {
		next := e.Next()
		fm := e.Value.(*FastMutex)
		fm.ownedElem = nil
		fm.owner.Store(nil)
		if head := fm.contended.front(); head != nil {
			fm.owner.Store(head)
			s.wakeupOne(head)
		}
		e = next
	}
	self.fastMutexOwned.Init()
}
