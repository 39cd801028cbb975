package kernel

const semaphoreTag uint32 = 0x53454d41 // "SEMA"

// Semaphore is a signed counter with a priority-sorted wait queue.
type Semaphore struct {
	tag   uint32
	name  string
	count int32
	wait  *waitQueue
}

// InitSemaphore implements OSInitSemaphore, seeding the starting count.
func InitSemaphore(s *Semaphore, name string, initial int32) {
	s.tag = semaphoreTag
	s.name = name
	s.count = initial
	s.wait = newWaitQueue(name)
}

func ensureSemaphore(sem *Semaphore) {
	if sem.tag != semaphoreTag {
		InitSemaphore(sem, sem.name, 0)
	}
}

// WaitSemaphore implements OSWaitSemaphore: blocks while count <= 0, then
// decrements and returns the pre-decrement count.
func (s *Scheduler) WaitSemaphore(self *Thread, sem *Semaphore) int32 {
	s.lock.acquire(schedulerLockID)
	ensureSemaphore(sem)

	for sem.count <= 0 {
		s.sleepThread(self, sem.wait)
		out := s.rescheduleAll(self)
		s.lock.release(schedulerLockID)
		if out {
			self.park()
		}
		s.lock.acquire(schedulerLockID)
	}

	prior := sem.count
	sem.count--
	s.lock.release(schedulerLockID)
	return prior
}

// TryWaitSemaphore implements OSTryWaitSemaphore: non-blocking WaitSemaphore.
func (s *Scheduler) TryWaitSemaphore(sem *Semaphore) (prior int32, ok bool) {
	s.lock.acquire(schedulerLockID)
	defer s.lock.release(schedulerLockID)
	ensureSemaphore(sem)
	if sem.count <= 0 {
		return sem.count, false
	}
	prior = sem.count
	sem.count--
	return prior, true
}

// SignalSemaphore implements OSSignalSemaphore: increments and wakes every
// waiter, not just one — woken threads race on the decrement in
// WaitSemaphore such that exactly `count` of them proceed.
func (s *Scheduler) SignalSemaphore(self *Thread, sem *Semaphore) int32 {
	s.lock.acquire(schedulerLockID)
	ensureSemaphore(sem)
	prior := sem.count
	sem.count++
	s.wakeupAll(sem.wait)
	s.rescheduleAll(self)
	s.lock.release(schedulerLockID)
	return prior
}
