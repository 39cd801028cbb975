package kernel

import (
	"container/list"
	"fmt"

	"github.com/cafeos/coreinit/guestmem"
	"github.com/cafeos/coreinit/klog"
)

// Scheduler owns the single source of truth for which guest thread runs on
// each core. All mutation goes through lock, the
// process-wide scheduler id-lock.
type Scheduler struct {
	lock idLock

	cores [NumCores]coreState

	active list.List // every Thread with state != None

	dealloc [NumCores]deallocState

	nextID ThreadID

	clock Clock

	log *klog.Logger
}

// deallocState is a core's exit-time deallocator job queue.
type deallocState struct {
	fifo  []*Thread
	waitQ *waitQueue
}

// NewScheduler constructs a Scheduler with schedulingEnabled/interrupts
// enabled on every core and an empty ready queue per core. log may be nil,
// in which case diagnostics are discarded.
func NewScheduler(log *klog.Logger) *Scheduler {
	if log == nil {
		log = klog.Discard()
	}
	s := &Scheduler{clock: realClock{}, log: log}
	for c := range s.cores {
		s.cores[c] = coreState{
			ready:             newReadyQueue(CoreID(c)),
			schedulingEnabled: true,
			interruptsEnabled: true,
		}
	}
	s.active.Init()
	return s
}

// SetClock overrides the scheduler's time source, for deterministic tests
// of alarm timing (grounded on catrate/limiter.go's injectable timeNow).
func (s *Scheduler) SetClock(c Clock) { s.clock = c }

func (s *Scheduler) nextThreadID() ThreadID {
	s.nextID++
	return s.nextID
}

// CreateThread allocates a new Thread. The thread starts with
// suspendCount 1 (created suspended); call Resume to make it
// schedulable. If entry is non-nil a backing goroutine is started
// immediately; it parks until first dispatched.
func (s *Scheduler) CreateThread(name string, entry GuestFunc, argc int32, argv guestmem.Addr, priority int32, affinity Affinity, stackHigh, stackLow guestmem.Addr, mem *guestmem.Space) *Thread {
	s.lock.acquire(schedulerLockID)
	defer s.lock.release(schedulerLockID)

	t := newThread(s.nextThreadID(), name)
	t.basePriority = priority
	t.priority = priority
	t.affinity = affinity
	t.stackHigh = stackHigh
	t.stackLow = stackLow
	t.mem = mem
	t.entry = entry
	t.argc = argc
	t.argv = argv
	t.suspendCount = 1
	t.joinQueue = newWaitQueue(fmt.Sprintf("thread[%d].join", t.id))
	t.suspendQueue = newWaitQueue(fmt.Sprintf("thread[%d].suspend", t.id))

	if mem != nil && stackLow != guestmem.Null {
		mem.WriteU32(stackLow, StackSentinel)
	}

	if entry == nil {
		// A thread created with a nil entry point never runs: it enters
		// state None (not Ready) with suspendCounter 0.
		t.state = StateNone
		t.suspendCount = 0
		return t
	}

	t.activeElem = s.active.PushBack(t)

	go func() {
		t.park()
		ret := entry(t, t.argc, t.argv)
		s.ExitThread(t, ret)
	}()

	return t
}

// Thread selection: the head of a core's ready queue, filtered by
// suspend==0 (guaranteed by construction: only suspend==0 threads are ever
// pushed into ready queues) and affinity (guaranteed by only pushing into
// queues the affinity mask allows).
func (s *Scheduler) pickNext(core CoreID) *Thread {
	return s.cores[core].ready.front()
}

// reschedule implements the scheduler's checkRunning pass for one core,
// called with lock held. It returns the thread that was switched OUT of
// core (nil if none), so
// callers know whether they themselves must park.
func (s *Scheduler) reschedule(core CoreID, yielding bool) *Thread {
	cs := &s.cores[core]
	if !cs.schedulingEnabled {
		return nil
	}

	current := cs.current
	next := s.pickNext(core)

	if current == nil && next == nil {
		return nil // core idle, nothing to do
	}
	now := s.now()

	keepCurrent := false
	if current != nil && current.state == StateRunning && current.suspendCount <= 0 {
		switch {
		case next == nil:
			keepCurrent = true
		case current.priority < next.priority:
			keepCurrent = true
		case !yielding && current.priority == next.priority:
			keepCurrent = true
		}
	}

	if keepCurrent {
		return nil
	}

	var switchedOut *Thread
	if current != nil {
		// Only a still-Running thread goes back to Ready; one that has gone
		// to sleep stays Waiting in its wait queue. A thread whose suspend
		// counter has gone positive (self-suspend via testThreadCancel, or a
		// concurrent Suspend()) must not land in any ready queue — every
		// queue member must have suspendCounter == 0.
		if current.state == StateRunning {
			if current.suspendCount <= 0 {
				for c := CoreID(0); c < NumCores; c++ {
					if current.affinity.allows(c) {
						s.cores[c].ready.insert(current)
					}
				}
			}
			current.state = StateReady
		}
		current.coreTimeConsumedNs.Add(now - cs.lastSwitch)
		current.core = core
		switchedOut = current
		cs.current = nil
	}

	if next != nil {
		for c := CoreID(0); c < NumCores; c++ {
			if next.affinity.allows(c) {
				s.cores[c].ready.remove(next)
			}
		}
		next.state = StateRunning
		next.core = core
		next.wakeCount++
		cs.current = next
		cs.lastSwitch = now
		next.signal()
	}

	return switchedOut
}

// rescheduleAll runs reschedule for every core, reporting whether self (the
// thread making this call, if any) was switched off its own core and must
// therefore park once the caller releases the scheduler lock.
func (s *Scheduler) rescheduleAll(self *Thread) (selfSwitchedOut bool) {
	for c := CoreID(0); c < NumCores; c++ {
		out := s.reschedule(c, false)
		if out != nil && out == self {
			selfSwitchedOut = true
		}
	}
	return selfSwitchedOut
}

// Yield implements OSYieldThread: reschedule(core, yielding=true) allows a
// same-priority thread to rotate in, unlike every other reschedule path.
func (s *Scheduler) Yield(self *Thread) {
	s.lock.acquire(schedulerLockID)
	out := s.reschedule(self.core, true)
	s.lock.release(schedulerLockID)
	if out == self {
		self.park()
	}
}

// sleepThread moves self from Running to Waiting, inserting it into q.
// Must be called with the scheduler lock held; the caller is responsible
// for calling reschedule and parking self afterwards.
func (s *Scheduler) sleepThread(self *Thread, q *waitQueue) {
	if self.state != StateRunning {
		fatal("sleepThread: caller not Running", self, ErrNilThread)
	}
	self.state = StateWaiting
	self.waitQueue = q
	q.insert(self)
}

// wakeupOne removes t from whatever wait queue holds it and makes it
// Ready, pushing it into every per-core ready queue its affinity allows.
// Must be called with the scheduler lock held.
func (s *Scheduler) wakeupOne(t *Thread) {
	if t.waitQueue != nil {
		t.waitQueue.remove(t)
		t.waitQueue = nil
	}
	t.state = StateReady
	for c := CoreID(0); c < NumCores; c++ {
		if t.affinity.allows(c) {
			s.cores[c].ready.insert(t)
		}
	}
}

// wakeupAll wakes every thread in q, head to tail.
func (s *Scheduler) wakeupAll(q *waitQueue) {
	for _, t := range q.drain() {
		t.waitQueue = nil
		t.state = StateReady
		for c := CoreID(0); c < NumCores; c++ {
			if t.affinity.allows(c) {
				s.cores[c].ready.insert(t)
			}
		}
	}
}

// Resume implements OSResumeThread: decrements suspendCount, and once it
// reaches 0, makes the thread Ready and triggers a reschedule pass so it
// can be picked up immediately if a core is free.
func (s *Scheduler) Resume(t *Thread) (priorCount int32) {
	s.lock.acquire(schedulerLockID)
	priorCount = t.suspendCount
	if t.suspendCount > 0 {
		t.suspendCount--
	}
	readyNow := t.suspendCount == 0 && t.state == StateNone
	if readyNow {
		t.state = StateReady
		for c := CoreID(0); c < NumCores; c++ {
			if t.affinity.allows(c) {
				s.cores[c].ready.insert(t)
			}
		}
	}
	s.rescheduleAll(nil)
	s.lock.release(schedulerLockID)
	return priorCount
}

// Suspend increments a thread's suspend counter; if it transitions from 0
// to positive while the thread is Ready/Running, the thread is pulled from
// ready queues (or, if Running, rescheduled away) without becoming
// Moribund.
func (s *Scheduler) Suspend(t *Thread) (priorCount int32) {
	s.lock.acquire(schedulerLockID)
	defer s.lock.release(schedulerLockID)
	priorCount = t.suspendCount
	t.suspendCount++
	if priorCount != 0 {
		return priorCount
	}
	switch t.state {
	case StateReady:
		for c := CoreID(0); c < NumCores; c++ {
			s.cores[c].ready.remove(t)
		}
	case StateRunning:
		core := t.core
		s.reschedule(core, false)
		if s.cores[core].current != t {
			// switched out above; park happens in caller via return value
		}
	}
	return priorCount
}

// SetThreadPriority changes a thread's base priority, re-splicing it into
// whichever queue currently holds it so the sort invariant
// holds, and triggers a reschedule pass since a priority drop/rise can
// change who should run.
func (s *Scheduler) SetThreadPriority(t *Thread, newPriority int32) (prior int32) {
	s.lock.acquire(schedulerLockID)
	defer s.lock.release(schedulerLockID)
	prior = t.basePriority
	t.basePriority = newPriority
	s.setActualPriority(t, s.computeEffectivePriority(t))
	s.rescheduleAll(nil)
	return prior
}

// computeEffectivePriority applies the spinlock-forces-zero rule and caps
// at basePriority.
func (s *Scheduler) computeEffectivePriority(t *Thread) int32 {
	if t.spinLockCount > 0 {
		return 0
	}
	if t.priority > t.basePriority {
		return t.basePriority
	}
	return t.priority
}

// setActualPriority assigns newPriority to t and relinks it in whichever
// single queue (wait or ready) currently holds it, preserving sort order.
// Must be called with the scheduler lock held.
func (s *Scheduler) setActualPriority(t *Thread, newPriority int32) {
	t.priority = newPriority
	if t.waitQueue != nil {
		t.waitQueue.relink(t)
		return
	}
	if t.state == StateReady {
		for c := CoreID(0); c < NumCores; c++ {
			if t.readyElem[c] != nil {
				s.cores[c].ready.relink(t)
			}
		}
	}
}

// promote implements priority inheritance: walk owner's
// blocking chain, raising priority to newPriority wherever it is currently
// lower (numerically higher). Must be called with the scheduler lock held.
func (s *Scheduler) promote(owner *Thread, newPriority int32) {
	for owner != nil && owner.priority > newPriority {
		s.setActualPriority(owner, newPriority)
		switch {
		case owner.waitingOnMutex != nil:
			owner = owner.waitingOnMutex.owner
		case owner.waitingOnFastMutex != nil:
			owner = owner.waitingOnFastMutex.owner.Load()
		default:
			owner = nil
		}
	}
}

// recomputeOwnerPriority restores a mutex/fast-mutex releaser's priority
// to min(basePriority, min head-priority of every primitive it still
// owns). Must be called with the scheduler lock held.
func (s *Scheduler) recomputeOwnerPriority(owner *Thread) {
	best := owner.basePriority
	for e := owner.mutexOwned.Front(); e != nil; e = e.Next() {
		m := e.Value.(*Mutex)
		if h := m.wait.front(); h != nil && h.priority < best {
			best = h.priority
		}
	}
	for e := owner.fastMutexOwned.Front(); e != nil; e = e.Next() {
		fm := e.Value.(*FastMutex)
		if h := fm.contended.front(); h != nil && h.priority < best {
			best = h.priority
		}
	}
	s.setActualPriority(owner, s.clampForSpinlock(owner, best))
}

func (s *Scheduler) clampForSpinlock(t *Thread, p int32) int32 {
	if t.spinLockCount > 0 {
		return 0
	}
	return p
}

// now reports the host-clock time used for scheduler accounting.
func (s *Scheduler) now() int64 { return s.clock.NowNanos() }

// PauseCoreTime freezes (pause=true) or resumes (pause=false) a core's
// elapsed-time accounting across a debugger pause.
func (s *Scheduler) PauseCoreTime(core CoreID, pause bool) {
	s.lock.acquire(schedulerLockID)
	defer s.lock.release(schedulerLockID)
	cs := &s.cores[core]
	now := s.now()
	if pause {
		cs.pausedAt = now
		return
	}
	if cs.pausedAt != 0 {
		cs.lastSwitch += now - cs.pausedAt
		cs.pausedAt = 0
	}
}

// CurrentThread returns the thread Running on core, or nil if idle.
func (s *Scheduler) CurrentThread(core CoreID) *Thread {
	s.lock.acquire(schedulerLockID)
	defer s.lock.release(schedulerLockID)
	return s.cores[core].current
}

const schedulerLockID uint64 = ^uint64(0) // distinct from any lockID(core)
