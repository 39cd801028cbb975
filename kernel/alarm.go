package kernel

import (
	"container/heap"

	"github.com/cafeos/coreinit/guestmem"
)

// alarmLockID identifies the dedicated alarm id-lock, kept
// separate from the scheduler lock so alarm bookkeeping (Set/Cancel) never
// has to fight scheduler contention just to read the armed queue.
const alarmLockID uint64 = 0x414c524d // "ALRM"

// SystemAlarmGroup is the reserved group tag for "system-internal alarm;
// call inline from interrupt".
const SystemAlarmGroup uint32 = 0xFFFFFFFF

// AlarmState is an Alarm's lifecycle stage.
type AlarmState int8

const (
	AlarmIdle AlarmState = iota
	AlarmSet
	AlarmExpired
	AlarmInvalid
)

// Alarm is a one-shot or periodic guest timer.
type Alarm struct {
	tag uint32

	nextFire int64 // absolute tick
	period   int64 // 0 = one-shot
	callback GuestFunc
	userData guestmem.Addr
	group    uint32
	state    AlarmState

	threadQueue *waitQueue // WaitAlarm sleepers
	context     guestmem.Addr

	core     CoreID
	heapIdx  int // container/heap bookkeeping
	inHeap   bool
	canceled bool
}

const alarmTag uint32 = 0x414c4d32 // "ALM2"

func ensureAlarm(a *Alarm) {
	if a.tag != alarmTag {
		a.tag = alarmTag
		a.state = AlarmIdle
		a.threadQueue = newWaitQueue("alarm")
	}
}

// alarmHeap orders an Alarm min-heap by next-fire tick, the armed queue's
// backing store. Grounded on
// eventloop's timerHeap, the same container/heap-over-a-slice shape.
type alarmHeap []*Alarm

func (h alarmHeap) Len() int            { return len(h) }
func (h alarmHeap) Less(i, j int) bool  { return h[i].nextFire < h[j].nextFire }
func (h alarmHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].heapIdx = i; h[j].heapIdx = j }
func (h *alarmHeap) Push(x interface{}) {
	a := x.(*Alarm)
	a.heapIdx = len(*h)
	*h = append(*h, a)
}
func (h *alarmHeap) Pop() interface{} {
	old := *h
	n := len(old)
	a := old[n-1]
	old[n-1] = nil
	a.heapIdx = -1
	*h = old[:n-1]
	return a
}

type alarmCore struct {
	armed       alarmHeap
	callbackQ   []*Alarm
	callbackWQ  *waitQueue
	callbackThr *Thread
}

// AlarmSubsystem owns the per-core armed/callback queues. It is driven by
// CheckAlarms, which stands in for the host timer hardware abstraction
// delivering an alarm interrupt: whatever embeds this package calls
// CheckAlarms(now) whenever its own timer wheel says a core's next-alarm
// deadline passed.
type AlarmSubsystem struct {
	lock  idLock
	cores [NumCores]alarmCore
	sched *Scheduler
}

// NewAlarmSubsystem wires an AlarmSubsystem to the scheduler it wakes
// threads through.
func NewAlarmSubsystem(sched *Scheduler) *AlarmSubsystem {
	as := &AlarmSubsystem{sched: sched}
	for c := range as.cores {
		as.cores[c].callbackWQ = newWaitQueue("alarm-callback")
	}
	return as
}

// SetAlarm implements OSSetAlarm / OSSetPeriodicAlarm.
func (as *AlarmSubsystem) SetAlarm(core CoreID, a *Alarm, nextFire, period int64, cb GuestFunc, userData guestmem.Addr, group uint32) {
	as.lock.acquire(alarmLockID)
	defer as.lock.release(alarmLockID)
	ensureAlarm(a)

	if a.inHeap {
		heap.Remove(&as.cores[a.core].armed, a.heapIdx)
		a.inHeap = false
	}

	a.nextFire = nextFire
	a.period = period
	a.callback = cb
	a.userData = userData
	a.group = group
	a.state = AlarmSet
	a.core = core
	a.canceled = false

	heap.Push(&as.cores[core].armed, a)
	a.inHeap = true
}

// CheckAlarms walks core's armed queue for every alarm whose nextFire has
// passed as of now, firing each. It is the
// substitute for a hardware alarm interrupt: the embedder's timer
// abstraction calls this once per core whenever it believes that core's
// next deadline has elapsed.
func (as *AlarmSubsystem) CheckAlarms(core CoreID, now int64, interruptedContext guestmem.Addr) {
	for {
		as.lock.acquire(alarmLockID)
		c := &as.cores[core]
		if len(c.armed) == 0 || c.armed[0].nextFire > now {
			as.lock.release(alarmLockID)
			return
		}
		a := heap.Pop(&c.armed).(*Alarm)
		a.inHeap = false
		a.context = interruptedContext

		if a.group == SystemAlarmGroup {
			cb := a.callback
			as.lock.release(alarmLockID)
			if cb != nil {
				prevInterrupts := as.sched.DisableInterrupts(core)
				cb(nil, 0, a.userData)
				as.sched.RestoreInterrupts(core, prevInterrupts)
			}
		} else {
			a.state = AlarmExpired
			c.callbackQ = append(c.callbackQ, a)
			as.sched.lock.acquire(schedulerLockID)
			as.sched.wakeupAll(c.callbackWQ)
			as.sched.rescheduleAll(nil)
			as.sched.lock.release(schedulerLockID)
			as.lock.release(alarmLockID)
		}

		as.sched.lock.acquire(schedulerLockID)
		as.sched.wakeupAll(a.threadQueue)
		as.sched.rescheduleAll(nil)
		as.sched.lock.release(schedulerLockID)
	}
}

// CallbackLoop is the GuestFunc entry point for a core's dedicated
// alarm-callback thread.
func (as *AlarmSubsystem) CallbackLoop(self *Thread, argc int32, argv guestmem.Addr) int32 {
	core := self.core
	for {
		as.lock.acquire(alarmLockID)
		c := &as.cores[core]
		if len(c.callbackQ) == 0 {
			as.lock.release(alarmLockID)
			as.sched.lock.acquire(schedulerLockID)
			as.sched.sleepThread(self, c.callbackWQ)
			out := as.sched.rescheduleAll(self)
			as.sched.lock.release(schedulerLockID)
			if out {
				self.park()
			}
			continue
		}

		a := c.callbackQ[0]
		c.callbackQ = c.callbackQ[1:]

		if a.period > 0 && !a.canceled {
			a.nextFire += a.period
			a.state = AlarmSet
			heap.Push(&c.armed, a)
			a.inHeap = true
		}

		cb := a.callback
		userData := a.userData
		ctx := a.context
		as.lock.release(alarmLockID)

		if cb != nil {
			cb(self, int32(ctx), userData)
		}
	}
}

// CancelAlarm implements OSCancelAlarm. Returns false if a was not armed.
func (as *AlarmSubsystem) CancelAlarm(a *Alarm) bool {
	as.lock.acquire(alarmLockID)
	ensureAlarm(a)
	if a.state != AlarmSet {
		as.lock.release(alarmLockID)
		return false
	}
	if a.inHeap {
		heap.Remove(&as.cores[a.core].armed, a.heapIdx)
		a.inHeap = false
	}
	a.state = AlarmIdle
	a.nextFire = 0
	a.period = 0
	a.canceled = true
	as.lock.release(alarmLockID)

	as.sched.lock.acquire(schedulerLockID)
	for _, t := range a.threadQueue.drain() {
		t.state = StateReady
		for core := CoreID(0); core < NumCores; core++ {
			if t.affinity.allows(core) {
				as.sched.cores[core].ready.insert(t)
			}
		}
	}
	as.sched.rescheduleAll(nil)
	as.sched.lock.release(schedulerLockID)
	return true
}

// CancelAlarms implements OSCancelAlarms(group): cancels every armed alarm
// across all cores whose group tag matches.
func (as *AlarmSubsystem) CancelAlarms(group uint32) {
	as.lock.acquire(alarmLockID)
	var matched []*Alarm
	for c := range as.cores {
		armed := as.cores[c].armed
		for i := 0; i < len(armed); {
			if armed[i].group == group {
				a := heap.Remove(&as.cores[c].armed, i).(*Alarm)
				a.inHeap = false
				a.state = AlarmIdle
				a.nextFire = 0
				a.period = 0
				a.canceled = true
				matched = append(matched, a)
				armed = as.cores[c].armed
				continue
			}
			i++
		}
	}
	as.lock.release(alarmLockID)

	if len(matched) == 0 {
		return
	}
	as.sched.lock.acquire(schedulerLockID)
	for _, a := range matched {
		for _, t := range a.threadQueue.drain() {
			t.state = StateReady
			for core := CoreID(0); core < NumCores; core++ {
				if t.affinity.allows(core) {
					as.sched.cores[core].ready.insert(t)
				}
			}
		}
	}
	as.sched.rescheduleAll(nil)
	as.sched.lock.release(schedulerLockID)
}

// WaitAlarm implements OSWaitAlarm: sleeps on a's thread queue, returning
// true if the alarm fired and false if it was cancelled first.
func (as *AlarmSubsystem) WaitAlarm(self *Thread, a *Alarm) bool {
	as.sched.lock.acquire(schedulerLockID)
	ensureAlarm(a)
	self.waitingOnAlarm = a
	as.sched.sleepThread(self, a.threadQueue)
	out := as.sched.rescheduleAll(self)
	as.sched.lock.release(schedulerLockID)
	if out {
		self.park()
	}
	self.waitingOnAlarm = nil
	return !a.canceled
}
