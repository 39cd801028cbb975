package kernel

import "github.com/cafeos/coreinit/guestmem"

const eventTag uint32 = 0x45564e54 // "EVNT"

// EventMode selects auto-reset vs manual-reset signal semantics.
type EventMode int8

const (
	AutoReset EventMode = iota
	ManualReset
)

// Event is a binary signal with a priority-sorted wait queue.
type Event struct {
	tag   uint32
	name  string
	value int8
	mode  EventMode
	wait  *waitQueue
}

// InitEvent implements OSInitEvent.
func InitEvent(ev *Event, name string, mode EventMode, initial int8) {
	ev.tag = eventTag
	ev.name = name
	ev.mode = mode
	ev.value = initial
	ev.wait = newWaitQueue(name)
}

func ensureEvent(ev *Event) {
	if ev.tag != eventTag {
		InitEvent(ev, ev.name, AutoReset, 0)
	}
}

// cancelTimeout cancels t's outstanding WaitEventWithTimeout alarm, if
// any, reporting whether t is still eligible to be woken by a signal
// (false means its timeout already fired first).
func (as *AlarmSubsystem) cancelTimeout(t *Thread) bool {
	if t.waitingOnAlarm == nil {
		return true
	}
	a := t.waitingOnAlarm
	t.waitingOnAlarm = nil
	return as.CancelAlarm(a)
}

// SignalEvent implements OSSignalEvent.
func (as *AlarmSubsystem) SignalEvent(self *Thread, ev *Event) {
	s := as.sched
	s.lock.acquire(schedulerLockID)
	ensureEvent(ev)

	if ev.mode == AutoReset {
		if ev.value == 0 {
			for _, t := range ev.wait.snapshot() {
				s.lock.release(schedulerLockID)
				eligible := as.cancelTimeout(t)
				s.lock.acquire(schedulerLockID)
				if eligible {
					s.wakeupOne(t)
					s.rescheduleAll(self)
					s.lock.release(schedulerLockID)
					return
				}
			}
			ev.value = 1
		}
		s.lock.release(schedulerLockID)
		return
	}

	// ManualReset
	if ev.value == 0 {
		ev.value = 1
		for _, t := range ev.wait.snapshot() {
			s.lock.release(schedulerLockID)
			eligible := as.cancelTimeout(t)
			s.lock.acquire(schedulerLockID)
			if eligible {
				s.wakeupOne(t)
			}
		}
		s.rescheduleAll(self)
	}
	s.lock.release(schedulerLockID)
}

// SignalEventAll implements OSSignalEventAll: wakes every cancellable
// waiter regardless of mode; only sets value=1 if no thread was woken.
func (as *AlarmSubsystem) SignalEventAll(self *Thread, ev *Event) {
	s := as.sched
	s.lock.acquire(schedulerLockID)
	ensureEvent(ev)

	woken := 0
	for _, t := range ev.wait.snapshot() {
		s.lock.release(schedulerLockID)
		eligible := as.cancelTimeout(t)
		s.lock.acquire(schedulerLockID)
		if eligible {
			s.wakeupOne(t)
			woken++
		}
	}
	if woken == 0 {
		ev.value = 1
	}
	s.rescheduleAll(self)
	s.lock.release(schedulerLockID)
}

// ResetEvent implements OSResetEvent.
func (as *AlarmSubsystem) ResetEvent(ev *Event) {
	as.sched.lock.acquire(schedulerLockID)
	ensureEvent(ev)
	ev.value = 0
	as.sched.lock.release(schedulerLockID)
}

// WaitEvent implements OSWaitEvent.
func (as *AlarmSubsystem) WaitEvent(self *Thread, ev *Event) {
	s := as.sched
	s.lock.acquire(schedulerLockID)
	ensureEvent(ev)

	if ev.value == 1 {
		if ev.mode == AutoReset {
			ev.value = 0
		}
		s.lock.release(schedulerLockID)
		return
	}

	s.sleepThread(self, ev.wait)
	out := s.rescheduleAll(self)
	s.lock.release(schedulerLockID)
	if out {
		self.park()
	}
}

// WaitEventWithTimeout implements OSWaitEventWithTimeout. Returns true if
// the event was signalled, false if the timeout elapsed first. Arms a
// one-shot system alarm whose callback wakes only this
// waiter; self.waitingOnAlarm is nil again by the time this returns
// either way.
func (as *AlarmSubsystem) WaitEventWithTimeout(self *Thread, ev *Event, deadlineTick int64) bool {
	s := as.sched
	s.lock.acquire(schedulerLockID)
	ensureEvent(ev)

	if ev.value == 1 {
		if ev.mode == AutoReset {
			ev.value = 0
		}
		s.lock.release(schedulerLockID)
		return true
	}

	self.eventTimedOut = false
	a := &Alarm{}
	a.callback = func(_ *Thread, _ int32, _ guestmem.Addr) int32 {
		s.lock.acquire(schedulerLockID)
		self.eventTimedOut = true
		self.waitingOnAlarm = nil
		s.wakeupOne(self)
		s.rescheduleAll(nil)
		s.lock.release(schedulerLockID)
		return 0
	}
	self.waitingOnAlarm = a
	s.sleepThread(self, ev.wait)
	s.lock.release(schedulerLockID)

	as.SetAlarm(self.core, a, deadlineTick, 0, a.callback, guestmem.Null, SystemAlarmGroup)

	s.lock.acquire(schedulerLockID)
	out := s.rescheduleAll(self)
	s.lock.release(schedulerLockID)
	if out {
		self.park()
	}

	timedOut := self.eventTimedOut
	s.lock.acquire(schedulerLockID)
	if !timedOut && ev.mode == AutoReset {
		ev.value = 0
	}
	s.lock.release(schedulerLockID)
	return !timedOut
}
