package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutoResetEventWaitClearsValue(t *testing.T) {
	s := NewScheduler(nil)
	as := NewAlarmSubsystem(s)
	var ev Event
	InitEvent(&ev, "auto", AutoReset, 0)

	as.SignalEvent(nil, &ev)
	assert.Equal(t, int8(1), ev.value)

	waiter, release, wait := runningThread(t, s, "waiter", 10, func(self *Thread) {
		as.WaitEvent(self, &ev)
	})
	release()
	wait()
	assert.Equal(t, int8(0), ev.value, "auto-reset event should clear on a successful wait")
	_ = waiter
}

func TestManualResetEventStaysSignaledUntilReset(t *testing.T) {
	s := NewScheduler(nil)
	as := NewAlarmSubsystem(s)
	var ev Event
	InitEvent(&ev, "manual", ManualReset, 0)

	as.SignalEvent(nil, &ev)

	w1, r1, wait1 := runningThread(t, s, "w1", 10, func(self *Thread) {
		as.WaitEvent(self, &ev)
	})
	r1()
	wait1()

	w2, r2, wait2 := runningThread(t, s, "w2", 10, func(self *Thread) {
		as.WaitEvent(self, &ev)
	})
	r2()
	wait2()

	assert.Equal(t, int8(1), ev.value)
	as.ResetEvent(&ev)
	assert.Equal(t, int8(0), ev.value)
	_, _ = w1, w2
}

func TestWaitEventWithTimeoutSignaledBeforeDeadline(t *testing.T) {
	s := NewScheduler(nil)
	clock := NewFakeClock(0)
	s.SetClock(clock)
	as := NewAlarmSubsystem(s)
	var ev Event
	InitEvent(&ev, "timed", AutoReset, 0)

	waiter, release, wait := runningThread(t, s, "waiter", 10, func(self *Thread) {
		signaled := as.WaitEventWithTimeout(self, &ev, clock.NowNanos()+int64(time.Second))
		assert.True(t, signaled)
	})
	release()
	waitForState(t, waiter, StateWaiting)

	signaler, releaseSig, waitSig := runningThread(t, s, "signaler", 10, func(self *Thread) {
		as.SignalEvent(self, &ev)
	})
	releaseSig()
	waitSig()
	wait()
	_ = signaler
}

func TestWaitEventWithTimeoutExpiresWithoutSignal(t *testing.T) {
	s := NewScheduler(nil)
	clock := NewFakeClock(0)
	s.SetClock(clock)
	as := NewAlarmSubsystem(s)
	var ev Event
	InitEvent(&ev, "timed", AutoReset, 0)

	deadline := clock.NowNanos() + 1000
	waiter, release, wait := runningThread(t, s, "waiter", 10, func(self *Thread) {
		signaled := as.WaitEventWithTimeout(self, &ev, deadline)
		assert.False(t, signaled)
	})
	release()
	waitForState(t, waiter, StateWaiting)

	clock.Set(deadline + 1)
	as.CheckAlarms(waiter.Core(), clock.NowNanos(), 0)
	wait()
}

func TestSignalEventAllWakesEveryWaiter(t *testing.T) {
	s := NewScheduler(nil)
	as := NewAlarmSubsystem(s)
	var ev Event
	InitEvent(&ev, "broadcast", AutoReset, 0)

	w1, r1, wait1 := runningThread(t, s, "w1", 10, func(self *Thread) {
		as.WaitEvent(self, &ev)
	})
	w2, r2, wait2 := runningThread(t, s, "w2", 10, func(self *Thread) {
		as.WaitEvent(self, &ev)
	})
	r1()
	r2()
	waitForState(t, w1, StateWaiting)
	waitForState(t, w2, StateWaiting)

	_, releaseSig, waitSig := runningThread(t, s, "signaler", 10, func(self *Thread) {
		as.SignalEventAll(self, &ev)
	})
	releaseSig()
	waitSig()
	wait1()
	wait2()
	require.Equal(t, int8(0), ev.value, "every waiter was woken, so value should not remain set")
}
