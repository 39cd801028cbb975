package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cafeos/coreinit/guestmem"
)

// TestThreadCancelBoundaryReportsMustExitAndClearsFlag exercises
// testThreadCancel directly, the same boundary check LockMutex/UnlockMutex/
// spinlocks/fast mutexes all share, without going through a full guest
// entry goroutine (whose return value would otherwise race the cancel
// path's own ExitThread call for who gets to set the final exit value).
func TestThreadCancelBoundaryReportsMustExitAndClearsFlag(t *testing.T) {
	s := NewScheduler(nil)
	self := newTestThread(t, s, "self", 10)
	self.state = StateRunning

	self.requestFlag = ReqCancel
	s.lock.acquire(schedulerLockID)
	mustExit := s.testThreadCancel(self)
	s.lock.release(schedulerLockID)

	assert.True(t, mustExit)
	assert.Equal(t, ReqNone, self.requestFlag, "the request must be consumed, not left pending")
}

func TestThreadCancelBoundaryHonorsSuspendRequest(t *testing.T) {
	s := NewScheduler(nil)
	self := newTestThread(t, s, "self", 10)
	self.state = StateRunning
	self.suspendQueue = newWaitQueue("self.suspend")

	s.RequestSuspend(self, 3)
	s.lock.acquire(schedulerLockID)
	mustExit := s.testThreadCancel(self)
	s.lock.release(schedulerLockID)

	assert.False(t, mustExit)
	assert.Equal(t, int32(3), self.suspendCount)
	assert.Equal(t, ReqNone, self.requestFlag)
}

func TestThreadCancelBoundaryNoopWhenDisabled(t *testing.T) {
	s := NewScheduler(nil)
	self := newTestThread(t, s, "self", 10)
	self.state = StateRunning
	self.cancelState = CancelDisabled
	self.requestFlag = ReqCancel

	s.lock.acquire(schedulerLockID)
	mustExit := s.testThreadCancel(self)
	s.lock.release(schedulerLockID)

	assert.False(t, mustExit, "cancellation must stay pending while disabled")
	assert.Equal(t, ReqCancel, self.requestFlag)
}

func TestSetCancelStateReportsPriorValue(t *testing.T) {
	s := NewScheduler(nil)
	self := newTestThread(t, s, "self", 10)

	prior := s.SetCancelState(self, true)
	assert.Equal(t, CancelEnabled, prior)
	assert.Equal(t, CancelDisabled, self.cancelState)

	prior = s.SetCancelState(self, false)
	assert.Equal(t, CancelDisabled, prior)
	assert.Equal(t, CancelEnabled, self.cancelState)
}

func TestExitThreadRunsCleanupCallbackWithCancelDisabled(t *testing.T) {
	s := NewScheduler(nil)
	observedCancelState := CancelState(99)
	cleanupRan := make(chan struct{})

	entry := func(self *Thread, argc int32, argv guestmem.Addr) int32 {
		self.cleanupCallback = func(target *Thread, _ int32, _ guestmem.Addr) int32 {
			observedCancelState = target.cancelState
			close(cleanupRan)
			return 0
		}
		return 3
	}
	worker := s.CreateThread("cleans-up", entry, 0, guestmem.Null, 10, AffinityAny, guestmem.Null, guestmem.Null, nil)
	s.Resume(worker)

	select {
	case <-cleanupRan:
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup callback never ran")
	}
	assert.Equal(t, CancelDisabled, observedCancelState, "cleanup runs with cancellation masked")

	require.Eventually(t, func() bool {
		return worker.State() == StateMoribund
	}, time.Second, time.Millisecond)
	assert.Equal(t, int32(3), worker.ExitValue())
}

func TestJoinThreadRejectsSecondJoiner(t *testing.T) {
	s := NewScheduler(nil)
	blockExit := make(chan struct{})
	entry := func(self *Thread, argc int32, argv guestmem.Addr) int32 {
		<-blockExit
		return 0
	}
	worker := s.CreateThread("joinable", entry, 0, guestmem.Null, 10, AffinityAny, guestmem.Null, guestmem.Null, nil)
	s.Resume(worker)

	joinerA, releaseA, waitA := runningThread(t, s, "joinerA", 10, func(self *Thread) {
		s.JoinThread(self, worker)
	})
	releaseA()
	waitForState(t, joinerA, StateWaiting)

	_, releaseB, waitB := runningThread(t, s, "joinerB", 10, func(self *Thread) {
		defer func() {
			r := recover()
			require.NotNil(t, r)
			fe, ok := r.(*FatalError)
			require.True(t, ok)
			assert.ErrorIs(t, fe, ErrAlreadyJoined)
		}()
		s.JoinThread(self, worker)
	})
	releaseB()
	waitB()

	close(blockExit)
	waitA()
}

func TestJoinThreadOnNoneThreadReportsNotOK(t *testing.T) {
	s := NewScheduler(nil)
	th := newTestThread(t, s, "never-runs", 10)
	self := newTestThread(t, s, "joiner", 10)

	_, ok := s.JoinThread(self, th)
	assert.False(t, ok)
}

func TestDeallocatorLoopRunsCallbackOffExitingStack(t *testing.T) {
	s := NewScheduler(nil)
	dealloc := s.CreateThread("dealloc", s.DeallocatorLoop, 0, guestmem.Null, 0, AffinityCore(0), guestmem.Null, guestmem.Null, nil)
	s.Resume(dealloc)

	called := make(chan *Thread, 1)
	entry := func(self *Thread, argc int32, argv guestmem.Addr) int32 {
		self.deallocatorCallback = func(target *Thread, _ int32, _ guestmem.Addr) int32 {
			called <- target
			return 0
		}
		return 0
	}
	worker := s.CreateThread("exits-fast", entry, 0, guestmem.Null, 10, AffinityCore(0), guestmem.Null, guestmem.Null, nil)
	s.DetachThread(worker)
	s.Resume(worker)

	select {
	case target := <-called:
		assert.Same(t, worker, target)
	case <-time.After(2 * time.Second):
		t.Fatal("deallocator callback never ran")
	}
}
