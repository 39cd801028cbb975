package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cafeos/coreinit/guestmem"
)

// newTestThread creates a thread with a nil entry point: it never spawns a
// backing goroutine, so it is safe to use as the calling "self" when
// exercising primitives synchronously from the test goroutine.
func newTestThread(t *testing.T, s *Scheduler, name string, priority int32) *Thread {
	t.Helper()
	th := s.CreateThread(name, nil, 0, guestmem.Null, priority, AffinityAny, guestmem.Null, guestmem.Null, nil)
	require.Equal(t, StateNone, th.State())
	return th
}

func TestCreateThread_NilEntryStaysNone(t *testing.T) {
	s := NewScheduler(nil)
	th := newTestThread(t, s, "idle", 16)
	assert.Equal(t, StateNone, th.State())
	assert.Equal(t, int32(16), th.Priority())
	assert.Equal(t, int32(16), th.BasePriority())
}

func TestResumeDispatchesNilEntryThreadToIdleCore(t *testing.T) {
	s := NewScheduler(nil)
	th := newTestThread(t, s, "worker", 10)

	prior := s.Resume(th)
	assert.Equal(t, int32(0), prior)
	assert.Equal(t, StateRunning, th.State())
}

func TestSuspendIncrementsCounterWithoutMovingNoneThread(t *testing.T) {
	s := NewScheduler(nil)
	th := newTestThread(t, s, "worker", 10)

	prior := s.Suspend(th)
	assert.Equal(t, int32(0), prior)
	assert.Equal(t, StateNone, th.State())

	// Resume must now drop the count to 0 before the thread becomes ready;
	// with every core idle it is then dispatched straight to Running.
	s.Resume(th)
	assert.Equal(t, StateRunning, th.State())
}

func TestSetThreadPriorityUpdatesBaseAndEffective(t *testing.T) {
	s := NewScheduler(nil)
	th := newTestThread(t, s, "worker", 20)
	s.Resume(th)

	prior := s.SetThreadPriority(th, 5)
	assert.Equal(t, int32(20), prior)
	assert.Equal(t, int32(5), th.Priority())
	assert.Equal(t, int32(5), th.BasePriority())
}

// TestRealThreadRunsToCompletion spawns an actual backing goroutine (a
// non-nil entry point) and drives it through the scheduler to verify
// ExitThread/JoinThread end to end. JoinThread is called only after the
// worker has already gone Moribund, so its blocking loop never has to run
// and "self" need not itself be a Running thread.
func TestRealThreadRunsToCompletion(t *testing.T) {
	s := NewScheduler(nil)

	entry := func(self *Thread, argc int32, argv guestmem.Addr) int32 {
		return 42
	}

	worker := s.CreateThread("worker", entry, 0, guestmem.Null, 10, AffinityCore(MainCore), guestmem.Null, guestmem.Null, nil)
	s.Resume(worker)

	require.Eventually(t, func() bool {
		return worker.State() == StateMoribund
	}, 2*time.Second, time.Millisecond)

	self := newTestThread(t, s, "caller", 10)
	exitValue, ok := s.JoinThread(self, worker)
	require.True(t, ok)
	assert.Equal(t, int32(42), exitValue)
}

func TestDetachThreadDeactivatesOnceMoribund(t *testing.T) {
	s := NewScheduler(nil)
	ran := make(chan struct{})
	blockExit := make(chan struct{})

	entry := func(self *Thread, argc int32, argv guestmem.Addr) int32 {
		close(ran)
		<-blockExit
		return 7
	}

	worker := s.CreateThread("worker", entry, 0, guestmem.Null, 10, AffinityCore(MainCore), guestmem.Null, guestmem.Null, nil)
	s.Resume(worker)

	<-ran
	close(blockExit)

	// give the exiting goroutine a moment to reach ExitThread
	require.Eventually(t, func() bool {
		return worker.State() == StateMoribund
	}, time.Second, time.Millisecond)

	s.DetachThread(worker)
	assert.Equal(t, StateNone, worker.State())
}
