package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cafeos/coreinit/guestmem"
)

// runningThread spawns a real backing goroutine that blocks until release is
// closed before invoking body, then resumes it so the scheduler actually
// dispatches it to Running. Most blocking primitives (mutex, semaphore,
// event, cond, alarm wait) assert their caller is Running, so exercising
// them from a test requires a genuine goroutine-backed thread rather than
// the nil-entry "never runs" kind CreateThread otherwise returns.
func runningThread(t *testing.T, s *Scheduler, name string, priority int32, body func(self *Thread)) (th *Thread, release func(), wait func()) {
	t.Helper()
	gate := make(chan struct{})
	done := make(chan struct{})

	entry := func(self *Thread, argc int32, argv guestmem.Addr) int32 {
		<-gate
		body(self)
		close(done)
		return 0
	}

	th = s.CreateThread(name, entry, 0, guestmem.Null, priority, AffinityAny, guestmem.Null, guestmem.Null, nil)
	s.Resume(th)

	release = func() { close(gate) }
	wait = func() {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("runningThread %q body never completed", name)
		}
	}
	return th, release, wait
}

// runningThreadOnCore is runningThread pinned to a single core via affinity,
// for tests (Rendezvous, core-specific alarms) where self.core must match a
// specific value rather than whatever the scheduler happens to pick.
func runningThreadOnCore(t *testing.T, s *Scheduler, name string, priority int32, core CoreID, body func(self *Thread)) (th *Thread, release func(), wait func()) {
	t.Helper()
	gate := make(chan struct{})
	done := make(chan struct{})

	entry := func(self *Thread, argc int32, argv guestmem.Addr) int32 {
		<-gate
		body(self)
		close(done)
		return 0
	}

	th = s.CreateThread(name, entry, 0, guestmem.Null, priority, AffinityCore(core), guestmem.Null, guestmem.Null, nil)
	s.Resume(th)

	release = func() { close(gate) }
	wait = func() {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("runningThreadOnCore %q body never completed", name)
		}
	}
	return th, release, wait
}

// waitForState polls until th reaches want or the timeout elapses.
func waitForState(t *testing.T, th *Thread, want ThreadState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return th.State() == want
	}, 2*time.Second, time.Millisecond, "thread %q never reached state %v (stuck at %v)", th.Name(), want, th.State())
}
