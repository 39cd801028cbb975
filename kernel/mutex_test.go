package kernel

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockMutexIsLazilyInitialized(t *testing.T) {
	s := NewScheduler(nil)
	var m Mutex

	th, release, wait := runningThread(t, s, "locker", 10, func(self *Thread) {
		s.LockMutex(self, &m)
		s.UnlockMutex(self, &m)
	})
	release()
	wait()
	assert.Equal(t, mutexTag, m.tag)
	_ = th
}

func TestLockMutexIsRecursive(t *testing.T) {
	s := NewScheduler(nil)
	var m Mutex
	InitMutex(&m, "recursive")

	_, release, wait := runningThread(t, s, "owner", 10, func(self *Thread) {
		s.LockMutex(self, &m)
		s.LockMutex(self, &m)
		assert.Equal(t, int32(2), m.count)
		s.UnlockMutex(self, &m)
		assert.Equal(t, int32(1), m.count)
		assert.Same(t, self, m.owner)
		s.UnlockMutex(self, &m)
		assert.Nil(t, m.owner)
	})
	release()
	wait()
}

func TestTryLockMutexFailsWhenHeldByAnother(t *testing.T) {
	s := NewScheduler(nil)
	var m Mutex
	InitMutex(&m, "contended")

	holderLocked := make(chan struct{})
	releaseHolder := make(chan struct{})

	_, releaseA, waitA := runningThread(t, s, "holder", 10, func(self *Thread) {
		s.LockMutex(self, &m)
		close(holderLocked)
		<-releaseHolder
		s.UnlockMutex(self, &m)
	})
	releaseA()
	<-holderLocked

	_, releaseB, waitB := runningThread(t, s, "other", 10, func(self *Thread) {
		ok := s.TryLockMutex(self, &m)
		assert.False(t, ok)
	})
	releaseB()
	waitB()

	close(releaseHolder)
	waitA()
}

// TestMutexPriorityInheritancePromotesOwner exercises priority
// inheritance: a low-priority owner should be promoted to a blocked
// higher-priority (numerically lower) waiter's level while the waiter is
// queued.
func TestMutexPriorityInheritancePromotesOwner(t *testing.T) {
	s := NewScheduler(nil)
	var m Mutex
	InitMutex(&m, "pi")

	ownerAcquired := make(chan struct{})
	waiterBlocked := make(chan struct{})
	releaseOwner := make(chan struct{})
	var mu sync.Mutex
	var promotedPriority int32 = -1

	owner, releaseO, waitO := runningThread(t, s, "low-priority-owner", 30, func(self *Thread) {
		s.LockMutex(self, &m)
		close(ownerAcquired)
		<-waiterBlocked
		mu.Lock()
		promotedPriority = self.Priority()
		mu.Unlock()
		<-releaseOwner
		s.UnlockMutex(self, &m)
	})
	releaseO()
	<-ownerAcquired

	waiter, releaseW, waitW := runningThread(t, s, "high-priority-waiter", 1, func(self *Thread) {
		s.LockMutex(self, &m)
		s.UnlockMutex(self, &m)
	})
	releaseW()

	waitForState(t, waiter, StateWaiting)
	_ = owner
	close(waiterBlocked)

	close(releaseOwner)
	waitO()
	waitW()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int32(1), promotedPriority, "owner should inherit waiter's higher priority")
}

func TestUnlockMutexByNonOwnerIsFatal(t *testing.T) {
	s := NewScheduler(nil)
	var m Mutex
	InitMutex(&m, "guarded")

	_, release, wait := runningThread(t, s, "owner", 10, func(self *Thread) {
		s.LockMutex(self, &m)
	})
	release()
	wait()

	intruder, releaseI, waitI := runningThread(t, s, "intruder", 10, func(self *Thread) {
		defer func() {
			r := recover()
			require.NotNil(t, r)
			fe, ok := r.(*FatalError)
			require.True(t, ok)
			assert.ErrorIs(t, fe, ErrNotOwner)
		}()
		s.UnlockMutex(self, &m)
	})
	releaseI()
	waitI()
	_ = intruder
}
