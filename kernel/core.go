package kernel

// CoreID identifies one of the emulated PowerPC cores. Core 1 is the
// "main core" guest code typically runs its primary application thread on.
type CoreID int32

// NumCores is the number of emulated in-order cores. The console this
// kernel emulates three; nothing in this package assumes exactly three
// beyond the affinity bitmask width, but the rest of the default-thread
// wiring is written in terms of this constant.
const NumCores = 3

const MainCore CoreID = 1

func (c CoreID) valid() bool { return c >= 0 && int(c) < NumCores }

// Affinity is a bitmask over cores; bit i set means the thread may run on
// core i.
type Affinity uint8

// AffinityAny allows a thread to run on any core.
const AffinityAny Affinity = (1 << NumCores) - 1

// AffinityCore returns the single-core affinity mask for c.
func AffinityCore(c CoreID) Affinity { return 1 << uint(c) }

func (a Affinity) allows(c CoreID) bool { return a&AffinityCore(c) != 0 }

// coreState tracks per-core scheduler bookkeeping: the current thread, its
// ready queue, and interrupt/pause accounting.
type coreState struct {
	ready             *readyQueue
	current           *Thread
	lastSwitch        int64 // ns, per Scheduler.clock
	pausedAt          int64 // ns; 0 when not paused
	schedulingEnabled bool
	interruptsEnabled bool
}

// DisableInterrupts masks interrupts on core and returns the prior mask
// state, for OSDisableInterrupts/OSRestoreInterrupts.
func (s *Scheduler) DisableInterrupts(core CoreID) bool {
	s.lock.acquire(lockID(core))
	defer s.lock.release(lockID(core))
	cs := &s.cores[core]
	prev := cs.interruptsEnabled
	cs.interruptsEnabled = false
	return prev
}

// RestoreInterrupts restores a previously saved interrupt mask.
func (s *Scheduler) RestoreInterrupts(core CoreID, prev bool) {
	s.lock.acquire(lockID(core))
	defer s.lock.release(lockID(core))
	s.cores[core].interruptsEnabled = prev
}

// EnableInterrupts unconditionally unmasks interrupts on core, returning
// the prior state.
func (s *Scheduler) EnableInterrupts(core CoreID) bool {
	return s.DisableInterruptsSet(core, true)
}

// DisableInterruptsSet is an internal helper shared by EnableInterrupts and
// tests that need to force a specific mask.
func (s *Scheduler) DisableInterruptsSet(core CoreID, enabled bool) bool {
	s.lock.acquire(lockID(core))
	defer s.lock.release(lockID(core))
	cs := &s.cores[core]
	prev := cs.interruptsEnabled
	cs.interruptsEnabled = enabled
	return prev
}

func lockID(core CoreID) uint64 { return uint64(core) + 1 }
