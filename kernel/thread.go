package kernel

import (
	"container/list"
	"sync/atomic"

	"github.com/cafeos/coreinit/guestmem"
)

// ThreadID is a guest-visible 16-bit thread identifier.
type ThreadID uint16

// ThreadState is the coarse scheduling state of a Thread.
type ThreadState int8

const (
	StateNone ThreadState = iota
	StateReady
	StateRunning
	StateWaiting
	StateMoribund
)

func (s ThreadState) String() string {
	switch s {
	case StateNone:
		return "None"
	case StateReady:
		return "Ready"
	case StateRunning:
		return "Running"
	case StateWaiting:
		return "Waiting"
	case StateMoribund:
		return "Moribund"
	default:
		return "Unknown"
	}
}

// RequestFlag carries a pending cancel or suspend request.
type RequestFlag int8

const (
	ReqNone RequestFlag = iota
	ReqSuspend
	ReqCancel
)

// CancelState is a bitfield; only a fully-clear value enables cancellation.
type CancelState uint32

const (
	CancelEnabled                    CancelState = 0
	CancelDisabled                   CancelState = 1 << 0
	CancelDisabledByMutex            CancelState = 1 << 1
	CancelDisabledBySpinlock         CancelState = 1 << 2
	CancelDisabledByUserStackPointer CancelState = 1 << 3
)

// StackSentinel is written at the low end of a thread's stack to detect
// overflow.
const StackSentinel uint32 = 0xDEADBABE

// GuestFunc is the single dynamic-dispatch point used everywhere the
// original calls a guest function pointer through the CPU abstraction
// (thread entry points, alarm callbacks, deallocators, cleanup callbacks,
// exception handlers). The handle table's subtable callbacks and the heap
// Allocator facade use their own Go types instead. An
// interface with one concrete implementation buys nothing in Go, so that
// implementation is simply a function value supplied by whatever embeds
// this package (ultimately the PPC
// interpreter, out of scope here).
type GuestFunc func(t *Thread, argc int32, argv guestmem.Addr) int32

// ExceptionType enumerates the per-core exception callbacks a thread may
// install.
type ExceptionType int

const (
	ExceptionDSI ExceptionType = iota
	ExceptionISI
	ExceptionProgram
	ExceptionAlignment
	ExceptionPerformanceMonitor
	numExceptionTypes
)

// Thread is the guest-visible schedulable entity. The caller owns the
// storage; this package only owns the linkage (queue membership,
// run-queue links) expressed as plain Go pointers since we are not
// constrained to the
// guest's 32-bit virtual address space the way on-wire struct fields are.
type Thread struct {
	id   ThreadID
	name string

	basePriority int32
	priority     int32
	affinity     Affinity

	state         ThreadState
	suspendCount  int32
	needSuspend   int32
	requestFlag   RequestFlag
	cancelState   CancelState

	core CoreID // PIR: the core this thread is Running on, or last ran on

	stackHigh guestmem.Addr
	stackLow  guestmem.Addr
	mem       *guestmem.Space // optional; nil disables sentinel checking

	tls [16]uint32

	exceptionCallbacks [numExceptionTypes]GuestFunc

	mutexOwned     list.List // *Mutex this thread currently owns, via Mutex.ownedElem
	fastMutexOwned list.List // *FastMutex contended-by-others, owned by this thread

	waitingOnMutex     *Mutex
	waitingOnFastMutex *FastMutex
	waitingOnAlarm     *Alarm

	cleanupCallback     GuestFunc
	deallocatorCallback GuestFunc
	detached            bool
	exitValue           int32

	joinQueue    *waitQueue
	joiner       *Thread
	suspendQueue *waitQueue

	spinLockCount int32
	runQuantumNs  int64
	eventTimedOut bool

	coreTimeConsumedNs atomic.Int64
	wakeCount           int64

	waitQueue *waitQueue     // the single queue t currently sleeps in, if any
	waitElem  *list.Element  // t's element within that queue
	readyElem [NumCores]*list.Element

	activeElem *list.Element // element in Scheduler's global active list

	gate chan struct{} // buffered(1); signaled when dispatched Running

	entry GuestFunc
	argc  int32
	argv  guestmem.Addr
}

// newThread allocates the host-side bookkeeping for a guest thread. It does
// not make the thread schedulable — call Scheduler.CreateThread, which
// wraps this and wires up the stack sentinel and (for non-nil entry) the
// backing goroutine. CreateThread stores the affinity mask exactly as
// given; a zero mask is not replaced by any default.
func newThread(id ThreadID, name string) *Thread {
	t := &Thread{
		id:    id,
		name:  name,
		state: StateNone,
		gate:  make(chan struct{}, 1),
	}
	return t
}

// ID returns the thread's 16-bit identifier.
func (t *Thread) ID() ThreadID { return t.id }

// Name returns the thread's guest-assigned name.
func (t *Thread) Name() string { return t.name }

// State returns the thread's current scheduling state.
func (t *Thread) State() ThreadState { return t.state }

// Priority returns the thread's current effective priority.
func (t *Thread) Priority() int32 { return t.priority }

// BasePriority returns the thread's base priority (unaffected by
// inheritance/spinlocks).
func (t *Thread) BasePriority() int32 { return t.basePriority }

// Core returns the core the thread is pinned to / last ran on (PIR).
func (t *Thread) Core() CoreID { return t.core }

// Affinity returns the thread's core affinity mask.
func (t *Thread) Affinity() Affinity { return t.affinity }

// ExitValue returns the value passed to exitThread, valid once the thread
// is Moribund or has been deallocated.
func (t *Thread) ExitValue() int32 { return t.exitValue }

// SetSpecific stores a guest-visible thread-local value in slot [0,16).
func (t *Thread) SetSpecific(slot int, v uint32) {
	t.tls[slot] = v
}

// GetSpecific reads back a thread-local value.
func (t *Thread) GetSpecific(slot int) uint32 {
	return t.tls[slot]
}

// SetExceptionCallback installs cb as the handler for typ, returning the
// previously installed callback (possibly nil). Each of the 5 per-thread
// exception types (DSI, ISI, Program, Alignment, PerformanceMonitor) has
// its own independent slot.
func (t *Thread) SetExceptionCallback(typ ExceptionType, cb GuestFunc) GuestFunc {
	prev := t.exceptionCallbacks[typ]
	t.exceptionCallbacks[typ] = cb
	return prev
}

// ExceptionCallback returns the handler registered for typ.
func (t *Thread) ExceptionCallback(typ ExceptionType) GuestFunc {
	return t.exceptionCallbacks[typ]
}

// StackSentinelOK reports whether the thread's stack sentinel is intact.
// Returns true when no memory space is attached (sentinel checking is
// opt-in, since the PPC memory backing is out of scope for this package).
func (t *Thread) StackSentinelOK() bool {
	if t.mem == nil || t.stackLow == guestmem.Null {
		return true
	}
	return t.mem.ReadU32(t.stackLow) == StackSentinel
}

func (t *Thread) park() { <-t.gate }

func (t *Thread) signal() {
	select {
	case t.gate <- struct{}{}:
	default:
	}
}
