// Package kernel implements the guest-kernel emulation core: the
// scheduler, thread lifecycle, synchronization primitives, and alarm
// subsystem that stand in for the coreinit RTOS a PowerPC guest binary
// expects. It does not execute guest machine code itself — the PPC
// interpreter/JIT calls into this package to invoke a guest function
// pointer in a given core's register context and to switch contexts; this
// package only owns the bookkeeping of which guest thread is allowed to
// make progress where.
//
// Guest threads are represented as goroutines gated by a per-thread
// channel: a thread that is not Running on some core is parked on that
// channel, and the scheduler signals it the moment checkRunning dispatches
// it. This is the Go-native replacement for the original's manual
// coroutine (fiber) register-save/restore, which this package leaves to
// the guest CPU interpreter as mechanical plumbing outside its scope.
package kernel
