// Package coreinit wires the scheduler, alarm subsystem, memory heap
// registry, handle table, and guest address space into a single runtime
// object, the way an embedding PPC interpreter would construct one
// instance per emulated process.
package coreinit

import (
	"github.com/cafeos/coreinit/guestmem"
	"github.com/cafeos/coreinit/handle"
	"github.com/cafeos/coreinit/heap"
	"github.com/cafeos/coreinit/kernel"
	"github.com/cafeos/coreinit/klog"
)

// runtimeOptions holds the configuration a set of Options assembles
// before Runtime construction.
type runtimeOptions struct {
	clock     kernel.Clock
	log       *klog.Logger
	mem       *guestmem.Space
	memBase   guestmem.Addr
	memSize   uint32
	regionLow [3]guestmem.Addr
	regionHi  [3]guestmem.Addr
}

// Option configures a Runtime at construction time.
type Option interface {
	apply(*runtimeOptions) error
}

type optionFunc func(*runtimeOptions) error

func (f optionFunc) apply(o *runtimeOptions) error { return f(o) }

// WithClock overrides the Runtime's time source. Tests typically pass a
// *kernel.FakeClock for deterministic alarm firing.
func WithClock(c kernel.Clock) Option {
	return optionFunc(func(o *runtimeOptions) error {
		o.clock = c
		return nil
	})
}

// WithLogger sets the structured logger every subsystem reports through.
// The default is klog.Discard().
func WithLogger(log *klog.Logger) Option {
	return optionFunc(func(o *runtimeOptions) error {
		o.log = log
		return nil
	})
}

// WithGuestMemory attaches size bytes of guest address space starting at
// base, exposed as Runtime.Memory. Without it Memory stays nil; the heap
// registry and handle table do not depend on it.
func WithGuestMemory(base guestmem.Addr, size uint32) Option {
	return optionFunc(func(o *runtimeOptions) error {
		o.memBase = base
		o.memSize = size
		return nil
	})
}

// WithRegionBounds assigns the [low, high) guest-address range backing
// one of the three heap registry regions.
func WithRegionBounds(region heap.Region, low, high guestmem.Addr) Option {
	return optionFunc(func(o *runtimeOptions) error {
		o.regionLow[region] = low
		o.regionHi[region] = high
		return nil
	})
}

func resolveOptions(opts []Option) (*runtimeOptions, error) {
	cfg := &runtimeOptions{log: klog.Discard()}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Runtime is one emulated console process: its scheduler, alarm
// subsystem, heap registry, handle table, and guest address space.
type Runtime struct {
	Scheduler *kernel.Scheduler
	Alarms    *kernel.AlarmSubsystem
	Heaps     *heap.Registry
	Handles   *handle.Table
	Memory    *guestmem.Space

	log *klog.Logger
}

// New constructs a Runtime from the given Options.
func New(opts ...Option) (*Runtime, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	r := &Runtime{log: cfg.log}

	r.Scheduler = kernel.NewScheduler(cfg.log)
	if cfg.clock != nil {
		r.Scheduler.SetClock(cfg.clock)
	}
	r.Alarms = kernel.NewAlarmSubsystem(r.Scheduler)

	if cfg.memSize > 0 {
		r.Memory = guestmem.NewSpace(cfg.memBase, cfg.memSize)
	}

	r.Heaps = heap.NewRegistry()
	for region := heap.Region(0); region < 3; region++ {
		if cfg.regionHi[region] != guestmem.Null {
			heap.RegisterRegionBounds(region, cfg.regionLow[region], cfg.regionHi[region])
		}
	}

	r.Handles = handle.NewTable()

	return r, nil
}

// StartCoreDeallocators spawns the per-core deallocator and alarm
// callback threads every Runtime needs running before guest code can
// safely exit threads or wait on alarms.
func (r *Runtime) StartCoreDeallocators() {
	for c := kernel.CoreID(0); c < kernel.NumCores; c++ {
		t := r.Scheduler.CreateThread("deallocator", r.Scheduler.DeallocatorLoop, 0, guestmem.Null, 0, kernel.AffinityCore(c), guestmem.Null, guestmem.Null, r.Memory)
		r.Scheduler.Resume(t)

		cb := r.Scheduler.CreateThread("alarm-callback", r.Alarms.CallbackLoop, 0, guestmem.Null, 0, kernel.AffinityCore(c), guestmem.Null, guestmem.Null, r.Memory)
		r.Scheduler.Resume(cb)
	}
}
