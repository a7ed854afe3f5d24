package sync

import (
	"sync/atomic"

	"github.com/songziming/wheel-sub001/kernel"
	"github.com/songziming/wheel-sub001/kernel/cpu"
	"github.com/songziming/wheel-sub001/kernel/kfmt"
)

var (
	errRecursiveAcquire = &kernel.Error{Module: "sync", Message: "spinlock re-acquired by the CPU that holds it"}
	errNotOwner         = &kernel.Error{Module: "sync", Message: "spinlock released by a CPU that does not hold it"}
)

// IRQSpinlock is a Spinlock that masks interrupts on the local CPU for as long
// as it is held. It records the holding CPU so that an attempt to re-acquire
// it from the same CPU is reported instead of deadlocking.
type IRQSpinlock struct {
	lock Spinlock

	// owner is the index of the holding CPU plus one, or 0 when free.
	owner int32
}

// IRQGuard represents a held IRQSpinlock. Release must be called exactly once,
// typically through defer.
type IRQGuard struct {
	l          *IRQSpinlock
	lc         cpu.Local
	wasEnabled bool
}

// Acquire disables interrupts on lc and spins until the lock is held.
func (l *IRQSpinlock) Acquire(lc cpu.Local) IRQGuard {
	wasEnabled := lc.DisableInterrupts()
	me := int32(lc.Index() + 1)
	if atomic.LoadInt32(&l.owner) == me {
		kfmt.Panic(errRecursiveAcquire)
	}

	l.lock.acquire(lc.Relax)
	atomic.StoreInt32(&l.owner, me)
	return IRQGuard{l: l, lc: lc, wasEnabled: wasEnabled}
}

// TryToAcquire attempts to acquire the lock without spinning. On failure the
// interrupt state of lc is left untouched.
func (l *IRQSpinlock) TryToAcquire(lc cpu.Local) (IRQGuard, bool) {
	wasEnabled := lc.DisableInterrupts()
	if !l.lock.TryToAcquire() {
		lc.RestoreInterrupts(wasEnabled)
		return IRQGuard{}, false
	}

	atomic.StoreInt32(&l.owner, int32(lc.Index()+1))
	return IRQGuard{l: l, lc: lc, wasEnabled: wasEnabled}, true
}

// HeldBy returns true if the lock is held by the given CPU.
func (l *IRQSpinlock) HeldBy(lc cpu.Local) bool {
	return atomic.LoadInt32(&l.owner) == int32(lc.Index()+1)
}

// Release unlocks the guarded spinlock and restores the interrupt state that
// was in effect when it was acquired.
func (g IRQGuard) Release() {
	if atomic.LoadInt32(&g.l.owner) != int32(g.lc.Index()+1) {
		kfmt.Panic(errNotOwner)
	}

	atomic.StoreInt32(&g.l.owner, 0)
	g.l.lock.Release()
	g.lc.RestoreInterrupts(g.wasEnabled)
}

// InterruptsWereEnabled reports whether interrupts were enabled on the
// holding CPU when the lock was acquired. It is false when the lock was taken
// with interrupts masked, for instance while another IRQSpinlock was held.
func (g IRQGuard) InterruptsWereEnabled() bool {
	return g.wasEnabled
}

// Local returns the CPU that holds the guard.
func (g IRQGuard) Local() cpu.Local {
	return g.lc
}
