package bfq

import (
	"testing"
	"time"
)

func TestTunablesClampReportsChangedFields(t *testing.T) {
	tun := Tunables{
		Quantum:          0,
		FifoExpireSync:   0,
		FifoExpireAsync:  0,
		BackSeekPenalty:  0,
		SliceIdle:        -time.Second,
		MaxBudgetAsyncRQ: 0,
		TimeoutSync:      0,
		TimeoutAsync:     0,
	}
	changed := tun.clamp()

	if tun.Quantum != 1 {
		t.Errorf("Quantum clamped to %d, want 1", tun.Quantum)
	}
	if tun.FifoExpireSync != 250*time.Millisecond {
		t.Errorf("FifoExpireSync clamped to %v, want 250ms", tun.FifoExpireSync)
	}
	if tun.BackSeekPenalty != 1 {
		t.Errorf("BackSeekPenalty clamped to %d, want 1", tun.BackSeekPenalty)
	}
	if tun.SliceIdle != 0 {
		t.Errorf("SliceIdle clamped to %v, want 0", tun.SliceIdle)
	}
	if len(changed) == 0 {
		t.Error("clamp() should report the fields it changed")
	}
}

func TestTunablesClampLeavesValidValuesAlone(t *testing.T) {
	tun := Defaults()
	changed := tun.clamp()
	if len(changed) != 0 {
		t.Errorf("clamp() on Defaults() changed %v, want none", changed)
	}
}

func TestTunablesClampQuantumUpperBound(t *testing.T) {
	tun := Defaults()
	tun.Quantum = 1000
	tun.clamp()
	if tun.Quantum != 32 {
		t.Errorf("Quantum clamped to %d, want 32", tun.Quantum)
	}
}

func TestTunablesAutotune(t *testing.T) {
	tun := Defaults()
	if !tun.autotune() {
		t.Error("autotune() should be true when MaxBudget is 0")
	}
	tun.MaxBudget = 4096
	if tun.autotune() {
		t.Error("autotune() should be false once MaxBudget is pinned")
	}
}
