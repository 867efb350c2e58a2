package bfq

import "time"

// Tunables holds the engine's runtime-configurable parameters, one field
// per wire/config tunable. cmd/bfqd reads its toml file into its own
// Config struct and converts that into a Tunables value.
//
// Time-valued tunables are authored in config as milliseconds and
// converted to time.Duration once at load time; the hot path never
// reconverts.
type Tunables struct {
	Quantum int // max in-flight requests per slice for a sync, non-idle-class queue; enforced only while more than one queue is busy

	FifoExpireSync  time.Duration
	FifoExpireAsync time.Duration

	BackSeekMax     Sectors
	BackSeekPenalty uint32

	SliceIdle time.Duration

	MaxBudget         Sectors // 0 triggers peak-rate autotune
	MaxBudgetAsyncRQ  Sectors

	TimeoutSync  time.Duration
	TimeoutAsync time.Duration

	Desktop bool

	// StrictGuarantees, supplementing the upstream tunable set: when set,
	// a queue may never dispatch a request that would push service past
	// its granted budget, even by one request of slack.
	StrictGuarantees bool
}

// Defaults mirror the conventional values: quantum 4, sync FIFO 250ms,
// async FIFO 125ms, back_seek_max 16MiB at 2x penalty, slice_idle ~8ms,
// max_budget_async_rq 4, timeout_sync 125ms, timeout_async 250ms.
func Defaults() Tunables {
	return Tunables{
		Quantum:          4,
		FifoExpireSync:   250 * time.Millisecond,
		FifoExpireAsync:  125 * time.Millisecond,
		BackSeekMax:      16 * 1024 * 2, // 16MiB in 512-byte sectors
		BackSeekPenalty:  2,
		SliceIdle:        8 * time.Millisecond,
		MaxBudget:        0,
		MaxBudgetAsyncRQ: 4,
		TimeoutSync:      125 * time.Millisecond,
		TimeoutAsync:     250 * time.Millisecond,
		Desktop:          false,
		StrictGuarantees: false,
	}
}

// minTT is the ceiling slice_idle is clamped to for validated seeky
// producers.
const minTT = 2 * time.Millisecond

// clamp bounds values to the documented ranges rather than rejecting
// out-of-range configuration; the caller logs whenever a value it
// supplied differs from the clamped result.
func (t *Tunables) clamp() (changed []string) {
	if t.Quantum < 1 {
		t.Quantum = 1
		changed = append(changed, "quantum")
	}
	if t.Quantum > 32 {
		t.Quantum = 32
		changed = append(changed, "quantum")
	}
	if t.FifoExpireSync <= 0 {
		t.FifoExpireSync = 250 * time.Millisecond
		changed = append(changed, "fifo_expire_sync")
	}
	if t.FifoExpireAsync <= 0 {
		t.FifoExpireAsync = 125 * time.Millisecond
		changed = append(changed, "fifo_expire_async")
	}
	if t.BackSeekPenalty < 1 {
		t.BackSeekPenalty = 1
		changed = append(changed, "back_seek_penalty")
	}
	if t.SliceIdle < 0 {
		t.SliceIdle = 0
		changed = append(changed, "slice_idle")
	}
	if t.MaxBudgetAsyncRQ < 1 {
		t.MaxBudgetAsyncRQ = 1
		changed = append(changed, "max_budget_async_rq")
	}
	if t.TimeoutSync <= 0 {
		t.TimeoutSync = 125 * time.Millisecond
		changed = append(changed, "timeout_sync")
	}
	if t.TimeoutAsync <= 0 {
		t.TimeoutAsync = 250 * time.Millisecond
		changed = append(changed, "timeout_async")
	}
	return changed
}

// autotune reports whether the global max budget should be derived from
// the peak-rate estimate rather than taken from config.
func (t *Tunables) autotune() bool { return t.MaxBudget == 0 }

// Clamp bounds t's fields to documented ranges and reports which ones
// changed, for callers (cmd/bfqd's tune command) that want to preview
// the clamping NewEngine applies (and logs) when it is constructed.
func (t *Tunables) Clamp() (changed []string) { return t.clamp() }
