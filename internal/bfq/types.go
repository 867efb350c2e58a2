package bfq

import "time"

// ProducerID identifies the process or process group issuing requests —
// a producer's I/O-context identity. The dispatch controller never
// interprets it beyond using it as a map key and a hash input.
type ProducerID uint64

// RequestID is assigned by the caller (the host block layer, which the
// core never talks to directly) and is opaque to the core.
type RequestID uint64

// Request is the unit of work flowing through the scheduler. Sector and
// Length are in device sectors. Within a queue, requests are served in
// elevator-proximity order, with at most one FIFO-expired request per
// slice served ahead of it; across queues, the entity scheduler decides
// which queue is served next.
type Request struct {
	ID       RequestID
	Producer ProducerID
	Sync     bool
	Metadata bool

	Sector Sectors
	Length Sectors

	// Class, PrioLevel and Weight apply only the first time a producer's
	// (producer, sync) queue is created; later requests from the same
	// producer reuse the existing queue's class/weight.
	Class     Class
	PrioLevel int
	Weight    uint32

	// Group places the queue in a sched-group other than the root, for
	// callers building a cgroup-like hierarchy. Nil means the root group.
	Group *GroupHandle

	enqueuedAt time.Time
	fifoExpire time.Time
}

// IOContext accumulates a producer's proximity and think-time
// statistics: EMAs of think time and seek distance, the last touched
// sector, and the timestamp of the last completion. One IOContext is
// shared by a producer's sync and async queues.
type IOContext struct {
	lastRequestPos Sectors
	lastEndRequest time.Time

	// ttime* are the think-time EMA in microseconds; seek* are the
	// seek-distance EMA in sectors. samples counts observations toward
	// the validity threshold each statistic needs before it is trusted.
	ttimeSamples uint32
	ttimeMean    int64
	seekSamples  uint32
	seekMean     int64
	seeky        bool
}

const (
	ttimeValiditySamples = 80
	seekValiditySamples  = 32
	seekThresholdSectors = Sectors(8 * 1024) // ~4MiB, beyond which a jump counts as a seek
)

// observe folds one think-time/seek-distance pair into the EMAs, using
// an exponential decay over the last few samples (weight 1/4 new, 3/4
// old).
func (c *IOContext) observe(thinkTime time.Duration, seekDistance Sectors) {
	tt := int64(thinkTime / time.Microsecond)
	if c.ttimeSamples == 0 {
		c.ttimeMean = tt
	} else {
		c.ttimeMean = (c.ttimeMean*3 + tt) / 4
	}
	c.ttimeSamples++

	sd := int64(seekDistance)
	if c.seekSamples == 0 {
		c.seekMean = sd
	} else {
		c.seekMean = (c.seekMean*3 + sd) / 4
	}
	c.seekSamples++
	if c.seekSamples >= seekValiditySamples {
		c.seeky = c.seekMean > int64(seekThresholdSectors)
	}
}

// thinkTimeValid reports whether enough samples have accumulated for
// ttimeMean to be trusted.
func (c *IOContext) thinkTimeValid() bool {
	return c.ttimeSamples > ttimeValiditySamples
}
