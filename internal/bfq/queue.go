package bfq

import (
	"container/list"
	"time"

	"github.com/google/btree"
)

const sortTreeDegree = 8

// sortItem is the google/btree.Item wrapping a pending Request in a
// Queue's sort tree, keyed by sector so the elevator proximity rule can
// find the nearest pending request to the device head in O(log n).
type sortItem struct {
	sector Sectors
	seq    uint64
	rq     *Request
}

func (a sortItem) Less(than btree.Item) bool {
	b := than.(sortItem)
	if a.sector != b.sector {
		return a.sector < b.sector
	}
	return a.seq < b.seq
}

// Queue is a producer-queue: a leaf entity of the scheduling hierarchy.
// It wraps one producer's pending requests (for one sync/async
// direction) in both a FIFO and a sort-by-sector tree, and carries the
// budget/statistics state the dispatch controller and budget engine
// consult.
type Queue struct {
	entity

	producer ProducerID
	sync     bool
	prioLevel int

	ioctx *IOContext

	sortTree *btree.BTree
	seq      uint64

	fifo    *list.List // of *Request, insertion order
	byID    map[RequestID]*list.Element
	nextRQ  *Request

	maxBudget      Sectors
	timeoutAt      time.Time
	lastSliceStart time.Time
	assignments    int // number of times max_budget has been fed back

	dispatched int

	// status flags consulted by the dispatch controller and budget engine.
	busy              bool
	idleWindow        bool
	budgetNew         bool
	waitRequest       bool // idle-slice timer currently armed for this queue
	fifoConsumedSlice bool // a FIFO-expired request already served this slice

	// raisedWeightUntil and injectionBoost implement a bounded
	// weight-raising window for validated-interactive queues, and a
	// one-shot activation boost for freshly created queues.
	configuredWeight  uint32
	raisedWeightUntil time.Time
	injectionBoost    bool
}

func newQueue(producer ProducerID, sync bool, class Class, prioLevel int, weight uint32, ioctx *IOContext) *Queue {
	q := &Queue{
		producer:       producer,
		sync:           sync,
		prioLevel:      prioLevel,
		ioctx:          ioctx,
		sortTree:       btree.New(sortTreeDegree),
		fifo:           list.New(),
		byID:           make(map[RequestID]*list.Element),
		injectionBoost: true,
	}
	q.entity.class = class
	q.entity.weight = weight
	q.configuredWeight = weight
	return q
}

func (q *Queue) isLeaf() bool    { return true }
func (q *Queue) asGroup() *group { return nil }
func (q *Queue) asQueue() *Queue { return q }

const (
	weightRaiseWindow       = 500 * time.Millisecond
	interactiveThinkTime    = 4 * time.Millisecond
)

// effectiveWeight returns the queue's weight, boosted while a
// weight-raising window is active.
func (q *Queue) effectiveWeight(now time.Time) uint32 {
	if now.Before(q.raisedWeightUntil) {
		boosted := uint64(q.configuredWeight) * 2
		if boosted > 1<<20 {
			boosted = 1 << 20
		}
		return uint32(boosted)
	}
	return q.configuredWeight
}

// queued reports the number of pending requests in this queue.
func (q *Queue) queued() int { return q.sortTree.Len() }

// insertRequest adds rq to both the sort tree and the FIFO tail, with a
// deadline fifoExpire sets from now.
func (q *Queue) insertRequest(rq *Request, now time.Time, fifoExpire time.Duration) {
	q.seq++
	q.sortTree.ReplaceOrInsert(sortItem{sector: rq.Sector, seq: q.seq, rq: rq})
	rq.enqueuedAt = now
	rq.fifoExpire = now.Add(fifoExpire)
	el := q.fifo.PushBack(rq)
	q.byID[rq.ID] = el
}

// removeRequest detaches rq from both the sort tree and the FIFO.
func (q *Queue) removeRequest(rq *Request) {
	q.sortTree.Delete(sortItem{sector: rq.Sector, seq: rqSeqOf(q, rq)})
	if el, ok := q.byID[rq.ID]; ok {
		q.fifo.Remove(el)
		delete(q.byID, rq.ID)
	}
	if q.nextRQ == rq {
		q.nextRQ = nil
	}
}

// rqSeqOf recovers the seq a request was inserted under by scanning the
// sort tree; the tree is small in practice (one producer's outstanding
// requests) so a linear probe here is cheap and avoids a second index.
func rqSeqOf(q *Queue, rq *Request) uint64 {
	var seq uint64
	q.sortTree.Ascend(func(i btree.Item) bool {
		si := i.(sortItem)
		if si.rq == rq {
			seq = si.seq
			return false
		}
		return true
	})
	return seq
}

// fifoHeadExpired returns the oldest pending request if its FIFO
// deadline has passed and this slice hasn't already served a
// FIFO-expired request — at most one per slice.
func (q *Queue) fifoHeadExpired(now time.Time) *Request {
	if q.fifoConsumedSlice {
		return nil
	}
	front := q.fifo.Front()
	if front == nil {
		return nil
	}
	rq := front.Value.(*Request)
	if now.After(rq.fifoExpire) {
		return rq
	}
	return nil
}

// first returns the lowest-sector pending request, used by forced
// dispatch to drain a queue in sector order and by pickNextRQ when every
// pending request is a wrapped backward seek.
func (q *Queue) first() *Request {
	item := q.sortTree.Min()
	if item == nil {
		return nil
	}
	return item.(sortItem).rq
}

// former/latter return the sort-tree neighbors of rq by sector. The
// elevator proximity rule does not use them; it finds its candidates
// through neighborsOf.
func (q *Queue) former(rq *Request) *Request {
	var prev *Request
	q.sortTree.AscendLessThan(sortItem{sector: rq.Sector, seq: rqSeqOf(q, rq)}, func(i btree.Item) bool {
		prev = i.(sortItem).rq
		return true
	})
	return prev
}

// neighborsOf returns the pending request with the largest sector <=
// pos (floor) and the one with the smallest sector >= pos (ceiling),
// used by the elevator proximity rule to find the two candidates
// actually worth comparing.
func (q *Queue) neighborsOf(pos Sectors) (floor, ceil *Request) {
	q.sortTree.AscendGreaterOrEqual(sortItem{sector: pos}, func(i btree.Item) bool {
		ceil = i.(sortItem).rq
		return false
	})
	q.sortTree.DescendLessOrEqual(sortItem{sector: pos, seq: ^uint64(0)}, func(i btree.Item) bool {
		floor = i.(sortItem).rq
		return false
	})
	return floor, ceil
}

// nearestMetadata scans every pending request for metadata-flagged ones
// and returns the closest to lastPosition by the same seek-cost rule
// closer() uses for ordinary candidates, or nil if none are pending.
// Metadata requests are rare enough in practice that a full scan here is
// cheap; unlike sector-distance candidates they are not necessarily
// adjacent to lastPosition in sort order, so they can't be found via
// neighborsOf alone.
func (q *Queue) nearestMetadata(lastPosition Sectors, backSeekMax Sectors, backSeekPenalty uint32) *Request {
	var best *Request
	q.sortTree.Ascend(func(i btree.Item) bool {
		rq := i.(sortItem).rq
		if !rq.Metadata {
			return true
		}
		if best == nil || closer(rq, best, lastPosition, backSeekMax, backSeekPenalty) {
			best = rq
		}
		return true
	})
	return best
}

func (q *Queue) latter(rq *Request) *Request {
	var next *Request
	found := false
	q.sortTree.AscendGreaterOrEqual(sortItem{sector: rq.Sector, seq: rqSeqOf(q, rq)}, func(i btree.Item) bool {
		si := i.(sortItem)
		if !found {
			found = true
			return true // skip rq itself
		}
		next = si.rq
		return false
	})
	return next
}
