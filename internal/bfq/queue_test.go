package bfq

import (
	"testing"
	"time"
)

func TestQueueInsertAndRemoveRequest(t *testing.T) {
	q := newQueue(1, true, ClassBE, 0, 100, &IOContext{})
	now := fixedNow()
	rq := &Request{ID: 1, Sector: 500}
	q.insertRequest(rq, now, time.Second)

	if q.queued() != 1 {
		t.Fatalf("queued() = %d, want 1", q.queued())
	}
	if got := q.first(); got != rq {
		t.Fatalf("first() = %+v, want rq", got)
	}
	if rq.fifoExpire.Sub(now) != time.Second {
		t.Fatalf("fifoExpire not set from the given expiry duration")
	}

	q.removeRequest(rq)
	if q.queued() != 0 {
		t.Fatalf("queued() after remove = %d, want 0", q.queued())
	}
	if _, ok := q.byID[rq.ID]; ok {
		t.Fatal("byID still has the removed request")
	}
}

func TestQueueNextRQClearedOnRemove(t *testing.T) {
	q := newQueue(1, true, ClassBE, 0, 100, &IOContext{})
	rq := &Request{ID: 1, Sector: 500}
	q.insertRequest(rq, fixedNow(), time.Second)
	q.nextRQ = rq

	q.removeRequest(rq)
	if q.nextRQ != nil {
		t.Fatal("nextRQ should be cleared when the request it points to is removed")
	}
}

func TestQueueFifoHeadExpired(t *testing.T) {
	q := newQueue(1, true, ClassBE, 0, 100, &IOContext{})
	now := fixedNow()
	rq := &Request{ID: 1, Sector: 10}
	q.insertRequest(rq, now, time.Millisecond)

	if got := q.fifoHeadExpired(now); got != nil {
		t.Fatal("fifoHeadExpired should be nil before the deadline")
	}
	later := now.Add(time.Hour)
	if got := q.fifoHeadExpired(later); got != rq {
		t.Fatal("fifoHeadExpired should return the head request once its deadline passes")
	}

	q.fifoConsumedSlice = true
	if got := q.fifoHeadExpired(later); got != nil {
		t.Fatal("fifoHeadExpired should return nil once a FIFO expiry was already consumed this slice")
	}
}

func TestQueueFormerLatterNeighbors(t *testing.T) {
	q := newQueue(1, true, ClassBE, 0, 100, &IOContext{})
	now := fixedNow()
	a := &Request{ID: 1, Sector: 10}
	b := &Request{ID: 2, Sector: 20}
	c := &Request{ID: 3, Sector: 30}
	q.insertRequest(a, now, time.Second)
	q.insertRequest(b, now, time.Second)
	q.insertRequest(c, now, time.Second)

	if got := q.former(b); got != a {
		t.Fatalf("former(b) = %+v, want a", got)
	}
	if got := q.latter(b); got != c {
		t.Fatalf("latter(b) = %+v, want c", got)
	}
	if got := q.former(a); got != nil {
		t.Fatal("former(a) should be nil, a is the smallest sector")
	}
	if got := q.latter(c); got != nil {
		t.Fatal("latter(c) should be nil, c is the largest sector")
	}
}

func TestQueueNeighborsOf(t *testing.T) {
	q := newQueue(1, true, ClassBE, 0, 100, &IOContext{})
	now := fixedNow()
	a := &Request{ID: 1, Sector: 10}
	c := &Request{ID: 2, Sector: 30}
	q.insertRequest(a, now, time.Second)
	q.insertRequest(c, now, time.Second)

	floor, ceil := q.neighborsOf(20)
	if floor != a || ceil != c {
		t.Fatalf("neighborsOf(20) = (%+v, %+v), want (a, c)", floor, ceil)
	}

	floor, ceil = q.neighborsOf(10)
	if floor != a || ceil != a {
		t.Fatalf("neighborsOf(10) exact match = (%+v, %+v), want (a, a)", floor, ceil)
	}
}

func TestQueueEffectiveWeightRaised(t *testing.T) {
	q := newQueue(1, true, ClassBE, 0, 100, &IOContext{})
	now := fixedNow()
	q.raisedWeightUntil = now.Add(weightRaiseWindow)

	if got := q.effectiveWeight(now); got != 200 {
		t.Fatalf("effectiveWeight during raise window = %d, want 200", got)
	}
	after := now.Add(weightRaiseWindow * 2)
	if got := q.effectiveWeight(after); got != 100 {
		t.Fatalf("effectiveWeight after raise window = %d, want 100 (configured)", got)
	}
}

func TestQueueEffectiveWeightCapped(t *testing.T) {
	q := newQueue(1, true, ClassBE, 0, 1<<20, &IOContext{})
	now := fixedNow()
	q.raisedWeightUntil = now.Add(weightRaiseWindow)

	if got := q.effectiveWeight(now); got != 1<<20 {
		t.Fatalf("effectiveWeight should clamp at 1<<20, got %d", got)
	}
}
