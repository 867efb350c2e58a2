package bfq

// closer implements the elevator proximity rule: given candidates r1 and
// r2 and the device head position lastPosition, reports whether r1
// should be preferred over r2 as the next request to serve.
func closer(r1, r2 *Request, lastPosition Sectors, backSeekMax Sectors, backSeekPenalty uint32) bool {
	if r1.Sync != r2.Sync {
		return r1.Sync
	}
	if r1.Metadata != r2.Metadata {
		return r1.Metadata
	}

	d1, w1 := seekCost(r1.Sector, lastPosition, backSeekMax, backSeekPenalty)
	d2, w2 := seekCost(r2.Sector, lastPosition, backSeekMax, backSeekPenalty)

	switch {
	case !w1 && !w2:
		if d1 != d2 {
			return d1 < d2
		}
		return r1.Sector > r2.Sector
	case w1 != w2:
		return !w1
	default: // both wrapped
		return r1.Sector < r2.Sector
	}
}

// seekCost returns the penalized distance from lastPosition to sector,
// and whether the request is "wrapped" (a backward seek beyond
// backSeekMax, so no penalty window applies and it is scored purely by
// sector for tie-breaking).
func seekCost(sector, lastPosition, backSeekMax Sectors, backSeekPenalty uint32) (distance Sectors, wrapped bool) {
	if sector >= lastPosition {
		return sector - lastPosition, false
	}
	back := lastPosition - sector
	if back > backSeekMax {
		return back, true
	}
	return back * Sectors(backSeekPenalty), false
}

// pickNextRQ finds the best candidate under the proximity rule. A pending
// metadata request wins outright regardless of where it sits in sort
// order, so the queue's metadata requests are checked first; otherwise
// the winner is always one of the sort-tree neighbors of lastPosition,
// and only the floor and ceiling candidates need comparing.
func pickNextRQ(q *Queue, lastPosition Sectors, backSeekMax Sectors, backSeekPenalty uint32) *Request {
	if meta := q.nearestMetadata(lastPosition, backSeekMax, backSeekPenalty); meta != nil {
		return meta
	}
	floor, ceil := q.neighborsOf(lastPosition)
	switch {
	case floor == nil && ceil == nil:
		return nil
	case floor == nil:
		return ceil
	case ceil == nil:
		// Every pending request lies behind the head. If even the
		// nearest one is wrapped, all are, and the lowest sector wins.
		if _, wrapped := seekCost(floor.Sector, lastPosition, backSeekMax, backSeekPenalty); wrapped {
			return q.first()
		}
		return floor
	case closer(floor, ceil, lastPosition, backSeekMax, backSeekPenalty):
		return floor
	default:
		return ceil
	}
}
