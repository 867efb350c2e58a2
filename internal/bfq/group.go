package bfq

import "errors"

// vtimeShift scales sectors before dividing by weight so that virtual
// time retains fractional precision under integer arithmetic, mirroring
// the fixed-point convention budget.go uses for peak-rate math.
const vtimeShift = 10

// errNoEligibleEntity is returned internally by nextLeaf when a group's
// hierarchy has no busy entity anywhere below it (busy_queues == 0).
var errNoEligibleEntity = errors.New("bfq: no eligible entity")

// group is a sched-group: an interior node of the B-WF2Q+ hierarchy. It
// holds per-class active/idle service trees and a virtual-time clock per
// class, and tracks how many descendants are currently backlogged so it
// can propagate its own activation/deactivation into its parent.
type group struct {
	entity
	name string

	active [numClasses]serviceTree
	idle   [numClasses]serviceTree
	vtime  [numClasses]uint64

	// busyCount is the number of backlogged descendants anywhere below
	// this group, across all classes. Its transitions 0->1 or 1->0 are
	// what trigger this group's own activation/deactivation in its
	// parent's trees.
	busyCount int
}

func newGroup(name string, weight uint32, class Class) *group {
	g := &group{name: name}
	g.entity.weight = weight
	g.entity.class = class
	return g
}

func (g *group) isLeaf() bool   { return false }
func (g *group) asGroup() *group { return g }
func (g *group) asQueue() *Queue { return nil }

// bestClass returns the highest-priority class (RT before BE before
// IDLE) whose active tree is non-empty.
func (g *group) bestClass() (Class, bool) {
	for c := ClassRT; int(c) < numClasses; c++ {
		if !g.active[c].empty() {
			return c, true
		}
	}
	return 0, false
}

// selection records one hop of the path the scheduler walked to reach
// the currently active leaf, so the dispatch controller can unwind it:
// each entity detaches from its service tree on selection and
// re-attaches on deselection.
type selection struct {
	n     node
	owner *group
	class Class
}

// nextLeaf descends from root, picking the highest-priority eligible
// entity at each level, until a leaf (*Queue) is reached. It returns the
// full path taken so the caller can later unwind it via finishPath.
func nextLeaf(root *group) ([]selection, *Queue, error) {
	var path []selection
	g := root
	for {
		c, ok := g.bestClass()
		if !ok {
			return nil, nil, errNoEligibleEntity
		}
		var e node
		for {
			e = g.active[c].firstEligible(g.vtime[c])
			if e != nil {
				break
			}
			minStart, ok := g.active[c].minStartOverall()
			if !ok {
				// The class emptied out from under us (shouldn't
				// normally happen between bestClass and here under the
				// single exclusive lock, but stay defensive).
				c2, ok2 := g.bestClass()
				if !ok2 {
					return nil, nil, errNoEligibleEntity
				}
				c = c2
				continue
			}
			g.vtime[c] = minStart
		}
		g.active[c].remove(e)
		e.ent().selected = true
		path = append(path, selection{n: e, owner: g, class: c})
		if e.isLeaf() {
			return path, e.asQueue(), nil
		}
		g = e.asGroup()
	}
}

// activateEntity implements the activation rule for a freshly backlogged
// entity n owned by owner at class class: assign its virtual start
// (carrying over virtual_finish if it has one), insert it into the
// active tree, and — if owner itself was idle — recursively activate
// owner in its own parent.
func activateEntity(n node, owner *group, class Class) {
	e := n.ent()
	e.class = class
	e.assignVirtualStart(owner.vtime[class])
	e.onST = true
	e.kind = treeActive
	owner.active[class].insert(n)

	wasBusy := owner.busyCount > 0
	owner.busyCount++
	if !wasBusy && owner.parent != nil {
		activateEntity(owner, owner.parent, owner.entity.class)
	}
}

// finishPath unwinds the path nextLeaf built, from leaf to root, after
// the leaf has finished its service slice. leafBacklogged tells whether
// the leaf queue still has pending requests; served is the (possibly
// boosted "effective") sector count to charge at every level — each
// ancestor's own weight determines how far its virtual time moves.
func finishPath(path []selection, leafBacklogged bool, served Sectors) {
	busy := leafBacklogged
	for i := len(path) - 1; i >= 0; i-- {
		sel := path[i]
		e := sel.n.ent()
		e.selected = false
		e.virtualFinish = e.virtualStart + e.finishDelta(served)

		if busy {
			e.onST = true
			e.kind = treeActive
			sel.owner.active[sel.class].insert(sel.n)
		} else {
			e.onST = false
			e.kind = treeIdle
			sel.owner.idle[sel.class].insert(sel.n)
			sel.owner.busyCount--
			busy = sel.owner.busyCount > 0
		}
	}
}

// GroupHandle is the external handle to a sched-group, letting callers
// outside this package build a cgroup-like hierarchy of weighted groups
// without exposing the unexported group type's internals.
type GroupHandle struct{ g *group }

func newGroupHandle(g *group) *GroupHandle { return &GroupHandle{g: g} }

// walkQueues recursively visits every *Queue linked into an active or
// idle service tree anywhere under g, used by forced dispatch to flush
// the whole hierarchy in one pass.
func walkQueues(g *group, fn func(q *Queue)) {
	visit := func(n node, _, _ uint64) bool {
		if q := n.asQueue(); q != nil {
			fn(q)
		} else {
			walkQueues(n.asGroup(), fn)
		}
		return true
	}
	for c := ClassRT; int(c) < numClasses; c++ {
		g.active[c].ascend(visit)
		g.idle[c].ascend(visit)
	}
}

// forgetIdle prunes idle-tree entries whose virtual_finish has been
// reached by the group's per-class vtime, and advances that vtime to
// the smallest active virtual_start when the active tree isn't empty and
// vtime lags behind it.
func (g *group) forgetIdle(class Class) {
	if minStart, ok := g.active[class].minStartOverall(); ok && g.vtime[class] < minStart {
		g.vtime[class] = minStart
	}
	idle := &g.idle[class]
	for {
		var stale node
		idle.ascend(func(n node, finish, start uint64) bool {
			if finish <= g.vtime[class] {
				stale = n
				return false
			}
			return true
		})
		if stale == nil {
			break
		}
		idle.remove(stale)
	}
}
