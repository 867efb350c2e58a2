package bfq

import "fmt"

// Class is a scheduling priority class. Lower numeric value is served
// first: ClassRT before ClassBE before ClassIdle.
type Class int

const (
	ClassRT Class = iota
	ClassBE
	ClassIdle

	numClasses = int(ClassIdle) + 1
)

func (c Class) String() string {
	switch c {
	case ClassRT:
		return "rt"
	case ClassBE:
		return "be"
	case ClassIdle:
		return "idle"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Sectors is a count of device sectors, the unit budgets and service are
// measured in.
type Sectors uint64

// treeKind identifies which of a class's two service trees, if any,
// currently holds an entity.
type treeKind int

const (
	treeNone treeKind = iota
	treeActive
	treeIdle
)

// entity is a node in the B-WF2Q+ scheduling hierarchy: either a leaf
// (*Queue) or an interior node (*group). Both embed entity and satisfy
// the same selection protocol, letting scheduling code walk the
// hierarchy without a type switch at every step.
type entity struct {
	class  Class
	weight uint32

	virtualStart  uint64
	virtualFinish uint64

	budget  Sectors
	service Sectors

	parent *group
	onST   bool // on_st: currently linked into a service tree
	kind   treeKind

	// linkFinish/linkStart/linkSeq snapshot the key this entity was last
	// inserted into a serviceTree under, so remove() can find it again
	// even though virtualStart/virtualFinish keep advancing once the
	// entity is detached for service.
	linkFinish uint64
	linkStart  uint64
	linkSeq    uint64

	// set when this entity is the active_entity of its parent, i.e. it
	// has been detached from the service tree to receive service.
	selected bool
}

// finishDelta returns budget/weight in the entity's virtual-time units.
// Virtual time advances in units of (sectors << vtimeShift)/weight so
// that integer division retains precision; see vtimeShift in group.go.
func (e *entity) finishDelta(served Sectors) uint64 {
	if e.weight == 0 {
		return 0
	}
	return (uint64(served) << vtimeShift) / uint64(e.weight)
}

// assignVirtualStart implements the finish-time-carries-over activation
// rule: on fresh activation, an entity's start time is bumped to at
// least the group's current virtual time for its class, so a queue that
// has been idle cannot buy backlog credit by having stayed quiet.
func (e *entity) assignVirtualStart(groupVTime uint64) {
	if !e.onST {
		if groupVTime > e.virtualFinish {
			e.virtualStart = groupVTime
		} else {
			e.virtualStart = e.virtualFinish
		}
	}
	e.virtualFinish = e.virtualStart + e.finishDelta(e.budget)
}

// node is implemented by *Queue (a leaf) and *group (an interior node).
// nextLeaf descends a chain of nodes until it reaches one for which
// isLeaf is true.
type node interface {
	ent() *entity
	isLeaf() bool
	// asGroup is only valid when isLeaf is false.
	asGroup() *group
	// asQueue is only valid when isLeaf is true.
	asQueue() *Queue
}

func (e *entity) ent() *entity { return e }
