package bfq

import "math/rand"

// serviceTree is an augmented balanced tree: entities are ordered by
// virtual finish time (ties broken by virtual start, then insertion
// sequence), and every subtree carries the minimum virtual start time
// among its members so firstEligible can reject whole subtrees in
// O(log n) instead of scanning.
//
// It is implemented as a treap rather than a red-black tree: random
// priorities give expected-balanced structure with a much simpler,
// recursive insert/delete that is easy to keep augmented correctly on
// every rotation.
type serviceTree struct {
	root *treeNode
	seq  uint64
}

type treeNode struct {
	n node

	// cached sort key, snapshotted at insert time so the tree stays
	// consistent even though the underlying entity's fields keep
	// advancing while NOT linked into a tree.
	finish uint64
	start  uint64
	seq    uint64

	priority uint32
	left     *treeNode
	right    *treeNode

	minStart uint64
}

func less(aFinish, aStart, aSeq, bFinish, bStart, bSeq uint64) bool {
	if aFinish != bFinish {
		return aFinish < bFinish
	}
	if aStart != bStart {
		return aStart < bStart
	}
	return aSeq < bSeq
}

func (t *treeNode) fix() {
	m := t.start
	if t.left != nil && t.left.minStart < m {
		m = t.left.minStart
	}
	if t.right != nil && t.right.minStart < m {
		m = t.right.minStart
	}
	t.minStart = m
}

func rotateRight(t *treeNode) *treeNode {
	l := t.left
	t.left = l.right
	l.right = t
	t.fix()
	l.fix()
	return l
}

func rotateLeft(t *treeNode) *treeNode {
	r := t.right
	t.right = r.left
	r.left = t
	t.fix()
	r.fix()
	return r
}

func treapInsert(t *treeNode, nn *treeNode) *treeNode {
	if t == nil {
		return nn
	}
	if less(nn.finish, nn.start, nn.seq, t.finish, t.start, t.seq) {
		t.left = treapInsert(t.left, nn)
		if t.left.priority > t.priority {
			t = rotateRight(t)
		} else {
			t.fix()
		}
	} else {
		t.right = treapInsert(t.right, nn)
		if t.right.priority > t.priority {
			t = rotateLeft(t)
		} else {
			t.fix()
		}
	}
	return t
}

func treapMerge(l, r *treeNode) *treeNode {
	if l == nil {
		return r
	}
	if r == nil {
		return l
	}
	if l.priority > r.priority {
		l.right = treapMerge(l.right, r)
		l.fix()
		return l
	}
	r.left = treapMerge(r.left, l)
	r.fix()
	return r
}

func treapDelete(t *treeNode, finish, start, seq uint64) *treeNode {
	if t == nil {
		return nil
	}
	switch {
	case less(finish, start, seq, t.finish, t.start, t.seq):
		t.left = treapDelete(t.left, finish, start, seq)
		t.fix()
		return t
	case less(t.finish, t.start, t.seq, finish, start, seq):
		t.right = treapDelete(t.right, finish, start, seq)
		t.fix()
		return t
	default:
		return treapMerge(t.left, t.right)
	}
}

// insert places e's node into the tree keyed by its current
// virtual-finish/virtual-start.
func (st *serviceTree) insert(n node) {
	e := n.ent()
	st.seq++
	e.linkFinish, e.linkStart, e.linkSeq = e.virtualFinish, e.virtualStart, st.seq
	tn := &treeNode{
		n:        n,
		finish:   e.linkFinish,
		start:    e.linkStart,
		seq:      e.linkSeq,
		priority: rand.Uint32(),
		minStart: e.linkStart,
	}
	st.root = treapInsert(st.root, tn)
}

// remove deletes e's node, keyed by the (finish, start, seq) it was
// inserted under. Entities do not mutate their virtual-time stamps while
// linked into a tree (only while being actively served, during which
// they are detached — see group.go), so the lookup key stays valid.
func (st *serviceTree) remove(n node) {
	e := n.ent()
	st.root = treapDelete(st.root, e.linkFinish, e.linkStart, e.linkSeq)
}

// firstEligible returns the leftmost entity (by finish time, i.e. the
// best candidate) whose virtual start is <= vtime. A subtree whose
// minStart exceeds vtime cannot contain an eligible node and is skipped
// entirely, giving O(log n) expected behavior.
func (st *serviceTree) firstEligible(vtime uint64) node {
	var best *treeNode
	var walk func(t *treeNode)
	walk = func(t *treeNode) {
		if t == nil || t.minStart > vtime || best != nil {
			return
		}
		// Prefer smaller virtual_finish: an in-order (by finish) walk
		// that stops at the first eligible node satisfies this,
		// because the tree is ordered primarily by finish.
		walk(t.left)
		if best != nil {
			return
		}
		if t.start <= vtime {
			best = t
			return
		}
		walk(t.right)
	}
	walk(st.root)
	if best == nil {
		return nil
	}
	return best.n
}

// minStartOverall returns the smallest virtual_start present in the
// tree, used by nextLeaf in group.go to advance the group's vtime when no
// entity is eligible yet, and by forgetIdle.
func (st *serviceTree) minStartOverall() (uint64, bool) {
	if st.root == nil {
		return 0, false
	}
	return st.root.minStart, true
}

func (st *serviceTree) empty() bool { return st.root == nil }

// ascend calls fn for every node in ascending finish order; used by
// forgetIdle and forced dispatch to enumerate all entities.
func (st *serviceTree) ascend(fn func(n node, finish, start uint64) bool) {
	var walk func(t *treeNode) bool
	walk = func(t *treeNode) bool {
		if t == nil {
			return true
		}
		if !walk(t.left) {
			return false
		}
		if !fn(t.n, t.finish, t.start) {
			return false
		}
		return walk(t.right)
	}
	walk(st.root)
}
