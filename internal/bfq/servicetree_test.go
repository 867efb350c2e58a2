package bfq

import "testing"

// fakeLeaf is a minimal node implementation used to exercise serviceTree
// without pulling in Queue/group construction.
type fakeLeaf struct{ entity }

func (f *fakeLeaf) isLeaf() bool    { return true }
func (f *fakeLeaf) asGroup() *group { return nil }
func (f *fakeLeaf) asQueue() *Queue { return nil }

func newFakeLeaf(start, finish uint64) *fakeLeaf {
	f := &fakeLeaf{}
	f.entity.virtualStart = start
	f.entity.virtualFinish = finish
	return f
}

func TestServiceTreeInsertRemove(t *testing.T) {
	var st serviceTree
	a := newFakeLeaf(0, 10)
	b := newFakeLeaf(5, 8)
	c := newFakeLeaf(2, 20)

	st.insert(a)
	st.insert(b)
	st.insert(c)

	if st.empty() {
		t.Fatal("tree reports empty after three inserts")
	}

	st.remove(b)
	var seen []node
	st.ascend(func(n node, finish, start uint64) bool {
		seen = append(seen, n)
		return true
	})
	if len(seen) != 2 {
		t.Fatalf("ascend after remove saw %d nodes, want 2", len(seen))
	}
	for _, n := range seen {
		if n == node(b) {
			t.Fatal("removed node still present in tree")
		}
	}
}

func TestServiceTreeFirstEligibleOrdersByFinish(t *testing.T) {
	var st serviceTree
	lowFinish := newFakeLeaf(0, 5)
	highFinish := newFakeLeaf(0, 50)
	st.insert(highFinish)
	st.insert(lowFinish)

	got := st.firstEligible(100)
	if got != node(lowFinish) {
		t.Fatal("firstEligible did not pick the lowest virtual_finish")
	}
}

func TestServiceTreeFirstEligibleRespectsVtime(t *testing.T) {
	var st serviceTree
	notYetEligible := newFakeLeaf(50, 60)
	st.insert(notYetEligible)

	if got := st.firstEligible(10); got != nil {
		t.Fatalf("firstEligible returned a node whose virtual_start exceeds vtime: %+v", got)
	}
	if got := st.firstEligible(60); got != node(notYetEligible) {
		t.Fatal("firstEligible should return the node once vtime reaches its virtual_start")
	}
}

func TestServiceTreeMinStartOverall(t *testing.T) {
	var st serviceTree
	if _, ok := st.minStartOverall(); ok {
		t.Fatal("minStartOverall should report false on an empty tree")
	}
	st.insert(newFakeLeaf(30, 40))
	st.insert(newFakeLeaf(5, 100))
	st.insert(newFakeLeaf(20, 25))

	min, ok := st.minStartOverall()
	if !ok || min != 5 {
		t.Fatalf("minStartOverall = (%d, %v), want (5, true)", min, ok)
	}
}
