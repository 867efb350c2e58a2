package bfq

import "testing"

func TestGroupBestClassPrefersRTThenBEThenIdle(t *testing.T) {
	g := newGroup("root", 100, ClassBE)
	if _, ok := g.bestClass(); ok {
		t.Fatal("bestClass should report false on an empty group")
	}

	beLeaf := newQueue(1, true, ClassBE, 0, 100, &IOContext{})
	activateEntity(beLeaf, g, ClassBE)
	if c, ok := g.bestClass(); !ok || c != ClassBE {
		t.Fatalf("bestClass = (%v, %v), want (ClassBE, true)", c, ok)
	}

	rtLeaf := newQueue(2, true, ClassRT, 0, 100, &IOContext{})
	activateEntity(rtLeaf, g, ClassRT)
	if c, ok := g.bestClass(); !ok || c != ClassRT {
		t.Fatalf("bestClass with RT present = (%v, %v), want (ClassRT, true)", c, ok)
	}
}

func TestActivateEntityPropagatesToParent(t *testing.T) {
	root := newGroup("root", 100, ClassBE)
	child := newGroup("child", 100, ClassBE)
	child.parent = root
	child.entity.class = ClassBE

	leaf := newQueue(1, true, ClassBE, 0, 100, &IOContext{})
	activateEntity(leaf, child, ClassBE)

	if child.busyCount != 1 {
		t.Fatalf("child.busyCount = %d, want 1", child.busyCount)
	}
	if _, ok := root.bestClass(); !ok {
		t.Fatal("activating a leaf in child should propagate activation of child into root")
	}
}

func TestActivateEntitySecondLeafDoesNotReactivateParent(t *testing.T) {
	root := newGroup("root", 100, ClassBE)
	child := newGroup("child", 100, ClassBE)
	child.parent = root
	child.entity.class = ClassBE

	leaf1 := newQueue(1, true, ClassBE, 0, 100, &IOContext{})
	leaf2 := newQueue(2, true, ClassBE, 0, 100, &IOContext{})
	activateEntity(leaf1, child, ClassBE)
	activateEntity(leaf2, child, ClassBE)

	if child.busyCount != 2 {
		t.Fatalf("child.busyCount = %d, want 2", child.busyCount)
	}
	if root.busyCount != 1 {
		t.Fatalf("root.busyCount = %d, want 1 (child activated in root only once)", root.busyCount)
	}
}

func TestNextLeafDescendsToLeaf(t *testing.T) {
	root := newGroup("root", 100, ClassBE)
	leaf := newQueue(1, true, ClassBE, 0, 100, &IOContext{})
	leaf.entity.budget = 1000
	activateEntity(leaf, root, ClassBE)

	path, got, err := nextLeaf(root)
	if err != nil {
		t.Fatalf("nextLeaf returned error: %v", err)
	}
	if got != leaf {
		t.Fatalf("nextLeaf picked %+v, want leaf", got)
	}
	if len(path) != 1 {
		t.Fatalf("path length = %d, want 1", len(path))
	}
}

func TestNextLeafNoEligibleEntity(t *testing.T) {
	root := newGroup("root", 100, ClassBE)
	if _, _, err := nextLeaf(root); err != errNoEligibleEntity {
		t.Fatalf("nextLeaf on empty root: err = %v, want errNoEligibleEntity", err)
	}
}

func TestFinishPathReinsertsIntoActiveWhenBacklogged(t *testing.T) {
	root := newGroup("root", 100, ClassBE)
	leaf := newQueue(1, true, ClassBE, 0, 100, &IOContext{})
	leaf.entity.budget = 1000
	activateEntity(leaf, root, ClassBE)

	path, _, err := nextLeaf(root)
	if err != nil {
		t.Fatalf("nextLeaf error: %v", err)
	}
	finishPath(path, true, 500)

	if !leaf.onST || leaf.kind != treeActive {
		t.Fatal("a backlogged leaf should be reinserted into the active tree")
	}
	if _, ok := root.bestClass(); !ok {
		t.Fatal("root should still see a busy class after reinserting a backlogged leaf")
	}
}

func TestFinishPathMovesToIdleAndDecrementsBusyCount(t *testing.T) {
	root := newGroup("root", 100, ClassBE)
	leaf := newQueue(1, true, ClassBE, 0, 100, &IOContext{})
	leaf.entity.budget = 1000
	activateEntity(leaf, root, ClassBE)

	if root.busyCount != 1 {
		t.Fatalf("busyCount before finishPath = %d, want 1", root.busyCount)
	}

	path, _, err := nextLeaf(root)
	if err != nil {
		t.Fatalf("nextLeaf error: %v", err)
	}
	finishPath(path, false, 500)

	if leaf.onST || leaf.kind != treeIdle {
		t.Fatal("a non-backlogged leaf should move to the idle tree")
	}
	if root.busyCount != 0 {
		t.Fatalf("busyCount after finishPath = %d, want 0", root.busyCount)
	}
	if _, ok := root.bestClass(); ok {
		t.Fatal("root should have no busy class once its only leaf goes idle")
	}
}

func TestWalkQueuesVisitsAllQueues(t *testing.T) {
	root := newGroup("root", 100, ClassBE)
	child := newGroup("child", 100, ClassBE)
	child.parent = root
	child.entity.class = ClassBE

	leafRoot := newQueue(1, true, ClassBE, 0, 100, &IOContext{})
	leafChild := newQueue(2, true, ClassBE, 0, 100, &IOContext{})
	activateEntity(leafRoot, root, ClassBE)
	activateEntity(leafChild, child, ClassBE)

	seen := map[*Queue]bool{}
	walkQueues(root, func(q *Queue) { seen[q] = true })

	if !seen[leafRoot] || !seen[leafChild] {
		t.Fatal("walkQueues should visit queues nested under sub-groups as well as direct children")
	}
}

func TestForgetIdlePrunesStaleEntries(t *testing.T) {
	root := newGroup("root", 100, ClassBE)
	leaf := newQueue(1, true, ClassBE, 0, 100, &IOContext{})
	leaf.entity.budget = 1000
	activateEntity(leaf, root, ClassBE)

	path, _, err := nextLeaf(root)
	if err != nil {
		t.Fatalf("nextLeaf error: %v", err)
	}
	finishPath(path, false, 500) // leaf goes idle with some virtual_finish

	root.vtime[ClassBE] = leaf.virtualFinish + 1
	root.forgetIdle(ClassBE)

	if !root.idle[ClassBE].empty() {
		t.Fatal("forgetIdle should have pruned the stale idle entry")
	}
}
