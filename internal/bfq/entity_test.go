package bfq

import "testing"

func TestEntityFinishDelta(t *testing.T) {
	tests := []struct {
		name   string
		weight uint32
		served Sectors
		want   uint64
	}{
		{"zero weight is zero delta", 0, 1000, 0},
		{"unit weight", 1, 4, 4 << vtimeShift},
		{"larger weight shrinks delta", 100, 1000, (1000 << vtimeShift) / 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &entity{weight: tt.weight}
			if got := e.finishDelta(tt.served); got != tt.want {
				t.Errorf("finishDelta() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAssignVirtualStartFreshActivation(t *testing.T) {
	e := &entity{weight: 10, budget: 100, virtualFinish: 50}

	e.assignVirtualStart(30) // groupVTime < virtualFinish: carry over finish
	if e.virtualStart != 50 {
		t.Fatalf("virtualStart = %d, want 50 (carried over finish)", e.virtualStart)
	}
	wantFinish := e.virtualStart + e.finishDelta(100)
	if e.virtualFinish != wantFinish {
		t.Fatalf("virtualFinish = %d, want %d", e.virtualFinish, wantFinish)
	}
}

func TestAssignVirtualStartGroupAhead(t *testing.T) {
	e := &entity{weight: 10, budget: 100, virtualFinish: 50}

	e.assignVirtualStart(80) // groupVTime > virtualFinish: no backlog credit
	if e.virtualStart != 80 {
		t.Fatalf("virtualStart = %d, want 80", e.virtualStart)
	}
}

func TestAssignVirtualStartAlreadyOnTreeKeepsStart(t *testing.T) {
	e := &entity{weight: 10, budget: 100, virtualStart: 5, virtualFinish: 50, onST: true}
	e.assignVirtualStart(999)
	if e.virtualStart != 5 {
		t.Fatalf("virtualStart changed for an entity already on a tree: got %d", e.virtualStart)
	}
}

func TestClassString(t *testing.T) {
	tests := map[Class]string{ClassRT: "rt", ClassBE: "be", ClassIdle: "idle", Class(99): "class(99)"}
	for class, want := range tests {
		if got := class.String(); got != want {
			t.Errorf("Class(%d).String() = %q, want %q", class, got, want)
		}
	}
}
