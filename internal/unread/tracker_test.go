package unread

import (
	"reflect"
	"testing"
)

func TestIncrementSkipsSender(t *testing.T) {
	tr := NewTracker()
	members := []string{"conn-a", "conn-b", "conn-c"}

	changed := tr.IncrementForRoomExcept("global", "conn-a", members)

	want := map[string]int{"conn-b": 1, "conn-c": 1}
	if !reflect.DeepEqual(changed, want) {
		t.Fatalf("expected %v, got %v", want, changed)
	}
	if n := tr.Counts("conn-a")["global"]; n != 0 {
		t.Errorf("sender counter should stay 0, got %d", n)
	}
}

func TestIncrementAccumulates(t *testing.T) {
	tr := NewTracker()
	members := []string{"conn-a", "conn-b"}

	tr.IncrementForRoomExcept("global", "conn-a", members)
	tr.IncrementForRoomExcept("global", "conn-a", members)
	changed := tr.IncrementForRoomExcept("global", "conn-a", members)

	if changed["conn-b"] != 3 {
		t.Fatalf("expected counter 3 after three messages, got %d", changed["conn-b"])
	}
}

func TestCountersArePerRoom(t *testing.T) {
	tr := NewTracker()
	tr.IncrementForRoomExcept("global", "conn-a", []string{"conn-a", "conn-b"})
	tr.IncrementForRoomExcept("dev", "conn-a", []string{"conn-a", "conn-b"})
	tr.IncrementForRoomExcept("dev", "conn-a", []string{"conn-a", "conn-b"})

	want := map[string]int{"global": 1, "dev": 2}
	if got := tr.Counts("conn-b"); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestResetZeroesOneRoom(t *testing.T) {
	tr := NewTracker()
	tr.IncrementForRoomExcept("global", "conn-a", []string{"conn-a", "conn-b"})
	tr.IncrementForRoomExcept("dev", "conn-a", []string{"conn-a", "conn-b"})

	tr.Reset("conn-b", "global")

	counts := tr.Counts("conn-b")
	if counts["global"] != 0 {
		t.Errorf("expected global reset to 0, got %d", counts["global"])
	}
	if counts["dev"] != 1 {
		t.Errorf("expected dev untouched at 1, got %d", counts["dev"])
	}

	// Resetting an untracked connection is a no-op.
	tr.Reset("ghost", "global")
}

func TestCountsNeverNil(t *testing.T) {
	tr := NewTracker()
	counts := tr.Counts("conn-a")
	if counts == nil {
		t.Fatal("expected empty map, got nil")
	}
	if len(counts) != 0 {
		t.Fatalf("expected no counters, got %v", counts)
	}
}

func TestClearConnection(t *testing.T) {
	tr := NewTracker()
	tr.IncrementForRoomExcept("global", "conn-a", []string{"conn-a", "conn-b"})

	tr.ClearConnection("conn-b")

	if got := tr.Counts("conn-b"); len(got) != 0 {
		t.Fatalf("expected counters cleared, got %v", got)
	}
}
