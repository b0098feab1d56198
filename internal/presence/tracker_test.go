package presence

import (
	"reflect"
	"testing"
)

func TestSetTypingAddsAndRemoves(t *testing.T) {
	tr := NewTracker()

	typers := tr.SetTyping("global", "conn-a", "alice", true)
	if !reflect.DeepEqual(typers, []string{"alice"}) {
		t.Fatalf("expected [alice], got %v", typers)
	}

	typers = tr.SetTyping("global", "conn-b", "bob", true)
	if !reflect.DeepEqual(typers, []string{"alice", "bob"}) {
		t.Fatalf("expected sorted [alice bob], got %v", typers)
	}

	typers = tr.SetTyping("global", "conn-a", "alice", false)
	if !reflect.DeepEqual(typers, []string{"bob"}) {
		t.Fatalf("expected [bob], got %v", typers)
	}
}

func TestStopTypingWhenNotTyping(t *testing.T) {
	tr := NewTracker()

	typers := tr.SetTyping("global", "conn-a", "alice", false)
	if len(typers) != 0 {
		t.Fatalf("expected empty typer set, got %v", typers)
	}
}

func TestRoomsAreIndependent(t *testing.T) {
	tr := NewTracker()
	tr.SetTyping("global", "conn-a", "alice", true)
	tr.SetTyping("dev", "conn-b", "bob", true)

	if got := tr.Typers("global"); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Errorf("global: expected [alice], got %v", got)
	}
	if got := tr.Typers("dev"); !reflect.DeepEqual(got, []string{"bob"}) {
		t.Errorf("dev: expected [bob], got %v", got)
	}
}

func TestClearConnectionRemovesFromAllRooms(t *testing.T) {
	tr := NewTracker()
	tr.SetTyping("global", "conn-a", "alice", true)
	tr.SetTyping("dev", "conn-a", "alice", true)
	tr.SetTyping("dev", "conn-b", "bob", true)

	tr.ClearConnection("conn-a")

	if got := tr.Typers("global"); len(got) != 0 {
		t.Errorf("global: expected no typers, got %v", got)
	}
	if got := tr.Typers("dev"); !reflect.DeepEqual(got, []string{"bob"}) {
		t.Errorf("dev: expected [bob], got %v", got)
	}
}
