package audit

import "testing"

func TestTrail_OrderedEvents(t *testing.T) {
	tr := NewTrail("common")
	tr.Record("bracket", 100, 1, -4, "")
	tr.Record("bisection", 200, 3, -2, "")
	tr.Record("secant", 400, 5, 0, "converged")

	events := tr.Events()
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i, ev := range events {
		if ev.Seq != i+1 {
			t.Errorf("event %d has seq %d", i, ev.Seq)
		}
	}
	if events[2].Note != "converged" {
		t.Errorf("note = %q, want converged", events[2].Note)
	}
}

func TestTrail_EventsIsASnapshot(t *testing.T) {
	tr := NewTrail("common")
	tr.Record("bracket", 1, 1, 1, "")
	snap := tr.Events()
	tr.Record("bisection", 2, 2, 2, "")
	if len(snap) != 1 {
		t.Errorf("snapshot grew after later Record: %d events", len(snap))
	}
}

func TestTrail_UniqueIDs(t *testing.T) {
	if NewTrail("a").ID() == NewTrail("b").ID() {
		t.Error("two trails share an ID")
	}
}
