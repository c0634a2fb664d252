package captable

import (
	"context"
	"errors"
	"testing"

	"opm_backsolve/pkg/core/waterfall"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	store := NewMemoryStore()
	store.PutCapTable(&CapTable{
		ValuationID:      "val-1",
		TotalShares:      1_000_000,
		ShareClassTotals: map[string]float64{"common": 1_000_000},
		ObservedPrices:   map[string]float64{"common": 2.10},
	})
	store.PutBreakpoints("val-1", []waterfall.Breakpoint{{
		Value: 0,
		Kind:  waterfall.KindProRata,
		Participants: []waterfall.Participant{
			{SecurityClass: "common", ParticipatingShares: 1_000_000, ParticipationPercent: 1},
		},
	}})

	ct, err := store.CapTable(context.Background(), "val-1")
	if err != nil {
		t.Fatal(err)
	}
	if ct.ObservedPrices["common"] != 2.10 {
		t.Errorf("observed price = %v, want 2.10", ct.ObservedPrices["common"])
	}
	bps, err := store.Breakpoints(context.Background(), "val-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(bps) != 1 {
		t.Errorf("got %d breakpoints, want 1", len(bps))
	}
}

func TestMemoryStore_MissingIsUpstreamError(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.CapTable(context.Background(), "nope")
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if ue.Resource != "cap_table" || ue.Key != "nope" {
		t.Errorf("error lacks request context: %+v", ue)
	}
	if _, err := store.Breakpoints(context.Background(), "nope"); !errors.As(err, &ue) {
		t.Errorf("expected UpstreamError for breakpoints, got %v", err)
	}
}
