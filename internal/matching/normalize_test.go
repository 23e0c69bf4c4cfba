package matching

import (
	"reflect"
	"testing"

	"bookmatch/internal/domain"
)

func TestNormalizeClusterShape(t *testing.T) {
	raw := domain.RawAssignment{Assigned: []string{"x", "y", "z"}, ClusterID: "cluster-2"}
	got := Normalize("viewer", raw)
	if got.ViewerID != "viewer" || got.ClusterID != "cluster-2" {
		t.Fatalf("unexpected canonical: %+v", got)
	}
	if !reflect.DeepEqual(got.AssignedIDs, []string{"x", "y", "z"}) {
		t.Fatalf("assigned ids = %v", got.AssignedIDs)
	}
}

func TestNormalizeLegacyPairKeepsSimilarFirst(t *testing.T) {
	raw := domain.RawAssignment{Similar: []string{"a", "b"}, Opposite: []string{"c", "d"}}
	got := Normalize("viewer", raw)
	if !reflect.DeepEqual(got.AssignedIDs, []string{"a", "b", "c", "d"}) {
		t.Fatalf("assigned ids = %v, want similar before opposite", got.AssignedIDs)
	}
	if got.ClusterID != "" {
		t.Fatalf("legacy pair should have no cluster id, got %q", got.ClusterID)
	}
}

func TestNormalizeAssignedWinsOverPair(t *testing.T) {
	raw := domain.RawAssignment{
		Assigned: []string{"p", "q"},
		Similar:  []string{"a"},
		Opposite: []string{"b"},
	}
	got := Normalize("viewer", raw)
	if !reflect.DeepEqual(got.AssignedIDs, []string{"p", "q"}) {
		t.Fatalf("assigned list must take priority, got %v", got.AssignedIDs)
	}
}

func TestNormalizeEmpty(t *testing.T) {
	got := Normalize("viewer", domain.RawAssignment{})
	if got.AssignedIDs == nil || len(got.AssignedIDs) != 0 {
		t.Fatalf("empty raw should normalize to empty non-nil list, got %v", got.AssignedIDs)
	}
}

func TestNormalizeDedupsButKeepsSelf(t *testing.T) {
	raw := domain.RawAssignment{Assigned: []string{"a", "a", "viewer", "b", ""}}
	got := Normalize("viewer", raw)
	if !reflect.DeepEqual(got.AssignedIDs, []string{"a", "viewer", "b"}) {
		t.Fatalf("assigned ids = %v", got.AssignedIDs)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	first := Normalize("v", domain.RawAssignment{Similar: []string{"a"}, Opposite: []string{"b"}})
	// Re-express the canonical result as a v2-style assigned list.
	second := Normalize("v", domain.RawAssignment{Assigned: first.AssignedIDs, ClusterID: first.ClusterID})
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("normalize not idempotent: %+v vs %+v", first, second)
	}
}

func TestNormalizeDay(t *testing.T) {
	raw := domain.RawMatchingDay{
		Featured: &domain.FeaturedPair{Similar: []string{"f1"}, Opposite: []string{"f2"}},
		Assignments: map[string]domain.RawAssignment{
			"u1": {Assigned: []string{"u2", "u3"}, ClusterID: "c1"},
			"u2": {Similar: []string{"u1"}, Opposite: []string{"u3"}},
			"u3": {},
		},
	}
	got := NormalizeDay(raw)
	if len(got) != 3 {
		t.Fatalf("expected 3 viewers, got %d", len(got))
	}
	if got["u1"].ClusterID != "c1" {
		t.Fatalf("u1 cluster id = %q", got["u1"].ClusterID)
	}
	if !reflect.DeepEqual(got["u2"].AssignedIDs, []string{"u1", "u3"}) {
		t.Fatalf("u2 assigned = %v", got["u2"].AssignedIDs)
	}
	if len(got["u3"].AssignedIDs) != 0 {
		t.Fatalf("u3 should be empty, got %v", got["u3"].AssignedIDs)
	}
}
