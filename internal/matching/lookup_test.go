package matching

import (
	"reflect"
	"testing"

	"bookmatch/internal/domain"
)

func daysFixture() map[string]domain.RawMatchingDay {
	return map[string]domain.RawMatchingDay{
		"2025-11-07": {
			Assignments: map[string]domain.RawAssignment{
				"v": {Similar: []string{"a"}, Opposite: []string{"b"}},
				"w": {Similar: []string{"v"}},
			},
		},
		"2025-11-08": {
			Assignments: map[string]domain.RawAssignment{
				"v": {Assigned: []string{"c", "d"}, ClusterID: "c1"},
			},
			Clusters: map[string]domain.Cluster{
				"c1": {ID: "c1", Name: "한낮의 독서가들", MemberIDs: []string{"v", "c", "d"}},
			},
		},
		"2025-11-09": {
			Assignments: map[string]domain.RawAssignment{
				"w": {Assigned: []string{"x"}},
			},
		},
	}
}

func TestFindLatestPrefersGivenDay(t *testing.T) {
	got := FindLatest(daysFixture(), "v", LookupOptions{PreferredDay: "2025-11-07"})
	if got == nil || got.Day != "2025-11-07" {
		t.Fatalf("got %+v, want preferred day hit", got)
	}
	if !reflect.DeepEqual(got.Assignment.AssignedIDs, []string{"a", "b"}) {
		t.Fatalf("assigned = %v", got.Assignment.AssignedIDs)
	}
}

func TestFindLatestFallsBackReverseChronologically(t *testing.T) {
	// Viewer v is absent on the preferred day, so the newest day that
	// includes them wins.
	got := FindLatest(daysFixture(), "v", LookupOptions{PreferredDay: "2025-11-09"})
	if got == nil || got.Day != "2025-11-08" {
		t.Fatalf("got %+v, want fallback to 2025-11-08", got)
	}
	if got.Assignment.ClusterID != "c1" {
		t.Fatalf("cluster id = %q", got.Assignment.ClusterID)
	}
	if _, ok := got.Clusters["c1"]; !ok {
		t.Fatalf("clusters not carried: %v", got.Clusters)
	}
}

func TestFindLatestNoPreferredDay(t *testing.T) {
	got := FindLatest(daysFixture(), "w", LookupOptions{})
	if got == nil || got.Day != "2025-11-09" {
		t.Fatalf("got %+v, want newest day with viewer", got)
	}
}

func TestFindLatestAllowedDays(t *testing.T) {
	allowed := map[string]struct{}{"2025-11-07": {}}
	got := FindLatest(daysFixture(), "v", LookupOptions{PreferredDay: "2025-11-08", AllowedDays: allowed})
	if got == nil || got.Day != "2025-11-07" {
		t.Fatalf("got %+v, want restriction to honored set", got)
	}

	none := FindLatest(daysFixture(), "v", LookupOptions{AllowedDays: map[string]struct{}{}})
	if none != nil {
		t.Fatalf("empty allowed set should match nothing, got %+v", none)
	}
}

func TestFindLatestMisses(t *testing.T) {
	if got := FindLatest(daysFixture(), "nobody", LookupOptions{}); got != nil {
		t.Fatalf("unknown viewer: %+v", got)
	}
	if got := FindLatest(nil, "v", LookupOptions{}); got != nil {
		t.Fatalf("nil days: %+v", got)
	}
	if got := FindLatest(daysFixture(), "", LookupOptions{}); got != nil {
		t.Fatalf("empty viewer id: %+v", got)
	}
}

func TestFindCluster(t *testing.T) {
	got := FindCluster(daysFixture(), "c1", LookupOptions{PreferredDay: "2025-11-09"})
	if got == nil || got.Day != "2025-11-08" {
		t.Fatalf("got %+v", got)
	}
	if got.Cluster.Name != "한낮의 독서가들" {
		t.Fatalf("cluster = %+v", got.Cluster)
	}
	if FindCluster(daysFixture(), "missing", LookupOptions{}) != nil {
		t.Fatalf("unknown cluster id should miss")
	}
}
