package matching

import (
	"strings"
	"testing"

	"bookmatch/internal/domain"
)

func metaFor(pairs ...string) map[string]domain.ParticipantMeta {
	// pairs alternate id, gender
	m := map[string]domain.ParticipantMeta{}
	for i := 0; i+1 < len(pairs); i += 2 {
		m[pairs[i]] = domain.ParticipantMeta{ID: pairs[i], Gender: pairs[i+1]}
	}
	return m
}

func hasSubstring(list []string, sub string) bool {
	for _, s := range list {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func TestValidateCleanDay(t *testing.T) {
	meta := metaFor("x", "male", "y", "female", "z", "male", "v", "female")
	assignments := map[string]domain.CanonicalAssignment{
		"v": {ViewerID: "v", AssignedIDs: []string{"x", "y", "z"}, ClusterID: "cluster-2"},
		"x": {ViewerID: "x", AssignedIDs: []string{"v", "y", "z"}, ClusterID: "cluster-2"},
		"y": {ViewerID: "y", AssignedIDs: []string{"v", "x", "z"}, ClusterID: "cluster-2"},
		"z": {ViewerID: "z", AssignedIDs: []string{"v", "x", "y"}, ClusterID: "cluster-2"},
	}
	clusters := map[string]domain.Cluster{
		"cluster-2": {ID: "cluster-2", Name: "독서가들", MemberIDs: []string{"v", "x", "y", "z"}},
	}
	report := Validate(assignments, meta, clusters, ValidateOptions{})
	if !report.Valid {
		t.Fatalf("expected valid, got errors %v", report.Errors)
	}
	if len(report.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", report.Warnings)
	}
}

func TestValidateSelfAssignment(t *testing.T) {
	meta := metaFor("a", "male", "b", "female")
	assignments := map[string]domain.CanonicalAssignment{
		"a": {ViewerID: "a", AssignedIDs: []string{"a", "b"}},
	}
	report := Validate(assignments, meta, nil, ValidateOptions{})
	if report.Valid {
		t.Fatalf("expected invalid")
	}
	if !hasSubstring(report.Errors, "self-assignment: a") {
		t.Fatalf("missing self-assignment error: %v", report.Errors)
	}
}

func TestValidateDanglingReferences(t *testing.T) {
	meta := metaFor("a", "male", "b", "female")
	assignments := map[string]domain.CanonicalAssignment{
		"a": {ViewerID: "a", AssignedIDs: []string{"b", "ghost"}, ClusterID: "nope"},
	}
	report := Validate(assignments, meta, map[string]domain.Cluster{}, ValidateOptions{})
	if report.Valid {
		t.Fatalf("expected invalid")
	}
	if !hasSubstring(report.Errors, "unknown participant ghost") {
		t.Fatalf("missing dangling participant error: %v", report.Errors)
	}
	if !hasSubstring(report.Errors, "dangling cluster id nope") {
		t.Fatalf("missing dangling cluster error: %v", report.Errors)
	}
}

func TestValidateFanOutWarning(t *testing.T) {
	meta := metaFor("a", "male", "b", "female")
	assignments := map[string]domain.CanonicalAssignment{
		"a": {ViewerID: "a", AssignedIDs: []string{"b"}},
	}
	report := Validate(assignments, meta, nil, ValidateOptions{})
	if !report.Valid {
		t.Fatalf("fan-out alone must not invalidate: %v", report.Errors)
	}
	if !hasSubstring(report.Warnings, "low fan-out: a") {
		t.Fatalf("missing fan-out warning: %v", report.Warnings)
	}
}

func TestValidateSingleGenderCluster(t *testing.T) {
	meta := metaFor(
		"f1", "female", "f2", "female", "f3", "female",
		"f4", "female", "f5", "female", "f6", "female",
		"m1", "male", "m2", "male", "m3", "male",
	)
	assignments := map[string]domain.CanonicalAssignment{}
	for _, id := range []string{"f1", "f2", "f3", "f4", "f5", "f6"} {
		assignments[id] = domain.CanonicalAssignment{ViewerID: id, AssignedIDs: []string{"f1", "f2"}, ClusterID: "c1"}
	}
	for _, id := range []string{"m1", "m2", "m3"} {
		assignments[id] = domain.CanonicalAssignment{ViewerID: id, AssignedIDs: []string{"m1", "m2"}, ClusterID: "c2"}
	}
	clusters := map[string]domain.Cluster{
		"c1": {ID: "c1", Name: "고요한 사색가들", MemberIDs: []string{"f1", "f2", "f3", "f4", "f5", "f6"}},
		"c2": {ID: "c2", Name: "행동파", MemberIDs: []string{"m1", "m2", "m3"}},
	}
	report := Validate(assignments, meta, clusters, ValidateOptions{})
	if report.Valid {
		t.Fatalf("expected invalid")
	}
	if !hasSubstring(report.Errors, "single-gender cluster: 고요한 사색가들") {
		t.Fatalf("missing single-gender error for c1: %v", report.Errors)
	}
	if !hasSubstring(report.Errors, "single-gender cluster: 행동파") {
		t.Fatalf("missing single-gender error for c2: %v", report.Errors)
	}
}

func TestValidateSingleGenderSkippedWhenOneClusterOrOneGender(t *testing.T) {
	meta := metaFor("f1", "female", "f2", "female", "f3", "female")
	assignments := map[string]domain.CanonicalAssignment{
		"f1": {ViewerID: "f1", AssignedIDs: []string{"f2", "f3"}, ClusterID: "c1"},
		"f2": {ViewerID: "f2", AssignedIDs: []string{"f1", "f3"}, ClusterID: "c1"},
		"f3": {ViewerID: "f3", AssignedIDs: []string{"f1", "f2"}, ClusterID: "c1"},
	}
	clusters := map[string]domain.Cluster{
		"c1": {ID: "c1", Name: "solo", MemberIDs: []string{"f1", "f2", "f3"}},
	}
	report := Validate(assignments, meta, clusters, ValidateOptions{})
	if hasSubstring(report.Errors, "single-gender") {
		t.Fatalf("no opposite-gender candidates existed; got %v", report.Errors)
	}
}

func TestValidateClusterMembershipPartition(t *testing.T) {
	meta := metaFor("a", "male", "b", "female", "c", "male", "d", "female")
	assignments := map[string]domain.CanonicalAssignment{
		"a": {ViewerID: "a", AssignedIDs: []string{"b", "c"}, ClusterID: "c1"},
		"d": {ViewerID: "d", AssignedIDs: []string{"b", "c"}, ClusterID: "c1"},
	}
	clusters := map[string]domain.Cluster{
		"c1": {ID: "c1", MemberIDs: []string{"a", "b", "b"}},
		"c2": {ID: "c2", MemberIDs: []string{"b", "c"}},
	}
	report := Validate(assignments, meta, clusters, ValidateOptions{})
	if !hasSubstring(report.Errors, "duplicate cluster membership: b") {
		t.Fatalf("missing duplicate membership error: %v", report.Errors)
	}
	if !hasSubstring(report.Errors, "participant d assigned to no cluster") {
		t.Fatalf("missing unclustered participant error: %v", report.Errors)
	}
}

func TestValidateClusterSizeBounds(t *testing.T) {
	meta := metaFor("a", "male", "b", "female", "c", "male")
	assignments := map[string]domain.CanonicalAssignment{
		"a": {ViewerID: "a", AssignedIDs: []string{"b", "c"}, ClusterID: "tiny"},
	}
	clusters := map[string]domain.Cluster{
		"tiny": {ID: "tiny", MemberIDs: []string{"a"}},
	}
	report := Validate(assignments, meta, clusters, ValidateOptions{MinClusterSize: 4, MaxClusterSize: 7})
	if !hasSubstring(report.Errors, "cluster tiny below minimum size") {
		t.Fatalf("missing size error: %v", report.Errors)
	}
}

func TestValidateUnknownGenderWarnsAndExcludes(t *testing.T) {
	meta := metaFor("a", "unknown", "b", "female", "c", "female")
	assignments := map[string]domain.CanonicalAssignment{
		"a": {ViewerID: "a", AssignedIDs: []string{"b", "c"}, ClusterID: "c1"},
		"b": {ViewerID: "b", AssignedIDs: []string{"a", "c"}, ClusterID: "c1"},
		"c": {ViewerID: "c", AssignedIDs: []string{"a", "b"}, ClusterID: "c1"},
	}
	clusters := map[string]domain.Cluster{
		"c1": {ID: "c1", MemberIDs: []string{"a", "b", "c"}},
	}
	report := Validate(assignments, meta, clusters, ValidateOptions{})
	if !hasSubstring(report.Warnings, "unknown gender for a") {
		t.Fatalf("missing unknown-gender warning: %v", report.Warnings)
	}
	// Only female known genders exist, so no single-gender error.
	if hasSubstring(report.Errors, "single-gender") {
		t.Fatalf("unexpected single-gender error: %v", report.Errors)
	}
}

func TestCheckGenderDistribution(t *testing.T) {
	meta := metaFor("a", "male", "b", "female", "c", "unknown")
	dist := CheckGenderDistribution(meta, 2)
	if dist.Valid {
		t.Fatalf("expected invalid distribution")
	}
	if dist.MaleCount != 1 || dist.FemaleCount != 1 {
		t.Fatalf("counts = %d/%d", dist.MaleCount, dist.FemaleCount)
	}
	if len(dist.MissingGender) != 1 || dist.MissingGender[0] != "c" {
		t.Fatalf("missing = %v", dist.MissingGender)
	}

	ok := CheckGenderDistribution(metaFor("a", "male", "b", "female"), 1)
	if !ok.Valid {
		t.Fatalf("expected valid: %v", ok.Errors)
	}
}
