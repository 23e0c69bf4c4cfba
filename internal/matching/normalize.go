// Package matching holds the pure core of the profile-unlock engine:
// normalization of historical assignment shapes, quality validation, and
// the unlock gate. Nothing here touches storage or the clock.
package matching

import "bookmatch/internal/domain"

// Normalize converts one viewer's raw entry into the canonical shape.
// Detection is structural, in priority order: a non-empty assigned list
// wins; otherwise similar/opposite are concatenated similar-first (the
// ordering is load-bearing for UIs that label the first N "similar");
// otherwise the result is empty. Absent fields mean empty, never an
// error: historical records are read as they are.
func Normalize(viewerID string, raw domain.RawAssignment) domain.CanonicalAssignment {
	c := domain.CanonicalAssignment{ViewerID: viewerID}
	switch {
	case len(raw.Assigned) > 0:
		c.AssignedIDs = dedup(raw.Assigned)
		c.ClusterID = raw.ClusterID
	case len(raw.Similar) > 0 || len(raw.Opposite) > 0:
		merged := make([]string, 0, len(raw.Similar)+len(raw.Opposite))
		merged = append(merged, raw.Similar...)
		merged = append(merged, raw.Opposite...)
		c.AssignedIDs = dedup(merged)
	default:
		c.AssignedIDs = []string{}
	}
	return c
}

// NormalizeDay flattens a whole day record into canonical assignments per
// viewer. v2/v3 records carry a per-viewer map; a v1 record is a single
// flat pair with no viewer key and contributes nothing here (its ids are
// resolved by the caller that knows which viewer the record belonged to).
func NormalizeDay(raw domain.RawMatchingDay) map[string]domain.CanonicalAssignment {
	out := make(map[string]domain.CanonicalAssignment, len(raw.Assignments))
	for viewerID, entry := range raw.Assignments {
		out[viewerID] = Normalize(viewerID, entry)
	}
	return out
}

// dedup removes repeated ids preserving first occurrence. It never drops
// a viewer's own id; self-assignment is the validator's to report.
func dedup(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
