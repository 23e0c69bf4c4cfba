package matching

import (
	"sort"

	"bookmatch/internal/domain"
)

// LookupResult is the most recent matching that contains a viewer.
type LookupResult struct {
	Day        string
	Assignment domain.CanonicalAssignment
	Clusters   map[string]domain.Cluster
}

// LookupOptions tune FindLatest.
type LookupOptions struct {
	// PreferredDay is checked before any reverse-chronological scan,
	// typically the current program day.
	PreferredDay string
	// AllowedDays, when non-nil, restricts which days may be returned.
	// A nil map means every past day is fair game, which implements the
	// "first proof after a gap still gets the most recent book" flow.
	AllowedDays map[string]struct{}
}

// FindLatest returns the most recent day whose assignments include the
// viewer, or nil when no day does.
func FindLatest(days map[string]domain.RawMatchingDay, viewerID string, opts LookupOptions) *LookupResult {
	if len(days) == 0 || viewerID == "" {
		return nil
	}
	try := func(day string) *LookupResult {
		if day == "" {
			return nil
		}
		if opts.AllowedDays != nil {
			if _, ok := opts.AllowedDays[day]; !ok {
				return nil
			}
		}
		raw, ok := days[day]
		if !ok {
			return nil
		}
		entry, ok := raw.Assignments[viewerID]
		if !ok {
			return nil
		}
		return &LookupResult{
			Day:        day,
			Assignment: Normalize(viewerID, entry),
			Clusters:   raw.Clusters,
		}
	}
	if res := try(opts.PreferredDay); res != nil {
		return res
	}
	keys := make([]string, 0, len(days))
	for day := range days {
		if day != "" {
			keys = append(keys, day)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	for _, day := range keys {
		if res := try(day); res != nil {
			return res
		}
	}
	return nil
}

// ClusterView is a resolved cluster for browsing a group other than the
// viewer's own.
type ClusterView struct {
	Day     string
	Cluster domain.Cluster
}

// FindCluster locates a cluster by id, preferring the given day and then
// scanning reverse-chronologically.
func FindCluster(days map[string]domain.RawMatchingDay, clusterID string, opts LookupOptions) *ClusterView {
	if len(days) == 0 || clusterID == "" {
		return nil
	}
	try := func(day string) *ClusterView {
		if day == "" {
			return nil
		}
		if opts.AllowedDays != nil {
			if _, ok := opts.AllowedDays[day]; !ok {
				return nil
			}
		}
		raw, ok := days[day]
		if !ok {
			return nil
		}
		cl, ok := raw.Clusters[clusterID]
		if !ok {
			return nil
		}
		return &ClusterView{Day: day, Cluster: cl}
	}
	if res := try(opts.PreferredDay); res != nil {
		return res
	}
	keys := make([]string, 0, len(days))
	for day := range days {
		if day != "" {
			keys = append(keys, day)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	for _, day := range keys {
		if res := try(day); res != nil {
			return res
		}
	}
	return nil
}
