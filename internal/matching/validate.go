package matching

import (
	"fmt"
	"sort"

	"bookmatch/internal/domain"
)

// ValidateOptions carry the configurable quality thresholds.
type ValidateOptions struct {
	// MinFanOut is the assigned-profile count below which a viewer gets a
	// degraded-experience warning. Zero means the default of 2.
	MinFanOut int
	// MinClusterSize/MaxClusterSize bound cluster membership counts.
	// Zero disables the respective bound.
	MinClusterSize int
	MaxClusterSize int
}

func (o ValidateOptions) minFanOut() int {
	if o.MinFanOut > 0 {
		return o.MinFanOut
	}
	return 2
}

// Validate checks structural and demographic-balance invariants over a
// normalized day. Problems are aggregated, never fail-fast, so operators
// see the full picture in one pass. The report is advisory: unlock
// decisions proceed independently of the outcome.
func Validate(
	assignments map[string]domain.CanonicalAssignment,
	meta map[string]domain.ParticipantMeta,
	clusters map[string]domain.Cluster,
	opts ValidateOptions,
) domain.ValidationReport {
	report := domain.ValidationReport{Errors: []string{}, Warnings: []string{}}

	viewers := make([]string, 0, len(assignments))
	for id := range assignments {
		viewers = append(viewers, id)
	}
	sort.Strings(viewers)

	for _, viewerID := range viewers {
		a := assignments[viewerID]
		for _, id := range a.AssignedIDs {
			if id == viewerID {
				report.Errors = append(report.Errors,
					fmt.Sprintf("self-assignment: %s", viewerID))
			}
			if _, ok := meta[id]; !ok {
				report.Errors = append(report.Errors,
					fmt.Sprintf("unknown participant %s assigned to %s", id, viewerID))
			}
		}
		if len(a.AssignedIDs) < opts.minFanOut() {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("low fan-out: %s has %d assigned profiles", viewerID, len(a.AssignedIDs)))
		}
		if a.ClusterID != "" {
			if _, ok := clusters[a.ClusterID]; !ok {
				report.Errors = append(report.Errors,
					fmt.Sprintf("dangling cluster id %s for %s", a.ClusterID, viewerID))
			}
		}
	}

	if len(clusters) > 0 {
		report = validateClusters(report, viewers, assignments, meta, clusters, opts)
	}

	report.Valid = len(report.Errors) == 0
	return report
}

func validateClusters(
	report domain.ValidationReport,
	viewers []string,
	assignments map[string]domain.CanonicalAssignment,
	meta map[string]domain.ParticipantMeta,
	clusters map[string]domain.Cluster,
	opts ValidateOptions,
) domain.ValidationReport {
	clusterIDs := make([]string, 0, len(clusters))
	for id := range clusters {
		clusterIDs = append(clusterIDs, id)
	}
	sort.Strings(clusterIDs)

	// Membership must partition the assigned viewers: no duplicates, no
	// member outside the known cohort, nobody with an assignment left out.
	memberOf := map[string]string{}
	for _, cid := range clusterIDs {
		cl := clusters[cid]
		for _, memberID := range cl.MemberIDs {
			if prev, ok := memberOf[memberID]; ok {
				report.Errors = append(report.Errors,
					fmt.Sprintf("duplicate cluster membership: %s in %s and %s", memberID, prev, cid))
				continue
			}
			memberOf[memberID] = cid
			if _, ok := meta[memberID]; !ok {
				report.Errors = append(report.Errors,
					fmt.Sprintf("unknown participant %s in cluster %s", memberID, cid))
			}
		}
		if opts.MinClusterSize > 0 && len(cl.MemberIDs) < opts.MinClusterSize {
			report.Errors = append(report.Errors,
				fmt.Sprintf("cluster %s below minimum size: %d", cid, len(cl.MemberIDs)))
		}
		if opts.MaxClusterSize > 0 && len(cl.MemberIDs) > opts.MaxClusterSize {
			report.Errors = append(report.Errors,
				fmt.Sprintf("cluster %s above maximum size: %d", cid, len(cl.MemberIDs)))
		}
	}
	for _, viewerID := range viewers {
		if _, ok := memberOf[viewerID]; !ok {
			report.Errors = append(report.Errors,
				fmt.Sprintf("participant %s assigned to no cluster", viewerID))
		}
	}

	// Gender balance. A cluster that is 100% one known gender is an error
	// when the opposite gender existed cohort-wide and grouping was
	// actually possible (two or more clusters). Unknown genders are
	// excluded from the counts, with a warning so data gaps are visible.
	males, females := 0, 0
	unknown := []string{}
	for id, m := range meta {
		switch m.Gender {
		case domain.GenderMale:
			males++
		case domain.GenderFemale:
			females++
		default:
			unknown = append(unknown, id)
		}
	}
	sort.Strings(unknown)
	for _, id := range unknown {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("unknown gender for %s; excluded from balance checks", id))
	}
	if males > 0 && females > 0 && len(clusters) >= 2 {
		for _, cid := range clusterIDs {
			cl := clusters[cid]
			m, f := 0, 0
			for _, memberID := range cl.MemberIDs {
				switch meta[memberID].Gender {
				case domain.GenderMale:
					m++
				case domain.GenderFemale:
					f++
				}
			}
			if (m == 0 && f > 0) || (f == 0 && m > 0) {
				report.Errors = append(report.Errors,
					fmt.Sprintf("single-gender cluster: %s", clusterName(cl)))
			}
		}
	}
	return report
}

func clusterName(cl domain.Cluster) string {
	if cl.Name != "" {
		return cl.Name
	}
	return cl.ID
}

// GenderDistribution summarizes matching input quality before a run.
type GenderDistribution struct {
	Valid         bool     `json:"valid"`
	MaleCount     int      `json:"male_count"`
	FemaleCount   int      `json:"female_count"`
	MissingGender []string `json:"missing_gender,omitempty"`
	Errors        []string `json:"errors,omitempty"`
}

// CheckGenderDistribution verifies that matching inputs carry usable
// gender data and that each gender meets the configured minimum. Used by
// operators before triggering the upstream clustering process.
func CheckGenderDistribution(meta map[string]domain.ParticipantMeta, minPerGender int) GenderDistribution {
	dist := GenderDistribution{}
	for id, m := range meta {
		switch m.Gender {
		case domain.GenderMale:
			dist.MaleCount++
		case domain.GenderFemale:
			dist.FemaleCount++
		default:
			dist.MissingGender = append(dist.MissingGender, id)
		}
	}
	sort.Strings(dist.MissingGender)
	if len(dist.MissingGender) > 0 {
		dist.Errors = append(dist.Errors,
			fmt.Sprintf("%d participants have no gender data", len(dist.MissingGender)))
	}
	if minPerGender > 0 && (dist.MaleCount < minPerGender || dist.FemaleCount < minPerGender) {
		dist.Errors = append(dist.Errors,
			fmt.Sprintf("need at least %d per gender, have %d male / %d female",
				minPerGender, dist.MaleCount, dist.FemaleCount))
	}
	dist.Valid = len(dist.Errors) == 0
	return dist
}
