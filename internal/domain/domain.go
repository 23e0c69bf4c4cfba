package domain

// Gender values used for cluster balance checks. Participants without a
// known gender are excluded from balance validation, never rejected.
const (
	GenderMale    = "male"
	GenderFemale  = "female"
	GenderUnknown = "unknown"
)

// Submission statuses.
const (
	SubmissionDraft    = "draft"
	SubmissionApproved = "approved"
	SubmissionRejected = "rejected"
)

// UnlockState is the two-value outcome of the profile unlock gate.
type UnlockState string

const (
	Locked   UnlockState = "LOCKED"
	Unlocked UnlockState = "UNLOCKED"
)

type Cohort struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	StartDay  string `json:"start_day,omitempty"`
	EndDay    string `json:"end_day,omitempty"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Participant struct {
	ID        string `json:"id"`
	CohortID  string `json:"cohort_id"`
	Name      string `json:"name"`
	Gender    string `json:"gender" enum:"male,female,unknown"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Submission is one participant's daily reading proof. ProgramDay is
// derived from SubmittedAt under the 2am cutoff rule at record time and
// stored so matching queries key directly on it.
type Submission struct {
	ID            string `json:"id"`
	CohortID      string `json:"cohort_id"`
	ParticipantID string `json:"participant_id"`
	ProgramDay    string `json:"program_day"`
	SubmittedAt   string `json:"submitted_at" format:"date-time"`
	Status        string `json:"status" enum:"draft,approved,rejected"`
	Review        string `json:"review,omitempty"`
	DailyAnswer   string `json:"daily_answer,omitempty"`
	CreatedAt     string `json:"created_at" format:"date-time"`
	UpdatedAt     string `json:"updated_at" format:"date-time"`
}

// RawAssignment is one viewer's entry inside a matching day record, in
// whichever historical shape it was persisted. Detection is structural;
// no version field is guaranteed to exist.
type RawAssignment struct {
	Assigned  []string `json:"assigned,omitempty"`
	ClusterID string   `json:"clusterId,omitempty"`
	Similar   []string `json:"similar,omitempty"`
	Opposite  []string `json:"opposite,omitempty"`
}

// FeaturedPair is the cohort-wide similar/opposite pair carried by v2
// records for an overview screen. Ignored for unlock decisions.
type FeaturedPair struct {
	Similar  []string `json:"similar,omitempty"`
	Opposite []string `json:"opposite,omitempty"`
}

// Cluster describes one AI-produced group in a v3 record.
type Cluster struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Emoji     string   `json:"emoji,omitempty"`
	Theme     string   `json:"theme,omitempty"`
	MemberIDs []string `json:"memberIds"`
	Reasoning string   `json:"reasoning,omitempty"`
}

// RawMatchingDay is the persisted matching document for one cohort day.
// Three generations coexist:
//   - v1: Similar/Opposite directly on the record, one flat pair.
//   - v2: Featured plus per-viewer Assignments (similar/opposite lists).
//   - v3: per-viewer Assignments with clusterId plus the Clusters map.
type RawMatchingDay struct {
	Featured    *FeaturedPair            `json:"featured,omitempty"`
	Assignments map[string]RawAssignment `json:"assignments,omitempty"`
	Similar     []string                 `json:"similar,omitempty"`
	Opposite    []string                 `json:"opposite,omitempty"`
	Clusters    map[string]Cluster       `json:"clusters,omitempty"`
}

// CanonicalAssignment is the unified in-memory shape every raw generation
// normalizes into.
type CanonicalAssignment struct {
	ViewerID    string   `json:"viewer_id"`
	AssignedIDs []string `json:"assigned_ids"`
	ClusterID   string   `json:"cluster_id,omitempty"`
}

// ParticipantMeta is the minimal projection the validator needs.
type ParticipantMeta struct {
	ID     string `json:"id"`
	Gender string `json:"gender" enum:"male,female,unknown"`
}

// ValidationReport aggregates every violation found in one pass.
type ValidationReport struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// MatchingDay pairs a stored raw document with its day key.
type MatchingDay struct {
	CohortID  string         `json:"cohort_id"`
	Day       string         `json:"day"`
	Raw       RawMatchingDay `json:"raw"`
	CreatedAt string         `json:"created_at" format:"date-time"`
	UpdatedAt string         `json:"updated_at" format:"date-time"`
}

// ProfileNote is operator-maintained profile book copy for a participant.
type ProfileNote struct {
	CohortID      string `json:"cohort_id"`
	ParticipantID string `json:"participant_id"`
	Note          string `json:"note"`
	CreatedAt     string `json:"created_at" format:"date-time"`
	UpdatedAt     string `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	CohortID   string `json:"cohort_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ValidationRun is a persisted record of one validator pass over a
// matching day. The core validator never writes these; the engine stores
// them on request so operators can review history.
type ValidationRun struct {
	ID        string   `json:"id"`
	CohortID  string   `json:"cohort_id"`
	Day       string   `json:"day"`
	Valid     bool     `json:"valid"`
	Errors    []string `json:"errors,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
	CreatedBy string   `json:"created_by"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}
