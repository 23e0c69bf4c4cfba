package server

import (
	"encoding/json"

	"bookmatch/internal/config"
	"bookmatch/internal/domain"
)

// Request payloads

type CreateCohortRequest struct {
	ID   string  `json:"id"`
	Name *string `json:"name,omitempty"`
}

type CreateParticipantRequest struct {
	ID     *string `json:"id,omitempty"`
	Name   string  `json:"name"`
	Gender *string `json:"gender,omitempty" enum:"male,female,unknown"`
}

type UpdateParticipantRequest struct {
	Name   *string `json:"name,omitempty"`
	Gender *string `json:"gender,omitempty" enum:"male,female,unknown"`
}

type SetProfileNoteRequest struct {
	Note string `json:"note"`
}

type RecordSubmissionRequest struct {
	ParticipantID string  `json:"participant_id"`
	SubmittedAt   *string `json:"submitted_at,omitempty" format:"date-time"`
	Review        *string `json:"review,omitempty"`
	DailyAnswer   *string `json:"daily_answer,omitempty"`
}

type ReviewSubmissionRequest struct {
	Review *string `json:"review,omitempty"`
}

type ImportMatchingRequest struct {
	Day      *string               `json:"day,omitempty"`
	Document domain.RawMatchingDay `json:"document"`
}

type RoleChangeRequest struct {
	ActorID string `json:"actor_id"`
	RoleID  string `json:"role_id,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Response payloads

type CohortResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ParticipantResponse struct {
	ID        string `json:"id"`
	CohortID  string `json:"cohort_id"`
	Name      string `json:"name"`
	Gender    string `json:"gender" enum:"male,female,unknown"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type SubmissionResponse struct {
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

type ProfileNoteResponse struct {
	CohortID      string `json:"cohort_id"`
	ParticipantID string `json:"participant_id"`
	Note          string `json:"note"`
	CreatedAt     string `json:"created_at" format:"date-time"`
	UpdatedAt     string `json:"updated_at" format:"date-time"`
}

type MatchingDayResponse struct {
	CohortID    string                                `json:"cohort_id"`
	Day         string                                `json:"day"`
	Document    domain.RawMatchingDay                 `json:"document"`
	Assignments map[string]domain.CanonicalAssignment `json:"assignments"`
	CreatedAt   string                                `json:"created_at" format:"date-time"`
	UpdatedAt   string                                `json:"updated_at" format:"date-time"`
}

type ValidationReportResponse struct {
	Day      string   `json:"day"`
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	RunID    string   `json:"run_id,omitempty"`
}

type ValidationRunResponse struct {
	ID        string   `json:"id"`
	CohortID  string   `json:"cohort_id"`
	Day       string   `json:"day"`
	Valid     bool     `json:"valid"`
	Errors    []string `json:"errors"`
	Warnings  []string `json:"warnings"`
	CreatedBy string   `json:"created_by"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	CohortID   string         `json:"cohort_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type CreateAPIKeyResponse struct {
	Key APIKeyResponse `json:"key"`
	// Secret is returned exactly once at creation.
	Secret string `json:"secret"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type CohortConfigResponse struct {
	Cohort struct {
		ID   string `json:"id"`
		Name string `json:"name,omitempty"`
	} `json:"cohort"`
	Time struct {
		UTCOffsetHours int `json:"utc_offset_hours"`
		CutoffHour     int `json:"cutoff_hour"`
	} `json:"time"`
	Matching struct {
		MinFanOut      int `json:"min_fanout"`
		MinClusterSize int `json:"min_cluster_size"`
		MaxClusterSize int `json:"max_cluster_size"`
		MinPerGender   int `json:"min_per_gender"`
	} `json:"matching"`
	Roles map[string]roleConfigSection `json:"roles"`
}

type roleConfigSection struct {
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
}

type paginatedSubmissions struct {
	Items      []SubmissionResponse `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func cohortResponse(c domain.Cohort) CohortResponse {
	return CohortResponse{
		ID:        c.ID,
		Name:      c.Name,
		Active:    c.Active,
		CreatedAt: c.CreatedAt,
	}
}

func participantResponse(p domain.Participant) ParticipantResponse {
	return ParticipantResponse(p)
}

func submissionResponse(s domain.Submission) SubmissionResponse {
	return SubmissionResponse(s)
}

func profileNoteResponse(n domain.ProfileNote) ProfileNoteResponse {
	return ProfileNoteResponse(n)
}

func matchingDayResponse(m domain.MatchingDay, assignments map[string]domain.CanonicalAssignment) MatchingDayResponse {
	if assignments == nil {
		assignments = map[string]domain.CanonicalAssignment{}
	}
	return MatchingDayResponse{
		CohortID:    m.CohortID,
		Day:         m.Day,
		Document:    m.Raw,
		Assignments: assignments,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func validationRunResponse(v domain.ValidationRun) ValidationRunResponse {
	return ValidationRunResponse{
		ID:        v.ID,
		CohortID:  v.CohortID,
		Day:       v.Day,
		Valid:     v.Valid,
		Errors:    nonNilSlice(v.Errors),
		Warnings:  nonNilSlice(v.Warnings),
		CreatedBy: v.CreatedBy,
		CreatedAt: v.CreatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		CohortID:   e.CohortID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:        k.ID,
		ActorID:   k.ActorID,
		Name:      k.Name,
		CreatedAt: k.CreatedAt,
	}
}

func configResponse(cfg *config.Config) CohortConfigResponse {
	var res CohortConfigResponse
	res.Cohort.ID = cfg.Cohort.ID
	res.Cohort.Name = cfg.Cohort.Name
	res.Time.UTCOffsetHours = cfg.UTCOffsetHours()
	res.Time.CutoffHour = cfg.CutoffHour()
	res.Matching.MinFanOut = cfg.Matching.MinFanOut
	res.Matching.MinClusterSize = cfg.Matching.MinClusterSize
	res.Matching.MaxClusterSize = cfg.Matching.MaxClusterSize
	res.Matching.MinPerGender = cfg.Matching.MinPerGender
	res.Roles = map[string]roleConfigSection{}
	for id, role := range cfg.RBAC.Roles {
		res.Roles[id] = roleConfigSection{
			Description: role.Description,
			Permissions: nonNilSlice(role.Permissions),
		}
	}
	return res
}

func mapCohorts(items []domain.Cohort) []CohortResponse {
	res := make([]CohortResponse, 0, len(items))
	for _, c := range items {
		res = append(res, cohortResponse(c))
	}
	return res
}

func mapParticipants(items []domain.Participant) []ParticipantResponse {
	res := make([]ParticipantResponse, 0, len(items))
	for _, p := range items {
		res = append(res, participantResponse(p))
	}
	return res
}

func mapSubmissions(items []domain.Submission) []SubmissionResponse {
	res := make([]SubmissionResponse, 0, len(items))
	for _, s := range items {
		res = append(res, submissionResponse(s))
	}
	return res
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
