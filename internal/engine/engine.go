package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bookmatch/internal/config"
	"bookmatch/internal/domain"
	"bookmatch/internal/engine/auth"
	"bookmatch/internal/events"
	"bookmatch/internal/matching"
	"bookmatch/internal/programday"
	"bookmatch/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Config *config.Config
	Rules  programday.Rules
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	rules := programday.Rules{}
	if cfg != nil {
		rules = programday.Rules{
			Location:   time.FixedZone(fmt.Sprintf("UTC%+d", cfg.UTCOffsetHours()), cfg.UTCOffsetHours()*3600),
			CutoffHour: cfg.CutoffHour(),
		}
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Auth:   auth.Service{DB: db},
		Config: cfg,
		Rules:  rules,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) rules() programday.Rules {
	if e.Rules.Location != nil {
		return e.Rules
	}
	return programday.Default()
}

// RequirePermission resolves RBAC for admin operations. Read paths never
// call this.
func (e Engine) RequirePermission(ctx context.Context, cohortID, actorID, perm string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ok, err := e.Auth.ActorHasPermission(ctx, tx, e.Config, cohortID, actorID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return auth.ForbiddenError{Permission: perm}
	}
	return tx.Commit()
}

// InitCohort creates a cohort with its default config, migrations already run.
func (e Engine) InitCohort(ctx context.Context, cohortID, name, actorID string) (domain.Cohort, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Cohort{}, err
	}
	defer tx.Rollback()

	if name == "" {
		name = cohortID
	}
	c := domain.Cohort{
		ID:        cohortID,
		Name:      name,
		Active:    true,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO cohorts(id,name,active,created_at) VALUES (?,?,?,?)`,
		c.ID, c.Name, 1, c.CreatedAt); err != nil {
		return domain.Cohort{}, fmt.Errorf("insert cohort: %w", err)
	}
	cfg := e.Config
	if cfg == nil {
		cfg = config.Default(cohortID)
	}
	if err := e.Repo.UpsertCohortConfigTx(ctx, tx, c.ID, cfg); err != nil {
		return domain.Cohort{}, fmt.Errorf("insert cohort config: %w", err)
	}
	if actorID != "" && len(cfg.RBAC.Roles) > 0 {
		if err := e.Repo.AssignRole(ctx, tx, c.ID, actorID, "owner", c.CreatedAt); err != nil {
			return domain.Cohort{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "cohort.init", c.ID, "cohort", c.ID, actorID, events.EventPayload{"name": c.Name}); err != nil {
		return domain.Cohort{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Cohort{}, err
	}
	return c, nil
}

// ParticipantCreateOptions are parameters for enrolling a participant.
type ParticipantCreateOptions struct {
	ID       string
	CohortID string
	Name     string
	Gender   string
	ActorID  string
}

func (e Engine) AddParticipant(ctx context.Context, opts ParticipantCreateOptions) (domain.Participant, error) {
	if opts.Name == "" {
		return domain.Participant{}, errors.New("name is required")
	}
	if opts.CohortID == "" {
		return domain.Participant{}, errors.New("cohort is required")
	}
	switch opts.Gender {
	case domain.GenderMale, domain.GenderFemale, domain.GenderUnknown:
	case "":
		opts.Gender = domain.GenderUnknown
	default:
		return domain.Participant{}, fmt.Errorf("invalid gender %q", opts.Gender)
	}
	if _, err := e.Repo.GetCohort(ctx, opts.CohortID); err != nil {
		return domain.Participant{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.CohortID+"|"+opts.Name+"|"+now)).String()
	}
	p := domain.Participant{
		ID:        id,
		CohortID:  opts.CohortID,
		Name:      opts.Name,
		Gender:    opts.Gender,
		CreatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Participant{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertParticipant(ctx, tx, p); err != nil {
		return domain.Participant{}, err
	}
	if err := e.Events.Append(ctx, tx, "participant.added", p.CohortID, "participant", p.ID, opts.ActorID, events.EventPayload{
		"name": p.Name, "gender": p.Gender,
	}); err != nil {
		return domain.Participant{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Participant{}, err
	}
	return p, nil
}

// SetProfileNote stores the operator-written profile book copy.
func (e Engine) SetProfileNote(ctx context.Context, cohortID, participantID, note, actorID string) (domain.ProfileNote, error) {
	p, err := e.Repo.GetParticipant(ctx, participantID)
	if err != nil {
		return domain.ProfileNote{}, err
	}
	if p.CohortID != cohortID {
		return domain.ProfileNote{}, fmt.Errorf("participant %s not in cohort %s", participantID, cohortID)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProfileNote{}, err
	}
	defer tx.Rollback()
	pn, err := e.Repo.UpsertProfileNoteTx(ctx, tx, cohortID, participantID, note)
	if err != nil {
		return domain.ProfileNote{}, err
	}
	if err := e.Events.Append(ctx, tx, "profile.note.set", cohortID, "participant", participantID, actorID, nil); err != nil {
		return domain.ProfileNote{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProfileNote{}, err
	}
	return pn, nil
}

// SubmissionRecordOptions are parameters for recording a reading proof.
type SubmissionRecordOptions struct {
	CohortID      string
	ParticipantID string
	// SubmittedAt is an RFC3339 instant; empty means now. Program day
	// attribution is derived from it at record time.
	SubmittedAt string
	Review      string
	DailyAnswer string
	ActorID     string
}

// RecordSubmission stores a proof attributed to the program day in effect
// at the submission instant. One submission per participant per day; a
// resubmission replaces the content.
func (e Engine) RecordSubmission(ctx context.Context, opts SubmissionRecordOptions) (domain.Submission, error) {
	p, err := e.Repo.GetParticipant(ctx, opts.ParticipantID)
	if err != nil {
		return domain.Submission{}, err
	}
	if opts.CohortID != "" && p.CohortID != opts.CohortID {
		return domain.Submission{}, fmt.Errorf("participant %s not in cohort %s", opts.ParticipantID, opts.CohortID)
	}
	at := e.now()
	if opts.SubmittedAt != "" {
		at, err = time.Parse(time.RFC3339, opts.SubmittedAt)
		if err != nil {
			return domain.Submission{}, fmt.Errorf("submitted-at: %w", err)
		}
	}
	day := e.rules().ProgramDay(at)
	now := e.now().UTC().Format(time.RFC3339)
	s := domain.Submission{
		ID:            uuid.NewString(),
		CohortID:      p.CohortID,
		ParticipantID: p.ID,
		ProgramDay:    day,
		SubmittedAt:   at.UTC().Format(time.RFC3339),
		Status:        domain.SubmissionDraft,
		Review:        opts.Review,
		DailyAnswer:   opts.DailyAnswer,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Submission{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertSubmissionTx(ctx, tx, s); err != nil {
		return domain.Submission{}, err
	}
	stored, err := e.Repo.SubmissionForDayTx(ctx, tx, p.ID, day)
	if err != nil {
		return domain.Submission{}, err
	}
	if err := e.Events.Append(ctx, tx, "submission.recorded", p.CohortID, "submission", stored.ID, opts.ActorID, events.EventPayload{
		"participant_id": p.ID,
		"program_day":    day,
	}); err != nil {
		return domain.Submission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Submission{}, err
	}
	return stored, nil
}

func ensureSubmissionTransition(oldStatus, newStatus string) error {
	if oldStatus == newStatus {
		return fmt.Errorf("submission already %s", oldStatus)
	}
	switch oldStatus {
	case domain.SubmissionDraft:
		if newStatus == domain.SubmissionApproved || newStatus == domain.SubmissionRejected {
			return nil
		}
	case domain.SubmissionApproved:
		if newStatus == domain.SubmissionRejected {
			return nil
		}
	case domain.SubmissionRejected:
		if newStatus == domain.SubmissionApproved {
			return nil
		}
	}
	return fmt.Errorf("invalid submission status transition %s -> %s", oldStatus, newStatus)
}

// SetSubmissionStatus moves a submission through review.
func (e Engine) SetSubmissionStatus(ctx context.Context, submissionID, status, review, actorID string) (domain.Submission, error) {
	s, err := e.Repo.GetSubmission(ctx, submissionID)
	if err != nil {
		return s, err
	}
	if err := ensureSubmissionTransition(s.Status, status); err != nil {
		return s, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	updatedAt := e.now().UTC().Format(time.RFC3339)
	if review == "" {
		review = s.Review
	}
	if err := e.Repo.UpdateSubmissionStatusTx(ctx, tx, s.ID, status, review, updatedAt); err != nil {
		return s, err
	}
	if err := e.Events.Append(ctx, tx, "submission."+status, s.CohortID, "submission", s.ID, actorID, events.EventPayload{
		"participant_id": s.ParticipantID,
		"program_day":    s.ProgramDay,
		"from_status":    s.Status,
	}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	s.Status = status
	s.Review = review
	s.UpdatedAt = updatedAt
	return s, nil
}

// MatchingImportOptions are parameters for storing a matching document.
type MatchingImportOptions struct {
	CohortID string
	// Day is the matching target day; empty means the target day in
	// effect now.
	Day     string
	Raw     domain.RawMatchingDay
	ActorID string
}

// ImportMatching stores one day's matching document in whichever
// generation shape it arrives in. Import never rejects an invalid
// document; run the validator for the report.
func (e Engine) ImportMatching(ctx context.Context, opts MatchingImportOptions) (domain.MatchingDay, error) {
	if opts.CohortID == "" {
		return domain.MatchingDay{}, errors.New("cohort is required")
	}
	if _, err := e.Repo.GetCohort(ctx, opts.CohortID); err != nil {
		return domain.MatchingDay{}, err
	}
	day := opts.Day
	if day == "" {
		day = e.rules().MatchingTargetDay(e.now())
	}
	if _, err := programday.ParseDay(day); err != nil {
		return domain.MatchingDay{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	m := domain.MatchingDay{
		CohortID:  opts.CohortID,
		Day:       day,
		Raw:       opts.Raw,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.MatchingDay{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertMatchingDayTx(ctx, tx, m); err != nil {
		return domain.MatchingDay{}, err
	}
	if err := e.Events.Append(ctx, tx, "matching.imported", m.CohortID, "matching_day", m.Day, opts.ActorID, events.EventPayload{
		"assignments": len(opts.Raw.Assignments),
		"clusters":    len(opts.Raw.Clusters),
	}); err != nil {
		return domain.MatchingDay{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.MatchingDay{}, err
	}
	return m, nil
}

// MatchingForDay returns the stored document plus its normalized form.
func (e Engine) MatchingForDay(ctx context.Context, cohortID, day string) (domain.MatchingDay, map[string]domain.CanonicalAssignment, error) {
	m, err := e.Repo.GetMatchingDay(ctx, cohortID, day)
	if err != nil {
		return m, nil, err
	}
	return m, matching.NormalizeDay(m.Raw), nil
}

func (e Engine) validateOptions() matching.ValidateOptions {
	opts := matching.ValidateOptions{}
	if e.Config != nil {
		opts.MinFanOut = e.Config.Matching.MinFanOut
		opts.MinClusterSize = e.Config.Matching.MinClusterSize
		opts.MaxClusterSize = e.Config.Matching.MaxClusterSize
	}
	return opts
}

// MatchingValidateOptions are parameters for a validator pass.
type MatchingValidateOptions struct {
	CohortID string
	Day      string
	// Persist stores the report as a validation run for later review.
	Persist bool
	ActorID string
}

// ValidateMatching runs the structural and balance checks over one stored
// day. The report is advisory and never blocks unlock evaluation.
func (e Engine) ValidateMatching(ctx context.Context, opts MatchingValidateOptions) (domain.ValidationReport, *domain.ValidationRun, error) {
	m, err := e.Repo.GetMatchingDay(ctx, opts.CohortID, opts.Day)
	if err != nil {
		return domain.ValidationReport{}, nil, err
	}
	meta, err := e.Repo.ParticipantMeta(ctx, opts.CohortID)
	if err != nil {
		return domain.ValidationReport{}, nil, err
	}
	report := matching.Validate(matching.NormalizeDay(m.Raw), meta, m.Raw.Clusters, e.validateOptions())
	if !opts.Persist {
		return report, nil, nil
	}
	run := domain.ValidationRun{
		ID:        uuid.NewString(),
		CohortID:  opts.CohortID,
		Day:       opts.Day,
		Valid:     report.Valid,
		Errors:    report.Errors,
		Warnings:  report.Warnings,
		CreatedBy: opts.ActorID,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return report, nil, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.CreateValidationRunTx(ctx, tx, run); err != nil {
		return report, nil, err
	}
	if err := e.Events.Append(ctx, tx, "matching.validated", opts.CohortID, "matching_day", opts.Day, opts.ActorID, events.EventPayload{
		"valid":    report.Valid,
		"errors":   len(report.Errors),
		"warnings": len(report.Warnings),
	}); err != nil {
		return report, nil, err
	}
	if err := tx.Commit(); err != nil {
		return report, nil, err
	}
	return report, &run, nil
}

// CheckMatchingInputs verifies cohort gender data before an upstream
// clustering run is triggered.
func (e Engine) CheckMatchingInputs(ctx context.Context, cohortID string) (matching.GenderDistribution, error) {
	meta, err := e.Repo.ParticipantMeta(ctx, cohortID)
	if err != nil {
		return matching.GenderDistribution{}, err
	}
	minPerGender := 0
	if e.Config != nil {
		minPerGender = e.Config.Matching.MinPerGender
	}
	return matching.CheckGenderDistribution(meta, minPerGender), nil
}

// UnlockResult is one viewer-target unlock decision with its provenance.
type UnlockResult struct {
	State            domain.UnlockState         `json:"state"`
	ProgramDay       string                     `json:"program_day"`
	TargetDay        string                     `json:"target_day"`
	MatchedDay       string                     `json:"matched_day,omitempty"`
	SubmissionStatus string                     `json:"submission_status,omitempty"`
	Assignment       domain.CanonicalAssignment `json:"assignment"`
}

// EvaluateUnlock answers whether the target's profile renders fully for
// the viewer at the given instant. A zero instant means now.
func (e Engine) EvaluateUnlock(ctx context.Context, cohortID, viewerID, targetID string, at time.Time) (UnlockResult, error) {
	if at.IsZero() {
		at = e.now()
	}
	rules := e.rules()
	res := UnlockResult{
		State:      domain.Locked,
		ProgramDay: rules.ProgramDay(at),
		TargetDay:  rules.MatchingTargetDay(at),
	}
	if _, err := e.Repo.GetParticipant(ctx, viewerID); err != nil {
		return res, err
	}
	sub, err := e.Repo.SubmissionForDay(ctx, viewerID, res.TargetDay)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return res, err
	}
	if err == nil {
		res.SubmissionStatus = sub.Status
	}
	days, err := e.Repo.MatchingDays(ctx, cohortID)
	if err != nil {
		return res, err
	}
	hit := matching.FindLatest(days, viewerID, matching.LookupOptions{PreferredDay: res.TargetDay})
	if hit == nil {
		return res, nil
	}
	res.MatchedDay = hit.Day
	res.Assignment = hit.Assignment
	res.State = matching.Unlock(viewerID, targetID, res.SubmissionStatus, hit.Assignment)
	return res, nil
}

// LibraryEntry is one profile card in the viewer's daily library.
type LibraryEntry struct {
	Participant domain.Participant `json:"participant"`
	Note        string             `json:"note,omitempty"`
	State       domain.UnlockState `json:"state"`
}

// LibraryView is what the viewer sees for the governing day.
type LibraryView struct {
	ProgramDay       string             `json:"program_day"`
	TargetDay        string             `json:"target_day"`
	MatchedDay       string             `json:"matched_day,omitempty"`
	ClusterID        string             `json:"cluster_id,omitempty"`
	Cluster          *domain.Cluster    `json:"cluster,omitempty"`
	SubmissionStatus string             `json:"submission_status,omitempty"`
	Entries          []LibraryEntry     `json:"entries"`
	Allowance        matching.Allowance `json:"allowance"`
}

// Library resolves the viewer's assigned profiles for the governing day,
// each with its unlock state. Falls back to the most recent day that
// includes the viewer when the target day has no record for them.
func (e Engine) Library(ctx context.Context, cohortID, viewerID string, at time.Time) (LibraryView, error) {
	if at.IsZero() {
		at = e.now()
	}
	rules := e.rules()
	view := LibraryView{
		ProgramDay: rules.ProgramDay(at),
		TargetDay:  rules.MatchingTargetDay(at),
		Entries:    []LibraryEntry{},
	}
	if _, err := e.Repo.GetParticipant(ctx, viewerID); err != nil {
		return view, err
	}
	sub, err := e.Repo.SubmissionForDay(ctx, viewerID, view.TargetDay)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return view, err
	}
	if err == nil {
		view.SubmissionStatus = sub.Status
	}
	approvedDays, err := e.Repo.CountApprovedDays(ctx, viewerID)
	if err != nil {
		return view, err
	}
	view.Allowance = matching.ComputeAllowance(approvedDays, view.SubmissionStatus == domain.SubmissionApproved)

	days, err := e.Repo.MatchingDays(ctx, cohortID)
	if err != nil {
		return view, err
	}
	hit := matching.FindLatest(days, viewerID, matching.LookupOptions{PreferredDay: view.TargetDay})
	if hit == nil {
		return view, nil
	}
	view.MatchedDay = hit.Day
	view.ClusterID = hit.Assignment.ClusterID
	if cl, ok := hit.Clusters[hit.Assignment.ClusterID]; ok {
		view.Cluster = &cl
	}
	for _, targetID := range hit.Assignment.AssignedIDs {
		p, err := e.Repo.GetParticipant(ctx, targetID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				// dangling reference; the validator reports these
				continue
			}
			return view, err
		}
		entry := LibraryEntry{
			Participant: p,
			State:       matching.Unlock(viewerID, targetID, view.SubmissionStatus, hit.Assignment),
		}
		if note, err := e.Repo.GetProfileNote(ctx, cohortID, targetID); err == nil {
			entry.Note = note.Note
		} else if !errors.Is(err, repo.ErrNotFound) {
			return view, err
		}
		view.Entries = append(view.Entries, entry)
	}
	return view, nil
}

// AccessSummary is the viewer's standing at an instant: day resolution,
// verification, and book budget.
type AccessSummary struct {
	ProgramDay       string             `json:"program_day"`
	TargetDay        string             `json:"target_day"`
	SubmissionStatus string             `json:"submission_status,omitempty"`
	Allowance        matching.Allowance `json:"allowance"`
}

func (e Engine) AccessSummaryFor(ctx context.Context, viewerID string, at time.Time) (AccessSummary, error) {
	if at.IsZero() {
		at = e.now()
	}
	rules := e.rules()
	sum := AccessSummary{
		ProgramDay: rules.ProgramDay(at),
		TargetDay:  rules.MatchingTargetDay(at),
	}
	if _, err := e.Repo.GetParticipant(ctx, viewerID); err != nil {
		return sum, err
	}
	sub, err := e.Repo.SubmissionForDay(ctx, viewerID, sum.TargetDay)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return sum, err
	}
	if err == nil {
		sum.SubmissionStatus = sub.Status
	}
	approvedDays, err := e.Repo.CountApprovedDays(ctx, viewerID)
	if err != nil {
		return sum, err
	}
	sum.Allowance = matching.ComputeAllowance(approvedDays, sum.SubmissionStatus == domain.SubmissionApproved)
	return sum, nil
}

// CreateAPIKey mints a key, returning the plaintext secret exactly once.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name string) (domain.APIKey, string, error) {
	if actorID == "" {
		return domain.APIKey{}, "", errors.New("actor_id required")
	}
	secret := uuid.NewString() + uuid.NewString()
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := e.Events.Append(ctx, tx, "apikey.created", "", "api_key", key.ID, actorID, events.EventPayload{"name": name}); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, secret, nil
}

// RevokeRole removes an actor's role binding for a cohort.
func (e Engine) RevokeRole(ctx context.Context, cohortID, actorID, byActor string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RevokeRole(ctx, tx, cohortID, actorID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "role.revoked", cohortID, "actor", actorID, byActor, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// AssignRole binds an actor to a config-defined role for a cohort.
func (e Engine) AssignRole(ctx context.Context, cohortID, actorID, roleID, byActor string) error {
	if e.Config != nil && len(e.Config.RBAC.Roles) > 0 {
		if _, ok := e.Config.RBAC.Roles[roleID]; !ok {
			return fmt.Errorf("role %s not defined in config", roleID)
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.AssignRole(ctx, tx, cohortID, actorID, roleID, now); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "role.assigned", cohortID, "actor", actorID, byActor, events.EventPayload{"role": roleID}); err != nil {
		return err
	}
	return tx.Commit()
}
