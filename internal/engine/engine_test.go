package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"bookmatch/internal/config"
	"bookmatch/internal/db"
	"bookmatch/internal/domain"
	"bookmatch/internal/engine"
	"bookmatch/internal/engine/auth"
	"bookmatch/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

// 12:00 KST on 2025-11-10: program day 2025-11-10, target day 2025-11-09.
var testNow = time.Date(2025, 11, 10, 3, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("cohort-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return testNow }
	ctx := context.Background()
	if _, err := eng.InitCohort(ctx, "cohort-1", "test cohort", "tester"); err != nil {
		t.Fatalf("init cohort: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func addParticipant(t *testing.T, env testEnv, id, gender string) domain.Participant {
	t.Helper()
	p, err := env.Engine.AddParticipant(env.Ctx, engine.ParticipantCreateOptions{
		ID:       id,
		CohortID: "cohort-1",
		Name:     id,
		Gender:   gender,
		ActorID:  "tester",
	})
	if err != nil {
		t.Fatalf("add participant %s: %v", id, err)
	}
	return p
}

func TestRecordSubmissionAttribution(t *testing.T) {
	env := newTestEnv(t)
	addParticipant(t, env, "p1", "female")

	// 01:30 local falls before the cutoff: previous program day.
	early, err := env.Engine.RecordSubmission(env.Ctx, engine.SubmissionRecordOptions{
		CohortID:      "cohort-1",
		ParticipantID: "p1",
		SubmittedAt:   "2025-11-10T01:30:00+09:00",
		Review:        "late night reading",
		ActorID:       "p1",
	})
	if err != nil {
		t.Fatalf("record early: %v", err)
	}
	if early.ProgramDay != "2025-11-09" {
		t.Fatalf("program day = %s, want 2025-11-09", early.ProgramDay)
	}
	if early.Status != domain.SubmissionDraft {
		t.Fatalf("status = %s", early.Status)
	}

	// 02:00 local is on or after the cutoff: calendar day.
	late, err := env.Engine.RecordSubmission(env.Ctx, engine.SubmissionRecordOptions{
		CohortID:      "cohort-1",
		ParticipantID: "p1",
		SubmittedAt:   "2025-11-10T02:00:00+09:00",
		ActorID:       "p1",
	})
	if err != nil {
		t.Fatalf("record late: %v", err)
	}
	if late.ProgramDay != "2025-11-10" {
		t.Fatalf("program day = %s, want 2025-11-10", late.ProgramDay)
	}
	if late.ID == early.ID {
		t.Fatalf("distinct program days must be distinct rows")
	}

	// Resubmitting the same day replaces content, not the row.
	again, err := env.Engine.RecordSubmission(env.Ctx, engine.SubmissionRecordOptions{
		CohortID:      "cohort-1",
		ParticipantID: "p1",
		SubmittedAt:   "2025-11-10T01:45:00+09:00",
		Review:        "revised",
		ActorID:       "p1",
	})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if again.ID != early.ID {
		t.Fatalf("resubmission created a new row: %s vs %s", again.ID, early.ID)
	}
	if again.Review != "revised" {
		t.Fatalf("review = %q", again.Review)
	}
}

func TestSubmissionStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	addParticipant(t, env, "p1", "male")
	s, err := env.Engine.RecordSubmission(env.Ctx, engine.SubmissionRecordOptions{
		CohortID: "cohort-1", ParticipantID: "p1", ActorID: "p1",
	})
	if err != nil {
		t.Fatal(err)
	}
	s, err = env.Engine.SetSubmissionStatus(env.Ctx, s.ID, domain.SubmissionApproved, "good", "tester")
	if err != nil || s.Status != domain.SubmissionApproved {
		t.Fatalf("to approved: %v", err)
	}
	if _, err := env.Engine.SetSubmissionStatus(env.Ctx, s.ID, domain.SubmissionApproved, "", "tester"); err == nil {
		t.Fatalf("expected error approving twice")
	}
	s, err = env.Engine.SetSubmissionStatus(env.Ctx, s.ID, domain.SubmissionRejected, "actually not", "tester")
	if err != nil || s.Status != domain.SubmissionRejected {
		t.Fatalf("to rejected: %v", err)
	}
	if _, err := env.Engine.SetSubmissionStatus(env.Ctx, s.ID, domain.SubmissionApproved, "", "tester"); err != nil {
		t.Fatalf("rejected -> approved should pass: %v", err)
	}
}

func seedMatchingDay(t *testing.T, env testEnv, day string) {
	t.Helper()
	_, err := env.Engine.ImportMatching(env.Ctx, engine.MatchingImportOptions{
		CohortID: "cohort-1",
		Day:      day,
		Raw: domain.RawMatchingDay{
			Assignments: map[string]domain.RawAssignment{
				"v": {Assigned: []string{"a", "b"}, ClusterID: "c1"},
				"a": {Assigned: []string{"v", "b"}, ClusterID: "c1"},
				"b": {Assigned: []string{"v", "a"}, ClusterID: "c1"},
			},
			Clusters: map[string]domain.Cluster{
				"c1": {ID: "c1", Name: "느긋한 탐험가들", MemberIDs: []string{"v", "a", "b"}},
			},
		},
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("import matching %s: %v", day, err)
	}
}

func TestUnlockFlow(t *testing.T) {
	env := newTestEnv(t)
	addParticipant(t, env, "v", "female")
	addParticipant(t, env, "a", "male")
	addParticipant(t, env, "b", "male")
	addParticipant(t, env, "x", "female")
	seedMatchingDay(t, env, "2025-11-09")

	// No submission yet: everything locked.
	res, err := env.Engine.EvaluateUnlock(env.Ctx, "cohort-1", "v", "a", time.Time{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.State != domain.Locked {
		t.Fatalf("state = %s before any submission", res.State)
	}
	if res.TargetDay != "2025-11-09" {
		t.Fatalf("target day = %s", res.TargetDay)
	}

	s, err := env.Engine.RecordSubmission(env.Ctx, engine.SubmissionRecordOptions{
		CohortID:      "cohort-1",
		ParticipantID: "v",
		SubmittedAt:   "2025-11-09T22:00:00+09:00",
		ActorID:       "v",
	})
	if err != nil {
		t.Fatal(err)
	}

	// Draft still locks.
	res, err = env.Engine.EvaluateUnlock(env.Ctx, "cohort-1", "v", "a", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if res.State != domain.Locked {
		t.Fatalf("draft submission must not unlock, got %s", res.State)
	}

	if _, err := env.Engine.SetSubmissionStatus(env.Ctx, s.ID, domain.SubmissionApproved, "", "tester"); err != nil {
		t.Fatal(err)
	}

	res, err = env.Engine.EvaluateUnlock(env.Ctx, "cohort-1", "v", "a", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if res.State != domain.Unlocked {
		t.Fatalf("state = %s, want UNLOCKED", res.State)
	}
	if res.MatchedDay != "2025-11-09" {
		t.Fatalf("matched day = %s", res.MatchedDay)
	}

	// Unassigned target stays locked even for a verified viewer.
	res, err = env.Engine.EvaluateUnlock(env.Ctx, "cohort-1", "v", "x", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if res.State != domain.Locked {
		t.Fatalf("unassigned target: got %s", res.State)
	}
}

func TestUnlockFallsBackToLatestMatchedDay(t *testing.T) {
	env := newTestEnv(t)
	addParticipant(t, env, "v", "female")
	addParticipant(t, env, "a", "male")
	addParticipant(t, env, "b", "male")
	// Only an older record exists; the target day has no matching yet.
	seedMatchingDay(t, env, "2025-11-05")

	s, err := env.Engine.RecordSubmission(env.Ctx, engine.SubmissionRecordOptions{
		CohortID:      "cohort-1",
		ParticipantID: "v",
		SubmittedAt:   "2025-11-09T22:00:00+09:00",
		ActorID:       "v",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetSubmissionStatus(env.Ctx, s.ID, domain.SubmissionApproved, "", "tester"); err != nil {
		t.Fatal(err)
	}

	res, err := env.Engine.EvaluateUnlock(env.Ctx, "cohort-1", "v", "a", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if res.MatchedDay != "2025-11-05" {
		t.Fatalf("matched day = %s, want fallback to 2025-11-05", res.MatchedDay)
	}
	if res.State != domain.Unlocked {
		t.Fatalf("state = %s", res.State)
	}
}

func TestImportMatchingDefaultsToTargetDay(t *testing.T) {
	env := newTestEnv(t)
	m, err := env.Engine.ImportMatching(env.Ctx, engine.MatchingImportOptions{
		CohortID: "cohort-1",
		Raw:      domain.RawMatchingDay{Assignments: map[string]domain.RawAssignment{}},
		ActorID:  "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if m.Day != "2025-11-09" {
		t.Fatalf("day = %s, want target day 2025-11-09", m.Day)
	}
}

func TestValidateMatchingPersistsRun(t *testing.T) {
	env := newTestEnv(t)
	addParticipant(t, env, "v", "female")
	addParticipant(t, env, "a", "male")
	_, err := env.Engine.ImportMatching(env.Ctx, engine.MatchingImportOptions{
		CohortID: "cohort-1",
		Day:      "2025-11-09",
		Raw: domain.RawMatchingDay{
			Assignments: map[string]domain.RawAssignment{
				"v": {Assigned: []string{"v", "a"}},
			},
		},
		ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	report, run, err := env.Engine.ValidateMatching(env.Ctx, engine.MatchingValidateOptions{
		CohortID: "cohort-1", Day: "2025-11-09", Persist: true, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if report.Valid {
		t.Fatalf("self-assignment should invalidate")
	}
	if run == nil || run.ID == "" {
		t.Fatalf("expected persisted run")
	}
	runs, err := env.Engine.Repo.ListValidationRuns(env.Ctx, "cohort-1", "2025-11-09")
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Valid {
		t.Fatalf("runs = %+v", runs)
	}
}

func TestLibraryAndAllowance(t *testing.T) {
	env := newTestEnv(t)
	addParticipant(t, env, "v", "female")
	addParticipant(t, env, "a", "male")
	addParticipant(t, env, "b", "male")
	seedMatchingDay(t, env, "2025-11-09")
	if _, err := env.Engine.SetProfileNote(env.Ctx, "cohort-1", "a", "loves sci-fi", "tester"); err != nil {
		t.Fatal(err)
	}

	view, err := env.Engine.Library(env.Ctx, "cohort-1", "v", time.Time{})
	if err != nil {
		t.Fatalf("library: %v", err)
	}
	if len(view.Entries) != 2 {
		t.Fatalf("entries = %d", len(view.Entries))
	}
	for _, e := range view.Entries {
		if e.State != domain.Locked {
			t.Fatalf("unverified viewer should see locked cards, got %s for %s", e.State, e.Participant.ID)
		}
	}
	if view.Allowance.UnlockedBooks != 2 {
		t.Fatalf("unverified allowance = %d", view.Allowance.UnlockedBooks)
	}
	if view.Cluster == nil || view.Cluster.Name != "느긋한 탐험가들" {
		t.Fatalf("cluster = %+v", view.Cluster)
	}

	s, err := env.Engine.RecordSubmission(env.Ctx, engine.SubmissionRecordOptions{
		CohortID:      "cohort-1",
		ParticipantID: "v",
		SubmittedAt:   "2025-11-09T22:00:00+09:00",
		ActorID:       "v",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetSubmissionStatus(env.Ctx, s.ID, domain.SubmissionApproved, "", "tester"); err != nil {
		t.Fatal(err)
	}

	view, err = env.Engine.Library(env.Ctx, "cohort-1", "v", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	var noted bool
	for _, e := range view.Entries {
		if e.State != domain.Unlocked {
			t.Fatalf("verified viewer should see %s unlocked", e.Participant.ID)
		}
		if e.Participant.ID == "a" && e.Note == "loves sci-fi" {
			noted = true
		}
	}
	if !noted {
		t.Fatalf("profile note missing from library")
	}
	// one approved day: 2*(1+2) books, all open today
	if view.Allowance.TotalBooks != 6 || view.Allowance.UnlockedBooks != 6 {
		t.Fatalf("allowance = %+v", view.Allowance)
	}
}

func TestAccessSummary(t *testing.T) {
	env := newTestEnv(t)
	addParticipant(t, env, "v", "female")
	sum, err := env.Engine.AccessSummaryFor(env.Ctx, "v", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if sum.ProgramDay != "2025-11-10" || sum.TargetDay != "2025-11-09" {
		t.Fatalf("days = %s / %s", sum.ProgramDay, sum.TargetDay)
	}
	if sum.Allowance.VerifiedToday {
		t.Fatalf("no submission yet")
	}
}

func TestPermissions(t *testing.T) {
	env := newTestEnv(t)
	// InitCohort bound "tester" to owner.
	if err := env.Engine.RequirePermission(env.Ctx, "cohort-1", "tester", "matching.import"); err != nil {
		t.Fatalf("owner should import: %v", err)
	}
	err := env.Engine.RequirePermission(env.Ctx, "cohort-1", "stranger", "matching.import")
	var forbidden auth.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
	if err := env.Engine.AssignRole(env.Ctx, "cohort-1", "stranger", "operator", "tester"); err != nil {
		t.Fatalf("assign role: %v", err)
	}
	if err := env.Engine.RequirePermission(env.Ctx, "cohort-1", "stranger", "matching.import"); err != nil {
		t.Fatalf("operator should import: %v", err)
	}
	if err := env.Engine.AssignRole(env.Ctx, "cohort-1", "someone", "astronaut", "tester"); err == nil {
		t.Fatalf("expected unknown role error")
	}
}

func TestCheckMatchingInputs(t *testing.T) {
	env := newTestEnv(t)
	addParticipant(t, env, "m1", "male")
	addParticipant(t, env, "m2", "male")
	addParticipant(t, env, "f1", "female")
	dist, err := env.Engine.CheckMatchingInputs(env.Ctx, "cohort-1")
	if err != nil {
		t.Fatal(err)
	}
	// default config wants two per gender
	if dist.Valid {
		t.Fatalf("one female should fail the minimum: %+v", dist)
	}
	addParticipant(t, env, "f2", "female")
	dist, err = env.Engine.CheckMatchingInputs(env.Ctx, "cohort-1")
	if err != nil {
		t.Fatal(err)
	}
	if !dist.Valid {
		t.Fatalf("expected valid distribution: %+v", dist)
	}
}

func TestEventAppendOnStateChanges(t *testing.T) {
	env := newTestEnv(t)
	addParticipant(t, env, "p1", "male")
	s, err := env.Engine.RecordSubmission(env.Ctx, engine.SubmissionRecordOptions{
		CohortID: "cohort-1", ParticipantID: "p1", ActorID: "p1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetSubmissionStatus(env.Ctx, s.ID, domain.SubmissionApproved, "", "tester"); err != nil {
		t.Fatal(err)
	}
	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT type FROM events WHERE entity_id=?`, s.ID)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	defer rows.Close()
	count := 0
	for rows.Next() {
		count++
	}
	if count < 2 {
		t.Fatalf("expected record and approve events, got %d", count)
	}
}
