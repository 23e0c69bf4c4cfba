package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"bookmatch/internal/config"
	"bookmatch/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertCohort(ctx context.Context, c domain.Cohort) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO cohorts(id,name,start_day,end_day,active,created_at) VALUES (?,?,?,?,?,?)`,
		c.ID, c.Name, nullable(c.StartDay), nullable(c.EndDay), boolInt(c.Active), c.CreatedAt)
	return err
}

func (r Repo) GetCohort(ctx context.Context, id string) (domain.Cohort, error) {
	return scanCohort(r.DB.QueryRowContext(ctx,
		`SELECT id,name,COALESCE(start_day,''),COALESCE(end_day,''),active,created_at FROM cohorts WHERE id=?`, id))
}

func scanCohort(row *sql.Row) (domain.Cohort, error) {
	var c domain.Cohort
	var active int
	err := row.Scan(&c.ID, &c.Name, &c.StartDay, &c.EndDay, &active, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	c.Active = active != 0
	return c, err
}

// SingleCohort resolves the only cohort in the workspace, erroring when the
// choice is ambiguous.
func (r Repo) SingleCohort(ctx context.Context) (domain.Cohort, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,name,COALESCE(start_day,''),COALESCE(end_day,''),active,created_at FROM cohorts`)
	if err != nil {
		return domain.Cohort{}, err
	}
	defer rows.Close()
	var cohorts []domain.Cohort
	for rows.Next() {
		var c domain.Cohort
		var active int
		if err := rows.Scan(&c.ID, &c.Name, &c.StartDay, &c.EndDay, &active, &c.CreatedAt); err != nil {
			return domain.Cohort{}, err
		}
		c.Active = active != 0
		cohorts = append(cohorts, c)
	}
	if len(cohorts) == 0 {
		return domain.Cohort{}, ErrNotFound
	}
	if len(cohorts) > 1 {
		return domain.Cohort{}, fmt.Errorf("multiple cohorts exist; specify --cohort")
	}
	return cohorts[0], nil
}

func (r Repo) ListCohorts(ctx context.Context) ([]domain.Cohort, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,name,COALESCE(start_day,''),COALESCE(end_day,''),active,created_at FROM cohorts ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Cohort
	for rows.Next() {
		var c domain.Cohort
		var active int
		if err := rows.Scan(&c.ID, &c.Name, &c.StartDay, &c.EndDay, &active, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Active = active != 0
		res = append(res, c)
	}
	return res, nil
}

func (r Repo) UpsertCohortConfig(ctx context.Context, cohortID string, cfg *config.Config) error {
	return upsertCohortConfig(ctx, r.DB, nil, cohortID, cfg)
}

func (r Repo) UpsertCohortConfigTx(ctx context.Context, tx *sql.Tx, cohortID string, cfg *config.Config) error {
	return upsertCohortConfig(ctx, nil, tx, cohortID, cfg)
}

func upsertCohortConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, cohortID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Cohort.ID = cohortID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO cohort_configs(cohort_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(cohort_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, cohortID, string(payload), now, now)
	return err
}

func (r Repo) GetCohortConfig(ctx context.Context, cohortID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM cohort_configs WHERE cohort_id=?`, cohortID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Cohort.ID == "" {
		cfg.Cohort.ID = cohortID
	}
	return &cfg, cfg.Validate()
}

func (r Repo) InsertParticipant(ctx context.Context, tx *sql.Tx, p domain.Participant) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO participants(id,cohort_id,name,gender,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.CohortID, p.Name, p.Gender, p.CreatedAt)
	return err
}

func (r Repo) GetParticipant(ctx context.Context, id string) (domain.Participant, error) {
	var p domain.Participant
	err := r.DB.QueryRowContext(ctx, `SELECT id,cohort_id,name,gender,created_at FROM participants WHERE id=?`, id).
		Scan(&p.ID, &p.CohortID, &p.Name, &p.Gender, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) ListParticipants(ctx context.Context, cohortID string) ([]domain.Participant, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,cohort_id,name,gender,created_at FROM participants WHERE cohort_id=? ORDER BY created_at ASC, id ASC`, cohortID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Participant
	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.ID, &p.CohortID, &p.Name, &p.Gender, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, nil
}

// ParticipantMeta loads the projection the validator works from.
func (r Repo) ParticipantMeta(ctx context.Context, cohortID string) (map[string]domain.ParticipantMeta, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,gender FROM participants WHERE cohort_id=?`, cohortID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	meta := map[string]domain.ParticipantMeta{}
	for rows.Next() {
		var m domain.ParticipantMeta
		if err := rows.Scan(&m.ID, &m.Gender); err != nil {
			return nil, err
		}
		meta[m.ID] = m
	}
	return meta, rows.Err()
}

func (r Repo) UpdateParticipant(ctx context.Context, id string, name, gender *string) error {
	var (
		fields []string
		args   []any
	)
	if name != nil {
		fields = append(fields, "name=?")
		args = append(args, *name)
	}
	if gender != nil {
		fields = append(fields, "gender=?")
		args = append(args, *gender)
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE participants SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteParticipant(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM participants WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertSubmissionTx writes the participant's proof for a program day. One
// row per participant per day; a resubmission replaces content and resets
// nothing else.
func (r Repo) UpsertSubmissionTx(ctx context.Context, tx *sql.Tx, s domain.Submission) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO submissions(id,cohort_id,participant_id,program_day,submitted_at,status,review,daily_answer,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(participant_id, program_day) DO UPDATE SET
	submitted_at=excluded.submitted_at,
	review=excluded.review,
	daily_answer=excluded.daily_answer,
	updated_at=excluded.updated_at`,
		s.ID, s.CohortID, s.ParticipantID, s.ProgramDay, s.SubmittedAt, s.Status,
		nullable(s.Review), nullable(s.DailyAnswer), s.CreatedAt, s.UpdatedAt)
	return err
}

func scanSubmission(scan func(dest ...any) error) (domain.Submission, error) {
	var s domain.Submission
	var review, answer sql.NullString
	err := scan(&s.ID, &s.CohortID, &s.ParticipantID, &s.ProgramDay, &s.SubmittedAt, &s.Status, &review, &answer, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if review.Valid {
		s.Review = review.String
	}
	if answer.Valid {
		s.DailyAnswer = answer.String
	}
	return s, nil
}

const submissionCols = `id,cohort_id,participant_id,program_day,submitted_at,status,review,daily_answer,created_at,updated_at`

func (r Repo) GetSubmission(ctx context.Context, id string) (domain.Submission, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+submissionCols+` FROM submissions WHERE id=?`, id)
	return scanSubmission(row.Scan)
}

func (r Repo) GetSubmissionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Submission, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+submissionCols+` FROM submissions WHERE id=?`, id)
	return scanSubmission(row.Scan)
}

// SubmissionForDay returns the participant's submission attributed to the
// given program day.
func (r Repo) SubmissionForDay(ctx context.Context, participantID, day string) (domain.Submission, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+submissionCols+` FROM submissions WHERE participant_id=? AND program_day=?`,
		participantID, day)
	return scanSubmission(row.Scan)
}

func (r Repo) SubmissionForDayTx(ctx context.Context, tx *sql.Tx, participantID, day string) (domain.Submission, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+submissionCols+` FROM submissions WHERE participant_id=? AND program_day=?`,
		participantID, day)
	return scanSubmission(row.Scan)
}

type SubmissionFilters struct {
	CohortID      string
	ParticipantID string
	ProgramDay    string
	Status        string
	Limit         int
	CursorDay     string
	CursorID      string
}

func (r Repo) ListSubmissions(ctx context.Context, f SubmissionFilters) ([]domain.Submission, error) {
	var clauses []string
	var args []any
	if f.CohortID != "" {
		clauses = append(clauses, "cohort_id=?")
		args = append(args, f.CohortID)
	}
	if f.ParticipantID != "" {
		clauses = append(clauses, "participant_id=?")
		args = append(args, f.ParticipantID)
	}
	if f.ProgramDay != "" {
		clauses = append(clauses, "program_day=?")
		args = append(args, f.ProgramDay)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorDay != "" && f.CursorID != "" {
		clauses = append(clauses, "(program_day < ? OR (program_day = ? AND id < ?))")
		args = append(args, f.CursorDay, f.CursorDay, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + submissionCols + ` FROM submissions ` + where + ` ORDER BY program_day DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Submission
	for rows.Next() {
		s, err := scanSubmission(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) UpdateSubmissionStatusTx(ctx context.Context, tx *sql.Tx, id, status, review, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE submissions SET status=?, review=?, updated_at=? WHERE id=?`,
		status, nullable(review), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountApprovedDays counts distinct approved program days for a participant.
func (r Repo) CountApprovedDays(ctx context.Context, participantID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT program_day) FROM submissions WHERE participant_id=? AND status='approved'`, participantID).Scan(&n)
	return n, err
}

// ApproverIDsForDay lists participants with an approved submission on the
// given program day. These are the viewers matching runs draw from.
func (r Repo) ApproverIDsForDay(ctx context.Context, cohortID, day string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT participant_id FROM submissions WHERE cohort_id=? AND program_day=? AND status='approved' ORDER BY participant_id ASC`,
		cohortID, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) UpsertMatchingDayTx(ctx context.Context, tx *sql.Tx, m domain.MatchingDay) error {
	payload, err := json.Marshal(m.Raw)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO matching_days(cohort_id,day,raw_json,created_at,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(cohort_id, day) DO UPDATE SET raw_json=excluded.raw_json, updated_at=excluded.updated_at`,
		m.CohortID, m.Day, string(payload), m.CreatedAt, m.UpdatedAt)
	return err
}

func (r Repo) GetMatchingDay(ctx context.Context, cohortID, day string) (domain.MatchingDay, error) {
	var m domain.MatchingDay
	var payload string
	err := r.DB.QueryRowContext(ctx,
		`SELECT cohort_id,day,raw_json,created_at,updated_at FROM matching_days WHERE cohort_id=? AND day=?`, cohortID, day).
		Scan(&m.CohortID, &m.Day, &payload, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal([]byte(payload), &m.Raw); err != nil {
		return m, fmt.Errorf("matching day %s: %w", day, err)
	}
	return m, nil
}

// MatchingDays loads every stored day for a cohort keyed by day string,
// the shape the lookup helpers consume.
func (r Repo) MatchingDays(ctx context.Context, cohortID string) (map[string]domain.RawMatchingDay, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT day,raw_json FROM matching_days WHERE cohort_id=?`, cohortID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]domain.RawMatchingDay{}
	for rows.Next() {
		var day, payload string
		if err := rows.Scan(&day, &payload); err != nil {
			return nil, err
		}
		var raw domain.RawMatchingDay
		if err := json.Unmarshal([]byte(payload), &raw); err != nil {
			return nil, fmt.Errorf("matching day %s: %w", day, err)
		}
		res[day] = raw
	}
	return res, rows.Err()
}

func (r Repo) ListMatchingDayKeys(ctx context.Context, cohortID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT day FROM matching_days WHERE cohort_id=? ORDER BY day DESC`, cohortID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var days []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, cohortID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, cohortID, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, cohortID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if cohortID != "" {
		clauses = append(clauses, "cohort_id=?")
		args = append(args, cohortID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(cohort_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, cohortID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if cohortID != "" {
		clauses = append(clauses, "cohort_id=?")
		args = append(args, cohortID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(cohort_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.CohortID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID for a cohort.
func (r Repo) LatestEventID(ctx context.Context, cohortID string) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE cohort_id=?`, cohortID)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
