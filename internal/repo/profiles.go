package repo

import (
	"context"
	"database/sql"
	"time"

	"bookmatch/internal/domain"
)

func (r Repo) UpsertProfileNote(ctx context.Context, cohortID, participantID, note string) (domain.ProfileNote, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProfileNote{}, err
	}
	defer tx.Rollback()
	pn, err := r.UpsertProfileNoteTx(ctx, tx, cohortID, participantID, note)
	if err != nil {
		return domain.ProfileNote{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProfileNote{}, err
	}
	return pn, nil
}

func (r Repo) UpsertProfileNoteTx(ctx context.Context, tx *sql.Tx, cohortID, participantID, note string) (domain.ProfileNote, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT INTO profile_notes(cohort_id, participant_id, note, created_at, updated_at)
VALUES (?,?,?,?,?)
ON CONFLICT(cohort_id, participant_id) DO UPDATE SET note=excluded.note, updated_at=excluded.updated_at`,
		cohortID, participantID, note, now, now)
	if err != nil {
		return domain.ProfileNote{}, err
	}
	return r.GetProfileNoteTx(ctx, tx, cohortID, participantID)
}

func (r Repo) GetProfileNote(ctx context.Context, cohortID, participantID string) (domain.ProfileNote, error) {
	var pn domain.ProfileNote
	err := r.DB.QueryRowContext(ctx, `SELECT cohort_id, participant_id, note, created_at, updated_at FROM profile_notes WHERE cohort_id=? AND participant_id=?`,
		cohortID, participantID).Scan(&pn.CohortID, &pn.ParticipantID, &pn.Note, &pn.CreatedAt, &pn.UpdatedAt)
	if err == sql.ErrNoRows {
		return pn, ErrNotFound
	}
	return pn, err
}

func (r Repo) GetProfileNoteTx(ctx context.Context, tx *sql.Tx, cohortID, participantID string) (domain.ProfileNote, error) {
	var pn domain.ProfileNote
	err := tx.QueryRowContext(ctx, `SELECT cohort_id, participant_id, note, created_at, updated_at FROM profile_notes WHERE cohort_id=? AND participant_id=?`,
		cohortID, participantID).Scan(&pn.CohortID, &pn.ParticipantID, &pn.Note, &pn.CreatedAt, &pn.UpdatedAt)
	if err == sql.ErrNoRows {
		return pn, ErrNotFound
	}
	return pn, err
}

func (r Repo) ListProfileNotes(ctx context.Context, cohortID, participantID string) ([]domain.ProfileNote, error) {
	query := `SELECT cohort_id, participant_id, note, created_at, updated_at FROM profile_notes WHERE cohort_id=?`
	args := []any{cohortID}
	if participantID != "" {
		query += " AND participant_id=?"
		args = append(args, participantID)
	}
	query += " ORDER BY participant_id ASC"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProfileNote
	for rows.Next() {
		var pn domain.ProfileNote
		if err := rows.Scan(&pn.CohortID, &pn.ParticipantID, &pn.Note, &pn.CreatedAt, &pn.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, pn)
	}
	return res, rows.Err()
}

func (r Repo) DeleteProfileNote(ctx context.Context, cohortID, participantID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM profile_notes WHERE cohort_id=? AND participant_id=?`, cohortID, participantID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
