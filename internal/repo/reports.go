package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"bookmatch/internal/domain"
)

func (r Repo) CreateValidationRun(ctx context.Context, v domain.ValidationRun) (domain.ValidationRun, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ValidationRun{}, err
	}
	defer tx.Rollback()
	created, err := r.CreateValidationRunTx(ctx, tx, v)
	if err != nil {
		return domain.ValidationRun{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ValidationRun{}, err
	}
	return created, nil
}

func (r Repo) CreateValidationRunTx(ctx context.Context, tx *sql.Tx, v domain.ValidationRun) (domain.ValidationRun, error) {
	errsJSON, err := json.Marshal(emptyIfNil(v.Errors))
	if err != nil {
		return domain.ValidationRun{}, err
	}
	warnsJSON, err := json.Marshal(emptyIfNil(v.Warnings))
	if err != nil {
		return domain.ValidationRun{}, err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO validation_runs(id, cohort_id, day, valid, errors_json, warnings_json, created_by, created_at)
VALUES (?,?,?,?,?,?,?,?)`,
		v.ID, v.CohortID, v.Day, boolInt(v.Valid), string(errsJSON), string(warnsJSON), v.CreatedBy, v.CreatedAt)
	if err != nil {
		return domain.ValidationRun{}, err
	}
	return v, nil
}

func (r Repo) GetValidationRun(ctx context.Context, id string) (domain.ValidationRun, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id, cohort_id, day, valid, errors_json, warnings_json, created_by, created_at
FROM validation_runs WHERE id=?`, id)
	return scanValidationRun(row.Scan)
}

func (r Repo) ListValidationRuns(ctx context.Context, cohortID, day string) ([]domain.ValidationRun, error) {
	query := `SELECT id, cohort_id, day, valid, errors_json, warnings_json, created_by, created_at
FROM validation_runs WHERE cohort_id=?`
	args := []any{cohortID}
	if day != "" {
		query += " AND day=?"
		args = append(args, day)
	}
	query += " ORDER BY created_at DESC, id DESC"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ValidationRun
	for rows.Next() {
		v, err := scanValidationRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

func scanValidationRun(scan func(dest ...any) error) (domain.ValidationRun, error) {
	var v domain.ValidationRun
	var valid int
	var errsJSON, warnsJSON string
	err := scan(&v.ID, &v.CohortID, &v.Day, &valid, &errsJSON, &warnsJSON, &v.CreatedBy, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	v.Valid = valid != 0
	_ = json.Unmarshal([]byte(errsJSON), &v.Errors)
	_ = json.Unmarshal([]byte(warnsJSON), &v.Warnings)
	return v, nil
}

func emptyIfNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
