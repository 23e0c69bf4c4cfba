package repo

import (
	"context"
	"database/sql"

	"bookmatch/internal/config"
)

func (r Repo) AssignRole(ctx context.Context, tx *sql.Tx, cohortID, actorID, roleID, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO role_bindings(cohort_id, actor_id, role_id, created_at) VALUES (?,?,?,?)
ON CONFLICT(cohort_id, actor_id) DO UPDATE SET role_id=excluded.role_id`, cohortID, actorID, roleID, now)
	return err
}

func (r Repo) RevokeRole(ctx context.Context, tx *sql.Tx, cohortID, actorID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM role_bindings WHERE cohort_id=? AND actor_id=?`, cohortID, actorID)
	return err
}

func (r Repo) ActorRole(ctx context.Context, cohortID, actorID string) (string, error) {
	var role string
	err := r.DB.QueryRowContext(ctx, `SELECT role_id FROM role_bindings WHERE cohort_id=? AND actor_id=?`,
		cohortID, actorID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return role, err
}

// HasPermission checks an actor's bound role against the config role
// catalog. A config without roles grants everything; an actor without a
// binding gets nothing.
func (r Repo) HasPermission(ctx context.Context, cfg *config.Config, cohortID, actorID, permission string) (bool, error) {
	if cfg == nil || len(cfg.RBAC.Roles) == 0 {
		return true, nil
	}
	roleID, err := r.ActorRole(ctx, cohortID, actorID)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	role, ok := cfg.RBAC.Roles[roleID]
	if !ok {
		return false, nil
	}
	for _, p := range role.Permissions {
		if p == permission {
			return true, nil
		}
	}
	return false, nil
}
