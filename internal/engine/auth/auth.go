package auth

import (
	"context"
	"database/sql"
	"fmt"

	"bookmatch/internal/config"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Service provides RBAC helpers backed by SQL plus the config role catalog.
type Service struct {
	DB *sql.DB
}

func (s Service) ActorRole(ctx context.Context, tx *sql.Tx, cohortID, actorID string) (string, error) {
	row := tx.QueryRowContext(ctx, `SELECT role_id FROM role_bindings WHERE cohort_id=? AND actor_id=?`, cohortID, actorID)
	var role string
	err := row.Scan(&role)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return role, err
}

// ActorHasPermission resolves the actor's bound role against the config
// catalog. No catalog means RBAC is off and everything is allowed.
func (s Service) ActorHasPermission(ctx context.Context, tx *sql.Tx, cfg *config.Config, cohortID, actorID, perm string) (bool, error) {
	if cfg == nil || len(cfg.RBAC.Roles) == 0 {
		return true, nil
	}
	roleID, err := s.ActorRole(ctx, tx, cohortID, actorID)
	if err != nil {
		return false, err
	}
	if roleID == "" {
		return false, nil
	}
	role, ok := cfg.RBAC.Roles[roleID]
	if !ok {
		return false, nil
	}
	for _, p := range role.Permissions {
		if p == perm {
			return true, nil
		}
	}
	return false, nil
}

// ActorPermissions lists the effective permission set for an actor.
func (s Service) ActorPermissions(ctx context.Context, tx *sql.Tx, cfg *config.Config, cohortID, actorID string) ([]string, error) {
	if cfg == nil || len(cfg.RBAC.Roles) == 0 {
		return nil, nil
	}
	roleID, err := s.ActorRole(ctx, tx, cohortID, actorID)
	if err != nil {
		return nil, err
	}
	if roleID == "" {
		return nil, nil
	}
	role, ok := cfg.RBAC.Roles[roleID]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), role.Permissions...), nil
}
