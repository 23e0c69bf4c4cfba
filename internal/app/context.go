package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bookmatch/internal/config"
	"bookmatch/internal/repo"
)

// ResolveCohortAndConfig picks the active cohort and ensures a cohort plus
// config exist in DB, seeding defaults if missing. It prefers overrides,
// then single-cohort DB. If the cohort does not exist, it is created on
// the fly.
func ResolveCohortAndConfig(ctx context.Context, workspace, cohortOverride, actorID string, r repo.Repo) (string, *config.Config, error) {
	cohortID := cohortOverride
	if cohortID == "" {
		if c, err := r.SingleCohort(ctx); err == nil {
			cohortID = c.ID
		} else {
			return "", nil, fmt.Errorf("cohort not specified; use --cohort")
		}
	}
	seedCfg := config.Default(cohortID)
	if fileCfg, err := config.LoadOptional(workspace); err == nil && fileCfg != nil {
		seedCfg = fileCfg
	} else if err != nil {
		return "", nil, err
	}

	if _, err := r.GetCohort(ctx, cohortID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createCohort(ctx, r, cohortID, seedCfg, actorID); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetCohortConfig(ctx, cohortID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertCohortConfig(ctx, cohortID, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed cohort config: %w", err)
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	cfg.Cohort.ID = cohortID
	return cohortID, cfg, nil
}

// createCohort inserts a minimal cohort/rbac footprint using the seed config.
func createCohort(ctx context.Context, r repo.Repo, cohortID string, seedCfg *config.Config, actorID string) error {
	if seedCfg == nil {
		seedCfg = config.Default(cohortID)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	name := seedCfg.Cohort.Name
	if name == "" {
		name = cohortID
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO cohorts(id,name,active,created_at) VALUES (?,?,?,?)`,
		cohortID, name, 1, now); err != nil {
		return fmt.Errorf("insert cohort: %w", err)
	}
	if err := r.UpsertCohortConfigTx(ctx, tx, cohortID, seedCfg); err != nil {
		return fmt.Errorf("insert cohort config: %w", err)
	}
	if actorID == "" {
		actorID = "local-user"
	}
	if len(seedCfg.RBAC.Roles) > 0 {
		if err := r.AssignRole(ctx, tx, cohortID, actorID, "owner", now); err != nil {
			return fmt.Errorf("assign owner role: %w", err)
		}
	}
	return tx.Commit()
}
