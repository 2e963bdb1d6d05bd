package scheduler

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const jobColumns = `id, job_id, tenant_id, name, steps, cron_spec, interval_minutes,
	max_instances, coalesce_missed, grace_secs, timezone, paused, created_at, updated_at`

func (s *Scheduler) loadJobs(ctx context.Context) ([]JobDefinition, error) {
	var defs []JobDefinition
	err := s.db.WithContext(ctx).Raw(
		`SELECT ` + jobColumns + ` FROM sync_jobs ORDER BY job_id ASC`,
	).Scan(&defs).Error
	if err != nil {
		return nil, err
	}
	return defs, nil
}

// saveJob inserts or overwrites by job_id.
func (s *Scheduler) saveJob(ctx context.Context, def *JobDefinition) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing snowflake.ID
		if err := tx.Raw(
			`SELECT id FROM sync_jobs WHERE job_id = ?`, def.JobID,
		).Scan(&existing).Error; err != nil {
			return err
		}
		if existing != 0 {
			def.ID = existing
			return tx.Exec(
				`UPDATE sync_jobs
				 SET tenant_id = ?, name = ?, steps = ?, cron_spec = ?, interval_minutes = ?,
				     max_instances = ?, coalesce_missed = ?, grace_secs = ?, timezone = ?, paused = ?, updated_at = ?
				 WHERE id = ?`,
				def.TenantID, def.Name, def.Steps, def.CronSpec, def.IntervalMinutes,
				def.MaxInstances, def.Coalesce, def.GraceSecs, def.Timezone, def.Paused, def.UpdatedAt,
				existing,
			).Error
		}
		return tx.Exec(
			`INSERT INTO sync_jobs
			 (id, job_id, tenant_id, name, steps, cron_spec, interval_minutes,
			  max_instances, coalesce_missed, grace_secs, timezone, paused, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			def.ID, def.JobID, def.TenantID, def.Name, def.Steps, def.CronSpec, def.IntervalMinutes,
			def.MaxInstances, def.Coalesce, def.GraceSecs, def.Timezone, def.Paused, def.CreatedAt, def.UpdatedAt,
		).Error
	})
}

func (s *Scheduler) deleteJob(ctx context.Context, jobID string) error {
	return s.db.WithContext(ctx).Exec(
		`DELETE FROM sync_jobs WHERE job_id = ?`, jobID,
	).Error
}

func (s *Scheduler) setJobPaused(ctx context.Context, jobID string, paused bool) error {
	return s.db.WithContext(ctx).Exec(
		`UPDATE sync_jobs SET paused = ?, updated_at = ? WHERE job_id = ?`,
		paused, s.clock.Now(), jobID,
	).Error
}
