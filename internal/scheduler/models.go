package scheduler

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// JobDefinition is a persisted schedule entry. Either CronSpec or
// IntervalMinutes must be set; CronSpec wins when both are.
type JobDefinition struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	JobID           string         `json:"job_id" gorm:"type:text;not null;uniqueIndex:ux_jobs_job_id"`
	TenantID        snowflake.ID   `json:"tenant_id" gorm:"not null"`
	Name            string         `json:"name" gorm:"type:text;not null"`
	Steps           datatypes.JSON `json:"steps"`
	CronSpec        string         `json:"cron_spec" gorm:"type:text"`
	IntervalMinutes int            `json:"interval_minutes" gorm:"not null;default:0"`
	MaxInstances    int            `json:"max_instances" gorm:"not null;default:1"`
	Coalesce        bool           `json:"coalesce" gorm:"column:coalesce_missed;not null;default:true"`
	GraceSecs       int            `json:"grace_secs" gorm:"not null;default:300"`
	Timezone        string         `json:"timezone" gorm:"type:text;not null;default:'Asia/Seoul'"`
	Paused          bool           `json:"paused" gorm:"not null;default:false"`
	CreatedAt       time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time      `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (JobDefinition) TableName() string { return "sync_jobs" }

// JobInfo is the read-only view returned by ListJobs.
type JobInfo struct {
	JobID    string       `json:"job_id"`
	TenantID snowflake.ID `json:"tenant_id"`
	Name     string       `json:"name"`
	Trigger  string       `json:"trigger"`
	NextFire time.Time    `json:"next_fire"`
	Paused   bool         `json:"paused"`
	Running  int          `json:"running"`
}
