package task

import (
	"time"

	"gorm.io/datatypes"
)

type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

const (
	TriggerSchedule = "schedule"
	TriggerWorker   = "worker"
	TriggerManual   = "manual"
)

// JobRun is an execution record for a background job.
type JobRun struct {
	ID          string         `gorm:"column:id;primaryKey" json:"id"`
	Name        string         `gorm:"column:name;type:varchar(100);index;not null" json:"name"`
	Trigger     string         `gorm:"column:triggered_by;type:varchar(20);not null" json:"trigger"`
	Status      RunStatus      `gorm:"column:status;type:varchar(20);not null" json:"status"`
	Affected    int64          `gorm:"column:affected;not null;default:0" json:"affected"`
	ErrorMsg    string         `gorm:"column:error_msg;type:text" json:"error_msg,omitempty"`
	Metadata    datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	StartedAt   time.Time      `gorm:"column:started_at;not null" json:"started_at"`
	CompletedAt *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"column:updated_at" json:"updated_at"`
}

func (JobRun) TableName() string { return "job_runs" }

type holdReleasePayload struct {
	AsOf time.Time `json:"as_of"`
}

type bulkPayoutPayload struct {
	AffiliateIDs []string `json:"affiliate_ids"`
}
