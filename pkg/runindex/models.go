package runindex

import "time"

// RunStatus is the lifecycle status of a run record.
type RunStatus string

const (
	StatusRunning RunStatus = "running"
	StatusPassed  RunStatus = "passed"
	StatusFailed  RunStatus = "failed"
	StatusSkipped RunStatus = "skipped"
)

// AssertionFailure summarizes a failed assertion recovered from a run's
// failure artifact.
type AssertionFailure struct {
	AssertionType string `json:"assertionType"`
	Target        string `json:"target"`
	Expected      string `json:"expected,omitempty"`
	Actual        string `json:"actual,omitempty"`
}

// CloudSessionMeta holds identifiers recovered from a cloud-grid run's
// streamed output.
type CloudSessionMeta struct {
	SessionID string `json:"sessionId,omitempty"`
	BuildID   string `json:"buildId,omitempty"`
}

// ResourceUsage captures aggregate resource consumption of the spawned
// execution engine process.
type ResourceUsage struct {
	PeakRSSBytes uint64  `json:"peakRssBytes"`
	CPUSeconds   float64 `json:"cpuSeconds"`
}

// RunRecord is the durable per-run ledger entry. RunID is immutable after
// creation; Status only ever transitions running -> passed|failed, with
// FinishedAt set at the same moment Status leaves running. TracePaths is
// always present, possibly empty.
type RunRecord struct {
	RunID             string             `json:"runId" gorm:"primaryKey;column:run_id"`
	TestName          string             `json:"testName"`
	SpecRelPath       string             `json:"specRelPath"`
	Status            RunStatus          `json:"status"`
	StartedAt         time.Time          `json:"startedAt"`
	FinishedAt        *time.Time         `json:"finishedAt,omitempty"`
	Source            string             `json:"source"`
	TracePaths        []string           `json:"tracePaths" gorm:"serializer:json"`
	ReportPath        string             `json:"reportPath,omitempty"`
	CloudSession      *CloudSessionMeta  `json:"cloudSessionMeta,omitempty" gorm:"serializer:json"`
	AssertionFailures []AssertionFailure `json:"assertionFailures,omitempty" gorm:"serializer:json"`
	ResourceUsage     *ResourceUsage     `json:"resourceUsage,omitempty" gorm:"serializer:json"`
}

// TableName sets the database table name for the gorm-backed store.
func (RunRecord) TableName() string {
	return "runs"
}
