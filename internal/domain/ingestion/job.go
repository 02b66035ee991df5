package ingestion

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Phase is one step of the multi-phase research pipeline (search, extract,
// synthesize). Phases carry their own status so clients can show which part
// of the research is underway.
type Phase struct {
	Name          string `json:"name"`
	Status        string `json:"status"`
	ProducedCount int    `json:"produced_count"`
}

// Job is a long-running content-ingestion unit: multi-phase web research
// feeding lesson synthesis. Structurally parallel to media.VideoJob so the
// same progress projection serves both.
type Job struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	Status      Status    `gorm:"column:status;not null;index" json:"status"`
	Topic       string    `gorm:"column:topic;not null" json:"topic"`

	Phases         datatypes.JSON `gorm:"column:phases;type:jsonb" json:"phases"`
	CompletedUnits int            `gorm:"column:completed_units;not null;default:0" json:"completed_units"`
	TotalUnits     int            `gorm:"column:total_units;not null;default:0" json:"total_units"`
	Percentage     int            `gorm:"column:percentage;not null;default:0" json:"percentage"`

	// Result holds the synthesized lesson material once the final phase
	// completes.
	Result datatypes.JSON `gorm:"column:result;type:jsonb" json:"result,omitempty"`

	ErrorMessage string `gorm:"column:error_message" json:"error_message,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Job) TableName() string { return "ingestion_job" }

func (j *Job) PhaseList() []Phase {
	if len(j.Phases) == 0 {
		return nil
	}
	var out []Phase
	if err := json.Unmarshal(j.Phases, &out); err != nil {
		return nil
	}
	return out
}

func EncodePhases(phases []Phase) datatypes.JSON {
	b, _ := json.Marshal(phases)
	return datatypes.JSON(b)
}

// CurrentPhase is the first non-completed phase name, used as the projected
// phase label.
func (j *Job) CurrentPhase() string {
	for _, p := range j.PhaseList() {
		if p.Status != "completed" {
			return p.Name
		}
	}
	if phases := j.PhaseList(); len(phases) > 0 {
		return phases[len(phases)-1].Name
	}
	return string(j.Status)
}
