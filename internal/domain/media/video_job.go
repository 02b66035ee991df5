package media

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Artifact is the persisted output of one completed stage. Records are
// immutable once written; a stage retry writes a fresh record under a new
// timestamp-qualified storage key, superseding the old one.
type Artifact struct {
	StorageKey      string    `json:"storage_key"`
	URL             string    `json:"url"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	SizeBytes       int64     `json:"size_bytes,omitempty"`
	ProducedAt      time.Time `json:"produced_at"`
}

// VideoJob is one media-generation unit: a lesson script on its way to a
// finished teaching video. The row is the single source of truth every
// stage driver and poller reads and patches.
type VideoJob struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID  uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	Status       Status    `gorm:"column:status;not null;index" json:"status"`
	TemplateType string    `gorm:"column:template_type;not null" json:"template_type"`

	SourceConfig  datatypes.JSON `gorm:"column:source_config;type:jsonb" json:"source_config"`
	VideoSettings datatypes.JSON `gorm:"column:video_settings;type:jsonb" json:"video_settings"`
	LessonContent datatypes.JSON `gorm:"column:lesson_content;type:jsonb" json:"lesson_content,omitempty"`

	AudioOutput  datatypes.JSON `gorm:"column:audio_output;type:jsonb" json:"audio_output,omitempty"`
	AvatarOutput datatypes.JSON `gorm:"column:avatar_output;type:jsonb" json:"avatar_output,omitempty"`
	FinalOutput  datatypes.JSON `gorm:"column:final_output;type:jsonb" json:"final_output,omitempty"`

	// externalJobRef: present only while a stage's vendor-side work is in
	// flight, cleared by the hand-off. At most one per job since stages are
	// sequential.
	ExternalProvider string `gorm:"column:external_provider" json:"external_provider,omitempty"`
	ExternalJobID    string `gorm:"column:external_job_id;index" json:"external_job_id,omitempty"`

	ErrorMessage string `gorm:"column:error_message" json:"error_message,omitempty"`
	ErrorStep    string `gorm:"column:error_step" json:"error_step,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (VideoJob) TableName() string { return "video_job" }

func (j *VideoJob) Audio() *Artifact  { return decodeArtifact(j.AudioOutput) }
func (j *VideoJob) Avatar() *Artifact { return decodeArtifact(j.AvatarOutput) }
func (j *VideoJob) Final() *Artifact  { return decodeArtifact(j.FinalOutput) }

func decodeArtifact(raw datatypes.JSON) *Artifact {
	if len(raw) == 0 {
		return nil
	}
	var a Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil
	}
	if a.StorageKey == "" && a.URL == "" {
		return nil
	}
	return &a
}

func EncodeArtifact(a Artifact) datatypes.JSON {
	b, _ := json.Marshal(a)
	return datatypes.JSON(b)
}
