package media

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lingobridge/lingobridge-backend/internal/domain/media"
	"github.com/lingobridge/lingobridge-backend/internal/platform/logger"
)

// VideoJobRepo persists video jobs. Writers patch targeted fields rather
// than saving whole rows, so a cancellation racing a poller's artifact
// write cannot clobber unrelated columns.
type VideoJobRepo interface {
	Create(ctx context.Context, job *media.VideoJob) (*media.VideoJob, error)
	GetByID(ctx context.Context, id uuid.UUID) (*media.VideoJob, error)
	UpdateFields(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error
	// UpdateFieldsUnlessStatus applies updates only while the row's status
	// is not in disallowed; reports whether a row was touched. This is how
	// cancelled and terminal jobs stay immutable under concurrent writers.
	UpdateFieldsUnlessStatus(ctx context.Context, id uuid.UUID, disallowed []media.Status, updates map[string]interface{}) (bool, error)
	// ListInFlightExternal returns jobs currently holding an external job
	// reference, oldest first, for the optional poll worker.
	ListInFlightExternal(ctx context.Context, limit int) ([]*media.VideoJob, error)
}

type videoJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVideoJobRepo(db *gorm.DB, baseLog *logger.Logger) VideoJobRepo {
	return &videoJobRepo{
		db:  db,
		log: baseLog.With("repo", "VideoJobRepo"),
	}
}

func (r *videoJobRepo) Create(ctx context.Context, job *media.VideoJob) (*media.VideoJob, error) {
	if job == nil {
		return nil, errors.New("nil job")
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *videoJobRepo) GetByID(ctx context.Context, id uuid.UUID) (*media.VideoJob, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var job media.VideoJob
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *videoJobRepo) UpdateFields(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return r.db.WithContext(ctx).
		Model(&media.VideoJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *videoJobRepo) UpdateFieldsUnlessStatus(ctx context.Context, id uuid.UUID, disallowed []media.Status, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}

	q := r.db.WithContext(ctx).
		Model(&media.VideoJob{}).
		Where("id = ?", id)
	if len(disallowed) == 1 {
		q = q.Where("status <> ?", disallowed[0])
	} else if len(disallowed) > 1 {
		q = q.Where("status NOT IN ?", disallowed)
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *videoJobRepo) ListInFlightExternal(ctx context.Context, limit int) ([]*media.VideoJob, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []*media.VideoJob
	err := r.db.WithContext(ctx).
		Where("external_job_id <> '' AND status IN ?", []media.Status{media.StatusAvatarGenerating, media.StatusRendering}).
		Order("updated_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
