package repo

import (
	"context"
	"time"

	"github.com/dushixiang/osprey/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CheckRepo 检查任务数据访问层
type CheckRepo struct {
	db *gorm.DB
}

func NewCheckRepo(db *gorm.DB) *CheckRepo {
	return &CheckRepo{db: db}
}

// FindById 按 ID 查找检查任务
func (r *CheckRepo) FindById(ctx context.Context, id string) (models.Check, error) {
	var check models.Check
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&check).Error
	return check, err
}

// Create 创建检查任务
func (r *CheckRepo) Create(ctx context.Context, check *models.Check) error {
	if check.ID == "" {
		check.ID = uuid.New().String()
	}
	if check.CreatedAt == 0 {
		check.CreatedAt = time.Now().UnixMilli()
	}
	return r.db.WithContext(ctx).Create(check).Error
}

// UpdateActive 启用或停用检查任务
func (r *CheckRepo) UpdateActive(ctx context.Context, id string, active bool) error {
	return r.db.WithContext(ctx).Model(&models.Check{}).
		Where("id = ?", id).
		Update("active", active).Error
}

// FindByActive 查找启用（或停用）的检查任务
func (r *CheckRepo) FindByActive(ctx context.Context, active bool) ([]models.Check, error) {
	var checks []models.Check
	err := r.db.WithContext(ctx).Where("active = ?", active).Find(&checks).Error
	return checks, err
}

// FindActiveByTypes 查找指定类型的启用检查任务，types 为空表示全部类型
func (r *CheckRepo) FindActiveByTypes(ctx context.Context, types []string) ([]models.Check, error) {
	query := r.db.WithContext(ctx).Where("active = ?", true)
	if len(types) > 0 {
		query = query.Where("type IN ?", types)
	}
	var checks []models.Check
	err := query.Find(&checks).Error
	return checks, err
}
