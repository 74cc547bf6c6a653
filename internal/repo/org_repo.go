package repo

import (
	"context"
	"time"

	"github.com/dushixiang/osprey/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrgRepo 组织数据访问层
type OrgRepo struct {
	db *gorm.DB
}

func NewOrgRepo(db *gorm.DB) *OrgRepo {
	return &OrgRepo{db: db}
}

// FindById 按 ID 查找组织
func (r *OrgRepo) FindById(ctx context.Context, id string) (models.Organization, error) {
	var org models.Organization
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&org).Error
	return org, err
}

// UpdateActive 启用或停用组织
func (r *OrgRepo) UpdateActive(ctx context.Context, id string, active bool) error {
	return r.db.WithContext(ctx).Model(&models.Organization{}).
		Where("id = ?", id).
		Update("active", active).Error
}

// Create 创建组织
func (r *OrgRepo) Create(ctx context.Context, org *models.Organization) error {
	if org.ID == "" {
		org.ID = uuid.New().String()
	}
	if org.CreatedAt == 0 {
		org.CreatedAt = time.Now().UnixMilli()
	}
	return r.db.WithContext(ctx).Create(org).Error
}
