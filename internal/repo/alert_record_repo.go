package repo

import (
	"context"
	"time"

	"github.com/dushixiang/osprey/internal/models"
	"gorm.io/gorm"
)

// AlertRecordRepo 告警记录数据访问层
type AlertRecordRepo struct {
	db *gorm.DB
}

func NewAlertRecordRepo(db *gorm.DB) *AlertRecordRepo {
	return &AlertRecordRepo{db: db}
}

// Create 创建告警记录
func (r *AlertRecordRepo) Create(ctx context.Context, record *models.AlertRecord) error {
	if record.CreatedAt == 0 {
		record.CreatedAt = time.Now().UnixMilli()
	}
	return r.db.WithContext(ctx).Create(record).Error
}

// FindByDevice 查找设备的告警记录（按时间倒序）
func (r *AlertRecordRepo) FindByDevice(ctx context.Context, deviceID string, limit int) ([]models.AlertRecord, error) {
	var records []models.AlertRecord
	query := r.db.WithContext(ctx).Where("device_id = ?", deviceID).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&records).Error
	return records, err
}

// Clear 清空告警记录
func (r *AlertRecordRepo) Clear(ctx context.Context) error {
	return r.db.WithContext(ctx).Where("1 = 1").Delete(&models.AlertRecord{}).Error
}
