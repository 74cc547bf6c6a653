package repo

import (
	"context"
	"time"

	"github.com/dushixiang/osprey/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DeviceRepo 设备数据访问层
type DeviceRepo struct {
	db *gorm.DB
}

func NewDeviceRepo(db *gorm.DB) *DeviceRepo {
	return &DeviceRepo{db: db}
}

// FindById 按 ID 查找设备
func (r *DeviceRepo) FindById(ctx context.Context, id string) (models.Device, error) {
	var device models.Device
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&device).Error
	return device, err
}

// Create 创建设备（初始聚合状态为 unknown）
func (r *DeviceRepo) Create(ctx context.Context, device *models.Device) error {
	if device.ID == "" {
		device.ID = uuid.New().String()
	}
	if device.Status == "" {
		device.Status = models.HealthStatusUnknown
	}
	if device.CreatedAt == 0 {
		device.CreatedAt = time.Now().UnixMilli()
	}
	return r.db.WithContext(ctx).Create(device).Error
}

// UpdateStatus 更新设备聚合健康状态
func (r *DeviceRepo) UpdateStatus(ctx context.Context, deviceID string, status string) error {
	return r.db.WithContext(ctx).Model(&models.Device{}).
		Where("id = ?", deviceID).
		Update("status", status).Error
}

// UpdateActive 启用或停用设备
func (r *DeviceRepo) UpdateActive(ctx context.Context, deviceID string, active bool) error {
	return r.db.WithContext(ctx).Model(&models.Device{}).
		Where("id = ?", deviceID).
		Update("active", active).Error
}

// ClearMgmtAddress 清空设备管理地址（进入 critical 时的副作用）
func (r *DeviceRepo) ClearMgmtAddress(ctx context.Context, deviceID string) error {
	return r.db.WithContext(ctx).Model(&models.Device{}).
		Where("id = ?", deviceID).
		Update("mgmt_address", "").Error
}

// FindAll 查找所有设备
func (r *DeviceRepo) FindAll(ctx context.Context) ([]models.Device, error) {
	var devices []models.Device
	err := r.db.WithContext(ctx).Find(&devices).Error
	return devices, err
}
