package service

import (
	"context"

	"github.com/dushixiang/osprey/internal/models"
	"github.com/dushixiang/osprey/internal/repo"
	"github.com/go-orz/orz"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DeviceService 设备服务
type DeviceService struct {
	logger *zap.Logger
	*orz.Service
	deviceRepo      *repo.DeviceRepo
	orgRepo         *repo.OrgRepo
	metricRepo      *repo.MetricRepo
	alertRecordRepo *repo.AlertRecordRepo
}

func NewDeviceService(logger *zap.Logger, db *gorm.DB) *DeviceService {
	return &DeviceService{
		logger:          logger,
		Service:         orz.NewService(db),
		deviceRepo:      repo.NewDeviceRepo(db),
		orgRepo:         repo.NewOrgRepo(db),
		metricRepo:      repo.NewMetricRepo(db),
		alertRecordRepo: repo.NewAlertRecordRepo(db),
	}
}

// FindById 按 ID 查找设备
func (s *DeviceService) FindById(ctx context.Context, id string) (models.Device, error) {
	return s.deviceRepo.FindById(ctx, id)
}

// Create 创建设备
func (s *DeviceService) Create(ctx context.Context, device *models.Device) error {
	return s.deviceRepo.Create(ctx, device)
}

// CreateOrganization 创建组织
func (s *DeviceService) CreateOrganization(ctx context.Context, org *models.Organization) error {
	return s.orgRepo.Create(ctx, org)
}

// Metrics 查找设备的所有指标
func (s *DeviceService) Metrics(ctx context.Context, deviceID string) ([]models.Metric, error) {
	return s.metricRepo.FindBySubject(ctx, SubjectTypeDevice, deviceID)
}

// AlertRecords 查找设备的告警记录
func (s *DeviceService) AlertRecords(ctx context.Context, deviceID string, limit int) ([]models.AlertRecord, error) {
	return s.alertRecordRepo.FindByDevice(ctx, deviceID, limit)
}
