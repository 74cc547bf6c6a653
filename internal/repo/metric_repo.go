package repo

import (
	"context"
	"errors"
	"time"

	"github.com/dushixiang/osprey/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MetricRepo 指标数据访问层
type MetricRepo struct {
	db *gorm.DB
}

func NewMetricRepo(db *gorm.DB) *MetricRepo {
	return &MetricRepo{db: db}
}

// FindByIdentity 按唯一标识查找指标，不存在时返回 nil
func (r *MetricRepo) FindByIdentity(ctx context.Context, key, fieldName, subjectType, subjectID string) (*models.Metric, error) {
	var metric models.Metric
	err := r.db.WithContext(ctx).
		Where("key = ? AND field_name = ? AND subject_type = ? AND subject_id = ?",
			key, fieldName, subjectType, subjectID).
		First(&metric).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &metric, nil
}

// Create 创建指标
func (r *MetricRepo) Create(ctx context.Context, metric *models.Metric) error {
	if metric.ID == "" {
		metric.ID = uuid.New().String()
	}
	if metric.CreatedAt == 0 {
		metric.CreatedAt = time.Now().UnixMilli()
	}
	return r.db.WithContext(ctx).Create(metric).Error
}

// UpdateHealthy 更新指标健康状态
func (r *MetricRepo) UpdateHealthy(ctx context.Context, metricID string, healthy bool) error {
	return r.db.WithContext(ctx).Model(&models.Metric{}).
		Where("id = ?", metricID).
		Update("healthy", healthy).Error
}

// FindBySubject 查找归属某对象的所有指标
func (r *MetricRepo) FindBySubject(ctx context.Context, subjectType, subjectID string) ([]models.Metric, error) {
	var metrics []models.Metric
	err := r.db.WithContext(ctx).
		Where("subject_type = ? AND subject_id = ?", subjectType, subjectID).
		Find(&metrics).Error
	return metrics, err
}

// FindSettings 查找指标的告警配置，不存在时返回 nil
func (r *MetricRepo) FindSettings(ctx context.Context, metricID string) (*models.AlertSettings, error) {
	var settings models.AlertSettings
	err := r.db.WithContext(ctx).Where("metric_id = ?", metricID).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// FindSettingsByMetricIDs 批量查找告警配置，返回 metricID -> 配置
func (r *MetricRepo) FindSettingsByMetricIDs(ctx context.Context, metricIDs []string) (map[string]models.AlertSettings, error) {
	if len(metricIDs) == 0 {
		return map[string]models.AlertSettings{}, nil
	}
	var list []models.AlertSettings
	if err := r.db.WithContext(ctx).Where("metric_id IN ?", metricIDs).Find(&list).Error; err != nil {
		return nil, err
	}
	result := make(map[string]models.AlertSettings, len(list))
	for _, settings := range list {
		result[settings.MetricID] = settings
	}
	return result, nil
}

// CreateSettings 创建告警配置
func (r *MetricRepo) CreateSettings(ctx context.Context, settings *models.AlertSettings) error {
	if settings.ID == "" {
		settings.ID = uuid.New().String()
	}
	if settings.CreatedAt == 0 {
		settings.CreatedAt = time.Now().UnixMilli()
	}
	return r.db.WithContext(ctx).Create(settings).Error
}
