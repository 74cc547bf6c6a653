package service

import (
	"context"

	"github.com/dushixiang/osprey/internal/models"
	"github.com/dushixiang/osprey/internal/repo"
	"github.com/go-orz/orz"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StatusChange 设备聚合状态变化事件
type StatusChange struct {
	DeviceID string `json:"deviceId"`
	Old      string `json:"old"`
	New      string `json:"new"`
}

// HealthService 设备健康聚合器：把一台设备下所有指标的健康状态
// 合并为 unknown/ok/problem/critical 四态，并物化到设备记录上。
// 状态转换不是逐事件的简单映射，取决于同设备其他指标的当前健康状态
type HealthService struct {
	logger *zap.Logger
	*orz.Service
	deviceRepo *repo.DeviceRepo
	metricRepo *repo.MetricRepo

	// 同一设备的状态更新必须串行
	deviceLocks *keyedMutex
}

func NewHealthService(logger *zap.Logger, db *gorm.DB) *HealthService {
	return &HealthService{
		logger:      logger,
		Service:     orz.NewService(db),
		deviceRepo:  repo.NewDeviceRepo(db),
		metricRepo:  repo.NewMetricRepo(db),
		deviceLocks: newKeyedMutex(),
	}
}

// OnMetricHealthChanged 指标健康状态翻转后更新设备聚合状态。
// 状态未变化时返回 nil（禁止空操作写入，避免重复触发下游副作用）；
// 进入 critical 时清空设备管理地址
func (s *HealthService) OnMetricHealthChanged(ctx context.Context, metric *models.Metric, critical bool, healthy bool) (*StatusChange, error) {
	unlock := s.deviceLocks.Lock(metric.SubjectID)
	defer unlock()

	device, err := s.deviceRepo.FindById(ctx, metric.SubjectID)
	if err != nil {
		return nil, err
	}

	relatedStatus, err := s.relatedStatus(ctx, metric.SubjectType, metric.SubjectID)
	if err != nil {
		return nil, err
	}

	var newStatus string
	if healthy {
		// 自身恢复后，聚合状态由其余指标决定
		newStatus = relatedStatus
	} else if critical || relatedStatus == models.HealthStatusCritical {
		newStatus = models.HealthStatusCritical
	} else {
		newStatus = models.HealthStatusProblem
	}

	if newStatus == device.Status {
		return nil, nil
	}

	err = s.Transaction(ctx, func(ctx context.Context) error {
		if err := s.deviceRepo.UpdateStatus(ctx, device.ID, newStatus); err != nil {
			return err
		}
		// 进入 critical 表示设备已不可达，管理地址视为失效
		if newStatus == models.HealthStatusCritical {
			return s.deviceRepo.ClearMgmtAddress(ctx, device.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("设备聚合状态变化",
		zap.String("deviceId", device.ID),
		zap.String("deviceName", device.Name),
		zap.String("old", device.Status),
		zap.String("new", newStatus))

	return &StatusChange{DeviceID: device.ID, Old: device.Status, New: newStatus}, nil
}

// relatedStatus 根据设备当前所有指标的健康状态推导聚合状态：
// 有关键指标异常为 critical，有非关键指标异常为 problem，否则为 ok。
// 健康状态未知的指标不计入（既不算健康也不算异常）
func (s *HealthService) relatedStatus(ctx context.Context, subjectType, subjectID string) (string, error) {
	metrics, err := s.metricRepo.FindBySubject(ctx, subjectType, subjectID)
	if err != nil {
		return "", err
	}

	metricIDs := make([]string, 0, len(metrics))
	for _, m := range metrics {
		metricIDs = append(metricIDs, m.ID)
	}
	settingsMap, err := s.metricRepo.FindSettingsByMetricIDs(ctx, metricIDs)
	if err != nil {
		return "", err
	}

	var anyCriticalUnhealthy, anyNonCriticalUnhealthy bool
	for _, m := range metrics {
		if m.Healthy == nil || *m.Healthy {
			continue
		}
		if settings, ok := settingsMap[m.ID]; ok && settings.IsCritical {
			anyCriticalUnhealthy = true
		} else {
			anyNonCriticalUnhealthy = true
		}
	}

	if anyCriticalUnhealthy {
		return models.HealthStatusCritical, nil
	}
	if anyNonCriticalUnhealthy {
		return models.HealthStatusProblem, nil
	}
	return models.HealthStatusOK, nil
}
