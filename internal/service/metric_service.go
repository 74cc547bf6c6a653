package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dushixiang/osprey/internal/models"
	"github.com/dushixiang/osprey/internal/repo"
	"github.com/dushixiang/osprey/internal/tsdb"
	"github.com/go-orz/orz"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SubjectTypeDevice 设备类型的归属对象
const SubjectTypeDevice = "device"

// MetricIdentity 指标唯一标识
type MetricIdentity struct {
	Key         string // 指标 key（时序存储的 measurement 名）
	FieldName   string // 字段名
	SubjectType string // 归属对象类型，通用指标为空
	SubjectID   string // 归属对象 ID，通用指标为空
}

func (i MetricIdentity) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", i.Key, i.FieldName, i.SubjectType, i.SubjectID)
}

// Tags 时序存储的标签
func (i MetricIdentity) Tags() map[string]string {
	if i.SubjectType == "" && i.SubjectID == "" {
		return nil
	}
	return map[string]string{
		"subject_type": i.SubjectType,
		"subject_id":   i.SubjectID,
	}
}

// AlertTemplate 指标首次创建时附带的默认告警配置
type AlertTemplate struct {
	Operator         string  // > 或 <
	ThresholdValue   float64 // 阈值
	ToleranceSeconds uint    // 持续时间容忍（秒）
	IsCritical       bool    // 是否关键指标
}

// WriteRequest 一次观测写入请求
type WriteRequest struct {
	Identity        MetricIdentity
	Name            string             // 指标展示名称（仅首次创建时使用）
	Value           float64            // 观测值（参与阈值评估）
	ExtraFields     map[string]float64 // 附加字段（随数据点一并写入，不参与评估）
	Timestamp       int64              // 毫秒时间戳，0 表示当前时间
	RetentionPolicy string             // 保留策略，空为默认
	DefaultAlert    *AlertTemplate     // 首次创建指标时的默认告警配置
}

// MetricService 指标服务：持有指标身份和健康标记，负责写入+评估原语
type MetricService struct {
	logger *zap.Logger
	*orz.Service
	metricRepo      *repo.MetricRepo
	alertRecordRepo *repo.AlertRecordRepo
	store           tsdb.Store
	healthService   *HealthService
	notifier        Notifier

	// 同一指标的评估必须串行（读-改-写健康状态）
	metricLocks *keyedMutex
}

func NewMetricService(logger *zap.Logger, db *gorm.DB, store tsdb.Store, healthService *HealthService, notifier Notifier) *MetricService {
	return &MetricService{
		logger:          logger,
		Service:         orz.NewService(db),
		metricRepo:      repo.NewMetricRepo(db),
		alertRecordRepo: repo.NewAlertRecordRepo(db),
		store:           store,
		healthService:   healthService,
		notifier:        notifier,
		metricLocks:     newKeyedMutex(),
	}
}

// RecordObservation 写入一个观测值并评估健康状态变化。
// 时序写入失败时直接返回错误，健康状态保持不变（失败关闭）；
// 同一观测重复提交是幂等的：状态已翻转后相同的越界值不会再次触发转换
func (s *MetricService) RecordObservation(ctx context.Context, req WriteRequest) (Transition, error) {
	unlock := s.metricLocks.Lock(req.Identity.String())
	defer unlock()

	metric, err := s.getOrCreate(ctx, req)
	if err != nil {
		return TransitionNone, err
	}

	now := time.Now().UnixMilli()
	explicitTs := req.Timestamp != 0
	ts := req.Timestamp
	if !explicitTs {
		ts = now
	}

	fields := map[string]float64{req.Identity.FieldName: req.Value}
	for k, v := range req.ExtraFields {
		fields[k] = v
	}
	tags := req.Identity.Tags()

	// 观测点先落盘；写入失败不得翻转健康状态
	if err := s.store.Write(ctx, req.Identity.Key, fields, tags, ts, req.RetentionPolicy); err != nil {
		return TransitionNone, err
	}

	settings, err := s.metricRepo.FindSettings(ctx, metric.ID)
	if err != nil {
		return TransitionNone, err
	}
	if settings == nil || !settings.IsActive {
		return TransitionNone, nil
	}

	// 持续时间容忍大于 0 时需要回读历史确认越界是否连续
	var prior []tsdb.Point
	if settings.ToleranceSeconds > 0 && !explicitTs {
		prior, err = s.readPrior(ctx, req.Identity, tags, ts, now)
		if err != nil {
			// 失败关闭：评估不充分时保持现状，错误交由调用方处理
			return TransitionNone, err
		}
	}

	transition := decideTransition(settings, metric.Healthy, req.Value, ts, explicitTs, prior, req.Identity.FieldName, now)
	if !transition.Flipped() {
		return transition, nil
	}

	healthy := transition.NewHealthy()
	if err := s.metricRepo.UpdateHealthy(ctx, metric.ID, healthy); err != nil {
		return TransitionNone, err
	}
	metric.Healthy = &healthy

	s.logger.Info("指标健康状态变化",
		zap.String("metricId", metric.ID),
		zap.String("metric", req.Identity.String()),
		zap.String("transition", transition.String()),
		zap.Float64("value", req.Value))

	// 设备指标翻转后重新聚合设备状态
	if metric.SubjectType == SubjectTypeDevice && metric.SubjectID != "" {
		change, err := s.healthService.OnMetricHealthChanged(ctx, metric, settings.IsCritical, healthy)
		if err != nil {
			// 聚合状态更新失败不回滚指标自身的健康状态
			s.logger.Error("更新设备聚合状态失败",
				zap.String("metricId", metric.ID),
				zap.Error(err))
		} else if change != nil {
			s.logger.Info("设备状态已更新",
				zap.String("deviceId", change.DeviceID),
				zap.String("old", change.Old),
				zap.String("new", change.New))
		}
	}

	// 首次观测不发送通知，只有后续的状态变化才值得告警
	if !transition.First() && metric.NotificationsEnabled {
		s.forwardNotification(metric, transition, req.Value)
	}

	return transition, nil
}

// forwardNotification 异步发送通知并持久化告警记录。
// 通知是 fire-and-forget：失败只记录日志，不影响评估结果
func (s *MetricService) forwardNotification(metric *models.Metric, transition Transition, value float64) {
	kind := models.AlertKindProblem
	if transition.NewHealthy() {
		kind = models.AlertKindRecovery
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("发送通知时发生panic",
					zap.Any("panic", r),
					zap.String("metricId", metric.ID))
			}
		}()

		// 使用独立 context，避免调用方 context 取消影响通知发送
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		record := &models.AlertRecord{
			MetricID:   metric.ID,
			MetricName: metric.Name,
			DeviceID:   metric.SubjectID,
			Kind:       kind,
			Value:      value,
			Message:    fmt.Sprintf("指标 %s %s，当前值 %.2f", metric.Name, kindText(kind), value),
		}
		if err := s.alertRecordRepo.Create(ctx, record); err != nil {
			s.logger.Error("创建告警记录失败", zap.Error(err))
		}

		if err := s.notifier.Notify(ctx, metric.SubjectID, metric.Name, kind); err != nil {
			s.logger.Error("发送告警通知失败",
				zap.String("metricId", metric.ID),
				zap.String("kind", kind),
				zap.Error(err))
		}
	}()
}

func kindText(kind string) string {
	if kind == models.AlertKindRecovery {
		return "已恢复"
	}
	return "发生异常"
}

// readPrior 读取回溯窗口内的历史数据点（降序，不含刚写入的点）
func (s *MetricService) readPrior(ctx context.Context, identity MetricIdentity, tags map[string]string, ts, now int64) ([]tsdb.Point, error) {
	since := now - lookbackWindow.Milliseconds()
	points, err := s.store.Read(ctx, identity.Key, []string{identity.FieldName}, tags, since, 0, true)
	if err != nil {
		return nil, err
	}
	// 跳过刚写入的观测点（以及时钟精度内并列的点）
	for len(points) > 0 && points[0].Timestamp >= ts {
		points = points[1:]
	}
	return points, nil
}

// getOrCreate 按唯一标识查找指标，不存在时惰性创建（附带默认告警配置）
func (s *MetricService) getOrCreate(ctx context.Context, req WriteRequest) (*models.Metric, error) {
	id := req.Identity
	metric, err := s.metricRepo.FindByIdentity(ctx, id.Key, id.FieldName, id.SubjectType, id.SubjectID)
	if err != nil {
		return nil, err
	}
	if metric != nil {
		return metric, nil
	}

	name := req.Name
	if name == "" {
		name = id.Key + "." + id.FieldName
	}
	metric = &models.Metric{
		Key:                  id.Key,
		FieldName:            id.FieldName,
		SubjectType:          id.SubjectType,
		SubjectID:            id.SubjectID,
		Name:                 name,
		NotificationsEnabled: true,
	}

	err = s.Transaction(ctx, func(ctx context.Context) error {
		if err := s.metricRepo.Create(ctx, metric); err != nil {
			return err
		}
		if req.DefaultAlert == nil {
			return nil
		}
		settings := &models.AlertSettings{
			MetricID:         metric.ID,
			Operator:         req.DefaultAlert.Operator,
			ThresholdValue:   req.DefaultAlert.ThresholdValue,
			ToleranceSeconds: req.DefaultAlert.ToleranceSeconds,
			IsCritical:       req.DefaultAlert.IsCritical,
			IsActive:         true,
		}
		return s.metricRepo.CreateSettings(ctx, settings)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("创建指标",
		zap.String("metricId", metric.ID),
		zap.String("metric", id.String()))
	return metric, nil
}

// LatestPointAge 返回某序列最新数据点距今的时长，没有数据点时返回 false
func (s *MetricService) LatestPointAge(ctx context.Context, key string, identity MetricIdentity) (time.Duration, bool, error) {
	now := time.Now().UnixMilli()
	points, err := s.store.Read(ctx, key, nil, identity.Tags(), 0, 1, true)
	if err != nil {
		return 0, false, err
	}
	if len(points) == 0 {
		return 0, false, nil
	}
	return time.Duration(now-points[0].Timestamp) * time.Millisecond, true, nil
}
