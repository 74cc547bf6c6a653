package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dushixiang/osprey/internal/checks"
	"github.com/dushixiang/osprey/internal/models"
	"github.com/dushixiang/osprey/internal/repo"
	"github.com/go-errors/errors"
	"github.com/go-orz/cache"
	"github.com/go-orz/orz"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CheckService 检查任务服务：按注册表分发检查执行，
// 处理跳过条件，并把检查实现需要的端口适配到内部服务上
type CheckService struct {
	logger *zap.Logger
	*orz.Service
	checkRepo     *repo.CheckRepo
	deviceRepo    *repo.DeviceRepo
	orgRepo       *repo.OrgRepo
	metricService *MetricService
	leaseService  *LeaseService

	// 调度器在启动时注入（调度器本身依赖本服务，避免构造环）
	scheduler checks.Rescheduler

	// 组织信息变化不频繁，短期缓存减少逐检查的查询
	orgCache cache.Cache[string, models.Organization]

	// 并发执行上限
	maxConcurrent int
}

func NewCheckService(logger *zap.Logger, db *gorm.DB, metricService *MetricService, leaseService *LeaseService, maxConcurrent int) *CheckService {
	if maxConcurrent <= 0 {
		maxConcurrent = 16
	}
	return &CheckService{
		logger:        logger,
		Service:       orz.NewService(db),
		checkRepo:     repo.NewCheckRepo(db),
		deviceRepo:    repo.NewDeviceRepo(db),
		orgRepo:       repo.NewOrgRepo(db),
		metricService: metricService,
		leaseService:  leaseService,
		orgCache:      cache.New[string, models.Organization](time.Minute),
		maxConcurrent: maxConcurrent,
	}
}

// SetScheduler 注入调度器（用于资源受限检查的推迟重试）
func (s *CheckService) SetScheduler(scheduler checks.Rescheduler) {
	s.scheduler = scheduler
}

// FindById 按 ID 查找检查任务
func (s *CheckService) FindById(ctx context.Context, id string) (models.Check, error) {
	return s.checkRepo.FindById(ctx, id)
}

// FindByActive 查找启用的检查任务（供调度器加载）
func (s *CheckService) FindByActive(ctx context.Context, active bool) ([]models.Check, error) {
	return s.checkRepo.FindByActive(ctx, active)
}

// Create 创建检查任务，类型必须已注册
func (s *CheckService) Create(ctx context.Context, check *models.Check) error {
	if !checks.Registered(check.Type) {
		return fmt.Errorf("%w: %s", checks.ErrUnknownType, check.Type)
	}
	return s.checkRepo.Create(ctx, check)
}

// deps 构造检查实现的依赖集合
func (s *CheckService) deps() checks.Deps {
	return checks.Deps{
		Logger:    s.logger,
		Writer:    s,
		History:   s,
		Devices:   s,
		Orgs:      s,
		Leases:    s.leaseService,
		Scheduler: s.scheduler,
	}
}

// RunCheck 执行单个检查：校验参数、应用跳过条件、执行并入库。
// 校验失败对本次调用是致命的，但绝不会让调度器崩溃
func (s *CheckService) RunCheck(ctx context.Context, checkID string) (*checks.Result, error) {
	check, err := s.checkRepo.FindById(ctx, checkID)
	if err != nil {
		return nil, err
	}

	if !check.Active {
		return &checks.Result{Skipped: true, Reason: "检查任务已停用"}, nil
	}

	instance, err := checks.New(s.deps(), check)
	if err != nil {
		return nil, err
	}

	if err := instance.Validate(); err != nil {
		return nil, err
	}

	if result := s.applySkipConditions(ctx, check, instance); result != nil {
		return result, nil
	}

	result, err := instance.Run(ctx)
	if err != nil {
		return nil, errors.WrapPrefix(err, fmt.Sprintf("执行检查 %s(%s) 失败", check.Name, check.Type), 0)
	}

	if err := instance.Store(ctx, result); err != nil {
		return nil, errors.WrapPrefix(err, "写入检查结果失败", 0)
	}

	return result, nil
}

// applySkipConditions 通用跳过条件：设备停用、组织停用，
// 以及设备已处于 critical（此时大部分检查只会产生冗余噪音，
// 以探测恢复为目的的检查除外）。跳过不是错误，缺测绝不能把指标判为异常
func (s *CheckService) applySkipConditions(ctx context.Context, check models.Check, instance checks.Check) *checks.Result {
	if check.DeviceID == "" {
		return nil
	}

	device, err := s.deviceRepo.FindById(ctx, check.DeviceID)
	if err != nil {
		s.logger.Error("查找检查目标设备失败",
			zap.String("checkId", check.ID),
			zap.String("deviceId", check.DeviceID),
			zap.Error(err))
		return &checks.Result{Skipped: true, Reason: "查找目标设备失败"}
	}

	if !device.Active {
		return &checks.Result{Skipped: true, Reason: "设备已停用"}
	}

	org, err := s.FindOrganization(ctx, device.OrganizationID)
	if err != nil {
		s.logger.Error("查找设备所属组织失败",
			zap.String("checkId", check.ID),
			zap.String("orgId", device.OrganizationID),
			zap.Error(err))
		return &checks.Result{Skipped: true, Reason: "查找所属组织失败"}
	}
	if !org.Active {
		return &checks.Result{Skipped: true, Reason: "组织已停用"}
	}

	if device.Status == models.HealthStatusCritical {
		if detector, ok := instance.(checks.RecoveryDetector); !ok || !detector.DetectsRecovery() {
			return &checks.Result{Skipped: true, Reason: "设备处于 critical 状态"}
		}
	}

	return nil
}

// RunAllActiveChecks 枚举并并发执行启用的检查任务。
// typeFilter 给定时只执行这些类型，未注册的类型标识会被拒绝
func (s *CheckService) RunAllActiveChecks(ctx context.Context, typeFilter []string) error {
	for _, t := range typeFilter {
		if !checks.Registered(t) {
			return fmt.Errorf("%w: %s", checks.ErrUnknownType, t)
		}
	}

	list, err := s.checkRepo.FindActiveByTypes(ctx, typeFilter)
	if err != nil {
		return err
	}

	p := pool.New().WithMaxGoroutines(s.maxConcurrent)
	for _, check := range list {
		checkID := check.ID
		p.Go(func() {
			if _, err := s.RunCheck(ctx, checkID); err != nil {
				// 单个检查的失败不影响其他检查
				s.logger.Error("检查执行失败",
					zap.String("checkId", checkID),
					zap.Error(err))
			}
		})
	}
	p.Wait()
	return nil
}

// WriteForSubject 实现 checks.MetricWriter：把检查测量转换为观测写入
func (s *CheckService) WriteForSubject(ctx context.Context, subjectType, subjectID string, obs checks.Observation) error {
	req := WriteRequest{
		Identity: MetricIdentity{
			Key:         obs.Key,
			FieldName:   obs.FieldName,
			SubjectType: subjectType,
			SubjectID:   subjectID,
		},
		Name:            obs.Name,
		Value:           obs.Value,
		ExtraFields:     obs.Extra,
		RetentionPolicy: obs.Retention,
	}
	if obs.Alert != nil {
		req.DefaultAlert = &AlertTemplate{
			Operator:         obs.Alert.Operator,
			ThresholdValue:   obs.Alert.ThresholdValue,
			ToleranceSeconds: obs.Alert.ToleranceSeconds,
			IsCritical:       obs.Alert.IsCritical,
		}
	}
	_, err := s.metricService.RecordObservation(ctx, req)
	return err
}

// LatestPointAge 实现 checks.HistoryReader
func (s *CheckService) LatestPointAge(ctx context.Context, key, subjectType, subjectID string) (time.Duration, bool, error) {
	identity := MetricIdentity{Key: key, SubjectType: subjectType, SubjectID: subjectID}
	return s.metricService.LatestPointAge(ctx, key, identity)
}

// FindDevice 实现 checks.DeviceReader
func (s *CheckService) FindDevice(ctx context.Context, deviceID string) (models.Device, error) {
	return s.deviceRepo.FindById(ctx, deviceID)
}

// FindOrganization 实现 checks.OrgReader（带短期缓存）
func (s *CheckService) FindOrganization(ctx context.Context, orgID string) (models.Organization, error) {
	if org, ok := s.orgCache.Get(orgID); ok {
		return org, nil
	}
	org, err := s.orgRepo.FindById(ctx, orgID)
	if err != nil {
		return models.Organization{}, err
	}
	s.orgCache.Set(orgID, org, time.Minute)
	return org, nil
}
