package checks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dushixiang/osprey/internal/models"
	"go.uber.org/zap"
)

var (
	// ErrUnresolvedTarget 无法确定检查目标（无地址、无凭据）。
	// 记录日志后按"跳过"处理，不作为致命错误传播
	ErrUnresolvedTarget = errors.New("无法确定检查目标")

	// ErrUnknownType 未注册的检查类型标识
	ErrUnknownType = errors.New("未知的检查类型")
)

// ValidationError 检查参数校验失败，检查不会执行
type ValidationError struct {
	CheckType string
	Err       error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("检查参数校验失败（%s）: %v", e.CheckType, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Observation 检查产生的一次测量，写入为一个指标观测点
type Observation struct {
	Key       string             // 指标 key
	FieldName string             // 主字段名（参与阈值评估）
	Name      string             // 指标展示名称
	Value     float64            // 主字段值
	Extra     map[string]float64 // 附加字段
	Retention string             // 保留策略
	Alert     *AlertTemplate     // 指标首次创建时的默认告警配置
}

// AlertTemplate 默认告警配置模板
type AlertTemplate struct {
	Operator         string
	ThresholdValue   float64
	ToleranceSeconds uint
	IsCritical       bool
}

// Result 一次检查执行的结果
type Result struct {
	Skipped      bool          // 条件不满足，本次未执行（不是失败）
	Reason       string        // 跳过/推迟原因
	Deferred     bool          // 资源被占用，已请求稍后重试
	Observations []Observation // 产生的测量值
}

// Check 检查实现接口。注册表按类型标识映射到构造工厂，进程启动时注册
type Check interface {
	// Validate 校验检查参数，失败时检查不执行
	Validate() error
	// Run 执行检查，产生测量值
	Run(ctx context.Context) (*Result, error)
	// Store 把测量值写入指标存储
	Store(ctx context.Context, result *Result) error
}

// RecoveryDetector 以探测恢复为目的的检查实现此接口后，
// 设备处于 critical 状态时不会被跳过
type RecoveryDetector interface {
	DetectsRecovery() bool
}

// MetricWriter 指标写入端口（由指标服务实现）
type MetricWriter interface {
	WriteForSubject(ctx context.Context, subjectType, subjectID string, obs Observation) error
}

// HistoryReader 时序历史读取端口
type HistoryReader interface {
	// LatestPointAge 返回某序列最新数据点距今的时长，没有数据点时返回 false
	LatestPointAge(ctx context.Context, key, subjectType, subjectID string) (time.Duration, bool, error)
}

// DeviceReader 设备读取端口
type DeviceReader interface {
	FindDevice(ctx context.Context, deviceID string) (models.Device, error)
}

// OrgReader 组织读取端口
type OrgReader interface {
	FindOrganization(ctx context.Context, orgID string) (models.Organization, error)
}

// LeaseArbiter 资源租约端口（由租约服务实现）
type LeaseArbiter interface {
	TryAcquire(ctx context.Context, resourceNames []string, holderID string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, resourceName, holderID string) error
}

// Rescheduler 外部调度器端口：请求在指定延迟后重新执行某检查
type Rescheduler interface {
	Reschedule(checkID string, after time.Duration) error
}

// Deps 检查实现的依赖集合
type Deps struct {
	Logger    *zap.Logger
	Writer    MetricWriter
	History   HistoryReader
	Devices   DeviceReader
	Orgs      OrgReader
	Leases    LeaseArbiter
	Scheduler Rescheduler
}

// Factory 检查构造工厂
type Factory func(deps Deps, check models.Check) (Check, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register 注册检查类型，应在进程启动时（init）调用
func Register(typeID string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[typeID]; exists {
		panic(fmt.Sprintf("检查类型重复注册: %s", typeID))
	}
	registry[typeID] = factory
}

// New 按类型标识构造检查实例
func New(deps Deps, check models.Check) (Check, error) {
	registryMu.RLock()
	factory, ok := registry[check.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, check.Type)
	}
	return factory(deps, check)
}

// Registered 检查类型是否已注册
func Registered(typeID string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[typeID]
	return ok
}

// Types 已注册的检查类型列表（按字典序）
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// storeObservations 通用的测量值写入：跳过/推迟的结果不产生任何观测点，
// 缺测与坏测不同，绝不能因为没跑而把指标标记为异常
func storeObservations(ctx context.Context, writer MetricWriter, subjectType, subjectID string, result *Result) error {
	if result == nil || result.Skipped || result.Deferred {
		return nil
	}
	for _, obs := range result.Observations {
		if err := writer.WriteForSubject(ctx, subjectType, subjectID, obs); err != nil {
			return err
		}
	}
	return nil
}
