package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dushixiang/osprey/internal/models"
	"github.com/dushixiang/osprey/internal/repo"
	"github.com/dushixiang/osprey/internal/tsdb"
)

// captureNotifier 把通知投递到 channel，供测试同步等待
type captureNotifier struct {
	notifications chan string
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{notifications: make(chan string, 16)}
}

func (n *captureNotifier) Notify(ctx context.Context, subjectID, metricName, kind string) error {
	n.notifications <- kind
	return nil
}

// wait 等待一条通知，超时返回空串
func (n *captureNotifier) wait(timeout time.Duration) string {
	select {
	case kind := <-n.notifications:
		return kind
	case <-time.After(timeout):
		return ""
	}
}

// failingStore 写入总是失败的时序存储
type failingStore struct{}

func (failingStore) Write(ctx context.Context, key string, fields map[string]float64, tags map[string]string, timestamp int64, retentionPolicy string) error {
	return tsdb.ErrStorage
}

func (failingStore) Read(ctx context.Context, key string, fields []string, tags map[string]string, since int64, limit int, orderDesc bool) ([]tsdb.Point, error) {
	return nil, tsdb.ErrStorage
}

type metricFixture struct {
	metricService *MetricService
	metricRepo    *repo.MetricRepo
	deviceRepo    *repo.DeviceRepo
	recordRepo    *repo.AlertRecordRepo
	store         *tsdb.MemoryStore
	notifier      *captureNotifier
	device        *models.Device
}

func newMetricFixture(t *testing.T) *metricFixture {
	t.Helper()
	db := newTestDB(t)
	logger := newTestLogger(t)
	ctx := context.Background()

	deviceRepo := repo.NewDeviceRepo(db)
	device := &models.Device{Name: "核心交换机", MgmtAddress: "192.168.1.1", Active: true}
	if err := deviceRepo.Create(ctx, device); err != nil {
		t.Fatalf("创建测试设备失败: %v", err)
	}

	store := tsdb.NewMemoryStore()
	notifier := newCaptureNotifier()
	healthService := NewHealthService(logger, db)

	return &metricFixture{
		metricService: NewMetricService(logger, db, store, healthService, notifier),
		metricRepo:    repo.NewMetricRepo(db),
		deviceRepo:    deviceRepo,
		recordRepo:    repo.NewAlertRecordRepo(db),
		store:         store,
		notifier:      notifier,
		device:        device,
	}
}

func (f *metricFixture) pingRequest(value float64) WriteRequest {
	return WriteRequest{
		Identity: MetricIdentity{
			Key:         "ping",
			FieldName:   "reachable",
			SubjectType: SubjectTypeDevice,
			SubjectID:   f.device.ID,
		},
		Name:  "ping",
		Value: value,
		DefaultAlert: &AlertTemplate{
			Operator:       models.OperatorLessThan,
			ThresholdValue: 1,
			IsCritical:     true,
		},
	}
}

func TestRecordObservationLifecycle(t *testing.T) {
	f := newMetricFixture(t)
	ctx := context.Background()

	// 首次观测：健康，创建指标，不通知
	transition, err := f.metricService.RecordObservation(ctx, f.pingRequest(1))
	if err != nil {
		t.Fatalf("写入观测失败: %v", err)
	}
	if transition != TransitionFirstHealthy {
		t.Fatalf("首次健康观测期望 first_healthy，实际 %s", transition)
	}
	if kind := f.notifier.wait(100 * time.Millisecond); kind != "" {
		t.Errorf("首次观测不应发送通知，收到 %s", kind)
	}

	device, err := f.deviceRepo.FindById(ctx, f.device.ID)
	if err != nil {
		t.Fatalf("查询设备失败: %v", err)
	}
	if device.Status != models.HealthStatusOK {
		t.Errorf("首次健康观测后设备状态应为 ok，实际 %s", device.Status)
	}

	// 设备失联：关键指标异常，状态到 critical，管理地址清空，发送告警
	transition, err = f.metricService.RecordObservation(ctx, f.pingRequest(0))
	if err != nil {
		t.Fatalf("写入观测失败: %v", err)
	}
	if transition != TransitionBecameUnhealthy {
		t.Fatalf("期望 became_unhealthy，实际 %s", transition)
	}
	if kind := f.notifier.wait(time.Second); kind != models.AlertKindProblem {
		t.Errorf("期望 problem 通知，实际 %q", kind)
	}

	device, _ = f.deviceRepo.FindById(ctx, f.device.ID)
	if device.Status != models.HealthStatusCritical {
		t.Errorf("关键指标异常后设备状态应为 critical，实际 %s", device.Status)
	}
	if device.MgmtAddress != "" {
		t.Errorf("critical 后管理地址应被清空，实际 %q", device.MgmtAddress)
	}

	// 重复提交相同的越界观测：幂等，不再触发
	transition, err = f.metricService.RecordObservation(ctx, f.pingRequest(0))
	if err != nil {
		t.Fatalf("写入观测失败: %v", err)
	}
	if transition != TransitionNone {
		t.Fatalf("状态已翻转后重复越界应为 no_change，实际 %s", transition)
	}
	if kind := f.notifier.wait(100 * time.Millisecond); kind != "" {
		t.Errorf("重复越界不应再次通知，收到 %s", kind)
	}

	// 设备恢复：状态回到 ok，发送恢复通知
	transition, err = f.metricService.RecordObservation(ctx, f.pingRequest(1))
	if err != nil {
		t.Fatalf("写入观测失败: %v", err)
	}
	if transition != TransitionBecameHealthy {
		t.Fatalf("期望 became_healthy，实际 %s", transition)
	}
	if kind := f.notifier.wait(time.Second); kind != models.AlertKindRecovery {
		t.Errorf("期望 recovery 通知，实际 %q", kind)
	}

	device, _ = f.deviceRepo.FindById(ctx, f.device.ID)
	if device.Status != models.HealthStatusOK {
		t.Errorf("恢复后设备状态应为 ok，实际 %s", device.Status)
	}

	// 告警记录应包含一条 problem 和一条 recovery
	records, err := f.recordRepo.FindByDevice(ctx, f.device.ID, 0)
	if err != nil {
		t.Fatalf("查询告警记录失败: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("期望 2 条告警记录，实际 %d 条", len(records))
	}
}

func TestRecordObservationProblemAndCriticalOverlap(t *testing.T) {
	f := newMetricFixture(t)
	ctx := context.Background()

	loadRequest := func(value float64) WriteRequest {
		return WriteRequest{
			Identity: MetricIdentity{
				Key:         "load",
				FieldName:   "load",
				SubjectType: SubjectTypeDevice,
				SubjectID:   f.device.ID,
			},
			Value: value,
			DefaultAlert: &AlertTemplate{
				Operator:       models.OperatorGreaterThan,
				ThresholdValue: 90,
			},
		}
	}

	// 非关键指标异常 -> problem
	if _, err := f.metricService.RecordObservation(ctx, loadRequest(50)); err != nil {
		t.Fatalf("写入观测失败: %v", err)
	}
	if _, err := f.metricService.RecordObservation(ctx, loadRequest(95)); err != nil {
		t.Fatalf("写入观测失败: %v", err)
	}
	device, _ := f.deviceRepo.FindById(ctx, f.device.ID)
	if device.Status != models.HealthStatusProblem {
		t.Fatalf("非关键指标异常后应为 problem，实际 %s", device.Status)
	}

	// 关键指标异常叠加 -> critical
	if _, err := f.metricService.RecordObservation(ctx, f.pingRequest(1)); err != nil {
		t.Fatalf("写入观测失败: %v", err)
	}
	if _, err := f.metricService.RecordObservation(ctx, f.pingRequest(0)); err != nil {
		t.Fatalf("写入观测失败: %v", err)
	}
	device, _ = f.deviceRepo.FindById(ctx, f.device.ID)
	if device.Status != models.HealthStatusCritical {
		t.Fatalf("关键指标异常后应为 critical，实际 %s", device.Status)
	}

	// 关键指标恢复，但非关键指标仍异常 -> 回落到 problem 而不是 ok
	if _, err := f.metricService.RecordObservation(ctx, f.pingRequest(1)); err != nil {
		t.Fatalf("写入观测失败: %v", err)
	}
	device, _ = f.deviceRepo.FindById(ctx, f.device.ID)
	if device.Status != models.HealthStatusProblem {
		t.Fatalf("关键指标恢复后应回落到 problem，实际 %s", device.Status)
	}

	// 非关键指标恢复 -> ok
	if _, err := f.metricService.RecordObservation(ctx, loadRequest(50)); err != nil {
		t.Fatalf("写入观测失败: %v", err)
	}
	device, _ = f.deviceRepo.FindById(ctx, f.device.ID)
	if device.Status != models.HealthStatusOK {
		t.Fatalf("全部恢复后应为 ok，实际 %s", device.Status)
	}
}

func TestRecordObservationFailClosed(t *testing.T) {
	db := newTestDB(t)
	logger := newTestLogger(t)
	notifier := newCaptureNotifier()
	metricService := NewMetricService(logger, db, failingStore{}, NewHealthService(logger, db), notifier)
	ctx := context.Background()

	req := WriteRequest{
		Identity: MetricIdentity{Key: "load", FieldName: "load"},
		Value:    95,
		DefaultAlert: &AlertTemplate{
			Operator:       models.OperatorGreaterThan,
			ThresholdValue: 90,
		},
	}

	_, err := metricService.RecordObservation(ctx, req)
	if !errors.Is(err, tsdb.ErrStorage) {
		t.Fatalf("时序写入失败应返回存储错误，实际 %v", err)
	}

	// 健康状态必须保持不变
	metric, err := repo.NewMetricRepo(db).FindByIdentity(ctx, "load", "load", "", "")
	if err != nil {
		t.Fatalf("查询指标失败: %v", err)
	}
	if metric == nil {
		t.Fatal("指标应已创建")
	}
	if metric.Healthy != nil {
		t.Errorf("写入失败后健康状态应保持未知，实际 %v", *metric.Healthy)
	}
	if kind := notifier.wait(100 * time.Millisecond); kind != "" {
		t.Errorf("写入失败不应发送通知，收到 %s", kind)
	}
}

func TestRecordObservationNoSettings(t *testing.T) {
	f := newMetricFixture(t)
	ctx := context.Background()

	req := WriteRequest{
		Identity: MetricIdentity{Key: "temperature", FieldName: "celsius"},
		Value:    120,
	}
	transition, err := f.metricService.RecordObservation(ctx, req)
	if err != nil {
		t.Fatalf("写入观测失败: %v", err)
	}
	if transition != TransitionNone {
		t.Fatalf("没有告警配置的指标不应评估，实际 %s", transition)
	}

	metric, err := f.metricRepo.FindByIdentity(ctx, "temperature", "celsius", "", "")
	if err != nil || metric == nil {
		t.Fatalf("指标应已惰性创建: metric=%v err=%v", metric, err)
	}
	if metric.Healthy != nil {
		t.Error("未评估的指标健康状态应为未知")
	}
}

func TestRecordObservationWithTolerance(t *testing.T) {
	f := newMetricFixture(t)
	ctx := context.Background()

	identity := MetricIdentity{Key: "load", FieldName: "load"}
	req := WriteRequest{
		Identity: identity,
		Value:    95,
		DefaultAlert: &AlertTemplate{
			Operator:         models.OperatorGreaterThan,
			ThresholdValue:   90,
			ToleranceSeconds: 60,
		},
	}

	// 第一次越界：没有历史，无法确认持续时间
	transition, err := f.metricService.RecordObservation(ctx, req)
	if err != nil {
		t.Fatalf("写入观测失败: %v", err)
	}
	if transition != TransitionNone {
		t.Fatalf("越界持续时间不足，不应触发，实际 %s", transition)
	}

	// 预置一个 70 秒前的越界点后再次观测：持续性得到确认
	old := time.Now().UnixMilli() - 70*1000
	if err := f.store.Write(ctx, "load", map[string]float64{"load": 96}, nil, old, ""); err != nil {
		t.Fatalf("预置历史数据失败: %v", err)
	}
	transition, err = f.metricService.RecordObservation(ctx, req)
	if err != nil {
		t.Fatalf("写入观测失败: %v", err)
	}
	if transition != TransitionFirstUnhealthy {
		t.Fatalf("越界持续超过容忍时间，期望 first_unhealthy，实际 %s", transition)
	}
}
