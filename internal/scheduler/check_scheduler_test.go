package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dushixiang/osprey/internal/checks"
	"github.com/dushixiang/osprey/internal/models"
	"github.com/dushixiang/osprey/internal/repo"
	"github.com/dushixiang/osprey/internal/service"
	"github.com/dushixiang/osprey/internal/tsdb"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type schedulerFixture struct {
	db        *gorm.DB
	scheduler *CheckScheduler
	device    *models.Device
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "scheduler_test.db") + "?_pragma=busy_timeout(10000)"
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}
	err = db.AutoMigrate(
		&models.Organization{},
		&models.Device{},
		&models.Metric{},
		&models.AlertSettings{},
		&models.Check{},
		&models.ResourceLease{},
		&models.AlertRecord{},
	)
	if err != nil {
		t.Fatalf("迁移测试数据库失败: %v", err)
	}

	log := zap.NewNop()

	orgRepo := repo.NewOrgRepo(db)
	org := &models.Organization{Name: "测试组织", Active: true}
	if err := orgRepo.Create(ctx, org); err != nil {
		t.Fatalf("创建测试组织失败: %v", err)
	}
	deviceRepo := repo.NewDeviceRepo(db)
	device := &models.Device{
		OrganizationID: org.ID,
		Name:           "核心交换机",
		ConfigStatus:   "applied",
		Active:         true,
	}
	if err := deviceRepo.Create(ctx, device); err != nil {
		t.Fatalf("创建测试设备失败: %v", err)
	}

	healthService := service.NewHealthService(log, db)
	metricService := service.NewMetricService(log, db, tsdb.NewMemoryStore(), healthService, service.NewLogNotifier(log))
	leaseService := service.NewLeaseService(log, db)
	checkService := service.NewCheckService(log, db, metricService, leaseService, 4)

	scheduler := NewCheckScheduler(checkService, log)
	checkService.SetScheduler(scheduler)

	return &schedulerFixture{db: db, scheduler: scheduler, device: device}
}

func (f *schedulerFixture) createCheck(t *testing.T, interval int) *models.Check {
	t.Helper()
	check := &models.Check{
		Name:            "config applied",
		Type:            checks.TypeConfigApplied,
		DeviceID:        f.device.ID,
		IntervalSeconds: interval,
		Active:          true,
	}
	if err := repo.NewCheckRepo(f.db).Create(context.Background(), check); err != nil {
		t.Fatalf("创建检查任务失败: %v", err)
	}
	return check
}

func TestSchedulerTaskManagement(t *testing.T) {
	f := newSchedulerFixture(t)

	if err := f.scheduler.AddTask("check-1", 60); err != nil {
		t.Fatalf("添加任务失败: %v", err)
	}
	if err := f.scheduler.AddTask("check-2", 120); err != nil {
		t.Fatalf("添加任务失败: %v", err)
	}
	if count := f.scheduler.GetTaskCount(); count != 2 {
		t.Errorf("期望 2 个任务，实际 %d 个", count)
	}

	// 重复添加同一任务应覆盖而不是累加
	if err := f.scheduler.AddTask("check-1", 30); err != nil {
		t.Fatalf("更新任务失败: %v", err)
	}
	if count := f.scheduler.GetTaskCount(); count != 2 {
		t.Errorf("重复添加后仍应为 2 个任务，实际 %d 个", count)
	}

	f.scheduler.RemoveTask("check-1")
	if count := f.scheduler.GetTaskCount(); count != 1 {
		t.Errorf("删除后应剩 1 个任务，实际 %d 个", count)
	}

	status := f.scheduler.GetTaskStatus()
	if status["totalTasks"] != 1 {
		t.Errorf("任务状态统计错误: %v", status["totalTasks"])
	}
}

func TestSchedulerLoadTasks(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	active := f.createCheck(t, 300)
	inactive := f.createCheck(t, 300)
	if err := repo.NewCheckRepo(f.db).UpdateActive(ctx, inactive.ID, false); err != nil {
		t.Fatalf("停用检查任务失败: %v", err)
	}

	f.scheduler.LoadTasks()
	if count := f.scheduler.GetTaskCount(); count != 1 {
		t.Fatalf("只应加载启用的任务，期望 1 个，实际 %d 个", count)
	}

	// 任务被停用后，重新加载应将其移除
	if err := repo.NewCheckRepo(f.db).UpdateActive(ctx, active.ID, false); err != nil {
		t.Fatalf("停用检查任务失败: %v", err)
	}
	f.scheduler.LoadTasks()
	if count := f.scheduler.GetTaskCount(); count != 0 {
		t.Fatalf("停用的任务应被移除，实际剩 %d 个", count)
	}
}

func TestSchedulerReschedule(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.scheduler.Start(ctx)
	defer f.scheduler.Stop()

	check := f.createCheck(t, 300)

	if err := f.scheduler.Reschedule(check.ID, 50*time.Millisecond); err != nil {
		t.Fatalf("安排重试失败: %v", err)
	}

	// 重试触发后检查应已执行并产生指标
	metricRepo := repo.NewMetricRepo(f.db)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		metric, err := metricRepo.FindByIdentity(ctx, "config_applied", "config_applied", "device", f.device.ID)
		if err != nil {
			t.Fatalf("查询指标失败: %v", err)
		}
		if metric != nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("重试定时器触发后应执行检查并产生指标")
}
