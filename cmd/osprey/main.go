package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dushixiang/osprey/internal/config"
	"github.com/dushixiang/osprey/internal/handler"
	"github.com/dushixiang/osprey/internal/models"
	"github.com/dushixiang/osprey/internal/scheduler"
	"github.com/dushixiang/osprey/internal/service"
	"github.com/dushixiang/osprey/internal/tsdb"
	"github.com/glebarez/sqlite"
	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "osprey",
		Short: "网络设备监控与告警引擎",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "配置文件路径")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("打开数据库失败: %w", err)
	}

	if err := db.AutoMigrate(
		&models.Organization{},
		&models.Device{},
		&models.Metric{},
		&models.AlertSettings{},
		&models.Check{},
		&models.ResourceLease{},
		&models.AlertRecord{},
	); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}

	store, err := tsdb.NewBoltStore(cfg.TSDB.Path)
	if err != nil {
		return fmt.Errorf("打开时序存储失败: %w", err)
	}
	defer func() { _ = store.Close() }()

	var notifier service.Notifier
	if cfg.Email != nil && cfg.Email.Host != "" {
		notifier = service.NewEmailNotifier(logger, service.EmailConfig{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
			To:       cfg.Email.To,
		})
	} else {
		notifier = service.NewLogNotifier(logger)
	}

	healthService := service.NewHealthService(logger, db)
	metricService := service.NewMetricService(logger, db, store, healthService, notifier)
	leaseService := service.NewLeaseService(logger, db)
	checkService := service.NewCheckService(logger, db, metricService, leaseService, cfg.Checks.MaxConcurrent)
	deviceService := service.NewDeviceService(logger, db)

	checkScheduler := scheduler.NewCheckScheduler(checkService, logger)
	checkService.SetScheduler(checkScheduler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checkScheduler.Start(ctx)
	defer checkScheduler.Stop()

	// 定期清理过期时序数据
	if cfg.TSDB.RetentionDays > 0 {
		go pruneLoop(ctx, logger, store, cfg.TSDB.RetentionDays)
	}

	e := echo.New()
	e.HideBanner = true

	checkHandler := handler.NewCheckHandler(logger, checkService, checkScheduler)
	deviceHandler := handler.NewDeviceHandler(logger, deviceService)
	metricHandler := handler.NewMetricHandler(logger, metricService)

	api := e.Group("/api")
	api.POST("/checks", checkHandler.Create)
	api.POST("/checks/run-all", checkHandler.RunAll)
	api.POST("/checks/:id/run", checkHandler.Run)
	api.GET("/checks/scheduler", checkHandler.SchedulerStatus)
	api.POST("/organizations", deviceHandler.CreateOrganization)
	api.POST("/devices", deviceHandler.Create)
	api.GET("/devices/:id/status", deviceHandler.Status)
	api.GET("/devices/:id/alerts", deviceHandler.AlertRecords)
	api.POST("/metrics/observations", metricHandler.RecordObservation)

	go func() {
		logger.Info("启动 HTTP 服务", zap.String("addr", cfg.Server.Addr))
		if err := e.Start(cfg.Server.Addr); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP 服务异常退出", zap.Error(err))
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("正在关闭服务")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return e.Shutdown(shutdownCtx)
}

// newLogger 创建 zap 日志器，配置了文件路径时使用 lumberjack 滚动
func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var syncer zapcore.WriteSyncer
	if cfg.File != "" {
		syncer = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,    // MB
			MaxBackups: cfg.MaxBackups, // 保留的旧日志文件数
			MaxAge:     cfg.MaxAge,     // 天数
			Compress:   cfg.Compress,
		})
	} else {
		syncer = zapcore.AddSync(os.Stdout)
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), syncer, level)
	return zap.New(core, zap.AddCaller()), nil
}

// openDatabase 按配置打开元数据存储
func openDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	switch cfg.Type {
	case "postgres":
		return gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{})
	default:
		return gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{})
	}
}

// pruneLoop 每天清理一次超过保留期的时序数据
func pruneLoop(ctx context.Context, logger *zap.Logger, store *tsdb.BoltStore, retentionDays int) {
	retention := map[string]time.Duration{
		// short 策略用于高频/大体积的测试数据
		"short": 2 * 24 * time.Hour,
	}
	defaultAge := time.Duration(retentionDays) * 24 * time.Hour

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.Prune(ctx, retention, defaultAge, time.Now().UnixMilli()); err != nil {
				logger.Error("清理过期时序数据失败", zap.Error(err))
			}
		}
	}
}
