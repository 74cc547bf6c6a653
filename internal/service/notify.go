package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// Notifier 通知投递接口（外部协作方）。
// 投递失败只记录日志，绝不阻塞健康评估
type Notifier interface {
	Notify(ctx context.Context, subjectID, metricName, kind string) error
}

// LogNotifier 仅写日志的通知实现（未配置邮件时的默认实现）
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, subjectID, metricName, kind string) error {
	n.logger.Info("告警通知",
		zap.String("subjectId", subjectID),
		zap.String("metric", metricName),
		zap.String("kind", kind))
	return nil
}

// EmailConfig 邮件通知配置
type EmailConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// EmailNotifier 邮件通知实现
type EmailNotifier struct {
	logger *zap.Logger
	config EmailConfig
	dialer *gomail.Dialer
}

func NewEmailNotifier(logger *zap.Logger, config EmailConfig) *EmailNotifier {
	return &EmailNotifier{
		logger: logger,
		config: config,
		dialer: gomail.NewDialer(config.Host, config.Port, config.Username, config.Password),
	}
}

// Notify 发送邮件通知，瞬时失败时退避重试
func (n *EmailNotifier) Notify(ctx context.Context, subjectID, metricName, kind string) error {
	var subject string
	switch kind {
	case "recovery":
		subject = fmt.Sprintf("[恢复] %s", metricName)
	default:
		subject = fmt.Sprintf("[告警] %s", metricName)
	}
	body := fmt.Sprintf("指标: %s\n对象: %s\n类型: %s\n时间: %s",
		metricName, subjectID, kind, time.Now().Format("2006-01-02 15:04:05"))

	b := &backoff.Backoff{
		Min:    500 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var err error
	for attempt := 0; attempt < 3; attempt++ {
		message := gomail.NewMessage()
		message.SetHeader("From", n.config.From)
		message.SetHeader("To", n.config.To...)
		message.SetHeader("Subject", subject)
		message.SetBody("text/plain", body)

		if err = n.dialer.DialAndSend(message); err == nil {
			return nil
		}

		n.logger.Warn("发送邮件通知失败，准备重试",
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
	return err
}
