package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dushixiang/osprey/internal/models"
	probing "github.com/prometheus-community/pro-bing"
	"go.uber.org/zap"
)

// TypePing 可达性检查类型标识
const TypePing = "ping"

func init() {
	Register(TypePing, NewPingCheck)
}

// PingParams 可达性检查参数
type PingParams struct {
	Count    int `json:"count" validate:"omitempty,min=1,max=20"`    // Ping 次数，默认 4
	Timeout  int `json:"timeout" validate:"omitempty,min=1,max=60"`  // 超时（秒），默认 5
	Interval int `json:"interval" validate:"omitempty,min=10"`       // 包间隔（毫秒），默认 100
}

// PingCheck 可达性检查：对设备管理地址执行 ICMP Ping，
// 产出 reachable/loss/rtt 指标。reachable 为关键指标，
// 它的异常会把设备聚合状态直接推到 critical
type PingCheck struct {
	deps   Deps
	check  models.Check
	params PingParams
}

func NewPingCheck(deps Deps, check models.Check) (Check, error) {
	c := &PingCheck{deps: deps, check: check}
	if len(check.Params) > 0 {
		if err := json.Unmarshal(check.Params, &c.params); err != nil {
			return nil, &ValidationError{CheckType: TypePing, Err: err}
		}
	}
	return c, nil
}

// DetectsRecovery ping 的目的就是探测设备恢复，critical 状态下仍然执行
func (c *PingCheck) DetectsRecovery() bool {
	return true
}

func (c *PingCheck) Validate() error {
	if err := validate.Struct(&c.params); err != nil {
		return &ValidationError{CheckType: TypePing, Err: err}
	}
	if c.check.DeviceID == "" {
		return &ValidationError{CheckType: TypePing, Err: fmt.Errorf("缺少目标设备")}
	}
	return nil
}

func (c *PingCheck) Run(ctx context.Context) (*Result, error) {
	device, err := c.deps.Devices.FindDevice(ctx, c.check.DeviceID)
	if err != nil {
		return nil, err
	}

	if device.MgmtAddress == "" {
		// 已知设备没有可解析的地址本身就是完全不可达的证据，
		// 合成一个"彻底宕机"的结果而不是报错；
		// 设备状态还是 unknown 时没有任何可报告的内容，直接跳过
		if device.Status == models.HealthStatusUnknown || device.Status == "" {
			c.deps.Logger.Debug("设备尚无管理地址且状态未知，跳过可达性检查",
				zap.String("deviceId", device.ID))
			return &Result{Skipped: true, Reason: "设备尚无管理地址"}, nil
		}
		c.deps.Logger.Warn("设备管理地址缺失，视为完全不可达",
			zap.String("deviceId", device.ID))
		return &Result{Observations: c.observations(0, 100, 0, 0, 0)}, nil
	}

	count := c.params.Count
	if count <= 0 {
		count = 4
	}
	timeout := c.params.Timeout
	if timeout <= 0 {
		timeout = 5
	}
	interval := c.params.Interval
	if interval <= 0 {
		interval = 100
	}

	pinger, err := probing.NewPinger(device.MgmtAddress)
	if err != nil {
		c.deps.Logger.Warn("创建 pinger 失败，目标不可解析",
			zap.String("deviceId", device.ID),
			zap.String("target", device.MgmtAddress),
			zap.Error(err))
		return &Result{Observations: c.observations(0, 100, 0, 0, 0)}, nil
	}

	pinger.Count = count
	pinger.Timeout = time.Duration(timeout) * time.Second
	pinger.Interval = time.Duration(interval) * time.Millisecond

	// 优先尝试非特权模式（UDP），失败后回退特权模式
	pinger.SetPrivileged(false)
	if err := pinger.RunWithContext(ctx); err != nil {
		pinger.SetPrivileged(true)
		if err := pinger.RunWithContext(ctx); err != nil {
			c.deps.Logger.Warn("ping 执行失败",
				zap.String("deviceId", device.ID),
				zap.String("target", device.MgmtAddress),
				zap.Error(err))
			return &Result{Observations: c.observations(0, 100, 0, 0, 0)}, nil
		}
	}

	stats := pinger.Statistics()
	reachable := float64(0)
	if stats.PacketsRecv > 0 {
		reachable = 1
	}
	return &Result{Observations: c.observations(
		reachable,
		stats.PacketLoss,
		float64(stats.AvgRtt.Milliseconds()),
		float64(stats.MinRtt.Milliseconds()),
		float64(stats.MaxRtt.Milliseconds()),
	)}, nil
}

func (c *PingCheck) observations(reachable, loss, rttAvg, rttMin, rttMax float64) []Observation {
	return []Observation{{
		Key:       "ping",
		FieldName: "reachable",
		Name:      "ping",
		Value:     reachable,
		Extra: map[string]float64{
			"loss":    loss,
			"rtt_avg": rttAvg,
			"rtt_min": rttMin,
			"rtt_max": rttMax,
		},
		Alert: &AlertTemplate{
			Operator:         models.OperatorLessThan,
			ThresholdValue:   1,
			ToleranceSeconds: 0,
			IsCritical:       true,
		},
	}}
}

func (c *PingCheck) Store(ctx context.Context, result *Result) error {
	return storeObservations(ctx, c.deps.Writer, SubjectTypeDevice, c.check.DeviceID, result)
}
