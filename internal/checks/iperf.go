package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/dushixiang/osprey/internal/models"
	"go.uber.org/zap"
)

// TypeIperf 带宽测试检查类型标识
const TypeIperf = "iperf"

func init() {
	Register(TypeIperf, NewIperfCheck)
}

// IperfParams 带宽测试参数
type IperfParams struct {
	Port            int      `json:"port" validate:"omitempty,min=1,max=65535"`       // iperf3 服务端口，默认 5201
	DurationSeconds int      `json:"durationSeconds" validate:"omitempty,min=1,max=120"` // 单阶段测试时长（秒），默认 10
	UDPBitrate      string   `json:"udpBitrate"`                                      // UDP 阶段带宽（如 10M），默认 10M
	Servers         []string `json:"servers"`                                         // 覆盖组织配置的服务器池（可选）
	MinBandwidth    float64  `json:"minBandwidth" validate:"omitempty,min=0"`         // 告警阈值（bit/s），0 表示不配置告警
}

// IperfCheck 带宽测试检查：物理测试服务器数量有限，
// 并发测试数超过服务器数会污染结果。执行前必须通过租约仲裁器
// 获取一台空闲服务器；全部被占用时请求调度器稍后重试而不是阻塞
type IperfCheck struct {
	deps   Deps
	check  models.Check
	params IperfParams

	// 命令执行函数，测试时注入假实现
	runCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func NewIperfCheck(deps Deps, check models.Check) (Check, error) {
	c := &IperfCheck{
		deps:  deps,
		check: check,
		runCommand: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
	}
	if len(check.Params) > 0 {
		if err := json.Unmarshal(check.Params, &c.params); err != nil {
			return nil, &ValidationError{CheckType: TypeIperf, Err: err}
		}
	}
	return c, nil
}

func (c *IperfCheck) Validate() error {
	if err := validate.Struct(&c.params); err != nil {
		return &ValidationError{CheckType: TypeIperf, Err: err}
	}
	if c.check.DeviceID == "" {
		return &ValidationError{CheckType: TypeIperf, Err: fmt.Errorf("缺少目标设备")}
	}
	return nil
}

func (c *IperfCheck) duration() time.Duration {
	seconds := c.params.DurationSeconds
	if seconds <= 0 {
		seconds = 10
	}
	return time.Duration(seconds) * time.Second
}

func (c *IperfCheck) Run(ctx context.Context) (*Result, error) {
	servers, err := c.resolveServers(ctx)
	if err != nil {
		return nil, err
	}
	if len(servers) == 0 {
		c.deps.Logger.Warn("组织未配置带宽测试服务器，跳过检查",
			zap.String("checkId", c.check.ID))
		return &Result{Skipped: true, Reason: "未配置测试服务器"}, nil
	}

	// 测试分 TCP/UDP 两个阶段，租约覆盖整个测试时间并留出余量
	testDuration := c.duration()
	leaseTTL := 2*testDuration + 30*time.Second

	server, ok, err := c.deps.Leases.TryAcquire(ctx, servers, c.check.ID, leaseTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		// 服务器全忙不是失败：请求调度器在两个阶段都能结束后重试
		retryAfter := 2 * testDuration
		if err := c.deps.Scheduler.Reschedule(c.check.ID, retryAfter); err != nil {
			return nil, err
		}
		c.deps.Logger.Info("带宽测试服务器全部被占用，已请求推迟重试",
			zap.String("checkId", c.check.ID),
			zap.Duration("retryAfter", retryAfter))
		return &Result{Deferred: true, Reason: "测试服务器全部被占用"}, nil
	}

	// 无论测试成败都必须释放租约
	defer func() {
		if err := c.deps.Leases.Release(ctx, server, c.check.ID); err != nil {
			c.deps.Logger.Error("释放测试服务器租约失败",
				zap.String("server", server),
				zap.Error(err))
		}
	}()

	tcp := c.runPhase(ctx, server, false)
	udp := c.runPhase(ctx, server, true)

	obs := Observation{
		Key:       "iperf",
		FieldName: "bandwidth",
		Name:      "iperf",
		Value:     tcp.bandwidth,
		Extra: map[string]float64{
			"sent_bps":      tcp.sentBps,
			"udp_bandwidth": udp.bandwidth,
			"jitter":        udp.jitter,
			"lost_percent":  udp.lostPercent,
		},
		Retention: "short",
	}
	if c.params.MinBandwidth > 0 {
		obs.Alert = &AlertTemplate{
			Operator:       models.OperatorLessThan,
			ThresholdValue: c.params.MinBandwidth,
		}
	}
	return &Result{Observations: []Observation{obs}}, nil
}

// resolveServers 解析可用的测试服务器池：参数覆盖优先，否则取组织配置
func (c *IperfCheck) resolveServers(ctx context.Context) ([]string, error) {
	if len(c.params.Servers) > 0 {
		return c.params.Servers, nil
	}

	device, err := c.deps.Devices.FindDevice(ctx, c.check.DeviceID)
	if err != nil {
		return nil, err
	}
	org, err := c.deps.Orgs.FindOrganization(ctx, device.OrganizationID)
	if err != nil {
		return nil, err
	}
	if len(org.IperfServers) == 0 {
		return nil, nil
	}

	var servers []string
	if err := json.Unmarshal(org.IperfServers, &servers); err != nil {
		return nil, fmt.Errorf("解析组织测试服务器配置失败: %w", err)
	}
	return servers, nil
}

type iperfPhaseResult struct {
	bandwidth   float64 // bit/s
	sentBps     float64
	jitter      float64 // 毫秒
	lostPercent float64
}

// runPhase 执行一个测试阶段。工具输出无法解析时记录原始输出，
// 并按零值测量入库，下游阈值依然能看到一个真实的数据点
func (c *IperfCheck) runPhase(ctx context.Context, server string, udp bool) iperfPhaseResult {
	seconds := int(c.duration().Seconds())
	args := []string{"-c", server, "-t", strconv.Itoa(seconds), "-J"}
	if c.params.Port > 0 {
		args = append(args, "-p", strconv.Itoa(c.params.Port))
	}
	if udp {
		bitrate := c.params.UDPBitrate
		if bitrate == "" {
			bitrate = "10M"
		}
		args = append(args, "-u", "-b", bitrate)
	}

	output, err := c.runCommand(ctx, "iperf3", args...)
	if err != nil {
		c.deps.Logger.Warn("iperf3 执行失败",
			zap.String("server", server),
			zap.Bool("udp", udp),
			zap.Error(err))
		return iperfPhaseResult{}
	}

	result, err := parseIperfOutput(output, udp)
	if err != nil {
		c.deps.Logger.Error("iperf3 输出无法解析",
			zap.String("server", server),
			zap.Bool("udp", udp),
			zap.ByteString("rawOutput", output),
			zap.Error(err))
		return iperfPhaseResult{}
	}
	return result
}

// iperfOutput iperf3 -J 输出中需要的部分
type iperfOutput struct {
	End struct {
		SumSent *struct {
			BitsPerSecond float64 `json:"bits_per_second"`
		} `json:"sum_sent"`
		SumReceived *struct {
			BitsPerSecond float64 `json:"bits_per_second"`
		} `json:"sum_received"`
		Sum *struct {
			BitsPerSecond float64 `json:"bits_per_second"`
			JitterMs      float64 `json:"jitter_ms"`
			LostPercent   float64 `json:"lost_percent"`
		} `json:"sum"`
	} `json:"end"`
	Error string `json:"error"`
}

func parseIperfOutput(raw []byte, udp bool) (iperfPhaseResult, error) {
	var output iperfOutput
	if err := json.Unmarshal(raw, &output); err != nil {
		return iperfPhaseResult{}, err
	}
	if output.Error != "" {
		return iperfPhaseResult{}, fmt.Errorf("iperf3 报告错误: %s", output.Error)
	}

	if udp {
		if output.End.Sum == nil {
			return iperfPhaseResult{}, fmt.Errorf("输出缺少 end.sum 段")
		}
		return iperfPhaseResult{
			bandwidth:   output.End.Sum.BitsPerSecond,
			jitter:      output.End.Sum.JitterMs,
			lostPercent: output.End.Sum.LostPercent,
		}, nil
	}

	if output.End.SumReceived == nil || output.End.SumSent == nil {
		return iperfPhaseResult{}, fmt.Errorf("输出缺少 end.sum_sent/sum_received 段")
	}
	return iperfPhaseResult{
		bandwidth: output.End.SumReceived.BitsPerSecond,
		sentBps:   output.End.SumSent.BitsPerSecond,
	}, nil
}

func (c *IperfCheck) Store(ctx context.Context, result *Result) error {
	return storeObservations(ctx, c.deps.Writer, SubjectTypeDevice, c.check.DeviceID, result)
}
