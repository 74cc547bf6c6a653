package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dushixiang/osprey/internal/models"
)

// TypeDataCollected 数据采集检查类型标识
const TypeDataCollected = "data_collected"

func init() {
	Register(TypeDataCollected, NewDataCollectedCheck)
}

// DataCollectedParams 数据采集检查参数
type DataCollectedParams struct {
	MetricKey  string `json:"metricKey"`                                  // 参考的指标 key，默认 ping
	MaxAgeSecs uint   `json:"maxAgeSeconds" validate:"omitempty,min=10"` // 数据最大年龄（秒），默认 2 倍检查间隔
}

// DataCollectedCheck 检查设备是否仍在产生监控数据：
// 最新数据点超龄说明采集链路断了，即使设备本身可达
type DataCollectedCheck struct {
	deps   Deps
	check  models.Check
	params DataCollectedParams
}

func NewDataCollectedCheck(deps Deps, check models.Check) (Check, error) {
	c := &DataCollectedCheck{deps: deps, check: check}
	if len(check.Params) > 0 {
		if err := json.Unmarshal(check.Params, &c.params); err != nil {
			return nil, &ValidationError{CheckType: TypeDataCollected, Err: err}
		}
	}
	return c, nil
}

func (c *DataCollectedCheck) Validate() error {
	if err := validate.Struct(&c.params); err != nil {
		return &ValidationError{CheckType: TypeDataCollected, Err: err}
	}
	if c.check.DeviceID == "" {
		return &ValidationError{CheckType: TypeDataCollected, Err: fmt.Errorf("缺少目标设备")}
	}
	return nil
}

func (c *DataCollectedCheck) Run(ctx context.Context) (*Result, error) {
	key := c.params.MetricKey
	if key == "" {
		key = "ping"
	}

	maxAge := time.Duration(c.params.MaxAgeSecs) * time.Second
	if maxAge == 0 {
		interval := c.check.IntervalSeconds
		if interval <= 0 {
			interval = 300
		}
		maxAge = 2 * time.Duration(interval) * time.Second
	}

	age, found, err := c.deps.History.LatestPointAge(ctx, key, SubjectTypeDevice, c.check.DeviceID)
	if err != nil {
		return nil, err
	}
	// 从未有过数据点时无从判断，跳过而不是判为异常
	if !found {
		return &Result{Skipped: true, Reason: "尚无监控数据"}, nil
	}

	collected := float64(0)
	if age <= maxAge {
		collected = 1
	}

	return &Result{Observations: []Observation{{
		Key:       "data_collected",
		FieldName: "data_collected",
		Name:      "data collected",
		Value:     collected,
		Extra: map[string]float64{
			"age_seconds": age.Seconds(),
		},
		Alert: &AlertTemplate{
			Operator:       models.OperatorLessThan,
			ThresholdValue: 1,
		},
	}}}, nil
}

func (c *DataCollectedCheck) Store(ctx context.Context, result *Result) error {
	return storeObservations(ctx, c.deps.Writer, SubjectTypeDevice, c.check.DeviceID, result)
}
