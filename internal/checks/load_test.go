package checks

import (
	"context"
	"testing"

	"github.com/dushixiang/osprey/internal/models"
)

func TestLoadRun(t *testing.T) {
	ctx := context.Background()
	deps, _, _, _, _ := newStubDeps()

	c, err := New(deps, models.Check{Type: TypeLoad, Params: []byte(`{"threshold": 80, "toleranceSeconds": 60}`)})
	if err != nil {
		t.Fatalf("构造检查失败: %v", err)
	}
	c.(*LoadCheck).sample = func(ctx context.Context) (float64, error) {
		return 42.5, nil
	}

	result, err := c.Run(ctx)
	if err != nil {
		t.Fatalf("执行失败: %v", err)
	}
	if len(result.Observations) != 1 {
		t.Fatalf("期望 1 个测量值，实际 %d 个", len(result.Observations))
	}

	obs := result.Observations[0]
	if obs.Value != 42.5 {
		t.Errorf("负载测量值错误: %v", obs.Value)
	}
	if obs.Alert == nil || obs.Alert.ThresholdValue != 80 || obs.Alert.ToleranceSeconds != 60 {
		t.Errorf("告警模板应采用检查参数，实际 %+v", obs.Alert)
	}
	if obs.Alert.Operator != models.OperatorGreaterThan {
		t.Errorf("负载告警操作符应为 >，实际 %s", obs.Alert.Operator)
	}
}
