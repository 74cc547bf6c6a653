package checks

import (
	"context"
	"testing"
	"time"

	"github.com/dushixiang/osprey/internal/models"
)

func TestDataCollectedRun(t *testing.T) {
	ctx := context.Background()

	newCheck := func(t *testing.T, deps Deps) Check {
		t.Helper()
		c, err := New(deps, models.Check{
			Type:            TypeDataCollected,
			DeviceID:        "dev-1",
			IntervalSeconds: 300,
		})
		if err != nil {
			t.Fatalf("构造检查失败: %v", err)
		}
		return c
	}

	t.Run("从未有过数据时跳过", func(t *testing.T) {
		deps, _, _, _, _ := newStubDeps()
		deps.History = &stubHistory{found: false}

		result, err := newCheck(t, deps).Run(ctx)
		if err != nil {
			t.Fatalf("执行失败: %v", err)
		}
		if !result.Skipped {
			t.Fatal("从未有过监控数据应跳过，不应判为采集断链")
		}
	})

	t.Run("数据新鲜", func(t *testing.T) {
		deps, _, _, _, _ := newStubDeps()
		deps.History = &stubHistory{age: time.Minute, found: true}

		result, err := newCheck(t, deps).Run(ctx)
		if err != nil {
			t.Fatalf("执行失败: %v", err)
		}
		if len(result.Observations) != 1 || result.Observations[0].Value != 1 {
			t.Fatalf("数据未超龄测量值应为 1，实际 %+v", result.Observations)
		}
	})

	t.Run("数据超龄", func(t *testing.T) {
		deps, _, _, _, _ := newStubDeps()
		// 默认最大年龄为 2 倍检查间隔（600 秒）
		deps.History = &stubHistory{age: 11 * time.Minute, found: true}

		result, err := newCheck(t, deps).Run(ctx)
		if err != nil {
			t.Fatalf("执行失败: %v", err)
		}
		if len(result.Observations) != 1 || result.Observations[0].Value != 0 {
			t.Fatalf("数据超龄测量值应为 0，实际 %+v", result.Observations)
		}
		if result.Observations[0].Extra["age_seconds"] != 660 {
			t.Errorf("age_seconds 应为 660，实际 %v", result.Observations[0].Extra["age_seconds"])
		}
	})
}
