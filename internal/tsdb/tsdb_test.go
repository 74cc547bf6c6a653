package tsdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// 两个实现共用同一组行为测试
func testStore(t *testing.T, store Store) {
	ctx := context.Background()
	tags := map[string]string{"subject_type": "device", "subject_id": "dev-1"}

	base := time.Now().UnixMilli() - 60*1000
	for i := 0; i < 5; i++ {
		fields := map[string]float64{"load": float64(10 * (i + 1)), "extra": 1}
		if err := store.Write(ctx, "load", fields, tags, base+int64(i)*1000, ""); err != nil {
			t.Fatalf("写入数据点失败: %v", err)
		}
	}

	t.Run("升序读取", func(t *testing.T) {
		points, err := store.Read(ctx, "load", nil, tags, 0, 0, false)
		if err != nil {
			t.Fatalf("读取失败: %v", err)
		}
		if len(points) != 5 {
			t.Fatalf("期望 5 个数据点，实际 %d 个", len(points))
		}
		if points[0].Values["load"] != 10 || points[4].Values["load"] != 50 {
			t.Errorf("升序读取顺序错误: 首 %v 尾 %v", points[0].Values["load"], points[4].Values["load"])
		}
	})

	t.Run("降序读取带上限", func(t *testing.T) {
		points, err := store.Read(ctx, "load", nil, tags, 0, 2, true)
		if err != nil {
			t.Fatalf("读取失败: %v", err)
		}
		if len(points) != 2 {
			t.Fatalf("期望 2 个数据点，实际 %d 个", len(points))
		}
		if points[0].Values["load"] != 50 || points[1].Values["load"] != 40 {
			t.Errorf("降序读取顺序错误: %v %v", points[0].Values["load"], points[1].Values["load"])
		}
	})

	t.Run("since过滤", func(t *testing.T) {
		points, err := store.Read(ctx, "load", nil, tags, base+3000, 0, true)
		if err != nil {
			t.Fatalf("读取失败: %v", err)
		}
		if len(points) != 2 {
			t.Errorf("since 之后应有 2 个数据点，实际 %d 个", len(points))
		}
	})

	t.Run("字段过滤", func(t *testing.T) {
		points, err := store.Read(ctx, "load", []string{"load"}, tags, 0, 1, true)
		if err != nil {
			t.Fatalf("读取失败: %v", err)
		}
		if len(points) != 1 {
			t.Fatalf("期望 1 个数据点，实际 %d 个", len(points))
		}
		if _, ok := points[0].Values["extra"]; ok {
			t.Error("字段过滤后不应包含 extra 字段")
		}
		if _, ok := points[0].Values["load"]; !ok {
			t.Error("字段过滤后应保留 load 字段")
		}
	})

	t.Run("不同标签是不同序列", func(t *testing.T) {
		otherTags := map[string]string{"subject_type": "device", "subject_id": "dev-2"}
		points, err := store.Read(ctx, "load", nil, otherTags, 0, 0, false)
		if err != nil {
			t.Fatalf("读取失败: %v", err)
		}
		if len(points) != 0 {
			t.Errorf("另一台设备的序列应为空，实际 %d 个数据点", len(points))
		}
	})

	t.Run("无标签序列", func(t *testing.T) {
		if err := store.Write(ctx, "load", map[string]float64{"load": 5}, nil, base, ""); err != nil {
			t.Fatalf("写入失败: %v", err)
		}
		points, err := store.Read(ctx, "load", nil, nil, 0, 0, false)
		if err != nil {
			t.Fatalf("读取失败: %v", err)
		}
		if len(points) != 1 {
			t.Errorf("无标签序列应独立于带标签序列，期望 1 个数据点，实际 %d 个", len(points))
		}
	})
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestMemoryStoreOutOfOrderWrite(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	now := time.Now().UnixMilli()
	timestamps := []int64{now, now - 2000, now - 1000}
	for _, ts := range timestamps {
		if err := store.Write(ctx, "ping", map[string]float64{"reachable": 1}, nil, ts, ""); err != nil {
			t.Fatalf("写入失败: %v", err)
		}
	}

	points, err := store.Read(ctx, "ping", nil, nil, 0, 0, false)
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	for i := 1; i < len(points); i++ {
		if points[i].Timestamp < points[i-1].Timestamp {
			t.Fatal("乱序写入后升序读取结果应按时间排列")
		}
	}
}

func TestBoltStore(t *testing.T) {
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "tsdb_test.db"))
	if err != nil {
		t.Fatalf("打开时序数据库失败: %v", err)
	}
	defer store.Close()

	testStore(t, store)
}

func TestBoltStorePrune(t *testing.T) {
	ctx := context.Background()
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "tsdb_prune_test.db"))
	if err != nil {
		t.Fatalf("打开时序数据库失败: %v", err)
	}
	defer store.Close()

	now := time.Now().UnixMilli()
	day := int64(24 * 60 * 60 * 1000)

	// 默认策略序列：一个 10 天前的点和一个当前的点
	if err := store.Write(ctx, "ping", map[string]float64{"reachable": 1}, nil, now-10*day, ""); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if err := store.Write(ctx, "ping", map[string]float64{"reachable": 1}, nil, now, ""); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	// short 策略序列：一个 3 天前的点
	if err := store.Write(ctx, "iperf", map[string]float64{"bandwidth": 1e9}, nil, now-3*day, "short"); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	retention := map[string]time.Duration{"short": 2 * 24 * time.Hour}
	if err := store.Prune(ctx, retention, 30*24*time.Hour, now); err != nil {
		t.Fatalf("清理失败: %v", err)
	}

	points, err := store.Read(ctx, "ping", nil, nil, 0, 0, false)
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if len(points) != 2 {
		t.Errorf("默认保留 30 天，10 天前的点不应被清理，期望 2 个数据点，实际 %d 个", len(points))
	}

	points, err = store.Read(ctx, "iperf", nil, nil, 0, 0, false)
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if len(points) != 0 {
		t.Errorf("short 策略保留 2 天，3 天前的点应被清理，实际剩余 %d 个", len(points))
	}
}
