package diag

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// 进程内计数器（运行结束时汇总到终端与日志）。
// 名称：
// - op_total{comp,stage,result}
// - error_total{comp,code}
// - op_duration_ms{comp,stage}（累计毫秒）

var counters sync.Map // name → *atomic.Int64

func add(name string, n int64) {
	v, ok := counters.Load(name)
	if !ok {
		v, _ = counters.LoadOrStore(name, new(atomic.Int64))
	}
	v.(*atomic.Int64).Add(n)
}

func metricName(base string, labels ...string) string {
	return base + "{" + strings.Join(labels, ",") + "}"
}

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) {
	add(metricName("op_total", comp, stage, result), 1)
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	add(metricName("error_total", comp, code), 1)
}

// ObserveDuration 累加阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	add(metricName("op_duration_ms", comp, stage), durMS)
}

// Counter 读取单个计数器当前值。
func Counter(name string) int64 {
	if v, ok := counters.Load(name); ok {
		return v.(*atomic.Int64).Load()
	}
	return 0
}

// OpCount 读取 op_total{comp,stage,result}。
func OpCount(comp, stage, result string) int64 {
	return Counter(metricName("op_total", comp, stage, result))
}

// Snapshot 返回全部计数器的快照（按名称排序的键）。
func Snapshot() (names []string, values map[string]int64) {
	values = map[string]int64{}
	counters.Range(func(k, v any) bool {
		values[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	for k := range values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names, values
}

// ResetMetrics 清空计数器（测试与多次运行之间使用）。
func ResetMetrics() {
	counters.Range(func(k, _ any) bool {
		counters.Delete(k)
		return true
	})
}
