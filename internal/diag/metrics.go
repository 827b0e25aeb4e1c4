package diag

import (
	"sort"
	"strings"
	"sync"
)

// 进程内指标（无外部导出）：
// - op_total{comp,stage,result}
// - error_total{comp,code}
// - op_duration_ms{comp,stage}（累计）
var metrics = struct {
	mu     sync.Mutex
	ops    map[string]int64
	errs   map[string]int64
	durSum map[string]int64
}{
	ops:    map[string]int64{},
	errs:   map[string]int64{},
	durSum: map[string]int64{},
}

func mkey(parts ...string) string { return strings.Join(parts, "/") }

// IncOp 累加操作计数（result=success|error|skipped|cached）。
func IncOp(comp, stage, result string) {
	metrics.mu.Lock()
	metrics.ops[mkey(comp, stage, result)]++
	metrics.mu.Unlock()
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	metrics.mu.Lock()
	metrics.errs[mkey(comp, code)]++
	metrics.mu.Unlock()
}

// ObserveDuration 记录阶段耗时（毫秒，累计）。
func ObserveDuration(comp, stage string, durMS int64) {
	metrics.mu.Lock()
	metrics.durSum[mkey(comp, stage)] += durMS
	metrics.mu.Unlock()
}

// MetricsSnapshot 为某一时刻的指标拷贝；键为 "/" 连接的标签值。
type MetricsSnapshot struct {
	Ops        map[string]int64 `json:"op_total"`
	Errors     map[string]int64 `json:"error_total"`
	DurationMS map[string]int64 `json:"op_duration_ms"`
}

// Snapshot 返回当前指标拷贝。
func Snapshot() MetricsSnapshot {
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	return MetricsSnapshot{
		Ops:        copyCounts(metrics.ops),
		Errors:     copyCounts(metrics.errs),
		DurationMS: copyCounts(metrics.durSum),
	}
}

// ResetMetrics 清空计数（测试与长驻进程按批次统计时使用）。
func ResetMetrics() {
	metrics.mu.Lock()
	metrics.ops = map[string]int64{}
	metrics.errs = map[string]int64{}
	metrics.durSum = map[string]int64{}
	metrics.mu.Unlock()
}

// Keys 返回排序后的键，便于稳定输出。
func (s MetricsSnapshot) Keys() []string {
	seen := map[string]struct{}{}
	for _, m := range []map[string]int64{s.Ops, s.Errors, s.DurationMS} {
		for k := range m {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
