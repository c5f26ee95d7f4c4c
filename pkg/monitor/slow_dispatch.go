package monitor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kasuganosora/shardconn/pkg/capability"
)

// SlowDispatchLog 慢分发日志项
type SlowDispatchLog struct {
	ID             int64
	Operation      capability.Operation
	Classification capability.Classification
	Targets        int
	Duration       time.Duration
	Timestamp      time.Time
	Outcome        Outcome
	Error          string
}

// SlowDispatchAnalyzer 慢分发分析器，保留最近 maxEntries 条
type SlowDispatchAnalyzer struct {
	mu         sync.RWMutex
	entries    []*SlowDispatchLog
	threshold  time.Duration
	maxEntries int
	nextID     int64
}

// NewSlowDispatchAnalyzer 创建慢分发分析器
func NewSlowDispatchAnalyzer(threshold time.Duration, maxEntries int) *SlowDispatchAnalyzer {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &SlowDispatchAnalyzer{
		entries:    make([]*SlowDispatchLog, 0, maxEntries),
		threshold:  threshold,
		maxEntries: maxEntries,
		nextID:     1,
	}
}

// IsSlow 检查是否为慢分发
func (s *SlowDispatchAnalyzer) IsSlow(duration time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return duration >= s.threshold
}

// Record 记录一次分发，未超过阈值返回 0
func (s *SlowDispatchAnalyzer) Record(op capability.Operation, class capability.Classification, targets int, duration time.Duration, err error) int64 {
	if !s.IsSlow(duration) {
		return 0
	}

	log := &SlowDispatchLog{
		Operation:      op,
		Classification: class,
		Targets:        targets,
		Duration:       duration,
		Timestamp:      time.Now(),
		Outcome:        ClassifyOutcome(err),
	}
	if err != nil {
		log.Error = err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log.ID = s.nextID
	s.nextID++
	s.entries = append(s.entries, log)

	// 如果超出最大条目数，移除最旧的记录
	if len(s.entries) > s.maxEntries {
		s.entries = s.entries[1:]
	}

	return log.ID
}

// GetAll 获取所有慢分发记录
func (s *SlowDispatchAnalyzer) GetAll() []*SlowDispatchLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*SlowDispatchLog, len(s.entries))
	copy(result, s.entries)
	return result
}

// GetByOperation 获取指定操作的慢分发
func (s *SlowDispatchAnalyzer) GetByOperation(op capability.Operation) []*SlowDispatchLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*SlowDispatchLog{}
	for _, log := range s.entries {
		if log.Operation == op {
			result = append(result, log)
		}
	}
	return result
}

// Count 获取记录总数
func (s *SlowDispatchAnalyzer) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear 清空所有记录
func (s *SlowDispatchAnalyzer) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make([]*SlowDispatchLog, 0, s.maxEntries)
	s.nextID = 1
}

// SetThreshold 设置阈值
func (s *SlowDispatchAnalyzer) SetThreshold(threshold time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threshold = threshold
}

// GetThreshold 获取阈值
func (s *SlowDispatchAnalyzer) GetThreshold() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threshold
}

// OperationStats 单个操作的慢分发统计
type OperationStats struct {
	Operation     capability.Operation
	Count         int
	TotalDuration time.Duration
	MaxDuration   time.Duration
	AvgDuration   time.Duration
	MaxTargets    int
	ErrorCount    int
}

// Analyze 按操作汇总，按总耗时降序
func (s *SlowDispatchAnalyzer) Analyze() []*OperationStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byOp := make(map[capability.Operation]*OperationStats)
	for _, log := range s.entries {
		stats, ok := byOp[log.Operation]
		if !ok {
			stats = &OperationStats{Operation: log.Operation}
			byOp[log.Operation] = stats
		}
		stats.Count++
		stats.TotalDuration += log.Duration
		if log.Duration > stats.MaxDuration {
			stats.MaxDuration = log.Duration
		}
		if log.Targets > stats.MaxTargets {
			stats.MaxTargets = log.Targets
		}
		if log.Error != "" {
			stats.ErrorCount++
		}
	}

	result := make([]*OperationStats, 0, len(byOp))
	for _, stats := range byOp {
		stats.AvgDuration = stats.TotalDuration / time.Duration(stats.Count)
		result = append(result, stats)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].TotalDuration != result[j].TotalDuration {
			return result[i].TotalDuration > result[j].TotalDuration
		}
		return result[i].Operation < result[j].Operation
	})
	return result
}

// GetRecommendations 获取建议
func (s *SlowDispatchAnalyzer) GetRecommendations() []string {
	recommendations := []string{}
	for _, stats := range s.Analyze() {
		if capability.Classify(stats.Operation) == capability.Aggregate && stats.MaxTargets > 1 {
			recommendations = append(recommendations,
				fmt.Sprintf("%s 在 %d 个分片上顺序执行较慢(平均 %v)，可以考虑开启 parallel_aggregate", stats.Operation, stats.MaxTargets, stats.AvgDuration))
		}
		if stats.ErrorCount > 0 && stats.ErrorCount*10 > stats.Count {
			recommendations = append(recommendations,
				fmt.Sprintf("%s 的慢分发中有 %d 次失败，建议检查分片可用性或网络超时设置", stats.Operation, stats.ErrorCount))
		}
	}
	return recommendations
}
