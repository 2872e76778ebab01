package manager

import (
	"context"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"proxychecker/proxypool/model"
	"proxychecker/proxypool/parser"
	"proxychecker/proxypool/storage"
)

// BatchRun 是一次批量检测的运行状态。计数器只由 Manager 在 mu 保护下修改。
type BatchRun struct {
	ID         string
	Endpoint   string
	Candidates []model.ProxyCandidate
	StartedAt  time.Time

	mu        sync.Mutex
	tested    int
	valid     int
	available []model.ProbeOutcome
}

// record 计入一个结果, 返回计入后的计数。
func (r *BatchRun) record(o model.ProbeOutcome) (tested, valid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tested++
	if o.Available() {
		r.valid++
		r.available = append(r.available, o)
	}
	return r.tested, r.valid
}

func (r *BatchRun) counts() (tested, valid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tested, r.valid
}

// BatchSummary 是一次批量检测的汇总。
type BatchSummary struct {
	RunID      string               `json:"run_id"`
	Endpoint   string               `json:"endpoint"`
	Lines      int                  `json:"lines"`
	Invalid    int                  `json:"invalid"`
	Filtered   int                  `json:"filtered"`   // 80 端口
	Duplicates int                  `json:"duplicates"` // 规范化后重复而被合并的条目
	Total      int                  `json:"total"`
	Dispatched int                  `json:"dispatched"`
	Tested     int                  `json:"tested"`
	Valid      int                  `json:"valid"`
	Cancelled  bool                 `json:"cancelled"`
	Available  []model.ProbeOutcome `json:"available"` // 按延迟升序
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
}

func (r *BatchRun) fill(s *BatchSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.Tested = r.tested
	s.Valid = r.valid
	s.Available = storage.SortByLatency(r.available)
}

type parseResult struct {
	candidate model.ProxyCandidate
	err       error
}

type candidateStats struct {
	lines      int
	invalid    []string
	filtered   []string
	duplicates int
}

// prepareCandidates 并行解析每一行, 剔除无效行和 80 端口,
// 按规范化地址去重 (保留第一次出现的原始行) 后随机打乱。
func prepareCandidates(ctx context.Context, lines []string) ([]model.ProxyCandidate, candidateStats, error) {
	results := make([]parseResult, len(lines))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, line := range lines {
		i, line := i, line
		g.Go(func() error {
			c, err := parser.Parse(line)
			results[i] = parseResult{candidate: c, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, candidateStats{}, err
	}
	if err := ctx.Err(); err != nil {
		return nil, candidateStats{}, err
	}

	stats := candidateStats{lines: len(lines)}
	seen := make(map[string]struct{}, len(results))
	candidates := make([]model.ProxyCandidate, 0, len(results))
	for i, r := range results {
		switch {
		case r.err != nil:
			stats.invalid = append(stats.invalid, lines[i])
		case parser.IsFiltered(r.candidate):
			stats.filtered = append(stats.filtered, r.candidate.Raw)
		default:
			if _, dup := seen[r.candidate.Canonical]; dup {
				stats.duplicates++
				continue
			}
			seen[r.candidate.Canonical] = struct{}{}
			candidates = append(candidates, r.candidate)
		}
	}

	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	return candidates, stats, nil
}
