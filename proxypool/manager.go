package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"proxychecker/internal/shared/logger"
	"proxychecker/proxypool/model"
	"proxychecker/proxypool/scraper"
)

const (
	DefaultConcurrency = 10

	// 进度回调的最小间隔, 批次结束时总会再发送一次
	DefaultProgressInterval = 200 * time.Millisecond
)

var (
	// ErrListFetch 表示代理列表获取失败, 整个批次终止。
	ErrListFetch = errors.New("failed to fetch proxy list")
	// ErrNoCandidates 表示解析和过滤后没有可检测的代理。这不是故障, 只是空结果。
	ErrNoCandidates = errors.New("no candidates to probe")
	// ErrRunInProgress 表示已有批次在运行。
	ErrRunInProgress = errors.New("a batch run is already in progress")
)

// Prober 检测单个候选代理。实现者必须对每个候选返回一个完整的结果。
type Prober interface {
	Probe(ctx context.Context, c model.ProxyCandidate, endpoint string) model.ProbeOutcome
}

// EndpointSelector 在批次开始时选出测试地址。
type EndpointSelector interface {
	Select(ctx context.Context) (string, error)
}

// Components 是一次批次使用的可替换部件, 可在两次批次之间整体替换。
type Components struct {
	Selector    EndpointSelector
	Prober      Prober
	Concurrency int
}

// Manager 是批量检测的总控制器: 选择测试地址, 获取并整理代理列表,
// 在并发上限内分发探测, 汇总进度和结果, 并响应停止请求。
type Manager struct {
	sinks            Sinks
	progressInterval time.Duration

	mu         sync.Mutex
	components Components
	cancel     context.CancelFunc // 非 nil 表示有批次在运行
	stopping   bool
	last       *BatchSummary
}

// NewManager 创建批量检测管理器。
func NewManager(components Components, sinks Sinks) *Manager {
	if components.Concurrency <= 0 {
		components.Concurrency = DefaultConcurrency
	}
	return &Manager{
		sinks:            sinks,
		progressInterval: DefaultProgressInterval,
		components:       components,
	}
}

// Configure 替换部件, 从下一次批次开始生效。
func (m *Manager) Configure(components Components) {
	if components.Concurrency <= 0 {
		components.Concurrency = DefaultConcurrency
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = components
}

// SetProgressInterval 调整进度回调的节流间隔。
func (m *Manager) SetProgressInterval(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progressInterval = d
}

// Running reports whether a batch is currently active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// LastSummary 返回最近一次结束的批次汇总, 没有时返回 nil。
func (m *Manager) LastSummary() *BatchSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Stop 请求停止当前批次: 不再分发新的探测, 已在进行的探测自然结束或超时。
// 没有批次或已请求过停止时返回 false。
func (m *Manager) Stop() bool {
	m.mu.Lock()
	if m.cancel == nil || m.stopping {
		m.mu.Unlock()
		return false
	}
	m.stopping = true
	m.cancel()
	m.mu.Unlock()

	m.sinks.logf(model.LevelWarning, "Stopping batch...")
	return true
}

// Run 执行一次完整的批量检测。
// 测试地址不可用或列表获取失败时返回错误; 没有候选代理时返回 ErrNoCandidates。
// 被停止的批次不是错误, 汇总中 Cancelled 为 true。
func (m *Manager) Run(ctx context.Context, src scraper.Scraper) (*BatchSummary, error) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return nil, ErrRunInProgress
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.stopping = false
	components := m.components
	interval := m.progressInterval
	m.mu.Unlock()

	run := &BatchRun{ID: uuid.New().String(), StartedAt: time.Now()}
	summary := &BatchSummary{RunID: run.ID, StartedAt: run.StartedAt}

	defer func() {
		cancel()
		summary.FinishedAt = time.Now()
		m.mu.Lock()
		m.cancel = nil
		m.last = summary
		m.mu.Unlock()
	}()

	l := logger.WithComponent("Checker/Manager").With().Str("run_id", run.ID).Logger()
	l.Info().Int("concurrency", components.Concurrency).Str("source", src.Name()).Msg("Batch starting...")
	m.sinks.logf(model.LevelInfo, "===== Batch %s started (concurrency %d) =====", run.ID, components.Concurrency)

	// 1. 选择测试地址
	endpoint, err := components.Selector.Select(runCtx)
	if err != nil {
		if runCtx.Err() != nil {
			summary.Cancelled = true
			m.sinks.logf(model.LevelWarning, "Batch cancelled during test endpoint selection")
			return summary, nil
		}
		l.Error().Err(err).Msg("No test endpoint available.")
		m.sinks.logf(model.LevelError, "All test endpoints are unreachable, check the network: %v", err)
		return summary, err
	}
	run.Endpoint = endpoint
	summary.Endpoint = endpoint
	m.sinks.logf(model.LevelSuccess, "Test endpoint selected: %s", endpoint)

	// 2. 获取并整理代理列表
	m.sinks.logf(model.LevelInfo, "Fetching proxy list: %s", src.Name())
	lines, err := src.Scrape(runCtx)
	if err != nil {
		if runCtx.Err() != nil {
			summary.Cancelled = true
			m.sinks.logf(model.LevelWarning, "Batch cancelled while fetching proxy list")
			return summary, nil
		}
		err = fmt.Errorf("%w from %s: %w", ErrListFetch, src.Name(), err)
		l.Error().Err(err).Msg("Proxy list fetch failed.")
		m.sinks.logf(model.LevelError, "Failed to fetch proxy list: %v", err)
		return summary, err
	}

	candidates, stats, err := prepareCandidates(runCtx, lines)
	if err != nil {
		summary.Cancelled = true
		return summary, nil
	}
	for _, raw := range stats.filtered {
		m.sinks.logf(model.LevelWarning, "Filtered port 80: %s", raw)
	}
	for _, raw := range stats.invalid {
		m.sinks.logf(model.LevelWarning, "Invalid format, skipped: %s", raw)
	}
	run.Candidates = candidates
	summary.Lines = stats.lines
	summary.Invalid = len(stats.invalid)
	summary.Filtered = len(stats.filtered)
	summary.Duplicates = stats.duplicates
	summary.Total = len(candidates)
	m.sinks.logf(model.LevelSuccess, "Parsed %d lines: %d candidates | %d filtered (port 80) | %d invalid | %d duplicates",
		stats.lines, len(candidates), summary.Filtered, summary.Invalid, stats.duplicates)

	// 3. 没有候选代理
	if len(candidates) == 0 {
		m.sinks.logf(model.LevelWarning, "No valid proxies found (port 80 filtered), batch aborted")
		return summary, ErrNoCandidates
	}

	// 4-5. 分发探测
	m.sinks.logf(model.LevelInfo, "Probing %d proxies (concurrency %d) via %s", len(candidates), components.Concurrency, endpoint)
	m.sinks.progress(0, len(candidates), 0)
	summary.Dispatched = m.dispatch(runCtx, run, components, interval)

	// 6-7. 汇总
	run.fill(summary)
	summary.Cancelled = runCtx.Err() != nil
	m.sinks.progress(summary.Tested, summary.Total, summary.Valid)

	if summary.Cancelled {
		l.Warn().Int("tested", summary.Tested).Int("valid", summary.Valid).Msg("Batch cancelled.")
		m.sinks.logf(model.LevelWarning, "===== Batch cancelled: %d tested before stop, %d available =====", summary.Tested, summary.Valid)
	} else {
		l.Info().Int("tested", summary.Tested).Int("valid", summary.Valid).Msg("Batch finished.")
		m.sinks.logf(model.LevelSuccess, "===== Batch finished: %d tested, %d available =====", summary.Tested, summary.Valid)
	}
	if summary.Valid == 0 {
		m.sinks.logf(model.LevelWarning, "No available proxies. Possible causes: expired proxies, network restrictions, or protocol mismatch")
	}
	return summary, nil
}

// dispatch 在并发上限内为每个候选启动一个探测, 返回实际分发的数量。
// 停止后不再分发; 已分发的探测收到同一个停止信号, 中断尚未完成的请求,
// 每个探测仍然产生一个结果。
func (m *Manager) dispatch(runCtx context.Context, run *BatchRun, components Components, interval time.Duration) int {
	gate := semaphore.NewWeighted(int64(components.Concurrency))
	progress := &rate.Sometimes{Interval: interval}
	total := len(run.Candidates)

	var wg sync.WaitGroup
	dispatched := 0
	for _, c := range run.Candidates {
		if runCtx.Err() != nil {
			break
		}
		if err := gate.Acquire(runCtx, 1); err != nil {
			break
		}
		dispatched++
		wg.Add(1)
		go func(c model.ProxyCandidate) {
			defer wg.Done()
			defer gate.Release(1)

			out := m.probeSafely(runCtx, components.Prober, c, run.Endpoint)
			run.record(out)

			if out.Available() {
				m.sinks.result(out)
				m.sinks.logf(model.LevelSuccess, "[available] %s | %dms | %s", out.Canonical, out.LatencyMs, out.Enrichment)
			} else {
				m.sinks.logf(model.LevelWarning, "[filtered] %s | status: %s | %s", out.Canonical, out.Status, out.Enrichment)
			}
			progress.Do(func() {
				tested, valid := run.counts()
				m.sinks.progress(tested, total, valid)
			})
		}(c)
	}
	wg.Wait()
	return dispatched
}

// probeSafely 在任务边界捕获 panic, 保证一个异常代理不会影响整个批次。
func (m *Manager) probeSafely(ctx context.Context, p Prober, c model.ProxyCandidate, endpoint string) (out model.ProbeOutcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Str("proxy", c.Canonical).Msgf("Probe panicked: %v", r)
			m.sinks.logf(model.LevelError, "[%s] unexpected error: %v", c.Canonical, r)
			out = model.NewOutcome(c, model.StatusUnknownError, "probe failed")
		}
	}()
	return p.Probe(ctx, c, endpoint)
}
