package manager

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"proxychecker/proxypool/model"
	"proxychecker/proxypool/scraper"
	"proxychecker/proxypool/validator"
)

type mockSelector struct {
	endpoint string
	err      error
}

func (m *mockSelector) Select(ctx context.Context) (string, error) {
	return m.endpoint, m.err
}

// mockProber records how many probes run at once.
type mockProber struct {
	delay  time.Duration
	status func(c model.ProxyCandidate) model.Status

	calls     atomic.Int32
	active    atomic.Int32
	maxActive atomic.Int32
}

func (m *mockProber) Probe(ctx context.Context, c model.ProxyCandidate, endpoint string) model.ProbeOutcome {
	m.calls.Add(1)
	now := m.active.Add(1)
	for {
		prev := m.maxActive.Load()
		if now <= prev || m.maxActive.CompareAndSwap(prev, now) {
			break
		}
	}
	defer m.active.Add(-1)

	time.Sleep(m.delay)

	status := model.StatusAvailable
	if m.status != nil {
		status = m.status(c)
	}
	out := model.NewOutcome(c, status, "203.0.113.1 - stub")
	if status == model.StatusAvailable {
		out.LatencyMs = int64(c.Port % 1000)
	}
	return out
}

// statusRecorder keeps every outcome the wrapped prober returns.
type statusRecorder struct {
	next Prober

	mu       sync.Mutex
	outcomes []model.ProbeOutcome
}

func (s *statusRecorder) Probe(ctx context.Context, c model.ProxyCandidate, endpoint string) model.ProbeOutcome {
	out := s.next.Probe(ctx, c, endpoint)
	s.mu.Lock()
	s.outcomes = append(s.outcomes, out)
	s.mu.Unlock()
	return out
}

type panicProber struct{}

func (panicProber) Probe(ctx context.Context, c model.ProxyCandidate, endpoint string) model.ProbeOutcome {
	panic("boom")
}

type failingScraper struct{}

func (failingScraper) Name() string { return "broken-source" }
func (failingScraper) Scrape(ctx context.Context) ([]string, error) {
	return nil, errors.New("connection reset")
}

type recordingSinks struct {
	mu       sync.Mutex
	results  []model.ProbeOutcome
	logs     map[model.LogLevel]int
	progress [][3]int
	onResult func(n int)
}

func (r *recordingSinks) OnResult(o model.ProbeOutcome) {
	r.mu.Lock()
	r.results = append(r.results, o)
	n := len(r.results)
	r.mu.Unlock()
	if r.onResult != nil {
		r.onResult(n)
	}
}

func (r *recordingSinks) Log(level model.LogLevel, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.logs == nil {
		r.logs = make(map[model.LogLevel]int)
	}
	r.logs[level]++
}

func (r *recordingSinks) OnProgress(tested, total, valid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, [3]int{tested, total, valid})
}

func (r *recordingSinks) sinks() Sinks {
	return Sinks{Results: []ResultSink{r}, Logs: []LogSink{r}, Progress: []ProgressSink{r}}
}

func proxyLines(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("10.0.%d.%d:%d", i/200, i%200+1, 8000+i)
	}
	return lines
}

func setupTestManager(prober Prober, concurrency int, rec *recordingSinks) *Manager {
	return NewManager(Components{
		Selector:    &mockSelector{endpoint: "https://ipv4.icanhazip.com/"},
		Prober:      prober,
		Concurrency: concurrency,
	}, rec.sinks())
}

// --- Test Cases ---

func TestRun_NeverExceedsConcurrencyCap(t *testing.T) {
	prober := &mockProber{delay: 30 * time.Millisecond}
	rec := &recordingSinks{}
	m := setupTestManager(prober, 3, rec)

	summary, err := m.Run(context.Background(), scraper.NewStaticScraper("test", proxyLines(20)))
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if got := prober.maxActive.Load(); got > 3 {
		t.Errorf("Expected at most 3 concurrent probes, observed %d", got)
	}
	if got := prober.maxActive.Load(); got < 2 {
		t.Errorf("Expected probes to overlap, observed max %d", got)
	}
	if summary.Tested != 20 || int(prober.calls.Load()) != 20 {
		t.Errorf("Expected 20 probes, got tested=%d calls=%d", summary.Tested, prober.calls.Load())
	}
}

func TestRun_TestedMatchesEmittedOutcomes(t *testing.T) {
	prober := &mockProber{
		status: func(c model.ProxyCandidate) model.Status {
			if c.Port%2 == 0 {
				return model.StatusAvailable
			}
			return model.StatusTimeout
		},
	}
	rec := &recordingSinks{}
	m := setupTestManager(prober, 4, rec)

	summary, err := m.Run(context.Background(), scraper.NewStaticScraper("test", proxyLines(30)))
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if summary.Tested != int(prober.calls.Load()) {
		t.Errorf("tested=%d but %d outcomes were produced", summary.Tested, prober.calls.Load())
	}
	if summary.Valid != 15 || len(rec.results) != 15 {
		t.Errorf("Expected 15 available outcomes, got valid=%d sink=%d", summary.Valid, len(rec.results))
	}
	if summary.Valid > summary.Tested {
		t.Errorf("valid (%d) must not exceed tested (%d)", summary.Valid, summary.Tested)
	}
	for _, o := range rec.results {
		if !o.Available() {
			t.Errorf("Result sink received non-available outcome %+v", o)
		}
	}
	for i := 1; i < len(summary.Available); i++ {
		if summary.Available[i-1].LatencyMs > summary.Available[i].LatencyMs {
			t.Fatalf("Summary outcomes are not sorted by latency")
		}
	}
	last := rec.progress[len(rec.progress)-1]
	if last != [3]int{30, 30, 15} {
		t.Errorf("Expected final progress (30, 30, 15), got %v", last)
	}
}

func TestRun_EndToEndFiltering(t *testing.T) {
	prober := &mockProber{}
	rec := &recordingSinks{}
	m := setupTestManager(prober, 10, rec)

	summary, err := m.Run(context.Background(), scraper.NewStaticScraper("test", []string{"1.2.3.4:8080", "5.6.7.8:80", "bad-entry"}))
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if summary.Filtered != 1 {
		t.Errorf("Expected 1 filtered (port 80), got %d", summary.Filtered)
	}
	if summary.Invalid != 1 {
		t.Errorf("Expected 1 invalid, got %d", summary.Invalid)
	}
	if summary.Total != 1 || summary.Tested != 1 || prober.calls.Load() != 1 {
		t.Errorf("Expected exactly 1 probe, got total=%d tested=%d calls=%d", summary.Total, summary.Tested, prober.calls.Load())
	}
	if summary.RunID == "" || summary.Endpoint != "https://ipv4.icanhazip.com/" {
		t.Errorf("Summary missing run metadata: %+v", summary)
	}
}

func TestRun_Cancellation(t *testing.T) {
	prober := &mockProber{delay: 50 * time.Millisecond}
	rec := &recordingSinks{}
	m := setupTestManager(prober, 5, rec)
	rec.onResult = func(n int) {
		if n == 2 {
			m.Stop()
		}
	}

	done := make(chan *BatchSummary, 1)
	go func() {
		summary, err := m.Run(context.Background(), scraper.NewStaticScraper("test", proxyLines(50)))
		if err != nil {
			t.Errorf("Run() returned error: %v", err)
		}
		done <- summary
	}()

	select {
	case summary := <-done:
		if summary == nil {
			t.Fatal("Run() returned nil summary")
		}
		if !summary.Cancelled {
			t.Errorf("Expected summary to be marked cancelled")
		}
		if summary.Tested > 50 || summary.Tested < 2 {
			t.Errorf("Unexpected tested count %d", summary.Tested)
		}
		if summary.Tested != summary.Dispatched {
			t.Errorf("Every dispatched probe must complete: dispatched=%d tested=%d", summary.Dispatched, summary.Tested)
		}
		if summary.Dispatched == 50 {
			t.Errorf("Expected dispatch to stop early after cancellation")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not terminate after Stop()")
	}

	if m.Running() {
		t.Errorf("Manager should be idle after a cancelled run")
	}
	if m.Stop() {
		t.Errorf("Stop() on an idle manager should return false")
	}
}

func TestRun_NoTestEndpoint(t *testing.T) {
	prober := &mockProber{}
	rec := &recordingSinks{}
	m := NewManager(Components{
		Selector: &mockSelector{err: fmt.Errorf("%w: dial tcp: timeout", validator.ErrNoTestEndpointAvailable)},
		Prober:   prober,
	}, rec.sinks())

	_, err := m.Run(context.Background(), scraper.NewStaticScraper("test", proxyLines(5)))
	if !errors.Is(err, validator.ErrNoTestEndpointAvailable) {
		t.Errorf("Expected ErrNoTestEndpointAvailable, got %v", err)
	}
	if prober.calls.Load() != 0 {
		t.Errorf("No probes should run without a test endpoint")
	}
	if rec.logs[model.LevelError] != 1 {
		t.Errorf("Expected a single error line, got %d", rec.logs[model.LevelError])
	}
}

func TestRun_ListFetchFailure(t *testing.T) {
	rec := &recordingSinks{}
	m := setupTestManager(&mockProber{}, 2, rec)

	_, err := m.Run(context.Background(), failingScraper{})
	if !errors.Is(err, ErrListFetch) {
		t.Errorf("Expected ErrListFetch, got %v", err)
	}
}

func TestRun_NoCandidates(t *testing.T) {
	rec := &recordingSinks{}
	prober := &mockProber{}
	m := setupTestManager(prober, 2, rec)

	summary, err := m.Run(context.Background(), scraper.NewStaticScraper("test", []string{"1.1.1.1:80", "nope"}))
	if !errors.Is(err, ErrNoCandidates) {
		t.Errorf("Expected ErrNoCandidates, got %v", err)
	}
	if summary == nil || summary.Total != 0 || prober.calls.Load() != 0 {
		t.Errorf("Unexpected summary %+v", summary)
	}
}

func TestRun_PanickingProbeIsContained(t *testing.T) {
	rec := &recordingSinks{}
	m := setupTestManager(panicProber{}, 2, rec)

	summary, err := m.Run(context.Background(), scraper.NewStaticScraper("test", proxyLines(4)))
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if summary.Tested != 4 || summary.Valid != 0 {
		t.Errorf("Expected 4 tested, 0 valid, got %d/%d", summary.Tested, summary.Valid)
	}
	if rec.logs[model.LevelError] != 4 {
		t.Errorf("Expected one error line per panicking probe, got %d", rec.logs[model.LevelError])
	}
}

func TestRun_DeduplicatesByCanonical(t *testing.T) {
	prober := &mockProber{}
	rec := &recordingSinks{}
	m := setupTestManager(prober, 2, rec)

	summary, err := m.Run(context.Background(), scraper.NewStaticScraper("test", []string{"1.2.3.4:8080", "http://1.2.3.4:8080", " 1.2.3.4:8080 "}))
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if summary.Duplicates != 2 || summary.Total != 1 {
		t.Errorf("Expected 2 duplicates merged into 1 candidate, got dup=%d total=%d", summary.Duplicates, summary.Total)
	}
	if rec.results[0].Original != "1.2.3.4:8080" {
		t.Errorf("Expected first raw line to be kept, got %q", rec.results[0].Original)
	}
}

func TestRun_RejectsConcurrentRun(t *testing.T) {
	prober := &mockProber{delay: 100 * time.Millisecond}
	rec := &recordingSinks{}
	m := setupTestManager(prober, 1, rec)

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(context.Background(), scraper.NewStaticScraper("test", proxyLines(10)))
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !m.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := m.Run(context.Background(), scraper.NewStaticScraper("test", proxyLines(1))); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("Expected ErrRunInProgress, got %v", err)
	}
	if !m.Stop() {
		t.Errorf("Expected Stop() to cancel the active run")
	}
	if m.Stop() {
		t.Errorf("Second Stop() should be a no-op")
	}
	<-done
	if m.LastSummary() == nil || !m.LastSummary().Cancelled {
		t.Errorf("Expected last summary to record the cancelled run")
	}
}

func TestRun_StopInterruptsInFlightRequest(t *testing.T) {
	release := make(chan struct{})
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
		fmt.Fprintln(w, "203.0.113.9")
	}))
	defer proxy.Close()
	defer close(release)

	var geoHits atomic.Int32
	geo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		geoHits.Add(1)
		fmt.Fprint(w, `{"status":"0","data":[{"fetchkey":"203.0.113.9","location":"Testland"}]}`)
	}))
	defer geo.Close()

	prober := &statusRecorder{next: validator.NewValidator(5*time.Second, "", validator.NewGeoClient(geo.URL, time.Second, ""))}
	rec := &recordingSinks{}
	m := NewManager(Components{
		Selector:    &mockSelector{endpoint: "http://198.51.100.1/ip"},
		Prober:      prober,
		Concurrency: 1,
	}, rec.sinks())

	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for !m.Running() && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		time.Sleep(200 * time.Millisecond)
		m.Stop()
	}()

	start := time.Now()
	summary, err := m.Run(context.Background(), scraper.NewStaticScraper("test", []string{strings.TrimPrefix(proxy.URL, "http://")}))
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Stop should interrupt the pending request, run took %v", elapsed)
	}
	if !summary.Cancelled || summary.Tested != 1 || summary.Valid != 0 {
		t.Errorf("Unexpected summary %+v", summary)
	}
	if len(prober.outcomes) != 1 || prober.outcomes[0].Status != model.StatusCancelled {
		t.Errorf("Expected one Cancelled outcome, got %+v", prober.outcomes)
	}
	if n := geoHits.Load(); n != 0 {
		t.Errorf("No geo lookup should be issued after Stop, got %d", n)
	}
}
