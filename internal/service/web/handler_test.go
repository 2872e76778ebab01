package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"proxychecker/internal/shared/settings"
	manager "proxychecker/proxypool"
	"proxychecker/proxypool/model"
)

// mockController implements CheckerController for testing.
type mockController struct {
	mu      sync.Mutex
	running bool
	started [][]string
	stops   int
	last    *manager.BatchSummary
}

func (m *mockController) StartBatch(lines []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return manager.ErrRunInProgress
	}
	m.running = true
	m.started = append(m.started, lines)
	return nil
}

func (m *mockController) StopBatch() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	was := m.running
	m.running = false
	return was
}

func (m *mockController) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *mockController) LastSummary() *manager.BatchSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func sampleSummary() *manager.BatchSummary {
	return &manager.BatchSummary{
		RunID:  "run-1",
		Tested: 3,
		Valid:  2,
		Total:  3,
		Available: []model.ProbeOutcome{
			{Original: "1.1.1.1:8080", Canonical: "http://1.1.1.1:8080", LatencyMs: 45, Status: model.StatusAvailable, Enrichment: "1.1.1.1 - somewhere"},
			{Original: "2.2.2.2:3128", Canonical: "http://2.2.2.2:3128", LatencyMs: 120, Status: model.StatusAvailable, Enrichment: "2.2.2.2 - elsewhere"},
		},
	}
}

func setupTestServer(t *testing.T, user, pass string) (*httptest.Server, *mockController, *Hub) {
	t.Helper()
	sm, err := settings.NewSettingsManager("")
	if err != nil {
		t.Fatalf("NewSettingsManager() error: %v", err)
	}
	ctrl := &mockController{}
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	router, err := NewRouter(NewHandler(sm, ctrl, hub), hub, user, pass)
	if err != nil {
		t.Fatalf("NewRouter() error: %v", err)
	}
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, ctrl, hub
}

func TestHandleRun_ImportsBodyLines(t *testing.T) {
	srv, ctrl, _ := setupTestServer(t, "", "")

	resp, err := http.Post(srv.URL+"/api/run", "text/plain", strings.NewReader("1.2.3.4:8080\n\n  5.6.7.8:3128  \n"))
	if err != nil {
		t.Fatalf("POST /api/run failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}
	if len(ctrl.started) != 1 || len(ctrl.started[0]) != 2 || ctrl.started[0][1] != "5.6.7.8:3128" {
		t.Errorf("Unexpected imported lines: %v", ctrl.started)
	}

	resp, err = http.Post(srv.URL+"/api/run", "text/plain", nil)
	if err != nil {
		t.Fatalf("POST /api/run failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 while a batch is running, got %d", resp.StatusCode)
	}
}

func TestHandleStop(t *testing.T) {
	srv, ctrl, _ := setupTestServer(t, "", "")
	ctrl.running = true

	resp, err := http.Post(srv.URL+"/api/stop", "", nil)
	if err != nil {
		t.Fatalf("POST /api/stop failed: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]bool
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !body["stopped"] || ctrl.stops != 1 {
		t.Errorf("Expected stop to be forwarded, got %v (stops=%d)", body, ctrl.stops)
	}

	resp, err = http.Get(srv.URL + "/api/stop")
	if err != nil {
		t.Fatalf("GET /api/stop failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for GET, got %d", resp.StatusCode)
	}
}

func TestHandleStatusAndResults(t *testing.T) {
	srv, ctrl, hub := setupTestServer(t, "", "")
	ctrl.last = sampleSummary()
	hub.OnProgress(3, 3, 2)

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status failed: %v", err)
	}
	var status struct {
		Running  bool                  `json:"running"`
		Progress Progress              `json:"progress"`
		Last     *manager.BatchSummary `json:"last"`
	}
	json.NewDecoder(resp.Body).Decode(&status)
	resp.Body.Close()
	if status.Progress != (Progress{Tested: 3, Total: 3, Valid: 2}) {
		t.Errorf("Unexpected progress %+v", status.Progress)
	}
	if status.Last == nil || status.Last.RunID != "run-1" || len(status.Last.Available) != 0 {
		t.Errorf("Status should carry the summary without results, got %+v", status.Last)
	}
	if len(ctrl.last.Available) != 2 {
		t.Fatalf("Status handler must not modify the stored summary")
	}

	resp, err = http.Get(srv.URL + "/api/results")
	if err != nil {
		t.Fatalf("GET /api/results failed: %v", err)
	}
	var results []model.ProbeOutcome
	json.NewDecoder(resp.Body).Decode(&results)
	resp.Body.Close()
	if len(results) != 2 || results[0].LatencyMs != 45 {
		t.Errorf("Unexpected results %+v", results)
	}
}

func TestHandleExport(t *testing.T) {
	srv, ctrl, _ := setupTestServer(t, "", "")

	resp, err := http.Get(srv.URL + "/api/export")
	if err != nil {
		t.Fatalf("GET /api/export failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 with nothing to export, got %d", resp.StatusCode)
	}

	ctrl.last = sampleSummary()
	resp, err = http.Get(srv.URL + "/api/export")
	if err != nil {
		t.Fatalf("GET /api/export failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(resp.Header.Get("Content-Disposition"), "available_proxies_") {
		t.Errorf("Missing attachment header, got %q", resp.Header.Get("Content-Disposition"))
	}
	text := string(body)
	first := strings.Index(text, "1.1.1.1:8080 | http://1.1.1.1:8080 | 45 |")
	second := strings.Index(text, "2.2.2.2:3128 | http://2.2.2.2:3128 | 120 |")
	if first < 0 || second < 0 || first > second {
		t.Errorf("Export body not sorted as expected:\n%s", text)
	}
}

func TestSettingsAPI(t *testing.T) {
	srv, _, _ := setupTestServer(t, "", "")

	resp, err := http.Post(srv.URL+"/api/settings/checker", "application/json", strings.NewReader(`{"concurrency": 3}`))
	if err != nil {
		t.Fatalf("POST /api/settings/checker failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/settings")
	if err != nil {
		t.Fatalf("GET /api/settings failed: %v", err)
	}
	var current settings.RuntimeSettings
	json.NewDecoder(resp.Body).Decode(&current)
	resp.Body.Close()
	if current.Checker == nil || current.Checker.Concurrency != 3 || current.Checker.ProbeTimeoutMs != 10000 {
		t.Errorf("Unexpected settings after update: %+v", current.Checker)
	}

	resp, err = http.Post(srv.URL+"/api/settings/unknown", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST /api/settings/unknown failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown module, got %d", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/api/settings/checker", "application/json", strings.NewReader(`{not json`))
	if err != nil {
		t.Fatalf("POST /api/settings/checker failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed JSON, got %d", resp.StatusCode)
	}
}

func TestBasicAuth(t *testing.T) {
	srv, _, _ := setupTestServer(t, "admin", "secret")

	resp, err := http.Post(srv.URL+"/api/run", "text/plain", nil)
	if err != nil {
		t.Fatalf("POST /api/run failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without credentials, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/run", nil)
	req.SetBasicAuth("admin", "secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Authenticated POST /api/run failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("Expected 202 with credentials, got %d", resp.StatusCode)
	}

	// status stays public
	resp, err = http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected public status endpoint, got %d", resp.StatusCode)
	}
}

func TestHub_StreamsResultsToWebSocket(t *testing.T) {
	srv, _, hub := setupTestServer(t, "", "")

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer conn.Close()

	// 注册是异步的, 重复发送直到客户端收到
	outcome := model.ProbeOutcome{Canonical: "http://9.9.9.9:8080", LatencyMs: 12, Status: model.StatusAvailable}
	received := make(chan WebSocketMessage, 1)
	go func() {
		for {
			var msg WebSocketMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == "result" {
				received <- msg
				return
			}
		}
	}()

	deadline := time.After(3 * time.Second)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case msg := <-received:
			data, _ := json.Marshal(msg.Data)
			var got model.ProbeOutcome
			json.Unmarshal(data, &got)
			if got.Canonical != outcome.Canonical || got.LatencyMs != 12 {
				t.Errorf("Unexpected result payload %+v", got)
			}
			return
		case <-ticker.C:
			hub.OnResult(outcome)
		case <-deadline:
			t.Fatal("Did not receive result over websocket")
		}
	}
}
