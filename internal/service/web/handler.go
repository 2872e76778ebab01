package web

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"proxychecker/internal/shared/globalstate"
	"proxychecker/internal/shared/logger"
	"proxychecker/internal/shared/settings"
	manager "proxychecker/proxypool"
	"proxychecker/proxypool/model"
	"proxychecker/proxypool/storage"
)

// maxImportBytes 限制 POST /api/run 导入列表的大小
const maxImportBytes = 8 << 20

// CheckerController defines the interface that the web handler uses to drive batches.
// This decouples the web package from the app package.
type CheckerController interface {
	// StartBatch 在后台启动一次批次。lines 为空时使用配置的代理源。
	StartBatch(lines []string) error
	StopBatch() bool
	Running() bool
	LastSummary() *manager.BatchSummary
}

type Handler struct {
	settingsManager *settings.SettingsManager
	controller      CheckerController
	hub             *Hub
}

func NewHandler(settingsManager *settings.SettingsManager, controller CheckerController, hub *Hub) *Handler {
	return &Handler{
		settingsManager: settingsManager,
		controller:      controller,
		hub:             hub,
	}
}

// --- 批次控制 API ---

// HandleRun 处理 POST /api/run。请求体可选, 为每行一个代理的列表。
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	lines, err := readLines(io.LimitReader(r.Body, maxImportBytes))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	if err := h.controller.StartBatch(lines); err != nil {
		if errors.Is(err, manager.ErrRunInProgress) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, "Failed to start batch: "+err.Error(), http.StatusInternalServerError)
		return
	}

	logger.Info().Int("imported", len(lines)).Msg("[Handler] Batch started via API.")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte(`{"message": "Batch started."}`))
}

// HandleStop 处理 POST /api/stop
func (h *Handler) HandleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stopped := h.controller.StopBatch()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"stopped": stopped})
}

// HandleStatus 处理 GET /api/status
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	type StatusResponse struct {
		Phase    string                `json:"phase"`
		Running  bool                  `json:"running"`
		Progress Progress              `json:"progress"`
		Last     *manager.BatchSummary `json:"last,omitempty"`
	}

	response := StatusResponse{
		Phase:    globalstate.GlobalStatus.Get(),
		Running:  h.controller.Running(),
		Progress: h.hub.LastProgress(),
		Last:     h.lastSummaryWithoutResults(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// HandleResults 处理 GET /api/results, 返回最近一次批次按延迟排序的可用代理
func (h *Handler) HandleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	results := make([]model.ProbeOutcome, 0)
	if last := h.controller.LastSummary(); last != nil {
		results = append(results, last.Available...)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

// HandleExport 处理 GET /api/export, 以文本附件形式下载可用代理
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	last := h.controller.LastSummary()
	if last == nil || len(last.Available) == 0 {
		http.Error(w, "No available proxies to export", http.StatusNotFound)
		return
	}

	now := time.Now()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="available_proxies_%s.txt"`, now.Format("20060102150405")))
	if _, err := storage.Export(w, last.Available, now); err != nil {
		logger.Warn().Err(err).Msg("[Handler] Export interrupted.")
	}
}

// --- 统一配置 API ---

// HandleGetSettings 处理 GET /api/settings 请求
func (h *Handler) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	currentSettings := h.settingsManager.Get()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(currentSettings)
}

// HandleUpdateSettings 处理 POST /api/settings/{module} 请求
func (h *Handler) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// 从 URL 路径中提取模块名
	moduleKey := strings.TrimPrefix(r.URL.Path, "/api/settings/")
	if moduleKey == "" {
		http.Error(w, "Module key is missing in URL path", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusInternalServerError)
		return
	}

	// 将更新请求委托给 SettingsManager
	if err := h.settingsManager.Update(moduleKey, body); err != nil {
		// 根据错误类型返回不同的状态码
		if strings.Contains(err.Error(), "unknown settings module") {
			http.Error(w, err.Error(), http.StatusNotFound)
		} else if strings.Contains(err.Error(), "failed to parse JSON") {
			http.Error(w, err.Error(), http.StatusBadRequest)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"message": "Settings updated successfully"}`))
}

// lastSummaryWithoutResults 返回不含结果列表的汇总副本, 结果走 /api/results
func (h *Handler) lastSummaryWithoutResults() *manager.BatchSummary {
	last := h.controller.LastSummary()
	if last == nil {
		return nil
	}
	s := *last
	s.Available = nil
	return &s
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}
