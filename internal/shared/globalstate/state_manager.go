package globalstate

import (
	"sync"
	"time"
)

// 批次阶段
const (
	PhaseIdle     = "Idle"
	PhaseRunning  = "Running"
	PhaseStopping = "Stopping"
)

// StatusManager 保存进程当前所处的阶段, 供状态接口展示。
type StatusManager struct {
	mu      sync.RWMutex
	status  string
	changed time.Time
}

// GlobalStatus 是进程级的阶段记录
var GlobalStatus = NewStatusManager(PhaseIdle)

func NewStatusManager(initial string) *StatusManager {
	return &StatusManager{status: initial, changed: time.Now()}
}

func (sm *StatusManager) Set(newStatus string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.status != newStatus {
		sm.status = newStatus
		sm.changed = time.Now()
	}
}

func (sm *StatusManager) Get() string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.status
}

// Since returns how long the current status has been held.
func (sm *StatusManager) Since() time.Duration {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return time.Since(sm.changed)
}
