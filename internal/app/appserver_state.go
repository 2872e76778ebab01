package app

import (
	"errors"

	"proxychecker/internal/shared/globalstate"
	"proxychecker/internal/shared/logger"
	manager "proxychecker/proxypool"
)

// StartBatch 在后台启动一次批次, 供 Web 控制台调用。
// 已有批次在运行时返回 manager.ErrRunInProgress。
func (s *AppServer) StartBatch(lines []string) error {
	s.batchLock.Lock()
	if s.batchActive || s.manager.Running() {
		s.batchLock.Unlock()
		return manager.ErrRunInProgress
	}
	s.batchActive = true
	s.batchLock.Unlock()

	src := s.source(lines)
	globalstate.GlobalStatus.Set(globalstate.PhaseRunning)
	s.broadcastStatus(true)

	s.waitGroup.Add(1)
	go func() {
		defer s.waitGroup.Done()
		defer func() {
			s.batchLock.Lock()
			s.batchActive = false
			s.batchLock.Unlock()
			globalstate.GlobalStatus.Set(globalstate.PhaseIdle)
			s.broadcastStatus(false)
		}()

		summary, err := s.manager.Run(s.ctx, src)
		s.reportDropped()
		switch {
		case errors.Is(err, manager.ErrNoCandidates):
			return
		case err != nil:
			logger.Error().Err(err).Msg("[AppServer] Batch failed.")
			return
		}
		s.autoExport(summary)
	}()
	return nil
}

// StopBatch 请求停止当前批次。
func (s *AppServer) StopBatch() bool {
	if !s.manager.Stop() {
		return false
	}
	globalstate.GlobalStatus.Set(globalstate.PhaseStopping)
	return true
}

// Running reports whether a batch is in progress.
func (s *AppServer) Running() bool {
	s.batchLock.Lock()
	defer s.batchLock.Unlock()
	return s.batchActive || s.manager.Running()
}

// LastSummary 返回最近一次结束的批次汇总。
func (s *AppServer) LastSummary() *manager.BatchSummary {
	return s.manager.LastSummary()
}

// autoExport 在配置了 [export] dir 时自动保存每次批次的可用代理
func (s *AppServer) autoExport(summary *manager.BatchSummary) {
	if s.cfg.ExportConf.Dir == "" || summary == nil || len(summary.Available) == 0 {
		return
	}
	path, err := s.storage.Save(summary.Available)
	if err != nil {
		logger.Error().Err(err).Msg("[AppServer] Auto export failed.")
		return
	}
	logger.Info().Str("path", path).Str("run_id", summary.RunID).Msg("[AppServer] Batch results exported.")
}

func (s *AppServer) broadcastStatus(running bool) {
	if s.hub != nil {
		s.hub.BroadcastStatusUpdate(running)
	}
}
