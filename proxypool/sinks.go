package manager

import (
	"fmt"

	"proxychecker/proxypool/model"
)

// ResultSink 接收每个可用代理的检测结果。会被多个探测 goroutine 并发调用。
type ResultSink interface {
	OnResult(o model.ProbeOutcome)
}

// LogSink 接收分级日志行。实现者可以自行限流或丢弃。
type LogSink interface {
	Log(level model.LogLevel, msg string)
}

// ProgressSink 接收 (已检测, 总数, 可用) 进度。
type ProgressSink interface {
	OnProgress(tested, total, valid int)
}

// Sinks 将事件分发给所有已注册的接收者。
type Sinks struct {
	Results  []ResultSink
	Logs     []LogSink
	Progress []ProgressSink
}

func (s Sinks) result(o model.ProbeOutcome) {
	for _, r := range s.Results {
		r.OnResult(o)
	}
}

func (s Sinks) logf(level model.LogLevel, format string, args ...interface{}) {
	if len(s.Logs) == 0 {
		return
	}
	msg := fmt.Sprintf(format, args...)
	for _, l := range s.Logs {
		l.Log(level, msg)
	}
}

func (s Sinks) progress(tested, total, valid int) {
	for _, p := range s.Progress {
		p.OnProgress(tested, total, valid)
	}
}
