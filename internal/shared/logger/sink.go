package logger

import (
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"proxychecker/proxypool/model"
)

// Sink 将检测流程的日志行写入 zerolog。Success 级别以 info 输出并附带 success=true。
type Sink struct {
	l zerolog.Logger
}

func NewSink(component string) *Sink {
	return &Sink{l: WithComponent(component)}
}

func (s *Sink) Log(level model.LogLevel, msg string) {
	switch level {
	case model.LevelSuccess:
		s.l.Info().Bool("success", true).Msg(msg)
	case model.LevelWarning:
		s.l.Warn().Msg(msg)
	case model.LevelError:
		s.l.Error().Msg(msg)
	default:
		s.l.Info().Msg(msg)
	}
}

// LineSink is anything that accepts leveled log lines.
type LineSink interface {
	Log(level model.LogLevel, msg string)
}

// ThrottledSink 限制 Info/Success 日志的速率, 超出部分被丢弃并计数。
// Warning 和 Error 从不丢弃。
type ThrottledSink struct {
	next    LineSink
	limiter *rate.Limiter
	dropped atomic.Int64
}

// NewThrottledSink 创建限流 sink。perSecond <= 0 时不限流。
func NewThrottledSink(next LineSink, perSecond float64, burst int) *ThrottledSink {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &ThrottledSink{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (t *ThrottledSink) Log(level model.LogLevel, msg string) {
	if level == model.LevelInfo || level == model.LevelSuccess {
		if !t.limiter.Allow() {
			t.dropped.Add(1)
			return
		}
	}
	t.next.Log(level, msg)
}

// Dropped returns how many lines have been suppressed since the last reset.
func (t *ThrottledSink) Dropped() int64 {
	return t.dropped.Load()
}

// ResetDropped 返回自上次重置以来丢弃的行数并清零, 每次批次结束时调用。
func (t *ThrottledSink) ResetDropped() int64 {
	return t.dropped.Swap(0)
}
