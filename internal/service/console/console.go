// Package console 提供命令行模式下的进度条和结果输出。
// 结果写到 stdout, 进度条和日志写到 stderr, 便于管道处理。
package console

import (
	"fmt"
	"io"
	"sync"

	"github.com/cheggaaa/pb/v3"

	"proxychecker/proxypool/model"
	"proxychecker/proxypool/storage"
)

const barTemplate = `{{string . "prefix"}}{{counters . }} {{bar . }} {{percent . }} {{string . "suffix"}}`

// ProgressBar 将批次进度渲染为终端进度条。首次收到进度时启动。
type ProgressBar struct {
	mu      sync.Mutex
	w       io.Writer
	bar     *pb.ProgressBar
	started bool
}

func NewProgressBar(w io.Writer) *ProgressBar {
	return &ProgressBar{w: w}
}

func (p *ProgressBar) OnProgress(tested, total, valid int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		p.bar = pb.New(total)
		p.bar.SetTemplateString(barTemplate)
		p.bar.SetWriter(p.w)
		p.bar.Set("prefix", "Checking ")
		p.bar.Start()
		p.started = true
	}
	p.bar.SetTotal(int64(total))
	p.bar.SetCurrent(int64(tested))
	p.bar.Set("suffix", fmt.Sprintf(" available %d", valid))
}

// Finish 停止刷新进度条。没有启动过时什么都不做。
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		p.bar.Finish()
		p.started = false
	}
}

// ResultPrinter 以导出格式逐行打印可用代理。
type ResultPrinter struct {
	mu sync.Mutex
	w  io.Writer
	n  int
}

func NewResultPrinter(w io.Writer) *ResultPrinter {
	return &ResultPrinter{w: w}
}

func (r *ResultPrinter) OnResult(o model.ProbeOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
	fmt.Fprintln(r.w, storage.FormatLine(o))
}

// Count returns how many results have been printed.
func (r *ResultPrinter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}
