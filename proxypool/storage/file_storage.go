package storage

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"proxychecker/internal/shared/logger"
	"proxychecker/proxypool/model"
)

const (
	delimiter  = " | "
	legend     = "original | canonical | latency(ms) | ip info"
	separator  = "----------------------------------------------------------------"
	timeLayout = "2006-01-02 15:04:05"
)

// SortByLatency 返回只含可用代理、按延迟升序排列的副本。
func SortByLatency(outcomes []model.ProbeOutcome) []model.ProbeOutcome {
	available := make([]model.ProbeOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Available() {
			available = append(available, o)
		}
	}
	sort.SliceStable(available, func(i, j int) bool {
		return available[i].LatencyMs < available[j].LatencyMs
	})
	return available
}

// FormatLine 生成一行导出文本: original | canonical | latencyMs | enrichment
func FormatLine(o model.ProbeOutcome) string {
	return fmt.Sprintf("%s%s%s%s%d%s%s", o.Original, delimiter, o.Canonical, delimiter, o.LatencyMs, delimiter, o.Enrichment)
}

// Export 将可用代理按延迟升序写入 w, 前面带一个说明头。返回写入的代理数。
func Export(w io.Writer, outcomes []model.ProbeOutcome, now time.Time) (int, error) {
	sorted := SortByLatency(outcomes)

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "===== available proxies (%s) =====\n", now.Format(timeLayout))
	fmt.Fprintf(bw, "%d in total, sorted by latency:\n", len(sorted))
	fmt.Fprintln(bw, legend)
	fmt.Fprintln(bw, separator)
	for _, o := range sorted {
		fmt.Fprintln(bw, FormatLine(o))
	}
	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("failed to write export: %w", err)
	}
	return len(sorted), nil
}

// FileStorage 将导出结果写入目录中的带时间戳文件。
type FileStorage struct {
	dir string
	mu  sync.Mutex
}

// NewFileStorage 创建一个新的 FileStorage 实例。dir 为空时使用当前目录。
func NewFileStorage(dir string) *FileStorage {
	if dir == "" {
		dir = "."
	}
	return &FileStorage{dir: dir}
}

// Save 导出到 available_proxies_<timestamp>.txt 并返回文件路径。
func (fs *FileStorage) Save(outcomes []model.ProbeOutcome) (string, error) {
	now := time.Now()
	path := filepath.Join(fs.dir, fmt.Sprintf("available_proxies_%s.txt", now.Format("20060102150405")))
	return path, fs.SaveTo(path, outcomes, now)
}

// SaveTo 导出到指定路径, 已存在的文件会被覆盖。
func (fs *FileStorage) SaveTo(path string, outcomes []model.ProbeOutcome, now time.Time) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	l := logger.WithComponent("Checker/Storage")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer file.Close()

	n, err := Export(file, outcomes, now)
	if err != nil {
		return err
	}
	l.Info().Str("path", path).Int("count", n).Msg("Available proxies exported.")
	return file.Close()
}
