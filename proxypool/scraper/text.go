package scraper

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/net/html/charset"
	"proxychecker/internal/shared/logger"
)

// TextScraper 从一个 URL 获取按行分隔的代理列表,
// 每行为 scheme://host:port 或 host:port。
type TextScraper struct {
	url    string
	client *http.Client
}

func NewTextScraper(url string, client *http.Client) *TextScraper {
	return &TextScraper{url: url, client: client}
}

func (s *TextScraper) Name() string {
	return s.url
}

func (s *TextScraper) Scrape(ctx context.Context) ([]string, error) {
	l := logger.WithComponent("Checker/Scraper")
	l.Info().Str("source", s.Name()).Msg("Fetching proxy list...")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", s.Name(), err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", s.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("received non-success status code (%d) from %s", resp.StatusCode, s.Name())
	}

	// 列表可能不是 UTF-8 编码, 按 Content-Type 和 BOM 转换
	body, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("failed to decode body from %s: %w", s.Name(), err)
	}

	var lines []string
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read list from %s: %w", s.Name(), err)
	}

	l.Info().Int("count", len(lines)).Str("source", s.Name()).Msg("Proxy list fetched.")
	return lines, nil
}
