package scraper

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"proxychecker/internal/shared/logger"
)

// TableScraper 解析 HTML 页面中的代理表格, 取每行的前两列作为 ip 和 port。
type TableScraper struct {
	url      string
	selector string
	client   *http.Client
}

// NewTableScraper 创建表格抓取器。selector 为空时匹配页面中所有 table 的行。
func NewTableScraper(url, selector string, client *http.Client) *TableScraper {
	if selector == "" {
		selector = "table tr"
	}
	return &TableScraper{url: url, selector: selector, client: client}
}

func (s *TableScraper) Name() string {
	return s.url
}

func (s *TableScraper) Scrape(ctx context.Context) ([]string, error) {
	l := logger.WithComponent("Checker/Scraper")
	l.Info().Str("source", s.Name()).Msg("Starting table scrape...")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", s.Name(), err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page for %s: %w", s.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code (%d) from %s", resp.StatusCode, s.Name())
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML for %s: %w", s.Name(), err)
	}

	var lines []string
	doc.Find(s.selector).Each(func(_ int, sel *goquery.Selection) {
		cells := sel.Find("td")
		if cells.Length() < 2 {
			return // 表头或空行
		}
		ip := strings.TrimSpace(cells.Eq(0).Text())
		port := strings.TrimSpace(cells.Eq(1).Text())
		if ip == "" || port == "" {
			return
		}
		lines = append(lines, ip+":"+port)
	})

	l.Info().Int("count", len(lines)).Str("source", s.Name()).Msg("Table scrape finished.")
	return lines, nil
}
