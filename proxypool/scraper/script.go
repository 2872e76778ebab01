package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/gocolly/colly/v2"
	"proxychecker/internal/shared/logger"
)

// ScriptScraper 抓取把代理列表写在页面脚本变量里的网站, 例如
// `const fpsList = [{"ip":"1.2.3.4","port":"8080"}, ...];`
type ScriptScraper struct {
	url      string
	variable string
	client   *http.Client
	re       *regexp.Regexp
}

// scriptEntry 是脚本变量中的一项, port 可能是字符串也可能是数字
type scriptEntry struct {
	IP   string          `json:"ip"`
	Port json.RawMessage `json:"port"`
}

func NewScriptScraper(url, variable string, client *http.Client) *ScriptScraper {
	return &ScriptScraper{
		url:      url,
		variable: variable,
		client:   client,
		re:       regexp.MustCompile(`(?s)(?:var|let|const)\s+` + regexp.QuoteMeta(variable) + `\s*=\s*(\[.*?\]);`),
	}
}

func (s *ScriptScraper) Name() string {
	return s.url
}

func (s *ScriptScraper) Scrape(ctx context.Context) ([]string, error) {
	l := logger.WithComponent("Checker/Scraper")
	l.Info().Str("source", s.Name()).Msg("Starting script scrape...")

	c := colly.NewCollector()
	c.SetClient(s.client)

	var (
		mu        sync.Mutex
		lines     []string
		scrapeErr error
	)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		// 由共享客户端补上浏览器 UA
		r.Headers.Del("User-Agent")
	})

	c.OnResponse(func(r *colly.Response) {
		matches := s.re.FindSubmatch(r.Body)
		if len(matches) < 2 {
			mu.Lock()
			scrapeErr = fmt.Errorf("variable %s not found in %s", s.variable, s.Name())
			mu.Unlock()
			return
		}
		var entries []scriptEntry
		if err := json.Unmarshal(matches[1], &entries); err != nil {
			mu.Lock()
			scrapeErr = fmt.Errorf("failed to decode %s from %s: %w", s.variable, s.Name(), err)
			mu.Unlock()
			return
		}

		mu.Lock()
		defer mu.Unlock()
		for _, e := range entries {
			ip := strings.TrimSpace(e.IP)
			port := strings.Trim(strings.TrimSpace(string(e.Port)), `"`)
			if ip == "" || port == "" {
				continue
			}
			lines = append(lines, ip+":"+port)
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		l.Warn().Err(err).Int("status_code", r.StatusCode).Str("source", s.Name()).Msg("Script scrape request failed.")
		mu.Lock()
		scrapeErr = fmt.Errorf("failed to fetch %s: %w", s.Name(), err)
		mu.Unlock()
	})

	if err := c.Visit(s.url); err != nil && scrapeErr == nil {
		scrapeErr = fmt.Errorf("failed to visit %s: %w", s.Name(), err)
	}
	c.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if scrapeErr != nil {
		return nil, scrapeErr
	}

	l.Info().Int("count", len(lines)).Str("source", s.Name()).Msg("Script scrape finished.")
	return lines, nil
}
