package validator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"proxychecker/internal/shared/logger"
)

// ErrNoTestEndpointAvailable 表示所有候选测试地址都不可达, 批次无法继续。
var ErrNoTestEndpointAvailable = errors.New("no test endpoint available")

// DefaultTestURLs 按优先级排列, HTTPS 优先。
var DefaultTestURLs = []string{
	"https://ipv4.icanhazip.com/",
	"https://httpbin.org/ip",
	"https://ipv4.icanhazip.com",
	"http://icanhazip.com",
}

// EndpointSelector 在批次开始时直连探测测试地址, 选出第一个可用的。
type EndpointSelector struct {
	client *http.Client
	urls   []string
}

func NewEndpointSelector(client *http.Client, urls []string) *EndpointSelector {
	if len(urls) == 0 {
		urls = DefaultTestURLs
	}
	return &EndpointSelector{client: client, urls: urls}
}

// Select 依次请求每个地址, 返回第一个响应 2xx 的地址。
func (s *EndpointSelector) Select(ctx context.Context) (string, error) {
	l := logger.WithComponent("Checker/Endpoint")
	var lastErr error

	for _, u := range s.urls {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		l.Debug().Str("url", u).Msg("Checking test endpoint.")

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			lastErr = err
			l.Warn().Err(err).Str("url", u).Msg("Invalid test endpoint URL, skipping.")
			continue
		}
		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = err
			l.Warn().Err(err).Str("url", u).Msg("Test endpoint unreachable.")
			continue
		}
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			l.Info().Str("url", u).Int("status_code", resp.StatusCode).Msg("Test endpoint selected.")
			return u, nil
		}
		lastErr = fmt.Errorf("%s returned status %d", u, resp.StatusCode)
		l.Warn().Str("url", u).Int("status_code", resp.StatusCode).Msg("Test endpoint returned non-success status.")
	}

	if lastErr != nil {
		return "", fmt.Errorf("%w: %v", ErrNoTestEndpointAvailable, lastErr)
	}
	return "", ErrNoTestEndpointAvailable
}
