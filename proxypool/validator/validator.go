package validator

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"proxychecker/internal/shared/logger"
	"proxychecker/proxypool/model"
	"proxychecker/proxypool/parser"
)

const (
	DefaultProbeTimeout = 10 * time.Second

	// 测试地址只返回一个 IP, 超过此大小的响应体会被截断
	maxBodyBytes = 64 << 10
)

// 各失败分支写入 Enrichment 的占位文本
const (
	enrichInvalidProxy     = "invalid proxy"
	enrichConnectionFailed = "connection failed"
	enrichTimedOut         = "timed out before lookup"
	enrichCancelled        = "cancelled before probe"
	enrichLookupSkipped    = "lookup skipped (stopped)"
)

// Validator 对单个代理执行一次完整检测:
// 经代理请求测试地址 -> 计时 -> 提取出口 IP -> 查询地理位置。
type Validator struct {
	timeout   time.Duration
	userAgent string
	geo       *GeoClient
}

func NewValidator(timeout time.Duration, userAgent string, geo *GeoClient) *Validator {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Validator{
		timeout:   timeout,
		userAgent: userAgent,
		geo:       geo,
	}
}

// Probe 检测一个候选代理。任何分支都返回完整的 ProbeOutcome, 失败原因只体现在 Status 中。
// ctx 携带批次的停止信号: 停止后尚未完成的代理请求被中断并返回 Cancelled,
// 已收到完整响应的探测不再发起地理位置查询。
func (v *Validator) Probe(ctx context.Context, c model.ProxyCandidate, endpoint string) model.ProbeOutcome {
	l := logger.WithComponent("Checker/Probe")

	cand, err := parser.Parse(c.Raw)
	if err != nil {
		l.Debug().Err(err).Str("proxy", c.Raw).Msg("Candidate failed re-validation.")
		return model.NewOutcome(c, model.StatusInvalidFormat, enrichInvalidProxy)
	}
	if ctx.Err() != nil {
		return model.NewOutcome(cand, model.StatusCancelled, enrichCancelled)
	}

	// 每个代理独享一个 Transport, 不与其他代理共享连接状态
	proxyURL := &url.URL{Scheme: "http", Host: cand.Address()}
	dialer := &net.Dialer{
		Timeout:   v.timeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyURL(proxyURL),
		DialContext:           dialer.DialContext,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true},
		TLSHandshakeTimeout:   v.timeout / 2,
		ExpectContinueTimeout: 1 * time.Second,
		DisableKeepAlives:     true,
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		Timeout:   v.timeout,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		l.Error().Err(err).Str("endpoint", endpoint).Msg("Failed to create probe request.")
		return model.NewOutcome(cand, model.StatusUnknownError, enrichConnectionFailed)
	}
	req.Header.Set("User-Agent", v.userAgent)

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		status := classifyError(ctx, err)
		l.Debug().Err(err).Str("proxy", cand.Canonical).Str("status", string(status)).Msg("Probe request failed.")
		return model.NewOutcome(cand, status, enrichmentFor(status))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.NewOutcome(cand, model.HTTPStatus(resp.StatusCode), enrichConnectionFailed)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		status := classifyError(ctx, err)
		l.Debug().Err(err).Str("proxy", cand.Canonical).Msg("Failed to read probe response body.")
		return model.NewOutcome(cand, status, enrichmentFor(status))
	}

	exitIP := ExtractIP(string(body), endpoint)
	var enrichment string
	switch {
	case ctx.Err() != nil:
		enrichment = fmt.Sprintf("%s - %s", exitIP, enrichLookupSkipped)
	case v.geo == nil:
		enrichment = fmt.Sprintf("%s - geo lookup disabled", exitIP)
	default:
		enrichment = v.geo.Lookup(ctx, exitIP)
	}

	out := model.NewOutcome(cand, model.StatusAvailable, enrichment)
	out.LatencyMs = latency.Milliseconds()
	return out
}

// classifyError 将请求错误映射为状态标签。
func classifyError(ctx context.Context, err error) model.Status {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return model.StatusCancelled
	}
	if isTimeout(err) {
		return model.StatusTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return model.StatusProxyResolutionFailed
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return model.StatusConnectionRefused
	}
	return model.StatusUnknownError
}

func enrichmentFor(status model.Status) string {
	switch status {
	case model.StatusTimeout:
		return enrichTimedOut
	case model.StatusCancelled:
		return enrichCancelled
	default:
		return enrichConnectionFailed
	}
}
