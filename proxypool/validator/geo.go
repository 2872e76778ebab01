package validator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"proxychecker/internal/shared/logger"
)

const (
	// DefaultGeoURL 是百度开放数据的 IP 归属地接口
	DefaultGeoURL     = "https://opendata.baidu.com/api.php"
	DefaultGeoTimeout = 5 * time.Second

	unknownLocation = "unknown location"
)

// geoAPIResponse 对应接口返回的 JSON 信封, status 为 "0" 表示成功。
type geoAPIResponse struct {
	Status string `json:"status"`
	Data   []struct {
		FetchKey string `json:"fetchkey"`
		Location string `json:"location"`
	} `json:"data"`
}

// GeoClient 查询单个 IP 的地理位置。它使用独立的连接池,
// 与探测流量互不影响。所有失败都降级为描述性文本, 从不返回错误。
type GeoClient struct {
	baseURL string
	client  *http.Client
}

// NewGeoClient 创建地理位置查询客户端。baseURL 为空时使用 DefaultGeoURL。
func NewGeoClient(baseURL string, timeout time.Duration, userAgent string) *GeoClient {
	if baseURL == "" {
		baseURL = DefaultGeoURL
	}
	if timeout <= 0 {
		timeout = DefaultGeoTimeout
	}
	return &GeoClient{
		baseURL: baseURL,
		client:  NewDirectClient(timeout, 10, userAgent),
	}
}

// Lookup 返回 "{fetchkey} - {location}", 失败时返回 "{ip} - 原因"。
func (g *GeoClient) Lookup(ctx context.Context, ip string) string {
	l := logger.WithComponent("Checker/Geo")

	if !IsValidIPv4(ip) {
		l.Debug().Str("ip", ip).Msg("Skipping geo lookup for invalid IP.")
		return fmt.Sprintf("%s - invalid ip", ip)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.queryURL(ip), nil)
	if err != nil {
		l.Warn().Err(err).Str("ip", ip).Msg("Failed to build geo API request.")
		return fmt.Sprintf("%s - lookup failed", ip)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			l.Warn().Str("ip", ip).Msg("Geo API request timed out.")
			return fmt.Sprintf("%s - lookup timeout", ip)
		}
		l.Warn().Err(err).Str("ip", ip).Msg("Geo API request failed.")
		return fmt.Sprintf("%s - lookup failed", ip)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		l.Warn().Int("status_code", resp.StatusCode).Str("ip", ip).Msg("Geo API returned non-success HTTP status.")
		return fmt.Sprintf("%s - lookup failed", ip)
	}

	var apiResp geoAPIResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&apiResp); err != nil {
		if isTimeout(err) {
			return fmt.Sprintf("%s - lookup timeout", ip)
		}
		l.Warn().Err(err).Str("ip", ip).Msg("Failed to decode geo API response.")
		return fmt.Sprintf("%s - invalid data", ip)
	}
	if apiResp.Status != "0" || len(apiResp.Data) == 0 {
		l.Debug().Str("ip", ip).Str("status", apiResp.Status).Msg("Geo API returned no usable data.")
		return fmt.Sprintf("%s - invalid data", ip)
	}

	key, location := apiResp.Data[0].FetchKey, apiResp.Data[0].Location
	if key == "" {
		key = ip
	}
	if location == "" {
		location = unknownLocation
	}
	return fmt.Sprintf("%s - %s", key, location)
}

func (g *GeoClient) queryURL(ip string) string {
	q := url.Values{}
	q.Set("query", ip)
	q.Set("co", "")
	q.Set("resource_id", "6006")
	q.Set("oe", "utf8")
	return g.baseURL + "?" + q.Encode()
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
