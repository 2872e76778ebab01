package model

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// ProxyCandidate 是一行原始输入经过解析后的规范化代理地址。
// 创建后不可变，探测完成即丢弃。
type ProxyCandidate struct {
	Raw       string `json:"raw"`       // 原始输入行 (已去除首尾空白)
	Canonical string `json:"canonical"` // 规范化 URL, e.g. "http://1.2.3.4:8080"
	Host      string `json:"host"`
	Port      int    `json:"port"`
}

// Address 返回可拨号的 host:port 地址, IPv6 主机带方括号。
func (c ProxyCandidate) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Status 是探测结果的状态标签。
type Status string

const (
	StatusAvailable             Status = "Available"
	StatusInvalidFormat         Status = "InvalidFormat"
	StatusTimeout               Status = "Timeout"
	StatusConnectionRefused     Status = "ConnectionRefused"
	StatusProxyResolutionFailed Status = "ProxyResolutionFailed"
	StatusUnknownError          Status = "UnknownError"
	StatusCancelled             Status = "Cancelled"
)

// HTTPStatus 生成非 2xx 响应的状态标签, e.g. "status 403"。
func HTTPStatus(code int) Status {
	return Status(fmt.Sprintf("status %d", code))
}

// ProbeOutcome 是一次探测的最终结果，每个候选代理恰好产生一个。
type ProbeOutcome struct {
	Original   string    `json:"original"`
	Canonical  string    `json:"canonical"`
	Host       string    `json:"host"`
	Port       int       `json:"port"`
	LatencyMs  int64     `json:"latency_ms"` // 0 表示未测得
	Status     Status    `json:"status"`
	Enrichment string    `json:"enrichment"` // 地理位置信息, 或说明缺失原因的占位文本
	CheckedAt  time.Time `json:"checked_at"`
}

// Available reports whether the proxy passed the probe.
func (o ProbeOutcome) Available() bool {
	return o.Status == StatusAvailable
}

// NewOutcome 以候选代理的地址信息初始化一个结果。
func NewOutcome(c ProxyCandidate, status Status, enrichment string) ProbeOutcome {
	return ProbeOutcome{
		Original:   c.Raw,
		Canonical:  c.Canonical,
		Host:       c.Host,
		Port:       c.Port,
		Status:     status,
		Enrichment: enrichment,
		CheckedAt:  time.Now(),
	}
}

// LogLevel 是日志行的级别。
type LogLevel int

const (
	LevelInfo LogLevel = iota
	LevelSuccess
	LevelWarning
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelSuccess:
		return "success"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}
