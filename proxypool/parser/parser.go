// Package parser 将原始代理字符串规范化为 ProxyCandidate。
package parser

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"proxychecker/proxypool/model"
)

// FilteredPort 是在探测前被排除的端口。
const FilteredPort = 80

// ErrInvalidFormat 表示输入既不是 http(s) URI, 也不是 IPv4:port。
var ErrInvalidFormat = errors.New("invalid proxy format")

var hostPortRegex = regexp.MustCompile(`^(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}):(\d{1,5})$`)

// Parse 解析一行代理文本。规则按顺序尝试:
//  1. scheme 为 http/https 的绝对 URI, 规范形式为该 URI 的小写;
//  2. IPv4:port, 规范形式为 http://host:port;
//  3. 其余均返回 ErrInvalidFormat。
//
// Parse 无副作用, 可在多个 goroutine 中并发调用。
func Parse(line string) (model.ProxyCandidate, error) {
	raw := strings.TrimSpace(line)
	if raw == "" {
		return model.ProxyCandidate{}, fmt.Errorf("%w: empty line", ErrInvalidFormat)
	}

	if c, ok, err := parseURI(raw); ok {
		return c, err
	}

	m := hostPortRegex.FindStringSubmatch(raw)
	if m == nil {
		return model.ProxyCandidate{}, fmt.Errorf("%w: %q", ErrInvalidFormat, raw)
	}
	addr, err := netip.ParseAddr(m[1])
	if err != nil || !addr.Is4() {
		return model.ProxyCandidate{}, fmt.Errorf("%w: bad ipv4 host in %q", ErrInvalidFormat, raw)
	}
	port, err := parsePort(m[2])
	if err != nil {
		return model.ProxyCandidate{}, fmt.Errorf("%w: %q: %v", ErrInvalidFormat, raw, err)
	}

	host := addr.String()
	return model.ProxyCandidate{
		Raw:       raw,
		Canonical: fmt.Sprintf("http://%s:%d", host, port),
		Host:      host,
		Port:      port,
	}, nil
}

// parseURI handles rule 1. ok is false when raw is not an http(s) URI at all,
// so the caller can fall through to the host:port rule.
func parseURI(raw string) (model.ProxyCandidate, bool, error) {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return model.ProxyCandidate{}, false, nil
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return model.ProxyCandidate{}, false, nil
	}
	host := u.Hostname()
	if host == "" {
		return model.ProxyCandidate{}, true, fmt.Errorf("%w: missing host in %q", ErrInvalidFormat, raw)
	}

	var port int
	if p := u.Port(); p != "" {
		if port, err = parsePort(p); err != nil {
			return model.ProxyCandidate{}, true, fmt.Errorf("%w: %q: %v", ErrInvalidFormat, raw, err)
		}
	} else if scheme == "https" {
		port = 443
	} else {
		port = 80
	}

	canonical := strings.TrimSuffix(strings.ToLower(u.String()), "/")
	return model.ProxyCandidate{
		Raw:       raw,
		Canonical: canonical,
		Host:      strings.ToLower(host),
		Port:      port,
	}, true, nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("non-numeric port %q", s)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}

// IsFiltered 报告该候选是否应在探测前被排除 (端口 80)。
func IsFiltered(c model.ProxyCandidate) bool {
	return c.Port == FilteredPort
}
