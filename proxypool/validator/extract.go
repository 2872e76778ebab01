package validator

import (
	"encoding/json"
	"net/netip"
	"net/url"
	"regexp"
	"strings"
)

// ParseFailed 是无法从响应中提取 IP 时返回的哨兵值。
const ParseFailed = "parse-failed"

var (
	// 严格匹配: 整个字符串是一个 IPv4, 可带 :port
	strictIPRegex = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}(?::\d{1,5})?$`)
	scanIPRegex   = regexp.MustCompile(`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`)
)

// 返回 JSON 的测试地址, 字段为 ip 或 origin
var jsonEndpoints = []string{"httpbin.org", "ipify.org", "ip-api.com", "ipinfo.io/json", "ifconfig.co/json"}

// 返回纯文本 IP 的测试地址
var plainTextEndpoints = []string{"icanhazip.com", "ifconfig.me", "checkip.amazonaws.com", "ipinfo.io/ip", "ident.me"}

// IsValidIPv4 reports whether s is a dotted IPv4 literal, optionally followed by :port.
func IsValidIPv4(s string) bool {
	if !strictIPRegex.MatchString(s) {
		return false
	}
	host := s
	if i := strings.IndexByte(s, ':'); i >= 0 {
		host = s[:i]
	}
	addr, err := netip.ParseAddr(host)
	return err == nil && addr.Is4()
}

// ExtractIP 从测试地址的响应体中提取客户端 IP。
// 先按测试地址的已知格式解析, 失败后在正文中扫描第一个 IPv4 形状的子串,
// 仍失败则返回 ParseFailed。结果只取决于输入, 对同一对参数总是一致。
func ExtractIP(body, endpoint string) string {
	trimmed := strings.TrimSpace(body)
	target := endpointKey(endpoint)

	switch {
	case matchesAny(target, jsonEndpoints):
		if ip, ok := ipFromJSON(trimmed); ok {
			return ip
		}
	case matchesAny(target, plainTextEndpoints):
		if IsValidIPv4(trimmed) {
			return trimmed
		}
	case strings.HasPrefix(trimmed, "{"):
		if ip, ok := ipFromJSON(trimmed); ok {
			return ip
		}
	}

	if m := scanIPRegex.FindString(body); m != "" {
		return m
	}
	return ParseFailed
}

func ipFromJSON(body string) (string, bool) {
	var payload struct {
		IP     string `json:"ip"`
		Origin string `json:"origin"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return "", false
	}
	value := payload.IP
	if value == "" {
		value = payload.Origin
	}
	// httpbin 在经过多层代理时返回 "a.b.c.d, e.f.g.h"
	if i := strings.IndexByte(value, ','); i >= 0 {
		value = value[:i]
	}
	value = strings.TrimSpace(value)
	if IsValidIPv4(value) {
		return value, true
	}
	if m := scanIPRegex.FindString(value); m != "" {
		return m, true
	}
	return "", false
}

// endpointKey 返回 host+path 的小写形式, 用于匹配已知测试地址。
func endpointKey(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return strings.ToLower(endpoint)
	}
	return strings.ToLower(u.Host + u.Path)
}

func matchesAny(target string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(target, p) {
			return true
		}
	}
	return false
}
