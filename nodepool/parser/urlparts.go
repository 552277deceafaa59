package parser

import (
	"net/netip"
	"strconv"
	"strings"
)

// 以下按 WHATWG URL 规则处理非特殊 scheme 的链接：
// fragment、path 中的坏 % 转义不会让整行失败，只有 authority 非法时才失败。

const forbiddenHostChars = "\x00\t\n\r #/:<>?@[\\]^|"

var tabNewlineStripper = strings.NewReplacer("\t", "", "\n", "", "\r", "")

// sniParam 返回链接 query 中第一个 sni 参数的值。
// 链接的 authority 部分无法解析时 ok 为 false。
func sniParam(link string) (sni string, ok bool) {
	rest := strings.TrimPrefix(tabNewlineStripper.Replace(link), Scheme)
	if i := strings.IndexByte(rest, '#'); i >= 0 {
		rest = rest[:i]
	}
	var query string
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		rest, query = rest[:i], rest[i+1:]
	}
	authority := rest
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		authority = rest[:i]
	}
	if !validAuthority(authority) {
		return "", false
	}
	return formValue(query, "sni"), true
}

func validAuthority(authority string) bool {
	hostport := authority
	hasUserinfo := false
	if i := strings.LastIndexByte(authority, '@'); i >= 0 {
		hostport = authority[i+1:]
		hasUserinfo = true
	}

	host, port, hasPort := hostport, "", false
	if strings.HasPrefix(hostport, "[") {
		end := strings.IndexByte(hostport, ']')
		if end < 0 {
			return false
		}
		addr, err := netip.ParseAddr(hostport[1:end])
		if err != nil || !addr.Is6() || addr.Zone() != "" {
			return false
		}
		host = hostport[:end+1]
		switch tail := hostport[end+1:]; {
		case tail == "":
		case tail[0] == ':':
			port, hasPort = tail[1:], true
		default:
			return false
		}
	} else {
		if i := strings.IndexByte(hostport, ':'); i >= 0 {
			host, port, hasPort = hostport[:i], hostport[i+1:], true
		}
		if strings.ContainsAny(host, forbiddenHostChars) {
			return false
		}
	}

	if host == "" && (hasUserinfo || hasPort) {
		return false
	}
	return validPort(port)
}

func validPort(port string) bool {
	for i := 0; i < len(port); i++ {
		if port[i] < '0' || port[i] > '9' {
			return false
		}
	}
	port = strings.TrimLeft(port, "0")
	if port == "" {
		return true
	}
	if len(port) > 5 {
		return false
	}
	n, _ := strconv.Atoi(port)
	return n <= 65535
}

// formValue 按 application/x-www-form-urlencoded 解析 query，返回 name 的第一个值。
// 无法解码的 % 序列保持原样。
func formValue(query, name string) string {
	for _, pair := range strings.Split(query, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		if percentDecode(k) == name {
			return percentDecode(v)
		}
	}
	return ""
}

func percentDecode(s string) string {
	s = strings.ReplaceAll(s, "+", " ")
	if !strings.Contains(s, "%") {
		return strings.ToValidUTF8(s, "\uFFFD")
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
			continue
		}
		b.WriteByte(s[i])
	}
	return strings.ToValidUTF8(b.String(), "\uFFFD")
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
