// Package parser extracts vless:// node links from subscription text.
package parser

import (
	"strings"
	"unicode"
	"unicode/utf16"

	"github.com/google/uuid"

	"nodesync/nodepool/model"
)

const (
	// Scheme 是唯一被识别的节点链接前缀。
	Scheme = "vless://"

	uuidStart = len(Scheme)
	uuidEnd   = uuidStart + model.UUIDLength
)

// Parser 解析 vless 订阅文本。零值即可使用，只做长度校验。
type Parser struct {
	// StrictUUID 额外要求候选 uuid 是合法的 RFC 4122 文本形式。
	StrictUUID bool
}

// Parse 按行顺序返回文本中所有被接受的条目。
// 无法解析的行被跳过，不会中断后续行的处理。
func (p Parser) Parse(text string) []model.NodeEntry {
	var entries []model.NodeEntry
	for _, line := range strings.Split(text, "\n") {
		if e, ok := p.ParseLine(line); ok {
			entries = append(entries, e)
		}
	}
	return entries
}

// ParseLine 解析单行。只有以 vless:// 开头、uuid 恰为 36 个字符且带非空
// sni 参数的行才会被接受。字符按 UTF-16 码元计数。
func (p Parser) ParseLine(line string) (model.NodeEntry, bool) {
	line = strings.TrimFunc(line, isTrimSpace)
	if !strings.HasPrefix(line, Scheme) {
		return model.NodeEntry{}, false
	}

	id, idLen := utf16Slice(line, uuidStart, uuidEnd)

	sni, ok := sniParam(line)
	if !ok {
		return model.NodeEntry{}, false
	}

	if idLen != model.UUIDLength || sni == "" {
		return model.NodeEntry{}, false
	}
	if p.StrictUUID {
		if _, err := uuid.Parse(id); err != nil {
			return model.NodeEntry{}, false
		}
	}
	return model.NodeEntry{Host: sni, UUID: id}, true
}

// ParseLinks 使用默认（宽松）规则解析文本。
func ParseLinks(text string) []model.NodeEntry {
	return Parser{}.Parse(text)
}

// isTrimSpace 与 JS String.prototype.trim 的空白集合一致：包含 BOM，不含 U+0085。
func isTrimSpace(r rune) bool {
	return r == '\uFEFF' || (r != '\u0085' && unicode.IsSpace(r))
}

// utf16Slice 以 UTF-16 码元为单位截取 [start, end)，越界部分被截断。
// 返回截取结果及其码元数。
func utf16Slice(s string, start, end int) (string, int) {
	units := utf16.Encode([]rune(s))
	if start >= len(units) {
		return "", 0
	}
	if end > len(units) {
		end = len(units)
	}
	window := units[start:end]
	return string(utf16.Decode(window)), len(window)
}
