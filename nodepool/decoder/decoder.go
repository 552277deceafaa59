// Package decoder normalizes subscription bodies to plain text.
package decoder

import (
	"encoding/base64"
	"errors"
	"strings"
)

var errInvalidLength = errors.New("base64 payload has invalid length")

// Decode returns the base64-decoded body, or the body itself when it is not
// valid base64.
func Decode(body string) string {
	decoded, err := DecodeBase64(body)
	if err != nil {
		return body
	}
	return decoded
}

// DecodeBase64 decodes forgiving base64: ASCII whitespace is ignored and
// padding is optional. The standard alphabet is tried first, then the
// URL-safe one.
func DecodeBase64(s string) (string, error) {
	s = stripASCIIWhitespace(s)
	if len(s)%4 == 0 {
		s = strings.TrimSuffix(s, "=")
		s = strings.TrimSuffix(s, "=")
	}
	if len(s)%4 == 1 {
		return "", errInvalidLength
	}

	out, err := base64.RawStdEncoding.DecodeString(s)
	if err == nil {
		return string(out), nil
	}
	out, urlErr := base64.RawURLEncoding.DecodeString(s)
	if urlErr == nil {
		return string(out), nil
	}
	return "", err
}

func stripASCIIWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '\f':
			return -1
		}
		return r
	}, s)
}
