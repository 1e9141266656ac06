// Package logutil formats intercepted traffic for logs without leaking
// credentials carried in headers or JSON bodies.
package logutil

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const redacted = "[REDACTED]"

// Key fragments that mark a header or JSON field as a credential. Matching
// ignores case, dashes and underscores.
var sensitiveFragments = []string{
	"authorization", "token", "secret", "password", "clave", "apikey", "cookie", "auth", "session", "jsessionid",
}

// Sensitive reports whether key likely names a credential.
func Sensitive(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	k = strings.NewReplacer("-", "", "_", "").Replace(k)
	return slices.ContainsFunc(sensitiveFragments, func(f string) bool {
		return strings.Contains(k, f)
	})
}

// FormatHeadersForLog renders headers sorted by name with sensitive values
// redacted. Playwright reports headers as a flat lower-cased map.
func FormatHeadersForLog(headers map[string]string) string {
	if len(headers) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString("; ")
		}
		name := strings.ToLower(k)
		switch v := headers[k]; {
		case v == "":
			fmt.Fprintf(&b, "%s=<empty>", name)
		case Sensitive(k):
			fmt.Fprintf(&b, "%s=%q", name, redacted)
		default:
			fmt.Fprintf(&b, "%s=%q", name, v)
		}
	}
	return b.String()
}

// RedactBody replaces every sensitive field of a JSON body with a marker,
// keeping the original key order. Non-JSON and malformed bodies come back
// unchanged.
func RedactBody(contentType string, body []byte) string {
	text := string(body)
	if !strings.Contains(strings.ToLower(contentType), "json") || !gjson.ValidBytes(body) {
		return text
	}
	var paths []string
	collect(gjson.ParseBytes(body), "", &paths)
	for _, p := range paths {
		next, err := sjson.Set(text, p, redacted)
		if err != nil {
			continue
		}
		text = next
	}
	return text
}

func collect(v gjson.Result, prefix string, paths *[]string) {
	if !v.IsObject() && !v.IsArray() {
		return
	}
	i := 0
	v.ForEach(func(key, child gjson.Result) bool {
		var p string
		if v.IsArray() {
			p = join(prefix, strconv.Itoa(i))
		} else {
			p = join(prefix, escape(key.String()))
			if Sensitive(key.String()) {
				*paths = append(*paths, p)
				i++
				return true
			}
		}
		collect(child, p, paths)
		i++
		return true
	})
}

func join(prefix, part string) string {
	if prefix == "" {
		return part
	}
	return prefix + "." + part
}

func escape(key string) string {
	var b strings.Builder
	for _, r := range key {
		if strings.ContainsRune(`.*?\|#@!`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// FormatBodyForLog redacts, then truncates, body text. Truncation after
// redaction cannot expose half a secret.
func FormatBodyForLog(contentType string, body []byte, maxBytes int) string {
	if len(body) == 0 {
		return ""
	}
	text := RedactBody(contentType, body)
	if maxBytes > 0 && len(text) > maxBytes {
		return text[:maxBytes] + " [truncated]"
	}
	return text
}
