package restyutil

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/go-resty/resty/v2"
)

const redacted = "[redacted]"

// sensitiveHeaders never reach a dump file.
var sensitiveHeaders = []string{"Authorization", "Cookie", "Set-Cookie"}

// sensitiveFields are form keys whose values are masked, matched
// case-insensitively as substrings.
var sensitiveFields = []string{"password", "pwd", "otp", "captcha", "key", "secret", "token"}

func isSensitiveField(name string) bool {
	lower := strings.ToLower(name)
	for _, field := range sensitiveFields {
		if strings.Contains(lower, field) {
			return true
		}
	}
	return false
}

func writeHeaders(b *strings.Builder, headers http.Header) {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		for _, v := range headers[k] {
			if slices.Contains(sensitiveHeaders, http.CanonicalHeaderKey(k)) {
				v = redacted
			}
			fmt.Fprintf(b, "%s: %s\n", k, v)
		}
	}
}

// redactForm masks sensitive values of an urlencoded body, other bodies are
// returned unchanged.
func redactForm(body string) string {
	values, err := url.ParseQuery(body)
	if err != nil || len(values) == 0 {
		return body
	}
	changed := false
	for key := range values {
		if isSensitiveField(key) {
			values[key] = []string{redacted}
			changed = true
		}
	}
	if !changed {
		return body
	}
	return values.Encode()
}

func requestBody(req *http.Request) string {
	if req == nil || req.GetBody == nil {
		return ""
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Sprintf("<request body unavailable: %v>", err)
	}
	defer body.Close()
	contents, err := io.ReadAll(body)
	if err != nil {
		return fmt.Sprintf("<request body unreadable: %v>", err)
	}
	if strings.HasPrefix(req.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		return redactForm(string(contents))
	}
	return string(contents)
}

func redactUrl(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.RawQuery == "" {
		return raw
	}
	parsed.RawQuery = redactForm(parsed.RawQuery)
	return parsed.String()
}

// formatExchange renders one request/response pair for a dump file with
// credentials and session cookies masked.
func formatExchange(res *resty.Response) string {
	var b strings.Builder

	b.WriteString("==== request ====\n")
	fmt.Fprintf(&b, "%s %s\n", res.Request.Method, redactUrl(res.Request.URL))
	if res.Request.RawRequest != nil {
		writeHeaders(&b, res.Request.RawRequest.Header)
		if body := requestBody(res.Request.RawRequest); body != "" {
			b.WriteString("\n")
			b.WriteString(body)
			b.WriteString("\n")
		}
	}

	b.WriteString("\n==== response ====\n")
	fmt.Fprintf(&b, "%d %s", res.StatusCode(), redactUrl(res.Request.URL))
	if res.RawResponse != nil {
		if location, err := res.RawResponse.Location(); err == nil {
			fmt.Fprintf(&b, " -> %s", redactUrl(location.String()))
		}
	}
	b.WriteString("\n")
	writeHeaders(&b, res.Header())
	b.WriteString("\n")
	b.WriteString(res.String())
	return b.String()
}
