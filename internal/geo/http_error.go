package geo

import (
	"fmt"
	"strings"
)

// HTTPStatusError 表示外部服务返回了非 2xx 的 HTTP 状态码。
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "HTTP status error"
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// StatusError 表示 HTTP 成功，但服务在 body 里报告了非 OK 状态
// （例如 Geocoding API 的 ZERO_RESULTS / REQUEST_DENIED）。
type StatusError struct {
	Provider string
	Status   string
	Message  string
}

func (e *StatusError) Error() string {
	if e == nil {
		return "status error"
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		return fmt.Sprintf("%s status=%s", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s status=%s: %s", e.Provider, e.Status, msg)
}
