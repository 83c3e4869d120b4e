package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Google 调用 Geocoding API 的逆地理编码：/maps/api/geocode/json?latlng=lat,lon&key=...
//
// API key 只来自配置（camtag.yaml 或 CAMTAG_GEOCODE_API_KEY），不内置任何默认值。
type Google struct {
	BaseURL string
	APIKey  string
}

func (Google) Name() string { return "google" }

func (g Google) Fetch(ctx context.Context, lat, lon float64, c *http.Client) ([]byte, string, error) {
	base := strings.TrimRight(strings.TrimSpace(g.BaseURL), "/")
	if base == "" {
		return nil, "", fmt.Errorf("google base url 不能为空")
	}
	if strings.TrimSpace(g.APIKey) == "" {
		return nil, "", fmt.Errorf("google api key 不能为空")
	}
	q := url.Values{}
	q.Set("latlng", formatCoord(lat)+","+formatCoord(lon))
	q.Set("key", g.APIKey)
	reqURL := base + "/maps/api/geocode/json?" + q.Encode()

	body, err := getJSON(ctx, c, reqURL)
	return body, redactKey(reqURL), redactErr(err)
}

type googleResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		FormattedAddress string `json:"formatted_address"`
	} `json:"results"`
}

// Parse 只接受 status=OK 且第一条结果带 formatted_address 的响应。
func (g Google) Parse(body []byte) (string, error) {
	var r googleResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return "", err
	}
	if r.Status != "OK" {
		return "", &StatusError{Provider: g.Name(), Status: r.Status, Message: r.ErrorMessage}
	}
	if len(r.Results) == 0 || strings.TrimSpace(r.Results[0].FormattedAddress) == "" {
		return "", &StatusError{Provider: g.Name(), Status: "EMPTY_RESULT"}
	}
	return strings.TrimSpace(r.Results[0].FormattedAddress), nil
}

func formatCoord(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// redactErr 清理传输错误里携带的请求 URL（*url.Error 的文本包含完整 query）。
func redactErr(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = redactKey(ue.URL)
	}
	var he *HTTPStatusError
	if errors.As(err, &he) {
		he.URL = redactKey(he.URL)
	}
	return err
}

// redactKey 去掉 URL 中的 key 参数，避免 API key 进入日志/报告。
func redactKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("key") {
		q.Set("key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
