package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Nominatim 调用 OpenStreetMap Nominatim 的 /reverse（format=jsonv2）。
// 公共实例要求 ≤1 req/s 且带可识别的 User-Agent（由 httpx.Transport 统一保证）。
type Nominatim struct {
	BaseURL string
}

func (Nominatim) Name() string { return "nominatim" }

func (n Nominatim) Fetch(ctx context.Context, lat, lon float64, c *http.Client) ([]byte, string, error) {
	base := strings.TrimRight(strings.TrimSpace(n.BaseURL), "/")
	if base == "" {
		return nil, "", fmt.Errorf("nominatim base url 不能为空")
	}
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", formatCoord(lat))
	q.Set("lon", formatCoord(lon))
	reqURL := base + "/reverse?" + q.Encode()

	body, err := getJSON(ctx, c, reqURL)
	return body, reqURL, err
}

type nominatimResponse struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
}

func (n Nominatim) Parse(body []byte) (string, error) {
	var r nominatimResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return "", err
	}
	if strings.TrimSpace(r.Error) != "" {
		return "", &StatusError{Provider: n.Name(), Status: "ERROR", Message: r.Error}
	}
	if strings.TrimSpace(r.DisplayName) == "" {
		return "", &StatusError{Provider: n.Name(), Status: "EMPTY_RESULT"}
	}
	return strings.TrimSpace(r.DisplayName), nil
}
