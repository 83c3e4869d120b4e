package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

var (
	// ErrPermissionDenied 表示定位权限被拒（或被撤销）。Enricher 会据此设置 PermissionRevoked。
	ErrPermissionDenied = errors.New("location permission denied")
	// ErrUnavailable 表示定位源当前给不出位置（无信号、服务报错等）。
	ErrUnavailable = errors.New("position unavailable")
)

// PositionOptions 是一次定位请求的参数。
//
// Timeout 由 Enricher 通过 ctx deadline 施加；MaxAge 由 WithMaxAge 包装器兑现；
// HighAccuracy 交给具体定位源自行解释（静态/IP 定位源忽略它）。
type PositionOptions struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaxAge       time.Duration
}

// DefaultPositionOptions 返回 {HighAccuracy: true, Timeout: 5s, MaxAge: 10s}。
func DefaultPositionOptions() PositionOptions {
	return PositionOptions{HighAccuracy: true, Timeout: 5 * time.Second, MaxAge: 10 * time.Second}
}

// Position 是一次定位读数。
type Position struct {
	Latitude  float64
	Longitude float64
	At        time.Time
}

// Positioner 是定位源。实现必须尊重 ctx（超时/取消时尽快返回）。
type Positioner interface {
	Position(ctx context.Context, opts PositionOptions) (Position, error)
}

// PositionerFunc 让普通函数满足 Positioner（测试与简单适配用）。
type PositionerFunc func(ctx context.Context, opts PositionOptions) (Position, error)

func (f PositionerFunc) Position(ctx context.Context, opts PositionOptions) (Position, error) {
	return f(ctx, opts)
}

// Static 总是返回配置里的固定坐标（适合固定机位）。
type Static struct {
	Latitude  float64
	Longitude float64
	Now       func() time.Time
}

func (s Static) Position(ctx context.Context, _ PositionOptions) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, err
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return Position{Latitude: s.Latitude, Longitude: s.Longitude, At: now()}, nil
}

// IP 通过 HTTP JSON 的 IP 定位服务获取粗略位置（ip-api.com 响应形态：{status, lat, lon, message}）。
type IP struct {
	URL    string
	Client *http.Client
	Now    func() time.Time
}

type ipResponse struct {
	Status  string   `json:"status"`
	Message string   `json:"message"`
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
}

func (p IP) Position(ctx context.Context, _ PositionOptions) (Position, error) {
	if p.Client == nil {
		return Position{}, fmt.Errorf("http client 不能为空")
	}
	u := strings.TrimSpace(p.URL)
	if u == "" {
		return Position{}, fmt.Errorf("ip 定位 url 不能为空")
	}

	body, err := getJSON(ctx, p.Client, u)
	if err != nil {
		var hs *HTTPStatusError
		if errors.As(err, &hs) && (hs.StatusCode == http.StatusUnauthorized || hs.StatusCode == http.StatusForbidden) {
			return Position{}, fmt.Errorf("%w：%v", ErrPermissionDenied, err)
		}
		return Position{}, err
	}

	var r ipResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return Position{}, fmt.Errorf("%w：响应无法解析：%v", ErrUnavailable, err)
	}
	if r.Status != "" && r.Status != "success" {
		return Position{}, fmt.Errorf("%w：status=%s %s", ErrUnavailable, r.Status, strings.TrimSpace(r.Message))
	}
	if r.Lat == nil || r.Lon == nil {
		return Position{}, fmt.Errorf("%w：响应缺少 lat/lon", ErrUnavailable)
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return Position{Latitude: *r.Lat, Longitude: *r.Lon, At: now()}, nil
}

// WithMaxAge 包装一个定位源：缓存的读数只要不比 opts.MaxAge 更旧就直接复用。
func WithMaxAge(p Positioner, now func() time.Time) Positioner {
	if now == nil {
		now = time.Now
	}
	return &maxAgeCache{next: p, now: now}
}

type maxAgeCache struct {
	next Positioner
	now  func() time.Time

	mu     sync.Mutex
	last   Position
	hasPos bool
}

func (c *maxAgeCache) Position(ctx context.Context, opts PositionOptions) (Position, error) {
	c.mu.Lock()
	if c.hasPos && opts.MaxAge > 0 && c.now().Sub(c.last.At) <= opts.MaxAge {
		p := c.last
		c.mu.Unlock()
		return p, nil
	}
	c.mu.Unlock()

	p, err := c.next.Position(ctx, opts)
	if err != nil {
		return Position{}, err
	}

	c.mu.Lock()
	c.last = p
	c.hasPos = true
	c.mu.Unlock()
	return p, nil
}
