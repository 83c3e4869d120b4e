package httpx

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "camtag/1.0 (+https://github.com/John-Robertt/camtag)"
)

// Transport 把“固定 UA + 代理 + 客户端限速”固化为统一策略。
//
// 设计目标：geocoder/positioner 只负责“拼 URL + 解析 JSON”，不关心网络策略细节。
// 不做任何重试：定位与逆地理编码都是 best-effort，失败直接降级。
type Transport struct {
	Base *http.Transport

	// Limiter 为 nil 表示不限速；否则每个请求前 Wait（受 request ctx 约束）。
	// Nominatim 公共实例要求 ≤1 req/s。
	Limiter *rate.Limiter

	UserAgent string

	// DisableKeepAlives 决定是否对 Request 设置 Close=true（额外保险）。
	DisableKeepAlives bool
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	if t.Base == nil {
		return nil, errors.New("nil base transport")
	}

	if t.Limiter != nil {
		if err := t.Limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}

	r := req.Clone(req.Context())
	if r.Header.Get("User-Agent") == "" {
		ua := t.UserAgent
		if ua == "" {
			ua = defaultUserAgent
		}
		r.Header.Set("User-Agent", ua)
	}
	if r.Header.Get("Accept") == "" {
		r.Header.Set("Accept", "application/json")
	}
	if t.DisableKeepAlives {
		r.Close = true
	}
	return t.Base.RoundTrip(r)
}

// Options 是构造 client 的参数；零值即“直连、不限速、默认超时”。
type Options struct {
	ProxyURL      string
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
	UserAgent     string
}

// NewClient 构造用于外部 JSON 服务（逆地理编码 / IP 定位）的 HTTP client。
//
// 规则：
// - ProxyURL 非空：走代理，且禁用 keep-alive（每请求新连接）
// - RatePerSecond > 0：客户端令牌桶限速（Burst 最小为 1）
// - 总超时 Timeout（<=0 使用默认值）
func NewClient(opts Options) (*http.Client, error) {
	base := &http.Transport{
		Proxy:                 nil,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 8 * time.Second,
	}

	disableKeepAlives := false
	if p := strings.TrimSpace(opts.ProxyURL); p != "" {
		u, err := url.Parse(p)
		if err != nil {
			return nil, err
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, errors.New("代理地址必须包含 scheme 与 host")
		}
		base.Proxy = http.ProxyURL(u)
		base.DisableKeepAlives = true
		disableKeepAlives = true
	}

	var lim *rate.Limiter
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &http.Client{
		Transport: &Transport{
			Base:              base,
			Limiter:           lim,
			UserAgent:         strings.TrimSpace(opts.UserAgent),
			DisableKeepAlives: disableKeepAlives,
		},
		Timeout: timeout,
	}, nil
}
