package geo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

// maxBodyBytes 限制外部 JSON 响应的大小，避免异常响应拖垮内存。
const maxBodyBytes = 1 << 20

// Geocoder 把“服务差异”限制在 geocoder 实现内部；Enricher 只依赖地址字符串。
//
// 约束：
// - Fetch 不做缓存、不做重试、不做限速（这些由 httpx 统一实现）
// - Parse 必须是纯函数：相同输入 => 相同输出
type Geocoder interface {
	Name() string
	Fetch(ctx context.Context, lat, lon float64, c *http.Client) (body []byte, reqURL string, err error)
	Parse(body []byte) (address string, err error)
}

// Registry 是 geocoder 的只读注册表（按 name 索引）。
type Registry struct {
	byName map[string]Geocoder
}

func NewRegistry(geocoders ...Geocoder) (Registry, error) {
	byName := make(map[string]Geocoder, len(geocoders))
	for _, g := range geocoders {
		if g == nil {
			return Registry{}, fmt.Errorf("geocoder 不能为空")
		}
		name := strings.ToLower(strings.TrimSpace(g.Name()))
		if name == "" {
			return Registry{}, fmt.Errorf("geocoder.Name 不能为空")
		}
		if _, ok := byName[name]; ok {
			return Registry{}, fmt.Errorf("重复的 geocoder：%q", name)
		}
		byName[name] = g
	}
	return Registry{byName: byName}, nil
}

func (r Registry) Get(name string) (Geocoder, bool) {
	if r.byName == nil {
		return nil, false
	}
	g, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return g, ok
}

// Names 返回已注册的 geocoder 名称（已排序）。
func (r Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Attempt 记录一次 geocoder 尝试（用于解释 fallback/降级原因）。
type Attempt struct {
	Provider string // geocoder name（小写）
	Stage    string // "fetch" / "parse" / "ok"
	Err      error  // nil when Stage=="ok"
}

// Error 是 geocode 阶段的可追溯错误。
type Error struct {
	Provider string
	Stage    string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("geocoder=%s stage=%s: %v", e.Provider, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Chain 按“requested -> 其余已注册 geocoder（字典序）”的顺序逆地理编码。
type Chain struct {
	Registry  Registry
	Requested string
	Client    *http.Client
}

// Resolve 实现 AddressResolver。
func (ch Chain) Resolve(ctx context.Context, lat, lon float64) (string, error) {
	addr, _, _, err := ch.ResolveTrace(ctx, lat, lon)
	return addr, err
}

// ResolveTrace 与 Resolve 相同，但额外返回最终使用的 geocoder 与尝试链路。
func (ch Chain) ResolveTrace(ctx context.Context, lat, lon float64) (address, used string, attempts []Attempt, err error) {
	requested := strings.ToLower(strings.TrimSpace(ch.Requested))
	if requested == "" {
		return "", "", nil, fmt.Errorf("geocoder_requested 不能为空")
	}
	if ch.Client == nil {
		return "", "", nil, fmt.Errorf("http client 不能为空")
	}

	var lastErr error
	for _, name := range ch.order(requested) {
		g, ok := ch.Registry.Get(name)
		if !ok {
			lastErr = fmt.Errorf("geocoder 未注册：%q", name)
			attempts = append(attempts, Attempt{Provider: name, Stage: "fetch", Err: lastErr})
			continue
		}

		body, _, ferr := g.Fetch(ctx, lat, lon, ch.Client)
		if ferr != nil {
			lastErr = &Error{Provider: name, Stage: "fetch", Err: ferr}
			attempts = append(attempts, Attempt{Provider: name, Stage: "fetch", Err: ferr})
			if ctx.Err() != nil {
				break
			}
			continue
		}

		addr, perr := g.Parse(body)
		if perr != nil {
			lastErr = &Error{Provider: name, Stage: "parse", Err: perr}
			attempts = append(attempts, Attempt{Provider: name, Stage: "parse", Err: perr})
			continue
		}

		attempts = append(attempts, Attempt{Provider: name, Stage: "ok"})
		return addr, name, attempts, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("无可用 geocoder")
	}
	return "", "", attempts, lastErr
}

func (ch Chain) order(requested string) []string {
	order := []string{requested}
	for _, n := range ch.Registry.Names() {
		if n != requested {
			order = append(order, n)
		}
	}
	return order
}

// getJSON 发起 GET 并读取 body；非 2xx 返回 *HTTPStatusError。
func getJSON(ctx context.Context, c *http.Client, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &HTTPStatusError{URL: reqURL, StatusCode: resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}
