package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// ErrCodeNotFound 表示 --config 显式指定的文件不存在。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
)

// FileName 是默认配置文件名（位于 cwd）。
const FileName = "camtag.yaml"

// EnvPrefix 是环境变量覆盖的前缀：CAMTAG_GEOCODE_API_KEY -> geocode.api_key。
const EnvPrefix = "CAMTAG_"

const (
	DefaultStatusClear     = 1500 * time.Millisecond
	DefaultPollInterval    = 15 * time.Second
	DefaultPositionTimeout = 5 * time.Second
	DefaultPositionMaxAge  = 10 * time.Second
	DefaultGeocodeTimeout  = 10 * time.Second

	DefaultLocationSource   = "ip"
	DefaultIPURL            = "http://ip-api.com/json/"
	DefaultGeocodeProvider  = "nominatim"
	DefaultGoogleBaseURL    = "https://maps.googleapis.com"
	DefaultNominatimBaseURL = "https://nominatim.openstreetmap.org"
	DefaultPushSubject      = "camtag.assets"
)

// FileConfig 对应 camtag.yaml 的解析结构（环境变量覆盖后）。
type FileConfig struct {
	AssetDir     string        `koanf:"asset_dir"`
	StorePath    string        `koanf:"store_path"`
	GalleryIndex string        `koanf:"gallery_index"`
	StatusClear  time.Duration `koanf:"status_clear"`

	Location  LocationConfig  `koanf:"location"`
	Geocode   GeocodeConfig   `koanf:"geocode"`
	Push      PushConfig      `koanf:"push"`
	Retention RetentionConfig `koanf:"retention"`
	Log       LogConfig       `koanf:"log"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

// LocationConfig 决定位置来源。
//
// source：none（不定位）| static（固定坐标）| ip（IP 定位服务）。
type LocationConfig struct {
	Source       string        `koanf:"source"`
	Latitude     float64       `koanf:"latitude"`
	Longitude    float64       `koanf:"longitude"`
	IPURL        string        `koanf:"ip_url"`
	PollInterval time.Duration `koanf:"poll_interval"`
	Timeout      time.Duration `koanf:"timeout"`
	MaxAge       time.Duration `koanf:"max_age"`
}

type GeocodeConfig struct {
	Provider         string        `koanf:"provider"`
	APIKey           string        `koanf:"api_key"`
	GoogleBaseURL    string        `koanf:"google_base_url"`
	NominatimBaseURL string        `koanf:"nominatim_base_url"`
	RatePerSecond    float64       `koanf:"rate_per_second"`
	Burst            int           `koanf:"burst"`
	ProxyURL         string        `koanf:"proxy_url"`
	Timeout          time.Duration `koanf:"timeout"`
}

type PushConfig struct {
	NATSURL string `koanf:"nats_url"`
	Subject string `koanf:"subject"`
}

type RetentionConfig struct {
	// Interval>0 时在 record 会话期间周期性 sweep；0 表示只在启动时跑一次。
	Interval time.Duration `koanf:"interval"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type MetricsConfig struct {
	Textfile string `koanf:"textfile"`
}

// EffectiveConfig 是合并默认值并做规范化后的最终配置（实现层直接消费，不再做二次默认判断）。
// 所有路径均为 clean + absolute。
type EffectiveConfig struct {
	// Source 是实际读取的配置文件路径；未读取任何文件时为空。
	Source string

	AssetDir     string
	StorePath    string
	GalleryIndex string
	StatusClear  time.Duration

	Location  LocationConfig
	Geocode   GeocodeConfig
	Push      PushConfig
	Retention RetentionConfig
	Log       LogConfig

	MetricsTextfile string
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 发现并读取配置文件，叠加环境变量，然后补默认值并校验。
//
// 发现规则（固定）：
// 1) explicit 非空：必须存在（否则 config_not_found）
// 2) explicit 为空：读取 <cwd>/camtag.yaml（可选，不存在则全部走默认值）
//
// 覆盖优先级：环境变量（CAMTAG_*）> 配置文件 > 内置默认值。
// 相对路径以 cwd 为基准。
func LoadEffective(cwd, explicit string) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	cfgPath := filepath.Join(cwdAbs, FileName)
	required := false
	if strings.TrimSpace(explicit) != "" {
		cfgPath = absCleanFrom(cwdAbs, explicit)
		required = true
	}

	k := koanf.New(".")

	b, err := os.ReadFile(cfgPath)
	switch {
	case err == nil:
		if err := k.Load(rawbytes.Provider(b), yaml.Parser()); err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
	case os.IsNotExist(err):
		if required {
			return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
		}
		cfgPath = ""
	default:
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf("读取环境变量失败：%w", err)}
	}

	var fc FileConfig
	if err := k.Unmarshal("", &fc); err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	eff, err := merge(cwdAbs, fc)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	eff.Source = cfgPath
	return eff, nil
}

// 顶层 key 自身带下划线，不能按“第一个下划线切分 section”的规则处理。
var topLevelKeys = map[string]bool{
	"asset_dir":     true,
	"store_path":    true,
	"gallery_index": true,
	"status_clear":  true,
}

// envKey 把 CAMTAG_GEOCODE_API_KEY 映射为 geocode.api_key：
// 去掉前缀后按第一个下划线切成 section.field_name。
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if topLevelKeys[lower] {
		return lower
	}
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

func merge(cwdAbs string, fc FileConfig) (EffectiveConfig, error) {
	eff := EffectiveConfig{
		AssetDir:     absCleanFrom(cwdAbs, defaultString(fc.AssetDir, "videos")),
		StorePath:    absCleanFrom(cwdAbs, defaultString(fc.StorePath, filepath.Join(".camtag", "store.json"))),
		GalleryIndex: absCleanFrom(cwdAbs, defaultString(fc.GalleryIndex, filepath.Join(".camtag", "gallery.html"))),
		StatusClear:  defaultDuration(fc.StatusClear, DefaultStatusClear),
		Push:         fc.Push,
		Retention:    fc.Retention,
		Log:          fc.Log,
	}
	if fc.Metrics.Textfile != "" {
		eff.MetricsTextfile = absCleanFrom(cwdAbs, fc.Metrics.Textfile)
	}
	if eff.StatusClear < 0 {
		return EffectiveConfig{}, fmt.Errorf("status_clear 不能为负：%s", eff.StatusClear)
	}

	loc, err := mergeLocation(fc.Location)
	if err != nil {
		return EffectiveConfig{}, err
	}
	eff.Location = loc

	geo, err := mergeGeocode(fc.Geocode)
	if err != nil {
		return EffectiveConfig{}, err
	}
	eff.Geocode = geo

	eff.Push.NATSURL = strings.TrimSpace(eff.Push.NATSURL)
	eff.Push.Subject = defaultString(eff.Push.Subject, DefaultPushSubject)
	if eff.Push.NATSURL != "" {
		if _, err := url.Parse(eff.Push.NATSURL); err != nil {
			return EffectiveConfig{}, fmt.Errorf("push.nats_url 无效：%w", err)
		}
	}

	if eff.Retention.Interval < 0 {
		return EffectiveConfig{}, fmt.Errorf("retention.interval 不能为负：%s", eff.Retention.Interval)
	}

	eff.Log.Level = strings.ToLower(defaultString(eff.Log.Level, "info"))
	eff.Log.Format = strings.ToLower(defaultString(eff.Log.Format, "json"))
	switch eff.Log.Format {
	case "json", "console":
	default:
		return EffectiveConfig{}, fmt.Errorf("log.format 只能是 json 或 console，实际是 %q", eff.Log.Format)
	}
	return eff, nil
}

func mergeLocation(lc LocationConfig) (LocationConfig, error) {
	lc.Source = strings.ToLower(defaultString(lc.Source, DefaultLocationSource))
	lc.PollInterval = defaultDuration(lc.PollInterval, DefaultPollInterval)
	lc.Timeout = defaultDuration(lc.Timeout, DefaultPositionTimeout)
	lc.MaxAge = defaultDuration(lc.MaxAge, DefaultPositionMaxAge)
	if lc.PollInterval < 0 || lc.Timeout < 0 || lc.MaxAge < 0 {
		return LocationConfig{}, fmt.Errorf("location 的时长字段不能为负")
	}

	switch lc.Source {
	case "none":
	case "static":
		if math.Abs(lc.Latitude) > 90 || math.Abs(lc.Longitude) > 180 {
			return LocationConfig{}, fmt.Errorf("location 坐标越界：(%v, %v)", lc.Latitude, lc.Longitude)
		}
	case "ip":
		lc.IPURL = defaultString(lc.IPURL, DefaultIPURL)
		if err := validateHTTPURL("location.ip_url", lc.IPURL); err != nil {
			return LocationConfig{}, err
		}
	default:
		return LocationConfig{}, fmt.Errorf("location.source 只能是 none/static/ip，实际是 %q", lc.Source)
	}
	return lc, nil
}

func mergeGeocode(gc GeocodeConfig) (GeocodeConfig, error) {
	gc.Provider = strings.ToLower(defaultString(gc.Provider, DefaultGeocodeProvider))
	gc.APIKey = strings.TrimSpace(gc.APIKey)
	gc.GoogleBaseURL = defaultString(gc.GoogleBaseURL, DefaultGoogleBaseURL)
	gc.NominatimBaseURL = defaultString(gc.NominatimBaseURL, DefaultNominatimBaseURL)
	gc.ProxyURL = strings.TrimSpace(gc.ProxyURL)
	gc.Timeout = defaultDuration(gc.Timeout, DefaultGeocodeTimeout)

	switch gc.Provider {
	case "none", "nominatim":
	case "google":
		if gc.APIKey == "" {
			return GeocodeConfig{}, fmt.Errorf("geocode.provider=google 需要 geocode.api_key（或环境变量 CAMTAG_GEOCODE_API_KEY）")
		}
	default:
		return GeocodeConfig{}, fmt.Errorf("geocode.provider 只能是 google/nominatim/none，实际是 %q", gc.Provider)
	}

	if err := validateHTTPURL("geocode.google_base_url", gc.GoogleBaseURL); err != nil {
		return GeocodeConfig{}, err
	}
	if err := validateHTTPURL("geocode.nominatim_base_url", gc.NominatimBaseURL); err != nil {
		return GeocodeConfig{}, err
	}
	if gc.ProxyURL != "" {
		if _, err := url.Parse(gc.ProxyURL); err != nil {
			return GeocodeConfig{}, fmt.Errorf("geocode.proxy_url 无效：%w", err)
		}
	}

	if gc.RatePerSecond < 0 || gc.Burst < 0 || gc.Timeout < 0 {
		return GeocodeConfig{}, fmt.Errorf("geocode 的限速/超时字段不能为负")
	}
	// Nominatim 使用政策：公共实例 ≤1 req/s；未配置时按该上限限速。
	if gc.RatePerSecond == 0 && gc.Provider == "nominatim" {
		gc.RatePerSecond = 1
	}
	if gc.Burst == 0 {
		gc.Burst = 1
	}
	return gc, nil
}

func validateHTTPURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s 无效：%q", field, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s 必须是 http/https：%q", field, raw)
	}
	return nil
}

func defaultString(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}

func defaultDuration(v, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return v
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
// - p 若已是绝对路径：直接 Clean
// - p 若是相对路径：Join(base, p) 后 Clean
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}
