package settings

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/John-Robertt/camtag/internal/domain"
	"github.com/John-Robertt/camtag/internal/infra/kvstore"
)

// Config Store 中的设置 key（与设置页写入的 key 保持一致）。
const (
	KeyResolution      = "resolution"
	KeyLocationEnabled = "locationEnabled"
	KeyAutoDeleteDays  = "autoDeleteDays"
)

// Keys 是全部用户设置 key。
var Keys = []string{KeyResolution, KeyLocationEnabled, KeyAutoDeleteDays}

// Load 从 Config Store 读取一次设置快照。
//
// 解码规则（宽松，永不因为脏数据失败）：
// - resolution 非法或缺失：回退到默认档位
// - locationEnabled 只有 "false" 表示关闭，其它值（含缺失）都视为开启
// - autoDeleteDays 非数字或为负：视为 0（不自动删除）
func Load(store kvstore.Store) (domain.Settings, error) {
	m, err := store.Get(Keys...)
	if err != nil {
		return domain.Settings{}, err
	}
	return Decode(m), nil
}

// Decode 把 key/value 解码为 Settings（见 Load 的规则）。
func Decode(m map[string]string) domain.Settings {
	s := domain.DefaultSettings()

	if v, ok := m[KeyResolution]; ok {
		if r, ok := domain.ParseResolution(v); ok {
			s.Resolution = r
		}
	}
	if v, ok := m[KeyLocationEnabled]; ok {
		s.LocationEnabled = strings.TrimSpace(v) != "false"
	}
	if v, ok := m[KeyAutoDeleteDays]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			s.AutoDeleteDays = n
		}
	}
	return s
}

// Encode 把 Settings 编码为 Config Store 的字符串值。
func Encode(s domain.Settings) map[string]string {
	return map[string]string{
		KeyResolution:      string(s.Resolution),
		KeyLocationEnabled: strconv.FormatBool(s.LocationEnabled),
		KeyAutoDeleteDays:  strconv.Itoa(s.AutoDeleteDays),
	}
}

// Save 校验后写入 Config Store。
func Save(store kvstore.Store, s domain.Settings) error {
	if _, ok := domain.ParseResolution(string(s.Resolution)); !ok {
		return fmt.Errorf("非法分辨率：%q", s.Resolution)
	}
	if s.AutoDeleteDays < 0 {
		return fmt.Errorf("autoDeleteDays 不能为负：%d", s.AutoDeleteDays)
	}
	return store.Set(Encode(s))
}

// Apply 把单个 key=value 修改应用到 s 上（CLI `settings set` 使用），值非法时报错。
func Apply(s domain.Settings, key, value string) (domain.Settings, error) {
	value = strings.TrimSpace(value)
	switch key {
	case KeyResolution:
		r, ok := domain.ParseResolution(value)
		if !ok {
			return s, fmt.Errorf("resolution 只能是 720p/1080p/4k/Auto，实际是 %q", value)
		}
		s.Resolution = r
	case KeyLocationEnabled:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return s, fmt.Errorf("locationEnabled 只能是 true/false，实际是 %q", value)
		}
		s.LocationEnabled = b
	case KeyAutoDeleteDays:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return s, fmt.Errorf("autoDeleteDays 必须是非负整数，实际是 %q", value)
		}
		s.AutoDeleteDays = n
	default:
		return s, fmt.Errorf("未知设置项：%q", key)
	}
	return s, nil
}
