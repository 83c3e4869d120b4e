package domain

import "strings"

// Resolution 是录制分辨率档位（与设置页的选项一一对应）。
type Resolution string

const (
	Res720p  Resolution = "720p"
	Res1080p Resolution = "1080p"
	Res4K    Resolution = "4k"
	ResAuto  Resolution = "Auto"
)

// DefaultResolution 是未设置/设置非法时的回退档位。
const DefaultResolution = Res1080p

// ParseResolution 解析设置值；大小写不敏感，但输出统一为规范写法。
func ParseResolution(s string) (Resolution, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "720p":
		return Res720p, true
	case "1080p":
		return Res1080p, true
	case "4k":
		return Res4K, true
	case "auto":
		return ResAuto, true
	default:
		return "", false
	}
}

// TargetBitRate 返回该档位的目标码率（bit/s），作为录制参数交给设备。
// Auto 与 1080p 共用默认码率。
func (r Resolution) TargetBitRate() int {
	switch r {
	case Res720p:
		return 4_000_000
	case Res4K:
		return 35_000_000
	default:
		return 8_000_000
	}
}

func (r Resolution) String() string { return string(r) }

// Settings 是用户设置的一次性快照。
//
// 约束：组件不直接读 Config Store，而是在调用点接收该快照
// （capture 在 focus/resume 时刷新一次）。
type Settings struct {
	Resolution      Resolution
	LocationEnabled bool
	AutoDeleteDays  int // 0 表示不自动删除
}

// DefaultSettings 是 Config Store 中没有任何键时的设置。
func DefaultSettings() Settings {
	return Settings{
		Resolution:      DefaultResolution,
		LocationEnabled: true,
		AutoDeleteDays:  0,
	}
}

// LocationBadge 是界面上展示的定位开关文案。
func (s Settings) LocationBadge() string {
	if s.LocationEnabled {
		return "Location ON"
	}
	return "Location OFF"
}
