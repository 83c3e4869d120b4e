package capture

import "github.com/John-Robertt/camtag/internal/domain"

// RecordingOptions 是交给设备的录制参数。
type RecordingOptions struct {
	Resolution domain.Resolution `json:"resolution"`
	BitRate    int               `json:"bit_rate"`
	Facing     Facing            `json:"facing"`
}

// OptionsFor 根据设置快照与朝向生成录制参数。
func OptionsFor(s domain.Settings, f Facing) RecordingOptions {
	return RecordingOptions{
		Resolution: s.Resolution,
		BitRate:    s.Resolution.TargetBitRate(),
		Facing:     f,
	}
}

// Device 是录制设备（外部协作方）。
//
// 约束：
// - StartRecording 同步返回的 error 只表示“没能开始”
// - 录制结果只通过回调异步交付：onFinished(rawPath) 或 onError(reason)，每次录制最多一次
// - StopRecording 是 fire-and-forget：返回不代表产物已就绪
// - 回调可能来自任意 goroutine，也可能在 StartRecording/StopRecording 内同步触发
type Device interface {
	StartRecording(opts RecordingOptions, onFinished func(rawPath string), onError func(reason error)) error
	StopRecording() error
}
