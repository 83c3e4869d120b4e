package capture

import "github.com/John-Robertt/camtag/internal/domain"

// Observer 用于把“状态/提示文案/保存结果”从 Session 中解耦出来（CLI 负责展示）。
//
// 约束：
// - 回调在 Session 内部锁内触发，实现不能回调 Session 的方法
// - 实现必须并发安全：事件可能来自设备回调、定时器等多个 goroutine
type Observer interface {
	// OnState 在状态变化时调用。
	OnState(s State)
	// OnStatus 在提示文案变化时调用；text 为空表示提示已自动清除。
	OnStatus(text string)
	// OnFinalized 在一次 finalize 结束时调用（err 非空表示致命失败，a/rep 为零值）。
	OnFinalized(a domain.Asset, rep domain.FinalizeReport, err error)
}

// NopObserver 丢弃所有事件。
type NopObserver struct{}

func (NopObserver) OnState(State)                                          {}
func (NopObserver) OnStatus(string)                                        {}
func (NopObserver) OnFinalized(domain.Asset, domain.FinalizeReport, error) {}
