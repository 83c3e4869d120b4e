package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/camtag/internal/capture"
	"github.com/John-Robertt/camtag/internal/config"
	"github.com/John-Robertt/camtag/internal/domain"
)

var _ capture.Observer = (*statusUI)(nil)

// statusUI 是 record 命令的终端输出。
//
// 所有输出写到 stderr，不污染 stdout；回调在 session 锁内触发，这里只做格式化与写出。
type statusUI struct {
	w   io.Writer
	now func() time.Time

	mu    sync.Mutex
	saved []domain.Asset
	// idle 在进入 Idle 时关闭，离开 Idle 时换成新的 channel。
	idle chan struct{}
}

func newStatusUI(w io.Writer) *statusUI {
	idle := make(chan struct{})
	close(idle)
	return &statusUI{w: w, now: time.Now, idle: idle}
}

// printHeader 打印生效配置与当前设置。
func (u *statusUI) printHeader(eff config.EffectiveConfig, s domain.Settings, spool string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	fmt.Fprintf(u.w, "[%s] camtag record\n", u.now().Format("15:04:05"))
	fmt.Fprintln(u.w, "配置（生效）:")
	fmt.Fprintf(u.w, "  asset_dir: %s\n", eff.AssetDir)
	fmt.Fprintf(u.w, "  spool: %s\n", spool)
	fmt.Fprintf(u.w, "  location: %s\n", locationSource(eff.Location))
	fmt.Fprintf(u.w, "  geocode: %s\n", geocodeChain(eff.Geocode))
	fmt.Fprintf(u.w, "  push: %s\n", pushTarget(eff.Push))
	fmt.Fprintln(u.w, "设置:")
	fmt.Fprintf(u.w, "  resolution: %s (%s)\n", s.Resolution, formatBitRate(s.Resolution.TargetBitRate()))
	fmt.Fprintf(u.w, "  %s\n", s.LocationBadge())
	fmt.Fprintf(u.w, "  auto_delete: %s\n", formatDays(s.AutoDeleteDays))
	fmt.Fprintln(u.w, "命令: r=开始 s=停止 f=切换镜头 i=状态 q=退出")
	fmt.Fprintln(u.w)
}

func (u *statusUI) OnState(s capture.State) {
	u.mu.Lock()
	defer u.mu.Unlock()
	fmt.Fprintf(u.w, "[%s] 状态: %s\n", u.now().Format("15:04:05"), s)

	select {
	case <-u.idle:
		if s != capture.Idle {
			u.idle = make(chan struct{})
		}
	default:
		if s == capture.Idle {
			close(u.idle)
		}
	}
}

// idleSignal 返回当前的 Idle 信号 channel。
// 调用方须先读 session 状态再取 channel：OnState 与状态变更在同一把锁内发生。
func (u *statusUI) idleSignal() <-chan struct{} {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.idle
}

func (u *statusUI) OnStatus(text string) {
	if text == "" {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	fmt.Fprintf(u.w, "[%s] %s\n", u.now().Format("15:04:05"), text)
}

func (u *statusUI) OnFinalized(a domain.Asset, rep domain.FinalizeReport, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if err != nil {
		fmt.Fprintf(u.w, "保存失败: %v\n", err)
		return
	}
	u.saved = append(u.saved, a)
	loc := "-"
	if a.Location != nil {
		loc = truncate(strings.ReplaceAll(a.Location.Text(), "\n", " | "), 120)
	}
	fmt.Fprintf(u.w, "已保存: %s resolution=%s location=%s%s\n", a.Path, a.Resolution, loc, degradedNote(rep))
}

// printSession 输出 session 的即时状态（i 命令）。
func (u *statusUI) printSession(sess *capture.Session) {
	st, facing, s, stamp, status := sess.State(), sess.Facing(), sess.Settings(), sess.Stamp(), sess.Status()
	started := sess.StartedAt()

	u.mu.Lock()
	defer u.mu.Unlock()
	fmt.Fprintf(u.w, "状态: %s facing=%s resolution=%s %s\n", st, facing, s.Resolution, s.LocationBadge())
	if !started.IsZero() {
		fmt.Fprintf(u.w, "  录制时长: %s\n", formatElapsed(u.now().Sub(started)))
	}
	if status != "" {
		fmt.Fprintf(u.w, "  提示: %s\n", status)
	}
	if stamp != "" {
		fmt.Fprintf(u.w, "  叠加层:\n    %s\n", strings.ReplaceAll(stamp, "\n", "\n    "))
	}
}

// savedCount 返回本次 record 已保存的资产数。
func (u *statusUI) savedCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.saved)
}

func degradedNote(rep domain.FinalizeReport) string {
	if !rep.Degraded() {
		return ""
	}
	var parts []string
	for _, r := range []domain.StepResult{rep.SourceCleanup, rep.Gallery, rep.Metadata} {
		if !r.OK {
			parts = append(parts, r.ErrorCode)
		}
	}
	return " degraded(" + strings.Join(parts, ",") + ")"
}

func locationSource(lc config.LocationConfig) string {
	switch lc.Source {
	case "static":
		return fmt.Sprintf("static (%.6f, %.6f)", lc.Latitude, lc.Longitude)
	case "ip":
		return "ip (" + truncate(lc.IPURL, 80) + ")"
	default:
		return "off"
	}
}

func geocodeChain(gc config.GeocodeConfig) string {
	switch gc.Provider {
	case "none":
		return "off"
	case "google":
		return "google -> nominatim"
	default:
		if gc.APIKey != "" {
			return "nominatim -> google"
		}
		return "nominatim"
	}
}

func pushTarget(pc config.PushConfig) string {
	if pc.NATSURL == "" {
		return "log"
	}
	return fmt.Sprintf("nats (%s, subject=%s)", truncate(pc.NATSURL, 80), pc.Subject)
}

func formatBitRate(bps int) string {
	return fmt.Sprintf("%d Mbps", bps/1_000_000)
}

func formatDays(n int) string {
	if n <= 0 {
		return "off"
	}
	return fmt.Sprintf("%d 天", n)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
