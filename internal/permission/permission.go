package permission

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/John-Robertt/camtag/internal/infra/kvstore"
)

// Key 是 Config Store 中保存定位授权结果的 key。
const Key = "locationPermission"

const (
	Granted = "granted"
	Denied  = "denied"
)

// Prompter 是“向用户申请定位权限”的外部协作方（对话框 UI 不在本模块内）。
type Prompter interface {
	Prompt(ctx context.Context) (bool, error)
}

// Manager 管理定位权限：已授权直接放行，否则同步走一次 Prompter。
//
// 被拒绝的结果也会落库，但 Ensure 每次都会重新询问（重新授权由用户发起）。
type Manager struct {
	Store    kvstore.Store
	Prompter Prompter
}

// Granted 返回当前是否已授权。
func (m *Manager) Granted() (bool, error) {
	v, err := m.Store.Get(Key)
	if err != nil {
		return false, err
	}
	return v[Key] == Granted, nil
}

// Ensure 确保已授权：已授权直接返回 true；否则询问并持久化结果。
func (m *Manager) Ensure(ctx context.Context) (bool, error) {
	ok, err := m.Granted()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	if m.Prompter == nil {
		return false, nil
	}

	allowed, err := m.Prompter.Prompt(ctx)
	if err != nil {
		return false, err
	}
	state := Denied
	if allowed {
		state = Granted
	}
	if err := m.Store.Set(map[string]string{Key: state}); err != nil {
		return false, err
	}
	return allowed, nil
}

// Revoke 记录“权限已被撤销”（定位源报告权限拒绝时调用），下次 Start 会重新询问。
func (m *Manager) Revoke() error {
	return m.Store.Set(map[string]string{Key: Denied})
}

// Static 总是返回固定结果（非交互环境 / 测试）。
type Static bool

func (s Static) Prompt(context.Context) (bool, error) { return bool(s), nil }

// Terminal 在终端上询问 y/N。
type Terminal struct {
	In  io.Reader
	Out io.Writer
}

func (t Terminal) Prompt(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, err := fmt.Fprint(t.Out, "允许 camtag 读取当前位置用于视频标注？[y/N] "); err != nil {
		return false, err
	}
	line, err := bufio.NewReader(t.In).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
