//go:build unix

package fsx

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
)

func TestCopyFileNoOverwrite_FallbackRenameEXDEV(t *testing.T) {
	src := filepath.Join(t.TempDir(), "raw.mp4")
	if err := os.WriteFile(src, []byte("x"), 0o600); err != nil {
		t.Fatalf("写入源文件失败：%v", err)
	}
	dir := t.TempDir()

	oldLink, oldRename := linkFunc, renameFunc
	linkFunc = func(oldname, newname string) error {
		return &os.LinkError{Op: "link", Old: oldname, New: newname, Err: syscall.EPERM}
	}
	renameFunc = func(oldpath, newpath string) error {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: syscall.EXDEV}
	}
	defer func() { linkFunc, renameFunc = oldLink, oldRename }()

	err := CopyFileNoOverwrite(src, dir, "VID_1.mp4")
	if !IsCrossDevice(err) {
		t.Fatalf("期望 CrossDeviceError，实际：%T %v", err, err)
	}
	assertNoTemp(t, dir, "VID_1.mp4")
	if ok, _ := Exists(filepath.Join(dir, "VID_1.mp4")); ok {
		t.Fatalf("失败后不应出现目标文件")
	}
}

func TestRename_PlainErrorIsNotCrossDevice(t *testing.T) {
	old := renameFunc
	renameFunc = func(oldpath, newpath string) error {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: syscall.EACCES}
	}
	defer func() { renameFunc = old }()

	err := Rename("/a", "/b")
	if err == nil || IsCrossDevice(err) {
		t.Fatalf("期望普通错误，实际：%T %v", err, err)
	}
}
