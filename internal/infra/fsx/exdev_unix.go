//go:build unix

package fsx

import (
	"errors"
	"syscall"
)

// isEXDEV 识别跨文件系统 rename/link 失败（*os.LinkError 可被 errors.Is 展开）。
func isEXDEV(err error) bool {
	return errors.Is(err, syscall.EXDEV)
}
