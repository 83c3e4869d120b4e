package capture

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/John-Robertt/camtag/internal/assetid"
	"github.com/John-Robertt/camtag/internal/infra/fsx"
	"github.com/John-Robertt/camtag/internal/logging"
)

// RequestFile 是 SpoolDevice 在录制期间写入 spool 目录的请求文件名。
// 外部录制进程看到它即开始录制，文件消失即停止。
const RequestFile = ".camtag-request.json"

const defaultSettle = 500 * time.Millisecond

var (
	// ErrBusy 表示上一次录制尚未交付结果。
	ErrBusy = errors.New("capture: 设备忙")
	// ErrNoOutput 表示停止后没有观察到任何录制产物。
	ErrNoOutput = errors.New("capture: 未产生录制文件")
)

// SpoolDevice 把“外部录制进程写入某个目录”适配为 Device。
//
// 录制期间监听 Dir，记录最后一个被创建或写入的 .mp4；StopRecording 后
// 等待 Settle 静默期（期间仍有写入则顺延），再把该文件作为原始产物交付。
type SpoolDevice struct {
	Dir    string
	Settle time.Duration
	Logger *zap.Logger

	mu     sync.Mutex
	active *spoolRun
}

type spoolRun struct {
	watcher    *fsnotify.Watcher
	stop       chan struct{}
	stopOnce   sync.Once
	onFinished func(string)
	onError    func(error)
}

func (d *SpoolDevice) StartRecording(opts RecordingOptions, onFinished func(rawPath string), onError func(reason error)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active != nil {
		return ErrBusy
	}

	dir := filepath.Clean(d.Dir)
	if err := fsx.EnsureDir(dir); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建 spool 监听失败：%w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("监听 spool 目录失败：%w", err)
	}

	b, err := json.MarshalIndent(opts, "", "  ")
	if err != nil {
		_ = w.Close()
		return err
	}
	if err := fsx.WriteFileAtomicReplace(dir, RequestFile, append(b, '\n')); err != nil {
		_ = w.Close()
		return fmt.Errorf("写入录制请求失败：%w", err)
	}

	r := &spoolRun{
		watcher:    w,
		stop:       make(chan struct{}),
		onFinished: onFinished,
		onError:    onError,
	}
	d.active = r
	go d.run(dir, r)
	return nil
}

func (d *SpoolDevice) StopRecording() error {
	d.mu.Lock()
	r := d.active
	d.mu.Unlock()
	if r == nil {
		return nil
	}
	r.stopOnce.Do(func() { close(r.stop) })

	err := os.Remove(filepath.Join(filepath.Clean(d.Dir), RequestFile))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (d *SpoolDevice) run(dir string, r *spoolRun) {
	log := logging.OrNop(d.Logger)
	defer r.watcher.Close()

	var (
		latest string
		timer  *time.Timer
		settle <-chan time.Time
		stop   = r.stop
		errs   = r.watcher.Errors
	)
	finish := func(raw string, err error) {
		if timer != nil {
			timer.Stop()
		}
		d.mu.Lock()
		if d.active == r {
			d.active = nil
		}
		d.mu.Unlock()
		_ = os.Remove(filepath.Join(dir, RequestFile))
		if err != nil {
			r.onError(err)
			return
		}
		r.onFinished(raw)
	}

	for {
		select {
		case ev, ok := <-r.watcher.Events:
			if !ok {
				finish("", errors.New("spool 监听已关闭"))
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !isSpoolOutput(ev.Name) {
				continue
			}
			latest = ev.Name
			if timer != nil {
				timer.Reset(d.settle())
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Error("spool 监听出错", zap.String("dir", dir), zap.Error(err))
			finish("", err)
			return
		case <-stop:
			stop = nil
			timer = time.NewTimer(d.settle())
			settle = timer.C
		case <-settle:
			if latest == "" {
				finish("", ErrNoOutput)
				return
			}
			log.Debug("spool 录制产物就绪", zap.String("raw", latest))
			finish(latest, nil)
			return
		}
	}
}

func (d *SpoolDevice) settle() time.Duration {
	if d.Settle <= 0 {
		return defaultSettle
	}
	return d.Settle
}

func isSpoolOutput(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return assetid.IsAssetFile(base)
}
