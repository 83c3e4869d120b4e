package finalize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/John-Robertt/camtag/internal/assetid"
	"github.com/John-Robertt/camtag/internal/domain"
	"github.com/John-Robertt/camtag/internal/gallery"
	"github.com/John-Robertt/camtag/internal/infra/fsx"
	"github.com/John-Robertt/camtag/internal/infra/kvstore"
	"github.com/John-Robertt/camtag/internal/logging"
	"github.com/John-Robertt/camtag/internal/metrics"
	"github.com/John-Robertt/camtag/internal/push"
)

// LastSavedKey 记录最近一次保存的资产路径。
const LastSavedKey = "lastSavedVideo"

const (
	// maxIDAttempts 是目标文件已存在时顺延 id 的最大次数。
	maxIDAttempts = 16
	pushTimeout   = 10 * time.Second
)

// 通过可替换的函数指针，让测试能稳定模拟源文件删除失败。
var removeFunc = os.Remove

// Error 是 finalize 致命阶段（步骤 1-3）的结构化错误。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s：%q：%v", e.Code, e.Path, e.Err)
	}
	return fmt.Sprintf("%s：%q", e.Code, e.Path)
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

// Finalizer 把临时录制产物变成规范资产目录下的持久资产。
//
// 步骤与失败策略：
// 1) 源文件存在性检查      -> source_missing（致命）
// 2) 确保资产目录存在      -> directory_unavailable（致命）
// 3) 复制到 VID_<ms>.mp4   -> copy_failed（致命）
// 4) 删除源文件            -> source_cleanup_failed（软失败）
// 5) 登记图库              -> gallery_unavailable（软失败，状态降级为 Saved to app only）
// 6) 写元数据记录          -> metadata_failed（软失败）
// 7) 推送通知              -> push_failed（fire-and-forget，只记日志）
//
// 4/5 在 3 之后并发执行，6 在调用方 goroutine 中与它们同时进行；返回前等待 4/5/6。
type Finalizer struct {
	AssetDir  string
	Allocator *assetid.Allocator
	Gallery   gallery.Registrar
	Store     kvstore.Store
	Notifier  push.Notifier
	Logger    *zap.Logger

	pushWG sync.WaitGroup
}

// Finalize 执行完整流程。只有步骤 1-3 失败时返回 error（*Error）；
// 之后的任何失败只体现在 FinalizeReport 里，不影响返回的 Asset。
func (f *Finalizer) Finalize(ctx context.Context, rawPath string, s domain.Settings, tag *domain.LocationTag) (domain.Asset, domain.FinalizeReport, error) {
	log := logging.OrNop(f.Logger)

	a, err := f.commit(rawPath, s, tag)
	if err != nil {
		code := Code(err)
		metrics.FinalizeTotal.WithLabelValues(code).Inc()
		log.Error("保存视频失败", zap.String("error_code", code), zap.String("raw", rawPath), zap.Error(err))
		return domain.Asset{}, domain.FinalizeReport{}, err
	}
	log = log.With(zap.String("asset_id", a.ID))

	rep := domain.FinalizeReport{AssetID: a.ID}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		rep.SourceCleanup = f.cleanupSource(rawPath)
	}()
	go func() {
		defer wg.Done()
		rep.Gallery = f.registerGallery(ctx, a)
	}()
	rep.Metadata = f.writeMetadata(a)
	wg.Wait()

	a.GalleryRegistered = rep.Gallery.OK
	for _, st := range []struct {
		name string
		r    domain.StepResult
	}{
		{"source_cleanup", rep.SourceCleanup},
		{"gallery", rep.Gallery},
		{"metadata", rep.Metadata},
	} {
		if st.r.OK {
			continue
		}
		metrics.SoftFailuresTotal.WithLabelValues(st.name).Inc()
		log.Warn("finalize 步骤降级", zap.String("step", st.name), zap.String("error_code", st.r.ErrorCode), zap.String("error_msg", st.r.ErrorMsg))
	}

	f.notify(ctx, a, log)

	metrics.FinalizeTotal.WithLabelValues("ok").Inc()
	log.Info("资产已保存", zap.String("path", a.Path), zap.Bool("gallery", a.GalleryRegistered), zap.Bool("location", a.Location != nil))
	return a, rep, nil
}

// Drain 等待所有已发出的推送结束（进程退出前调用）。
func (f *Finalizer) Drain() {
	f.pushWG.Wait()
}

// commit 执行致命阶段（步骤 1-3）。
func (f *Finalizer) commit(rawPath string, s domain.Settings, tag *domain.LocationTag) (domain.Asset, error) {
	rawPath = strings.TrimSpace(rawPath)
	if rawPath == "" {
		return domain.Asset{}, &Error{Code: domain.ErrCodeSourceMissing, Path: rawPath, Err: os.ErrNotExist}
	}
	ok, err := fsx.Exists(rawPath)
	if err != nil {
		return domain.Asset{}, &Error{Code: domain.ErrCodeSourceMissing, Path: rawPath, Err: err}
	}
	if !ok {
		return domain.Asset{}, &Error{Code: domain.ErrCodeSourceMissing, Path: rawPath, Err: os.ErrNotExist}
	}

	dir, err := filepath.Abs(strings.TrimSpace(f.AssetDir))
	if err != nil || strings.TrimSpace(f.AssetDir) == "" {
		if err == nil {
			err = errors.New("资产目录未配置")
		}
		return domain.Asset{}, &Error{Code: domain.ErrCodeDirectoryUnavailable, Path: f.AssetDir, Err: err}
	}
	if err := fsx.EnsureDir(dir); err != nil {
		return domain.Asset{}, &Error{Code: domain.ErrCodeDirectoryUnavailable, Path: dir, Err: err}
	}

	alloc := f.Allocator
	if alloc == nil {
		return domain.Asset{}, &Error{Code: domain.ErrCodeCopyFailed, Path: rawPath, Err: errors.New("id 分配器未配置")}
	}

	id, at := alloc.Next()
	for attempt := 0; ; attempt++ {
		name := assetid.FileName(id)
		err := fsx.CopyFileNoOverwrite(rawPath, dir, name)
		if err == nil {
			a := domain.Asset{
				ID:         id,
				Path:       filepath.Join(dir, name),
				Resolution: s.Resolution,
				CreatedAt:  at,
			}
			if s.LocationEnabled && tag != nil {
				t := *tag
				a.Location = &t
			}
			return a, nil
		}
		if !errors.Is(err, os.ErrExist) || attempt+1 >= maxIDAttempts {
			return domain.Asset{}, &Error{Code: domain.ErrCodeCopyFailed, Path: filepath.Join(dir, name), Err: err}
		}
		id, at = alloc.Bump()
	}
}

func (f *Finalizer) cleanupSource(rawPath string) domain.StepResult {
	if err := removeFunc(rawPath); err != nil && !os.IsNotExist(err) {
		return domain.Failed(domain.ErrCodeSourceCleanupFailed, err)
	}
	return domain.Succeeded()
}

func (f *Finalizer) registerGallery(ctx context.Context, a domain.Asset) domain.StepResult {
	if f.Gallery == nil {
		return domain.Failed(domain.ErrCodeGalleryUnavailable, errors.New("未配置图库"))
	}
	if err := f.Gallery.Register(ctx, a); err != nil {
		return domain.Failed(domain.ErrCodeGalleryUnavailable, err)
	}
	return domain.Succeeded()
}

func (f *Finalizer) writeMetadata(a domain.Asset) domain.StepResult {
	if f.Store == nil {
		return domain.Failed(domain.ErrCodeMetadataFailed, errors.New("未配置 Config Store"))
	}
	b, err := json.Marshal(a.Record())
	if err != nil {
		return domain.Failed(domain.ErrCodeMetadataFailed, err)
	}
	if err := f.Store.Set(map[string]string{
		assetid.RecordKey(a.ID): string(b),
		LastSavedKey:            a.Path,
	}); err != nil {
		return domain.Failed(domain.ErrCodeMetadataFailed, err)
	}
	return domain.Succeeded()
}

// notify 发出推送后立即返回；推送使用与调用方解耦的 ctx（调用方取消不应打断已发出的通知）。
func (f *Finalizer) notify(ctx context.Context, a domain.Asset, log *zap.Logger) {
	if f.Notifier == nil {
		return
	}
	f.pushWG.Add(1)
	go func() {
		defer f.pushWG.Done()
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
		defer cancel()
		if err := f.Notifier.Notify(pctx, a); err != nil {
			metrics.SoftFailuresTotal.WithLabelValues("push").Inc()
			log.Warn("推送失败", zap.String("error_code", domain.ErrCodePushFailed), zap.Error(err))
		}
	}()
}
