package retention

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/John-Robertt/camtag/internal/assetid"
	"github.com/John-Robertt/camtag/internal/domain"
	"github.com/John-Robertt/camtag/internal/logging"
	"github.com/John-Robertt/camtag/internal/metrics"
)

const day = 24 * time.Hour

// 通过可替换的函数指针，让测试能稳定模拟单个条目删除失败。
var removeFunc = os.Remove

// ListAssets 列出 dir 下（不递归）的资产文件。
//
// 规则（硬约束）：
// - 只看普通文件（目录、符号链接、设备文件都跳过）
// - 只看 .mp4（大小写不敏感）
// - 只做 stat，不读内容
func ListAssets(dir string) ([]domain.AssetFile, error) {
	dir = filepath.Clean(dir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	files := make([]domain.AssetFile, 0, len(entries))
	for _, d := range entries {
		if !d.Type().IsRegular() || !assetid.IsAssetFile(d.Name()) {
			continue
		}
		info, err := d.Info()
		if err != nil {
			// 列目录与 stat 之间被删掉：视为不存在。
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		files = append(files, domain.AssetFile{
			ID:      assetid.FromFileName(d.Name()),
			Name:    d.Name(),
			Path:    filepath.Join(dir, d.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	// 强制稳定输出，避免不同文件系统的目录顺序差异。
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Sweeper 删除资产目录中超龄的文件。
type Sweeper struct {
	Logger *zap.Logger
	Now    func() time.Time
	// Unregister 在删除完成后以被删文件名调用（例如从图库索引中摘除）；失败只记日志。
	Unregister func(names ...string) error
}

// Sweep 执行一次 retention。
//
// - maxAgeDays <= 0：直接返回空报告，不列目录
// - 目录不存在：返回空报告
// - 年龄严格大于 maxAgeDays*24h 的文件被删除；恰好相等的保留
// - 单个条目删除失败记为 delete_failed，继续处理其余条目
//
// 只有列目录失败（或 ctx 取消）才返回 error；返回的报告总是已 Finalize。
func (s *Sweeper) Sweep(ctx context.Context, dir string, maxAgeDays int) (rep domain.SweepReport, err error) {
	log := logging.OrNop(s.Logger)
	now := s.now()
	rep = domain.NewSweepReport(filepath.Clean(dir), maxAgeDays, now)
	defer func() {
		rep.FinishedAt = s.now()
		rep.Finalize()
	}()

	if maxAgeDays <= 0 {
		return rep, nil
	}

	files, lerr := ListAssets(dir)
	if lerr != nil {
		if os.IsNotExist(lerr) {
			return rep, nil
		}
		return rep, lerr
	}
	rep.Scanned = len(files)

	limit := time.Duration(maxAgeDays) * day
	var removed []string
	defer func() {
		if len(removed) == 0 || s.Unregister == nil {
			return
		}
		if uerr := s.Unregister(removed...); uerr != nil {
			log.Warn("从图库摘除已删除资产失败", zap.String("error_code", domain.ErrCodeGalleryUnavailable), zap.Error(uerr))
		}
	}()
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if now.Sub(f.ModTime) <= limit {
			continue
		}
		if err := removeFunc(f.Path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			rep.Failed = append(rep.Failed, domain.SweepFailure{
				AssetID:   f.ID,
				Path:      f.Path,
				ErrorCode: domain.ErrCodeDeleteFailed,
				ErrorMsg:  err.Error(),
			})
			metrics.SweepFailedTotal.Inc()
			log.Warn("删除超龄资产失败", zap.String("asset_id", f.ID), zap.String("error_code", domain.ErrCodeDeleteFailed), zap.Error(err))
			continue
		}
		rep.Deleted = append(rep.Deleted, f.ID)
		removed = append(removed, filepath.Base(f.Path))
		metrics.SweepDeletedTotal.Inc()
	}

	log.Info("retention 完成",
		zap.String("dir", rep.Dir),
		zap.Int("max_age_days", maxAgeDays),
		zap.Int("scanned", rep.Scanned),
		zap.Int("deleted", len(rep.Deleted)),
		zap.Int("failed", len(rep.Failed)),
	)
	return rep, nil
}

// Run 以 interval 周期性 sweep，直到 ctx 取消；interval<=0 时立即返回。
//
// 首次 sweep 在一个 interval 之后（启动时的那一次由调用方负责）。
// days 在每次 sweep 前调用，以便读取最新设置。
func (s *Sweeper) Run(ctx context.Context, dir string, interval time.Duration, days func() int, onReport func(domain.SweepReport)) {
	if interval <= 0 {
		return
	}
	log := logging.OrNop(s.Logger)

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		rep, err := s.Sweep(ctx, dir, days())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("周期 retention 失败", zap.Error(err))
			continue
		}
		if onReport != nil {
			onReport(rep)
		}
	}
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
