package geo

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/John-Robertt/camtag/internal/domain"
	"github.com/John-Robertt/camtag/internal/logging"
	"github.com/John-Robertt/camtag/internal/metrics"
)

// DefaultInterval 是周期 poll 的默认间隔。
const DefaultInterval = 15 * time.Second

// AddressResolver 把坐标解析成可读地址（Chain 是默认实现）。
type AddressResolver interface {
	Resolve(ctx context.Context, lat, lon float64) (string, error)
}

// Policy 是一次 poll 的开关：只有 Enabled 且 Permitted 时才会访问定位源。
type Policy struct {
	Enabled   bool
	Permitted bool
}

// Enricher 产出 best-effort 的位置标签。
//
// 约束：Poll 永不返回错误；最差情况下只带时间戳。
type Enricher struct {
	Positioner Positioner
	// Resolver 为 nil 表示不做逆地理编码（标签只有坐标，不算降级）。
	Resolver AddressResolver
	Options  PositionOptions
	Interval time.Duration
	Logger   *zap.Logger
	Now      func() time.Time

	tagMu  sync.Mutex
	latest *domain.LocationTag

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Poll 执行一次定位 + 逆地理编码。
func (e *Enricher) Poll(ctx context.Context, p Policy) domain.PollResult {
	log := logging.OrNop(e.Logger)
	res := domain.PollResult{At: e.now()}

	if !p.Enabled || !p.Permitted {
		metrics.PollTotal.WithLabelValues("disabled").Inc()
		return res
	}
	if e.Positioner == nil {
		res.Degraded = domain.ErrCodeSensorUnavailable
		metrics.PollTotal.WithLabelValues(res.Degraded).Inc()
		return res
	}

	opts := e.Options
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultPositionOptions().Timeout
	}
	pctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	pos, err := e.Positioner.Position(pctx, opts)
	timedOut := errors.Is(pctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	cancel()

	if err != nil {
		switch {
		case errors.Is(err, ErrPermissionDenied):
			res.Degraded = domain.ErrCodePermissionDenied
			res.PermissionRevoked = true
		case timedOut || errors.Is(err, context.DeadlineExceeded):
			res.Degraded = domain.ErrCodeSensorTimeout
		default:
			res.Degraded = domain.ErrCodeSensorUnavailable
		}
		log.Warn("定位失败，仅保留时间戳", zap.String("error_code", res.Degraded), zap.Error(err))
		metrics.PollTotal.WithLabelValues(res.Degraded).Inc()
		return res
	}

	tag := &domain.LocationTag{Latitude: pos.Latitude, Longitude: pos.Longitude}
	if e.Resolver != nil {
		addr, gerr := e.Resolver.Resolve(ctx, pos.Latitude, pos.Longitude)
		if gerr != nil {
			res.Degraded = domain.ErrCodeGeocodeUnavailable
			log.Warn("逆地理编码失败，降级为坐标", zap.String("error_code", res.Degraded), zap.Error(gerr))
		} else {
			tag.Address = addr
		}
	}
	tag.ResolvedAt = e.now()
	res.Tag = tag

	e.tagMu.Lock()
	e.latest = tag
	e.tagMu.Unlock()

	outcome := "tagged"
	if res.Degraded != "" {
		outcome = res.Degraded
	}
	metrics.PollTotal.WithLabelValues(outcome).Inc()
	return res
}

// LatestTag 返回最近一次成功定位的标签（没有则为 nil）。不会阻塞等待新的 poll。
func (e *Enricher) LatestTag() *domain.LocationTag {
	e.tagMu.Lock()
	defer e.tagMu.Unlock()
	return e.latest
}

// Start 启动周期 poll：立即 poll 一次，之后每 Interval 一次。
// 已有循环时先停止旧循环（同一 Enricher 任何时刻最多一个循环）。
//
// policy 在每次 poll 前调用，用于读取当前开关；onResult 可以为 nil，
// 它运行在循环 goroutine 上，不能回调 Start/Stop。
func (e *Enricher) Start(ctx context.Context, policy func() Policy, onResult func(domain.PollResult)) {
	e.loopMu.Lock()
	defer e.loopMu.Unlock()

	e.stopLocked()

	interval := e.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	lctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.cancel = cancel
	e.done = done

	go func() {
		defer close(done)

		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			r := e.Poll(lctx, policy())
			if lctx.Err() != nil {
				return
			}
			if onResult != nil {
				onResult(r)
			}
			select {
			case <-lctx.Done():
				return
			case <-t.C:
			}
		}
	}()
}

// Stop 取消周期 poll 并等待循环退出；未启动时是 no-op。
func (e *Enricher) Stop() {
	e.loopMu.Lock()
	defer e.loopMu.Unlock()
	e.stopLocked()
}

func (e *Enricher) stopLocked() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
	e.cancel = nil
	e.done = nil
}

func (e *Enricher) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}
