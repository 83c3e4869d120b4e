package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/John-Robertt/camtag/internal/assetid"
	"github.com/John-Robertt/camtag/internal/capture"
	"github.com/John-Robertt/camtag/internal/config"
	"github.com/John-Robertt/camtag/internal/domain"
	"github.com/John-Robertt/camtag/internal/finalize"
	"github.com/John-Robertt/camtag/internal/gallery"
	"github.com/John-Robertt/camtag/internal/geo"
	"github.com/John-Robertt/camtag/internal/infra/fsx"
	"github.com/John-Robertt/camtag/internal/infra/httpx"
	"github.com/John-Robertt/camtag/internal/infra/kvstore"
	"github.com/John-Robertt/camtag/internal/logging"
	"github.com/John-Robertt/camtag/internal/metrics"
	"github.com/John-Robertt/camtag/internal/permission"
	"github.com/John-Robertt/camtag/internal/push"
	"github.com/John-Robertt/camtag/internal/retention"
	"github.com/John-Robertt/camtag/internal/settings"
)

// Error 是装配/启动阶段的结构化错误。
type Error struct {
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return fmt.Sprintf("%s：%v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code（也识别 config/finalize/capture 的错误）。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if c := config.Code(err); c != "" {
		return c
	}
	if c := finalize.Code(err); c != "" {
		return c
	}
	return capture.Code(err)
}

// App 持有按 EffectiveConfig 装配好的全部组件。
//
// 各组件之间只通过这里连线；组件本身不读配置文件、不读环境变量。
type App struct {
	Config config.EffectiveConfig
	Logger *zap.Logger

	Store     *kvstore.FileStore
	Gallery   *gallery.HTMLIndex
	Enricher  *geo.Enricher
	Finalizer *finalize.Finalizer
	Sweeper   *retention.Sweeper
	Notifier  push.Notifier

	closers []io.Closer
}

// Build 装配组件。失败时已打开的资源会被关闭。
func Build(eff config.EffectiveConfig, logger *zap.Logger) (*App, error) {
	log := logging.OrNop(logger)
	a := &App{
		Config:  eff,
		Logger:  log,
		Store:   kvstore.New(eff.StorePath, false),
		Gallery: gallery.NewHTMLIndex(eff.GalleryIndex),
	}

	positioner, err := newPositioner(eff)
	if err != nil {
		return nil, err
	}
	resolver, err := newResolver(eff)
	if err != nil {
		return nil, err
	}
	a.Enricher = &geo.Enricher{
		Positioner: positioner,
		Resolver:   resolver,
		Options: geo.PositionOptions{
			HighAccuracy: true,
			Timeout:      eff.Location.Timeout,
			MaxAge:       eff.Location.MaxAge,
		},
		Interval: eff.Location.PollInterval,
		Logger:   log.Named("geo"),
	}

	if eff.Push.NATSURL != "" {
		n, err := push.ConnectNATS(eff.Push.NATSURL, eff.Push.Subject, log.Named("push"))
		if err != nil {
			return nil, &Error{Code: domain.ErrCodePushFailed, Err: err}
		}
		a.Notifier = n
		a.closers = append(a.closers, n)
	} else {
		a.Notifier = push.LogNotifier{Logger: log.Named("push")}
	}

	a.Finalizer = &finalize.Finalizer{
		AssetDir:  eff.AssetDir,
		Allocator: assetid.NewAllocator(nil),
		Gallery:   a.Gallery,
		Store:     a.Store,
		Notifier:  a.Notifier,
		Logger:    log.Named("finalize"),
	}
	a.Sweeper = &retention.Sweeper{
		Logger:     log.Named("retention"),
		Unregister: a.Gallery.Remove,
	}
	return a, nil
}

func newPositioner(eff config.EffectiveConfig) (geo.Positioner, error) {
	switch eff.Location.Source {
	case "static":
		return geo.WithMaxAge(geo.Static{Latitude: eff.Location.Latitude, Longitude: eff.Location.Longitude}, nil), nil
	case "ip":
		c, err := httpx.NewClient(httpx.Options{
			ProxyURL: eff.Geocode.ProxyURL,
			Timeout:  eff.Location.Timeout,
		})
		if err != nil {
			return nil, &Error{Code: config.ErrCodeInvalid, Err: err}
		}
		return geo.WithMaxAge(geo.IP{URL: eff.Location.IPURL, Client: c}, nil), nil
	default:
		// none：没有定位来源，poll 降级为 sensor_unavailable。
		return nil, nil
	}
}

func newResolver(eff config.EffectiveConfig) (geo.AddressResolver, error) {
	if eff.Geocode.Provider == "none" {
		return nil, nil
	}
	c, err := httpx.NewClient(httpx.Options{
		ProxyURL:      eff.Geocode.ProxyURL,
		RatePerSecond: eff.Geocode.RatePerSecond,
		Burst:         eff.Geocode.Burst,
		Timeout:       eff.Geocode.Timeout,
	})
	if err != nil {
		return nil, &Error{Code: config.ErrCodeInvalid, Err: err}
	}

	gs := []geo.Geocoder{geo.Nominatim{BaseURL: eff.Geocode.NominatimBaseURL}}
	if eff.Geocode.APIKey != "" {
		gs = append(gs, geo.Google{BaseURL: eff.Geocode.GoogleBaseURL, APIKey: eff.Geocode.APIKey})
	}
	reg, err := geo.NewRegistry(gs...)
	if err != nil {
		return nil, err
	}
	return geo.Chain{Registry: reg, Requested: eff.Geocode.Provider, Client: c}, nil
}

// Settings 读取当前用户设置快照。
func (a *App) Settings() (domain.Settings, error) {
	return settings.Load(a.Store)
}

// Startup 是应用启动时的一次性流程：确保资产目录存在，再按设置执行一次 retention。
func (a *App) Startup(ctx context.Context) (domain.SweepReport, error) {
	if err := fsx.EnsureDir(a.Config.AssetDir); err != nil {
		return domain.NewSweepReport(a.Config.AssetDir, 0, time.Now()), &Error{Code: domain.ErrCodeDirectoryUnavailable, Err: err}
	}
	s, err := a.Settings()
	if err != nil {
		return domain.NewSweepReport(a.Config.AssetDir, 0, time.Now()), err
	}
	return a.Sweep(ctx, s.AutoDeleteDays)
}

// Sweep 以给定天数执行一次 retention。
func (a *App) Sweep(ctx context.Context, days int) (domain.SweepReport, error) {
	return a.Sweeper.Sweep(ctx, a.Config.AssetDir, days)
}

// Permissions 返回以 Config Store 持久化的定位权限管理器。
func (a *App) Permissions(p permission.Prompter) *permission.Manager {
	return &permission.Manager{Store: a.Store, Prompter: p}
}

// NewSession 创建绑定到 dev 的 capture session。
func (a *App) NewSession(ctx context.Context, dev capture.Device, obs capture.Observer, p permission.Prompter) (*capture.Session, error) {
	opt := capture.Options{
		Device:      dev,
		Finalizer:   a.Finalizer,
		Store:       a.Store,
		Tags:        a.Enricher,
		Observer:    obs,
		Logger:      a.Logger.Named("capture"),
		StatusClear: a.Config.StatusClear,
	}
	if p != nil {
		opt.Permissions = a.Permissions(p)
	}
	return capture.New(ctx, opt)
}

// RunBackground 启动定位轮询与周期 retention，直到 ctx 取消或 Close。
func (a *App) RunBackground(ctx context.Context, sess *capture.Session) {
	a.Enricher.Start(ctx, sess.PollPolicy, sess.HandlePoll)

	go a.Sweeper.Run(ctx, a.Config.AssetDir, a.Config.Retention.Interval, func() int {
		return sess.Settings().AutoDeleteDays
	}, nil)
}

// Close 停止后台循环，等待已发出的推送，关闭外部连接，并落盘指标。
func (a *App) Close() error {
	a.Enricher.Stop()
	a.Finalizer.Drain()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := metrics.WriteTextfile(a.Config.MetricsTextfile); err != nil {
		errs = append(errs, fmt.Errorf("写入指标文件失败：%w", err))
	}
	return errors.Join(errs...)
}
