package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/John-Robertt/camtag/internal/domain"
	"github.com/John-Robertt/camtag/internal/geo"
	"github.com/John-Robertt/camtag/internal/infra/kvstore"
	"github.com/John-Robertt/camtag/internal/logging"
	"github.com/John-Robertt/camtag/internal/settings"
)

// DefaultStatusClear 是终态提示文案的自动清除延迟。
const DefaultStatusClear = 1500 * time.Millisecond

// ErrCodeInvalidTransition 表示事件在当前状态下不合法（例如录制中切换镜头）。
const ErrCodeInvalidTransition = "invalid_transition"

// Error 是 session 操作的结构化错误（带 error_code）。
type Error struct {
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s：%v", e.Code, e.Err)
	}
	return e.Code
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

// Finalizer 是 Session 依赖的 finalize 能力（finalize.Finalizer 满足该接口）。
type Finalizer interface {
	Finalize(ctx context.Context, rawPath string, s domain.Settings, tag *domain.LocationTag) (domain.Asset, domain.FinalizeReport, error)
}

// TagSource 提供“最近一次成功定位”的标签（geo.Enricher 满足该接口）。
type TagSource interface {
	LatestTag() *domain.LocationTag
}

// Permissions 是定位权限子流程（permission.Manager 满足该接口）。
type Permissions interface {
	Granted() (bool, error)
	Ensure(ctx context.Context) (bool, error)
	Revoke() error
}

// Options 是构造 Session 的依赖。Device/Finalizer/Store 必填。
type Options struct {
	Device      Device
	Finalizer   Finalizer
	Store       kvstore.Store
	Tags        TagSource
	Permissions Permissions
	Observer    Observer
	Logger      *zap.Logger
	StatusClear time.Duration
	Now         func() time.Time
}

// Session 是一个屏幕生命周期内唯一的 capture 状态机。
//
// 状态只通过 Next 转移；设备回调可能来自任意 goroutine，统一在 mu 下串行处理。
// finalize 在独立 goroutine 中运行，结束（无论成败）后总是回到 Idle。
type Session struct {
	id  string
	opt Options
	log *zap.Logger

	mu        sync.Mutex
	state     State
	facing    Facing
	startedAt time.Time
	settings  domain.Settings
	closed    bool

	// recSeq 标识当前录制；旧录制迟到的回调会被忽略。
	recSeq uint64
	// awaiting 表示已 stop、正在等待设备交付产物。
	awaiting bool

	status     string
	statusGen  uint64
	clearTimer *time.Timer
	stamp      string

	// ctx 是 finalize 使用的基础 ctx；Close 不取消它（进行中的 finalize 要跑完）。
	ctx context.Context
	wg  sync.WaitGroup
}

// New 创建 Session 并读取一次设置快照。
func New(ctx context.Context, opt Options) (*Session, error) {
	if opt.Device == nil || opt.Finalizer == nil || opt.Store == nil {
		return nil, errors.New("capture: Device/Finalizer/Store 不能为空")
	}
	if opt.Observer == nil {
		opt.Observer = NopObserver{}
	}
	if opt.StatusClear == 0 {
		opt.StatusClear = DefaultStatusClear
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}

	snap, err := settings.Load(opt.Store)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	return &Session{
		id:       id,
		opt:      opt,
		log:      logging.OrNop(opt.Logger).With(zap.String("session_id", id)),
		state:    Idle,
		facing:   FacingBack,
		settings: snap,
		ctx:      context.WithoutCancel(ctx),
	}, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Facing() Facing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.facing
}

// Status 返回当前提示文案（已自动清除时为空）。
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Settings 返回当前设置快照。
func (s *Session) Settings() domain.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// StartedAt 返回当前录制的开始时间（不在录制时为零值）。
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Stamp 返回最近一次 poll 的叠加层文本。
func (s *Session) Stamp() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stamp
}

// RefreshSettings 重新读取设置快照（focus/resume 时调用）。
// 录制中刷新只影响下一次录制。
func (s *Session) RefreshSettings() (domain.Settings, error) {
	snap, err := settings.Load(s.opt.Store)
	if err != nil {
		return domain.Settings{}, err
	}
	s.mu.Lock()
	s.settings = snap
	s.mu.Unlock()
	return snap, nil
}

// PollPolicy 返回 Enricher 当前应使用的开关（给 geo.Enricher.Start 的 policy 回调）。
func (s *Session) PollPolicy() geo.Policy {
	snap := s.Settings()
	p := geo.Policy{Enabled: snap.LocationEnabled}
	if !p.Enabled {
		return p
	}
	if s.opt.Permissions == nil {
		p.Permitted = true
		return p
	}
	ok, err := s.opt.Permissions.Granted()
	if err != nil {
		s.log.Warn("读取定位权限失败", zap.Error(err))
	}
	p.Permitted = ok
	return p
}

// HandlePoll 消费 Enricher 的 poll 结果：更新叠加层文本；权限被撤销时记录下来，下次 Start 重新申请。
func (s *Session) HandlePoll(r domain.PollResult) {
	s.mu.Lock()
	s.stamp = r.Stamp()
	s.mu.Unlock()

	if r.PermissionRevoked && s.opt.Permissions != nil {
		if err := s.opt.Permissions.Revoke(); err != nil {
			s.log.Warn("记录权限撤销失败", zap.Error(err))
		}
	}
}

// Start 请求开始录制（只允许在 Idle）。
//
// 设置要求定位但尚未授权时，先同步走权限子流程；被拒绝则保持 Idle，
// 返回 permission_denied 并提示 "Location permission required"。
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return &Error{Code: ErrCodeInvalidTransition, Err: errors.New("session 已关闭")}
	}
	if _, ok := Next(s.state, EvStartRequested); !ok {
		st := s.state
		s.mu.Unlock()
		return &Error{Code: ErrCodeInvalidTransition, Err: fmt.Errorf("状态 %s 下不能开始录制", st)}
	}

	needPermission := s.settings.LocationEnabled && s.opt.Permissions != nil
	s.mu.Unlock()

	// 权限子流程可能阻塞在用户交互上，不持锁。
	if needPermission {
		if err := s.ensurePermission(ctx); err != nil {
			s.mu.Lock()
			s.setStatusLocked(domain.StatusPermission)
			s.mu.Unlock()
			s.log.Warn("定位权限未授予，保持空闲", zap.String("error_code", domain.ErrCodePermissionDenied), zap.Error(err))
			return err
		}
	}

	s.mu.Lock()
	if _, ok := Next(s.state, EvStartRequested); !ok || s.closed {
		st := s.state
		s.mu.Unlock()
		return &Error{Code: ErrCodeInvalidTransition, Err: fmt.Errorf("状态 %s 下不能开始录制", st)}
	}
	snap := s.settings
	s.recSeq++
	seq := s.recSeq
	s.transitionLocked(EvStartRequested)
	s.startedAt = s.opt.Now()
	s.setStatusLocked(domain.StatusRecording)
	opts := OptionsFor(snap, s.facing)
	s.mu.Unlock()

	s.log.Info("开始录制", zap.String("resolution", string(opts.Resolution)), zap.Int("bit_rate", opts.BitRate), zap.String("facing", string(opts.Facing)))

	err := s.opt.Device.StartRecording(opts,
		func(raw string) { s.onFinished(seq, raw) },
		func(reason error) { s.onError(seq, reason) },
	)
	if err != nil {
		s.mu.Lock()
		if s.recSeq == seq && s.state == Recording {
			s.transitionLocked(EvStartFailed)
			s.startedAt = time.Time{}
			s.setStatusLocked(domain.StatusStartError)
		}
		s.mu.Unlock()
		s.log.Error("启动录制失败", zap.Error(err))
		return err
	}
	return nil
}

func (s *Session) ensurePermission(ctx context.Context) error {
	ok, err := s.opt.Permissions.Ensure(ctx)
	if err != nil {
		return &Error{Code: domain.ErrCodePermissionDenied, Err: err}
	}
	if !ok {
		return &Error{Code: domain.ErrCodePermissionDenied, Err: errors.New("用户拒绝了定位权限")}
	}
	return nil
}

// Stop 请求停止录制：Recording -> Finalizing。
// 真正的完成通过设备回调到达，Stop 返回时产物未必就绪。
func (s *Session) Stop() error {
	s.mu.Lock()
	if _, ok := Next(s.state, EvStopRequested); !ok {
		st := s.state
		s.mu.Unlock()
		return &Error{Code: ErrCodeInvalidTransition, Err: fmt.Errorf("状态 %s 下不能停止录制", st)}
	}
	seq := s.recSeq
	s.transitionLocked(EvStopRequested)
	s.awaiting = true
	s.setStatusLocked(domain.StatusProcessing)
	s.mu.Unlock()

	if err := s.opt.Device.StopRecording(); err != nil {
		s.onError(seq, fmt.Errorf("停止录制失败：%w", err))
	}
	return nil
}

// SwitchDevice 切换前后摄像头；只允许在 Idle。
func (s *Session) SwitchDevice() (Facing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return s.facing, &Error{Code: ErrCodeInvalidTransition, Err: fmt.Errorf("状态 %s 下不能切换镜头", s.state)}
	}
	s.facing = s.facing.Toggle()
	return s.facing, nil
}

// Close 停止提示定时器，并等待进行中的 finalize 结束。之后到达的设备回调被忽略。
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	if s.clearTimer != nil {
		s.clearTimer.Stop()
		s.clearTimer = nil
	}
	s.statusGen++
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Session) onFinished(seq uint64, raw string) {
	s.mu.Lock()
	if seq != s.recSeq {
		s.mu.Unlock()
		s.log.Warn("忽略过期的录制完成回调", zap.String("raw", raw))
		return
	}
	if s.closed {
		s.mu.Unlock()
		s.log.Warn("session 已关闭，忽略录制完成回调", zap.String("raw", raw))
		return
	}
	// Recording 中设备自行结束，或 stop 之后等待到的产物；其余情况（重复回调）忽略。
	if s.state == Finalizing && !s.awaiting {
		s.mu.Unlock()
		return
	}
	if !s.transitionLocked(EvDeviceFinished) {
		s.mu.Unlock()
		return
	}
	s.awaiting = false
	s.setStatusLocked(domain.StatusProcessing)

	snap := s.settings
	var tag *domain.LocationTag
	if snap.LocationEnabled && s.opt.Tags != nil {
		tag = s.opt.Tags.LatestTag()
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go s.finalize(seq, raw, snap, tag)
}

func (s *Session) finalize(seq uint64, raw string, snap domain.Settings, tag *domain.LocationTag) {
	defer s.wg.Done()

	a, rep, err := s.opt.Finalizer.Finalize(s.ctx, raw, snap, tag)

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq == s.recSeq {
		s.transitionLocked(EvFinalizeDone)
		s.startedAt = time.Time{}
	}
	if err != nil {
		s.setStatusLocked(domain.StatusSaveError)
	} else {
		s.setStatusLocked(rep.UserStatus())
	}
	s.opt.Observer.OnFinalized(a, rep, err)
}

func (s *Session) onError(seq uint64, reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.recSeq || s.closed {
		return
	}
	if s.state == Finalizing && !s.awaiting {
		return
	}
	if !s.transitionLocked(EvDeviceError) {
		return
	}
	s.awaiting = false
	s.startedAt = time.Time{}
	s.setStatusLocked(domain.StatusRecordingFailed)
	s.log.Error("录制失败", zap.Error(reason))
}

func (s *Session) transitionLocked(ev Event) bool {
	n, ok := Next(s.state, ev)
	if !ok {
		return false
	}
	if n != s.state {
		s.state = n
		s.opt.Observer.OnState(n)
	}
	return true
}

// setStatusLocked 更新提示文案；终态文案在 StatusClear 后由定时回调清除。
// 新文案会使旧的清除回调失效（按代数比较，不依赖 Timer.Stop 的返回值）。
func (s *Session) setStatusLocked(text string) {
	s.statusGen++
	if s.clearTimer != nil {
		s.clearTimer.Stop()
		s.clearTimer = nil
	}
	s.status = text
	s.opt.Observer.OnStatus(text)

	if !autoClears(text) || s.opt.StatusClear < 0 || s.closed {
		return
	}
	gen := s.statusGen
	s.clearTimer = time.AfterFunc(s.opt.StatusClear, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.statusGen != gen {
			return
		}
		s.status = ""
		s.clearTimer = nil
		s.opt.Observer.OnStatus("")
	})
}

func autoClears(text string) bool {
	switch text {
	case "", domain.StatusRecording, domain.StatusProcessing:
		return false
	default:
		return true
	}
}
