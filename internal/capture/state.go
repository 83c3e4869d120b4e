package capture

// State 是 capture session 的状态。循环状态机，没有终态。
type State int

const (
	Idle State = iota
	Recording
	Finalizing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Finalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// Facing 是摄像头朝向。
type Facing string

const (
	FacingBack  Facing = "back"
	FacingFront Facing = "front"
)

// Toggle 返回另一个朝向。
func (f Facing) Toggle() Facing {
	if f == FacingFront {
		return FacingBack
	}
	return FacingFront
}

// Event 是驱动状态机的显式事件；设备回调只作为事件进入 Next。
type Event int

const (
	EvStartRequested Event = iota
	EvStartFailed
	EvStopRequested
	EvDeviceFinished
	EvDeviceError
	EvFinalizeDone
)

func (e Event) String() string {
	switch e {
	case EvStartRequested:
		return "start_requested"
	case EvStartFailed:
		return "start_failed"
	case EvStopRequested:
		return "stop_requested"
	case EvDeviceFinished:
		return "device_finished"
	case EvDeviceError:
		return "device_error"
	case EvFinalizeDone:
		return "finalize_done"
	default:
		return "unknown"
	}
}

type transition struct {
	from State
	ev   Event
}

var table = map[transition]State{
	{Idle, EvStartRequested}: Recording,

	{Recording, EvStartFailed}:    Idle,
	{Recording, EvStopRequested}:  Finalizing,
	{Recording, EvDeviceFinished}: Finalizing,
	{Recording, EvDeviceError}:    Idle,

	// stop 之后设备才真正交付产物（或报错）。
	{Finalizing, EvDeviceFinished}: Finalizing,
	{Finalizing, EvDeviceError}:    Idle,
	{Finalizing, EvFinalizeDone}:   Idle,
}

// Next 是纯转移函数：返回下一个状态，以及该事件在当前状态下是否合法。
// 非法事件不改变状态。
func Next(s State, ev Event) (State, bool) {
	n, ok := table[transition{s, ev}]
	if !ok {
		return s, false
	}
	return n, true
}
