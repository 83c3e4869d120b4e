package assetid

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Ext 是资产目录中唯一识别的扩展名（比较时大小写不敏感）。
const Ext = ".mp4"

const (
	filePrefix = "VID_"
	keyPrefix  = "video_"
)

var nameRE = regexp.MustCompile(`(?i)^VID_([0-9]{1,19})\.mp4$`)

// FileName 返回 id 对应的规范文件名：VID_<id>.mp4。
func FileName(id string) string { return filePrefix + id + Ext }

// RecordKey 返回 id 对应的元数据 key：video_<id>。
func RecordKey(id string) string { return keyPrefix + id }

// IsAssetFile 判断文件名是否带资产扩展名（sweep 的过滤条件，不要求 VID_ 前缀）。
func IsAssetFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), Ext)
}

// FromFileName 从文件名推导 asset id。
//
// - VID_<ms>.mp4：返回 <ms>
// - 其它 .mp4：返回去掉扩展名的文件名（历史遗留/手工放入的文件也要能被 sweep 报告）
func FromFileName(name string) string {
	base := filepath.Base(name)
	if m := nameRE.FindStringSubmatch(base); m != nil {
		return m[1]
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Parse 严格解析 VID_<ms>.mp4，返回捕获时间。
func Parse(name string) (id string, at time.Time, ok bool) {
	m := nameRE.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return "", time.Time{}, false
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return m[1], time.UnixMilli(ms), true
}

// Allocator 按捕获时间（epoch 毫秒）分配单调递增的 id。
//
// 同一毫秒（或时钟回拨）内的第二次分配会顺延到 last+1，
// 因此同一进程内不会产生重复 id；跨进程的冲突由调用方在“目标已存在”时调用 Bump 处理。
type Allocator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewAllocator 返回使用 now 作为时钟的分配器；now 为 nil 时使用 time.Now。
func NewAllocator(now func() time.Time) *Allocator {
	if now == nil {
		now = time.Now
	}
	return &Allocator{now: now}
}

// Next 分配下一个 id，并返回与之对应的时间（毫秒精度）。
func (a *Allocator) Next() (string, time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ms := a.now().UnixMilli()
	if ms <= a.last {
		ms = a.last + 1
	}
	a.last = ms
	return strconv.FormatInt(ms, 10), time.UnixMilli(ms)
}

// Bump 在目标文件已存在时调用：返回 last+1（不再读时钟）。
func (a *Allocator) Bump() (string, time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.last++
	return strconv.FormatInt(a.last, 10), time.UnixMilli(a.last)
}
