package domain

import (
	"sort"
	"time"
)

// StepResult 记录 finalize 中某个 best-effort 步骤的结果。
type StepResult struct {
	OK        bool   `json:"ok"`
	ErrorCode string `json:"error_code,omitempty"`
	ErrorMsg  string `json:"error_msg,omitempty"`
}

// Failed 构造一个失败的步骤结果。
func Failed(code string, err error) StepResult {
	r := StepResult{OK: false, ErrorCode: code}
	if err != nil {
		r.ErrorMsg = err.Error()
	}
	return r
}

// Succeeded 构造一个成功的步骤结果。
func Succeeded() StepResult { return StepResult{OK: true} }

// FinalizeReport 是 finalize 的旁路报告：只记录步骤 4/5/6 的降级情况。
// 步骤 7（push）是 fire-and-forget，结果不会回写到这里。
//
// 约束：报告里的任何失败都不影响返回的 Asset。
type FinalizeReport struct {
	AssetID       string     `json:"asset_id"`
	SourceCleanup StepResult `json:"source_cleanup"`
	Gallery       StepResult `json:"gallery"`
	Metadata      StepResult `json:"metadata"`
}

// Degraded 表示是否有任何软步骤失败。
func (r FinalizeReport) Degraded() bool {
	return !r.SourceCleanup.OK || !r.Gallery.OK || !r.Metadata.OK
}

const (
	StatusRecording       = "Recording..."
	StatusProcessing      = "Processing..."
	StatusSavedGallery    = "Saved to gallery"
	StatusSavedAppOnly    = "Saved to app only"
	StatusSaveError       = "Error saving video"
	StatusRecordingFailed = "Recording failed"
	StatusStartError      = "Error"
	StatusPermission      = "Location permission required"
)

// UserStatus 返回 finalize 成功后给用户的状态文案。
func (r FinalizeReport) UserStatus() string {
	if r.Gallery.OK {
		return StatusSavedGallery
	}
	return StatusSavedAppOnly
}

// SweepFailure 是单个条目删除失败的记录（收集而不中断 sweep）。
type SweepFailure struct {
	AssetID   string `json:"asset_id"`
	Path      string `json:"path"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

// SweepReport 是一次 retention sweep 的结果（也是 CLI 对外稳定输出的结构）。
type SweepReport struct {
	Dir        string `json:"dir"`
	MaxAgeDays int    `json:"max_age_days"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Scanned int            `json:"scanned"`
	Deleted []string       `json:"deleted"`
	Failed  []SweepFailure `json:"failed"`
}

// NewSweepReport 返回字段齐全的空报告（Deleted/Failed 输出为 [] 而不是 null）。
func NewSweepReport(dir string, maxAgeDays int, started time.Time) SweepReport {
	return SweepReport{
		Dir:        dir,
		MaxAgeDays: maxAgeDays,
		StartedAt:  started,
		FinishedAt: started,
		Deleted:    []string{},
		Failed:     []SweepFailure{},
	}
}

// Finalize 做两件事：
// 1) 时间统一为 UTC（确保 JSON 为 RFC3339 且后缀 Z）
// 2) deleted/failed 按 asset id 稳定排序
func (r *SweepReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()
	if r.Deleted == nil {
		r.Deleted = []string{}
	}
	if r.Failed == nil {
		r.Failed = []SweepFailure{}
	}
	sort.Strings(r.Deleted)
	sort.SliceStable(r.Failed, func(i, j int) bool { return r.Failed[i].AssetID < r.Failed[j].AssetID })
}
