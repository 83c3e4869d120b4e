package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/John-Robertt/camtag/internal/app"
	"github.com/John-Robertt/camtag/internal/domain"
)

// isTTY 可在测试中替换。
var isTTY = func(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// errorReport 是命令失败时（stdout 非 TTY）输出的 JSON。
type errorReport struct {
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

// emitJSON 把 v 作为 stdout 上唯一的 JSON 文档输出。
func emitJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// fail 输出结构化失败并返回退出码为 1 的错误（消息已输出，不再重复）。
func fail(stdout, stderr io.Writer, err error) error {
	code := app.Code(err)
	if code == "" {
		code = "internal"
	}
	fmt.Fprintf(stderr, "失败：%s: %v\n", code, err)
	if !isTTY(stdout) {
		emitJSON(stdout, errorReport{ErrorCode: code, ErrorMsg: err.Error()})
	}
	return &exitError{code: 1, silent: true, err: err}
}

// emitSweepReport 遵循 stdout 契约：TTY 输出一行摘要；否则 stdout 只有一个 JSON，摘要走 stderr。
// 存在删除失败时返回退出码为 1 的错误。
func emitSweepReport(stdout, stderr io.Writer, rep domain.SweepReport) error {
	summary := fmt.Sprintf("完成：dir=%s max_age_days=%d scanned=%d deleted=%d failed=%d\n",
		rep.Dir, rep.MaxAgeDays, rep.Scanned, len(rep.Deleted), len(rep.Failed),
	)
	if isTTY(stdout) {
		fmt.Fprint(stdout, summary)
	} else {
		emitJSON(stdout, rep)
		fmt.Fprint(stderr, summary)
	}
	for _, f := range rep.Failed {
		fmt.Fprintf(stderr, "%s %s: %s\n", f.AssetID, f.ErrorCode, f.ErrorMsg)
	}
	if len(rep.Failed) > 0 {
		return &exitError{code: 1, silent: true}
	}
	return nil
}

// finalizeOutput 是 finalize 命令的对外输出。
type finalizeOutput struct {
	Status string                `json:"status"`
	ID     string                `json:"id"`
	Record domain.AssetRecord    `json:"record"`
	Report domain.FinalizeReport `json:"report"`
}

func emitFinalize(stdout, stderr io.Writer, a domain.Asset, rep domain.FinalizeReport) {
	out := finalizeOutput{
		Status: rep.UserStatus(),
		ID:     a.ID,
		Record: a.Record(),
		Report: rep,
	}
	line := fmt.Sprintf("%s：%s\n", out.Status, a.Path)
	if isTTY(stdout) {
		fmt.Fprint(stdout, line)
	} else {
		emitJSON(stdout, out)
		fmt.Fprint(stderr, line)
	}
	for _, st := range []struct {
		name string
		r    domain.StepResult
	}{
		{"source_cleanup", rep.SourceCleanup},
		{"gallery", rep.Gallery},
		{"metadata", rep.Metadata},
	} {
		if !st.r.OK {
			fmt.Fprintf(stderr, "%s %s: %s\n", st.name, st.r.ErrorCode, st.r.ErrorMsg)
		}
	}
}
