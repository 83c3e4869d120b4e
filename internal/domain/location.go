package domain

import (
	"fmt"
	"strings"
	"time"
)

// StampLayout 是实时叠加层使用的时间格式（yyyy-MM-dd HH:mm:ss）。
const StampLayout = "2006-01-02 15:04:05"

// LocationTag 是一次成功定位的结果（创建后不可变）。
//
// 不变量：Address 为空表示“未解析出地址”，此时消费方必须使用 CoordinateText 兜底，
// 任何情况下 Text 都能给出非空文本。
type LocationTag struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Address    string    `json:"address,omitempty"`
	ResolvedAt time.Time `json:"resolvedAt"`
}

// HasAddress 表示是否解析到了地址。
func (t LocationTag) HasAddress() bool {
	return strings.TrimSpace(t.Address) != ""
}

// CoordinateText 返回只含坐标的兜底文本。
func (t LocationTag) CoordinateText() string {
	return fmt.Sprintf("Lat: %.6f\nLon: %.6f", t.Latitude, t.Longitude)
}

// Text 返回地址（按逗号拆成多行）+ 坐标；无地址时只返回坐标。
func (t LocationTag) Text() string {
	if !t.HasAddress() {
		return t.CoordinateText()
	}
	parts := strings.Split(t.Address, ",")
	lines := make([]string, 0, len(parts)+2)
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		lines = append(lines, p)
	}
	lines = append(lines, fmt.Sprintf("Lat: %.6f", t.Latitude), fmt.Sprintf("Lon: %.6f", t.Longitude))
	return strings.Join(lines, "\n")
}

// PollResult 是 Enricher 单次 poll 的结果：要么带 LocationTag，要么只有时间戳。
//
// Degraded 记录降级原因（ErrCode*，空串表示未降级）；
// PermissionRevoked 表示定位失败原因是权限被拒，capture 需要据此重新申请权限。
type PollResult struct {
	At                time.Time    `json:"at"`
	Tag               *LocationTag `json:"tag,omitempty"`
	Degraded          string       `json:"degraded,omitempty"`
	PermissionRevoked bool         `json:"permission_revoked,omitempty"`
}

// TimestampOnly 表示本次 poll 没有位置信息。
func (r PollResult) TimestampOnly() bool { return r.Tag == nil }

// Stamp 返回实时叠加层文本：时间戳 + （可选）位置文本。
func (r PollResult) Stamp() string {
	ts := r.At.Format(StampLayout)
	if r.Tag == nil {
		return ts
	}
	return ts + "\n" + r.Tag.Text()
}
