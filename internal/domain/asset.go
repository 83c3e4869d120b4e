package domain

import "time"

// Asset 是一次完成录制后落盘的持久资产。
//
// 不变量（实现必须遵守）：
// - Path 必须位于规范资产目录下（clean + absolute），绝不引用临时录制路径
// - ID 由捕获时间（epoch 毫秒）派生，与文件名 VID_<ID>.mp4 一一对应
type Asset struct {
	ID                string       `json:"id"`
	Path              string       `json:"path"`
	Resolution        Resolution   `json:"resolution"`
	Location          *LocationTag `json:"location,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	GalleryRegistered bool         `json:"gallery_registered"`
}

// AssetRecord 是写入 Config Store（key=video_<ms>）的元数据记录。
// 字段名沿用存量数据的 JSON 形态，不要改名。
type AssetRecord struct {
	Path       string       `json:"path"`
	Location   *LocationTag `json:"location,omitempty"`
	Timestamp  string       `json:"timestamp"` // RFC3339（UTC）
	Resolution string       `json:"resolution"`
}

// Record 把 Asset 转成持久化记录。
func (a Asset) Record() AssetRecord {
	return AssetRecord{
		Path:       a.Path,
		Location:   a.Location,
		Timestamp:  a.CreatedAt.UTC().Format(time.RFC3339Nano),
		Resolution: string(a.Resolution),
	}
}

// AssetFile 描述资产目录中的一个文件（只做 stat，不读内容）。
type AssetFile struct {
	ID      string
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}
