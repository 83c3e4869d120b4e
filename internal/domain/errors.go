package domain

// 错误分类码（error_code）。
//
// 致命（只影响单次捕获，session 回到 Idle）：source_missing / directory_unavailable / copy_failed
// 可恢复（重新申请权限）：permission_denied
// 软失败（降级，不打断主流程）：其余
const (
	ErrCodePermissionDenied     = "permission_denied"
	ErrCodeSourceMissing        = "source_missing"
	ErrCodeDirectoryUnavailable = "directory_unavailable"
	ErrCodeCopyFailed           = "copy_failed"

	ErrCodeSensorTimeout      = "sensor_timeout"
	ErrCodeSensorUnavailable  = "sensor_unavailable"
	ErrCodeGeocodeUnavailable = "geocode_unavailable"
	ErrCodeDeleteFailed       = "delete_failed"

	ErrCodeSourceCleanupFailed = "source_cleanup_failed"
	ErrCodeGalleryUnavailable  = "gallery_unavailable"
	ErrCodeMetadataFailed      = "metadata_failed"
	ErrCodePushFailed          = "push_failed"
)

// IsFatalFinalize 判断 code 是否属于 finalize 的致命错误（步骤 1-3）。
func IsFatalFinalize(code string) bool {
	switch code {
	case ErrCodeSourceMissing, ErrCodeDirectoryUnavailable, ErrCodeCopyFailed:
		return true
	default:
		return false
	}
}
