package capture

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/camtag/internal/domain"
)

type spoolResult struct {
	raw string
	err error
}

func startSpool(t *testing.T, d *SpoolDevice) <-chan spoolResult {
	t.Helper()
	ch := make(chan spoolResult, 1)
	opts := RecordingOptions{Resolution: domain.Res4K, BitRate: domain.Res4K.TargetBitRate(), Facing: FacingBack}
	err := d.StartRecording(opts,
		func(raw string) { ch <- spoolResult{raw: raw} },
		func(err error) { ch <- spoolResult{err: err} },
	)
	require.NoError(t, err)
	return ch
}

func waitSpool(t *testing.T, ch <-chan spoolResult) spoolResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(3 * time.Second):
		t.Fatalf("等待 spool 结果超时")
		return spoolResult{}
	}
}

func TestSpoolDevice_DeliversLatestOutput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "spool")
	d := &SpoolDevice{Dir: dir, Settle: 50 * time.Millisecond}
	ch := startSpool(t, d)

	b, err := os.ReadFile(filepath.Join(dir, RequestFile))
	require.NoError(t, err)
	var req RecordingOptions
	require.NoError(t, json.Unmarshal(b, &req))
	assert.Equal(t, domain.Res4K, req.Resolution)
	assert.Equal(t, 35_000_000, req.BitRate)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "clip.mp4"), []byte("frames"), 0o644))
	require.NoError(t, d.StopRecording())

	r := waitSpool(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, filepath.Join(dir, "clip.mp4"), r.raw)

	_, err = os.Stat(filepath.Join(dir, RequestFile))
	assert.True(t, os.IsNotExist(err), "停止后请求文件应被删除")
}

func TestSpoolDevice_NoOutput(t *testing.T) {
	d := &SpoolDevice{Dir: t.TempDir(), Settle: 20 * time.Millisecond}
	ch := startSpool(t, d)
	require.NoError(t, d.StopRecording())

	r := waitSpool(t, ch)
	assert.ErrorIs(t, r.err, ErrNoOutput)
}

func TestSpoolDevice_BusyUntilDelivered(t *testing.T) {
	d := &SpoolDevice{Dir: t.TempDir(), Settle: 20 * time.Millisecond}
	ch := startSpool(t, d)

	err := d.StartRecording(RecordingOptions{}, func(string) {}, func(error) {})
	assert.ErrorIs(t, err, ErrBusy)

	require.NoError(t, d.StopRecording())
	waitSpool(t, ch)

	ch = startSpool(t, d)
	require.NoError(t, d.StopRecording())
	waitSpool(t, ch)
}

func TestSpoolDevice_StopWithoutStartIsNoop(t *testing.T) {
	d := &SpoolDevice{Dir: t.TempDir()}
	assert.NoError(t, d.StopRecording())
}

func TestSpoolDevice_IgnoresHiddenFiles(t *testing.T) {
	assert.False(t, isSpoolOutput("/x/.clip.mp4.tmp-1"))
	assert.False(t, isSpoolOutput("/x/.hidden.mp4"))
	assert.True(t, isSpoolOutput("/x/CLIP.MP4"))
}
