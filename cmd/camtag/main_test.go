package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/camtag/internal/capture"
	"github.com/John-Robertt/camtag/internal/config"
	"github.com/John-Robertt/camtag/internal/domain"
	"github.com/John-Robertt/camtag/internal/permission"
)

type testEnv struct {
	root     string
	config   string
	assetDir string
	spool    string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	root := t.TempDir()
	env := testEnv{
		root:     root,
		config:   filepath.Join(root, "camtag.yaml"),
		assetDir: filepath.Join(root, "videos"),
		spool:    filepath.Join(root, "spool"),
	}
	yaml := fmt.Sprintf(`asset_dir: %q
store_path: %q
gallery_index: %q
location:
  source: none
geocode:
  provider: none
log:
  level: warn
`, env.assetDir, filepath.Join(root, ".camtag", "store.json"), filepath.Join(root, ".camtag", "gallery.html"))
	require.NoError(t, os.WriteFile(env.config, []byte(yaml), 0o644))
	return env
}

// syncBuffer 允许 logger、session 回调等多个 goroutine 并发写入。
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

// run 以非 TTY 的 stdout/stderr 执行一次命令。
func run(t *testing.T, stdin io.Reader, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr syncBuffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	if stdin == nil {
		stdin = strings.NewReader("")
	}
	cmd.SetIn(stdin)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestCLI_SettingsSetAndGet(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := run(t, nil, "--config", env.config, "settings", "set", "resolution", "4k")
	require.NoError(t, err)
	_, _, err = run(t, nil, "--config", env.config, "settings", "set", "autoDeleteDays", "7")
	require.NoError(t, err)

	stdout, _, err := run(t, nil, "--config", env.config, "settings", "get")
	require.NoError(t, err)
	var m map[string]string
	require.NoError(t, json.Unmarshal([]byte(stdout), &m), "stdout=%q", stdout)
	assert.Equal(t, "4k", m["resolution"])
	assert.Equal(t, "7", m["autoDeleteDays"])
	assert.Equal(t, "true", m["locationEnabled"])
}

func TestCLI_SettingsSetInvalidValue(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := run(t, nil, "--config", env.config, "settings", "set", "resolution", "8k")
	require.Error(t, err)
	assert.Equal(t, 2, exitCodeOf(err))
}

func TestCLI_Sweep_NoTTY_StdoutOnlyJSON(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.MkdirAll(env.assetDir, 0o755))
	old := filepath.Join(env.assetDir, "VID_1.mp4")
	fresh := filepath.Join(env.assetDir, "VID_2.mp4")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))
	mt := time.Now().Add(-10 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(old, mt, mt))

	stdout, stderr, err := run(t, nil, "--config", env.config, "sweep", "--days", "7")
	require.NoError(t, err)

	var rep domain.SweepReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &rep), "stdout=%q", stdout)
	assert.Equal(t, []string{"1"}, rep.Deleted)
	assert.Equal(t, 7, rep.MaxAgeDays)
	assert.Contains(t, stderr, "完成：")
	assert.NotContains(t, stdout, "完成：")

	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}

func TestCLI_Startup_UsesSettingsDays(t *testing.T) {
	env := newTestEnv(t)

	stdout, _, err := run(t, nil, "--config", env.config, "startup")
	require.NoError(t, err)
	var rep domain.SweepReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &rep))
	assert.Equal(t, 0, rep.MaxAgeDays)
	assert.Empty(t, rep.Deleted)

	fi, err := os.Stat(env.assetDir)
	require.NoError(t, err, "startup 应创建资产目录")
	assert.True(t, fi.IsDir())
}

func TestCLI_ConfigNotFound(t *testing.T) {
	stdout, _, err := run(t, nil, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "startup")
	require.Error(t, err)

	var er errorReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &er), "stdout=%q", stdout)
	assert.Equal(t, config.ErrCodeNotFound, er.ErrorCode)
}

func TestCLI_Finalize(t *testing.T) {
	env := newTestEnv(t)
	raw := filepath.Join(t.TempDir(), "raw.mp4")
	require.NoError(t, os.WriteFile(raw, []byte("frames"), 0o600))

	stdout, _, err := run(t, nil, "--config", env.config, "finalize", raw)
	require.NoError(t, err)

	var out finalizeOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out), "stdout=%q", stdout)
	assert.Equal(t, domain.StatusSavedGallery, out.Status)
	assert.Equal(t, string(domain.DefaultResolution), out.Record.Resolution)
	assert.Equal(t, filepath.Join(env.assetDir, "VID_"+out.ID+".mp4"), out.Record.Path)

	_, err = os.Stat(raw)
	assert.True(t, os.IsNotExist(err))
}

func TestCLI_FinalizeSourceMissing(t *testing.T) {
	env := newTestEnv(t)

	stdout, _, err := run(t, nil, "--config", env.config, "finalize", filepath.Join(t.TempDir(), "missing.mp4"))
	require.Error(t, err)
	assert.Equal(t, 1, exitCodeOf(err))

	var er errorReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &er))
	assert.Equal(t, domain.ErrCodeSourceMissing, er.ErrorCode)
}

func TestCLI_LocateWithoutSource(t *testing.T) {
	env := newTestEnv(t)

	stdout, stderr, err := run(t, nil, "--config", env.config, "locate", "--yes")
	require.NoError(t, err)

	var r domain.PollResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &r), "stdout=%q", stdout)
	assert.Nil(t, r.Tag)
	assert.Equal(t, domain.ErrCodeSensorUnavailable, r.Degraded)
	assert.Contains(t, stderr, "降级")
}

func TestCLI_LocateRecordsRevokedPermission(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	env := newTestEnv(t)
	storePath := filepath.Join(env.root, ".camtag", "store.json")
	yaml := fmt.Sprintf(`asset_dir: %q
store_path: %q
gallery_index: %q
location:
  source: ip
  ip_url: %q
geocode:
  provider: none
log:
  level: error
`, env.assetDir, storePath, filepath.Join(env.root, ".camtag", "gallery.html"), srv.URL)
	require.NoError(t, os.WriteFile(env.config, []byte(yaml), 0o644))

	stdout, _, err := run(t, nil, "--config", env.config, "locate", "--yes")
	require.NoError(t, err)

	var r domain.PollResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &r), "stdout=%q", stdout)
	assert.True(t, r.PermissionRevoked)
	assert.Equal(t, domain.ErrCodePermissionDenied, r.Degraded)

	b, err := os.ReadFile(storePath)
	require.NoError(t, err)
	var stored map[string]string
	require.NoError(t, json.Unmarshal(b, &stored))
	assert.Equal(t, permission.Denied, stored[permission.Key], "权限被拒后应记录为 denied")
}

func TestCLI_RecordThroughSpool(t *testing.T) {
	env := newTestEnv(t)
	pr, pw := io.Pipe()

	done := make(chan error, 1)
	var stderr string
	go func() {
		var err error
		_, stderr, err = run(t, pr, "--config", env.config, "record", "--spool", env.spool, "--settle", "30ms")
		done <- err
	}()

	req := filepath.Join(env.spool, capture.RequestFile)
	_, err := io.WriteString(pw, "y\nr\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, err := os.Stat(req)
		return err == nil
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(env.spool, "take1.mp4"), []byte("frames"), 0o644))
	_, err = io.WriteString(pw, "s\nq\n")
	require.NoError(t, err)
	require.NoError(t, pw.Close())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatalf("record 未退出")
	}

	assert.Contains(t, stderr, "本次保存 1 个视频")
	entries, err := os.ReadDir(env.assetDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "VID_"))
	_, err = os.Stat(filepath.Join(env.spool, "take1.mp4"))
	assert.True(t, os.IsNotExist(err), "spool 中的原始文件应被删除")
}

func TestRootCmd_HasCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range newRootCmd().Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"startup", "sweep", "finalize", "locate", "record", "settings"} {
		assert.True(t, names[want], "缺少命令 %s", want)
	}
}

func TestStatusUI_Output(t *testing.T) {
	var buf bytes.Buffer
	u := newStatusUI(&buf)
	u.now = func() time.Time { return time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC) }

	u.OnState(capture.Recording)
	u.OnStatus("")
	u.OnStatus(domain.StatusRecording)
	u.OnFinalized(domain.Asset{
		Path:       "/v/VID_1.mp4",
		Resolution: domain.Res4K,
		Location:   &domain.LocationTag{Latitude: 1, Longitude: 2},
	}, domain.FinalizeReport{SourceCleanup: domain.Succeeded(), Gallery: domain.Failed(domain.ErrCodeGalleryUnavailable, nil), Metadata: domain.Succeeded()}, nil)

	out := buf.String()
	assert.Contains(t, out, "[09:30:00] 状态: recording\n")
	assert.Contains(t, out, "[09:30:00] Recording...\n")
	assert.Contains(t, out, "location=Lat: 1.000000 | Lon: 2.000000 degraded(gallery_unavailable)")
	assert.Equal(t, 1, u.savedCount())
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "35 Mbps", formatBitRate(domain.Res4K.TargetBitRate()))
	assert.Equal(t, "off", formatDays(0))
	assert.Equal(t, "00:01:05", formatElapsed(65*time.Second))
	assert.Equal(t, "google -> nominatim", geocodeChain(config.GeocodeConfig{Provider: "google", APIKey: "k"}))
	assert.Equal(t, "nominatim", geocodeChain(config.GeocodeConfig{Provider: "nominatim"}))
	assert.Equal(t, "ab...", truncate("abcdefgh", 5))
}

func exitCodeOf(err error) int {
	var e *exitError
	if errors.As(err, &e) {
		return e.code
	}
	return 1
}
