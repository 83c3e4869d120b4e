package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/camtag/internal/capture"
	"github.com/John-Robertt/camtag/internal/config"
	"github.com/John-Robertt/camtag/internal/domain"
	"github.com/John-Robertt/camtag/internal/finalize"
	"github.com/John-Robertt/camtag/internal/geo"
	"github.com/John-Robertt/camtag/internal/permission"
	"github.com/John-Robertt/camtag/internal/settings"
)

type scriptedDevice struct {
	mu         sync.Mutex
	onFinished func(string)
}

func (d *scriptedDevice) StartRecording(_ capture.RecordingOptions, onFinished func(string), _ func(error)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onFinished = onFinished
	return nil
}

func (d *scriptedDevice) StopRecording() error { return nil }

func (d *scriptedDevice) finish(raw string) {
	d.mu.Lock()
	f := d.onFinished
	d.mu.Unlock()
	f(raw)
}

func testConfig(t *testing.T, geocodeURL string) config.EffectiveConfig {
	t.Helper()
	root := t.TempDir()
	return config.EffectiveConfig{
		Source:       "test",
		AssetDir:     filepath.Join(root, "videos"),
		StorePath:    filepath.Join(root, ".camtag", "store.json"),
		GalleryIndex: filepath.Join(root, ".camtag", "gallery.html"),
		StatusClear:  -1,
		Location: config.LocationConfig{
			Source:       "static",
			Latitude:     12.9715987,
			Longitude:    77.5945627,
			PollInterval: time.Hour,
			Timeout:      time.Second,
			MaxAge:       10 * time.Second,
		},
		Geocode: config.GeocodeConfig{
			Provider:         "nominatim",
			NominatimBaseURL: geocodeURL,
			RatePerSecond:    100,
			Burst:            1,
			Timeout:          2 * time.Second,
		},
	}
}

func TestApp_RecordFinalizeAndSweep(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"display_name":"MG Road, Bengaluru, India"}`))
	}))
	defer srv.Close()

	eff := testConfig(t, srv.URL)
	a, err := Build(eff, nil)
	require.NoError(t, err)

	require.NoError(t, settings.Save(a.Store, domain.Settings{Resolution: domain.Res4K, LocationEnabled: true, AutoDeleteDays: 7}))

	rep, err := a.Startup(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rep.Deleted)
	fi, err := os.Stat(eff.AssetDir)
	require.NoError(t, err)
	assert.True(t, fi.IsDir())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	granted, err := a.Permissions(permission.Static(true)).Ensure(ctx)
	require.NoError(t, err)
	require.True(t, granted)

	dev := &scriptedDevice{}
	sess, err := a.NewSession(ctx, dev, nil, permission.Static(true))
	require.NoError(t, err)
	a.RunBackground(ctx, sess)

	require.Eventually(t, func() bool { return a.Enricher.LatestTag() != nil }, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, sess.Stamp(), "MG Road")

	raw := filepath.Join(t.TempDir(), "raw.mp4")
	require.NoError(t, os.WriteFile(raw, []byte("frames"), 0o600))
	require.NoError(t, sess.Start(ctx))
	dev.finish(raw)
	require.Eventually(t, func() bool { return sess.State() == capture.Idle }, 2*time.Second, 5*time.Millisecond)
	sess.Close()
	assert.Equal(t, domain.StatusSavedGallery, sess.Status())

	entries, err := a.Gallery.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	m, err := a.Store.Get(finalize.LastSavedKey)
	require.NoError(t, err)
	saved := m[finalize.LastSavedKey]
	require.NotEmpty(t, saved)
	assert.Equal(t, entries[0].Name, filepath.Base(saved))

	old := time.Now().Add(-8 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(saved, old, old))

	rep, err = a.Startup(context.Background())
	require.NoError(t, err)
	assert.Len(t, rep.Deleted, 1)

	entries, err = a.Gallery.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries, "删除后图库条目应被摘除")

	require.NoError(t, a.Close())
}

func TestApp_StartupDirectoryUnavailable(t *testing.T) {
	eff := testConfig(t, "http://127.0.0.1:1")
	require.NoError(t, os.MkdirAll(filepath.Dir(eff.AssetDir), 0o755))
	require.NoError(t, os.WriteFile(eff.AssetDir, []byte("not a dir"), 0o644))

	a, err := Build(eff, nil)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Startup(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeDirectoryUnavailable, Code(err))
}

func TestApp_ZeroDaysKeepsEverything(t *testing.T) {
	eff := testConfig(t, "http://127.0.0.1:1")
	a, err := Build(eff, nil)
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, os.MkdirAll(eff.AssetDir, 0o755))
	p := filepath.Join(eff.AssetDir, "VID_1.mp4")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	old := time.Now().Add(-365 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(p, old, old))

	rep, err := a.Startup(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rep.Deleted)
	_, err = os.Stat(p)
	assert.NoError(t, err)
}

func TestBuild_NoLocationSource(t *testing.T) {
	eff := testConfig(t, "http://127.0.0.1:1")
	eff.Location.Source = "none"
	eff.Geocode.Provider = "none"

	a, err := Build(eff, nil)
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Enricher.Positioner)
	assert.Nil(t, a.Enricher.Resolver)
	r := a.Enricher.Poll(context.Background(), geo.Policy{Enabled: true, Permitted: true})
	assert.Equal(t, domain.ErrCodeSensorUnavailable, r.Degraded)
}

func TestCode_Classifies(t *testing.T) {
	assert.Equal(t, "x", Code(&Error{Code: "x"}))
	assert.Equal(t, config.ErrCodeInvalid, Code(&config.Error{Code: config.ErrCodeInvalid}))
	assert.Equal(t, "", Code(nil))
}
