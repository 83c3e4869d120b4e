package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResolution(t *testing.T) {
	cases := map[string]Resolution{
		"720p":  Res720p,
		"1080P": Res1080p,
		" 4K ":  Res4K,
		"auto":  ResAuto,
		"Auto":  ResAuto,
	}
	for in, want := range cases {
		got, ok := ParseResolution(in)
		require.True(t, ok, "输入 %q 应能解析", in)
		assert.Equal(t, want, got)
	}

	_, ok := ParseResolution("8k")
	assert.False(t, ok)
}

func TestResolution_TargetBitRate(t *testing.T) {
	assert.Equal(t, 4_000_000, Res720p.TargetBitRate())
	assert.Equal(t, 8_000_000, Res1080p.TargetBitRate())
	assert.Equal(t, 35_000_000, Res4K.TargetBitRate())
	assert.Equal(t, 8_000_000, ResAuto.TargetBitRate())
}

func TestLocationTag_TextFallsBackToCoordinates(t *testing.T) {
	tag := LocationTag{Latitude: 12.9715987, Longitude: 77.5945627}
	assert.False(t, tag.HasAddress())
	assert.Equal(t, "Lat: 12.971599\nLon: 77.594563", tag.Text())
	assert.Equal(t, tag.CoordinateText(), tag.Text())
}

func TestLocationTag_TextSplitsAddress(t *testing.T) {
	tag := LocationTag{Latitude: 1, Longitude: 2, Address: "221B Baker St, London NW1 6XE, UK"}
	want := "221B Baker St\nLondon NW1 6XE\nUK\nLat: 1.000000\nLon: 2.000000"
	assert.Equal(t, want, tag.Text())
}

func TestPollResult_Stamp(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	r := PollResult{At: at}
	assert.True(t, r.TimestampOnly())
	assert.Equal(t, "2026-03-04 05:06:07", r.Stamp())

	r.Tag = &LocationTag{Latitude: 1, Longitude: 2}
	assert.Equal(t, "2026-03-04 05:06:07\nLat: 1.000000\nLon: 2.000000", r.Stamp())
}

func TestAsset_RecordJSONShape(t *testing.T) {
	a := Asset{
		ID:         "1700000000000",
		Path:       "/videos/VID_1700000000000.mp4",
		Resolution: Res4K,
		Location:   &LocationTag{Latitude: 1.5, Longitude: 2.5, Address: "Somewhere"},
		CreatedAt:  time.Date(2026, 2, 9, 10, 0, 0, 0, time.FixedZone("X", 8*3600)),
	}

	b, err := json.Marshal(a.Record())
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "/videos/VID_1700000000000.mp4", m["path"])
	assert.Equal(t, "4k", m["resolution"])
	assert.Equal(t, "2026-02-09T02:00:00Z", m["timestamp"])
	loc, ok := m["location"].(map[string]any)
	require.True(t, ok, "location 应为对象：%s", string(b))
	assert.Equal(t, 1.5, loc["latitude"])
	assert.Equal(t, "Somewhere", loc["address"])
}

func TestAsset_RecordOmitsAbsentLocation(t *testing.T) {
	a := Asset{Path: "/v/VID_1.mp4", Resolution: Res720p, CreatedAt: time.Unix(0, 0)}
	b, err := json.Marshal(a.Record())
	require.NoError(t, err)
	assert.NotContains(t, string(b), "location")
}

func TestFinalizeReport_UserStatus(t *testing.T) {
	r := FinalizeReport{SourceCleanup: Succeeded(), Gallery: Succeeded(), Metadata: Succeeded()}
	assert.False(t, r.Degraded())
	assert.Equal(t, StatusSavedGallery, r.UserStatus())

	r.Gallery = Failed(ErrCodeGalleryUnavailable, errors.New("index locked"))
	assert.True(t, r.Degraded())
	assert.Equal(t, StatusSavedAppOnly, r.UserStatus())
	assert.Equal(t, "index locked", r.Gallery.ErrorMsg)
}

func TestSweepReport_FinalizeSortAndUTC(t *testing.T) {
	zone := time.FixedZone("X", 8*3600)
	r := SweepReport{
		Dir:        "/abs/videos",
		StartedAt:  time.Date(2026, 2, 9, 10, 0, 0, 0, zone),
		FinishedAt: time.Date(2026, 2, 9, 10, 0, 1, 0, zone),
		Deleted:    []string{"3", "1", "2"},
		Failed: []SweepFailure{
			{AssetID: "9", ErrorCode: ErrCodeDeleteFailed},
			{AssetID: "4", ErrorCode: ErrCodeDeleteFailed},
		},
	}

	r.Finalize()

	assert.Equal(t, []string{"1", "2", "3"}, r.Deleted)
	assert.Equal(t, "4", r.Failed[0].AssetID)

	b, err := json.Marshal(r)
	require.NoError(t, err)
	if !bytes.Contains(b, []byte(`"started_at":"2026-02-09T02:00:00Z"`)) {
		t.Fatalf("started_at 不是 UTC RFC3339：%s", string(b))
	}
}

func TestNewSweepReport_EmptySlicesNotNull(t *testing.T) {
	r := NewSweepReport("/d", 0, time.Unix(0, 0))
	r.Finalize()
	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"deleted":[]`)
	assert.Contains(t, string(b), `"failed":[]`)
}

func TestIsFatalFinalize(t *testing.T) {
	assert.True(t, IsFatalFinalize(ErrCodeSourceMissing))
	assert.True(t, IsFatalFinalize(ErrCodeCopyFailed))
	assert.True(t, IsFatalFinalize(ErrCodeDirectoryUnavailable))
	assert.False(t, IsFatalFinalize(ErrCodeGalleryUnavailable))
}
