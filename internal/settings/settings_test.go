package settings

import (
	"testing"

	"github.com/John-Robertt/camtag/internal/domain"
	"github.com/John-Robertt/camtag/internal/infra/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EmptyStoreUsesDefaults(t *testing.T) {
	s, err := Load(kvstore.NewMemory(nil))
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultSettings(), s)
}

func TestDecode_Lenient(t *testing.T) {
	s := Decode(map[string]string{
		KeyResolution:      "8k",
		KeyLocationEnabled: "false",
		KeyAutoDeleteDays:  "-3",
	})
	assert.Equal(t, domain.DefaultResolution, s.Resolution)
	assert.False(t, s.LocationEnabled)
	assert.Equal(t, 0, s.AutoDeleteDays)

	s = Decode(map[string]string{KeyAutoDeleteDays: "abc", KeyLocationEnabled: "yes"})
	assert.Equal(t, 0, s.AutoDeleteDays)
	assert.True(t, s.LocationEnabled)
}

func TestSaveThenLoad(t *testing.T) {
	store := kvstore.NewMemory(nil)
	want := domain.Settings{Resolution: domain.Res4K, LocationEnabled: true, AutoDeleteDays: 7}
	require.NoError(t, Save(store, want))

	raw, _ := store.Get(KeyLocationEnabled, KeyAutoDeleteDays)
	assert.Equal(t, "true", raw[KeyLocationEnabled])
	assert.Equal(t, "7", raw[KeyAutoDeleteDays])

	got, err := Load(store)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSave_RejectsInvalid(t *testing.T) {
	store := kvstore.NewMemory(nil)
	assert.Error(t, Save(store, domain.Settings{Resolution: "8k"}))
	assert.Error(t, Save(store, domain.Settings{Resolution: domain.Res720p, AutoDeleteDays: -1}))
}

func TestApply(t *testing.T) {
	s := domain.DefaultSettings()

	s, err := Apply(s, KeyResolution, "4K")
	require.NoError(t, err)
	assert.Equal(t, domain.Res4K, s.Resolution)

	s, err = Apply(s, KeyAutoDeleteDays, "30")
	require.NoError(t, err)
	assert.Equal(t, 30, s.AutoDeleteDays)

	_, err = Apply(s, KeyLocationEnabled, "maybe")
	assert.Error(t, err)
	_, err = Apply(s, "theme", "dark")
	assert.Error(t, err)
}
