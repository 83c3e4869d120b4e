package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTextfile(t *testing.T) {
	FinalizeTotal.WithLabelValues("ok").Inc()

	path := filepath.Join(t.TempDir(), "camtag.prom")
	require.NoError(t, WriteTextfile(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `camtag_finalize_total{result="ok"}`)
}

func TestWriteTextfile_EmptyPathNoop(t *testing.T) {
	require.NoError(t, WriteTextfile("  "))
}

func TestWriteTextfile_RetentionCounters(t *testing.T) {
	SweepDeletedTotal.Add(2)
	SweepFailedTotal.Inc()

	path := filepath.Join(t.TempDir(), "camtag.prom")
	require.NoError(t, WriteTextfile(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "camtag_retention_deleted_total")
	assert.Contains(t, string(b), "camtag_retention_failed_total")
}
