package journal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMeta() Meta {
	return Meta{
		SessionID:  "sess-1",
		Command:    []string{"/bin/sh", "-c", "echo hi"},
		WorkingDir: "/tmp",
		CreatedAt:  time.Now(),
		Cols:       80,
		Rows:       24,
	}
}

func TestCreateWritesHeaderAndInfo(t *testing.T) {
	dir := t.TempDir()
	j, err := Create(dir, testMeta(), 80, 24, nil)
	require.NoError(t, err)
	defer j.Finalize(0, time.Now())

	header, stream, info := sessionPaths(dir)
	assert.FileExists(t, header)
	assert.FileExists(t, stream)
	assert.FileExists(t, info)

	meta, err := LoadMeta(dir)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", meta.SessionID)

	loadedInfo, err := LoadInfo(dir)
	require.NoError(t, err)
	assert.Equal(t, "starting", loadedInfo.Status)
}

func TestAppendOutputAndFinalize(t *testing.T) {
	dir := t.TempDir()
	j, err := Create(dir, testMeta(), 80, 24, nil)
	require.NoError(t, err)

	require.NoError(t, j.AppendOutput([]byte("hello"), time.Now()))
	assert.False(t, j.Finalized())

	require.NoError(t, j.Finalize(3, time.Now()))
	assert.True(t, j.Finalized())

	// Writes after finalize are rejected.
	err = j.AppendOutput([]byte("late"), time.Now())
	assert.Error(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "stream.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
	assert.Contains(t, string(data), `"x"`)
}

func TestAppendResizeFlushesSynchronously(t *testing.T) {
	dir := t.TempDir()
	j, err := Create(dir, testMeta(), 80, 24, nil)
	require.NoError(t, err)
	defer j.Finalize(0, time.Now())

	require.NoError(t, j.AppendResize(120, 40, time.Now()))
	data, err := os.ReadFile(filepath.Join(dir, "stream.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "120x40")
}

func TestSubscribeNotifiesOnAppendAndCloseOnFinalize(t *testing.T) {
	dir := t.TempDir()
	j, err := Create(dir, testMeta(), 80, 24, nil)
	require.NoError(t, err)

	ch, cancel := j.Subscribe()
	defer cancel()

	require.NoError(t, j.AppendOutput([]byte("x"), time.Now()))
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected notify after append")
	}

	require.NoError(t, j.Finalize(0, time.Now()))
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected channel closed after finalize")
	}
}

func TestOpenReattachesAndTruncatesDanglingLine(t *testing.T) {
	dir := t.TempDir()
	j, err := Create(dir, testMeta(), 80, 24, nil)
	require.NoError(t, err)
	require.NoError(t, j.AppendOutput([]byte("complete-line"), time.Now()))
	require.NoError(t, j.flushLocked(true))

	// Simulate a crash mid-write: append a partial line with no newline.
	_, streamPath, _ := sessionPaths(dir)
	f, err := os.OpenFile(streamPath, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`[0.5,"o","dangl`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := Open(dir, nil)
	require.NoError(t, err)
	defer reopened.Finalize(0, time.Now())

	data, err := os.ReadFile(streamPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "complete-line")
	assert.NotContains(t, string(data), "dangl")
}

func TestFinalizeIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	j, err := Create(dir, testMeta(), 80, 24, nil)
	require.NoError(t, err)

	require.NoError(t, j.Finalize(5, time.Now()))
	require.NoError(t, j.Finalize(9, time.Now()))
}
