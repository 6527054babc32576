package storage

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldscan/fieldscan/internal/frame"
)

func rgbFrame(w, h int) *frame.Frame {
	f := frame.New(frame.StreamRGB, w, h, frame.FormatRGB8)
	for i := range f.Data {
		f.Data[i] = byte(i * 7)
	}
	return f
}

func TestVideoRecorderLifecycle(t *testing.T) {
	base := t.TempDir()
	rec := NewVideoRecorder(VideoConfig{BasePath: base, FPS: 5})

	err := rec.Start(testWhen, map[frame.Stream]image.Point{
		frame.StreamRGB: {X: 8, Y: 6},
	})
	require.NoError(t, err)
	require.True(t, rec.Active())

	wantPath := filepath.Join(base, "videos", "20260822", "rgb_120000.avi")
	assert.Equal(t, []string{wantPath}, rec.Paths())

	for i := 0; i < 3; i++ {
		require.NoError(t, rec.Append(rgbFrame(8, 6)))
	}
	// geometry drift and unknown streams are skipped, not errors
	require.NoError(t, rec.Append(rgbFrame(10, 10)))
	require.NoError(t, rec.Append(frame.New(frame.StreamIR, 8, 6, frame.FormatGray8)))

	require.NoError(t, rec.Stop())
	assert.False(t, rec.Active())

	info, err := os.Stat(wantPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestVideoRecorderStopIsIdempotent(t *testing.T) {
	base := t.TempDir()
	rec := NewVideoRecorder(VideoConfig{BasePath: base})
	require.NoError(t, rec.Start(testWhen, map[frame.Stream]image.Point{
		frame.StreamRGB: {X: 4, Y: 4},
	}))

	require.NoError(t, rec.Stop())
	require.NoError(t, rec.Stop())

	// appends after stop fall through without touching released writers
	assert.NoError(t, rec.Append(rgbFrame(4, 4)))
}

func TestVideoRecorderStartWhileRunning(t *testing.T) {
	base := t.TempDir()
	rec := NewVideoRecorder(VideoConfig{BasePath: base})
	sizes := map[frame.Stream]image.Point{frame.StreamRGB: {X: 4, Y: 4}}
	require.NoError(t, rec.Start(testWhen, sizes))
	defer rec.Stop()

	assert.NoError(t, rec.Start(testWhen, sizes))
	assert.Len(t, rec.Paths(), 1)
}

func TestVideoRecorderStartFailures(t *testing.T) {
	rec := NewVideoRecorder(VideoConfig{BasePath: t.TempDir()})
	err := rec.Start(testWhen, nil)
	var storErr *StorageError
	require.ErrorAs(t, err, &storErr)

	// a base path that is a regular file cannot take a videos tree
	file := filepath.Join(t.TempDir(), "flat")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	rec = NewVideoRecorder(VideoConfig{BasePath: file})
	err = rec.Start(testWhen, map[frame.Stream]image.Point{frame.StreamRGB: {X: 4, Y: 4}})
	require.ErrorAs(t, err, &storErr)
	assert.False(t, rec.Active())
}
