package synth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldscan/fieldscan/internal/camera"
	"github.com/fieldscan/fieldscan/internal/frame"
)

func TestOpenUnknownDevice(t *testing.T) {
	d := New()

	_, err := d.Open("nope", camera.DefaultSessionOptions())

	var devErr *camera.DeviceError
	require.ErrorAs(t, err, &devErr)
}

func TestSessionDeliversSourceStreams(t *testing.T) {
	d := New()
	sess, err := d.Open("synth-0", camera.DefaultSessionOptions())
	require.NoError(t, err)
	defer sess.Close()

	assert.Equal(t,
		[]frame.Stream{frame.StreamRGB, frame.StreamDepthRaw, frame.StreamIR},
		sess.Streams())

	rgb, ok := sess.TryNext(frame.StreamRGB)
	require.True(t, ok)
	assert.Equal(t, frame.FormatRGB8, rgb.Format)
	assert.Equal(t, 640, rgb.Width)
	assert.Equal(t, 480, rgb.Height)
	assert.Equal(t, uint64(1), rgb.Seq)

	raw, ok := sess.TryNext(frame.StreamDepthRaw)
	require.True(t, ok)
	assert.Equal(t, frame.FormatGray16, raw.Format)
	assert.Equal(t, 640, raw.Width)
	assert.Equal(t, 400, raw.Height)

	ir, ok := sess.TryNext(frame.StreamIR)
	require.True(t, ok)
	assert.Equal(t, frame.FormatGray8, ir.Format)
}

func TestSessionPacesToFPS(t *testing.T) {
	d := New()
	sess, err := d.Open("synth-0", camera.SessionOptions{FPS: 1})
	require.NoError(t, err)
	defer sess.Close()

	_, ok := sess.TryNext(frame.StreamRGB)
	require.True(t, ok)

	// one second has not elapsed
	_, ok = sess.TryNext(frame.StreamRGB)
	assert.False(t, ok)
}

func TestSessionIgnoresDerivedStream(t *testing.T) {
	d := New()
	sess, err := d.Open("synth-0", camera.DefaultSessionOptions())
	require.NoError(t, err)
	defer sess.Close()

	_, ok := sess.TryNext(frame.StreamDepth)
	assert.False(t, ok)
}

func TestClosedSessionDeliversNothing(t *testing.T) {
	d := New()
	sess, err := d.Open("synth-0", camera.DefaultSessionOptions())
	require.NoError(t, err)
	require.NoError(t, sess.Close())

	_, ok := sess.TryNext(frame.StreamRGB)
	assert.False(t, ok)
}

func TestPatternsAreDeterministic(t *testing.T) {
	a := genRGB(64, 48, 7)
	b := genRGB(64, 48, 7)
	assert.Equal(t, a.Data, b.Data)

	c := genRGB(64, 48, 8)
	assert.NotEqual(t, a.Data, c.Data)
}

func TestIRKeepsNarrowRange(t *testing.T) {
	f := genIR(32, 32, 3)
	for _, v := range f.Data {
		assert.GreaterOrEqual(t, v, byte(16))
		assert.Less(t, v, byte(80))
	}
}
