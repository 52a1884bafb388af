package tcp

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineFramer_PartialFrames(t *testing.T) {
	f := &lineFramer{}

	require.NoError(t, f.Push([]byte(`{"command":"pi`)))
	assert.Nil(t, f.Pop())

	require.NoError(t, f.Push([]byte("ng\"}\n")))
	frame := f.Pop()
	require.NotNil(t, frame)
	assert.Equal(t, `{"command":"ping"}`, string(frame))
	assert.Nil(t, f.Pop())
	assert.Equal(t, 0, f.Pending())
}

func TestLineFramer_MultipleFramesPerRead(t *testing.T) {
	f := &lineFramer{}
	require.NoError(t, f.Push([]byte("one\ntwo\nthr")))

	assert.Equal(t, "one", string(f.Pop()))
	assert.Equal(t, "two", string(f.Pop()))
	assert.Nil(t, f.Pop())
	assert.Equal(t, 3, f.Pending())

	require.NoError(t, f.Push([]byte("ee\n")))
	assert.Equal(t, "three", string(f.Pop()))
}

func TestLineFramer_SkipsEmptyLinesAndCRLF(t *testing.T) {
	f := &lineFramer{}
	require.NoError(t, f.Push([]byte("\n\r\nfirst\r\nsecond\n")))

	assert.Equal(t, "first", string(f.Pop()))
	assert.Equal(t, "second", string(f.Pop()))
	assert.Nil(t, f.Pop())
}

func TestLineFramer_OversizeFrameRejected(t *testing.T) {
	f := &lineFramer{}
	big := bytes.Repeat([]byte{'x'}, maxFrameSize+1)
	assert.Error(t, f.Push(big))
}

func TestLineFramer_PoppedFrameIsStable(t *testing.T) {
	f := &lineFramer{}
	require.NoError(t, f.Push([]byte("alpha\n")))
	frame := f.Pop()

	// Later pushes must not alias into the returned frame.
	require.NoError(t, f.Push([]byte("bravo\n")))
	_ = f.Pop()
	assert.Equal(t, "alpha", string(frame))
}
