package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAndNext(t *testing.T) {
	b := New(nil)
	b.AppendByte(1)
	b.AppendUint16(2)
	b.AppendUint32(3)
	b.AppendUint64(4)
	b.AppendString("hi")

	require.Equal(t, 1+2+4+8+2, b.Len())

	got, ok := b.Next(1)
	require.True(t, ok)
	require.Equal(t, []byte{1}, got)

	got, ok = b.Next(2)
	require.True(t, ok)
	require.Equal(t, []byte{0, 2}, got)

	got, ok = b.Next(4)
	require.True(t, ok)
	require.Equal(t, []byte{0, 0, 0, 3}, got)

	got, ok = b.Next(8)
	require.True(t, ok)
	require.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 4}, got)

	got, ok = b.Next(2)
	require.True(t, ok)
	require.Equal(t, "hi", string(got))

	require.Equal(t, 0, b.Len())
}

func TestNextPastEndFails(t *testing.T) {
	b := New([]byte{1, 2, 3})
	_, ok := b.Next(4)
	require.False(t, ok)

	// cursor is untouched by a failed Next
	require.Equal(t, 3, b.Len())
}

func TestNextNegativeFails(t *testing.T) {
	b := New([]byte{1, 2, 3})
	buf, ok := b.Next(-1)
	require.False(t, ok)
	require.Nil(t, buf)
}

func TestPeekDoesNotAdvance(t *testing.T) {
	b := New([]byte{1, 2, 3})
	got, ok := b.Peek(2)
	require.True(t, ok)
	require.Equal(t, []byte{1, 2}, got)
	require.Equal(t, 3, b.Len())
}

func TestSkip(t *testing.T) {
	b := New([]byte{1, 2, 3, 4})
	b.Skip(2)
	require.Equal(t, 2, b.Len())
	got, _ := b.Next(2)
	require.Equal(t, []byte{3, 4}, got)
}

func TestReadByteUnderflow(t *testing.T) {
	b := New(nil)
	_, err := b.ReadByte()
	require.Error(t, err)
}

func TestDetach(t *testing.T) {
	b := New(nil)
	b.AppendString("payload")
	out := b.Detach()
	require.Equal(t, "payload", string(out))
	require.Equal(t, 0, b.Len())
}

func TestReset(t *testing.T) {
	b := New([]byte{1, 2, 3})
	b.Skip(1)
	b.Reset()
	require.Equal(t, 0, b.Len())
	require.Equal(t, 0, b.Size())
}
