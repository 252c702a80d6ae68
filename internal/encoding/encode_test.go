package encoding

import (
	"testing"
	"time"

	"github.com/amqp10/go-amqp/internal/buffer"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalString(t *testing.T) {
	wr := buffer.New(nil)
	require.NoError(t, Marshal(wr, "hello amqp"))

	buf := buffer.New(wr.Detach())
	var got string
	require.NoError(t, Unmarshal(buf, &got))
	require.Equal(t, "hello amqp", got)
}

func TestMarshalUnmarshalBool(t *testing.T) {
	wr := buffer.New(nil)
	require.NoError(t, Marshal(wr, true))

	buf := buffer.New(wr.Detach())
	var got bool
	require.NoError(t, Unmarshal(buf, &got))
	require.True(t, got)
}

func TestMarshalUnmarshalUint32(t *testing.T) {
	wr := buffer.New(nil)
	require.NoError(t, Marshal(wr, uint32(1<<20)))

	buf := buffer.New(wr.Detach())
	var got uint32
	require.NoError(t, Unmarshal(buf, &got))
	require.EqualValues(t, 1<<20, got)
}

func TestMarshalUnmarshalBinary(t *testing.T) {
	wr := buffer.New(nil)
	want := []byte("deliver this payload")
	require.NoError(t, Marshal(wr, want))

	buf := buffer.New(wr.Detach())
	var got []byte
	require.NoError(t, Unmarshal(buf, &got))
	require.Equal(t, want, got)
}

func TestMarshalUnmarshalTimestamp(t *testing.T) {
	wr := buffer.New(nil)
	want := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, Marshal(wr, want))

	buf := buffer.New(wr.Detach())
	var got time.Time
	require.NoError(t, Unmarshal(buf, &got))
	require.True(t, want.Equal(got))
}

// TestMarshalIntDecodesAsInt64 documents that a bare Go int is marshaled
// using the AMQP long wire type and so comes back through the generic
// interface{} decode path as an int64, not an int.
func TestMarshalIntDecodesAsInt64(t *testing.T) {
	wr := buffer.New(nil)
	require.NoError(t, Marshal(wr, int(404)))

	buf := buffer.New(wr.Detach())
	var got interface{}
	require.NoError(t, Unmarshal(buf, &got))
	require.IsType(t, int64(0), got)
	require.EqualValues(t, 404, got)
}

func TestMarshalUnmarshalMapSymbolAny(t *testing.T) {
	wr := buffer.New(nil)
	want := map[Symbol]interface{}{
		"product": "go-amqp",
		"version": "1.0",
	}
	require.NoError(t, Marshal(wr, want))

	buf := buffer.New(wr.Detach())
	var got map[Symbol]interface{}
	require.NoError(t, Unmarshal(buf, &got))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMultiSymbolRoundTrip(t *testing.T) {
	wr := buffer.New(nil)
	want := MultiSymbol{"anonymous-relay", "shared-subscriptions"}
	require.NoError(t, Marshal(wr, want))

	buf := buffer.New(wr.Detach())
	var got MultiSymbol
	require.NoError(t, Unmarshal(buf, &got))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}
