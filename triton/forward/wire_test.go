package forward

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetaHeaderIsExactly131Bytes(t *testing.T) {
	buf, err := EncodeMeta("orders", "order-42")
	require.NoError(t, err)
	require.Len(t, buf, 131)
	require.Equal(t, WireVersion, buf[0])
}

func TestEncodeDecodeMetaRoundTrip(t *testing.T) {
	buf, err := EncodeMeta("orders", "order-42")
	require.NoError(t, err)

	meta, err := DecodeMeta(buf)
	require.NoError(t, err)
	require.Equal(t, WireVersion, meta.Version)
	require.Equal(t, "orders", meta.StreamName)
	require.Equal(t, "order-42", meta.PartitionKey)
}

func TestEncodeMetaPascalLengthPrefixMatchesByteLength(t *testing.T) {
	name := strings.Repeat("a", 64)
	buf, err := EncodeMeta(name, "k")
	require.NoError(t, err)
	require.Equal(t, byte(64), buf[1])
}

func TestEncodeMetaRejectsOversizedField(t *testing.T) {
	_, err := EncodeMeta(strings.Repeat("a", 65), "k")
	require.Error(t, err)
}

func TestDecodeMetaRejectsWrongSize(t *testing.T) {
	_, err := DecodeMeta(make([]byte, 100))
	require.Error(t, err)
}

func TestDecodeMetaRejectsWrongVersion(t *testing.T) {
	buf, err := EncodeMeta("orders", "k")
	require.NoError(t, err)
	buf[0] = 0x01
	_, err = DecodeMeta(buf)
	require.Error(t, err)
}

func TestWriteReadFrameRoundTrip(t *testing.T) {
	meta, err := EncodeMeta("orders", "order-42")
	require.NoError(t, err)
	body := []byte{0x81, 0xa1, 'n', 0x01} // arbitrary msgpack-shaped bytes

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, meta, body))

	frame, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, "orders", frame.Meta.StreamName)
	require.Equal(t, "order-42", frame.Meta.PartitionKey)
	require.Equal(t, body, frame.Body)
}

func TestReadFrameConcatenatedMessages(t *testing.T) {
	var buf bytes.Buffer
	for i := 0; i < 3; i++ {
		meta, err := EncodeMeta("orders", "k")
		require.NoError(t, err)
		require.NoError(t, WriteFrame(&buf, meta, []byte{byte(i)}))
	}

	for i := 0; i < 3; i++ {
		frame, err := ReadFrame(&buf)
		require.NoError(t, err)
		require.Equal(t, []byte{byte(i)}, frame.Body)
	}
}
