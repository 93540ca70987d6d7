package pmem

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinzs2048/pmem/blobstore"
	"github.com/kevinzs2048/pmem/codec"
)

func fillPattern(b []byte) {
	for i := range b {
		b[i] = byte(i * 31)
	}
}

func TestSnapshot_RoundTrip(t *testing.T) {
	codecs := []codec.Codec{codec.Zstd{}, codec.LZ4{}, codec.None{}}

	for _, c := range codecs {
		t.Run(c.Name(), func(t *testing.T) {
			src := newTestMap(t, 8192, WithCodec(c))
			fillPattern(src.Bytes())

			var buf bytes.Buffer
			require.NoError(t, src.Snapshot(&buf))

			dst := newTestMap(t, 8192)
			require.NoError(t, dst.Restore(&buf))
			assert.Equal(t, src.Bytes(), dst.Bytes())
		})
	}
}

func TestSnapshot_SizeMismatch(t *testing.T) {
	src := newTestMap(t, 4096)
	var buf bytes.Buffer
	require.NoError(t, src.Snapshot(&buf))

	dst := newTestMap(t, 8192)
	err := dst.Restore(&buf)

	var sm *SizeMismatchError
	require.ErrorAs(t, err, &sm)
	assert.Equal(t, int64(4096), sm.Snapshot)
	assert.Equal(t, int64(8192), sm.Mapping)
}

func TestSnapshot_BadMagic(t *testing.T) {
	m := newTestMap(t, 4096)

	err := m.Restore(bytes.NewReader([]byte("notasnapshotxxxxxxxxxxxxxxxx")))
	assert.ErrorIs(t, err, ErrSnapshotCorrupt)
}

func TestSnapshot_Truncated(t *testing.T) {
	src := newTestMap(t, 4096)
	fillPattern(src.Bytes())

	var buf bytes.Buffer
	require.NoError(t, src.Snapshot(&buf))

	dst := newTestMap(t, 4096)
	err := dst.Restore(bytes.NewReader(buf.Bytes()[:buf.Len()/2]))
	assert.ErrorIs(t, err, ErrSnapshotCorrupt)
}

func TestSnapshot_ChecksumMismatch(t *testing.T) {
	src := newTestMap(t, 4096, WithCodec(codec.None{}))
	fillPattern(src.Bytes())

	var buf bytes.Buffer
	require.NoError(t, src.Snapshot(&buf))

	// Flip a payload byte. With the passthrough codec the payload starts
	// right after the header, so decoding still succeeds and the checksum
	// must catch the corruption.
	data := buf.Bytes()
	data[len(data)-1] ^= 0xFF

	dst := newTestMap(t, 4096)
	err := dst.Restore(bytes.NewReader(data))
	require.ErrorIs(t, err, ErrSnapshotCorrupt)

	var se *SnapshotError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Reason, "checksum mismatch")
}

func TestSnapshot_RestoreLeavesMappingUntouchedOnCorruption(t *testing.T) {
	src := newTestMap(t, 4096, WithCodec(codec.None{}))
	fillPattern(src.Bytes())

	var buf bytes.Buffer
	require.NoError(t, src.Snapshot(&buf))
	data := buf.Bytes()
	data[len(data)-1] ^= 0xFF

	dst := newTestMap(t, 4096)
	copy(dst.Bytes(), bytes.Repeat([]byte{0x11}, 4096))

	require.Error(t, dst.Restore(bytes.NewReader(data)))
	assert.Equal(t, bytes.Repeat([]byte{0x11}, 4096), dst.Bytes())
}

func TestSnapshot_BlobStore(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	src := newTestMap(t, 8192)
	fillPattern(src.Bytes())
	require.NoError(t, src.SnapshotTo(ctx, store, "region-1"))

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"region-1"}, names)

	dst := newTestMap(t, 8192)
	require.NoError(t, dst.RestoreFrom(ctx, store, "region-1"))
	assert.Equal(t, src.Bytes(), dst.Bytes())

	err = dst.RestoreFrom(ctx, store, "missing")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestSnapshot_DrainsDeferredWrites(t *testing.T) {
	m := newTestMap(t, 8192, WithDeferredFlush())

	dst, err := m.Slice(0, 64)
	require.NoError(t, err)
	m.CopyFn()(dst, bytes.Repeat([]byte{0xDD}, 64), 0)

	var buf bytes.Buffer
	require.NoError(t, m.Snapshot(&buf))

	other := newTestMap(t, 8192)
	require.NoError(t, other.Restore(&buf))
	assert.Equal(t, bytes.Repeat([]byte{0xDD}, 64), other.Bytes()[:64])
}
