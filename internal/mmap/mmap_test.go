package mmap

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempFile(t *testing.T, size int) *os.File {
	t.Helper()

	f, err := os.CreateTemp(t.TempDir(), "mmap_test")
	require.NoError(t, err)
	require.NoError(t, f.Truncate(int64(size)))

	t.Cleanup(func() { f.Close() })
	return f
}

func TestMapFile_WriteFlushRead(t *testing.T) {
	const size = 8192

	f := tempFile(t, size)

	m, err := MapFile(f, size, false)
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, size, m.Size())
	assert.False(t, m.Sync())

	payload := []byte("persistent payload")
	copy(m.Bytes()[100:], payload)
	require.NoError(t, m.Flush(100, len(payload)))

	// The flushed bytes must be visible through the file.
	buf := make([]byte, len(payload))
	_, err = f.ReadAt(buf, 100)
	require.NoError(t, err)
	assert.Equal(t, payload, buf)
}

func TestMapFile_SyncFallback(t *testing.T) {
	// tmpfs/ext4 without DAX refuse MAP_SYNC; non-Linux always refuses.
	f := tempFile(t, 4096)

	m, err := MapFile(f, 4096, true)
	if err != nil {
		assert.ErrorIs(t, err, ErrSyncUnsupported)
		return
	}
	// Running on a DAX mount: the mapping must report itself synchronous.
	defer m.Close()
	assert.True(t, m.Sync())
}

func TestMapFile_InvalidSize(t *testing.T) {
	f := tempFile(t, 4096)

	_, err := MapFile(f, 0, false)
	assert.ErrorIs(t, err, ErrInvalidSize)

	_, err = MapFile(f, -1, false)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestFlush_Bounds(t *testing.T) {
	f := tempFile(t, 4096)

	m, err := MapFile(f, 4096, false)
	require.NoError(t, err)
	defer m.Close()

	tests := []struct {
		name    string
		off, n  int
		wantErr error
	}{
		{name: "whole mapping", off: 0, n: 4096},
		{name: "zero length", off: 128, n: 0},
		{name: "interior", off: 17, n: 33},
		{name: "negative offset", off: -1, n: 10, wantErr: ErrOutOfBounds},
		{name: "negative length", off: 0, n: -1, wantErr: ErrOutOfBounds},
		{name: "past end", off: 4000, n: 200, wantErr: ErrOutOfBounds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.Flush(tt.off, tt.n)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMapping_CloseIdempotent(t *testing.T) {
	f := tempFile(t, 4096)

	m, err := MapFile(f, 4096, false)
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.Nil(t, m.Bytes())
	assert.True(t, errors.Is(m.Flush(0, 1), ErrClosed))
	assert.True(t, errors.Is(m.Advise(AccessRandom), ErrClosed))
}

func TestMapAnon(t *testing.T) {
	m, err := MapAnon(1 << 20)
	require.NoError(t, err)
	defer m.Close()

	b := m.Bytes()
	require.Len(t, b, 1<<20)

	// Anonymous memory must be zeroed and writable.
	assert.Equal(t, byte(0), b[0])
	b[0] = 0xAB
	assert.Equal(t, byte(0xAB), b[0])

	// Flush on an anonymous mapping is a no-op.
	assert.NoError(t, m.Flush(0, 64))

	_, err = MapAnon(0)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestMapping_Advise(t *testing.T) {
	m, err := MapAnon(1 << 16)
	require.NoError(t, err)
	defer m.Close()

	for _, p := range []AccessPattern{AccessDefault, AccessSequential, AccessRandom, AccessWillNeed} {
		assert.NoError(t, m.Advise(p))
	}
}
