package codec

import (
	"io"

	"github.com/pierrec/lz4/v4"
)

// LZ4 compresses with lz4. Lower ratio than zstd but very fast decode;
// useful when restore latency matters more than snapshot size.
type LZ4 struct{}

// Name implements Codec.
func (LZ4) Name() string { return "lz4" }

// NewWriter implements Codec.
func (LZ4) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return lz4.NewWriter(w), nil
}

// NewReader implements Codec.
func (LZ4) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}
