package codec

import (
	"io"

	"github.com/klauspost/compress/zstd"
)

// Zstd compresses with zstandard. Good ratio at high throughput; the
// default choice for region snapshots.
type Zstd struct {
	// Level selects the encoder speed/ratio tradeoff.
	// The zero value means zstd.SpeedDefault.
	Level zstd.EncoderLevel
}

// Name implements Codec.
func (Zstd) Name() string { return "zstd" }

// NewWriter implements Codec.
func (c Zstd) NewWriter(w io.Writer) (io.WriteCloser, error) {
	level := c.Level
	if level == 0 {
		level = zstd.SpeedDefault
	}
	return zstd.NewWriter(w, zstd.WithEncoderLevel(level))
}

// NewReader implements Codec.
func (Zstd) NewReader(r io.Reader) (io.ReadCloser, error) {
	d, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return d.IOReadCloser(), nil
}
