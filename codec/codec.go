// Package codec centralizes snapshot compression.
//
// Codec selection is a compatibility boundary: snapshot headers are
// self-describing and store the codec name, so a snapshot written with one
// codec is readable as long as that codec is still registered under the
// same name.
package codec

import "io"

// Codec wraps a stream in a compressor/decompressor.
// Implementations must be safe for concurrent use.
type Codec interface {
	// Name is the stable identifier stored in snapshot headers.
	Name() string
	// NewWriter wraps w; Close flushes the compressed stream.
	NewWriter(w io.Writer) (io.WriteCloser, error)
	// NewReader wraps r for decompression.
	NewReader(r io.Reader) (io.ReadCloser, error)
}

// Default is the codec used when none is configured.
var Default Codec = Zstd{}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "zstd":
		return Zstd{}, true
	case "lz4":
		return LZ4{}, true
	case "none":
		return None{}, true
	default:
		return nil, false
	}
}

// None is a passthrough codec.
type None struct{}

// Name implements Codec.
func (None) Name() string { return "none" }

// NewWriter implements Codec.
func (None) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

// NewReader implements Codec.
func (None) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
