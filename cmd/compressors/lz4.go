package compressors

import (
	"io"

	"github.com/pierrec/lz4/v4"
)

// LZ4Decompressor handles LZ4 decompression
type LZ4Decompressor struct{}

// NewLZ4Decompressor creates a new LZ4 decompressor
func NewLZ4Decompressor() *LZ4Decompressor {
	return &LZ4Decompressor{}
}

// NewReader wraps r in an LZ4 decompression reader
func (c *LZ4Decompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

// Extension returns the file extension for LZ4 compression
func (c *LZ4Decompressor) Extension() string {
	return ".lz4"
}
