package compressors

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// ZstdDecompressor handles Zstandard decompression
type ZstdDecompressor struct {
	concurrency int
}

// NewZstdDecompressor creates a new Zstandard decompressor
func NewZstdDecompressor() *ZstdDecompressor {
	return &ZstdDecompressor{
		concurrency: 1,
	}
}

// WithConcurrency sets the number of decoder goroutines
func (c *ZstdDecompressor) WithConcurrency(n int) *ZstdDecompressor {
	c.concurrency = n
	return c
}

// NewReader wraps r in a Zstandard decompression reader
func (c *ZstdDecompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	decoder, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(c.concurrency))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return decoder.IOReadCloser(), nil
}

// Extension returns the file extension for Zstandard compression
func (c *ZstdDecompressor) Extension() string {
	return ".zst"
}
