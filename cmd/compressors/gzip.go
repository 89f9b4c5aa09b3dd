package compressors

import (
	"compress/gzip"
	"fmt"
	"io"
)

// GzipDecompressor handles Gzip decompression
type GzipDecompressor struct{}

// NewGzipDecompressor creates a new Gzip decompressor
func NewGzipDecompressor() *GzipDecompressor {
	return &GzipDecompressor{}
}

// NewReader wraps r in a gzip decompression reader
func (c *GzipDecompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	reader, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	return reader, nil
}

// Extension returns the file extension for Gzip compression
func (c *GzipDecompressor) Extension() string {
	return ".gz"
}
