package compressors

import "io"

// NoneDecompressor is a no-op decompressor that passes data through unchanged
type NoneDecompressor struct{}

// NewNoneDecompressor creates a new no-op decompressor
func NewNoneDecompressor() *NoneDecompressor {
	return &NoneDecompressor{}
}

// NewReader returns r unchanged (no decompression)
func (c *NoneDecompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

// Extension returns an empty string (no compression extension)
func (c *NoneDecompressor) Extension() string {
	return ""
}
