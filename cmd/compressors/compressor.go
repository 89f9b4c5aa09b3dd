package compressors

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrUnsupportedCompression is returned when an unsupported compression type is requested
var ErrUnsupportedCompression = errors.New("unsupported compression type")

// Decompressor defines the interface for decompression handlers
type Decompressor interface {
	// NewReader wraps r in a decompressing reader
	NewReader(r io.Reader) (io.ReadCloser, error)

	// Extension returns the file extension for this compression (e.g., ".zst", ".lz4", ".gz")
	Extension() string
}

// GetDecompressor returns the appropriate decompressor based on the compression string
func GetDecompressor(compression string) (Decompressor, error) {
	switch compression {
	case "zstd":
		return NewZstdDecompressor(), nil
	case "lz4":
		return NewLZ4Decompressor(), nil
	case "gzip":
		return NewGzipDecompressor(), nil
	case "none":
		return NewNoneDecompressor(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCompression, compression)
	}
}

// DetectCompression returns the compression type implied by the file name,
// along with the name with its compression suffix removed. Names without a
// recognized suffix map to "none".
func DetectCompression(filename string) (string, string) {
	switch {
	case strings.HasSuffix(filename, ".gz"):
		return "gzip", strings.TrimSuffix(filename, ".gz")
	case strings.HasSuffix(filename, ".zst"):
		return "zstd", strings.TrimSuffix(filename, ".zst")
	case strings.HasSuffix(filename, ".lz4"):
		return "lz4", strings.TrimSuffix(filename, ".lz4")
	default:
		return "none", filename
	}
}

// NewReader wraps r in the decompressor implied by the file name
func NewReader(r io.Reader, filename string) (io.ReadCloser, error) {
	compression, _ := DetectCompression(filename)
	decompressor, err := GetDecompressor(compression)
	if err != nil {
		return nil, err
	}
	return decompressor.NewReader(r)
}
