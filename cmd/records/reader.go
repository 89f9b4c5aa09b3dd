package records

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

const (
	initialLineBuffer = 64 * 1024
	// Hex-encoded long values inflate single lines well past the scanner
	// default, so the ceiling is generous.
	maxLineBuffer = 64 * 1024 * 1024
)

// LoadError describes why an export could not be read: an unreadable file or
// a malformed line. A table with any LoadError on any source cannot be
// compared and is classified as missing inputs.
type LoadError struct {
	Source string
	Path   string
	Line   int
	Err    error
}

func (e *LoadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("source %s: %s line %d: %v", e.Source, e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("source %s: %s: %v", e.Source, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Reader decodes line-delimited JSON records from one export stream. Every
// line is a self-describing JSON object; blank lines are skipped. Numbers are
// decoded as json.Number so the int/float distinction survives into the
// value model.
type Reader struct {
	scanner *bufio.Scanner
	reader  io.ReadCloser
	source  string
	path    string
	line    int
}

// NewReader creates a reader over r. The source name and path only label
// load errors.
func NewReader(r io.Reader, source, path string) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, initialLineBuffer), maxLineBuffer)
	return &Reader{
		scanner: scanner,
		source:  source,
		path:    path,
	}
}

// NewReaderWithCloser creates a reader that closes r on Close.
func NewReaderWithCloser(r io.ReadCloser, source, path string) *Reader {
	reader := NewReader(r, source, path)
	reader.reader = r
	return reader
}

// ReadAll reads every record from the stream. The first malformed line or
// read failure aborts the load with a LoadError; a partially readable export
// is not comparable.
func (r *Reader) ReadAll() ([]Record, error) {
	var rows []Record

	for r.scanner.Scan() {
		r.line++
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		record, err := r.decodeLine(line)
		if err != nil {
			return nil, &LoadError{Source: r.source, Path: r.path, Line: r.line, Err: err}
		}
		rows = append(rows, record)
	}

	if err := r.scanner.Err(); err != nil {
		return nil, &LoadError{Source: r.source, Path: r.path, Line: r.line, Err: err}
	}

	return rows, nil
}

func (r *Reader) decodeLine(line []byte) (Record, error) {
	decoder := json.NewDecoder(bytes.NewReader(line))
	decoder.UseNumber()

	var raw map[string]interface{}
	if err := decoder.Decode(&raw); err != nil {
		return Record{}, fmt.Errorf("failed to parse JSON line: %w", err)
	}
	if decoder.More() {
		return Record{}, fmt.Errorf("trailing data after JSON object")
	}

	fields := make(map[string]Value, len(raw))
	for name, value := range raw {
		fields[name] = FromJSON(value)
	}
	return NewRecord(fields), nil
}

// Close closes the underlying reader if it's closable
func (r *Reader) Close() error {
	if r.reader != nil {
		return r.reader.Close()
	}
	return nil
}
