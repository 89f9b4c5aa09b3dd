package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/esekit/ese-verify/cmd/compressors"
	"github.com/esekit/ese-verify/cmd/records"
)

const (
	schemeDir      = "dir"
	schemeS3       = "s3"
	schemePostgres = "postgres"
)

var errNoExportFile = errors.New("no export file found")

// sourceScheme returns the access scheme implied by a source location
func sourceScheme(location string) string {
	switch {
	case strings.HasPrefix(location, "s3://"):
		return schemeS3
	case strings.HasPrefix(location, "postgres://"), strings.HasPrefix(location, "postgresql://"):
		return schemePostgres
	default:
		return schemeDir
	}
}

// TableID identifies one table within one database file. Export file names
// encode it as {database}_{table} with the first underscore as separator,
// since database names never contain underscores but table names may.
type TableID struct {
	Database string `json:"database"`
	Table    string `json:"table"`
}

func (t TableID) String() string {
	return t.Database + "/" + t.Table
}

// TableHandle is one discovered table on one source. The fingerprint is a
// cheap content stamp (file size and mtime, or S3 ETag) used for cache
// validation; sources that cannot fingerprint cheaply leave it empty.
type TableHandle struct {
	ID          TableID
	Fingerprint string
}

// RecordSource is one place exports live: a local directory, an S3 prefix,
// or a staging database. Discovery is separate from loading so the union of
// tables across sources can be computed before any rows are read.
type RecordSource interface {
	Name() string
	ListTables(ctx context.Context) ([]TableHandle, error)
	LoadTable(ctx context.Context, id TableID) ([]records.Record, error)
	Close() error
}

// NewRecordSource creates the source implementation matching the location's
// scheme. Plain paths and file:// locations are directories.
func NewRecordSource(config SourceConfig, s3 S3Config, pgSchema string, logger *slog.Logger) (RecordSource, error) {
	switch sourceScheme(config.Location) {
	case schemeS3:
		return NewS3Source(config.Name, config.Location, s3, logger)
	case schemePostgres:
		return NewPostgresSource(config.Name, config.Location, pgSchema, logger)
	default:
		root := strings.TrimPrefix(config.Location, "file://")
		return NewDirSource(config.Name, root, logger), nil
	}
}

// parseExportName maps an export file name onto its table identity. Only
// {database}_{table}.jsonl files count, optionally with a recognized
// compression suffix; everything else in a source directory is ignored.
func parseExportName(filename string) (TableID, bool) {
	_, base := compressors.DetectCompression(filename)
	if !strings.HasSuffix(base, ".jsonl") {
		return TableID{}, false
	}

	stem := strings.TrimSuffix(base, ".jsonl")
	parts := strings.SplitN(stem, "_", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return TableID{}, false
	}
	return TableID{Database: parts[0], Table: parts[1]}, true
}

// DirSource reads exports from a local directory
type DirSource struct {
	name   string
	root   string
	logger *slog.Logger
	files  map[TableID]dirExport
}

type dirExport struct {
	path        string
	fingerprint string
}

// NewDirSource creates a source over a directory of export files
func NewDirSource(name, root string, logger *slog.Logger) *DirSource {
	return &DirSource{
		name:   name,
		root:   root,
		logger: logger,
	}
}

// Name returns the source's configured name
func (s *DirSource) Name() string {
	return s.name
}

// ListTables scans the directory for export files
func (s *DirSource) ListTables(ctx context.Context) ([]TableHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list source directory: %w", err)
	}

	s.files = make(map[TableID]dirExport)
	var handles []TableHandle
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		id, ok := parseExportName(entry.Name())
		if !ok {
			continue
		}
		if _, exists := s.files[id]; exists {
			// Same table exported twice with different compression; the
			// first name in directory order wins.
			s.logger.Warn(fmt.Sprintf("⚠️  Source %s: duplicate export for %s, ignoring %s", s.name, id, entry.Name()))
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat export file %s: %w", entry.Name(), err)
		}

		path := filepath.Join(s.root, entry.Name())
		fingerprint := fmt.Sprintf("%d:%d", info.Size(), info.ModTime().UnixNano())
		s.files[id] = dirExport{path: path, fingerprint: fingerprint}
		handles = append(handles, TableHandle{ID: id, Fingerprint: fingerprint})
	}

	s.logger.Debug(fmt.Sprintf("📁 Source %s: found %d export files in %s", s.name, len(handles), s.root))
	return handles, nil
}

// LoadTable reads and normalizes every record of one export file
func (s *DirSource) LoadTable(ctx context.Context, id TableID) ([]records.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.files == nil {
		if _, err := s.ListTables(ctx); err != nil {
			return nil, &records.LoadError{Source: s.name, Path: s.root, Err: err}
		}
	}

	export, ok := s.files[id]
	if !ok {
		return nil, &records.LoadError{
			Source: s.name,
			Path:   filepath.Join(s.root, fmt.Sprintf("%s_%s.jsonl", id.Database, id.Table)),
			Err:    errNoExportFile,
		}
	}

	file, err := os.Open(export.path)
	if err != nil {
		return nil, &records.LoadError{Source: s.name, Path: export.path, Err: err}
	}
	defer file.Close()

	reader, err := compressors.NewReader(file, export.path)
	if err != nil {
		return nil, &records.LoadError{Source: s.name, Path: export.path, Err: err}
	}
	defer reader.Close()

	return records.NewReader(reader, s.name, export.path).ReadAll()
}

// Close is a no-op for directory sources
func (s *DirSource) Close() error {
	return nil
}
