package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/esekit/ese-verify/cmd/compressors"
	"github.com/esekit/ese-verify/cmd/records"
)

// S3Source reads exports from an S3 bucket prefix
type S3Source struct {
	name       string
	bucket     string
	prefix     string
	client     *s3.S3
	downloader *s3manager.Downloader
	logger     *slog.Logger
	keys       map[TableID]s3Export
}

type s3Export struct {
	key         string
	fingerprint string
}

// NewS3Source creates a source over an s3://bucket/prefix location
func NewS3Source(name, location string, config S3Config, logger *slog.Logger) (*S3Source, error) {
	bucket, prefix, err := parseS3Location(location)
	if err != nil {
		return nil, err
	}

	sess, err := session.NewSession(&aws.Config{
		Endpoint:         aws.String(config.Endpoint),
		Region:           aws.String(config.Region),
		Credentials:      credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, ""),
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 session: %w", err)
	}

	return &S3Source{
		name:       name,
		bucket:     bucket,
		prefix:     prefix,
		client:     s3.New(sess),
		downloader: s3manager.NewDownloader(sess),
		logger:     logger,
	}, nil
}

// parseS3Location splits s3://bucket/prefix into bucket and prefix
func parseS3Location(location string) (string, string, error) {
	trimmed := strings.TrimPrefix(location, "s3://")
	parts := strings.SplitN(trimmed, "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("invalid S3 location '%s': missing bucket", location)
	}

	prefix := ""
	if len(parts) == 2 {
		prefix = parts[1]
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return parts[0], prefix, nil
}

// Name returns the source's configured name
func (s *S3Source) Name() string {
	return s.name
}

// ListTables discovers export objects under the configured prefix
func (s *S3Source) ListTables(ctx context.Context) ([]TableHandle, error) {
	s.keys = make(map[TableID]s3Export)
	var handles []TableHandle
	var continuationToken *string

	for {
		listInput := &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.prefix),
			ContinuationToken: continuationToken,
		}

		result, err := s.client.ListObjectsV2WithContext(ctx, listInput)
		if err != nil {
			return nil, fmt.Errorf("failed to list S3 objects: %w", err)
		}

		for _, obj := range result.Contents {
			key := aws.StringValue(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}

			id, ok := parseExportName(filepath.Base(key))
			if !ok {
				continue
			}
			if _, exists := s.keys[id]; exists {
				s.logger.Warn(fmt.Sprintf("⚠️  Source %s: duplicate export for %s, ignoring %s", s.name, id, key))
				continue
			}

			fingerprint := fmt.Sprintf("%s:%d", aws.StringValue(obj.ETag), aws.Int64Value(obj.Size))
			s.keys[id] = s3Export{key: key, fingerprint: fingerprint}
			handles = append(handles, TableHandle{ID: id, Fingerprint: fingerprint})
		}

		if !aws.BoolValue(result.IsTruncated) {
			break
		}
		continuationToken = result.NextContinuationToken
	}

	s.logger.Debug(fmt.Sprintf("☁️  Source %s: found %d export objects in s3://%s/%s", s.name, len(handles), s.bucket, s.prefix))
	return handles, nil
}

// LoadTable downloads and reads one export object
func (s *S3Source) LoadTable(ctx context.Context, id TableID) ([]records.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.keys == nil {
		if _, err := s.ListTables(ctx); err != nil {
			return nil, &records.LoadError{Source: s.name, Path: s.location(), Err: err}
		}
	}

	export, ok := s.keys[id]
	if !ok {
		return nil, &records.LoadError{Source: s.name, Path: s.location(), Err: errNoExportFile}
	}
	objectPath := fmt.Sprintf("s3://%s/%s", s.bucket, export.key)

	// Download to a temp file first; decompression and row decoding then
	// run against local disk.
	tempFile, err := os.CreateTemp("", "ese-verify-*.tmp")
	if err != nil {
		return nil, &records.LoadError{Source: s.name, Path: objectPath, Err: fmt.Errorf("failed to create temp file: %w", err)}
	}
	defer os.Remove(tempFile.Name())
	defer tempFile.Close()

	_, err = s.downloader.DownloadWithContext(ctx, tempFile, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(export.key),
	})
	if err != nil {
		return nil, &records.LoadError{Source: s.name, Path: objectPath, Err: fmt.Errorf("failed to download object: %w", err)}
	}

	tempFile.Close()

	fileReader, err := os.Open(tempFile.Name())
	if err != nil {
		return nil, &records.LoadError{Source: s.name, Path: objectPath, Err: err}
	}
	defer fileReader.Close()

	reader, err := compressors.NewReader(fileReader, export.key)
	if err != nil {
		return nil, &records.LoadError{Source: s.name, Path: objectPath, Err: err}
	}
	defer reader.Close()

	return records.NewReader(reader, s.name, objectPath).ReadAll()
}

// Close is a no-op for S3 sources
func (s *S3Source) Close() error {
	return nil
}

func (s *S3Source) location() string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.prefix)
}
