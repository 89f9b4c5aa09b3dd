package cmd

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Static errors for configuration validation
var (
	ErrSourcesRequired        = errors.New("at least two sources are required")
	ErrSourceFlagFormat       = errors.New("source flag must be name=location")
	ErrSourceNameInvalid      = errors.New("source name is invalid: must be 1-32 characters and contain only letters, numbers, dashes, and underscores")
	ErrSourceNameDuplicate    = errors.New("source names must be unique")
	ErrSourceLocationRequired = errors.New("source location is required")
	ErrKeyFieldInvalid        = errors.New("key field is invalid: must start with a letter or underscore, and contain only letters, numbers, and underscores")
	ErrTableFilterInvalid     = errors.New("table filter is invalid: must be 1-128 characters without path separators")
	ErrDatabaseFilterInvalid  = errors.New("database filter is invalid: must be 1-128 characters without path separators or underscores")
	ErrWorkersMinimum         = errors.New("workers must be at least 1")
	ErrWorkersMaximum         = errors.New("workers must not exceed 1000")
	ErrOutputFormatInvalid    = errors.New("output format must be one of: text, json")
	ErrS3EndpointRequired     = errors.New("S3 endpoint is required when an s3:// source is configured")
	ErrS3AccessKeyRequired    = errors.New("S3 access key is required when an s3:// source is configured")
	ErrS3SecretKeyRequired    = errors.New("S3 secret key is required when an s3:// source is configured")
	ErrS3RegionInvalid        = errors.New("S3 region contains invalid characters or is too long")
	ErrPGSchemaInvalid        = errors.New("postgres schema is invalid: must start with a letter or underscore, and contain only letters, numbers, and underscores")
)

const regionAuto = "auto"

type Config struct {
	Debug      bool
	LogFormat  string
	Sources    []SourceConfig
	Tables     []string
	Databases  []string
	KeyFields  []string
	Workers    int
	Output     string
	OutputFile string
	NoCache    bool
	PGSchema   string
	S3         S3Config
}

// SourceConfig names one export source and where to find it. The location is
// a directory path, an s3://bucket/prefix location, or a postgres://
// connection string.
type SourceConfig struct {
	Name     string `mapstructure:"name"`
	Location string `mapstructure:"location"`
}

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
}

// validIdentifier checks if a string is a valid identifier for field names
// and SQL schemas, to prevent SQL injection attacks
var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// isValidSourceName validates that a source name is safe to use in report
// labels and cache file names
func isValidSourceName(name string) bool {
	if name == "" || len(name) > 32 {
		return false
	}

	matched, _ := regexp.MatchString(`^[a-zA-Z0-9_-]+$`, name)
	return matched
}

// isValidRegion validates that an S3 region is reasonable
func isValidRegion(region string) bool {
	// Empty region is not valid (except for regionAuto which is handled separately)
	if region == "" {
		return false
	}

	// Region should be reasonable length
	if len(region) > 50 {
		return false
	}

	// Region should only contain alphanumeric, dash, and underscore
	matched, _ := regexp.MatchString(`^[a-zA-Z0-9_-]+$`, region)
	return matched
}

// isValidTableFilter validates a table name filter. ESE table names can be
// brace-wrapped GUIDs, so the filter only excludes path separators, which an
// export file name can never contain.
func isValidTableFilter(name string) bool {
	if name == "" || len(name) > 128 {
		return false
	}
	return !strings.ContainsAny(name, "/\\")
}

// isValidDatabaseFilter validates a database name filter. Database names
// additionally never contain underscores: the first underscore in an export
// file name separates database from table.
func isValidDatabaseFilter(name string) bool {
	return isValidTableFilter(name) && !strings.Contains(name, "_")
}

// isValidOutputFormat validates the report output format
func isValidOutputFormat(format string) bool {
	validFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	return validFormats[format]
}

func (c *Config) Validate() error {
	// Validate sources: a comparison needs at least two of them
	if len(c.Sources) < 2 {
		return fmt.Errorf("%w, got %d", ErrSourcesRequired, len(c.Sources))
	}

	seen := make(map[string]bool, len(c.Sources))
	for _, source := range c.Sources {
		if !isValidSourceName(source.Name) {
			return fmt.Errorf("%w: '%s'", ErrSourceNameInvalid, source.Name)
		}
		if seen[source.Name] {
			return fmt.Errorf("%w: '%s'", ErrSourceNameDuplicate, source.Name)
		}
		seen[source.Name] = true

		if source.Location == "" {
			return fmt.Errorf("%w: source '%s'", ErrSourceLocationRequired, source.Name)
		}
	}

	// Validate key fields used for row alignment
	for _, field := range c.KeyFields {
		if !validIdentifier.MatchString(field) {
			return fmt.Errorf("%w: '%s'", ErrKeyFieldInvalid, field)
		}
	}

	// Validate table and database filters
	for _, table := range c.Tables {
		if !isValidTableFilter(table) {
			return fmt.Errorf("%w: '%s'", ErrTableFilterInvalid, table)
		}
	}
	for _, database := range c.Databases {
		if !isValidDatabaseFilter(database) {
			return fmt.Errorf("%w: '%s'", ErrDatabaseFilterInvalid, database)
		}
	}

	// Validate workers count
	if c.Workers < 1 {
		return ErrWorkersMinimum
	}
	// Prevent integer overflow and excessive resource usage
	// More than 1000 workers is unreasonable and could cause issues
	if c.Workers > 1000 {
		return fmt.Errorf("%w, got %d", ErrWorkersMaximum, c.Workers)
	}

	// Validate report output format
	if !isValidOutputFormat(c.Output) {
		return fmt.Errorf("%w: '%s'", ErrOutputFormatInvalid, c.Output)
	}

	// Validate S3 configuration, required only when an s3:// source is used
	if c.hasSourceScheme(schemeS3) {
		if c.S3.Endpoint == "" {
			return ErrS3EndpointRequired
		}
		if c.S3.AccessKey == "" {
			return ErrS3AccessKeyRequired
		}
		if c.S3.SecretKey == "" {
			return ErrS3SecretKeyRequired
		}
		if c.S3.Region != "" && c.S3.Region != regionAuto {
			if !isValidRegion(c.S3.Region) {
				return fmt.Errorf("%w: %s", ErrS3RegionInvalid, c.S3.Region)
			}
		}
	}

	// Validate postgres schema, used only when a postgres:// source is present
	if c.hasSourceScheme(schemePostgres) {
		if c.PGSchema != "" && !validIdentifier.MatchString(c.PGSchema) {
			return fmt.Errorf("%w: '%s'", ErrPGSchemaInvalid, c.PGSchema)
		}
	}

	return nil
}

func (c *Config) hasSourceScheme(scheme string) bool {
	for _, source := range c.Sources {
		if sourceScheme(source.Location) == scheme {
			return true
		}
	}
	return false
}
