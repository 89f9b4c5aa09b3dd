package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/esekit/ese-verify/cmd/comparison"
)

var ErrNoTablesDiscovered = errors.New("no tables discovered in any source")

// Verifier runs one verification: open every source, discover the union of
// their tables, load and classify each table, then roll the verdicts up.
type Verifier struct {
	config   *Config
	logger   *slog.Logger
	reporter *Reporter

	sources []RecordSource
	// handles maps source name to table key to the handle discovery found.
	handles map[string]map[string]TableHandle

	cacheMu sync.Mutex
	caches  map[string]*LoadCache

	runMu   sync.Mutex
	runInfo *RunInfo
}

func NewVerifier(config *Config, logger *slog.Logger) *Verifier {
	return &Verifier{
		config:   config,
		logger:   logger,
		reporter: NewReporter(logger),
	}
}

func (v *Verifier) Run(ctx context.Context) (*RunReport, error) {
	v.warnConcurrentRun()

	// Write PID file
	if err := WritePIDFile(); err != nil {
		return nil, fmt.Errorf("failed to write PID file: %w", err)
	}
	defer func() {
		_ = RemovePIDFile()
	}()

	v.runInfo = &RunInfo{
		PID:          os.Getpid(),
		StartTime:    time.Now(),
		Sources:      configSourceNames(v.config),
		CurrentStage: "Opening sources",
	}
	_ = WriteRunInfo(v.runInfo)
	defer func() {
		_ = RemoveRunFile()
	}()

	if err := v.openSources(); err != nil {
		return nil, err
	}
	defer v.closeSources()

	tables, err := v.discoverTables(ctx)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return nil, ErrNoTablesDiscovered
	}

	v.loadCaches()

	v.logger.Info(fmt.Sprintf("🔍 Verifying %d tables across %d sources", len(tables), len(v.sources)))
	v.logger.Info("")

	v.runInfo.CurrentStage = "Verifying tables"
	v.runInfo.TotalTables = len(tables)
	_ = WriteRunInfo(v.runInfo)

	// Tables are independent, so they run on a bounded pool. Results land
	// in discovery order regardless of completion order.
	results := make([]comparison.TableResult, len(tables))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(v.config.Workers)

	for i, table := range tables {
		i, table := i, table
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			results[i] = v.verifyTable(groupCtx, table)
			v.reporter.StreamResult(results[i])

			v.runMu.Lock()
			v.runInfo.CompletedTables++
			_ = WriteRunInfo(v.runInfo)
			v.runMu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v.saveCaches()

	report := BuildReport(v.sourceNames(), results)
	v.reporter.Summary(report)
	return report, nil
}

// warnConcurrentRun reports a verification that is still running before this
// one starts. Concurrent runs are not fatal, but they race on the shared
// load cache files.
func (v *Verifier) warnConcurrentRun() {
	pid, err := ReadPIDFile()
	if err != nil || pid == os.Getpid() || !IsProcessRunning(pid) {
		return
	}

	if info, err := ReadRunInfo(); err == nil {
		v.logger.Warn(fmt.Sprintf("⚠️  Another verification (pid %d, started %s) appears to be running", pid, info.StartTime.Format("15:04:05")))
	} else {
		v.logger.Warn(fmt.Sprintf("⚠️  Another verification (pid %d) appears to be running", pid))
	}
}

// WriteReport writes the report document when the run asked for one, either
// machine-readable output or an output file.
func (v *Verifier) WriteReport(report *RunReport) error {
	if v.config.Output != "json" && v.config.OutputFile == "" {
		return nil
	}
	return v.reporter.WriteReport(report, v.config.Output, v.config.OutputFile)
}

func (v *Verifier) openSources() error {
	for _, sourceConfig := range v.config.Sources {
		source, err := NewRecordSource(sourceConfig, v.config.S3, v.config.PGSchema, v.logger)
		if err != nil {
			v.closeSources()
			return fmt.Errorf("source %s: %w", sourceConfig.Name, err)
		}
		v.sources = append(v.sources, source)
	}
	return nil
}

func (v *Verifier) closeSources() {
	for _, source := range v.sources {
		if err := source.Close(); err != nil {
			v.logger.Debug(fmt.Sprintf("Source %s: close failed: %v", source.Name(), err))
		}
	}
	v.sources = nil
}

func (v *Verifier) sourceNames() []string {
	names := make([]string, 0, len(v.sources))
	for _, source := range v.sources {
		names = append(names, source.Name())
	}
	return names
}

// configSourceNames lists source names before any source has been opened
func configSourceNames(config *Config) []string {
	names := make([]string, 0, len(config.Sources))
	for _, source := range config.Sources {
		names = append(names, source.Name)
	}
	return names
}

// discoverTables builds the union of every source's tables, filtered by the
// configured table and database selections, sorted by database then table.
// A source whose listing fails still participates: every table the others
// found will report its load failure individually.
func (v *Verifier) discoverTables(ctx context.Context) ([]TableID, error) {
	v.handles = make(map[string]map[string]TableHandle, len(v.sources))

	seen := make(map[TableID]bool)
	var tables []TableID

	for _, source := range v.sources {
		handles, err := source.ListTables(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			v.logger.Warn(fmt.Sprintf("⚠️  Source %s: listing failed: %v", source.Name(), err))
			v.handles[source.Name()] = map[string]TableHandle{}
			continue
		}

		byKey := make(map[string]TableHandle, len(handles))
		for _, handle := range handles {
			byKey[handle.ID.String()] = handle
			if !seen[handle.ID] && v.tableSelected(handle.ID) {
				seen[handle.ID] = true
				tables = append(tables, handle.ID)
			}
		}
		v.handles[source.Name()] = byKey
		v.logger.Info(fmt.Sprintf("📋 Source %s: %d tables", source.Name(), len(handles)))
	}

	sort.Slice(tables, func(i, j int) bool {
		if tables[i].Database != tables[j].Database {
			return tables[i].Database < tables[j].Database
		}
		return tables[i].Table < tables[j].Table
	})
	return tables, nil
}

func (v *Verifier) tableSelected(id TableID) bool {
	if len(v.config.Databases) > 0 && !containsFold(v.config.Databases, id.Database) {
		return false
	}
	if len(v.config.Tables) > 0 && !containsFold(v.config.Tables, id.Table) {
		return false
	}
	return true
}

// containsFold matches case-insensitively: export names inherit their casing
// from Windows database files, so filters should not have to.
func containsFold(haystack []string, needle string) bool {
	for _, candidate := range haystack {
		if strings.EqualFold(candidate, needle) {
			return true
		}
	}
	return false
}

// verifyTable loads one table from every source and classifies the results.
// When every source's export is unchanged since the last run the cached
// digests can settle the verdict without reading a single row.
func (v *Verifier) verifyTable(ctx context.Context, table TableID) comparison.TableResult {
	if result, ok := v.cachedResult(table); ok {
		return result
	}

	inputs := make([]comparison.SourceRows, len(v.sources))
	for i, source := range v.sources {
		rows, err := source.LoadTable(ctx, table)
		inputs[i] = comparison.SourceRows{Source: source.Name(), Rows: rows, Err: err}
	}

	result := comparison.Classify(table.Database, table.Table, inputs, v.config.KeyFields)
	v.updateCaches(table, inputs, result)
	return result
}

// cachedResult settles a table from the cache alone. That is only sound when
// every source has a valid entry for its current export fingerprint: all
// digests equal means perfect, a remembered load failure means missing
// inputs. Anything else needs real rows for evidence.
func (v *Verifier) cachedResult(table TableID) (comparison.TableResult, bool) {
	if v.caches == nil {
		return comparison.TableResult{}, false
	}

	v.cacheMu.Lock()
	defer v.cacheMu.Unlock()

	key := table.String()
	entries := make([]LoadCacheEntry, len(v.sources))
	for i, source := range v.sources {
		handle, ok := v.handles[source.Name()][key]
		if !ok {
			return comparison.TableResult{}, false
		}
		entry, ok := v.caches[source.Name()].get(key, handle.Fingerprint)
		if !ok {
			return comparison.TableResult{}, false
		}
		entries[i] = entry
	}

	result := comparison.TableResult{Database: table.Database, Table: table.Table}

	for i, source := range v.sources {
		if entries[i].LoadError != "" {
			result.Missing = append(result.Missing, comparison.MissingInput{
				Source: source.Name(),
				Reason: entries[i].LoadError,
			})
		}
	}
	if len(result.Missing) > 0 {
		v.logger.Debug(fmt.Sprintf("  💾 %s: unchanged since last run, load still failing", key))
		result.Status = comparison.StatusMissingInputs
		return result, true
	}

	for i := range entries {
		if entries[i].Digest == "" {
			return comparison.TableResult{}, false
		}
		if entries[i].Digest != entries[0].Digest || entries[i].Rows != entries[0].Rows {
			return comparison.TableResult{}, false
		}
	}

	v.logger.Debug(fmt.Sprintf("  💾 %s: unchanged since last run, digests match", key))
	result.Status = comparison.StatusPerfect
	result.RowCount = entries[0].Rows
	result.Counts = make(map[string]int, len(v.sources))
	for _, source := range v.sources {
		result.Counts[source.Name()] = entries[0].Rows
	}
	return result, true
}

func (v *Verifier) updateCaches(table TableID, inputs []comparison.SourceRows, result comparison.TableResult) {
	if v.caches == nil {
		return
	}

	v.cacheMu.Lock()
	defer v.cacheMu.Unlock()

	key := table.String()
	for i, source := range v.sources {
		handle, ok := v.handles[source.Name()][key]
		if !ok {
			continue
		}
		input := inputs[i]
		if input.Err != nil {
			v.caches[source.Name()].set(key, handle.Fingerprint, 0, "", input.Err.Error())
			continue
		}
		v.caches[source.Name()].set(key, handle.Fingerprint, len(input.Rows), result.Digests[input.Source], "")
	}
}

func (v *Verifier) loadCaches() {
	if v.config.NoCache {
		return
	}

	v.caches = make(map[string]*LoadCache, len(v.sources))
	for _, source := range v.sources {
		cache, err := loadSourceCache(source.Name())
		if err != nil {
			v.logger.Warn(fmt.Sprintf("⚠️  Source %s: cache unavailable: %v", source.Name(), err))
			cache = &LoadCache{Entries: make(map[string]LoadCacheEntry)}
		}
		cache.cleanExpired()
		v.caches[source.Name()] = cache
	}
}

func (v *Verifier) saveCaches() {
	if v.caches == nil {
		return
	}
	for _, source := range v.sources {
		if err := v.caches[source.Name()].save(source.Name()); err != nil {
			v.logger.Warn(fmt.Sprintf("⚠️  Source %s: saving cache failed: %v", source.Name(), err))
		}
	}
}
