package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/esekit/ese-verify/cmd/comparison"
	"github.com/esekit/ese-verify/cmd/records"
)

// Rollup counts tables by verdict.
type Rollup struct {
	Tables        int `json:"tables"`
	Perfect       int `json:"perfect"`
	CountMismatch int `json:"count_mismatch"`
	DataMismatch  int `json:"data_mismatch"`
	MissingInputs int `json:"missing_inputs"`
}

func (r *Rollup) add(status comparison.Status) {
	r.Tables++
	switch status {
	case comparison.StatusPerfect:
		r.Perfect++
	case comparison.StatusCountMismatch:
		r.CountMismatch++
	case comparison.StatusDataMismatch:
		r.DataMismatch++
	case comparison.StatusMissingInputs:
		r.MissingInputs++
	}
}

func (r Rollup) PercentPerfect() float64 {
	if r.Tables == 0 {
		return 0
	}
	return float64(r.Perfect) / float64(r.Tables) * 100
}

// GroupReport rolls up the tables of one database.
type GroupReport struct {
	Database string                   `json:"database"`
	Rollup   Rollup                   `json:"rollup"`
	Results  []comparison.TableResult `json:"results"`
}

// RunReport is the complete outcome of one verification run. It is derived
// from the classified results alone, so the streamed lines, the summary and
// the written report always agree.
type RunReport struct {
	Sources []string      `json:"sources"`
	Groups  []GroupReport `json:"groups"`
	Global  Rollup        `json:"global"`
}

// BuildReport groups results by database and computes the rollups. Groups
// and the tables within them come out sorted regardless of completion order.
func BuildReport(sources []string, results []comparison.TableResult) *RunReport {
	report := &RunReport{Sources: sources}

	byDatabase := make(map[string][]comparison.TableResult)
	for _, result := range results {
		byDatabase[result.Database] = append(byDatabase[result.Database], result)
	}

	databases := make([]string, 0, len(byDatabase))
	for database := range byDatabase {
		databases = append(databases, database)
	}
	sort.Strings(databases)

	for _, database := range databases {
		group := GroupReport{Database: database, Results: byDatabase[database]}
		sort.Slice(group.Results, func(i, j int) bool {
			return group.Results[i].Table < group.Results[j].Table
		})
		for _, result := range group.Results {
			group.Rollup.add(result.Status)
			report.Global.add(result.Status)
		}
		report.Groups = append(report.Groups, group)
	}

	return report
}

// ExitCode maps the run verdict to the process exit code: 0 all perfect,
// 1 mismatches, 2 missing inputs. Missing inputs dominate mismatches.
func (r *RunReport) ExitCode() int {
	if r.Global.MissingInputs > 0 {
		return 2
	}
	if r.Global.CountMismatch > 0 || r.Global.DataMismatch > 0 {
		return 1
	}
	return 0
}

// Reporter turns classified tables into log lines and the final report
// document.
type Reporter struct {
	logger *slog.Logger
}

func NewReporter(logger *slog.Logger) *Reporter {
	return &Reporter{logger: logger}
}

// StreamResult logs one verdict line as soon as a table is classified.
func (rp *Reporter) StreamResult(result comparison.TableResult) {
	table := fmt.Sprintf("%s/%s", result.Database, result.Table)

	switch result.Status {
	case comparison.StatusPerfect:
		rp.logger.Info(fmt.Sprintf("✅ %s: %d rows identical across %d sources",
			table, result.RowCount, len(result.Counts)))
	case comparison.StatusCountMismatch:
		rp.logger.Warn(fmt.Sprintf("⚠️  %s: row counts differ (%s)",
			table, formatCounts(result.Counts)))
	case comparison.StatusDataMismatch:
		rp.logger.Error(fmt.Sprintf("❌ %s: %d rows, contents differ",
			table, result.RowCount))
	case comparison.StatusMissingInputs:
		rp.logger.Error(fmt.Sprintf("🚫 %s: no usable export from %s",
			table, strings.Join(result.MissingSources(), ", ")))
	}
}

// Summary logs the rollup after all tables are classified.
func (rp *Reporter) Summary(report *RunReport) {
	rp.logger.Info("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	rp.logger.Info("📈 Summary")
	rp.logger.Info(fmt.Sprintf("✅ Perfect: %d/%d (%.1f%%)",
		report.Global.Perfect, report.Global.Tables, report.Global.PercentPerfect()))
	if report.Global.CountMismatch > 0 {
		rp.logger.Info(fmt.Sprintf("⚠️  Count mismatches: %d", report.Global.CountMismatch))
	}
	if report.Global.DataMismatch > 0 {
		rp.logger.Info(fmt.Sprintf("❌ Data mismatches: %d", report.Global.DataMismatch))
	}
	if report.Global.MissingInputs > 0 {
		rp.logger.Info(fmt.Sprintf("🚫 Missing inputs: %d", report.Global.MissingInputs))
	}

	for _, group := range report.Groups {
		rp.logger.Info(fmt.Sprintf("   %s: %d/%d perfect (%.1f%%)",
			group.Database, group.Rollup.Perfect, group.Rollup.Tables, group.Rollup.PercentPerfect()))
	}

	for _, group := range report.Groups {
		for _, result := range group.Results {
			if !result.Mismatched() {
				continue
			}
			rp.logger.Error(fmt.Sprintf("\n%s %s/%s: %s",
				statusEmoji(result.Status), result.Database, result.Table, summarizeFailure(result)))
		}
	}
}

// WriteReport writes the report document to stdout or the output file.
func (rp *Reporter) WriteReport(report *RunReport, format, outputFile string) error {
	var output io.Writer = os.Stdout
	if outputFile != "" {
		file, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer file.Close()
		output = file
	}

	if format == "json" {
		encoder := json.NewEncoder(output)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}

	return writeTextReport(report, output)
}

// writeTextReport writes the report in human-readable text format
func writeTextReport(report *RunReport, w io.Writer) error {
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(w, "VERIFICATION RESULTS\n")
	fmt.Fprintf(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "Sources: %s\n", strings.Join(report.Sources, ", "))

	for _, group := range report.Groups {
		fmt.Fprintf(w, "\n%s\n", group.Database)
		fmt.Fprintf(w, "─────────────────────────────────\n")
		fmt.Fprintf(w, "Perfect: %d/%d (%.1f%%)\n",
			group.Rollup.Perfect, group.Rollup.Tables, group.Rollup.PercentPerfect())

		for _, result := range group.Results {
			switch result.Status {
			case comparison.StatusCountMismatch:
				writeCountDetail(w, result)
			case comparison.StatusDataMismatch:
				writeDataDetail(w, result)
			case comparison.StatusMissingInputs:
				writeMissingDetail(w, result)
			}
		}

		if group.Rollup.Perfect == group.Rollup.Tables {
			fmt.Fprintf(w, "✅ No differences found\n")
		}
	}

	fmt.Fprintf(w, "\nGLOBAL\n")
	fmt.Fprintf(w, "─────────────────────────────────\n")
	fmt.Fprintf(w, "Tables: %d\n", report.Global.Tables)
	fmt.Fprintf(w, "Perfect: %d (%.1f%%)\n", report.Global.Perfect, report.Global.PercentPerfect())
	if report.Global.CountMismatch > 0 {
		fmt.Fprintf(w, "Count mismatches: %d\n", report.Global.CountMismatch)
	}
	if report.Global.DataMismatch > 0 {
		fmt.Fprintf(w, "Data mismatches: %d\n", report.Global.DataMismatch)
	}
	if report.Global.MissingInputs > 0 {
		fmt.Fprintf(w, "Missing inputs: %d\n", report.Global.MissingInputs)
	}

	fmt.Fprintf(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	return nil
}

func writeCountDetail(w io.Writer, result comparison.TableResult) {
	fmt.Fprintf(w, "\n⚠️  %s: row counts differ\n", result.Table)
	for _, source := range sortedSources(result.Counts) {
		fmt.Fprintf(w, "  • %s: %d rows\n", source, result.Counts[source])
	}
}

func writeDataDetail(w io.Writer, result comparison.TableResult) {
	fmt.Fprintf(w, "\n❌ %s: contents differ (%d rows)\n", result.Table, result.RowCount)

	for _, pair := range result.PairDiffs {
		if pair.OnlyInA == 0 && pair.OnlyInB == 0 {
			continue
		}
		fmt.Fprintf(w, "  • %s vs %s: %d rows only in %s, %d only in %s\n",
			pair.SourceA, pair.SourceB, pair.OnlyInA, pair.SourceA, pair.OnlyInB, pair.SourceB)
	}

	for _, align := range result.AlignDiffs {
		if align.KeyField != "" {
			fmt.Fprintf(w, "  • %s vs %s aligned by %s: %d differing rows\n",
				align.SourceA, align.SourceB, align.KeyField, align.DifferingRows)
		} else {
			fmt.Fprintf(w, "  • %s vs %s aligned structurally: %d differing rows\n",
				align.SourceA, align.SourceB, align.DifferingRows)
		}

		for _, fieldDiff := range align.FieldDiffs {
			fmt.Fprintf(w, "      %s: %d rows", fieldDiff.Field, fieldDiff.Count)
			if len(fieldDiff.Examples) > 0 {
				example := fieldDiff.Examples[0]
				fmt.Fprintf(w, " (%s: %s=%s, %s=%s)",
					example.Key,
					align.SourceA, formatExampleValue(example.A),
					align.SourceB, formatExampleValue(example.B))
			}
			fmt.Fprintf(w, "\n")
		}

		writeKeyList(w, "keys only in "+align.SourceA, align.KeysOnlyInA)
		writeKeyList(w, "keys only in "+align.SourceB, align.KeysOnlyInB)
	}
}

func writeMissingDetail(w io.Writer, result comparison.TableResult) {
	fmt.Fprintf(w, "\n🚫 %s: no usable export\n", result.Table)
	for _, missing := range result.Missing {
		fmt.Fprintf(w, "  • %s: %s\n", missing.Source, missing.Reason)
	}
}

const maxKeysShown = 3

func writeKeyList(w io.Writer, label string, keys []string) {
	if len(keys) == 0 {
		return
	}
	shown := keys
	if len(shown) > maxKeysShown {
		shown = shown[:maxKeysShown]
	}
	fmt.Fprintf(w, "      %s: %s", label, strings.Join(shown, ", "))
	if extra := len(keys) - len(shown); extra > 0 {
		fmt.Fprintf(w, " (+%d more)", extra)
	}
	fmt.Fprintf(w, "\n")
}

func formatExampleValue(v *records.Value) string {
	if v == nil {
		return "absent"
	}
	switch v.Kind() {
	case records.KindNull:
		return "null"
	case records.KindText, records.KindBinary:
		return strconv.Quote(v.String())
	default:
		return v.String()
	}
}

func formatCounts(counts map[string]int) string {
	parts := make([]string, 0, len(counts))
	for _, source := range sortedSources(counts) {
		parts = append(parts, fmt.Sprintf("%s=%d", source, counts[source]))
	}
	return strings.Join(parts, ", ")
}

func sortedSources(counts map[string]int) []string {
	sources := make([]string, 0, len(counts))
	for source := range counts {
		sources = append(sources, source)
	}
	sort.Strings(sources)
	return sources
}

func statusEmoji(status comparison.Status) string {
	switch status {
	case comparison.StatusPerfect:
		return "✅"
	case comparison.StatusCountMismatch:
		return "⚠️ "
	case comparison.StatusDataMismatch:
		return "❌"
	default:
		return "🚫"
	}
}

func summarizeFailure(result comparison.TableResult) string {
	switch result.Status {
	case comparison.StatusCountMismatch:
		return fmt.Sprintf("row counts differ (%s)", formatCounts(result.Counts))
	case comparison.StatusDataMismatch:
		divergent := 0
		for _, pair := range result.PairDiffs {
			if pair.OnlyInA > 0 || pair.OnlyInB > 0 {
				divergent++
			}
		}
		return fmt.Sprintf("contents differ across %d source pair(s)", divergent)
	case comparison.StatusMissingInputs:
		reasons := make([]string, 0, len(result.Missing))
		for _, missing := range result.Missing {
			reasons = append(reasons, fmt.Sprintf("%s: %s", missing.Source, missing.Reason))
		}
		return strings.Join(reasons, "; ")
	default:
		return string(result.Status)
	}
}
