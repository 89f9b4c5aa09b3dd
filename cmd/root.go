package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version information - set via ldflags during build
	// Example: go build -ldflags "-X github.com/esekit/ese-verify/cmd.Version=1.2.3"
	Version = "dev" // Default to "dev" if not set during build

	// signalContext is set by main() before Cobra initialization
	// This ensures signal handling is set up before any library can interfere
	signalContext context.Context

	cfgFile         string
	debug           bool
	logFormat       string
	sourceFlags     []string
	tableFilters    []string
	databaseFilters []string
	keyFields       []string
	workers         int
	outputFormat    string
	outputFile      string
	noCache         bool
	pgSchema        string
	s3Endpoint      string
	s3AccessKey     string
	s3SecretKey     string
	s3Region        string

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true).
			Underline(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00D9FF"))

	logger *slog.Logger
)

// SetSignalContext stores the signal-aware context created in main()
// This must be called before Execute() to ensure proper signal handling
func SetSignalContext(ctx context.Context) {
	signalContext = ctx
}

// textOnlyHandler is a custom slog handler that outputs human-readable text
// without key=value pairs, suitable for interactive terminal usage
type textOnlyHandler struct {
	opts   slog.HandlerOptions
	writer io.Writer
}

func newTextOnlyHandler(w io.Writer, opts *slog.HandlerOptions) *textOnlyHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &textOnlyHandler{
		opts:   *opts,
		writer: w,
	}
}

func (h *textOnlyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *textOnlyHandler) Handle(_ context.Context, r slog.Record) error {
	// Format: YYYY-MM-DD HH:MM:SS LEVEL message
	timestamp := r.Time.Format("2006-01-02 15:04:05")
	level := r.Level.String()

	// Write the log entry
	_, err := fmt.Fprintf(h.writer, "%s %s %s\n", timestamp, level, r.Message)
	return err
}

func (h *textOnlyHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	// For simplicity, we ignore attributes in text-only mode
	return h
}

func (h *textOnlyHandler) WithGroup(_ string) slog.Handler {
	// For simplicity, we ignore groups in text-only mode
	return h
}

// initLogger initializes the slog logger based on debug flag and log format
func initLogger(isDebug bool, format string) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if isDebug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "logfmt":
		// logfmt uses slog.TextHandler which outputs key=value pairs
		handler = slog.NewTextHandler(os.Stdout, opts)
	default: // "text" or anything else
		// For human-readable text output, we'll use a custom handler
		// that formats messages more naturally without key=value pairs
		handler = newTextOnlyHandler(os.Stdout, opts)
	}

	logger = slog.New(handler)
}

var rootCmd = &cobra.Command{
	Use:     "ese-verify",
	Version: Version,
	Short:   "🔬 Verify that independent ESE database exports agree",
	Long: titleStyle.Render("ESE Verify") + `

A CLI tool to verify that JSONL table exports produced by independent
ESE (Extensible Storage Engine) parser implementations are semantically
identical. Loads exports from directories, S3-compatible storage, or
PostgreSQL, normalizes representation differences, and reports every
table as perfect, count_mismatch, data_mismatch, or missing_inputs.`,
	Run: func(_ *cobra.Command, _ []string) {
		runVerify()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information and check for updates",
	Run: func(_ *cobra.Command, _ []string) {
		runVersion()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(versionCmd)

	// Persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.ese-verify.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, logfmt, json)")

	// Verification flags
	rootCmd.Flags().StringArrayVar(&sourceFlags, "source", nil, "export source as name=location (repeatable); location is a directory, s3:// URL, or postgres:// URL")
	rootCmd.Flags().StringSliceVar(&tableFilters, "tables", nil, "only verify tables whose name contains one of these values (comma list, case-insensitive)")
	rootCmd.Flags().StringSliceVar(&databaseFilters, "databases", nil, "only verify databases whose name contains one of these values (comma list, case-insensitive)")
	rootCmd.Flags().StringSliceVar(&keyFields, "key", []string{"EntryId"}, "candidate key fields for row alignment, tried in order (comma list)")
	rootCmd.Flags().IntVar(&workers, "workers", 4, "number of tables to verify in parallel")
	rootCmd.Flags().StringVar(&outputFormat, "output", "text", "report format (text, json)")
	rootCmd.Flags().StringVar(&outputFile, "output-file", "", "write the report to a file instead of stdout")
	rootCmd.Flags().BoolVar(&noCache, "no-cache", false, "ignore and do not update the table load cache")
	rootCmd.Flags().StringVar(&pgSchema, "pg-schema", defaultPGSchema, "schema to read export tables from for postgres:// sources")

	rootCmd.Flags().StringVar(&s3Endpoint, "s3-endpoint", "", "S3-compatible endpoint URL")
	rootCmd.Flags().StringVar(&s3AccessKey, "s3-access-key", "", "S3 access key")
	rootCmd.Flags().StringVar(&s3SecretKey, "s3-secret-key", "", "S3 secret key")
	rootCmd.Flags().StringVar(&s3Region, "s3-region", regionAuto, "S3 region")

	// Bind flags to viper so config file and environment variables work too.
	// --source is deliberately not bound: repeated name=location pairs don't
	// round-trip through viper, so resolveSources merges them by hand.
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("tables", rootCmd.Flags().Lookup("tables"))
	_ = viper.BindPFlag("databases", rootCmd.Flags().Lookup("databases"))
	_ = viper.BindPFlag("key_fields", rootCmd.Flags().Lookup("key"))
	_ = viper.BindPFlag("workers", rootCmd.Flags().Lookup("workers"))
	_ = viper.BindPFlag("output", rootCmd.Flags().Lookup("output"))
	_ = viper.BindPFlag("output_file", rootCmd.Flags().Lookup("output-file"))
	_ = viper.BindPFlag("no_cache", rootCmd.Flags().Lookup("no-cache"))
	_ = viper.BindPFlag("pg_schema", rootCmd.Flags().Lookup("pg-schema"))
	_ = viper.BindPFlag("s3.endpoint", rootCmd.Flags().Lookup("s3-endpoint"))
	_ = viper.BindPFlag("s3.access_key", rootCmd.Flags().Lookup("s3-access-key"))
	_ = viper.BindPFlag("s3.secret_key", rootCmd.Flags().Lookup("s3-secret-key"))
	_ = viper.BindPFlag("s3.region", rootCmd.Flags().Lookup("s3-region"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".ese-verify")
	}

	viper.SetEnvPrefix("ESEVERIFY")
	// Map nested keys like s3.access_key to ESEVERIFY_S3_ACCESS_KEY
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && debug {
		// Initialize logger early if reading config in debug mode
		if logger == nil {
			initLogger(debug, logFormat)
		}
		logger.Debug(fmt.Sprintf("📄 Using config file: %s", viper.ConfigFileUsed()))
	}
}

// parseSourceFlags converts repeated --source name=location flags into
// source configs, preserving command-line order.
func parseSourceFlags(flags []string) ([]SourceConfig, error) {
	sources := make([]SourceConfig, 0, len(flags))
	for _, flag := range flags {
		name, location, ok := strings.Cut(flag, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: %q", ErrSourceFlagFormat, flag)
		}
		sources = append(sources, SourceConfig{Name: name, Location: location})
	}
	return sources, nil
}

// resolveSources decides where the source list comes from: --source flags
// take precedence over the sources section of the config file.
func resolveSources() ([]SourceConfig, error) {
	if len(sourceFlags) > 0 {
		return parseSourceFlags(sourceFlags)
	}

	var sources []SourceConfig
	if err := viper.UnmarshalKey("sources", &sources); err != nil {
		return nil, fmt.Errorf("invalid sources in config file: %w", err)
	}
	return sources, nil
}

func buildConfig() (*Config, error) {
	sources, err := resolveSources()
	if err != nil {
		return nil, err
	}

	return &Config{
		Debug:      viper.GetBool("debug"),
		LogFormat:  viper.GetString("log_format"),
		Sources:    sources,
		Tables:     viper.GetStringSlice("tables"),
		Databases:  viper.GetStringSlice("databases"),
		KeyFields:  viper.GetStringSlice("key_fields"),
		Workers:    viper.GetInt("workers"),
		Output:     viper.GetString("output"),
		OutputFile: viper.GetString("output_file"),
		NoCache:    viper.GetBool("no_cache"),
		PGSchema:   viper.GetString("pg_schema"),
		S3: S3Config{
			Endpoint:  viper.GetString("s3.endpoint"),
			AccessKey: viper.GetString("s3.access_key"),
			SecretKey: viper.GetString("s3.secret_key"),
			Region:    viper.GetString("s3.region"),
		},
	}, nil
}

func runVerify() {
	// Add panic recovery to catch any unexpected crashes
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "\n❌ PANIC: %v\n", r)
			os.Exit(1)
		}
	}()

	config, err := buildConfig()
	if err != nil {
		initLogger(debug, logFormat)
		logger.Error(fmt.Sprintf("❌ Configuration error: %s", err.Error()))
		os.Exit(3)
	}

	// Initialize logger
	initLogger(config.Debug, config.LogFormat)

	// Log startup banner
	logger.Info("")
	logger.Info(fmt.Sprintf("🚀 ESE Verify v%s", Version))
	logger.Info("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	logger.Debug("Validating configuration...")
	if err := config.Validate(); err != nil {
		logger.Error(fmt.Sprintf("❌ Configuration error: %s", err.Error()))
		os.Exit(3)
	}
	logger.Debug("Configuration validated successfully")

	// Check for updates in background (non-blocking)
	updateCheckDone := make(chan struct{})
	go func() {
		defer close(updateCheckDone)
		result := checkForUpdates(context.Background(), Version)
		if result.UpdateAvailable {
			logger.Info("")
			logger.Info(fmt.Sprintf("💡 %s", formatUpdateMessage(result)))
		} else if result.Error != nil && config.Debug {
			logger.Debug(fmt.Sprintf("Version check failed: %v", result.Error))
		}
	}()

	// Give version check a short time to complete, but don't block startup
	select {
	case <-updateCheckDone:
		// Version check completed quickly
	case <-time.After(2 * time.Second):
		// Continue without waiting further
		logger.Debug("Version check taking longer than expected, continuing...")
	}

	// Use the signal context created in main() before Cobra initialization
	// This ensures signals were registered before any library interference
	ctx := signalContext
	if ctx == nil {
		// Fallback if SetSignalContext wasn't called (shouldn't happen)
		logger.Warn("Signal context not set, creating fallback...")
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
	}

	// Set up a goroutine to force-exit if graceful shutdown takes too long
	exited := make(chan struct{})
	go func() {
		<-ctx.Done()
		logger.Info("")
		logger.Info("⚠️  Interrupt signal received, shutting down...")

		// Wait for graceful shutdown, but force exit after 2 seconds
		select {
		case <-exited:
			// Graceful shutdown completed
			return
		case <-time.After(2 * time.Second):
			logger.Error("⚠️  Graceful shutdown timed out, forcing exit...")
			os.Exit(130)
		}
	}()

	logger.Debug("Creating verifier...")
	verifier := NewVerifier(config, logger)
	logger.Debug("Starting verification...")

	report, err := verifier.Run(ctx)
	close(exited) // Signal that the verification has exited

	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("")
			logger.Info("⚠️  Verification cancelled by user")
			os.Exit(130)
		}
		if errors.Is(err, ErrNoTablesDiscovered) {
			logger.Error(fmt.Sprintf("❌ %s", err.Error()))
			os.Exit(3)
		}
		logger.Error(fmt.Sprintf("❌ Verification failed: %s", err.Error()))
		os.Exit(1)
	}

	if err := verifier.WriteReport(report); err != nil {
		logger.Error(fmt.Sprintf("❌ Failed to write report: %s", err.Error()))
		os.Exit(1)
	}

	logger.Info("")
	switch code := report.ExitCode(); code {
	case 0:
		logger.Info("✅ Verification completed: all sources agree!")
	case 1:
		logger.Error(fmt.Sprintf("❌ Verification completed: %d tables with mismatches", report.Global.CountMismatch+report.Global.DataMismatch))
		os.Exit(code)
	default:
		logger.Error(fmt.Sprintf("🚫 Verification incomplete: %d tables missing usable exports", report.Global.MissingInputs))
		os.Exit(code)
	}
}

func runVersion() {
	fmt.Printf("ese-verify v%s\n", Version)

	result := checkForUpdates(context.Background(), Version)
	if result.UpdateAvailable {
		fmt.Println(infoStyle.Render(fmt.Sprintf("💡 %s", formatUpdateMessage(result))))
	}
}
