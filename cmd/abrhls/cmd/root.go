// Package cmd implements the CLI commands for abrhls.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/abrhls/internal/config"
	"github.com/jmylchreest/abrhls/internal/ffmpeg"
	"github.com/jmylchreest/abrhls/internal/media"
	"github.com/jmylchreest/abrhls/internal/observability"
	"github.com/jmylchreest/abrhls/internal/service"
	"github.com/jmylchreest/abrhls/internal/version"
)

var (
	// cfgFile holds the config file path from CLI flag.
	cfgFile string

	cfg    *config.Config
	logger = slog.Default()
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "abrhls",
	Short:   "Adaptive bitrate HLS converter",
	Version: version.Short(),
	Long: `abrhls converts a media file into HLS: H.264/AAC MPEG-TS segments
with a VOD playlist, optionally at several quality tiers tied together by a
master playlist.

Decoding and encoding run through the ffmpeg command line tools, which must
be installed or configured with ffmpeg.binary_path.`,
	SilenceUsage: true,
	// PersistentPreRunE is set in init() to avoid initialization cycle
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	// Set PersistentPreRunE here to avoid initialization cycle
	// (loadConfig references rootCmd.PersistentFlags)
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return loadConfig()
	}

	// Global flags
	// Note: These flags are NOT bound to viper. They only override the
	// config/env values when explicitly set, preserving the priority
	// CLI flag > env var > config > default.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./abrhls.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
}

// loadConfig reads the config file and environment, then configures logging.
func loadConfig() error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	flags := rootCmd.PersistentFlags()
	loaded.Logging.Level = strings.ToLower(changedString(flags, "log-level", loaded.Logging.Level))
	loaded.Logging.Format = strings.ToLower(changedString(flags, "log-format", loaded.Logging.Format))

	// Handle "warning" as an alias for "warn"
	if loaded.Logging.Level == "warning" {
		loaded.Logging.Level = "warn"
	}

	cfg = loaded
	logger = observability.NewLoggerWithWriter(cfg.Logging, os.Stderr)
	observability.SetDefault(logger)
	return nil
}

// changedString returns the flag's value when the user set it, otherwise
// fallback.
func changedString(flags *pflag.FlagSet, name, fallback string) string {
	if !flags.Changed(name) {
		return fallback
	}
	v, err := flags.GetString(name)
	if err != nil {
		return fallback
	}
	return v
}

// newLibrary creates the ffmpeg backed media library from the config.
func newLibrary() *ffmpeg.Library {
	return ffmpeg.NewLibrary(ffmpeg.Options{
		FFmpegPath:  cfg.FFmpeg.BinaryPath,
		FFprobePath: cfg.FFmpeg.ProbePath,
		Timeout:     cfg.FFmpeg.Timeout,
		Threads:     cfg.FFmpeg.Threads,
		Logger:      logger,
	})
}

// newConversionService wires the config into a conversion service.
func newConversionService() (*service.ConversionService, error) {
	opts, tiers, err := service.OptionsFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid transcode configuration: %w", err)
	}
	return service.NewConversionService(newLibrary(), opts).
		WithLogger(logger).
		WithTiers(tiers), nil
}

// conversionError attaches the status code hosts of the library would see.
func conversionError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("conversion failed (status %d): %w", media.Status(err), err)
}
