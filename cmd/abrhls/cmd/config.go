package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/abrhls/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing abrhls configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  abrhls config dump > abrhls.yaml

Configuration can be set via:
  - Config file (abrhls.yaml in ., ./configs, /etc/abrhls or $HOME/.abrhls)
  - Environment variables (ABRHLS_HLS_SEGMENT_DURATION, etc.)
  - Command-line flags (for some options)

Environment variables use the ABRHLS_ prefix and underscores for nesting.
Example: hls.segment_duration -> ABRHLS_HLS_SEGMENT_DURATION`,
	RunE: runConfigDump,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  "Show the configuration after applying the config file, environment variables and flags.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printConfig(cmd, cfg, "")
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
	configCmd.AddCommand(configShowCmd)
}

// toMap converts a struct to a map, formatting durations and sizes for human readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}
		result[key] = toValue(field)
	}
	return result
}

func toValue(field reflect.Value) any {
	switch v := field.Interface().(type) {
	case time.Duration:
		return v.String()
	case config.ByteSize:
		if v == 0 {
			return "0"
		}
		return v.String()
	}

	switch field.Kind() {
	case reflect.Struct:
		return toMap(field.Interface())
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.Struct {
			return field.Interface()
		}
		items := make([]any, 0, field.Len())
		for i := 0; i < field.Len(); i++ {
			items = append(items, toMap(field.Index(i).Interface()))
		}
		return items
	default:
		return field.Interface()
	}
}

func printConfig(cmd *cobra.Command, c *config.Config, header string) error {
	yamlData, err := yaml.Marshal(toMap(c))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), header)
	fmt.Fprint(cmd.OutOrStdout(), string(yamlData))
	return nil
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	// Load config with defaults (no file, just defaults)
	defaults, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	header := `# abrhls Configuration File
# =========================
#
# All values shown below are defaults.
# Duration format: 500ms, 2s, 1m
# Size format: 8MiB, 10MB (0 disables)
#
# Environment variable overrides:
#   ABRHLS_LOGGING_LEVEL, ABRHLS_LOGGING_FORMAT
#   ABRHLS_FFMPEG_BINARY_PATH, ABRHLS_FFMPEG_PROBE_PATH
#   ABRHLS_HLS_SEGMENT_DURATION, ABRHLS_TRANSCODE_PRESET
#   etc.
#

`
	return printConfig(cmd, defaults, header)
}
