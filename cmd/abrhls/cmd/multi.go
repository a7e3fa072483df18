package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/abrhls/internal/transcode"
	"github.com/jmylchreest/abrhls/internal/version"
)

var multiReport string

var multiCmd = &cobra.Command{
	Use:   "multi <input> <output-dir>",
	Short: "Convert a file to a multi-quality HLS ladder",
	Long: `Convert a media file to every configured rendition tier.

Each tier is written to output-dir/<tier name>/ and output-dir/master.m3u8
lists the tiers that succeeded. A failed tier is reported but does not stop
the others; the command fails only when no tier succeeded.

Examples:
  # Default ladder (high 1280x720, medium 854x480)
  abrhls multi input.mp4 out/

  # Write a YAML report of every tier
  abrhls multi input.mp4 out/ --report report.yaml`,
	Args: cobra.ExactArgs(2),
	RunE: runMulti,
}

func init() {
	rootCmd.AddCommand(multiCmd)
	multiCmd.Flags().StringVar(&multiReport, "report", "", "write a YAML run report to this file")
}

// runReport is the --report document.
type runReport struct {
	Version    string                      `yaml:"version"`
	Input      string                      `yaml:"input"`
	OutputDir  string                      `yaml:"output_dir"`
	StartedAt  time.Time                   `yaml:"started_at"`
	Duration   string                      `yaml:"duration"`
	Succeeded  bool                        `yaml:"succeeded"`
	Error      string                      `yaml:"error,omitempty"`
	Renditions []transcode.RenditionResult `yaml:"renditions"`
}

func runMulti(cmd *cobra.Command, args []string) error {
	svc, err := newConversionService()
	if err != nil {
		return err
	}

	started := time.Now()
	results, runErr := svc.ConvertMultiQuality(cmd.Context(), args[0], args[1])

	if multiReport != "" {
		report := runReport{
			Version:    version.Short(),
			Input:      args[0],
			OutputDir:  args[1],
			StartedAt:  started.UTC(),
			Duration:   time.Since(started).Round(time.Millisecond).String(),
			Succeeded:  runErr == nil,
			Renditions: results,
		}
		if runErr != nil {
			report.Error = runErr.Error()
		}
		if err := writeReport(multiReport, report); err != nil {
			return err
		}
	}

	for _, res := range results {
		state := "ok"
		if !res.Succeeded {
			state = "failed: " + res.Error
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-10s %4dx%-4d %s\n", res.Name, res.Width, res.Height, state)
	}
	return conversionError(runErr)
}

func writeReport(path string, report runReport) error {
	data, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}
