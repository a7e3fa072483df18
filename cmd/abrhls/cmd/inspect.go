package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/abrhls/internal/hls"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <segment.ts|dir>...",
	Short: "Inspect produced MPEG-TS segments",
	Long: `Demux MPEG-TS segments and print their program layout and per-stream
timestamps as YAML. A directory argument inspects every .ts file in it.

Examples:
  abrhls inspect out/segment000.ts
  abrhls inspect out/high`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	var paths []string
	for _, arg := range args {
		st, err := os.Stat(arg)
		if err != nil {
			return err
		}
		if !st.IsDir() {
			paths = append(paths, arg)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(arg, "*.ts"))
		if err != nil {
			return fmt.Errorf("listing segments: %w", err)
		}
		sort.Strings(matches)
		paths = append(paths, matches...)
	}
	if len(paths) == 0 {
		return fmt.Errorf("no segments found")
	}

	infos := make([]*hls.SegmentInfo, 0, len(paths))
	for _, p := range paths {
		info, err := hls.InspectSegment(cmd.Context(), p)
		if err != nil {
			return fmt.Errorf("inspecting %s: %w", p, err)
		}
		infos = append(infos, info)
	}

	data, err := yaml.Marshal(infos)
	if err != nil {
		return fmt.Errorf("marshaling segment info: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}
