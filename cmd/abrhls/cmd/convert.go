package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var convertCmd = &cobra.Command{
	Use:   "convert <input> <output-dir>",
	Short: "Convert a file to a single HLS rendition",
	Long: `Convert a media file to one 480x270 HLS rendition.

The playlist (playlist.m3u8) and numbered MPEG-TS segments are written
into output-dir, which is created if needed.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newConversionService()
		if err != nil {
			return err
		}
		return conversionError(svc.Convert(cmd.Context(), args[0], args[1]))
	},
}

var mediumCmd = &cobra.Command{
	Use:   "medium <input> <output-dir>",
	Short: "Convert a file to the medium HLS rendition",
	Long: `Convert a media file to the medium tier (854x480 by default).

Use --width and --height together to scale to another size while keeping
the medium tier's bitrates.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		width, _ := cmd.Flags().GetInt("width")
		height, _ := cmd.Flags().GetInt("height")
		if (width == 0) != (height == 0) {
			return fmt.Errorf("--width and --height must be given together")
		}

		svc, err := newConversionService()
		if err != nil {
			return err
		}
		if width == 0 {
			return conversionError(svc.ConvertMedium(cmd.Context(), args[0], args[1]))
		}
		return conversionError(svc.ConvertMediumWithResolution(cmd.Context(), args[0], args[1], width, height))
	},
}

var singleCmd = &cobra.Command{
	Use:   "single <input> <output-dir>",
	Short: "Convert a file to one HLS rendition of any size",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		width, _ := cmd.Flags().GetInt("width")
		height, _ := cmd.Flags().GetInt("height")

		svc, err := newConversionService()
		if err != nil {
			return err
		}
		return conversionError(svc.CreateSingleStream(cmd.Context(), args[0], args[1], width, height))
	},
}

func init() {
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(mediumCmd)
	rootCmd.AddCommand(singleCmd)

	mediumCmd.Flags().Int("width", 0, "output width in pixels")
	mediumCmd.Flags().Int("height", 0, "output height in pixels")

	singleCmd.Flags().Int("width", 0, "output width in pixels (required)")
	singleCmd.Flags().Int("height", 0, "output height in pixels (required)")
	_ = singleCmd.MarkFlagRequired("width")
	_ = singleCmd.MarkFlagRequired("height")
}
