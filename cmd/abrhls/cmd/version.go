package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/abrhls/internal/version"
)

var versionJSON bool

// versionCmd represents the version command.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print the version, commit, and build date of abrhls, and the ffmpeg it will use.",
	Run: func(cmd *cobra.Command, args []string) {
		if versionJSON {
			fmt.Println(version.JSON())
			return
		}

		fmt.Println(version.String())
		if info, err := newLibrary().Info(cmd.Context()); err == nil {
			fmt.Printf("ffmpeg %s (%s)\n", info.Version, info.FFmpegPath)
		} else {
			fmt.Printf("ffmpeg not available: %v\n", err)
		}
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "output version information as JSON")
	rootCmd.AddCommand(versionCmd)
}
