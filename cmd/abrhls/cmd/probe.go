package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/abrhls/internal/media"
	"github.com/jmylchreest/abrhls/internal/transcode"
)

var probeCmd = &cobra.Command{
	Use:   "probe <input>",
	Short: "Show the streams of an input and which ones would be converted",
	Long: `Probe an input with ffprobe and print its streams as YAML, marking the
video and audio streams a conversion would use.

Use --json for the raw ffprobe result.`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().Bool("json", false, "print the raw ffprobe result as JSON")
}

type probeStream struct {
	Index      int    `yaml:"index"`
	Type       string `yaml:"type"`
	Codec      string `yaml:"codec,omitempty"`
	Selected   bool   `yaml:"selected"`
	Resolution string `yaml:"resolution,omitempty"`
	FrameRate  string `yaml:"frame_rate,omitempty"`
	PixFmt     string `yaml:"pix_fmt,omitempty"`
	SampleFmt  string `yaml:"sample_fmt,omitempty"`
	SampleRate int    `yaml:"sample_rate,omitempty"`
	Channels   int    `yaml:"channels,omitempty"`
	BitRate    int64  `yaml:"bit_rate,omitempty"`
	Duration   string `yaml:"duration,omitempty"`
}

type probeOutput struct {
	Input    string        `yaml:"input"`
	Format   string        `yaml:"format"`
	Duration string        `yaml:"duration"`
	Streams  []probeStream `yaml:"streams"`
}

func runProbe(cmd *cobra.Command, args []string) error {
	result, err := newLibrary().Probe(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling probe result: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	streams := result.StreamInfos()
	// An input with nothing usable still gets listed.
	sel, _ := transcode.SelectStreams(streams)

	out := probeOutput{
		Input:    args[0],
		Format:   result.Format.FormatName,
		Duration: result.Duration().String(),
	}
	for _, s := range streams {
		ps := probeStream{
			Index:    s.Index,
			Type:     s.Type.String(),
			Codec:    s.Codec,
			Selected: sel.Routes(s.Index),
			BitRate:  s.BitRate,
		}
		if d := s.DurationValue(); d > 0 {
			ps.Duration = d.String()
		}
		switch s.Type {
		case media.MediaTypeVideo:
			ps.Resolution = fmt.Sprintf("%dx%d", s.Width, s.Height)
			if s.FrameRate.Valid() {
				ps.FrameRate = s.FrameRate.String()
			}
			ps.PixFmt = s.PixFmt.String()
		case media.MediaTypeAudio:
			ps.SampleFmt = s.SampleFmt.String()
			ps.SampleRate = s.SampleRate
			ps.Channels = s.Channels
		}
		out.Streams = append(out.Streams, ps)
	}

	data, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshaling probe output: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}
