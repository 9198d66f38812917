package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/interviewcapture/internal/backend"
	"github.com/audiolibrelab/interviewcapture/internal/config"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show resolved configuration and backend reachability",
	Long:  `Display the resolved configuration with inheritance indicators and check that the interview backend answers. Shows which values are inherited from default vs profile-specific.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		printResolvedConfig(os.Stdout, cfg)

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()

		fmt.Printf("\n=== BACKEND ===\n")
		if err := backend.New(cfg.Backend).Health(ctx); err != nil {
			fmt.Printf("%s: unreachable (%v)\n", cfg.Backend.BaseURL, err)
			return nil
		}
		fmt.Printf("%s: ok\n", cfg.Backend.BaseURL)
		return nil
	},
}

func printResolvedConfig(w io.Writer, c *config.Config) {
	inh := c.Inheritance
	if inh == nil {
		inh = &config.InheritanceInfo{}
	}

	fmt.Fprintf(w, "=== RESOLVED CONFIGURATION ===\n")

	fmt.Fprintf(w, "\n[Backend]\n")
	fmt.Fprintf(w, "base_url: %s %s\n", c.Backend.BaseURL, getInheritanceIndicator(inh.Backend.BaseURL))
	fmt.Fprintf(w, "timeout: %s %s\n", c.Backend.Timeout, getInheritanceIndicator(inh.Backend.Timeout))

	fmt.Fprintf(w, "\n[Interview]\n")
	fmt.Fprintf(w, "question_limit: %d %s\n", c.Interview.QuestionLimit, getInheritanceIndicator(inh.Interview.QuestionLimit))

	fmt.Fprintf(w, "\n[Devices]\n")
	for i, d := range c.Devices {
		fmt.Fprintf(w, "%d. name: %s\n", i, d.Name)
		fmt.Fprintf(w, "   kind: %s\n", d.Kind)
		fmt.Fprintf(w, "   format: %s\n", d.Format)
		fmt.Fprintf(w, "   source: %s %s\n", d.Source, getInheritanceIndicator(inh.Devices[d.Name]))
		if d.Framerate > 0 {
			fmt.Fprintf(w, "   framerate: %d\n", d.Framerate)
		}
		if d.VideoSize != "" {
			fmt.Fprintf(w, "   video_size: %s\n", d.VideoSize)
		}
	}

	fmt.Fprintf(w, "\n[Capture]\n")
	fmt.Fprintf(w, "ffmpeg_path: %s\n", c.Capture.FFmpegPath)
	fmt.Fprintf(w, "container: %s %s\n", c.Capture.Container, getInheritanceIndicator(inh.Capture.Container))
	fmt.Fprintf(w, "video_codec: %s %s\n", c.Capture.VideoCodec, getInheritanceIndicator(inh.Capture.VideoCodec))
	fmt.Fprintf(w, "audio_codec: %s %s\n", c.Capture.AudioCodec, getInheritanceIndicator(inh.Capture.AudioCodec))
	fmt.Fprintf(w, "stop_timeout: %s\n", c.Capture.StopTimeout)

	fmt.Fprintf(w, "\n[Preview]\n")
	fmt.Fprintf(w, "listen: %s %s\n", c.Preview.Listen, getInheritanceIndicator(inh.Preview.Listen))
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case config.InheritanceInherited:
		return "[inherited]"
	case config.InheritanceProfile:
		return "[profile-specific]"
	case config.InheritanceGlobal:
		return "[global]"
	default:
		return "[default]"
	}
}
