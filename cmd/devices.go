package cmd

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/interviewcapture/internal/config"
	"github.com/audiolibrelab/interviewcapture/internal/media"
)

var devicesCmd = &cobra.Command{
	Use:     "devices",
	Aliases: []string{"sources"},
	Short:   "List available cameras and microphones",
	Long:    `List the video devices and audio sources that can be referenced from definitions.devices in the config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sources, err := media.ListSources()
		if err != nil {
			return fmt.Errorf("failed to list devices: %w", err)
		}
		printDevices(os.Stdout, sources, cfg)
		return nil
	},
}

func printDevices(w io.Writer, sources []media.Source, c *config.Config) {
	fmt.Fprintf(w, "Capture devices (%s)\n", runtime.GOOS)
	fmt.Fprintf(w, "=======================================\n\n")

	for _, kind := range []media.TrackKind{media.TrackVideo, media.TrackAudio} {
		var found []media.Source
		for _, s := range sources {
			if s.Kind == kind {
				found = append(found, s)
			}
		}

		fmt.Fprintf(w, "%s (%d found):\n", kind, len(found))
		for i, s := range found {
			if s.Description != "" {
				fmt.Fprintf(w, "  %d. [%s] %s  %s\n", i+1, s.Format, s.Name, s.Description)
			} else {
				fmt.Fprintf(w, "  %d. [%s] %s\n", i+1, s.Format, s.Name)
			}
		}
		fmt.Fprintln(w)
	}

	if c == nil {
		return
	}
	fmt.Fprintf(w, "Configured:\n")
	for _, d := range c.Devices {
		fmt.Fprintf(w, "  %s (%s): -f %s -i %s\n", d.Name, d.Kind, d.Format, d.Source)
	}
}
