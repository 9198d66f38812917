package media

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// Source is a capture input that can be referenced from the configuration
type Source struct {
	Kind        TrackKind `json:"kind"`
	Format      string    `json:"format"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
}

// ListSources returns the video device nodes and PulseAudio/PipeWire sources
// visible on this machine. A missing pactl only hides the audio sources.
func ListSources() ([]Source, error) {
	var sources []Source

	nodes, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, fmt.Errorf("failed to list video devices: %w", err)
	}
	sort.Strings(nodes)
	for _, node := range nodes {
		sources = append(sources, Source{Kind: TrackVideo, Format: "v4l2", Name: node})
	}

	output, err := exec.Command("pactl", "list", "short", "sources").Output()
	if err != nil {
		return sources, fmt.Errorf("failed to list audio sources: %w", err)
	}
	return append(sources, parsePactlSources(string(output))...), nil
}

// parsePactlSources parses `pactl list short sources` output:
// index, name, driver, sample spec and state separated by tabs.
// Monitor sources capture playback, not a microphone, and are skipped.
func parsePactlSources(output string) []Source {
	var sources []Source
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			fields = strings.Fields(line)
		}
		if len(fields) < 2 {
			continue
		}
		name := fields[1]
		if strings.HasSuffix(name, ".monitor") {
			continue
		}
		desc := ""
		if len(fields) >= 4 {
			desc = strings.Join(fields[2:], " ")
		}
		sources = append(sources, Source{Kind: TrackAudio, Format: "pulse", Name: name, Description: desc})
	}
	return sources
}
