package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/audiolibrelab/interviewcapture/internal/config"
)

var (
	ErrPermissionDenied = errors.New("camera or microphone access denied")
	ErrNoDevice         = errors.New("camera or microphone not available")
)

// Constraints selects which kinds of tracks to open
type Constraints struct {
	Video bool
	Audio bool
}

// Device opens a live capture stream
type Device interface {
	Open(ctx context.Context, c Constraints) (*Stream, error)
}

// LocalDevices claims the camera and microphone named in the configuration
type LocalDevices struct {
	video      config.Device
	audio      config.Device
	ffmpegPath string
}

func NewLocalDevices(cfg *config.Config) *LocalDevices {
	video, _ := cfg.Video()
	audio, _ := cfg.Audio()
	return &LocalDevices{
		video:      video,
		audio:      audio,
		ffmpegPath: cfg.Capture.FFmpegPath,
	}
}

func (d *LocalDevices) Open(ctx context.Context, c Constraints) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, err := exec.LookPath(d.ffmpegPath); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg not found at %q: %v", ErrNoDevice, d.ffmpegPath, err)
	}

	var tracks []*Track
	release := func() {
		for _, t := range tracks {
			_ = t.Stop()
		}
	}

	if c.Video {
		t, err := claim(TrackVideo, d.video)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	if c.Audio {
		t, err := claim(TrackAudio, d.audio)
		if err != nil {
			release()
			return nil, err
		}
		tracks = append(tracks, t)
	}

	if err := ctx.Err(); err != nil {
		release()
		return nil, err
	}

	stream := NewStream(tracks...)
	slog.Debug("capture stream opened", "stream", stream.ID, "tracks", len(tracks))
	return stream, nil
}

// claim opens device nodes read-only so access problems show up before
// ffmpeg starts. Other inputs are addressed by name and claimed logically.
func claim(kind TrackKind, device config.Device) (*Track, error) {
	if device.Name == "" {
		return nil, fmt.Errorf("%w: no %s device configured", ErrNoDevice, kind)
	}

	if !strings.HasPrefix(device.Source, "/dev/") {
		return NewTrack(kind, device, nopCloser{}), nil
	}

	f, err := os.OpenFile(device.Source, os.O_RDONLY, 0)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrPermission):
			return nil, fmt.Errorf("%w: %s %q: %v", ErrPermissionDenied, kind, device.Source, err)
		case errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("%w: %s %q: %v", ErrNoDevice, kind, device.Source, err)
		default:
			return nil, fmt.Errorf("open %s %q: %w", kind, device.Source, err)
		}
	}
	return NewTrack(kind, device, f), nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

var _ io.Closer = nopCloser{}
