package media

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/interviewcapture/internal/config"
)

// FFmpegRecorder records a stream by running ffmpeg with the stream's
// devices as inputs and reading the muxed output from its stdout.
type FFmpegRecorder struct {
	cfg    config.CaptureConfig
	stream *Stream
	onData func([]byte)

	// replaced in tests
	newCommand func(name string, args ...string) *exec.Cmd

	mutex     sync.Mutex
	state     RecorderState
	ffmpegCmd *exec.Cmd
	done      chan struct{}
	stopping  bool
	stderrBuf strings.Builder

	notifier StopNotifier
}

// NewFFmpegRecorderFactory returns a RecorderFactory for the given capture settings
func NewFFmpegRecorderFactory(cfg config.CaptureConfig) RecorderFactory {
	return func(stream *Stream, onData func([]byte)) (Recorder, error) {
		return NewFFmpegRecorder(cfg, stream, onData)
	}
}

func NewFFmpegRecorder(cfg config.CaptureConfig, stream *Stream, onData func([]byte)) (*FFmpegRecorder, error) {
	if stream == nil || len(stream.Tracks()) == 0 {
		return nil, fmt.Errorf("recorder needs a stream with at least one track")
	}
	if onData == nil {
		return nil, fmt.Errorf("recorder needs a data callback")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 32 * 1024
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}

	return &FFmpegRecorder{
		cfg:        cfg,
		stream:     stream,
		onData:     onData,
		newCommand: exec.Command,
		state:      StateInactive,
	}, nil
}

func (r *FFmpegRecorder) Stream() *Stream {
	return r.stream
}

func (r *FFmpegRecorder) State() RecorderState {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.state
}

func (r *FFmpegRecorder) OnceStop() <-chan error {
	return r.notifier.Subscribe()
}

func (r *FFmpegRecorder) Start() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.state == StateRecording {
		return ErrRecorderActive
	}
	for _, t := range r.stream.Tracks() {
		if t.Stopped() {
			return fmt.Errorf("%s track %q already released", t.Kind, t.Label())
		}
	}

	args := r.buildArgs()
	slog.Info("Starting FFmpeg", "command", r.cfg.FFmpegPath+" "+strings.Join(args, " "))

	cmd := r.newCommand(r.cfg.FFmpegPath, args...)
	cmd.Env = os.Environ()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start FFmpeg: %w", err)
	}

	r.ffmpegCmd = cmd
	r.done = make(chan struct{})
	r.stopping = false
	r.stderrBuf.Reset()
	r.state = StateRecording

	go r.readOutput(stderr)
	go r.pump(cmd, stdout, r.done)

	return nil
}

// Stop asks ffmpeg to finish the file and returns without waiting.
// The acknowledgment arrives through OnceStop once the last fragment
// has been delivered. ffmpeg is killed if it does not exit within the
// configured stop timeout.
func (r *FFmpegRecorder) Stop() error {
	r.mutex.Lock()
	if r.state != StateRecording || r.stopping {
		r.mutex.Unlock()
		return ErrRecorderInactive
	}
	r.stopping = true
	cmd := r.ffmpegCmd
	done := r.done
	r.mutex.Unlock()

	if cmd.Process != nil {
		slog.Debug("Sending SIGINT to FFmpeg process")
		if err := cmd.Process.Signal(os.Interrupt); err != nil {
			slog.Debug("Failed to send interrupt to FFmpeg, falling back to SIGKILL", "error", err)
			_ = cmd.Process.Kill()
		}
	}

	go func() {
		select {
		case <-done:
		case <-time.After(r.cfg.StopTimeout):
			slog.Warn("FFmpeg did not exit within timeout, force killing", "timeout", r.cfg.StopTimeout)
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
		}
	}()

	return nil
}

// pump is the only caller of onData. It reads until ffmpeg closes stdout,
// reaps the process, then publishes the acknowledgment.
func (r *FFmpegRecorder) pump(cmd *exec.Cmd, stdout io.Reader, done chan struct{}) {
	buf := make([]byte, r.cfg.ChunkSize)
	fragments := 0
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			fragment := make([]byte, n)
			copy(fragment, buf[:n])
			r.onData(fragment)
			fragments++
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("FFmpeg stdout read ended", "error", err)
			}
			break
		}
	}

	waitErr := cmd.Wait()

	r.mutex.Lock()
	requested := r.stopping
	stderrTail := r.stderrBuf.String()
	r.state = StateInactive
	r.ffmpegCmd = nil
	r.stopping = false
	r.mutex.Unlock()

	err := classifyExit(waitErr)
	if err != nil {
		slog.Debug("FFmpeg stderr", "output", stderrTail)
		err = fmt.Errorf("FFmpeg process failed: %w", err)
	}
	if !requested {
		slog.Error("FFmpeg exited while recording", "error", err)
		if err == nil {
			err = fmt.Errorf("FFmpeg exited unexpectedly")
		}
	}

	slog.Debug("FFmpeg recording finished", "fragments", fragments)
	close(done)
	r.notifier.Notify(err)
}

func (r *FFmpegRecorder) readOutput(pipe io.ReadCloser) {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		r.mutex.Lock()
		r.stderrBuf.WriteString(line + "\n")
		r.mutex.Unlock()
		slog.Debug("FFmpeg output", "stream", "stderr", "line", line)
	}
}

// classifyExit treats the exits ffmpeg produces after SIGINT as success
func classifyExit(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ExitCode() == 255 {
			return nil
		}
		if exitErr.ProcessState != nil {
			state := exitErr.ProcessState.String()
			if state == "signal: interrupt" || state == "signal: killed" {
				return nil
			}
		}
	}
	return err
}

func (r *FFmpegRecorder) buildArgs() []string {
	loglevel := os.Getenv("FFMPEG_LOGLEVEL")
	if loglevel == "" {
		loglevel = "error"
	}

	args := []string{"-hide_banner", "-nostdin", "-loglevel", loglevel}

	tracks := r.stream.Tracks()
	for _, t := range tracks {
		d := t.Device
		args = append(args, "-f", d.Format)
		if t.Kind == TrackVideo {
			if d.Framerate > 0 {
				args = append(args, "-framerate", strconv.Itoa(d.Framerate))
			}
			if d.VideoSize != "" {
				args = append(args, "-video_size", d.VideoSize)
			}
		}
		args = append(args, "-i", d.Source)
	}

	for i, t := range tracks {
		if t.Kind == TrackVideo {
			args = append(args, "-map", fmt.Sprintf("%d:v:0", i))
		} else {
			args = append(args, "-map", fmt.Sprintf("%d:a:0", i))
		}
	}

	if _, ok := r.stream.Track(TrackVideo); ok {
		args = append(args, "-c:v", r.cfg.VideoCodec, "-deadline", "realtime")
	}
	if _, ok := r.stream.Track(TrackAudio); ok {
		args = append(args, "-c:a", r.cfg.AudioCodec)
	}

	return append(args, "-f", r.cfg.Container, "pipe:1")
}
