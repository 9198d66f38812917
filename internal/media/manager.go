package media

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Surface shows the live stream to the candidate
type Surface interface {
	Attach(stream *Stream)
}

// Manager acquires the capture devices and builds the recorder for an interview
type Manager struct {
	device      Device
	surface     Surface
	newRecorder RecorderFactory
}

func NewManager(device Device, surface Surface, newRecorder RecorderFactory) *Manager {
	return &Manager{device: device, surface: surface, newRecorder: newRecorder}
}

// Acquire opens camera and microphone, attaches the stream to the preview
// surface and binds a recorder whose non-empty fragments go to onData.
// When ctx ends while the devices are being opened, the stream is
// released and nothing is attached.
func (m *Manager) Acquire(ctx context.Context, onData func([]byte)) (*Session, error) {
	stream, err := m.device.Open(ctx, Constraints{Video: true, Audio: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open camera and microphone: %w", err)
	}

	if err := ctx.Err(); err != nil {
		if stopErr := stream.Stop(); stopErr != nil {
			slog.Debug("release after cancelled acquisition failed", "stream", stream.ID, "error", stopErr)
		}
		return nil, err
	}

	if m.surface != nil {
		m.surface.Attach(stream)
	}

	recorder, err := m.newRecorder(stream, func(fragment []byte) {
		if len(fragment) > 0 {
			onData(fragment)
		}
	})
	if err != nil {
		if stopErr := stream.Stop(); stopErr != nil {
			slog.Debug("release after recorder failure failed", "stream", stream.ID, "error", stopErr)
		}
		return nil, fmt.Errorf("failed to create recorder: %w", err)
	}

	slog.Info("camera and microphone ready", "stream", stream.ID)
	return &Session{stream: stream, recorder: recorder}, nil
}

// Session owns one acquired stream and its recorder until Release
type Session struct {
	stream   *Stream
	recorder Recorder

	once     sync.Once
	mutex    sync.Mutex
	released bool
}

func NewSession(stream *Stream, recorder Recorder) *Session {
	return &Session{stream: stream, recorder: recorder}
}

func (s *Session) Stream() *Stream {
	return s.stream
}

func (s *Session) Recorder() Recorder {
	return s.recorder
}

func (s *Session) Released() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.released
}

// Release stops capture exactly once. An active recorder is stopped and
// its stream's tracks released; otherwise the preview stream's tracks
// are released directly. Errors are logged and dropped.
func (s *Session) Release() {
	s.once.Do(func() {
		s.mutex.Lock()
		s.released = true
		s.mutex.Unlock()

		if s.recorder != nil && s.recorder.State() == StateRecording {
			ack := s.recorder.OnceStop()
			if err := s.recorder.Stop(); err != nil {
				slog.Debug("recorder stop during release", "error", err)
			} else if err := <-ack; err != nil {
				slog.Debug("recorder finished with error during release", "error", err)
			}
			if err := s.recorder.Stream().Stop(); err != nil {
				slog.Debug("track release failed", "error", err)
			}
			return
		}

		if err := s.stream.Stop(); err != nil {
			slog.Debug("track release failed", "error", err)
		}
	})
}
