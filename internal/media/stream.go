package media

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/audiolibrelab/interviewcapture/internal/config"
)

// TrackKind distinguishes camera and microphone tracks
type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
)

// Track is one claimed capture device. Stop releases the claim at most once.
type Track struct {
	Kind   TrackKind
	Device config.Device

	handle io.Closer

	once    sync.Once
	mutex   sync.Mutex
	stopped bool
	err     error
}

func NewTrack(kind TrackKind, device config.Device, handle io.Closer) *Track {
	return &Track{Kind: kind, Device: device, handle: handle}
}

func (t *Track) Label() string {
	return t.Device.Name
}

// Stop releases the device. Repeated calls return the first result.
func (t *Track) Stop() error {
	t.once.Do(func() {
		var err error
		if t.handle != nil {
			err = t.handle.Close()
		}
		t.mutex.Lock()
		t.stopped = true
		t.err = err
		t.mutex.Unlock()
	})

	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.err
}

func (t *Track) Stopped() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.stopped
}

// Stream groups the tracks acquired together for one interview
type Stream struct {
	ID     string
	tracks []*Track
}

func NewStream(tracks ...*Track) *Stream {
	return &Stream{ID: uuid.NewString(), tracks: tracks}
}

func (s *Stream) Tracks() []*Track {
	out := make([]*Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// Track returns the first track of the given kind
func (s *Stream) Track(kind TrackKind) (*Track, bool) {
	for _, t := range s.tracks {
		if t.Kind == kind {
			return t, true
		}
	}
	return nil, false
}

// Stop stops every track and joins the errors
func (s *Stream) Stop() error {
	var errs []error
	for _, t := range s.tracks {
		if err := t.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s track %q: %w", t.Kind, t.Label(), err))
		}
	}
	return errors.Join(errs...)
}
