// Package mediatest provides in-memory devices and recorders for tests.
package mediatest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/audiolibrelab/interviewcapture/internal/config"
	"github.com/audiolibrelab/interviewcapture/internal/media"
)

// Closer counts how many times a track handle was closed
type Closer struct {
	n atomic.Int32
}

func (c *Closer) Close() error {
	c.n.Add(1)
	return nil
}

func (c *Closer) Count() int {
	return int(c.n.Load())
}

// Device hands out streams backed by counting closers
type Device struct {
	Err error

	// Block, when set, holds Open until the channel is closed or ctx ends
	Block chan struct{}

	mutex   sync.Mutex
	Streams []*media.Stream
	Closers []*Closer
}

func (d *Device) Open(ctx context.Context, c media.Constraints) (*media.Stream, error) {
	if d.Block != nil {
		select {
		case <-d.Block:
		case <-ctx.Done():
		}
	}
	if d.Err != nil {
		return nil, d.Err
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	var tracks []*media.Track
	if c.Video {
		closer := &Closer{}
		d.Closers = append(d.Closers, closer)
		tracks = append(tracks, media.NewTrack(media.TrackVideo, config.Device{Name: "camera", Kind: config.KindVideo, Format: "lavfi", Source: "testsrc"}, closer))
	}
	if c.Audio {
		closer := &Closer{}
		d.Closers = append(d.Closers, closer)
		tracks = append(tracks, media.NewTrack(media.TrackAudio, config.Device{Name: "microphone", Kind: config.KindAudio, Format: "lavfi", Source: "sine"}, closer))
	}
	stream := media.NewStream(tracks...)
	d.Streams = append(d.Streams, stream)
	return stream, nil
}

// CloseCounts returns the close count of every handle handed out so far
func (d *Device) CloseCounts() []int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	counts := make([]int, len(d.Closers))
	for i, c := range d.Closers {
		counts[i] = c.Count()
	}
	return counts
}

// Recorder is a scripted recorder. Fragments are pushed with Emit; with
// ManualAck the stop acknowledgment is held until Ack is called and the
// recorder keeps reporting StateRecording until then, as ffmpeg does
// while it drains.
type Recorder struct {
	ManualAck bool
	StartErr  error

	mutex      sync.Mutex
	stream     *media.Stream
	onData     func([]byte)
	state      media.RecorderState
	starts     int
	stops      int
	ackPending bool
	stopping   bool
	notifier   media.StopNotifier
}

func NewRecorder(stream *media.Stream, onData func([]byte)) *Recorder {
	return &Recorder{stream: stream, onData: onData, state: media.StateInactive}
}

func (r *Recorder) Start() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.StartErr != nil {
		return r.StartErr
	}
	if r.state == media.StateRecording {
		return media.ErrRecorderActive
	}
	r.state = media.StateRecording
	r.starts++
	return nil
}

func (r *Recorder) Stop() error {
	r.mutex.Lock()
	if r.state != media.StateRecording || r.stopping {
		r.mutex.Unlock()
		return media.ErrRecorderInactive
	}
	r.stops++
	manual := r.ManualAck
	r.ackPending = manual
	if manual {
		r.stopping = true
	} else {
		r.state = media.StateInactive
	}
	r.mutex.Unlock()

	if !manual {
		r.notifier.Notify(nil)
	}
	return nil
}

// Ack publishes a held stop acknowledgment
func (r *Recorder) Ack(err error) {
	r.mutex.Lock()
	r.ackPending = false
	r.stopping = false
	r.state = media.StateInactive
	r.mutex.Unlock()
	r.notifier.Notify(err)
}

// Emit delivers one fragment as the capture subsystem would
func (r *Recorder) Emit(fragment []byte) {
	r.onData(fragment)
}

func (r *Recorder) State() media.RecorderState {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.state
}

func (r *Recorder) Stream() *media.Stream {
	return r.stream
}

func (r *Recorder) OnceStop() <-chan error {
	return r.notifier.Subscribe()
}

func (r *Recorder) AckPending() bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.ackPending
}

func (r *Recorder) Starts() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.starts
}

func (r *Recorder) Stops() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.stops
}

// Factory builds Recorders and remembers the last one
type Factory struct {
	ManualAck bool
	Err       error

	mutex sync.Mutex
	last  *Recorder
}

func (f *Factory) New(stream *media.Stream, onData func([]byte)) (media.Recorder, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	r := NewRecorder(stream, onData)
	r.ManualAck = f.ManualAck
	f.mutex.Lock()
	f.last = r
	f.mutex.Unlock()
	return r, nil
}

func (f *Factory) Last() *Recorder {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.last
}

// Surface records attached streams
type Surface struct {
	mutex    sync.Mutex
	Attached []*media.Stream
}

func (s *Surface) Attach(stream *media.Stream) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Attached = append(s.Attached, stream)
}

func (s *Surface) Count() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.Attached)
}
