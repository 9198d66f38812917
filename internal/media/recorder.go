package media

import (
	"errors"
	"sync"
)

// RecorderState mirrors the recorder's activity
type RecorderState string

const (
	StateInactive  RecorderState = "inactive"
	StateRecording RecorderState = "recording"
)

var (
	ErrRecorderActive   = errors.New("recorder already active")
	ErrRecorderInactive = errors.New("recorder not active")
)

// Recorder encodes a stream into fragments. Fragments go to the callback
// given at construction, one at a time, in order. After Stop every
// fragment is delivered before the stop acknowledgment is published to
// OnceStop subscribers.
type Recorder interface {
	Start() error
	Stop() error
	State() RecorderState
	Stream() *Stream

	// OnceStop returns a channel that receives exactly one value when the
	// current recording has fully stopped. Subscribe before calling Stop.
	OnceStop() <-chan error
}

// RecorderFactory binds a recorder to a stream and a fragment callback
type RecorderFactory func(stream *Stream, onData func([]byte)) (Recorder, error)

// StopNotifier fans a stop acknowledgment out to one-shot subscribers
type StopNotifier struct {
	mutex sync.Mutex
	subs  []chan error
}

func (n *StopNotifier) Subscribe() <-chan error {
	ch := make(chan error, 1)
	n.mutex.Lock()
	n.subs = append(n.subs, ch)
	n.mutex.Unlock()
	return ch
}

// Notify delivers err to every current subscriber and forgets them
func (n *StopNotifier) Notify(err error) {
	n.mutex.Lock()
	subs := n.subs
	n.subs = nil
	n.mutex.Unlock()

	for _, ch := range subs {
		ch <- err
		close(ch)
	}
}
