package interview

import (
	"log/slog"
	"sync"
	"time"
)

// Media is one assembled recording ready for preview and upload
type Media struct {
	Data        []byte
	ContentType string
	Filename    string
	AckAt       time.Time
	AssembledAt time.Time
}

// Buffer accumulates recorder fragments for the current take. It can only
// be assembled after Seal, which is called once the recorder's stop
// acknowledgment has been observed.
type Buffer struct {
	mutex     sync.Mutex
	fragments [][]byte
	size      int
	sealed    bool
	ackAt     time.Time
	dropped   int
	now       func() time.Time
}

func NewBuffer(now func() time.Time) *Buffer {
	if now == nil {
		now = time.Now
	}
	return &Buffer{now: now}
}

// Append adds a fragment. Empty fragments are ignored.
func (b *Buffer) Append(fragment []byte) {
	if len(fragment) == 0 {
		return
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.sealed {
		b.dropped++
		slog.Debug("dropping fragment delivered after seal", "bytes", len(fragment), "dropped", b.dropped)
		return
	}
	b.fragments = append(b.fragments, fragment)
	b.size += len(fragment)
}

// Reset empties the buffer for a new take
func (b *Buffer) Reset() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.fragments = nil
	b.size = 0
	b.sealed = false
	b.ackAt = time.Time{}
	b.dropped = 0
}

// Seal records the stop acknowledgment time and closes the buffer to appends
func (b *Buffer) Seal() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.sealed {
		return
	}
	b.sealed = true
	b.ackAt = b.now()
}

func (b *Buffer) Sealed() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.sealed
}

func (b *Buffer) Len() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return len(b.fragments)
}

func (b *Buffer) Size() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.size
}

// Assemble concatenates the fragments in order. It fails with
// ErrNotFinalized until the buffer is sealed.
func (b *Buffer) Assemble() (Media, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.sealed {
		return Media{}, ErrNotFinalized
	}

	data := make([]byte, 0, b.size)
	for _, f := range b.fragments {
		data = append(data, f...)
	}

	return Media{
		Data:        data,
		ContentType: defaultAnswerContent,
		Filename:    defaultAnswerFile,
		AckAt:       b.ackAt,
		AssembledAt: b.now(),
	}, nil
}
