package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/interviewcapture/internal/backend"
	"github.com/audiolibrelab/interviewcapture/internal/media"
)

// Uploader submits finalized answers
type Uploader interface {
	SubmitAnswer(ctx context.Context, req backend.AnswerRequest) (*backend.AnswerResponse, error)
	MediaURL(path string) string
}

// PreviewPublisher serves a finalized recording locally until revoked
type PreviewPublisher interface {
	Publish(m Media) (Preview, error)
	Revoke(id string)
}

// Snapshot is a read-only view of the controller for renderers
type Snapshot struct {
	Version       uint64    `json:"version"`
	Token         string    `json:"token"`
	CandidateName string    `json:"candidate_name"`
	Role          string    `json:"role"`
	Phase         PhaseKind `json:"phase"`
	Question      string    `json:"question,omitempty"`
	Index         int       `json:"index"`
	Total         int       `json:"total"`
	Position      string    `json:"position,omitempty"`
	Finished      bool      `json:"finished"`
	NoQuestions   bool      `json:"no_questions"`
	Transcript    string    `json:"transcript,omitempty"`
	PreviewURL    string    `json:"preview_url,omitempty"`
	MediaURL      string    `json:"media_url,omitempty"`
	Error         string    `json:"error,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	RecordingFrom time.Time `json:"recording_from,omitempty"`
	CanStart      bool      `json:"can_start"`
	CanStop       bool      `json:"can_stop"`
	CanNext       bool      `json:"can_next"`
}

// Controller drives one interview: it owns the Phase and is its only
// mutator. Start/Stop command the recorder, Stop then waits for the stop
// acknowledgment before the buffer is assembled and uploaded.
type Controller struct {
	session  *Session
	recorder media.Recorder
	buffer   *Buffer
	uploader Uploader
	previews PreviewPublisher
	now      func() time.Time

	mutex     sync.Mutex
	phase     Phase
	cycle     uint64
	version   uint64
	closed    bool
	observers []func(Snapshot)
}

func NewController(session *Session, recorder media.Recorder, buffer *Buffer, uploader Uploader, previews PreviewPublisher) *Controller {
	if buffer == nil {
		buffer = NewBuffer(nil)
	}
	if previews == nil {
		previews = nopPreviews{}
	}
	return &Controller{
		session:  session,
		recorder: recorder,
		buffer:   buffer,
		uploader: uploader,
		previews: previews,
		now:      time.Now,
		phase:    Idle{},
	}
}

// Observe registers fn for every snapshot published after a transition
func (c *Controller) Observe(fn func(Snapshot)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.observers = append(c.observers, fn)
}

func (c *Controller) Phase() Phase {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.phase
}

func (c *Controller) Snapshot() Snapshot {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.snapshotLocked()
}

// Start begins a new take for the current question
func (c *Controller) Start() error {
	c.mutex.Lock()

	if err := c.startAllowedLocked(); err != nil {
		c.mutex.Unlock()
		return err
	}

	c.cycle++
	c.revokePreviewLocked()
	c.buffer.Reset()

	if err := c.recorder.Start(); err != nil {
		wrapped := fmt.Errorf("%w: %w", ErrRecording, err)
		snap := c.transition(Failed{Message: RecordingErrorText, Err: wrapped})
		c.mutex.Unlock()
		c.publish(snap)
		return wrapped
	}

	snap := c.transition(Recording{StartedAt: c.now()})
	c.mutex.Unlock()
	c.publish(snap)
	return nil
}

func (c *Controller) startAllowedLocked() error {
	if c.closed {
		return ErrFinished
	}
	if c.recorder == nil {
		return ErrPrecondition
	}
	if c.session.Sequencer.Finished() {
		return ErrFinished
	}
	if c.session.Sequencer.Empty() {
		return ErrNoQuestions
	}
	switch c.phase.(type) {
	case Idle, Ready, Failed:
	default:
		return ErrBusy
	}
	if c.recorder.State() == media.StateRecording {
		return ErrBusy
	}
	return nil
}

// Stop ends the take and carries it through finalization and upload.
// It returns once the phase is Ready or Failed, or when ctx ends while the
// stop acknowledgment is still outstanding. The upload itself is not
// cancelled by ctx; a result arriving after Next or Close is discarded.
func (c *Controller) Stop(ctx context.Context) error {
	done, err := c.StopAsync(ctx)
	if err != nil {
		return err
	}
	return <-done
}

// StopAsync stops the recorder and enters Finalizing before returning.
// The rest of Stop runs in the background and its outcome is sent on
// the returned channel.
func (c *Controller) StopAsync(ctx context.Context) (<-chan error, error) {
	c.mutex.Lock()

	if _, ok := c.phase.(Recording); !ok {
		c.mutex.Unlock()
		return nil, ErrNotRecording
	}

	cycle := c.cycle
	ack := c.recorder.OnceStop()
	if err := c.recorder.Stop(); err != nil {
		wrapped := fmt.Errorf("%w: %w", ErrRecording, err)
		snap := c.transition(Failed{Message: RecordingErrorText, Err: wrapped})
		c.mutex.Unlock()
		c.publish(snap)
		return nil, wrapped
	}

	snap := c.transition(Finalizing{})
	c.mutex.Unlock()
	c.publish(snap)

	done := make(chan error, 1)
	go func() {
		select {
		case ackErr := <-ack:
			done <- c.finalize(ctx, cycle, ackErr)
		case <-ctx.Done():
			done <- ctx.Err()
		}
	}()
	return done, nil
}

func (c *Controller) finalize(ctx context.Context, cycle uint64, ackErr error) error {
	c.mutex.Lock()

	if c.cycle != cycle {
		c.mutex.Unlock()
		slog.Debug("discarding finalized take from an abandoned cycle", "cycle", cycle)
		return nil
	}

	c.buffer.Seal()
	m, err := c.buffer.Assemble()
	if err == nil && ackErr != nil {
		err = ackErr
	}
	if err == nil && len(m.Data) == 0 {
		err = errors.New("no media captured")
	}
	if err != nil {
		wrapped := fmt.Errorf("%w: %w", ErrRecording, err)
		snap := c.transition(Failed{Message: RecordingErrorText, Err: wrapped})
		c.mutex.Unlock()
		c.publish(snap)
		return wrapped
	}

	preview, err := c.previews.Publish(m)
	if err != nil {
		slog.Warn("local preview unavailable", "error", err)
	}

	question, _ := c.session.Sequencer.Current()
	index := c.session.Sequencer.Index()
	token := c.session.Token

	snap := c.transition(Uploading{Preview: preview})
	c.mutex.Unlock()
	c.publish(snap)

	slog.Info("uploading answer", "token", token, "question", index+1, "bytes", len(m.Data))
	resp, err := c.uploader.SubmitAnswer(context.WithoutCancel(ctx), backend.AnswerRequest{
		Token:    token,
		Question: question,
		Filename: m.Filename,
		Data:     m.Data,
	})

	c.mutex.Lock()
	if c.cycle != cycle {
		c.mutex.Unlock()
		slog.Info("discarding upload result for an abandoned question", "token", token, "question", index+1, "error", err)
		return nil
	}

	if err != nil {
		wrapped := fmt.Errorf("%w: %w", ErrUpload, err)
		slog.Error("answer upload failed", "token", token, "question", index+1, "error", err)
		kept := preview
		snap := c.transition(Failed{Preview: &kept, Message: UploadErrorText, Err: wrapped})
		c.mutex.Unlock()
		c.publish(snap)
		return wrapped
	}

	transcript := NoTranscriptText
	if resp.Transcript != nil && *resp.Transcript != "" {
		transcript = *resp.Transcript
	} else {
		slog.Warn("answer accepted without transcript", "token", token, "question", index+1, "error", ErrMalformedResponse)
	}

	c.buffer.Reset()
	snap = c.transition(Ready{
		Preview: preview,
		Answer: AnswerResult{
			QuestionIndex: index,
			Transcript:    transcript,
			MediaURL:      c.uploader.MediaURL(resp.MediaURL),
		},
	})
	c.mutex.Unlock()
	c.publish(snap)
	return nil
}

// Next moves on to the following question. While recording it does
// nothing and returns ErrBusy. A take still finalizing or uploading is
// abandoned and its result discarded.
func (c *Controller) Next() error {
	c.mutex.Lock()

	if c.recorder == nil {
		c.mutex.Unlock()
		return ErrPrecondition
	}
	if c.session.Sequencer.Finished() {
		c.mutex.Unlock()
		return ErrFinished
	}
	if c.session.Sequencer.Empty() {
		c.mutex.Unlock()
		return ErrNoQuestions
	}
	if _, ok := c.phase.(Recording); ok {
		c.mutex.Unlock()
		return ErrBusy
	}

	c.cycle++
	c.revokePreviewLocked()
	c.buffer.Reset()
	finished := c.session.Sequencer.Advance()
	if finished {
		slog.Info("interview complete", "token", c.session.Token)
	}

	snap := c.transition(Idle{})
	c.mutex.Unlock()
	c.publish(snap)
	return nil
}

// Close discards any pending result and revokes the current preview
func (c *Controller) Close() {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return
	}
	c.closed = true
	c.cycle++
	c.revokePreviewLocked()
	c.mutex.Unlock()
}

func (c *Controller) revokePreviewLocked() {
	if p, ok := PreviewOf(c.phase); ok && p.ID != "" {
		c.previews.Revoke(p.ID)
	}
}

// transition is the single place the phase changes. Callers hold the
// mutex and publish the returned snapshot after unlocking.
func (c *Controller) transition(next Phase) Snapshot {
	prev := c.phase
	c.phase = next
	c.version++
	slog.Debug("phase transition", "token", c.session.Token, "from", prev.Kind(), "to", next.Kind())
	if f, ok := next.(Failed); ok && f.Err != nil {
		slog.Debug("phase failure", "error", f.Err)
	}
	return c.snapshotLocked()
}

func (c *Controller) publish(snap Snapshot) {
	c.mutex.Lock()
	observers := make([]func(Snapshot), len(c.observers))
	copy(observers, c.observers)
	c.mutex.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	seq := c.session.Sequencer
	question, _ := seq.Current()

	snap := Snapshot{
		Version:       c.version,
		Token:         c.session.Token,
		CandidateName: c.session.Candidate.Name,
		Role:          c.session.Candidate.Role,
		Phase:         c.phase.Kind(),
		Question:      question,
		Index:         seq.Index(),
		Total:         seq.Total(),
		Position:      seq.Position(),
		Finished:      seq.Finished(),
		NoQuestions:   seq.Empty(),
		Transcript:    TranscriptText(c.phase),
	}

	if p, ok := PreviewOf(c.phase); ok {
		snap.PreviewURL = p.URL
	}
	switch v := c.phase.(type) {
	case Recording:
		snap.RecordingFrom = v.StartedAt
	case Ready:
		snap.MediaURL = v.Answer.MediaURL
	case Failed:
		snap.Error = v.Message
		if v.Err != nil {
			snap.Detail = v.Err.Error()
		}
	}

	active := !c.closed && c.recorder != nil && !snap.Finished && !snap.NoQuestions
	switch c.phase.(type) {
	case Idle, Ready, Failed:
		// an abandoned take can still be draining after Next
		snap.CanStart = active && c.recorder.State() != media.StateRecording
		snap.CanNext = active
	case Recording:
		snap.CanStop = active
	case Finalizing, Uploading:
		snap.CanNext = active
	}
	return snap
}

type nopPreviews struct{}

func (nopPreviews) Publish(Media) (Preview, error) { return Preview{}, nil }
func (nopPreviews) Revoke(string)                  {}
