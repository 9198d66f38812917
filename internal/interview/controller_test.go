package interview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/interviewcapture/internal/backend"
	"github.com/audiolibrelab/interviewcapture/internal/media"
	"github.com/audiolibrelab/interviewcapture/internal/media/mediatest"
)

type fakeDirectory struct {
	candidates    map[string]backend.Candidate
	questions     []string
	candidatesErr error
	questionsErr  error

	mutex         sync.Mutex
	questionCalls int
	lastRole      string
	lastLimit     int
}

func (d *fakeDirectory) Candidates(ctx context.Context) (map[string]backend.Candidate, error) {
	return d.candidates, d.candidatesErr
}

func (d *fakeDirectory) Questions(ctx context.Context, role string, limit int, token string) ([]string, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.questionCalls++
	d.lastRole = role
	d.lastLimit = limit
	return d.questions, d.questionsErr
}

type fakeUploader struct {
	resp  *backend.AnswerResponse
	err   error
	block chan struct{}

	mutex    sync.Mutex
	requests []backend.AnswerRequest
	entered  chan struct{}
}

func (u *fakeUploader) SubmitAnswer(ctx context.Context, req backend.AnswerRequest) (*backend.AnswerResponse, error) {
	u.mutex.Lock()
	u.requests = append(u.requests, req)
	entered := u.entered
	u.mutex.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if u.block != nil {
		<-u.block
	}
	return u.resp, u.err
}

func (u *fakeUploader) MediaURL(path string) string {
	if path == "" {
		return ""
	}
	return "http://backend.test" + path
}

func (u *fakeUploader) Requests() []backend.AnswerRequest {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	return append([]backend.AnswerRequest(nil), u.requests...)
}

type fakePreviews struct {
	mutex     sync.Mutex
	published []Media
	revoked   []string
}

func (p *fakePreviews) Publish(m Media) (Preview, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.published = append(p.published, m)
	id := fmt.Sprintf("p%d", len(p.published))
	return Preview{ID: id, URL: "/preview/" + id, Size: len(m.Data)}, nil
}

func (p *fakePreviews) Revoke(id string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.revoked = append(p.revoked, id)
}

func (p *fakePreviews) Revoked() []string {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]string(nil), p.revoked...)
}

func (p *fakePreviews) Published() []Media {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]Media(nil), p.published...)
}

func transcript(s string) *string { return &s }

type fixture struct {
	session    *Session
	recorder   *mediatest.Recorder
	buffer     *Buffer
	uploader   *fakeUploader
	previews   *fakePreviews
	controller *Controller
}

func newFixture(t *testing.T, questions []string, manualAck bool) *fixture {
	t.Helper()

	dir := &fakeDirectory{
		candidates: map[string]backend.Candidate{"abc123": {Name: "Jane", Role: "Engineer"}},
		questions:  questions,
	}
	session, err := LoadSession(context.Background(), dir, "abc123", 5)
	require.NoError(t, err)

	buffer := NewBuffer(tickingClock())
	recorder := mediatest.NewRecorder(media.NewStream(), buffer.Append)
	recorder.ManualAck = manualAck

	f := &fixture{
		session:  session,
		recorder: recorder,
		buffer:   buffer,
		uploader: &fakeUploader{resp: &backend.AnswerResponse{Transcript: transcript("ok")}},
		previews: &fakePreviews{},
	}
	f.controller = NewController(session, recorder, buffer, f.uploader, f.previews)
	return f
}

// tickingClock advances one millisecond per reading
func tickingClock() func() time.Time {
	var mutex sync.Mutex
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mutex.Lock()
		defer mutex.Unlock()
		now = now.Add(time.Millisecond)
		return now
	}
}

func (f *fixture) record(t *testing.T, fragments ...string) error {
	t.Helper()
	require.NoError(t, f.controller.Start())
	for _, fr := range fragments {
		f.recorder.Emit([]byte(fr))
	}
	return f.controller.Stop(context.Background())
}

func waitForPhase(t *testing.T, c *Controller, kind PhaseKind) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Phase().Kind() == kind }, 2*time.Second, time.Millisecond,
		"phase never became %s", kind)
}

func TestTwoQuestionsToFinished(t *testing.T) {
	f := newFixture(t, []string{"Tell us about yourself", "Why this role?"}, false)
	c := f.controller

	snap := c.Snapshot()
	assert.Equal(t, "Question 1 of 2", snap.Position)
	assert.Equal(t, "Tell us about yourself", snap.Question)
	assert.Equal(t, "Jane", snap.CandidateName)
	assert.True(t, snap.CanStart)

	require.NoError(t, f.record(t, "a", "b"))
	assert.Equal(t, KindReady, c.Phase().Kind())
	require.NoError(t, c.Next())
	assert.Equal(t, "Question 2 of 2", c.Snapshot().Position)

	require.NoError(t, f.record(t, "c"))
	require.NoError(t, c.Next())

	snap = c.Snapshot()
	assert.True(t, snap.Finished)
	assert.False(t, snap.CanStart)
	assert.Equal(t, ErrFinished, c.Start())
	assert.Equal(t, ErrFinished, c.Next())
	assert.Equal(t, NoticeFinished, Notice(ErrFinished))

	reqs := f.uploader.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "Tell us about yourself", reqs[0].Question)
	assert.Equal(t, []byte("ab"), reqs[0].Data)
	assert.Equal(t, "answer.webm", reqs[0].Filename)
	assert.Equal(t, "abc123", reqs[0].Token)
	assert.Equal(t, "Why this role?", reqs[1].Question)
}

func TestUploadFailureKeepsPreview(t *testing.T) {
	f := newFixture(t, []string{"q1"}, false)
	f.uploader.resp = nil
	f.uploader.err = &backend.StatusError{Method: "POST", URL: "/answer", StatusCode: 500}

	err := f.record(t, "take")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpload)

	phase := f.controller.Phase()
	failed, ok := phase.(Failed)
	require.True(t, ok, "expected Failed, got %T", phase)
	assert.Equal(t, UploadErrorText, failed.Message)
	require.NotNil(t, failed.Preview)
	assert.Equal(t, "/preview/p1", failed.Preview.URL)
	assert.Empty(t, f.previews.Revoked())

	snap := f.controller.Snapshot()
	assert.Equal(t, UploadErrorText, snap.Transcript)
	assert.Equal(t, "/preview/p1", snap.PreviewURL)
	assert.True(t, snap.CanStart)

	// re-recording replaces the failed take
	f.uploader.err = nil
	f.uploader.resp = &backend.AnswerResponse{Transcript: transcript("second try")}
	require.NoError(t, f.record(t, "retake"))
	assert.Equal(t, "second try", f.controller.Snapshot().Transcript)
	assert.Equal(t, []string{"p1"}, f.previews.Revoked())
}

func TestTranscriptWithoutMediaURL(t *testing.T) {
	f := newFixture(t, []string{"q1"}, false)
	f.uploader.resp = &backend.AnswerResponse{Transcript: transcript("I am a backend developer.")}

	require.NoError(t, f.record(t, "take"))

	snap := f.controller.Snapshot()
	assert.Equal(t, KindReady, snap.Phase)
	assert.Equal(t, "I am a backend developer.", snap.Transcript)
	assert.Empty(t, snap.MediaURL)
	assert.Equal(t, 0, f.buffer.Len())
}

func TestReady_WithMediaURL(t *testing.T) {
	f := newFixture(t, []string{"q1"}, false)
	f.uploader.resp = &backend.AnswerResponse{Transcript: transcript("hi"), MediaURL: "/media/abc123_0.webm"}

	require.NoError(t, f.record(t, "take"))
	assert.Equal(t, "http://backend.test/media/abc123_0.webm", f.controller.Snapshot().MediaURL)
}

func TestMissingTranscriptUsesPlaceholder(t *testing.T) {
	f := newFixture(t, []string{"q1"}, false)
	f.uploader.resp = &backend.AnswerResponse{}

	require.NoError(t, f.record(t, "take"))

	ready, ok := f.controller.Phase().(Ready)
	require.True(t, ok)
	assert.Equal(t, NoTranscriptText, ready.Answer.Transcript)
}

func TestNoRecorderBlocksControls(t *testing.T) {
	dir := &fakeDirectory{
		candidates: map[string]backend.Candidate{"abc123": {Name: "Jane", Role: "Engineer"}},
		questions:  []string{"q1"},
	}
	session, err := LoadSession(context.Background(), dir, "abc123", 5)
	require.NoError(t, err)

	c := NewController(session, nil, nil, &fakeUploader{}, nil)

	assert.ErrorIs(t, c.Start(), ErrPrecondition)
	assert.ErrorIs(t, c.Next(), ErrPrecondition)
	snap := c.Snapshot()
	assert.False(t, snap.CanStart)
	assert.False(t, snap.CanStop)
	assert.False(t, snap.CanNext)
	assert.Equal(t, NoticePrecondition, Notice(fmt.Errorf("acquire: %w", ErrPrecondition)))
}

func TestAssemblyWaitsForStopAcknowledgment(t *testing.T) {
	f := newFixture(t, []string{"q1"}, true)
	c := f.controller

	require.NoError(t, c.Start())
	f.recorder.Emit([]byte("early-"))

	done := make(chan error, 1)
	go func() { done <- c.Stop(context.Background()) }()

	waitForPhase(t, c, KindFinalizing)
	assert.Equal(t, ProcessingText, c.Snapshot().Transcript)

	// fragments still arrive between the stop request and the acknowledgment
	f.recorder.Emit([]byte("late"))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, f.previews.Published())
	assert.Empty(t, f.uploader.Requests())
	assert.False(t, f.buffer.Sealed())

	f.recorder.Ack(nil)
	require.NoError(t, <-done)

	published := f.previews.Published()
	require.Len(t, published, 1)
	assert.Equal(t, []byte("early-late"), published[0].Data)
	assert.True(t, published[0].AssembledAt.After(published[0].AckAt))
	assert.Equal(t, []byte("early-late"), f.uploader.Requests()[0].Data)
}

func TestStopAcknowledgmentErrorFailsTake(t *testing.T) {
	f := newFixture(t, []string{"q1"}, true)
	c := f.controller

	require.NoError(t, c.Start())
	f.recorder.Emit([]byte("x"))

	done := make(chan error, 1)
	go func() { done <- c.Stop(context.Background()) }()
	waitForPhase(t, c, KindFinalizing)
	f.recorder.Ack(errors.New("encoder crashed"))

	err := <-done
	assert.ErrorIs(t, err, ErrRecording)
	failed, ok := c.Phase().(Failed)
	require.True(t, ok)
	assert.Equal(t, RecordingErrorText, failed.Message)
	assert.Nil(t, failed.Preview)
	assert.Empty(t, f.uploader.Requests())
}

func TestEmptyTakeIsNotUploaded(t *testing.T) {
	f := newFixture(t, []string{"q1"}, false)

	err := f.record(t)
	assert.ErrorIs(t, err, ErrRecording)
	assert.Empty(t, f.uploader.Requests())
}

func TestStartClearsPreviousAnswer(t *testing.T) {
	f := newFixture(t, []string{"q1"}, false)
	f.uploader.resp = &backend.AnswerResponse{Transcript: transcript("first"), MediaURL: "/media/1.webm"}
	require.NoError(t, f.record(t, "take"))

	snap := f.controller.Snapshot()
	require.NotEmpty(t, snap.Transcript)
	require.NotEmpty(t, snap.PreviewURL)
	require.NotEmpty(t, snap.MediaURL)

	require.NoError(t, f.controller.Start())
	snap = f.controller.Snapshot()
	assert.Equal(t, KindRecording, snap.Phase)
	assert.Empty(t, snap.Transcript)
	assert.Empty(t, snap.PreviewURL)
	assert.Empty(t, snap.MediaURL)
	assert.Equal(t, []string{"p1"}, f.previews.Revoked())
	assert.Equal(t, 0, f.buffer.Len())
}

func TestNextWhileRecordingIsNoop(t *testing.T) {
	f := newFixture(t, []string{"q1", "q2"}, false)
	c := f.controller

	require.NoError(t, c.Start())
	before := c.Snapshot()

	assert.ErrorIs(t, c.Next(), ErrBusy)

	after := c.Snapshot()
	assert.Equal(t, before, after)
	assert.Equal(t, KindRecording, c.Phase().Kind())
	assert.Equal(t, 0, f.session.Sequencer.Index())
}

func TestStartRejectedWhileBusy(t *testing.T) {
	f := newFixture(t, []string{"q1"}, true)
	c := f.controller

	require.NoError(t, c.Start())
	assert.ErrorIs(t, c.Start(), ErrBusy)

	done := make(chan error, 1)
	go func() { done <- c.Stop(context.Background()) }()
	waitForPhase(t, c, KindFinalizing)
	assert.ErrorIs(t, c.Start(), ErrBusy)
	assert.ErrorIs(t, c.Stop(context.Background()), ErrNotRecording)

	f.recorder.Emit([]byte("x"))
	f.recorder.Ack(nil)
	require.NoError(t, <-done)
	assert.Equal(t, 1, f.recorder.Starts())
}

func TestStopWhenIdle(t *testing.T) {
	f := newFixture(t, []string{"q1"}, false)
	assert.ErrorIs(t, f.controller.Stop(context.Background()), ErrNotRecording)
}

func TestNextDuringUploadDiscardsLateResult(t *testing.T) {
	f := newFixture(t, []string{"q1", "q2"}, false)
	c := f.controller
	f.uploader.block = make(chan struct{})
	f.uploader.entered = make(chan struct{}, 1)

	require.NoError(t, c.Start())
	f.recorder.Emit([]byte("take"))

	done := make(chan error, 1)
	go func() { done <- c.Stop(context.Background()) }()

	<-f.uploader.entered
	assert.Equal(t, KindUploading, c.Phase().Kind())

	require.NoError(t, c.Next())
	assert.Equal(t, []string{"p1"}, f.previews.Revoked())

	close(f.uploader.block)
	require.NoError(t, <-done)

	snap := c.Snapshot()
	assert.Equal(t, KindIdle, snap.Phase)
	assert.Equal(t, 1, snap.Index)
	assert.Empty(t, snap.Transcript)
}

func TestCloseDiscardsPendingUpload(t *testing.T) {
	f := newFixture(t, []string{"q1"}, false)
	c := f.controller
	f.uploader.block = make(chan struct{})
	f.uploader.entered = make(chan struct{}, 1)

	require.NoError(t, c.Start())
	f.recorder.Emit([]byte("take"))

	done := make(chan error, 1)
	go func() { done <- c.Stop(context.Background()) }()
	<-f.uploader.entered

	c.Close()
	close(f.uploader.block)
	require.NoError(t, <-done)

	assert.Equal(t, KindUploading, c.Phase().Kind())
	assert.Equal(t, []string{"p1"}, f.previews.Revoked())
	assert.ErrorIs(t, c.Start(), ErrFinished)
}

func TestCanStartWaitsForAbandonedTakeToDrain(t *testing.T) {
	f := newFixture(t, []string{"q1", "q2"}, true)
	c := f.controller

	require.NoError(t, c.Start())
	f.recorder.Emit([]byte("take"))
	done, err := c.StopAsync(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Next())

	snap := c.Snapshot()
	assert.Equal(t, KindIdle, snap.Phase)
	assert.Equal(t, "Question 2 of 2", snap.Position)
	assert.False(t, snap.CanStart)
	assert.True(t, snap.CanNext)
	assert.ErrorIs(t, c.Start(), ErrBusy)

	f.recorder.Ack(nil)
	assert.True(t, c.Snapshot().CanStart)
	require.NoError(t, <-done)
	assert.Empty(t, f.uploader.Requests())
	require.NoError(t, c.Start())
}

func TestStopReturnsWhenContextEndsBeforeAck(t *testing.T) {
	f := newFixture(t, []string{"q1"}, true)
	c := f.controller
	require.NoError(t, c.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, KindFinalizing, c.Phase().Kind())
	assert.Empty(t, f.previews.Published())
}

func TestObserversSeeEveryTransition(t *testing.T) {
	f := newFixture(t, []string{"q1"}, false)

	var (
		mutex sync.Mutex
		kinds []PhaseKind
		texts []string
	)
	f.controller.Observe(func(s Snapshot) {
		mutex.Lock()
		defer mutex.Unlock()
		kinds = append(kinds, s.Phase)
		texts = append(texts, s.Transcript)
	})

	require.NoError(t, f.record(t, "take"))

	mutex.Lock()
	defer mutex.Unlock()
	assert.Equal(t, []PhaseKind{KindRecording, KindFinalizing, KindUploading, KindReady}, kinds)
	assert.Equal(t, ProcessingText, texts[1])
	assert.Equal(t, ProcessingText, texts[2])
	assert.Equal(t, "ok", texts[3])
}

func TestNoQuestions(t *testing.T) {
	f := newFixture(t, []string{}, false)

	snap := f.controller.Snapshot()
	assert.True(t, snap.NoQuestions)
	assert.False(t, snap.Finished)
	assert.False(t, snap.CanStart)
	assert.ErrorIs(t, f.controller.Start(), ErrNoQuestions)
	assert.ErrorIs(t, f.controller.Next(), ErrNoQuestions)
	assert.Equal(t, NoticeNoQuestions, Notice(ErrNoQuestions))
}

func TestRecorderStartFailure(t *testing.T) {
	f := newFixture(t, []string{"q1"}, false)
	f.recorder.StartErr = errors.New("device busy")

	err := f.controller.Start()
	assert.ErrorIs(t, err, ErrRecording)
	assert.Equal(t, KindFailed, f.controller.Phase().Kind())
	assert.Equal(t, RecordingErrorText, f.controller.Snapshot().Transcript)
}

func TestStopAsyncEntersFinalizingBeforeReturning(t *testing.T) {
	f := newFixture(t, []string{"q1"}, true)
	c := f.controller

	require.NoError(t, c.Start())
	f.recorder.Emit([]byte("take"))

	done, err := c.StopAsync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, KindFinalizing, c.Phase().Kind())

	f.recorder.Ack(nil)
	require.NoError(t, <-done)
	assert.Equal(t, KindReady, c.Phase().Kind())

	_, err = c.StopAsync(context.Background())
	assert.ErrorIs(t, err, ErrNotRecording)
}
