package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/audiolibrelab/interviewcapture/internal/config"
	"github.com/audiolibrelab/interviewcapture/internal/interview"
	"github.com/audiolibrelab/interviewcapture/internal/media"
)

// Service is what the terminal and the control server drive
type Service interface {
	// Session lifecycle
	Open(ctx context.Context, token string) error
	Close()

	// Recording operations
	StartRecording() error
	StopRecording(ctx context.Context) error
	RequestStop(ctx context.Context) error
	NextQuestion() error

	// Information operations
	Status() Status
	Observe(fn func(Status))
	GetConfig() *config.Config
	GetLastError() string
}

// SessionState is the interview-level state, independent of the per-question Phase
type SessionState string

const (
	StateLoading     SessionState = "LOADING"
	StateBlocked     SessionState = "BLOCKED"
	StateActive      SessionState = "ACTIVE"
	StateNoQuestions SessionState = "NO_QUESTIONS"
	StateFinished    SessionState = "FINISHED"
)

// Status is the full picture for a renderer
type Status struct {
	State     SessionState        `json:"state"`
	Notice    string              `json:"notice,omitempty"`
	Interview *interview.Snapshot `json:"interview,omitempty"`
	LastError string              `json:"last_error,omitempty"`
}

// Backend is the HTTP collaborator the service needs
type Backend interface {
	interview.Directory
	interview.Uploader
}

// PreviewStore serves finalized takes locally
type PreviewStore interface {
	interview.PreviewPublisher
	RevokeAll()
}

// InterviewService is the main service implementation
type InterviewService struct {
	cfg      *config.Config
	backend  Backend
	media    *media.Manager
	previews PreviewStore

	mutex        sync.RWMutex
	token        string
	state        SessionState
	notice       string
	controller   *interview.Controller
	mediaSession *media.Session
	observers    []func(Status)

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates a new interview service instance
func New(cfg *config.Config, backend Backend, manager *media.Manager, previews PreviewStore) *InterviewService {
	return &InterviewService{
		cfg:      cfg,
		backend:  backend,
		media:    manager,
		previews: previews,
		state:    StateLoading,
		notice:   interview.NoticeLoading,
	}
}

// Open loads the candidate's questions and acquires camera and microphone
// concurrently. The first failure cancels the other; devices acquired by
// then are released.
func (s *InterviewService) Open(ctx context.Context, token string) error {
	s.mutex.Lock()
	if s.controller != nil {
		s.mutex.Unlock()
		return fmt.Errorf("interview already open for %q", s.token)
	}
	s.token = token
	s.mutex.Unlock()
	s.publish()

	buffer := interview.NewBuffer(nil)

	var (
		session      *interview.Session
		mediaSession *media.Session
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		session, err = interview.LoadSession(gctx, s.backend, token, s.cfg.Interview.QuestionLimit)
		return err
	})
	g.Go(func() error {
		var err error
		mediaSession, err = s.media.Acquire(gctx, buffer.Append)
		if err != nil {
			return mediaError(err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		if mediaSession != nil {
			mediaSession.Release()
		}
		s.block(err)
		return err
	}

	controller := interview.NewController(session, mediaSession.Recorder(), buffer, s.backend, s.previews)
	controller.Observe(func(interview.Snapshot) { s.publish() })

	s.mutex.Lock()
	s.controller = controller
	s.mediaSession = mediaSession
	s.state = StateActive
	s.notice = ""
	s.mutex.Unlock()

	s.clearLastError()
	s.publish()
	return nil
}

// mediaError turns device failures into the blocking precondition failure.
// Cancellation passes through untouched.
func mediaError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", interview.ErrPrecondition, err)
}

func (s *InterviewService) block(err error) {
	notice := interview.Notice(err)
	if errors.Is(err, interview.ErrTransientFetch) {
		slog.Error("interview stalled while loading", "token", s.token, "error", err)
	}

	s.mutex.Lock()
	s.state = StateBlocked
	s.notice = notice
	s.mutex.Unlock()

	s.setLastError(err.Error())
	s.publish()
}

// StartRecording begins a take for the current question
func (s *InterviewService) StartRecording() error {
	c, err := s.activeController()
	if err != nil {
		return err
	}
	s.clearLastError()
	if err := c.Start(); err != nil {
		s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		return err
	}
	return nil
}

// StopRecording stops the take and waits for finalization and upload
func (s *InterviewService) StopRecording(ctx context.Context) error {
	c, err := s.activeController()
	if err != nil {
		return err
	}
	if err := c.Stop(ctx); err != nil {
		s.setLastError(fmt.Sprintf("Failed to stop recording: %v", err))
		return err
	}
	return nil
}

// RequestStop stops the take and returns once it is finalizing. The
// outcome of finalization and upload is reported through Status.
func (s *InterviewService) RequestStop(ctx context.Context) error {
	c, err := s.activeController()
	if err != nil {
		return err
	}
	done, err := c.StopAsync(ctx)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to stop recording: %v", err))
		return err
	}
	go func() {
		if err := <-done; err != nil {
			s.setLastError(fmt.Sprintf("Failed to stop recording: %v", err))
			s.publish()
		}
	}()
	return nil
}

// NextQuestion moves to the following question
func (s *InterviewService) NextQuestion() error {
	c, err := s.activeController()
	if err != nil {
		return err
	}
	if err := c.Next(); err != nil {
		if !errors.Is(err, interview.ErrBusy) {
			s.setLastError(fmt.Sprintf("Failed to advance: %v", err))
		}
		return err
	}
	s.clearLastError()
	return nil
}

func (s *InterviewService) activeController() (*interview.Controller, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.controller != nil {
		return s.controller, nil
	}
	if s.state == StateBlocked {
		return nil, fmt.Errorf("interview unavailable: %s", s.notice)
	}
	return nil, fmt.Errorf("interview is still loading")
}

// Status returns the interview state and, once loaded, the controller snapshot
func (s *InterviewService) Status() Status {
	s.mutex.RLock()
	status := Status{State: s.state, Notice: s.notice}
	c := s.controller
	s.mutex.RUnlock()

	if c != nil {
		snap := c.Snapshot()
		status.Interview = &snap
		switch {
		case snap.NoQuestions:
			status.State = StateNoQuestions
			status.Notice = interview.NoticeNoQuestions
		case snap.Finished:
			status.State = StateFinished
			status.Notice = interview.NoticeFinished
		}
	}
	status.LastError = s.GetLastError()
	return status
}

// Observe registers fn for every status change
func (s *InterviewService) Observe(fn func(Status)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *InterviewService) publish() {
	s.mutex.RLock()
	observers := make([]func(Status), len(s.observers))
	copy(observers, s.observers)
	s.mutex.RUnlock()

	if len(observers) == 0 {
		return
	}
	status := s.Status()
	for _, fn := range observers {
		fn(status)
	}
}

// Close discards pending results, revokes previews and releases the devices
func (s *InterviewService) Close() {
	s.mutex.Lock()
	c := s.controller
	ms := s.mediaSession
	s.mutex.Unlock()

	if c != nil {
		c.Close()
	}
	if ms != nil {
		ms.Release()
	}
	if s.previews != nil {
		s.previews.RevokeAll()
	}
	slog.Debug("interview closed", "token", s.token)
}

func (s *InterviewService) GetConfig() *config.Config {
	return s.cfg
}

// GetLastError returns the last error message (thread-safe)
func (s *InterviewService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *InterviewService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	slog.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *InterviewService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}
