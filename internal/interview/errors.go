package interview

import "errors"

var (
	// ErrPrecondition means the camera or microphone could not be acquired.
	// The interview cannot continue until the environment is fixed.
	ErrPrecondition = errors.New("camera and microphone unavailable")

	// ErrNotFound means the token does not belong to any candidate
	ErrNotFound = errors.New("candidate not found")

	// ErrTransientFetch covers network and decode failures while loading
	ErrTransientFetch = errors.New("failed to load interview")

	// ErrUpload means the answer did not reach the backend. Recording the
	// question again replaces the failed attempt.
	ErrUpload = errors.New("answer upload failed")

	// ErrMalformedResponse marks a decodable answer reply without a transcript
	ErrMalformedResponse = errors.New("answer response missing transcript")

	ErrNotRecording = errors.New("not recording")
	ErrBusy         = errors.New("recording or upload in progress")
	ErrFinished     = errors.New("interview finished")
	ErrNotFinalized = errors.New("recording not finalized")
	ErrNoQuestions  = errors.New("no questions configured")
	ErrRecording    = errors.New("recording failed")
)

const (
	NoticeNotFound     = "Candidate not found"
	NoticePrecondition = "Please allow camera and microphone access!"
	NoticeFetchFailed  = "Questions did not load"
	NoticeNoQuestions  = "No questions configured for this role."
	NoticeFinished     = "Thank you! Your interview is complete."
	NoticeLoading      = "Loading questions..."
)

// Notice returns the blocking message shown for a session-level failure
func Notice(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return NoticeNotFound
	case errors.Is(err, ErrPrecondition):
		return NoticePrecondition
	case errors.Is(err, ErrTransientFetch):
		return NoticeFetchFailed
	case errors.Is(err, ErrNoQuestions):
		return NoticeNoQuestions
	case errors.Is(err, ErrFinished):
		return NoticeFinished
	default:
		return err.Error()
	}
}
