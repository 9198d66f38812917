package interview

import "time"

// PhaseKind names a Phase variant
type PhaseKind string

const (
	KindIdle       PhaseKind = "idle"
	KindRecording  PhaseKind = "recording"
	KindFinalizing PhaseKind = "finalizing"
	KindUploading  PhaseKind = "uploading"
	KindReady      PhaseKind = "ready"
	KindFailed     PhaseKind = "failed"
)

const (
	ProcessingText       = "Processing..."
	UploadErrorText      = "Error uploading answer."
	RecordingErrorText   = "Recording failed."
	NoTranscriptText     = "No transcript returned"
	defaultAnswerFile    = "answer.webm"
	defaultAnswerContent = "video/webm"
)

// Phase is the state of the current question's recording cycle.
// Each variant carries only the data that is valid in it.
type Phase interface {
	Kind() PhaseKind
	isPhase()
}

type Idle struct{}

type Recording struct {
	StartedAt time.Time
}

// Finalizing waits for the recorder's stop acknowledgment
type Finalizing struct{}

type Uploading struct {
	Preview Preview
}

type Ready struct {
	Preview Preview
	Answer  AnswerResult
}

// Failed keeps the local preview, when one exists, so the take is not lost
type Failed struct {
	Preview *Preview
	Message string
	Err     error
}

func (Idle) Kind() PhaseKind       { return KindIdle }
func (Recording) Kind() PhaseKind  { return KindRecording }
func (Finalizing) Kind() PhaseKind { return KindFinalizing }
func (Uploading) Kind() PhaseKind  { return KindUploading }
func (Ready) Kind() PhaseKind      { return KindReady }
func (Failed) Kind() PhaseKind     { return KindFailed }

func (Idle) isPhase()       {}
func (Recording) isPhase()  {}
func (Finalizing) isPhase() {}
func (Uploading) isPhase()  {}
func (Ready) isPhase()      {}
func (Failed) isPhase()     {}

// Preview is a locally served copy of the just-finalized recording
type Preview struct {
	ID   string
	URL  string
	Size int
}

// AnswerResult is what the backend made of the current question's answer
type AnswerResult struct {
	QuestionIndex int
	Transcript    string
	MediaURL      string
}

// TranscriptText is what the transcript area shows for a phase
func TranscriptText(p Phase) string {
	switch v := p.(type) {
	case Finalizing, Uploading:
		return ProcessingText
	case Ready:
		return v.Answer.Transcript
	case Failed:
		return v.Message
	default:
		return ""
	}
}

// PreviewOf returns the preview carried by a phase, if any
func PreviewOf(p Phase) (Preview, bool) {
	switch v := p.(type) {
	case Uploading:
		return v.Preview, true
	case Ready:
		return v.Preview, true
	case Failed:
		if v.Preview != nil {
			return *v.Preview, true
		}
	}
	return Preview{}, false
}
