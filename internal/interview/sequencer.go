package interview

import (
	"fmt"
	"sync"
)

// Sequencer walks the question list forward, one question at a time
type Sequencer struct {
	mutex     sync.RWMutex
	questions []string
	index     int
	finished  bool
}

func NewSequencer(questions []string) *Sequencer {
	q := make([]string, len(questions))
	copy(q, questions)
	return &Sequencer{questions: q}
}

// Current returns the question being answered. ok is false once finished
// or when there are no questions.
func (s *Sequencer) Current() (question string, ok bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.finished || len(s.questions) == 0 {
		return "", false
	}
	return s.questions[s.index], true
}

func (s *Sequencer) Index() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.index
}

func (s *Sequencer) Total() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.questions)
}

func (s *Sequencer) Empty() bool {
	return s.Total() == 0
}

func (s *Sequencer) Finished() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.finished
}

// Advance moves to the next question or finishes the session after the
// last one. It reports whether the session is finished.
func (s *Sequencer) Advance() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.finished || len(s.questions) == 0 {
		return s.finished
	}
	if s.index+1 < len(s.questions) {
		s.index++
		return false
	}
	s.finished = true
	return true
}

// Position renders "Question i of n"
func (s *Sequencer) Position() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if len(s.questions) == 0 || s.finished {
		return ""
	}
	return fmt.Sprintf("Question %d of %d", s.index+1, len(s.questions))
}
