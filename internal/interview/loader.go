package interview

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/interviewcapture/internal/backend"
)

// Directory is the part of the backend that knows candidates and questions
type Directory interface {
	Candidates(ctx context.Context) (map[string]backend.Candidate, error)
	Questions(ctx context.Context, role string, limit int, token string) ([]string, error)
}

// Session is one candidate's run through the question list
type Session struct {
	Token     string
	Candidate backend.Candidate
	Sequencer *Sequencer
}

// LoadSession resolves the token against the candidate registry and fetches
// the role's questions. Both lists are fetched fresh on every call.
func LoadSession(ctx context.Context, dir Directory, token string, limit int) (*Session, error) {
	candidates, err := dir.Candidates(ctx)
	if err != nil {
		logFetchFailure(ctx, "failed to fetch candidates", "token", token, "error", err)
		return nil, fmt.Errorf("%w: candidates: %w", ErrTransientFetch, err)
	}

	candidate, ok := candidates[token]
	if !ok {
		slog.Warn("unknown candidate token", "token", token)
		return nil, fmt.Errorf("%w: token %q", ErrNotFound, token)
	}

	questions, err := dir.Questions(ctx, candidate.Role, limit, token)
	if err != nil {
		logFetchFailure(ctx, "failed to fetch questions", "token", token, "role", candidate.Role, "error", err)
		return nil, fmt.Errorf("%w: questions: %w", ErrTransientFetch, err)
	}

	slog.Info("interview loaded", "token", token, "candidate", candidate.Name, "role", candidate.Role, "questions", len(questions))
	return &Session{
		Token:     token,
		Candidate: candidate,
		Sequencer: NewSequencer(questions),
	}, nil
}

// logFetchFailure logs at debug level once ctx has ended
func logFetchFailure(ctx context.Context, msg string, args ...any) {
	if ctx.Err() != nil {
		slog.Debug(msg, args...)
		return
	}
	slog.Error(msg, args...)
}
