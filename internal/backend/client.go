package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/audiolibrelab/interviewcapture/internal/config"
)

// ErrMalformedResponse is returned when a 2xx body cannot be decoded as JSON
var ErrMalformedResponse = errors.New("malformed response")

// StatusError is returned for any non-2xx reply
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.StatusCode, body)
}

// Candidate is one entry of the candidate registry
type Candidate struct {
	Name           string `json:"name"`
	Role           string `json:"role"`
	ResumeFilename string `json:"resume_filename,omitempty"`
}

type questionsResponse struct {
	Questions []string `json:"questions"`
}

// AnswerRequest carries one finalized recording
type AnswerRequest struct {
	Token    string
	Question string
	Filename string
	Data     []byte
}

// AnswerResponse mirrors the /answer reply. Transcript is nil when the
// backend omitted it.
type AnswerResponse struct {
	Transcript         *string `json:"transcript"`
	MediaURL           string  `json:"media_url,omitempty"`
	TranscriptionError string  `json:"transcription_error,omitempty"`
}

// Client talks to the interview backend over HTTP
type Client struct {
	http    *resty.Client
	baseURL string
}

func New(cfg config.BackendConfig) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	rc := resty.New().
		SetBaseURL(baseURL).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetLogger(slogLogger{})
	if cfg.Timeout > 0 {
		rc.SetTimeout(cfg.Timeout)
	}

	return &Client{http: rc, baseURL: baseURL}
}

// BaseURL returns the backend root without trailing slash
func (c *Client) BaseURL() string {
	return c.baseURL
}

// MediaURL resolves a media_url returned by /answer against the backend root
func (c *Client) MediaURL(path string) string {
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// Candidates fetches the token -> candidate registry
func (c *Client) Candidates(ctx context.Context) (map[string]Candidate, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/candidates")
	if err != nil {
		return nil, fmt.Errorf("GET /candidates: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, statusError(resp)
	}

	candidates := map[string]Candidate{}
	if err := decode(resp.Body(), &candidates); err != nil {
		return nil, fmt.Errorf("GET /candidates: %w", err)
	}
	return candidates, nil
}

// Questions fetches up to limit questions for a role
func (c *Client) Questions(ctx context.Context, role string, limit int, token string) ([]string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"role":  role,
			"limit": strconv.Itoa(limit),
			"token": token,
		}).
		Get("/questions")
	if err != nil {
		return nil, fmt.Errorf("GET /questions: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, statusError(resp)
	}

	var out questionsResponse
	if err := decode(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("GET /questions: %w", err)
	}
	if out.Questions == nil {
		out.Questions = []string{}
	}
	return out.Questions, nil
}

// SubmitAnswer uploads a recording as multipart form data
func (c *Client) SubmitAnswer(ctx context.Context, req AnswerRequest) (*AnswerResponse, error) {
	filename := req.Filename
	if filename == "" {
		filename = "answer.webm"
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetFileReader("file", filename, bytes.NewReader(req.Data)).
		SetFormData(map[string]string{
			"token":    req.Token,
			"question": req.Question,
		}).
		Post("/answer")
	if err != nil {
		return nil, fmt.Errorf("POST /answer: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, statusError(resp)
	}

	var out AnswerResponse
	if err := decode(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("POST /answer: %w", err)
	}
	if out.TranscriptionError != "" {
		slog.Warn("backend reported transcription error", "error", out.TranscriptionError)
	}
	return &out, nil
}

// Health calls GET /health
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/health")
	if err != nil {
		return fmt.Errorf("GET /health: %w", err)
	}
	if !resp.IsSuccess() {
		return statusError(resp)
	}
	return nil
}

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func statusError(resp *resty.Response) error {
	return &StatusError{
		Method:     resp.Request.Method,
		URL:        resp.Request.URL,
		StatusCode: resp.StatusCode(),
		Body:       resp.String(),
	}
}

// IsNotFound reports whether err is a 404 from the backend
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == 404
}

type slogLogger struct{}

func (slogLogger) Errorf(format string, v ...interface{}) {
	slog.Error("resty", "message", strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (slogLogger) Warnf(format string, v ...interface{}) {
	slog.Warn("resty", "message", strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (slogLogger) Debugf(format string, v ...interface{}) {
	slog.Debug("resty", "message", strings.TrimSpace(fmt.Sprintf(format, v...)))
}
