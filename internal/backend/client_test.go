package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/interviewcapture/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.BackendConfig{BaseURL: srv.URL + "/", Timeout: 5 * time.Second})
}

func TestCandidates(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/candidates", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"abc123":{"name":"Jane","role":"Engineer","resume_filename":"jane.pdf"}}`)
	})

	candidates, err := client.Candidates(context.Background())
	require.NoError(t, err)
	require.Contains(t, candidates, "abc123")
	assert.Equal(t, Candidate{Name: "Jane", Role: "Engineer", ResumeFilename: "jane.pdf"}, candidates["abc123"])
}

func TestCandidates_MalformedBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<html>oops</html>`)
	})

	_, err := client.Candidates(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestQuestions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/questions", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "Engineer", q.Get("role"))
		assert.Equal(t, "5", q.Get("limit"))
		assert.Equal(t, "abc123", q.Get("token"))
		_, _ = io.WriteString(w, `{"questions":["Tell us about yourself","Why this role?"]}`)
	})

	questions, err := client.Questions(context.Background(), "Engineer", 5, "abc123")
	require.NoError(t, err)
	assert.Equal(t, []string{"Tell us about yourself", "Why this role?"}, questions)
}

func TestQuestions_MissingFieldIsEmpty(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	})

	questions, err := client.Questions(context.Background(), "Engineer", 5, "abc123")
	require.NoError(t, err)
	assert.NotNil(t, questions)
	assert.Empty(t, questions)
}

func TestSubmitAnswer_Multipart(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/answer", r.URL.Path)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}

		assert.Equal(t, "abc123", r.FormValue("token"))
		assert.Equal(t, "Why this role?", r.FormValue("question"))

		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		assert.Equal(t, "answer.webm", header.Filename)
		data, _ := io.ReadAll(file)
		assert.Equal(t, []byte("webm-bytes"), data)

		_, _ = io.WriteString(w, `{"transcript":"I am a backend developer.","media_url":"/media/abc123_1.webm"}`)
	})

	resp, err := client.SubmitAnswer(context.Background(), AnswerRequest{
		Token:    "abc123",
		Question: "Why this role?",
		Data:     []byte("webm-bytes"),
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Transcript)
	assert.Equal(t, "I am a backend developer.", *resp.Transcript)
	assert.Equal(t, "/media/abc123_1.webm", resp.MediaURL)
}

func TestSubmitAnswer_MissingTranscript(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"transcription_error":"model unavailable"}`)
	})

	resp, err := client.SubmitAnswer(context.Background(), AnswerRequest{Token: "abc123", Data: []byte("x")})
	require.NoError(t, err)
	assert.Nil(t, resp.Transcript)
	assert.Equal(t, "model unavailable", resp.TranscriptionError)
}

func TestSubmitAnswer_ServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := client.SubmitAnswer(context.Background(), AnswerRequest{Token: "abc123", Data: []byte("x")})
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Contains(t, se.Error(), "boom")
}

func TestIsNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	err := client.Health(context.Background())
	assert.True(t, IsNotFound(err))
	assert.False(t, IsNotFound(errors.New("other")))
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	client := New(config.BackendConfig{BaseURL: srv.URL, Timeout: time.Second})

	_, err := client.Candidates(context.Background())
	require.Error(t, err)
	var se *StatusError
	assert.False(t, errors.As(err, &se))
}

func TestMediaURL(t *testing.T) {
	client := New(config.BackendConfig{BaseURL: "http://localhost:8000/"})

	assert.Equal(t, "http://localhost:8000", client.BaseURL())
	assert.Equal(t, "http://localhost:8000/media/a.webm", client.MediaURL("/media/a.webm"))
	assert.Equal(t, "http://localhost:8000/media/a.webm", client.MediaURL("media/a.webm"))
	assert.Equal(t, "https://cdn.example.com/a.webm", client.MediaURL("https://cdn.example.com/a.webm"))
	assert.Equal(t, "", client.MediaURL(""))
}
