package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/audiolibrelab/interviewcapture/internal/config"
	"github.com/audiolibrelab/interviewcapture/internal/interview"
	"github.com/audiolibrelab/interviewcapture/internal/media"
	"github.com/audiolibrelab/interviewcapture/internal/service"
)

// Server is the local control page and preview host for one interview
type Server struct {
	service    service.Service
	previews   *PreviewStore
	configFile string
	listen     string

	// ctx outlives individual requests; finalization started by /stop runs under it
	ctx context.Context

	listSources func() ([]media.Source, error)
}

// ProfilesResponse represents the JSON response for the profiles endpoint
type ProfilesResponse struct {
	Profiles []string `json:"profiles"`
	Active   string   `json:"active"`
}

// SourcesResponse represents the JSON response for the devices endpoint
type SourcesResponse struct {
	Sources []media.Source `json:"sources"`
}

// New creates a new control server instance
func New(svc service.Service, previews *PreviewStore, configFile, listen string) *Server {
	return &Server{
		service:     svc,
		previews:    previews,
		configFile:  configFile,
		listen:      listen,
		ctx:         context.Background(),
		listSources: media.ListSources,
	}
}

// Handler returns the routes served by the control server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/start", s.handleStart)
	mux.HandleFunc("/stop", s.handleStop)
	mux.HandleFunc("/next", s.handleNext)
	mux.HandleFunc(previewPath, s.handlePreview)
	mux.HandleFunc("/config/profiles", s.handleProfiles)
	mux.HandleFunc("/sources", s.handleSources)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start serves until ctx is done
func (s *Server) Start(ctx context.Context) error {
	s.ctx = ctx

	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Debug("control server shutdown", "error", err)
		}
	}()

	_, port, _ := net.SplitHostPort(s.listen)
	slog.Info("Starting interview control server",
		"listen", s.listen,
		"local_url", fmt.Sprintf("http://%s:%s", getLocalIP(), port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", port))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control server failed: %w", err)
	}
	return nil
}

// handleIndex serves the control page
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(indexHTML))
}

// handleStatus returns the interview status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	json.NewEncoder(w).Encode(s.service.Status())
}

// handleStart begins recording the current question
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := s.service.StartRecording(); err != nil {
		s.sendErrorResponse(w, statusFor(err),
			fmt.Sprintf("Failed to start recording: %v", err),
			"operation", "start_recording")
		return
	}
	s.sendSuccess(w, "Recording started")
}

// handleStop stops recording. The response is sent once the take is
// finalizing; upload progress shows up in /status.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := s.service.RequestStop(s.ctx); err != nil {
		s.sendErrorResponse(w, statusFor(err),
			fmt.Sprintf("Failed to stop recording: %v", err),
			"operation", "stop_recording")
		return
	}
	s.sendSuccess(w, interview.ProcessingText)
}

// handleNext moves to the next question
func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := s.service.NextQuestion(); err != nil {
		s.sendErrorResponse(w, statusFor(err),
			fmt.Sprintf("Failed to advance: %v", err),
			"operation", "next_question")
		return
	}
	s.sendSuccess(w, "Next question")
}

// handlePreview streams a published take, with range support for seeking
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, previewPath)
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "Preview id required", http.StatusBadRequest)
		return
	}

	item, ok := s.previews.get(id)
	if !ok {
		http.Error(w, "Preview not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", item.contentType)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, item.filename, item.created, bytes.NewReader(item.data))
}

// handleProfiles lists the configuration profiles
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	profiles, active, err := config.ProfileNames(s.configFile)
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to read profiles: %v", err),
			"config_file", s.configFile)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ProfilesResponse{Profiles: profiles, Active: active})
}

// handleSources lists the capture devices present on this machine
func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	sources, err := s.listSources()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to list devices: %v", err))
		return
	}
	if sources == nil {
		sources = []media.Source{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SourcesResponse{Sources: sources})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "ok",
		"previews": s.previews.Len(),
	})
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, interview.ErrBusy),
		errors.Is(err, interview.ErrNotRecording),
		errors.Is(err, interview.ErrFinished),
		errors.Is(err, interview.ErrNoQuestions):
		return http.StatusConflict
	case errors.Is(err, interview.ErrPrecondition):
		return http.StatusPreconditionFailed
	default:
		return http.StatusServiceUnavailable
	}
}

func (s *Server) sendSuccess(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": message,
		"status":  s.service.Status(),
	})
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

// getLocalIP returns the local IP address for network access
func getLocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Interview</title>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/@picocss/pico@2/css/pico.min.css">
</head>
<body>
<main class="container">
    <hgroup>
        <h1 id="candidate">Interview</h1>
        <p id="position"></p>
    </hgroup>
    <article>
        <h3 id="question">Loading questions...</h3>
        <p id="notice"></p>
        <div role="group">
            <button id="start" onclick="post('/start')">Start Recording</button>
            <button id="stop" onclick="post('/stop')">Stop Recording</button>
            <button id="next" class="secondary" onclick="post('/next')">Next Question</button>
        </div>
    </article>
    <article id="answer" hidden>
        <video id="preview" controls></video>
        <p><strong>Transcript:</strong> <span id="transcript"></span></p>
        <p><a id="media" target="_blank" hidden>View saved video on server</a></p>
    </article>
</main>
<script>
let actionError = '';
async function post(path) {
    const res = await fetch(path, {method: 'POST'});
    const body = await res.json();
    actionError = body.success ? '' : body.error;
    refresh();
}
async function refresh() {
    const s = await (await fetch('/status')).json();
    const i = s.interview || {};
    document.getElementById('candidate').textContent = i.candidate_name || 'Interview';
    document.getElementById('position').textContent = i.position || '';
    document.getElementById('question').textContent = s.notice || i.question || '';
    document.getElementById('start').disabled = !i.can_start;
    document.getElementById('stop').disabled = !i.can_stop;
    document.getElementById('next').disabled = !i.can_next;
    document.getElementById('notice').textContent = i.error || actionError || '';
    const answer = document.getElementById('answer');
    answer.hidden = !(i.transcript || i.preview_url);
    document.getElementById('transcript').textContent = i.transcript || '';
    const video = document.getElementById('preview');
    if (!i.preview_url) { video.removeAttribute('src'); }
    else if (video.getAttribute('src') !== i.preview_url) { video.src = i.preview_url; }
    const media = document.getElementById('media');
    media.hidden = !i.media_url;
    if (i.media_url) { media.href = i.media_url; }
}
refresh();
setInterval(refresh, 1000);
</script>
</body>
</html>`
