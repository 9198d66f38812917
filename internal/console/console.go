// Package console renders interview status to a terminal.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/interviewcapture/internal/interview"
	"github.com/audiolibrelab/interviewcapture/internal/media"
	"github.com/audiolibrelab/interviewcapture/internal/server"
	"github.com/audiolibrelab/interviewcapture/internal/service"
)

const MediaLinkText = "View saved video on server"

// Renderer writes one block per distinct status. It doubles as the live
// preview surface by announcing the attached devices.
type Renderer struct {
	w       io.Writer
	baseURL string

	mutex sync.Mutex
	last  string
}

// New returns a Renderer that prints preview links against baseURL, the
// control server's local address.
func New(w io.Writer, baseURL string) *Renderer {
	return &Renderer{w: w, baseURL: baseURL}
}

// Attach reports the devices feeding the live stream
func (r *Renderer) Attach(stream *media.Stream) {
	labels := make([]string, 0, len(stream.Tracks()))
	for _, t := range stream.Tracks() {
		labels = append(labels, t.Label())
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	fmt.Fprintf(r.w, "Live: %s\n", strings.Join(labels, ", "))
}

// Render prints status unless it is identical to the previous render
func (r *Renderer) Render(status service.Status) {
	if snap := status.Interview; snap != nil && snap.PreviewURL != "" {
		resolved := *snap
		resolved.PreviewURL = server.ResolveURL(r.baseURL, snap.PreviewURL)
		status.Interview = &resolved
	}
	text := Format(status)

	r.mutex.Lock()
	defer r.mutex.Unlock()
	if text == r.last {
		return
	}
	r.last = text
	fmt.Fprint(r.w, text)
}

// Format lays out a status as terminal text
func Format(status service.Status) string {
	var b strings.Builder

	snap := status.Interview
	if snap != nil && snap.CandidateName != "" {
		fmt.Fprintf(&b, "\n== %s (%s) ==\n", snap.CandidateName, snap.Role)
	} else {
		b.WriteString("\n")
	}

	if status.State != service.StateActive || snap == nil {
		fmt.Fprintf(&b, "%s\n", status.Notice)
		if status.State == service.StateBlocked && status.LastError != "" {
			fmt.Fprintf(&b, "  (%s)\n", status.LastError)
		}
		return b.String()
	}

	fmt.Fprintf(&b, "%s\n> %s\n", snap.Position, snap.Question)

	switch snap.Phase {
	case interview.KindRecording:
		fmt.Fprintf(&b, "[REC since %s]\n", snap.RecordingFrom.Format(time.TimeOnly))
	case interview.KindFinalizing:
		b.WriteString("Finishing recording...\n")
	}

	if snap.Transcript != "" {
		fmt.Fprintf(&b, "Transcript: %s\n", snap.Transcript)
	}
	if snap.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", snap.Error)
	}
	if snap.PreviewURL != "" {
		fmt.Fprintf(&b, "Preview: %s\n", snap.PreviewURL)
	}
	if snap.MediaURL != "" {
		fmt.Fprintf(&b, "%s: %s\n", MediaLinkText, snap.MediaURL)
	}

	b.WriteString(controls(snap))
	return b.String()
}

func controls(snap *interview.Snapshot) string {
	var parts []string
	switch {
	case snap.CanStop:
		parts = append(parts, "[Enter] stop")
	case snap.CanStart:
		parts = append(parts, "[Enter] record")
	}
	if snap.PreviewURL != "" {
		parts = append(parts, "[p] replay")
	}
	if snap.CanNext {
		parts = append(parts, "[n] next")
	}
	parts = append(parts, "[q] quit")
	return strings.Join(parts, "  ") + "\n"
}
