package server

import (
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/audiolibrelab/interviewcapture/internal/interview"
)

const previewPath = "/preview/"

var errEmptyPreview = errors.New("cannot publish an empty recording")

type previewItem struct {
	data        []byte
	contentType string
	filename    string
	created     time.Time
}

// PreviewStore keeps finalized takes in memory and hands out URLs for
// them until they are revoked. URLs are paths relative to the control
// server so they resolve against whichever address a browser used.
type PreviewStore struct {
	mutex sync.RWMutex
	items map[string]previewItem
}

func NewPreviewStore() *PreviewStore {
	return &PreviewStore{items: make(map[string]previewItem)}
}

func (p *PreviewStore) Publish(m interview.Media) (interview.Preview, error) {
	if len(m.Data) == 0 {
		return interview.Preview{}, errEmptyPreview
	}

	id := uuid.NewString()
	p.mutex.Lock()
	p.items[id] = previewItem{
		data:        m.Data,
		contentType: m.ContentType,
		filename:    m.Filename,
		created:     time.Now(),
	}
	p.mutex.Unlock()

	slog.Debug("preview published", "id", id, "size", len(m.Data))
	return interview.Preview{ID: id, URL: previewPath + id, Size: len(m.Data)}, nil
}

func (p *PreviewStore) Revoke(id string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if _, ok := p.items[id]; ok {
		delete(p.items, id)
		slog.Debug("preview revoked", "id", id)
	}
}

func (p *PreviewStore) RevokeAll() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	clear(p.items)
}

func (p *PreviewStore) get(id string) (previewItem, bool) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	item, ok := p.items[id]
	return item, ok
}

func (p *PreviewStore) Len() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return len(p.items)
}

// BaseURL turns a listen address into the control server's URL as seen
// from this machine. An unspecified host becomes localhost.
func BaseURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// ResolveURL makes a server-relative path absolute against base. Absolute
// URLs are returned unchanged.
func ResolveURL(base, ref string) string {
	if !strings.HasPrefix(ref, "/") || strings.HasPrefix(ref, "//") {
		return ref
	}
	return strings.TrimRight(base, "/") + ref
}
