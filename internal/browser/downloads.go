package browser

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/go-rod/rod/lib/proto"
	"github.com/italolelis/yuque_exporter/internal/download"
)

// DownloadSource is a download.Source fed by the browser's download events.
type DownloadSource struct {
	dir string

	mu        sync.Mutex
	items     map[string]download.Descriptor
	listeners map[int]func(download.Descriptor)
	nextID    int
}

var _ download.Source = (*DownloadSource)(nil)

// NewDownloadSource tracks downloads saved under dir.
func NewDownloadSource(dir string) *DownloadSource {
	return &DownloadSource{
		dir:       dir,
		items:     make(map[string]download.Descriptor),
		listeners: make(map[int]func(download.Descriptor)),
	}
}

func (s *DownloadSource) OnCreated(fn func(download.Descriptor)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	var once sync.Once

	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *DownloadSource) Search(_ context.Context, id string) (download.Descriptor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.items[id]

	return d, ok, nil
}

func (s *DownloadSource) willBegin(e *proto.BrowserDownloadWillBegin) {
	d := download.Descriptor{
		ID:       e.GUID,
		Filename: e.SuggestedFilename,
		URL:      e.URL,
		State:    download.StateInProgress,
		// AllowAndName saves each file under its GUID.
		Path: filepath.Join(s.dir, e.GUID),
	}

	s.mu.Lock()
	s.items[d.ID] = d
	listeners := make([]func(download.Descriptor), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(d)
	}
}

func (s *DownloadSource) progress(e *proto.BrowserDownloadProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.items[e.GUID]
	if !ok {
		return
	}

	d.State = stateOf(e.State)
	d.BytesReceived = int64(e.ReceivedBytes)
	d.TotalBytes = int64(e.TotalBytes)

	if d.State == download.StateInterrupted {
		d.Error = "canceled"
	}

	s.items[e.GUID] = d
}

func stateOf(s proto.BrowserDownloadProgressState) download.State {
	switch s {
	case proto.BrowserDownloadProgressStateCompleted:
		return download.StateComplete
	case proto.BrowserDownloadProgressStateCanceled:
		return download.StateInterrupted
	default:
		return download.StateInProgress
	}
}
