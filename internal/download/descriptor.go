// Package download correlates a browser download with the export that caused it.
package download

import (
	"context"
	"path"
	"strings"
)

// State is the lifecycle state of a browser download.
type State string

const (
	StateInProgress  State = "in_progress"
	StateComplete    State = "complete"
	StateInterrupted State = "interrupted"
)

// Descriptor describes one browser download.
type Descriptor struct {
	ID            string `json:"id"`
	Filename      string `json:"filename"`
	URL           string `json:"url"`
	State         State  `json:"state"`
	BytesReceived int64  `json:"bytesReceived"`
	TotalBytes    int64  `json:"totalBytes"`
	// Path is where the browser saved the file, when known.
	Path  string `json:"path,omitempty"`
	Error string `json:"error,omitempty"`
}

// Ext returns the lower-cased extension of the download's file name.
func (d Descriptor) Ext() string {
	return strings.ToLower(path.Ext(d.Filename))
}

// Source is the browser's download manager.
type Source interface {
	// OnCreated registers fn for every download started from now on.
	OnCreated(fn func(Descriptor)) (remove func())
	// Search returns the current descriptor of a download.
	Search(ctx context.Context, id string) (Descriptor, bool, error)
}

// Filter decides which new downloads belong to an export.
type Filter struct {
	Extensions []string
	Hosts      []string
}

// DefaultFilter matches markdown and zip exports, and anything served from Yuque or its storage.
func DefaultFilter() Filter {
	return Filter{
		Extensions: []string{".zip", ".md", ".markdown"},
		Hosts:      []string{"yuque.com", "aliyuncs.com"},
	}
}

func (f Filter) Match(d Descriptor) bool {
	name := strings.ToLower(d.Filename)
	for _, ext := range f.Extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}

	for _, host := range f.Hosts {
		if host != "" && strings.Contains(d.URL, host) {
			return true
		}
	}

	return false
}
