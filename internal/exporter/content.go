package exporter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/yuque_exporter/internal/download"
	"github.com/italolelis/yuque_exporter/internal/logctx"
	"github.com/italolelis/yuque_exporter/internal/transfer"
	"github.com/spf13/afero"
)

// ContentFetcher reads the text of a completed export download.
type ContentFetcher interface {
	Fetch(ctx context.Context, d download.Descriptor) (string, error)
}

// HTTPContentFetcher re-requests the download URL. Downloads without an
// http(s) URL are read from where the browser saved them.
type HTTPContentFetcher struct {
	client *http.Client
	fs     afero.Fs
}

func NewHTTPContentFetcher(client *http.Client, fs afero.Fs) *HTTPContentFetcher {
	return &HTTPContentFetcher{client: client, fs: fs}
}

func (f *HTTPContentFetcher) Fetch(ctx context.Context, d download.Descriptor) (string, error) {
	logger := logctx.LoggerFromContext(ctx)

	u, err := url.Parse(d.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		if d.Path == "" {
			return "", fmt.Errorf("download %s has neither a fetchable url nor a saved path", d.ID)
		}

		data, err := afero.ReadFile(f.fs, d.Path)
		if err != nil {
			return "", fmt.Errorf("failed to read downloaded file: %w", err)
		}

		logger.DebugContext(ctx, "export content read from disk", "path", d.Path, "size", humanize.Bytes(uint64(len(data))))

		return string(data), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid download url: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &transfer.NetworkError{Operation: "fetch_content", APIMessage: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if err := transfer.CheckResponse("fetch_content", resp); err != nil {
		return "", err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &transfer.NetworkError{Operation: "fetch_content", APIMessage: err.Error(), Err: err}
	}

	logger.DebugContext(ctx, "export content fetched", "url", d.URL, "size", humanize.Bytes(uint64(len(data))))

	return string(data), nil
}

// checkFormat accepts markdown downloads only.
func checkFormat(d download.Descriptor) error {
	switch d.Ext() {
	case ".md", ".markdown":
		return nil
	case ".zip":
		return &FormatError{
			Filename: d.Filename,
			Guidance: "Yuque exported a zip archive, which is not extracted automatically; unzip it by hand and import the markdown file",
		}
	default:
		return &FormatError{Filename: d.Filename}
	}
}

func validateContent(content string) error {
	if len(content) < MinContentLength {
		return &ContentError{Reason: ErrContentTooShort, Length: len(content), Preview: preview(content)}
	}

	head := strings.ToLower(strings.TrimSpace(content))
	if strings.HasPrefix(head, "<!doctype") || strings.HasPrefix(head, "<html") {
		return &ContentError{Reason: ErrContentIsMarkup, Length: len(content), Preview: preview(content)}
	}

	return nil
}
