package exporter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/italolelis/yuque_exporter/internal/download"
	"github.com/italolelis/yuque_exporter/internal/transfer"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPContentFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/doc.md":
			_, _ = w.Write([]byte(sampleDoc))
		case "/private.md":
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/downloads/guid-1", []byte("# Saved\n"), 0o644))

	f := NewHTTPContentFetcher(srv.Client(), fs)
	ctx := context.Background()

	t.Run("fetches over http", func(t *testing.T) {
		got, err := f.Fetch(ctx, download.Descriptor{ID: "1", URL: srv.URL + "/doc.md"})
		require.NoError(t, err)
		assert.Equal(t, sampleDoc, got)
	})

	t.Run("auth failure", func(t *testing.T) {
		_, err := f.Fetch(ctx, download.Descriptor{ID: "2", URL: srv.URL + "/private.md"})

		var authErr *transfer.AuthenticationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, http.StatusForbidden, authErr.StatusCode)
	})

	t.Run("server error", func(t *testing.T) {
		_, err := f.Fetch(ctx, download.Descriptor{ID: "3", URL: srv.URL + "/broken.md"})

		var netErr *transfer.NetworkError
		require.ErrorAs(t, err, &netErr)
		assert.Equal(t, http.StatusInternalServerError, netErr.StatusCode)
	})

	t.Run("blob url falls back to the saved file", func(t *testing.T) {
		got, err := f.Fetch(ctx, download.Descriptor{ID: "4", URL: "blob:https://www.yuque.com/abc", Path: "/downloads/guid-1"})
		require.NoError(t, err)
		assert.Equal(t, "# Saved\n", got)
	})

	t.Run("no url and no path", func(t *testing.T) {
		_, err := f.Fetch(ctx, download.Descriptor{ID: "5"})
		require.Error(t, err)
	})
}

func TestSinks(t *testing.T) {
	var got []Status

	sink := MultiSink{
		LogSink{},
		SinkFunc(func(_ context.Context, s Status) { got = append(got, s) }),
	}

	sink.Status(context.Background(), Status{RunID: "r", Kind: KindSuccess, Message: msgDone("a.md")})
	sink.Status(context.Background(), Status{RunID: "r", Kind: KindProgress, Message: msgSaving})

	require.Len(t, got, 2)
	assert.True(t, got[0].Terminal())
	assert.False(t, got[1].Terminal())
	assert.Equal(t, "导出完成！已保存到Obsidian仓库: a.md", got[0].Message)
}
