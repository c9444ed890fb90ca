package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/yuque_exporter/internal/logctx"
)

const progressInterval = 8 << 20

// Server is the privileged side of the channel: it fetches the requested URL
// with its own HTTP client and streams the bytes back in chunks.
type Server struct {
	client *http.Client
}

func NewServer(client *http.Client) *Server {
	if client == nil {
		client = http.DefaultClient
	}

	return &Server{client: client}
}

// Register installs the server on the hub under ChannelName.
func (s *Server) Register(h *Hub) {
	h.Handle(ChannelName, s.ServeSession)
}

// ServeSession answers a single download request. On success it sends meta,
// every chunk in order and done; on failure exactly one error frame.
func (s *Server) ServeSession(ctx context.Context, port Port) {
	logger := logctx.LoggerFromContext(ctx).With("channel", port.Name())

	frame, err := port.Recv(ctx)
	if err != nil {
		logger.DebugContext(ctx, "session closed before a request arrived", "err", err)

		return
	}

	var req Request
	if err := json.Unmarshal(frame, &req); err != nil {
		s.sendError(ctx, port, fmt.Sprintf("invalid request: %v", err))

		return
	}

	if req.Action != ActionDownloadVideo {
		logger.DebugContext(ctx, "ignoring unknown request", "action", req.Action)

		return
	}

	logger = logger.With("url", req.URL)

	data, mimeType, err := s.fetch(logctx.WithLogger(ctx, logger), req.URL)
	if err != nil {
		logger.WarnContext(ctx, "asset fetch failed", "err", err)
		s.sendError(ctx, port, err.Error())

		return
	}

	chunks := EncodeChunks(data)

	if err := port.Send(ctx, Message{
		Type:        TypeMeta,
		TotalSize:   int64(len(data)),
		TotalChunks: len(chunks),
		MimeType:    mimeType,
	}); err != nil {
		logger.WarnContext(ctx, "requester went away", "err", err)

		return
	}

	for i, chunk := range chunks {
		if err := port.Send(ctx, Message{Type: TypeChunk, Index: i, Data: chunk}); err != nil {
			logger.WarnContext(ctx, "requester went away", "chunk", i, "err", err)

			return
		}
	}

	if err := port.Send(ctx, Message{Type: TypeDone}); err != nil {
		logger.WarnContext(ctx, "requester went away", "err", err)

		return
	}

	logger.InfoContext(ctx, "asset sent", "size", humanize.Bytes(uint64(len(data))), "chunks", len(chunks))
}

func (s *Server) sendError(ctx context.Context, port Port, msg string) {
	if err := port.Send(ctx, Message{Type: TypeError, Error: msg}); err != nil {
		logctx.LoggerFromContext(ctx).DebugContext(ctx, "failed to deliver error frame", "err", err)
	}
}

func (s *Server) fetch(ctx context.Context, url string) ([]byte, string, error) {
	logger := logctx.LoggerFromContext(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("invalid asset url: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", &NetworkError{Operation: "fetch_asset", APIMessage: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if err := CheckResponse("fetch_asset", resp); err != nil {
		return nil, "", err
	}

	body := NewProgressReader(resp.Body, resp.ContentLength, progressInterval, func(read, total int64) {
		if total > 0 {
			logger.DebugContext(ctx, "asset download progress",
				"read", humanize.Bytes(uint64(read)),
				"total", humanize.Bytes(uint64(total)),
				"percent", read*100/total)

			return
		}

		logger.DebugContext(ctx, "asset download progress", "read", humanize.Bytes(uint64(read)))
	})

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, "", &NetworkError{Operation: "fetch_asset", APIMessage: err.Error(), Err: err}
	}

	return data, resp.Header.Get("Content-Type"), nil
}

// CheckResponse maps non-2xx responses to typed errors.
func CheckResponse(operation string, resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthenticationError{Operation: operation, StatusCode: resp.StatusCode}
	default:
		return &NetworkError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			APIMessage: http.StatusText(resp.StatusCode),
		}
	}
}
