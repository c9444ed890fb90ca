package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/italolelis/yuque_exporter/internal/logctx"
	"github.com/italolelis/yuque_exporter/internal/telemetry"
)

// Downloader fetches an asset by URL.
type Downloader interface {
	Download(ctx context.Context, url string) (*Blob, error)
}

// Client is the requesting side of the channel.
type Client struct {
	dialer Dialer
}

func NewClient(dialer Dialer) *Client {
	return &Client{dialer: dialer}
}

// Download opens a session, requests url and reassembles the streamed asset.
// Any failure, including the session ending before done, is a *FetchError.
func (c *Client) Download(ctx context.Context, url string) (*Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{URL: url, Reason: "cancelled", Err: err}
	}

	port, err := c.dialer.Open(ctx, ChannelName)
	if err != nil {
		return nil, &FetchError{URL: url, Reason: "failed to open channel", Err: err}
	}
	defer port.Close()

	if err := port.Send(ctx, Request{Action: ActionDownloadVideo, URL: url}); err != nil {
		return nil, &FetchError{URL: url, Reason: "failed to send request", Err: err}
	}

	var asm *Assembler

	for {
		frame, err := port.Recv(ctx)
		if errors.Is(err, io.EOF) {
			return nil, &FetchError{URL: url, Reason: "channel closed before transfer completed", Err: err}
		}

		if err != nil {
			return nil, &FetchError{URL: url, Reason: "failed to receive frame", Err: err}
		}

		var msg Message
		if err := json.Unmarshal(frame, &msg); err != nil {
			return nil, &FetchError{URL: url, Reason: "malformed frame", Err: err}
		}

		switch msg.Type {
		case TypeMeta:
			if asm != nil {
				return nil, &FetchError{URL: url, Reason: "duplicate meta frame"}
			}

			if asm, err = NewAssembler(msg); err != nil {
				return nil, &FetchError{URL: url, Reason: err.Error(), Err: err}
			}
		case TypeChunk:
			if asm == nil {
				return nil, &FetchError{URL: url, Reason: "chunk before meta"}
			}

			if err := asm.Add(msg); err != nil {
				return nil, &FetchError{URL: url, Reason: err.Error(), Err: err}
			}
		case TypeDone:
			if asm == nil {
				return nil, &FetchError{URL: url, Reason: "done before meta"}
			}

			blob, err := asm.Blob()
			if err != nil {
				return nil, &FetchError{URL: url, Reason: err.Error(), Err: err}
			}

			return blob, nil
		case TypeError:
			return nil, &FetchError{URL: url, Reason: msg.Error}
		default:
			return nil, &FetchError{URL: url, Reason: fmt.Sprintf("unknown frame type %q", msg.Type)}
		}
	}
}

// InstrumentedDownloader wraps a Downloader with telemetry.
type InstrumentedDownloader struct {
	next      Downloader
	telemetry *telemetry.Telemetry
}

func NewInstrumentedDownloader(next Downloader, tel *telemetry.Telemetry) *InstrumentedDownloader {
	return &InstrumentedDownloader{next: next, telemetry: tel}
}

func (d *InstrumentedDownloader) Download(ctx context.Context, url string) (*Blob, error) {
	var blob *Blob

	err := d.telemetry.InstrumentTransfer(ctx, func(ctx context.Context) (int64, error) {
		var err error

		blob, err = d.next.Download(ctx, url)
		if err != nil {
			return 0, err
		}

		return int64(len(blob.Data)), nil
	})
	if err != nil {
		logctx.LoggerFromContext(ctx).DebugContext(ctx, "asset transfer failed", "url", url, "err", err)

		return nil, err
	}

	return blob, nil
}
