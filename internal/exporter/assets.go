package exporter

import (
	"bytes"
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/yuque_exporter/internal/logctx"
	"github.com/italolelis/yuque_exporter/internal/markdown"
)

// persistAssets fetches and writes each asset in order. The first failure
// stops the step; assets written before it stay in the vault.
func (e *Exporter) persistAssets(ctx context.Context, run *Run, assets []markdown.Asset) error {
	logger := logctx.LoggerFromContext(ctx)

	for i, asset := range assets {
		path := markdown.VideoPath(asset.ID)

		e.status(ctx, run, KindProgress, msgDownloadingVideo(i+1, len(assets)))

		blob, err := e.assets.Download(ctx, asset.SourceURL)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", path, err)
		}

		n, err := e.vault.WriteFile(ctx, path, bytes.NewReader(blob.Data))
		if err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}

		logger.InfoContext(ctx, "video saved", "path", path, "size", humanize.Bytes(uint64(n)), "mime_type", blob.MimeType)
	}

	return nil
}
