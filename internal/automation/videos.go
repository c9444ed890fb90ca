package automation

import (
	"context"

	"github.com/italolelis/yuque_exporter/internal/logctx"
	"github.com/italolelis/yuque_exporter/internal/markdown"
)

// CollectVideos reads every video card on the page. Cards without an id or a
// playable source are skipped.
func CollectVideos(ctx context.Context, page Page, sel Selectors) ([]markdown.Asset, error) {
	logger := logctx.LoggerFromContext(ctx)

	cards, err := page.QueryAll(ctx, sel.VideoCard)
	if err != nil {
		return nil, err
	}

	assets := make([]markdown.Asset, 0, len(cards))

	for i, card := range cards {
		id, _, err := card.Attr(ctx, "id")
		if err != nil {
			return nil, err
		}

		src, ok, err := card.Query(ctx, sel.VideoSource)
		if err != nil {
			return nil, err
		}

		var url string
		if ok {
			if url, _, err = src.Attr(ctx, "src"); err != nil {
				return nil, err
			}
		}

		if id == "" || url == "" {
			logger.WarnContext(ctx, "video card has no usable source", "index", i, "card_id", id)

			continue
		}

		assets = append(assets, markdown.Asset{ID: id, SourceURL: url})
	}

	logger.InfoContext(ctx, "video cards collected", "cards", len(cards), "videos", len(assets))

	return assets, nil
}
