// Package markdown rewrites exported Yuque markdown so that embedded video
// cards point at files stored next to the document.
package markdown

import (
	"regexp"
	"strings"
)

const (
	// VideoDir is the vault subdirectory holding downloaded videos.
	VideoDir = "videos"
	// VideoExt is the extension given to every downloaded video.
	VideoExt = ".mp4"

	placeholderText = "[此处为语雀卡片，点击链接查看](about:blank#"
	untitled        = "untitled"
)

// Asset is a video embedded in the page: the card id used in the exported
// placeholder and the URL the video can be fetched from.
type Asset struct {
	ID        string
	SourceURL string
}

// Placeholder is the exact link Yuque writes into exported markdown in place of a video card.
func Placeholder(id string) string {
	return placeholderText + id + ")"
}

// VideoPath is the vault-relative path of the asset's video file.
func VideoPath(id string) string {
	return VideoDir + "/" + id + VideoExt
}

// Embed is the markdown image reference that replaces the placeholder.
func Embed(id string) string {
	return "![video](" + VideoPath(id) + ")"
}

// Result is the outcome of Rewrite.
type Result struct {
	Content string
	// Replaced counts the assets whose placeholder was rewritten. An asset
	// referenced several times counts once.
	Replaced int
	// Unmatched lists asset ids whose placeholder did not occur in the content.
	Unmatched []string
}

// Rewrite replaces every occurrence of each asset's placeholder with a local
// video embed. Matching is exact and case-sensitive. Content without
// placeholders is returned unchanged, which makes Rewrite idempotent.
func Rewrite(content string, assets []Asset) Result {
	res := Result{Content: content}

	for _, a := range assets {
		ph := Placeholder(a.ID)

		if !strings.Contains(res.Content, ph) {
			res.Unmatched = append(res.Unmatched, a.ID)

			continue
		}

		res.Content = strings.ReplaceAll(res.Content, ph, Embed(a.ID))
		res.Replaced++
	}

	return res
}

var headingRe = regexp.MustCompile(`(?m)^#\s+(.+)$`)

// ExtractTitle returns the text of the first level-one heading, or "untitled".
func ExtractTitle(content string) string {
	m := headingRe.FindStringSubmatch(content)
	if m == nil {
		return untitled
	}

	title := strings.TrimSpace(m[1])
	if title == "" {
		return untitled
	}

	return title
}

var unsafeChars = strings.NewReplacer(
	`\`, "_", "/", "_", ":", "_", "*", "_", "?", "_",
	`"`, "_", "<", "_", ">", "_", "|", "_",
)

// SafeFilename replaces characters that are invalid in file names with underscores.
func SafeFilename(title string) string {
	return unsafeChars.Replace(title)
}

// Filename is the vault file name for a document with the given content.
func Filename(content string) string {
	return SafeFilename(ExtractTitle(content)) + ".md"
}
