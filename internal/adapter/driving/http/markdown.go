package httphandler

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// commentMarkdown renders provider comment bodies. Raw HTML in a body is
// passed through by goldmark and then filtered by commentPolicy.
var (
	commentMarkdown = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(gmhtml.WithUnsafe(), gmhtml.WithHardWraps()),
	)
	commentPolicy = newCommentPolicy()
)

func newCommentPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AddTargetBlankToFullyQualifiedLinks(true)
	return p
}

// RenderMarkdown turns a comment body into sanitized HTML for the
// body_html field. Blank bodies render as "".
func RenderMarkdown(body string) string {
	if strings.TrimSpace(body) == "" {
		return ""
	}

	var out strings.Builder
	if err := commentMarkdown.Convert([]byte(body), &out); err != nil {
		return "<p>" + html.EscapeString(body) + "</p>"
	}
	return commentPolicy.Sanitize(out.String())
}
