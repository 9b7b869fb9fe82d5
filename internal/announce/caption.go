package announce

import (
	"html"
	"strings"

	"animecast/internal/storage"
)

// caption renders the announcement body in Telegram HTML parse mode.
// Descriptive fields come straight from the producer, so everything is
// escaped.
func caption(job *storage.Job, footer string) string {
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(job.Anime))
	b.WriteString("</b>\n\n")

	b.WriteString("🎭 <b>Genres:</b> ")
	b.WriteString(html.EscapeString(job.Genres))
	b.WriteString("\n")

	b.WriteString("⭐ <b>Score:</b> ")
	b.WriteString(html.EscapeString(job.Score))
	b.WriteString("  |  <b>Type:</b> ")
	b.WriteString(html.EscapeString(job.MediaType))
	b.WriteString("\n")

	b.WriteString("📖 <b>Synopsis:</b>\n<i>")
	b.WriteString(html.EscapeString(job.Synopsis))
	b.WriteString("</i>")

	if footer = strings.TrimSpace(footer); footer != "" {
		b.WriteString("\n\n")
		b.WriteString(html.EscapeString(footer))
	}
	return b.String()
}
