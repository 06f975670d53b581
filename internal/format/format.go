// Package format renders bot replies as plain text and as the HTML subset
// understood by chat clients.
package format

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"quotesbot/internal/domain"
)

const (
	scoreUp   = "⬆️"
	scoreDown = "⬇️"

	timeLayout = "2006-01-02 15:04:05 MST"
)

// Message is a reply rendered both ways.
type Message struct {
	Plain string
	HTML  string
}

// Linker builds a public link for a quote identifier.
type Linker func(id int) string

// ScoreGlyph returns the direction indicator for a quote score: down for
// negative scores, up otherwise.
func ScoreGlyph(score int) string {
	if score < 0 {
		return scoreDown
	}
	return scoreUp
}

// Timestamp formats t as a UTC calendar date-time, or "unknown" when zero.
func Timestamp(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.UTC().Format(timeLayout)
}

// Escape escapes text for inclusion in an HTML body. Newlines become <br/>.
func Escape(text string) string {
	return strings.ReplaceAll(html.EscapeString(text), "\n", "<br/>")
}

// Annotation renders the metadata reply posted under a retrieved quote image.
func Annotation(q domain.Quote, link Linker) Message {
	var plain, rich strings.Builder
	id := strconv.Itoa(q.ID)

	fmt.Fprintf(&plain, "#%s: %s\n", id, q.Description)
	fmt.Fprintf(&rich, `<a href="%s">#%s</a>: %s<br/>`, html.EscapeString(link(q.ID)), id, Escape(q.Description))

	glyph := ScoreGlyph(q.Score)
	fmt.Fprintf(&plain, "Score: %d %s\n", q.Score, glyph)
	fmt.Fprintf(&rich, "<b>Score:</b> %d %s<br/>", q.Score, glyph)

	fmt.Fprintf(&plain, "Created: %s\n", Timestamp(q.Created))
	fmt.Fprintf(&rich, "<b>Created:</b> %s<br/>", Timestamp(q.Created))
	fmt.Fprintf(&plain, "Edited: %s", Timestamp(q.Edited))
	fmt.Fprintf(&rich, "<b>Edited:</b> %s", Timestamp(q.Edited))

	if ocr := strings.TrimSpace(q.OCR); ocr != "" {
		fmt.Fprintf(&plain, "\nOCR: %s", ocr)
		fmt.Fprintf(&rich, "<br/><b>OCR:</b><blockquote>%s</blockquote>", Escape(ocr))
	}

	return Message{Plain: plain.String(), HTML: rich.String()}
}

// ScoreList renders a ranked list of quotes with links, descriptions and
// scores.
func ScoreList(quotes []domain.Quote, link Linker) Message {
	var plain, rich strings.Builder
	rich.WriteString("<ol>")
	for i, q := range quotes {
		glyph := ScoreGlyph(q.Score)
		if i > 0 {
			plain.WriteString("\n")
		}
		fmt.Fprintf(&plain, "%d. #%d (%d %s) %s: %s", i+1, q.ID, q.Score, glyph, q.Description, link(q.ID))
		fmt.Fprintf(&rich, `<li><a href="%s">#%d</a> (%d %s): %s</li>`,
			html.EscapeString(link(q.ID)), q.ID, q.Score, glyph, Escape(q.Description))
	}
	rich.WriteString("</ol>")
	return Message{Plain: plain.String(), HTML: rich.String()}
}
