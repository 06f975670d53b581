package format

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"quotesbot/internal/domain"
)

func testLink(id int) string { return "https://imag.example.com/#" + strconv.Itoa(id) }

func TestScoreGlyph(t *testing.T) {
	if ScoreGlyph(-1) != scoreDown {
		t.Error("negative score should point down")
	}
	if ScoreGlyph(0) != scoreUp {
		t.Error("zero score should point up")
	}
	if ScoreGlyph(12) != scoreUp {
		t.Error("positive score should point up")
	}
}

func TestTimestamp(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	if got := Timestamp(ts); got != "2024-03-09 14:05:07 UTC" {
		t.Errorf("got %q", got)
	}
	if got := Timestamp(time.Time{}); got != "unknown" {
		t.Errorf("zero time: got %q", got)
	}
}

func TestAnnotation_EscapesDescription(t *testing.T) {
	q := domain.Quote{
		ID:          7,
		Description: `<script>alert("x")</script> & more`,
		Score:       -3,
		Created:     time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	msg := Annotation(q, testLink)

	if strings.Contains(msg.HTML, "<script>") {
		t.Fatalf("description not escaped in HTML: %s", msg.HTML)
	}
	if !strings.Contains(msg.HTML, "&lt;script&gt;alert(&#34;x&#34;)&lt;/script&gt; &amp; more") {
		t.Errorf("escaped description missing: %s", msg.HTML)
	}
	if !strings.Contains(msg.Plain, `<script>alert("x")</script> & more`) {
		t.Errorf("plain body should carry the description verbatim: %s", msg.Plain)
	}
	if !strings.Contains(msg.HTML, `<a href="https://imag.example.com/#7">#7</a>`) {
		t.Errorf("link missing: %s", msg.HTML)
	}
	if !strings.Contains(msg.HTML, "-3 "+scoreDown) {
		t.Errorf("down glyph missing: %s", msg.HTML)
	}
	if !strings.Contains(msg.Plain, "Created: 2023-01-01 00:00:00 UTC") {
		t.Errorf("created missing: %s", msg.Plain)
	}
	if strings.Contains(msg.Plain, "OCR") {
		t.Errorf("OCR line should be omitted when empty: %s", msg.Plain)
	}
}

func TestAnnotation_IncludesOCR(t *testing.T) {
	msg := Annotation(domain.Quote{ID: 1, Score: 4, OCR: "line1\nline <2>"}, testLink)
	if !strings.Contains(msg.HTML, "<blockquote>line1<br/>line &lt;2&gt;</blockquote>") {
		t.Errorf("OCR not rendered: %s", msg.HTML)
	}
	if !strings.Contains(msg.Plain, "OCR: line1\nline <2>") {
		t.Errorf("OCR not in plain body: %s", msg.Plain)
	}
	if !strings.Contains(msg.HTML, "4 "+scoreUp) {
		t.Errorf("up glyph missing: %s", msg.HTML)
	}
}

func TestScoreList(t *testing.T) {
	quotes := []domain.Quote{
		{ID: 3, Description: "a & b", Score: 10},
		{ID: 9, Description: "c", Score: -1},
	}
	msg := ScoreList(quotes, testLink)
	if !strings.HasPrefix(msg.HTML, "<ol>") || !strings.HasSuffix(msg.HTML, "</ol>") {
		t.Errorf("expected ordered list: %s", msg.HTML)
	}
	if strings.Count(msg.HTML, "<li>") != 2 {
		t.Errorf("expected 2 items: %s", msg.HTML)
	}
	if !strings.Contains(msg.HTML, "a &amp; b") {
		t.Errorf("description not escaped: %s", msg.HTML)
	}
	lines := strings.Split(msg.Plain, "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "2. #9 (-1 "+scoreDown+")") {
		t.Errorf("unexpected plain list: %q", msg.Plain)
	}
}

func TestMarkdown(t *testing.T) {
	msg := Markdown("**Commands**\n\n- `!get <id>`")
	if msg.Plain != "**Commands**\n\n- `!get <id>`" {
		t.Errorf("plain body changed: %q", msg.Plain)
	}
	if !strings.Contains(msg.HTML, "<strong>Commands</strong>") {
		t.Errorf("bold not rendered: %s", msg.HTML)
	}
	if !strings.Contains(msg.HTML, "<code>!get &lt;id&gt;</code>") {
		t.Errorf("code span not rendered/escaped: %s", msg.HTML)
	}
}
