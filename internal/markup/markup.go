// Package markup turns assistant replies written in a small markdown subset into
// a render tree the browser can draw without an HTML sanitizer.
package markup

import (
	"regexp"
	"strings"
)

type BlockKind string

const (
	KindHeading   BlockKind = "heading"
	KindList      BlockKind = "list"
	KindParagraph BlockKind = "paragraph"
)

// Span is a run of inline text.
type Span struct {
	Text string `json:"text"`
	Bold bool   `json:"bold,omitempty"`
}

// Block is one top-level node. Headings and paragraphs use Spans, lists use Items.
type Block struct {
	Kind  BlockKind `json:"kind"`
	Level int       `json:"level,omitempty"`
	Spans []Span    `json:"spans,omitempty"`
	Items [][]Span  `json:"items,omitempty"`
}

var boldPattern = regexp.MustCompile(`\*\*.*?\*\*`)

// Parse splits text into lines. Consecutive "* " lines form one list; "### " and "## "
// lines are headings; any other non-blank line is a paragraph.
func Parse(text string) []Block {
	var (
		blocks []Block
		items  [][]Span
	)

	flush := func() {
		if len(items) > 0 {
			blocks = append(blocks, Block{Kind: KindList, Items: items})
			items = nil
		}
	}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)

		if strings.HasPrefix(line, "* ") {
			items = append(items, ParseInline(line[2:]))
			continue
		}
		flush()

		switch {
		case strings.HasPrefix(line, "### "):
			blocks = append(blocks, Block{Kind: KindHeading, Level: 3, Spans: ParseInline(line[4:])})
		case strings.HasPrefix(line, "## "):
			blocks = append(blocks, Block{Kind: KindHeading, Level: 2, Spans: ParseInline(line[3:])})
		case line != "":
			blocks = append(blocks, Block{Kind: KindParagraph, Spans: ParseInline(line)})
		}
	}
	flush()

	return blocks
}

// ParseInline splits s around **bold** runs. Empty plain segments are dropped.
func ParseInline(s string) []Span {
	var spans []Span
	last := 0
	for _, loc := range boldPattern.FindAllStringIndex(s, -1) {
		if loc[0] > last {
			spans = append(spans, Span{Text: s[last:loc[0]]})
		}
		spans = append(spans, Span{Text: s[loc[0]+2 : loc[1]-2], Bold: true})
		last = loc[1]
	}
	if last < len(s) {
		spans = append(spans, Span{Text: s[last:]})
	}
	return spans
}
