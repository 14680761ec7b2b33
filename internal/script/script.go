// Package script parses multi-style scripts and prepares target text for
// synthesis.
//
// A script is plain text with inline style switches:
//
//	{Regular} Hello there. {Whisper} keep it down.
//
// Text before the first switch uses DEFAULT_STYLE.
package script

import (
	"regexp"
	"strconv"
	"strings"
)

// DEFAULT_STYLE is the style of text that precedes any switch.
const DEFAULT_STYLE = "Regular"

const sentenceTerminator = ". "

// Segment is a run of text spoken in one style.
type Segment struct {
	Style string `json:"style"`
	Text  string `json:"text"`
}

var (
	stylePattern       = regexp.MustCompile(`\{(.*?)\}`)
	letterDigitPattern = regexp.MustCompile(`(\pL)(\d)`)
	digitLetterPattern = regexp.MustCompile(`(\d)(\pL)`)
	numberPattern      = regexp.MustCompile(`\b\d+\b`)
	whitespacePattern  = regexp.MustCompile(`\s+`)
)

// Parse splits text into ordered style segments. Blank runs are dropped; a
// switch with no following text only changes the current style.
func Parse(text string) []Segment {
	var segments []Segment

	style := DEFAULT_STYLE
	cursor := 0

	for _, match := range stylePattern.FindAllStringSubmatchIndex(text, -1) {
		segments = appendSegment(segments, style, text[cursor:match[0]])
		style = strings.TrimSpace(text[match[2]:match[3]])
		cursor = match[1]
	}

	return appendSegment(segments, style, text[cursor:])
}

// Styles returns the distinct styles of segments in first-use order.
func Styles(segments []Segment) []string {
	seen := make(map[string]struct{}, len(segments))

	var styles []string

	for _, segment := range segments {
		if _, ok := seen[segment.Style]; ok {
			continue
		}

		seen[segment.Style] = struct{}{}
		styles = append(styles, segment.Style)
	}

	return styles
}

func appendSegment(segments []Segment, style, text string) []Segment {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return segments
	}

	return append(segments, Segment{Style: style, Text: trimmed})
}

// NormalizeTarget prepares text for the synthesizer: whitespace collapsed,
// lowercased, digits split from adjacent letters and spelled out, and a
// terminating ". " appended when missing.
func NormalizeTarget(text string) string {
	normalized := whitespacePattern.ReplaceAllString(strings.TrimSpace(text), " ")
	if normalized == "" {
		return ""
	}

	if strings.HasSuffix(normalized, ".") {
		normalized += " "
	} else {
		normalized += sentenceTerminator
	}

	normalized = strings.ToLower(normalized)
	normalized = letterDigitPattern.ReplaceAllString(normalized, "$1 $2")
	normalized = digitLetterPattern.ReplaceAllString(normalized, "$1 $2")

	return numberPattern.ReplaceAllStringFunc(normalized, func(s string) string {
		num, err := strconv.Atoi(s)
		if err != nil {
			return s
		}

		return IntegerToWords(num)
	})
}
