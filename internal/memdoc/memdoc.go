// Package memdoc provides helpers for working with long-term memory
// documents. Documents are markdown files with a single # title and
// ## topic sections; the patch engine and the fetch_memory tool both
// need structural access without a full renderer.
package memdoc

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
)

// Retrieval limits, matching the fetch_memory contract: a tool result is
// context-window budget, not a file dump.
const (
	MaxSections   = 3
	MaxLines      = 10
	PreviewLength = 2000
)

var parser = goldmark.New()

// Heading is one heading found in a document.
type Heading struct {
	Level int
	Text  string
}

// Headings returns every heading in the document, in order. The patch
// engine feeds this inventory into its rewrite prompt so the model knows
// which sections already exist and must survive the edit.
func Headings(content string) []Heading {
	src := []byte(content)
	doc := parser.Parser().Parse(gmtext.NewReader(src))

	var out []Heading
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if h, ok := n.(*ast.Heading); ok {
			out = append(out, Heading{Level: h.Level, Text: string(h.Text(src))})
		}
		return ast.WalkContinue, nil
	})
	return out
}

// Sections splits a document into its ## sections. Text before the first
// ## heading (the title block) is the first element.
func Sections(content string) []string {
	var sections []string
	var current []string
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "## ") && len(current) > 0 {
			sections = append(sections, strings.Join(current, "\n"))
			current = current[:0]
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		sections = append(sections, strings.Join(current, "\n"))
	}
	return sections
}

// Search returns the part of content relevant to keyword. Matching ##
// sections are preferred (at most MaxSections); failing that, matching
// lines (at most MaxLines); failing that, a PreviewLength-capped prefix
// of the whole document. An empty keyword returns the capped prefix.
func Search(content, keyword string) string {
	if keyword == "" {
		return Preview(content)
	}

	var matched []string
	for _, sec := range Sections(content) {
		if strings.Contains(sec, keyword) {
			matched = append(matched, sec)
			if len(matched) == MaxSections {
				break
			}
		}
	}
	if len(matched) > 0 {
		return strings.Join(matched, "\n\n")
	}

	var lines []string
	for _, line := range strings.Split(content, "\n") {
		if strings.Contains(line, keyword) {
			lines = append(lines, line)
			if len(lines) == MaxLines {
				break
			}
		}
	}
	if len(lines) > 0 {
		return strings.Join(lines, "\n")
	}

	return Preview(content)
}

// Preview returns content capped at PreviewLength bytes on a rune boundary.
func Preview(content string) string {
	if len(content) <= PreviewLength {
		return content
	}
	cut := PreviewLength
	for cut > 0 && !isRuneStart(content[cut]) {
		cut--
	}
	return content[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

var (
	accessedRe = regexp.MustCompile(`> last_accessed: \d{4}-\d{2}-\d{2}`)
	titleRe    = regexp.MustCompile(`(?m)^(# .+)$`)
)

// StampAccessed updates the document's "> last_accessed:" marker to date
// (2006-01-02), inserting one after the title when absent. Content
// without a title line is returned unchanged.
func StampAccessed(content, date string) string {
	stamp := "> last_accessed: " + date
	if accessedRe.MatchString(content) {
		return accessedRe.ReplaceAllString(content, stamp)
	}
	loc := titleRe.FindStringIndex(content)
	if loc == nil {
		return content
	}
	return content[:loc[1]] + "\n" + stamp + content[loc[1]:]
}
