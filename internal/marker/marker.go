// Package marker implements the sentinel protocol used to embed a template
// inside a target file. A block looks like:
//
//	<!-- TEMPLATE_START: partials/nav.html -->
//	...template content...
//	<!-- TEMPLATE_END: partials/nav.html -->
//
// The identifier in both sentinels must match byte for byte for the block
// to be recognized.
package marker

import (
	"regexp"
	"strings"
)

const (
	startTag = "TEMPLATE_START"
	endTag   = "TEMPLATE_END"
)

// Start returns the opening sentinel line for identifier.
func Start(identifier string) string {
	return "<!-- " + startTag + ": " + identifier + " -->"
}

// End returns the closing sentinel line for identifier.
func End(identifier string) string {
	return "<!-- " + endTag + ": " + identifier + " -->"
}

// Wrap surrounds content with the start and end sentinels for identifier.
func Wrap(content, identifier string) string {
	var b strings.Builder
	b.Grow(len(content) + 2*len(identifier) + 48)
	b.WriteString(Start(identifier))
	b.WriteByte('\n')
	b.WriteString(content)
	b.WriteByte('\n')
	b.WriteString(End(identifier))
	return b.String()
}

// Pattern locates the marker block of a single template identifier.
type Pattern struct {
	identifier string
	re         *regexp.Regexp
}

// BuildPattern compiles the block pattern for identifier. Every character of
// the identifier is matched literally; the body between the sentinels is the
// shortest span, newlines included.
func BuildPattern(identifier string) *Pattern {
	id := regexp.QuoteMeta(identifier)
	expr := `<!--\s` + startTag + `:\s` + id + `\s-->` +
		`[\s\S]*?` +
		`<!--\s` + endTag + `:\s` + id + `\s-->`
	return &Pattern{identifier: identifier, re: regexp.MustCompile(expr)}
}

// Identifier returns the template identifier the pattern was built for.
func (p *Pattern) Identifier() string { return p.identifier }

// String returns the compiled expression.
func (p *Pattern) String() string { return p.re.String() }

// Match reports whether text contains a block for the identifier.
func (p *Pattern) Match(text string) bool {
	return p.re.MatchString(text)
}

// Count returns the number of non-overlapping blocks in text.
func (p *Pattern) Count(text string) int {
	return len(p.re.FindAllStringIndex(text, -1))
}

// ReplaceRegion replaces the first block in text with replacement, taken
// literally. When no block exists the text is returned unchanged and matched
// is false.
func (p *Pattern) ReplaceRegion(text, replacement string) (string, bool) {
	loc := p.re.FindStringIndex(text)
	if loc == nil {
		return text, false
	}
	return text[:loc[0]] + replacement + text[loc[1]:], true
}

// ReplaceRegion is the free-function form of (*Pattern).ReplaceRegion.
func ReplaceRegion(text string, pattern *Pattern, replacement string) (string, bool) {
	return pattern.ReplaceRegion(text, replacement)
}
