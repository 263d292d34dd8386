// Package render expands {field} placeholders in mail templates. It is a
// pure package: no I/O, no expression language, field substitution only.
package render

import (
	"html"
	"regexp"
	"sort"
	"strings"
)

// Fields maps placeholder names to their values.
type Fields map[string]string

var (
	placeholderRe = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)
	whitespaceRe  = regexp.MustCompile(`[ \t\r\n]+`)
	tagRe         = regexp.MustCompile(`(?is)<[^>]*>`)
	blockRe       = regexp.MustCompile(`(?i)<(?:br\s*/?|/p|/div|/tr|/li|/h[1-6]|/table)>`)
	dropRe        = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	blankRe       = regexp.MustCompile(`\n{3,}`)
)

// Rendered is the outcome of expanding one message.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
	// Empty lists placeholders that were substituted with the empty
	// string because no field matched, in first-seen order.
	Empty []string
}

// Message expands subject and body templates against the recipient's
// fields, renders the signature template against the sender's fields, and
// appends it to the HTML body. Unknown placeholders expand to the empty
// string and are reported in Rendered.Empty; rendering never fails.
func Message(subjectTpl, bodyTpl string, recipient Fields, signatureTpl string, sender Fields) Rendered {
	seen := map[string]bool{}
	var empty []string
	record := func(name string) {
		if !seen[name] {
			seen[name] = true
			empty = append(empty, name)
		}
	}

	subject := expand(subjectTpl, recipient, record)
	body := expand(bodyTpl, recipient, record)
	signature := expand(signatureTpl, sender, record)

	htmlBody := body
	if strings.TrimSpace(signature) != "" {
		htmlBody = body + "<br><br>" + signature
	}

	return Rendered{
		Subject: collapseWhitespace(subject),
		HTML:    htmlBody,
		Text:    HTMLToText(htmlBody),
		Empty:   empty,
	}
}

// Expand substitutes placeholders in a single template and returns the
// sorted set of names that expanded empty.
func Expand(tpl string, fields Fields) (string, []string) {
	seen := map[string]bool{}
	out := expand(tpl, fields, func(name string) { seen[name] = true })
	empty := make([]string, 0, len(seen))
	for name := range seen {
		empty = append(empty, name)
	}
	sort.Strings(empty)
	return out, empty
}

func expand(tpl string, fields Fields, onEmpty func(string)) string {
	return placeholderRe.ReplaceAllStringFunc(tpl, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := fields[name]
		if !ok || v == "" {
			onEmpty(name)
			return ""
		}
		return v
	})
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// HTMLToText strips tags deterministically: script/style blocks are
// dropped, block-closing tags become newlines, remaining tags are removed,
// entities are decoded and whitespace normalized.
func HTMLToText(s string) string {
	s = dropRe.ReplaceAllString(s, "")
	s = blockRe.ReplaceAllString(s, "\n")
	s = tagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = collapseWhitespace(line)
	}
	s = strings.Join(lines, "\n")
	s = blankRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
