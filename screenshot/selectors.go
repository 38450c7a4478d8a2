package screenshot

import (
	"fmt"
	"strings"
)

// QueryKind tells how a Query is matched.
type QueryKind int

const (
	// QueryCSS matches elements by selector alone.
	QueryCSS QueryKind = iota
	// QueryCSSWithText additionally requires the element's text to contain
	// Text (case-insensitive, whitespace collapsed).
	QueryCSSWithText
)

// Query locates a candidate button.
type Query struct {
	Kind QueryKind
	CSS  string
	Text string
}

func (q Query) String() string {
	if q.Kind == QueryCSSWithText {
		return fmt.Sprintf("%s:has-text(%q)", q.CSS, q.Text)
	}
	return q.CSS
}

type queryTemplate func(label, lower string) Query

func withText(css string) queryTemplate {
	return func(label, _ string) Query {
		return Query{Kind: QueryCSSWithText, CSS: css, Text: label}
	}
}

func cssf(format string, lowered bool, ident bool) queryTemplate {
	return func(label, lower string) Query {
		v := label
		if lowered {
			v = lower
		}
		if ident {
			v = cssIdent(v)
		} else {
			v = cssString(v)
		}
		return Query{Kind: QueryCSS, CSS: fmt.Sprintf(format, v)}
	}
}

// buttonTemplates in priority order: role and tag matches on visible text
// first, then attribute substrings, then id and class naming conventions.
var buttonTemplates = []queryTemplate{
	withText("button"),
	withText("button.elp-button"),
	cssf(`button[name*="%s"]`, false, false),
	cssf(`input[type="submit"][value*="%s"]`, false, false),
	withText(`button[type="submit"]`),
	withText(`[role="button"]`),
	cssf(`input[type="button"][value*="%s"]`, false, false),
	withText("a"),
	cssf(`[data-testid*="%s"]`, true, false),
	cssf(`[id*="%s"][type="button"]`, true, false),
	cssf(`[id*="%s"][type="submit"]`, true, false),
	cssf(`button[class*="%s"]`, true, false),
	cssf(`.%s-button`, true, true),
	cssf(`button.btn-%s`, true, true),
	cssf(`button.%s-btn`, true, true),
}

// TemplateCount is the number of queries generated per label.
var TemplateCount = len(buttonTemplates)

// Synthesize expands button labels into an ordered query list, label by
// label, each label through every template in order. No labels means no
// button action, and yields nil.
func Synthesize(labels []string) []Query {
	if len(labels) == 0 {
		return nil
	}
	queries := make([]Query, 0, len(labels)*len(buttonTemplates))
	for _, label := range labels {
		lower := strings.ToLower(label)
		for _, tmpl := range buttonTemplates {
			queries = append(queries, tmpl(label, lower))
		}
	}
	return queries
}

// cssString escapes s for use inside a double-quoted CSS string.
func cssString(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r == '"' || r == '\\':
			sb.WriteRune('\\')
			sb.WriteRune(r)
		case r == '\n':
			sb.WriteString(`\a `)
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// cssIdent escapes s for use as part of a CSS class name.
func cssIdent(s string) string {
	var sb strings.Builder
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == '-', r >= 0x80:
			sb.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				// A leading digit must be written as a code point.
				sb.WriteString(fmt.Sprintf(`\%x `, r))
			} else {
				sb.WriteRune(r)
			}
		default:
			sb.WriteRune('\\')
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
