package searcher

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/dshills/codegraph/internal/storage"
	"github.com/dshills/codegraph/pkg/types"
)

// Tokenize splits a search string into terms. Whitespace separates terms,
// double quotes keep a phrase together, a leading '-' negates a term and a
// trailing '*' asks for a prefix match.
func Tokenize(input string) ([]storage.Term, error) {
	runes := []rune(input)
	var terms []storage.Term

	for i := 0; i < len(runes); {
		if unicode.IsSpace(runes[i]) {
			i++
			continue
		}

		var term storage.Term
		if runes[i] == '-' && i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			term.Negated = true
			i++
		}

		if runes[i] == '"' {
			i++
			start := i
			for i < len(runes) && runes[i] != '"' {
				i++
			}
			term.Text = string(runes[start:i])
			term.Phrase = true
			if i < len(runes) {
				i++ // closing quote
			}
			if i < len(runes) && runes[i] == '*' {
				term.Prefix = true
				i++
			}
		} else {
			start := i
			for i < len(runes) && !unicode.IsSpace(runes[i]) {
				i++
			}
			term.Text = string(runes[start:i])
			if strings.HasSuffix(term.Text, "*") {
				term.Text = strings.TrimRight(term.Text, "*")
				term.Prefix = true
			}
		}

		term.Text = strings.TrimSpace(term.Text)
		if term.Text == "" {
			continue
		}
		terms = append(terms, term)
	}

	if len(terms) == 0 {
		return nil, fmt.Errorf("%w: no search terms", types.ErrInvalidRequest)
	}
	return terms, nil
}

// normalizeTerms renders terms in a canonical lower-case form for cache keys
func normalizeTerms(terms []storage.Term) string {
	parts := make([]string, len(terms))
	for i, t := range terms {
		var b strings.Builder
		if t.Negated {
			b.WriteByte('-')
		}
		if t.Phrase {
			b.WriteByte('"')
			b.WriteString(strings.ToLower(t.Text))
			b.WriteByte('"')
		} else {
			b.WriteString(strings.ToLower(t.Text))
		}
		if t.Prefix {
			b.WriteByte('*')
		}
		parts[i] = b.String()
	}
	return strings.Join(parts, "\x00")
}
