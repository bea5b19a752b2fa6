// Package sql renders validated-query templates and screens the admin
// ad-hoc path. Templates carry :name placeholders that are substituted with
// SQL literals at execution time; substitution works on a lexed token
// stream, never on raw pattern replacement over the template text.
package sql

import "strings"

// TokenKind classifies a lexed fragment of a SQL template.
type TokenKind int

const (
	// TokenText is plain SQL text, passed through untouched.
	TokenText TokenKind = iota
	// TokenString is a single-quoted string literal, quotes included.
	// Placeholders are never recognized inside strings.
	TokenString
	// TokenQuotedIdent is a double-quoted identifier, quotes included.
	TokenQuotedIdent
	// TokenPlaceholder is a :name placeholder bound at render time.
	TokenPlaceholder
)

// Token is one lexed fragment. Text holds the raw template bytes; Name is
// set only for placeholders.
type Token struct {
	Kind TokenKind
	Text string
	Name string
}

// Lex splits a SQL template into text, string-literal, quoted-identifier,
// and placeholder tokens. Concatenating the Text fields of the result
// reproduces the template byte for byte.
//
// A placeholder is a colon followed by an identifier (letter or underscore,
// then letters, digits, underscores):
//
//	SELECT * FROM merchants WHERE region = :region
//
// The cast operator shares the colon sigil and never produces a
// placeholder: `amount::decimal` lexes as plain text. String literals honor
// doubled-quote escaping ('It''s') and line comments (-- to end of line)
// are carried as text without placeholder recognition.
func Lex(template string) []Token {
	var tokens []Token
	var text strings.Builder

	flush := func() {
		if text.Len() > 0 {
			tokens = append(tokens, Token{Kind: TokenText, Text: text.String()})
			text.Reset()
		}
	}

	i, n := 0, len(template)
	for i < n {
		ch := template[i]

		switch {
		case ch == '\'':
			j := scanQuoted(template, i, '\'')
			flush()
			tokens = append(tokens, Token{Kind: TokenString, Text: template[i:j]})
			i = j

		case ch == '"':
			j := scanQuoted(template, i, '"')
			flush()
			tokens = append(tokens, Token{Kind: TokenQuotedIdent, Text: template[i:j]})
			i = j

		case ch == '-' && i+1 < n && template[i+1] == '-':
			j := i
			for j < n && template[j] != '\n' {
				j++
			}
			text.WriteString(template[i:j])
			i = j

		case ch == ':':
			if i+1 < n && template[i+1] == ':' {
				text.WriteString("::")
				i += 2
				continue
			}
			j := i + 1
			if j < n && isIdentStart(template[j]) {
				for j++; j < n && isIdentPart(template[j]); j++ {
				}
				flush()
				tokens = append(tokens, Token{
					Kind: TokenPlaceholder,
					Text: template[i:j],
					Name: template[i+1 : j],
				})
				i = j
				continue
			}
			text.WriteByte(ch)
			i++

		default:
			text.WriteByte(ch)
			i++
		}
	}
	flush()
	return tokens
}

// scanQuoted returns the index just past a quoted region starting at start,
// honoring doubled-quote escaping. Unterminated quotes run to the end of
// the template.
func scanQuoted(s string, start int, quote byte) int {
	j := start + 1
	for j < len(s) {
		if s[j] == quote {
			if j+1 < len(s) && s[j+1] == quote {
				j += 2
				continue
			}
			return j + 1
		}
		j++
	}
	return j
}

func isIdentStart(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isIdentPart(b byte) bool {
	return isIdentStart(b) || (b >= '0' && b <= '9')
}

// ExtractPlaceholders returns the deduplicated placeholder names in a
// template in order of first appearance.
//
// Example:
//
//	names := ExtractPlaceholders("SELECT 1 WHERE a = :x OR b = :y OR c = :x")
//	// names == []string{"x", "y"}
func ExtractPlaceholders(template string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, tok := range Lex(template) {
		if tok.Kind == TokenPlaceholder && !seen[tok.Name] {
			seen[tok.Name] = true
			names = append(names, tok.Name)
		}
	}
	return names
}
