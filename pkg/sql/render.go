package sql

import (
	"regexp"
	"strings"

	"github.com/lumina-bi/lumina-engine/pkg/models"
)

// Dialect selects the rendering mode for a backend family.
type Dialect int

const (
	// DialectStandard renders for the relational backend.
	DialectStandard Dialect = iota
	// DialectWarehouse renders for the analytical warehouse: bare table
	// names after FROM/JOIN are schema-qualified and `= NULL` comparisons
	// in the template are normalized to `IS NULL` form.
	DialectWarehouse
)

var (
	// guardTailPattern matches the middle of the defensive guard
	// `(:p IS NULL OR col = :p)` between its two placeholders, capturing
	// the column reference.
	guardTailPattern = regexp.MustCompile(`(?i)^\s+IS\s+NULL\s+OR\s+([\w.]+)\s*=\s*$`)

	// equalityTailPattern matches a trailing `col =` immediately before a
	// placeholder, capturing the column reference.
	equalityTailPattern = regexp.MustCompile(`(?i)([\w.]+)\s*=\s*$`)

	// numericPattern decides whether a scalar renders unquoted.
	numericPattern = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

	// tableRefPattern finds candidate bare table names after FROM/JOIN.
	tableRefPattern = regexp.MustCompile(`(?i)\b(FROM|JOIN)\s+([a-zA-Z_][a-zA-Z0-9_]*)`)

	neqNullPattern = regexp.MustCompile(`(?i)(!=|<>)\s*NULL\b`)
	eqNullPattern  = regexp.MustCompile(`(?i)=\s*NULL\b`)
)

// nonTableWords are identifiers that can follow FROM/JOIN without naming a
// table.
var nonTableWords = map[string]bool{
	"select":  true,
	"lateral": true,
	"unnest":  true,
	"values":  true,
}

// Renderer substitutes filter values into query templates. Substitution is
// purely lexical over the token stream from Lex, which keeps string
// literals, quoted identifiers, and cast operators untouched.
//
// Rules per placeholder occurrence:
//
//   - unset or empty value: the placeholder renders as the literal NULL.
//     Templates are written defensively with `(:p IS NULL OR col = :p)`
//     guards, which stay always-true in this case.
//   - single scalar: a quoted literal with embedded quotes doubled, or a
//     raw numeric literal.
//   - comma-joined multi-value: the guard pattern above collapses to
//     `col IN (...)`; a bare `col = :p` equality rewrites to
//     `col IN (...)`; in any other position the placeholder renders as the
//     comma-joined quoted list. A list that is empty after trimming
//     degenerates to the NULL case.
//
// Placeholders supplied in filters but absent from the template are
// ignored. Malformed templates are not validated here; the backend surfaces
// syntax errors at execution time.
type Renderer struct {
	schema string
}

// NewRenderer returns a Renderer that qualifies bare warehouse table names
// with schema. An empty schema disables qualification.
func NewRenderer(schema string) *Renderer {
	return &Renderer{schema: schema}
}

// Render substitutes filters into template for the given dialect and
// returns concrete SQL with no placeholders remaining.
func (r *Renderer) Render(template string, filters models.FilterParams, dialect Dialect) string {
	if dialect == DialectWarehouse {
		template = normalizeNullComparisons(template)
		template = r.qualifyTables(template)
	}

	tokens := Lex(template)
	bindings := bindAll(tokens, filters)

	tokens = collapseGuards(tokens, bindings)
	tokens = rewriteEqualities(tokens, bindings)

	var out strings.Builder
	for _, tok := range tokens {
		if tok.Kind == TokenPlaceholder {
			out.WriteString(bindings[tok.Name].literal())
		} else {
			out.WriteString(tok.Text)
		}
	}
	return out.String()
}

// binding is the render-time classification of one placeholder name. A nil
// values slice means unset, rendering as NULL.
type binding struct {
	values []string
}

// bindAll classifies every placeholder appearing in tokens against the
// supplied filters.
func bindAll(tokens []Token, filters models.FilterParams) map[string]binding {
	bindings := make(map[string]binding)
	for _, tok := range tokens {
		if tok.Kind != TokenPlaceholder {
			continue
		}
		if _, done := bindings[tok.Name]; done {
			continue
		}
		raw, ok := filters.Get(tok.Name)
		if !ok {
			bindings[tok.Name] = binding{}
			continue
		}
		bindings[tok.Name] = bindValue(raw)
	}
	return bindings
}

// bindValue splits a raw filter value on commas, trimming whitespace and
// dropping empty elements. One element is a scalar; several are a
// multi-select; none degenerates to unset.
func bindValue(raw string) binding {
	var values []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			values = append(values, part)
		}
	}
	return binding{values: values}
}

func (b binding) multi() bool { return len(b.values) > 1 }

// literal renders the binding in place: NULL, one scalar literal, or the
// comma-joined list.
func (b binding) literal() string {
	switch len(b.values) {
	case 0:
		return "NULL"
	case 1:
		return QuoteLiteral(b.values[0])
	default:
		return b.list()
	}
}

// list renders the quoted, comma-joined element list without parentheses.
func (b binding) list() string {
	quoted := make([]string, len(b.values))
	for i, v := range b.values {
		quoted[i] = QuoteLiteral(v)
	}
	return strings.Join(quoted, ", ")
}

// QuoteLiteral renders one scalar value as a SQL literal: integers and
// decimals stay raw, everything else is single-quoted with embedded quotes
// doubled.
func QuoteLiteral(v string) string {
	if numericPattern.MatchString(v) {
		return v
	}
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// collapseGuards rewrites the `(:p IS NULL OR col = :p)` guard, parentheses
// included, into `col IN (...)` for multi-value bindings. Scalar and unset
// bindings keep the guard, which stays correct as written.
func collapseGuards(tokens []Token, bindings map[string]binding) []Token {
	var out []Token
	i := 0
	for i < len(tokens) {
		tok := tokens[i]
		if tok.Kind == TokenPlaceholder && bindings[tok.Name].multi() {
			if next, consumed, ok := matchGuard(out, tokens, i, bindings[tok.Name]); ok {
				out = next
				i += consumed
				continue
			}
		}
		out = append(out, tok)
		i++
	}
	return out
}

// matchGuard checks whether tokens[i] opens a guard group and, if so,
// returns out with the group replaced by the IN clause. The shape is
// strict: an opening paren at the tail of the preceding text, the
// `IS NULL OR col =` middle, the same placeholder again, and a closing
// paren heading the following text.
func matchGuard(out []Token, tokens []Token, i int, b binding) ([]Token, int, bool) {
	if len(out) == 0 || i+3 >= len(tokens) {
		return nil, 0, false
	}

	prev := out[len(out)-1]
	if prev.Kind != TokenText {
		return nil, 0, false
	}
	openIdx := trailingOpenParen(prev.Text)
	if openIdx < 0 {
		return nil, 0, false
	}

	mid := tokens[i+1]
	if mid.Kind != TokenText {
		return nil, 0, false
	}
	m := guardTailPattern.FindStringSubmatch(mid.Text)
	if m == nil {
		return nil, 0, false
	}

	second := tokens[i+2]
	if second.Kind != TokenPlaceholder || second.Name != tokens[i].Name {
		return nil, 0, false
	}

	closing := tokens[i+3]
	if closing.Kind != TokenText {
		return nil, 0, false
	}
	trimmed := strings.TrimLeft(closing.Text, " \t\n\r")
	if !strings.HasPrefix(trimmed, ")") {
		return nil, 0, false
	}

	out[len(out)-1] = Token{Kind: TokenText, Text: prev.Text[:openIdx]}
	out = append(out, Token{Kind: TokenText, Text: m[1] + " IN (" + b.list() + ")"})
	if rest := strings.TrimPrefix(trimmed, ")"); rest != "" {
		out = append(out, Token{Kind: TokenText, Text: rest})
	}
	return out, 4, true
}

// trailingOpenParen returns the index of the '(' at the tail of s, ignoring
// trailing whitespace, or -1.
func trailingOpenParen(s string) int {
	i := len(s) - 1
	for i >= 0 && isSpaceByte(s[i]) {
		i--
	}
	if i >= 0 && s[i] == '(' {
		return i
	}
	return -1
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// rewriteEqualities turns the remaining bare `col = :p` comparisons into
// `col IN (...)` for multi-value bindings. Runs after guard collapsing so a
// guard never half-rewrites.
func rewriteEqualities(tokens []Token, bindings map[string]binding) []Token {
	var out []Token
	for _, tok := range tokens {
		if tok.Kind == TokenPlaceholder && bindings[tok.Name].multi() && len(out) > 0 {
			prev := &out[len(out)-1]
			if prev.Kind == TokenText {
				// Inequality operators (!=, <=, >=) never match here: the
				// pattern admits only whitespace between column and '='.
				if m := equalityTailPattern.FindStringSubmatchIndex(prev.Text); m != nil {
					col := prev.Text[m[2]:m[3]]
					prev.Text = prev.Text[:m[2]]
					out = append(out, Token{
						Kind: TokenText,
						Text: col + " IN (" + bindings[tok.Name].list() + ")",
					})
					continue
				}
			}
		}
		out = append(out, tok)
	}
	return out
}

// normalizeNullComparisons rewrites `= NULL` / `!= NULL` / `<> NULL` in the
// template text into `IS NULL` / `IS NOT NULL`. Only authored text is
// touched; NULLs produced later by substitution keep their guard form.
func normalizeNullComparisons(template string) string {
	var out strings.Builder
	for _, tok := range Lex(template) {
		if tok.Kind != TokenText {
			out.WriteString(tok.Text)
			continue
		}
		t := neqNullPattern.ReplaceAllString(tok.Text, "IS NOT NULL")
		t = eqNullPattern.ReplaceAllString(t, "IS NULL")
		out.WriteString(t)
	}
	return out.String()
}

// qualifyTables prefixes bare table names after FROM/JOIN with the
// warehouse schema. Names already qualified with a dot, function calls, and
// string literals are left alone.
func (r *Renderer) qualifyTables(template string) string {
	if r.schema == "" {
		return template
	}
	var out strings.Builder
	for _, tok := range Lex(template) {
		if tok.Kind != TokenText {
			out.WriteString(tok.Text)
			continue
		}
		out.WriteString(r.qualifyText(tok.Text))
	}
	return out.String()
}

func (r *Renderer) qualifyText(text string) string {
	matches := tableRefPattern.FindAllStringSubmatchIndex(text, -1)
	if matches == nil {
		return text
	}

	var out strings.Builder
	last := 0
	for _, m := range matches {
		tableStart, tableEnd := m[4], m[5]
		name := text[tableStart:tableEnd]
		if nonTableWords[strings.ToLower(name)] {
			continue
		}
		if tableEnd < len(text) && (text[tableEnd] == '.' || text[tableEnd] == '(') {
			continue
		}
		out.WriteString(text[last:tableStart])
		out.WriteString(r.schema)
		out.WriteByte('.')
		out.WriteString(name)
		last = tableEnd
	}
	out.WriteString(text[last:])
	return out.String()
}
