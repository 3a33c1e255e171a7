package filter

import (
	"strconv"
	"strings"
)

// EncoderOptions configures an Encoder's SQL emission: identifier quoting
// and a placeholder-numbering style for the target dialect.
type EncoderOptions struct {
	// QuoteIdent quotes a column identifier for the target dialect. If
	// nil, identifiers are emitted unquoted.
	QuoteIdent func(string) string
	// Placeholder returns the SQL placeholder text for the nth (1-based)
	// bound parameter. If nil, "?" is used for every parameter
	// (SQLite/MySQL style); Postgres callers pass a "$N" generator.
	Placeholder func(n int) string
}

// Encoder translates an Expression tree to a SQL WHERE-clause fragment.
// Unsupported sub-expressions are dropped rather than erroring, because
// unsupported predicates are always safe to evaluate in memory afterward.
type Encoder struct {
	opts *EncoderOptions
	args []any
	n    int
}

// NewEncoder creates an Encoder. A nil opts uses unquoted identifiers and
// "?" placeholders.
func NewEncoder(opts *EncoderOptions) *Encoder {
	if opts == nil {
		opts = &EncoderOptions{}
	}
	return &Encoder{opts: opts}
}

// Encode translates expr to a WHERE-clause fragment (without the "WHERE"
// keyword) and the ordered list of bound parameter values for it. The
// third return value, complete, is false when any part of expr had to be
// dropped because it falls outside the translatable subset — callers use this to
// decide whether a residual in-memory filter is still needed even when the
// SQL fragment is non-empty.
func (e *Encoder) Encode(expr Expression) (sql string, args []any, complete bool) {
	e.args = nil
	e.n = 0
	frag, ok := e.encode(expr)
	return frag, e.args, ok
}

func (e *Encoder) quote(col string) string {
	if e.opts.QuoteIdent != nil {
		return e.opts.QuoteIdent(col)
	}
	return col
}

func (e *Encoder) placeholder() string {
	e.n++
	if e.opts.Placeholder != nil {
		return e.opts.Placeholder(e.n)
	}
	return "?"
}

func (e *Encoder) bind(v any) string {
	e.args = append(e.args, v)
	return e.placeholder()
}

func (e *Encoder) encode(expr Expression) (string, bool) {
	switch ex := expr.(type) {
	case *Column:
		return e.quote(ex.Name), true
	case *Literal:
		return e.bind(ex.Value), true
	case *Comparison:
		left, lok := e.encode(ex.Left)
		right, rok := e.encode(ex.Right)
		if !lok || !rok {
			return "", false
		}
		return left + " " + string(ex.Op) + " " + right, true
	case *And:
		return e.encodeConjunction(ex.Children, " AND ", true)
	case *Or:
		return e.encodeConjunction(ex.Children, " OR ", false)
	case *Not:
		mark, n := len(e.args), e.n
		inner, ok := e.encode(ex.Child)
		if !ok {
			e.args, e.n = e.args[:mark], n
			return "", false
		}
		return "NOT (" + inner + ")", true
	case *IsNull:
		return e.quote(ex.Column.Name) + " IS NULL", true
	case *IsNotNull:
		return e.quote(ex.Column.Name) + " IS NOT NULL", true
	case *In:
		if len(ex.Values) == 0 {
			return "FALSE", true
		}
		placeholders := make([]string, len(ex.Values))
		for i, v := range ex.Values {
			placeholders[i] = e.bind(v)
		}
		return e.quote(ex.Column.Name) + " IN (" + strings.Join(placeholders, ", ") + ")", true
	case *Extension:
		// Extension predicates are the advertising index's job to
		// translate (typically to a row-id intersection the engine
		// already has, never to a WHERE fragment the catalog can run),
		// so the SQL encoder always treats them as unsupported.
		return "", false
	default:
		return "", false
	}
}

// encodeConjunction encodes an AND/OR's children, dropping unsupported
// ones. For AND, dropping children only widens the result set (safe,
// since residual evaluation will still reject the bad rows). For OR,
// dropping any child would incorrectly narrow the result set, so an
// unsupported child poisons the whole OR.
func (e *Encoder) encodeConjunction(children []Expression, joiner string, dropIsSafe bool) (string, bool) {
	var parts []string
	complete := true
	start, startN := len(e.args), e.n
	for _, c := range children {
		mark, n := len(e.args), e.n
		frag, ok := e.encode(c)
		if !ok {
			complete = false
			e.args, e.n = e.args[:mark], n
			if !dropIsSafe {
				e.args, e.n = e.args[:start], startN
				return "", false
			}
			continue
		}
		parts = append(parts, "("+frag+")")
	}
	if len(parts) == 0 {
		return "", false
	}
	if len(parts) == 1 {
		return strings.TrimSuffix(strings.TrimPrefix(parts[0], "("), ")"), complete
	}
	return strings.Join(parts, joiner), complete
}

// PostgresPlaceholder returns a "$N" placeholder generator for
// EncoderOptions.Placeholder.
func PostgresPlaceholder(n int) string { return "$" + strconv.Itoa(n) }
