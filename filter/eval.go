package filter

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// ExtensionEvaluator lets a registered index participate in in-memory
// residual evaluation for its own Extension predicates.
type ExtensionEvaluator func(name string, args []any, rec arrow.RecordBatch, row int) (bool, error)

// Evaluator applies an Expression tree row-by-row against an Arrow record,
// the fallback path for any predicate the SQL Encoder could not translate.
type Evaluator struct {
	colIndex map[string]int
	ext      ExtensionEvaluator
}

// NewEvaluator builds an Evaluator against rec's schema. ext may be nil if
// no Extension predicates are expected.
func NewEvaluator(rec arrow.RecordBatch, ext ExtensionEvaluator) *Evaluator {
	idx := make(map[string]int, int(rec.Schema().NumFields()))
	for i := 0; i < int(rec.Schema().NumFields()); i++ {
		idx[rec.Schema().Field(i).Name] = i
	}
	return &Evaluator{colIndex: idx, ext: ext}
}

// Eval reports whether row of rec satisfies expr.
func (e *Evaluator) Eval(expr Expression, rec arrow.RecordBatch, row int) (bool, error) {
	switch ex := expr.(type) {
	case *And:
		for _, c := range ex.Children {
			ok, err := e.Eval(c, rec, row)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case *Or:
		for _, c := range ex.Children {
			ok, err := e.Eval(c, rec, row)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case *Not:
		ok, err := e.Eval(ex.Child, rec, row)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case *IsNull:
		v, null, err := e.value(ex.Column, rec, row)
		if err != nil {
			return false, err
		}
		_ = v
		return null, nil
	case *IsNotNull:
		_, null, err := e.value(ex.Column, rec, row)
		if err != nil {
			return false, err
		}
		return !null, nil
	case *In:
		v, null, err := e.value(ex.Column, rec, row)
		if err != nil {
			return false, err
		}
		if null {
			return false, nil
		}
		for _, want := range ex.Values {
			if compareEqual(v, want) {
				return true, nil
			}
		}
		return false, nil
	case *Comparison:
		return e.evalComparison(ex, rec, row)
	case *Extension:
		if e.ext == nil {
			return false, fmt.Errorf("filter: no evaluator registered for extension predicate %q", ex.Name)
		}
		return e.ext(ex.Name, ex.Args, rec, row)
	default:
		return false, fmt.Errorf("filter: cannot evaluate expression of type %T", expr)
	}
}

func (e *Evaluator) evalComparison(c *Comparison, rec arrow.RecordBatch, row int) (bool, error) {
	col, ok := c.Left.(*Column)
	if !ok {
		return false, fmt.Errorf("filter: comparison left side must be a column reference")
	}
	lit, ok := c.Right.(*Literal)
	if !ok {
		return false, fmt.Errorf("filter: comparison right side must be a literal")
	}
	v, null, err := e.value(col, rec, row)
	if err != nil {
		return false, err
	}
	if null {
		return false, nil // NULL compares false to everything in this grammar.
	}
	cmp, ok := compareOrdered(v, lit.Value)
	if !ok {
		return false, fmt.Errorf("filter: cannot compare column %q value %v with literal %v", col.Name, v, lit.Value)
	}
	switch c.Op {
	case OpEqual:
		return cmp == 0, nil
	case OpNotEqual:
		return cmp != 0, nil
	case OpLessThan:
		return cmp < 0, nil
	case OpGreaterThan:
		return cmp > 0, nil
	case OpLessThanOrEqual:
		return cmp <= 0, nil
	case OpGreaterThanOrEqual:
		return cmp >= 0, nil
	default:
		return false, fmt.Errorf("filter: unknown operator %q", c.Op)
	}
}

func (e *Evaluator) value(col *Column, rec arrow.RecordBatch, row int) (any, bool, error) {
	idx, ok := e.colIndex[col.Name]
	if !ok {
		return nil, false, fmt.Errorf("filter: unknown column %q", col.Name)
	}
	arr := rec.Column(idx)
	if arr.IsNull(row) {
		return nil, true, nil
	}
	return arrayValue(arr, row), false, nil
}
