package engine

import (
	"github.com/indexlake/indexlake/filter"
)

// eligibleConjunct pairs one index-eligible conjunct with the binding that
// claimed it.
type eligibleConjunct struct {
	expr    filter.Expression
	binding IndexBinding
}

// analyzeFilters partitions pred's top-level conjuncts into index-eligible
// and residual groups. The first registered index (in t.Indices order)
// that claims a conjunct wins it; a conjunct unclaimed by any index is
// residual and falls back to in-memory evaluation.
func (t *Table) analyzeFilters(pred filter.Expression) (eligible []eligibleConjunct, residual []filter.Expression) {
	for _, c := range filter.Conjuncts(pred) {
		claimed := false
		for _, b := range t.Indices {
			if b.Impl.SupportsFilter(b.Def, b.Params, c) {
				eligible = append(eligible, eligibleConjunct{expr: c, binding: b})
				claimed = true
				break
			}
		}
		if !claimed {
			residual = append(residual, c)
		}
	}
	return eligible, residual
}
