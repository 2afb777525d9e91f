package eventstore

import (
	"fmt"
	"strings"

	"github.com/lgd-analytics/maude-signals/filterpred"
)

// compiledWhere is the SQL-dialect translation of a filterpred.Predicate:
// a WHERE fragment (with any device EXISTS subquery already folded in)
// plus its positional args. Keeping this translation in eventstore (and
// nowhere else) is what lets filterpred stay store-agnostic, per spec §9.
type compiledWhere struct {
	Clause string
	Args   []any
}

// CompilePredicate is exported for the aggregate package's query builders.
func CompilePredicate(alias string, p filterpred.Predicate) (string, []any) {
	w := compilePredicate(alias, p)
	return w.Clause, w.Args
}

func compilePredicate(alias string, p filterpred.Predicate) compiledWhere {
	var parts []string
	var args []any

	for _, c := range p.Clauses {
		col := alias + "." + c.Column
		switch c.Op {
		case filterpred.OpEq:
			parts = append(parts, fmt.Sprintf("%s = ?", col))
			args = append(args, c.Args[0])
		case filterpred.OpIn:
			placeholders := make([]string, len(c.Args))
			for i, a := range c.Args {
				placeholders[i] = "?"
				args = append(args, a)
			}
			parts = append(parts, fmt.Sprintf("%s IN (%s)", col, strings.Join(placeholders, ", ")))
		case filterpred.OpGTE:
			parts = append(parts, fmt.Sprintf("%s >= ?", col))
			args = append(args, c.Args[0])
		case filterpred.OpLTE:
			parts = append(parts, fmt.Sprintf("%s <= ?", col))
			args = append(args, c.Args[0])
		case filterpred.OpContains:
			parts = append(parts, fmt.Sprintf("LOWER(%s) LIKE '%%' || LOWER(?) || '%%'", col))
			args = append(args, c.Args[0])
		}
	}

	if p.DeviceExists != nil {
		inner := compilePredicate("d", *p.DeviceExists)
		existsSQL := fmt.Sprintf(
			"EXISTS (SELECT 1 FROM devices d WHERE d.mdr_report_key = %s.mdr_report_key AND %s)",
			alias, inner.Clause,
		)
		parts = append(parts, existsSQL)
		args = append(args, inner.Args...)
	}

	if len(parts) == 0 {
		return compiledWhere{Clause: "1=1"}
	}
	return compiledWhere{Clause: strings.Join(parts, " AND "), Args: args}
}

// entityExpressionSQL renders the group-rewrite CASE WHEN for expr's
// column, in the teacher's Target/Others CASE WHEN style
// (analysis/analyzer.go's queryGlassLevel).
// EntityExpressionSQL is exported for the aggregate package.
func EntityExpressionSQL(alias string, expr filterpred.EntityExpression) (string, []any) {
	return entityExpressionSQL(alias, expr)
}

func entityExpressionSQL(alias string, expr filterpred.EntityExpression) (string, []any) {
	col := alias + "." + expr.Column
	if len(expr.Cases) == 0 {
		return col, nil
	}
	var b strings.Builder
	var args []any
	b.WriteString("CASE ")
	for _, c := range expr.Cases {
		placeholders := make([]string, 0, len(c.Members))
		for m := range c.Members {
			placeholders = append(placeholders, "?")
			args = append(args, m)
		}
		fmt.Fprintf(&b, "WHEN LOWER(%s) IN (%s) THEN ? ", col, strings.Join(placeholders, ", "))
		args = append(args, c.DisplayName)
	}
	fmt.Fprintf(&b, "ELSE %s END", col)
	return b.String(), args
}
