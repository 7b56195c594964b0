package expr

import (
	"fmt"
	"strings"
)

// SQLRenderer renders expressions over column paths into
// SQL condition text with placeholders.
type SQLRenderer struct {
	// Placeholder returns the placeholder for the n-th (1-based) argument.
	Placeholder func(n int) string
	// Quote quotes an identifier.
	Quote func(name string) string
}

// Render renders the expression. Arguments are numbered
// starting after offset.
func (r *SQLRenderer) Render(e *Expression, offset int) (string, []any, error) {
	var args []any
	s, err := r.render(e, offset, &args)
	return s, args, err
}

func (r *SQLRenderer) render(e *Expression, offset int, args *[]any) (string, error) {
	if e == nil {
		return "1=1", nil
	}
	arg := func(v any) string {
		*args = append(*args, v)
		return r.Placeholder(offset + len(*args))
	}
	switch e.Op {
	case OpAnd, OpOr:
		var parts []string
		for _, o := range e.Operands {
			s, err := r.render(o, offset, args)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return "(" + strings.Join(parts, " "+strings.ToUpper(string(e.Op))+" ") + ")", nil
	case OpNot:
		s, err := r.render(e.Operands[0], offset, args)
		if err != nil {
			return "", err
		}
		return "NOT (" + s + ")", nil
	case OpNull:
		return r.Quote(e.Path) + " IS NULL", nil
	case OpIn:
		if len(e.Values) == 0 {
			return "1=0", nil
		}
		var ph []string
		for _, v := range e.Values {
			ph = append(ph, arg(v))
		}
		return r.Quote(e.Path) + " IN (" + strings.Join(ph, ", ") + ")", nil
	}
	var op string
	switch e.Op {
	case OpEq:
		op = "="
	case OpNe:
		op = "<>"
	case OpLt:
		op = "<"
	case OpLe:
		op = "<="
	case OpGt:
		op = ">"
	case OpGe:
		op = ">="
	default:
		return "", fmt.Errorf("unknown operator %q", e.Op)
	}
	return r.Quote(e.Path) + " " + op + " " + arg(e.Value), nil
}
