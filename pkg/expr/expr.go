package expr

import (
	"fmt"
	"strings"
	"time"

	"github.com/mandelsoft/goutils/maputils"

	"github.com/mandelsoft/objectgraph/pkg/utils"
)

type Operator string

const (
	OpEq   Operator = "eq"
	OpNe   Operator = "ne"
	OpLt   Operator = "lt"
	OpLe   Operator = "le"
	OpGt   Operator = "gt"
	OpGe   Operator = "ge"
	OpIn   Operator = "in"
	OpNull Operator = "null"
	OpAnd  Operator = "and"
	OpOr   Operator = "or"
	OpNot  Operator = "not"
)

// Expression is a qualifier over named paths. Depending on the layer
// paths are property names or column names.
// A nil expression matches everything.
type Expression struct {
	Op       Operator      `json:"op"`
	Path     string        `json:"path,omitempty"`
	Value    any           `json:"value,omitempty"`
	Values   []any         `json:"values,omitempty"`
	Operands []*Expression `json:"operands,omitempty"`
}

func compare(op Operator, path string, v any) *Expression {
	return &Expression{Op: op, Path: path, Value: utils.NormalizeValue(v)}
}

func Eq(path string, v any) *Expression { return compare(OpEq, path, v) }
func Ne(path string, v any) *Expression { return compare(OpNe, path, v) }
func Lt(path string, v any) *Expression { return compare(OpLt, path, v) }
func Le(path string, v any) *Expression { return compare(OpLe, path, v) }
func Gt(path string, v any) *Expression { return compare(OpGt, path, v) }
func Ge(path string, v any) *Expression { return compare(OpGe, path, v) }

func In(path string, values ...any) *Expression {
	var list []any
	for _, v := range values {
		list = append(list, utils.NormalizeValue(v))
	}
	return &Expression{Op: OpIn, Path: path, Values: list}
}

func IsNull(path string) *Expression {
	return &Expression{Op: OpNull, Path: path}
}

// And combines expressions, nil operands are ignored.
func And(ops ...*Expression) *Expression {
	return junction(OpAnd, ops)
}

// Or combines expressions, nil operands are ignored.
func Or(ops ...*Expression) *Expression {
	return junction(OpOr, ops)
}

func Not(e *Expression) *Expression {
	return &Expression{Op: OpNot, Operands: []*Expression{e}}
}

func junction(op Operator, ops []*Expression) *Expression {
	var list []*Expression
	for _, o := range ops {
		if o != nil {
			list = append(list, o)
		}
	}
	switch len(list) {
	case 0:
		return nil
	case 1:
		return list[0]
	}
	return &Expression{Op: op, Operands: list}
}

// MatchValues provides a conjunction of equality checks for
// the given path values. Nil values are matched with IsNull.
func MatchValues(values map[string]any) *Expression {
	var ops []*Expression
	for _, k := range maputils.OrderedKeys(values) {
		if utils.IsNil(values[k]) {
			ops = append(ops, IsNull(k))
		} else {
			ops = append(ops, Eq(k, values[k]))
		}
	}
	return And(ops...)
}

func (e *Expression) String() string {
	if e == nil {
		return "true"
	}
	switch e.Op {
	case OpAnd, OpOr:
		var parts []string
		for _, o := range e.Operands {
			parts = append(parts, o.String())
		}
		return "(" + strings.Join(parts, " "+string(e.Op)+" ") + ")"
	case OpNot:
		return "not " + e.Operands[0].String()
	case OpNull:
		return e.Path + " is null"
	case OpIn:
		return fmt.Sprintf("%s in %v", e.Path, e.Values)
	}
	return fmt.Sprintf("%s %s %v", e.Path, e.Op, e.Value)
}

// Normalize maps all values to the normalized value domain,
// for example after decoding an expression from JSON.
func Normalize(e *Expression) *Expression {
	if e == nil {
		return nil
	}
	r := *e
	r.Value = utils.NormalizeValue(e.Value)
	r.Values = nil
	for _, v := range e.Values {
		r.Values = append(r.Values, utils.NormalizeValue(v))
	}
	r.Operands = nil
	for _, o := range e.Operands {
		r.Operands = append(r.Operands, Normalize(o))
	}
	return &r
}

// Paths returns all paths used by the expression.
func (e *Expression) Paths() []string {
	if e == nil {
		return nil
	}
	if e.Path != "" {
		return []string{e.Path}
	}
	var r []string
	for _, o := range e.Operands {
		r = append(r, o.Paths()...)
	}
	return r
}

// Transform maps all paths of an expression.
func Transform(e *Expression, mapping func(path string) (string, error)) (*Expression, error) {
	if e == nil {
		return nil, nil
	}
	r := *e
	if e.Path != "" {
		p, err := mapping(e.Path)
		if err != nil {
			return nil, err
		}
		r.Path = p
	}
	r.Operands = nil
	for _, o := range e.Operands {
		t, err := Transform(o, mapping)
		if err != nil {
			return nil, err
		}
		r.Operands = append(r.Operands, t)
	}
	return &r, nil
}

// Evaluate checks the expression against a row of path values.
// Comparisons involving null values never match.
func Evaluate(e *Expression, row map[string]any) (bool, error) {
	if e == nil {
		return true, nil
	}
	switch e.Op {
	case OpAnd:
		for _, o := range e.Operands {
			ok, err := Evaluate(o, row)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case OpOr:
		for _, o := range e.Operands {
			ok, err := Evaluate(o, row)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	case OpNot:
		if len(e.Operands) != 1 {
			return false, fmt.Errorf("not requires one operand")
		}
		ok, err := Evaluate(e.Operands[0], row)
		return !ok, err
	case OpNull:
		return utils.IsNil(row[e.Path]), nil
	case OpIn:
		v := row[e.Path]
		if utils.IsNil(v) {
			return false, nil
		}
		for _, c := range e.Values {
			if utils.EqualValues(v, c) {
				return true, nil
			}
		}
		return false, nil
	}

	v := row[e.Path]
	if utils.IsNil(v) || utils.IsNil(e.Value) {
		return false, nil
	}
	switch e.Op {
	case OpEq:
		return utils.EqualValues(v, e.Value), nil
	case OpNe:
		return !utils.EqualValues(v, e.Value), nil
	}
	c, err := Compare(v, e.Value)
	if err != nil {
		return false, err
	}
	switch e.Op {
	case OpLt:
		return c < 0, nil
	case OpLe:
		return c <= 0, nil
	case OpGt:
		return c > 0, nil
	case OpGe:
		return c >= 0, nil
	}
	return false, fmt.Errorf("unknown operator %q", e.Op)
}

// Compare orders two non-null values of compatible types.
func Compare(a, b any) (int, error) {
	a = utils.NormalizeValue(a)
	b = utils.NormalizeValue(b)
	switch ta := a.(type) {
	case int64:
		switch tb := b.(type) {
		case int64:
			return cmp(ta, tb), nil
		case float64:
			return cmp(float64(ta), tb), nil
		}
	case float64:
		switch tb := b.(type) {
		case int64:
			return cmp(ta, float64(tb)), nil
		case float64:
			return cmp(ta, tb), nil
		}
	case string:
		if tb, ok := b.(string); ok {
			return strings.Compare(ta, tb), nil
		}
	case time.Time:
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb), nil
		}
	case bool:
		if tb, ok := b.(bool); ok {
			switch {
			case ta == tb:
				return 0, nil
			case !ta:
				return -1, nil
			default:
				return 1, nil
			}
		}
	}
	return 0, fmt.Errorf("cannot compare %T with %T", a, b)
}

func cmp[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
