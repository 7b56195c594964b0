package expr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Parse parses the textual form of a qualifier:
//
//	price >= 100 and (title = 'Sunflowers' or not artist.name = null)
//	title in ('A', 'B') and gallery is not null
//
// Keywords are case-insensitive. An empty text provides nil,
// which matches everything.
func Parse(in string) (*Expression, error) {
	p := newParser(in)
	if p.skipBlanks() == 0 {
		return nil, nil
	}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.skipBlanks() != 0 {
		return nil, p.errorf("unexpected character %q", string(p.current))
	}
	return e, nil
}

type parser struct {
	in      []byte
	offset  int
	no      int
	current rune
}

func newParser(in string) *parser {
	p := &parser{
		in: []byte(in),
	}
	p.next()
	return p
}

func (p *parser) next() rune {
	if p.offset >= len(p.in) {
		p.current = 0
		return 0
	}
	r, size := utf8.DecodeRune(p.in[p.offset:])
	p.current = r
	if r == utf8.RuneError {
		return r
	}
	p.offset += size
	p.no++
	return r
}

func (p *parser) consume(r rune) error {
	if p.skipBlanks() != r {
		return p.errorf("%q expected", string(r))
	}
	p.next()
	return nil
}

func (p *parser) skipBlanks() rune {
	n := p.current
	for unicode.IsSpace(n) {
		n = p.next()
	}
	return n
}

func (p *parser) errorf(msg string, args ...interface{}) error {
	return fmt.Errorf("%q %d: %s", string(p.in), p.no, fmt.Sprintf(msg, args...))
}

// keyword checks for and consumes a keyword.
func (p *parser) keyword(k string) bool {
	p.skipBlanks()
	start := p.offset - utf8.RuneLen(p.current)
	if p.current == 0 || start < 0 || start+len(k) > len(p.in) {
		return false
	}
	if !strings.EqualFold(string(p.in[start:start+len(k)]), k) {
		return false
	}
	if end := start + len(k); end < len(p.in) {
		r, _ := utf8.DecodeRune(p.in[end:])
		if isNameRune(r) {
			return false
		}
	}
	for range k {
		p.next()
	}
	return true
}

func isNameRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.'
}

func (p *parser) parseOr() (*Expression, error) {
	e, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	ops := []*Expression{e}
	for p.keyword("or") {
		e, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		ops = append(ops, e)
	}
	return Or(ops...), nil
}

func (p *parser) parseAnd() (*Expression, error) {
	e, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	ops := []*Expression{e}
	for p.keyword("and") {
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		ops = append(ops, e)
	}
	return And(ops...), nil
}

func (p *parser) parseUnary() (*Expression, error) {
	if p.keyword("not") {
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Not(e), nil
	}
	if p.skipBlanks() == '(' {
		p.next()
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		return e, p.consume(')')
	}
	return p.parseComparison()
}

func (p *parser) parsePath() (string, error) {
	n := p.skipBlanks()
	if !unicode.IsLetter(n) {
		return "", p.errorf("path must start with letter, but found %q", string(n))
	}
	path := ""
	for isNameRune(n) {
		path += string(n)
		n = p.next()
	}
	return path, nil
}

func (p *parser) parseComparison() (*Expression, error) {
	path, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	if p.keyword("is") {
		not := p.keyword("not")
		if !p.keyword("null") {
			return nil, p.errorf("null expected")
		}
		if not {
			return Not(IsNull(path)), nil
		}
		return IsNull(path), nil
	}
	if p.keyword("in") {
		values, err := p.parseList()
		if err != nil {
			return nil, err
		}
		return In(path, values...), nil
	}
	op, err := p.parseOperator()
	if err != nil {
		return nil, err
	}
	v, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	if v == nil {
		switch op {
		case OpEq:
			return IsNull(path), nil
		case OpNe:
			return Not(IsNull(path)), nil
		}
		return nil, p.errorf("null not possible for %s", op)
	}
	return compare(op, path, v), nil
}

func (p *parser) parseOperator() (Operator, error) {
	n := p.skipBlanks()
	switch n {
	case '=':
		p.next()
		return OpEq, nil
	case '!':
		if p.next() != '=' {
			return "", p.errorf("!= expected")
		}
		p.next()
		return OpNe, nil
	case '<', '>':
		op := map[rune]Operator{'<': OpLt, '>': OpGt}[n]
		switch p.next() {
		case '=':
			p.next()
			return map[rune]Operator{'<': OpLe, '>': OpGe}[n], nil
		case '>':
			if n == '<' {
				p.next()
				return OpNe, nil
			}
		}
		return op, nil
	}
	return "", p.errorf("comparison operator expected, but found %q", string(n))
}

func (p *parser) parseList() ([]any, error) {
	if err := p.consume('('); err != nil {
		return nil, err
	}
	var values []any
	for {
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		if p.skipBlanks() != ',' {
			break
		}
		p.next()
	}
	return values, p.consume(')')
}

func (p *parser) parseValue() (any, error) {
	n := p.skipBlanks()
	switch {
	case n == '\'' || n == '"':
		return p.parseString(n)
	case unicode.IsDigit(n) || n == '-':
		return p.parseNumber()
	case p.keyword("null"):
		return nil, nil
	case p.keyword("true"):
		return true, nil
	case p.keyword("false"):
		return false, nil
	}
	return nil, p.errorf("unexpected character %q for value", string(n))
}

func (p *parser) parseString(quote rune) (string, error) {
	var b strings.Builder
	n := p.next()
	for {
		switch n {
		case 0:
			return "", p.errorf("unterminated string")
		case '\\':
			n = p.next()
		case quote:
			p.next()
			return b.String(), nil
		}
		b.WriteRune(n)
		n = p.next()
	}
}

func (p *parser) parseNumber() (any, error) {
	var b strings.Builder
	n := p.current
	if n == '-' {
		b.WriteRune(n)
		n = p.next()
	}
	if !unicode.IsDigit(n) {
		return nil, p.errorf("number must be a sequence of digits, but found %q", string(n))
	}
	float := false
	for unicode.IsDigit(n) || (n == '.' && !float) {
		float = float || n == '.'
		b.WriteRune(n)
		n = p.next()
	}
	if float {
		return strconv.ParseFloat(b.String(), 64)
	}
	return strconv.ParseInt(b.String(), 10, 64)
}
