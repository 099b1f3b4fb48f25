package memtable

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// condition is a parsed condition, filter or key condition expression.
type condition interface {
	eval(item map[string]AV) bool
}

// operand yields a value from an item; ok is false when the path is absent.
type operand interface {
	resolve(item map[string]AV) (AV, bool)
}

type pathOperand struct{ p path }

func (o pathOperand) resolve(item map[string]AV) (AV, bool) { return o.p.get(item) }

type valueOperand struct{ v AV }

func (o valueOperand) resolve(map[string]AV) (AV, bool) { return o.v, true }

type sizeOperand struct{ p path }

func (o sizeOperand) resolve(item map[string]AV) (AV, bool) {
	v, ok := o.p.get(item)
	if !ok {
		return nil, false
	}
	n, ok := size(v)
	if !ok {
		return nil, false
	}
	return &types.AttributeValueMemberN{Value: fmt.Sprint(n)}, true
}

type andCond struct{ left, right condition }

func (c andCond) eval(item map[string]AV) bool { return c.left.eval(item) && c.right.eval(item) }

type orCond struct{ left, right condition }

func (c orCond) eval(item map[string]AV) bool { return c.left.eval(item) || c.right.eval(item) }

type notCond struct{ inner condition }

func (c notCond) eval(item map[string]AV) bool { return !c.inner.eval(item) }

type compareCond struct {
	op          string
	left, right operand
}

func (c compareCond) eval(item map[string]AV) bool {
	l, lok := c.left.resolve(item)
	r, rok := c.right.resolve(item)
	if !lok || !rok {
		return false
	}
	switch c.op {
	case "=":
		return equal(l, r)
	case "<>":
		return !equal(l, r)
	}
	cmp, ok := compare(l, r)
	if !ok {
		return false
	}
	switch c.op {
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	default:
		return cmp >= 0
	}
}

type betweenCond struct{ v, lo, hi operand }

func (c betweenCond) eval(item map[string]AV) bool {
	v, ok1 := c.v.resolve(item)
	lo, ok2 := c.lo.resolve(item)
	hi, ok3 := c.hi.resolve(item)
	if !ok1 || !ok2 || !ok3 {
		return false
	}
	a, okA := compare(v, lo)
	b, okB := compare(v, hi)
	return okA && okB && a >= 0 && b <= 0
}

type inCond struct {
	v    operand
	list []operand
}

func (c inCond) eval(item map[string]AV) bool {
	v, ok := c.v.resolve(item)
	if !ok {
		return false
	}
	for _, o := range c.list {
		if w, ok := o.resolve(item); ok && equal(v, w) {
			return true
		}
	}
	return false
}

type existsCond struct {
	p      path
	exists bool
}

func (c existsCond) eval(item map[string]AV) bool {
	_, ok := c.p.get(item)
	return ok == c.exists
}

type typeCond struct {
	p path
	t operand
}

func (c typeCond) eval(item map[string]AV) bool {
	v, ok := c.p.get(item)
	if !ok {
		return false
	}
	t, ok := c.t.resolve(item)
	s, isS := t.(*types.AttributeValueMemberS)
	return ok && isS && s.Value == typeName(v)
}

type beginsWithCond struct {
	p      path
	prefix operand
}

func (c beginsWithCond) eval(item map[string]AV) bool {
	v, ok := c.p.get(item)
	if !ok {
		return false
	}
	pre, ok := c.prefix.resolve(item)
	if !ok {
		return false
	}
	switch x := v.(type) {
	case *types.AttributeValueMemberS:
		y, ok := pre.(*types.AttributeValueMemberS)
		return ok && strings.HasPrefix(x.Value, y.Value)
	case *types.AttributeValueMemberB:
		y, ok := pre.(*types.AttributeValueMemberB)
		return ok && strings.HasPrefix(string(x.Value), string(y.Value))
	}
	return false
}

type containsCond struct {
	p      path
	needle operand
}

func (c containsCond) eval(item map[string]AV) bool {
	v, ok := c.p.get(item)
	if !ok {
		return false
	}
	n, ok := c.needle.resolve(item)
	return ok && contains(v, n)
}

// parseCondition parses a condition, filter or key condition expression.
func parseCondition(expr string, names map[string]string, values map[string]AV) (condition, error) {
	p, err := newParser(expr, names, values)
	if err != nil {
		return nil, err
	}
	c, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if err := p.done(); err != nil {
		return nil, err
	}
	return c, nil
}

func (p *parser) parseOr() (condition, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.keyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orCond{left, right}
	}
	return left, nil
}

func (p *parser) parseAnd() (condition, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.keyword("AND") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = andCond{left, right}
	}
	return left, nil
}

func (p *parser) parseNot() (condition, error) {
	if p.keyword("NOT") {
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return notCond{inner}, nil
	}
	return p.parsePrimary()
}

var conditionFuncs = map[string]bool{
	"attribute_exists":     true,
	"attribute_not_exists": true,
	"attribute_type":       true,
	"begins_with":          true,
	"contains":             true,
}

func (p *parser) parsePrimary() (condition, error) {
	if p.accept(tLParen) {
		c, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tRParen, "')'"); err != nil {
			return nil, err
		}
		return c, nil
	}

	t := p.peek()
	if t.kind == tIdent && p.peekAt(1).kind == tLParen && conditionFuncs[strings.ToLower(t.text)] {
		return p.parseFunction()
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	switch {
	case p.peek().kind == tOp:
		op := p.next().text
		switch op {
		case "=", "<>", "<", "<=", ">", ">=":
		default:
			return nil, fmt.Errorf("unexpected operator %q in condition", op)
		}
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return compareCond{op: op, left: left, right: right}, nil
	case p.keyword("BETWEEN"):
		lo, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		if !p.keyword("AND") {
			return nil, fmt.Errorf("expected AND in BETWEEN")
		}
		hi, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return betweenCond{v: left, lo: lo, hi: hi}, nil
	case p.keyword("IN"):
		if err := p.expect(tLParen, "'('"); err != nil {
			return nil, err
		}
		var list []operand
		for {
			o, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			list = append(list, o)
			if !p.accept(tComma) {
				break
			}
		}
		if err := p.expect(tRParen, "')'"); err != nil {
			return nil, err
		}
		return inCond{v: left, list: list}, nil
	}
	return nil, fmt.Errorf("expected comparison, found %q", p.peek().text)
}

func (p *parser) parseFunction() (condition, error) {
	fn := strings.ToLower(p.next().text)
	p.next() // (
	pth, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	var c condition
	switch fn {
	case "attribute_exists", "attribute_not_exists":
		c = existsCond{p: pth, exists: fn == "attribute_exists"}
	default:
		if err := p.expect(tComma, "','"); err != nil {
			return nil, err
		}
		arg, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		switch fn {
		case "attribute_type":
			c = typeCond{p: pth, t: arg}
		case "begins_with":
			c = beginsWithCond{p: pth, prefix: arg}
		default:
			c = containsCond{p: pth, needle: arg}
		}
	}
	if err := p.expect(tRParen, "')'"); err != nil {
		return nil, err
	}
	return c, nil
}

func (p *parser) parseOperand() (operand, error) {
	t := p.peek()
	if t.kind == tValue {
		v, err := p.parseValueRef()
		if err != nil {
			return nil, err
		}
		return valueOperand{v}, nil
	}
	if t.kind == tIdent && strings.EqualFold(t.text, "size") && p.peekAt(1).kind == tLParen {
		p.next()
		p.next()
		pth, err := p.parsePath()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tRParen, "')'"); err != nil {
			return nil, err
		}
		return sizeOperand{pth}, nil
	}
	pth, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	return pathOperand{pth}, nil
}
