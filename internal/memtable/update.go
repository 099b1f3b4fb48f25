package memtable

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type actionKind int

const (
	actSet actionKind = iota
	actRemove
	actAdd
	actDelete
)

type action struct {
	kind actionKind
	p    path
	val  setValue
}

// setValue is the right-hand side of a SET action.
type setValue interface {
	compute(old map[string]AV) (AV, error)
}

type operandValue struct{ o operand }

func (v operandValue) compute(old map[string]AV) (AV, error) {
	av, ok := v.o.resolve(old)
	if !ok {
		return nil, fmt.Errorf("attribute in update expression does not exist")
	}
	return av, nil
}

type arithValue struct {
	op          string
	left, right setValue
}

func (v arithValue) compute(old map[string]AV) (AV, error) {
	l, err := v.left.compute(old)
	if err != nil {
		return nil, err
	}
	r, err := v.right.compute(old)
	if err != nil {
		return nil, err
	}
	ln, lok := l.(*types.AttributeValueMemberN)
	rn, rok := r.(*types.AttributeValueMemberN)
	if !lok || !rok {
		return nil, fmt.Errorf("incorrect operand type for operator %s", v.op)
	}
	a, err := parseNumber(ln.Value)
	if err != nil {
		return nil, err
	}
	b, err := parseNumber(rn.Value)
	if err != nil {
		return nil, err
	}
	if v.op == "+" {
		a.Add(a, b)
	} else {
		a.Sub(a, b)
	}
	return &types.AttributeValueMemberN{Value: formatNumber(a)}, nil
}

type ifNotExistsValue struct {
	p        path
	fallback setValue
}

func (v ifNotExistsValue) compute(old map[string]AV) (AV, error) {
	if cur, ok := v.p.get(old); ok {
		return cur, nil
	}
	return v.fallback.compute(old)
}

type listAppendValue struct{ a, b setValue }

func (v listAppendValue) compute(old map[string]AV) (AV, error) {
	a, err := v.a.compute(old)
	if err != nil {
		return nil, err
	}
	b, err := v.b.compute(old)
	if err != nil {
		return nil, err
	}
	la, aok := a.(*types.AttributeValueMemberL)
	lb, bok := b.(*types.AttributeValueMemberL)
	if !aok || !bok {
		return nil, fmt.Errorf("list_append requires two lists")
	}
	out := make([]AV, 0, len(la.Value)+len(lb.Value))
	for _, e := range la.Value {
		out = append(out, copyValue(e))
	}
	for _, e := range lb.Value {
		out = append(out, copyValue(e))
	}
	return &types.AttributeValueMemberL{Value: out}, nil
}

func parseUpdate(expr string, names map[string]string, values map[string]AV) ([]action, error) {
	p, err := newParser(expr, names, values)
	if err != nil {
		return nil, err
	}
	var actions []action
	for p.peek().kind != tEOF {
		var kind actionKind
		switch {
		case p.keyword("SET"):
			kind = actSet
		case p.keyword("REMOVE"):
			kind = actRemove
		case p.keyword("ADD"):
			kind = actAdd
		case p.keyword("DELETE"):
			kind = actDelete
		default:
			return nil, fmt.Errorf("expected SET, REMOVE, ADD or DELETE, found %q", p.peek().text)
		}
		for {
			a, err := p.parseAction(kind)
			if err != nil {
				return nil, err
			}
			actions = append(actions, a)
			if !p.accept(tComma) {
				break
			}
		}
	}
	if len(actions) == 0 {
		return nil, fmt.Errorf("empty update expression")
	}
	return actions, nil
}

func (p *parser) parseAction(kind actionKind) (action, error) {
	pth, err := p.parsePath()
	if err != nil {
		return action{}, err
	}
	a := action{kind: kind, p: pth}
	switch kind {
	case actSet:
		if t := p.next(); t.kind != tOp || t.text != "=" {
			return action{}, fmt.Errorf("expected '=' in SET action, found %q", t.text)
		}
		if a.val, err = p.parseSetValue(); err != nil {
			return action{}, err
		}
	case actAdd, actDelete:
		v, err := p.parseValueRef()
		if err != nil {
			return action{}, err
		}
		a.val = operandValue{valueOperand{v}}
	}
	return a, nil
}

func (p *parser) parseSetValue() (setValue, error) {
	left, err := p.parseSetOperand()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind == tOp && (t.text == "+" || t.text == "-") {
		p.next()
		right, err := p.parseSetOperand()
		if err != nil {
			return nil, err
		}
		return arithValue{op: t.text, left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parseSetOperand() (setValue, error) {
	t := p.peek()
	if t.kind == tIdent && p.peekAt(1).kind == tLParen {
		switch strings.ToLower(t.text) {
		case "if_not_exists":
			p.next()
			p.next()
			pth, err := p.parsePath()
			if err != nil {
				return nil, err
			}
			if err := p.expect(tComma, "','"); err != nil {
				return nil, err
			}
			fallback, err := p.parseSetValue()
			if err != nil {
				return nil, err
			}
			if err := p.expect(tRParen, "')'"); err != nil {
				return nil, err
			}
			return ifNotExistsValue{p: pth, fallback: fallback}, nil
		case "list_append":
			p.next()
			p.next()
			a, err := p.parseSetValue()
			if err != nil {
				return nil, err
			}
			if err := p.expect(tComma, "','"); err != nil {
				return nil, err
			}
			b, err := p.parseSetValue()
			if err != nil {
				return nil, err
			}
			if err := p.expect(tRParen, "')'"); err != nil {
				return nil, err
			}
			return listAppendValue{a: a, b: b}, nil
		}
	}
	if p.accept(tLParen) {
		v, err := p.parseSetValue()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tRParen, "')'"); err != nil {
			return nil, err
		}
		return v, nil
	}
	o, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return operandValue{o}, nil
}

// applyUpdate runs actions against a copy of old and returns the new item
// together with the top-level attributes the update touched.
func applyUpdate(old map[string]AV, actions []action) (map[string]AV, []string, error) {
	item := copyItem(old)
	if item == nil {
		item = map[string]AV{}
	}
	touched := map[string]bool{}
	for _, a := range actions {
		touched[a.p[0].name] = true
		switch a.kind {
		case actSet:
			v, err := a.val.compute(old)
			if err != nil {
				return nil, nil, err
			}
			if err := a.p.set(item, copyValue(v)); err != nil {
				return nil, nil, err
			}
		case actRemove:
			a.p.remove(item)
		case actAdd:
			v, _ := a.val.compute(old)
			cur, ok := a.p.get(item)
			if !ok {
				if err := a.p.set(item, copyValue(v)); err != nil {
					return nil, nil, err
				}
				continue
			}
			sum, err := addValues(cur, v)
			if err != nil {
				return nil, nil, err
			}
			if err := a.p.set(item, sum); err != nil {
				return nil, nil, err
			}
		case actDelete:
			v, _ := a.val.compute(old)
			cur, ok := a.p.get(item)
			if !ok {
				continue
			}
			rest, empty, err := deleteFromSet(cur, v)
			if err != nil {
				return nil, nil, err
			}
			if empty {
				a.p.remove(item)
			} else if err := a.p.set(item, rest); err != nil {
				return nil, nil, err
			}
		}
	}
	names := make([]string, 0, len(touched))
	for n := range touched {
		names = append(names, n)
	}
	return item, names, nil
}

func addValues(cur, delta AV) (AV, error) {
	switch c := cur.(type) {
	case *types.AttributeValueMemberN:
		d, ok := delta.(*types.AttributeValueMemberN)
		if !ok {
			return nil, fmt.Errorf("ADD operand type mismatch")
		}
		a, err := parseNumber(c.Value)
		if err != nil {
			return nil, err
		}
		b, err := parseNumber(d.Value)
		if err != nil {
			return nil, err
		}
		return &types.AttributeValueMemberN{Value: formatNumber(a.Add(a, b))}, nil
	case *types.AttributeValueMemberSS:
		d, ok := delta.(*types.AttributeValueMemberSS)
		if !ok {
			return nil, fmt.Errorf("ADD operand type mismatch")
		}
		return &types.AttributeValueMemberSS{Value: union(c.Value, d.Value)}, nil
	case *types.AttributeValueMemberNS:
		d, ok := delta.(*types.AttributeValueMemberNS)
		if !ok {
			return nil, fmt.Errorf("ADD operand type mismatch")
		}
		return &types.AttributeValueMemberNS{Value: union(c.Value, d.Value)}, nil
	}
	return nil, fmt.Errorf("ADD is not supported for %s attributes", typeName(cur))
}

func deleteFromSet(cur, del AV) (AV, bool, error) {
	switch c := cur.(type) {
	case *types.AttributeValueMemberSS:
		d, ok := del.(*types.AttributeValueMemberSS)
		if !ok {
			return nil, false, fmt.Errorf("DELETE operand type mismatch")
		}
		rest := difference(c.Value, d.Value)
		return &types.AttributeValueMemberSS{Value: rest}, len(rest) == 0, nil
	case *types.AttributeValueMemberNS:
		d, ok := del.(*types.AttributeValueMemberNS)
		if !ok {
			return nil, false, fmt.Errorf("DELETE operand type mismatch")
		}
		rest := difference(c.Value, d.Value)
		return &types.AttributeValueMemberNS{Value: rest}, len(rest) == 0, nil
	}
	return nil, false, fmt.Errorf("DELETE is not supported for %s attributes", typeName(cur))
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := append([]string(nil), a...)
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func difference(a, b []string) []string {
	drop := make(map[string]bool, len(b))
	for _, s := range b {
		drop[s] = true
	}
	var out []string
	for _, s := range a {
		if !drop[s] {
			out = append(out, s)
		}
	}
	return out
}
