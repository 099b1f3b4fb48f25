package memtable

import (
	"fmt"
	"strconv"
	"strings"
)

type tokKind int

const (
	tEOF tokKind = iota
	tIdent
	tName
	tValue
	tNumber
	tOp
	tLParen
	tRParen
	tComma
	tDot
	tLBrack
	tRBrack
)

type token struct {
	kind tokKind
	text string
}

func isIdentChar(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// lex splits a DynamoDB expression into tokens.
func lex(s string) ([]token, error) {
	var toks []token
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{tLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tRParen, ")"})
			i++
		case c == ',':
			toks = append(toks, token{tComma, ","})
			i++
		case c == '.':
			toks = append(toks, token{tDot, "."})
			i++
		case c == '[':
			toks = append(toks, token{tLBrack, "["})
			i++
		case c == ']':
			toks = append(toks, token{tRBrack, "]"})
			i++
		case c == '=' || c == '+' || c == '-':
			toks = append(toks, token{tOp, string(c)})
			i++
		case c == '<' || c == '>':
			op := string(c)
			if i+1 < len(s) && (s[i+1] == '=' || c == '<' && s[i+1] == '>') {
				op += string(s[i+1])
			}
			toks = append(toks, token{tOp, op})
			i += len(op)
		case c == '#' || c == ':':
			j := i + 1
			for j < len(s) && isIdentChar(s[j]) {
				j++
			}
			if j == i+1 {
				return nil, fmt.Errorf("empty placeholder at offset %d", i)
			}
			kind := tName
			if c == ':' {
				kind = tValue
			}
			toks = append(toks, token{kind, s[i:j]})
			i = j
		case c >= '0' && c <= '9':
			j := i
			for j < len(s) && s[j] >= '0' && s[j] <= '9' {
				j++
			}
			toks = append(toks, token{tNumber, s[i:j]})
			i = j
		case isIdentChar(c):
			j := i
			for j < len(s) && isIdentChar(s[j]) {
				j++
			}
			toks = append(toks, token{tIdent, s[i:j]})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at offset %d", c, i)
		}
	}
	return append(toks, token{kind: tEOF}), nil
}

type parser struct {
	toks   []token
	pos    int
	names  map[string]string
	values map[string]AV
}

func newParser(expr string, names map[string]string, values map[string]AV) (*parser, error) {
	toks, err := lex(expr)
	if err != nil {
		return nil, err
	}
	return &parser{toks: toks, names: names, values: values}, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) peekAt(n int) token {
	if p.pos+n >= len(p.toks) {
		return token{kind: tEOF}
	}
	return p.toks[p.pos+n]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tEOF {
		p.pos++
	}
	return t
}

func (p *parser) accept(kind tokKind) bool {
	if p.peek().kind == kind {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(kind tokKind, what string) error {
	if !p.accept(kind) {
		return fmt.Errorf("expected %s, found %q", what, p.peek().text)
	}
	return nil
}

func (p *parser) keyword(k string) bool {
	t := p.peek()
	if t.kind == tIdent && strings.EqualFold(t.text, k) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) done() error {
	if p.peek().kind != tEOF {
		return fmt.Errorf("unexpected %q", p.peek().text)
	}
	return nil
}

func (p *parser) parsePath() (path, error) {
	var pth path
	first := p.next()
	switch first.kind {
	case tName:
		n, ok := p.names[first.text]
		if !ok {
			return nil, fmt.Errorf("undefined attribute name %s", first.text)
		}
		pth = append(pth, pathElem{name: n})
	case tIdent:
		pth = append(pth, pathElem{name: first.text})
	default:
		return nil, fmt.Errorf("expected attribute path, found %q", first.text)
	}
	for {
		switch {
		case p.accept(tDot):
			t := p.next()
			switch t.kind {
			case tName:
				n, ok := p.names[t.text]
				if !ok {
					return nil, fmt.Errorf("undefined attribute name %s", t.text)
				}
				pth = append(pth, pathElem{name: n})
			case tIdent:
				pth = append(pth, pathElem{name: t.text})
			default:
				return nil, fmt.Errorf("expected attribute name after '.', found %q", t.text)
			}
		case p.accept(tLBrack):
			t := p.next()
			if t.kind != tNumber {
				return nil, fmt.Errorf("expected list index, found %q", t.text)
			}
			idx, err := strconv.Atoi(t.text)
			if err != nil {
				return nil, fmt.Errorf("bad list index %q", t.text)
			}
			if err := p.expect(tRBrack, "']'"); err != nil {
				return nil, err
			}
			pth = append(pth, pathElem{index: idx, isIndex: true})
		default:
			return pth, nil
		}
	}
}

func (p *parser) parseValueRef() (AV, error) {
	t := p.next()
	if t.kind != tValue {
		return nil, fmt.Errorf("expected value placeholder, found %q", t.text)
	}
	v, ok := p.values[t.text]
	if !ok {
		return nil, fmt.Errorf("undefined attribute value %s", t.text)
	}
	return v, nil
}
