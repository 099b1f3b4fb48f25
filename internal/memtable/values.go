package memtable

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// AV is a DynamoDB attribute value.
type AV = types.AttributeValue

type pathElem struct {
	name    string
	index   int
	isIndex bool
}

type path []pathElem

func (p path) String() string {
	var b strings.Builder
	for i, e := range p {
		switch {
		case e.isIndex:
			fmt.Fprintf(&b, "[%d]", e.index)
		case i > 0:
			b.WriteString("." + e.name)
		default:
			b.WriteString(e.name)
		}
	}
	return b.String()
}

func (p path) get(item map[string]AV) (AV, bool) {
	if len(p) == 0 || p[0].isIndex {
		return nil, false
	}
	cur, ok := item[p[0].name]
	if !ok {
		return nil, false
	}
	for _, e := range p[1:] {
		switch v := cur.(type) {
		case *types.AttributeValueMemberM:
			if e.isIndex {
				return nil, false
			}
			if cur, ok = v.Value[e.name]; !ok {
				return nil, false
			}
		case *types.AttributeValueMemberL:
			if !e.isIndex || e.index < 0 || e.index >= len(v.Value) {
				return nil, false
			}
			cur = v.Value[e.index]
		default:
			return nil, false
		}
	}
	return cur, true
}

// set assigns v at p. Intermediate maps and lists must already exist.
func (p path) set(item map[string]AV, v AV) error {
	if len(p) == 1 {
		item[p[0].name] = v
		return nil
	}
	parent, ok := p[:len(p)-1].get(item)
	if !ok {
		return fmt.Errorf("document path %s is invalid for update", p)
	}
	last := p[len(p)-1]
	switch pv := parent.(type) {
	case *types.AttributeValueMemberM:
		if last.isIndex {
			return fmt.Errorf("document path %s is invalid for update", p)
		}
		pv.Value[last.name] = v
	case *types.AttributeValueMemberL:
		if !last.isIndex {
			return fmt.Errorf("document path %s is invalid for update", p)
		}
		if last.index >= len(pv.Value) {
			pv.Value = append(pv.Value, v)
		} else {
			pv.Value[last.index] = v
		}
	default:
		return fmt.Errorf("document path %s is invalid for update", p)
	}
	return nil
}

func (p path) remove(item map[string]AV) {
	if len(p) == 1 {
		delete(item, p[0].name)
		return
	}
	parent, ok := p[:len(p)-1].get(item)
	if !ok {
		return
	}
	last := p[len(p)-1]
	switch pv := parent.(type) {
	case *types.AttributeValueMemberM:
		delete(pv.Value, last.name)
	case *types.AttributeValueMemberL:
		if last.isIndex && last.index < len(pv.Value) {
			pv.Value = append(pv.Value[:last.index], pv.Value[last.index+1:]...)
		}
	}
}

func copyItem(item map[string]AV) map[string]AV {
	if item == nil {
		return nil
	}
	out := make(map[string]AV, len(item))
	for k, v := range item {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v AV) AV {
	switch t := v.(type) {
	case *types.AttributeValueMemberS:
		return &types.AttributeValueMemberS{Value: t.Value}
	case *types.AttributeValueMemberN:
		return &types.AttributeValueMemberN{Value: t.Value}
	case *types.AttributeValueMemberB:
		return &types.AttributeValueMemberB{Value: append([]byte(nil), t.Value...)}
	case *types.AttributeValueMemberBOOL:
		return &types.AttributeValueMemberBOOL{Value: t.Value}
	case *types.AttributeValueMemberNULL:
		return &types.AttributeValueMemberNULL{Value: t.Value}
	case *types.AttributeValueMemberSS:
		return &types.AttributeValueMemberSS{Value: append([]string(nil), t.Value...)}
	case *types.AttributeValueMemberNS:
		return &types.AttributeValueMemberNS{Value: append([]string(nil), t.Value...)}
	case *types.AttributeValueMemberBS:
		bs := make([][]byte, len(t.Value))
		for i, b := range t.Value {
			bs[i] = append([]byte(nil), b...)
		}
		return &types.AttributeValueMemberBS{Value: bs}
	case *types.AttributeValueMemberL:
		l := make([]AV, len(t.Value))
		for i, e := range t.Value {
			l[i] = copyValue(e)
		}
		return &types.AttributeValueMemberL{Value: l}
	case *types.AttributeValueMemberM:
		return &types.AttributeValueMemberM{Value: copyItem(t.Value)}
	default:
		return v
	}
}

func parseNumber(s string) (*big.Rat, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	return r, nil
}

func formatNumber(r *big.Rat) string {
	if r.IsInt() {
		return r.Num().String()
	}
	s := r.FloatString(38)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

func typeName(v AV) string {
	switch v.(type) {
	case *types.AttributeValueMemberS:
		return "S"
	case *types.AttributeValueMemberN:
		return "N"
	case *types.AttributeValueMemberB:
		return "B"
	case *types.AttributeValueMemberBOOL:
		return "BOOL"
	case *types.AttributeValueMemberNULL:
		return "NULL"
	case *types.AttributeValueMemberSS:
		return "SS"
	case *types.AttributeValueMemberNS:
		return "NS"
	case *types.AttributeValueMemberBS:
		return "BS"
	case *types.AttributeValueMemberL:
		return "L"
	case *types.AttributeValueMemberM:
		return "M"
	default:
		return ""
	}
}

// compare orders two scalars of the same type. ok is false for mismatched
// or unordered types.
func compare(a, b AV) (int, bool) {
	switch x := a.(type) {
	case *types.AttributeValueMemberS:
		y, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, false
		}
		return strings.Compare(x.Value, y.Value), true
	case *types.AttributeValueMemberN:
		y, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return 0, false
		}
		rx, err1 := parseNumber(x.Value)
		ry, err2 := parseNumber(y.Value)
		if err1 != nil || err2 != nil {
			return 0, false
		}
		return rx.Cmp(ry), true
	case *types.AttributeValueMemberB:
		y, ok := b.(*types.AttributeValueMemberB)
		if !ok {
			return 0, false
		}
		return bytes.Compare(x.Value, y.Value), true
	}
	return 0, false
}

func equal(a, b AV) bool {
	if c, ok := compare(a, b); ok {
		return c == 0
	}
	switch x := a.(type) {
	case *types.AttributeValueMemberBOOL:
		y, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && x.Value == y.Value
	case *types.AttributeValueMemberNULL:
		_, ok := b.(*types.AttributeValueMemberNULL)
		return ok
	case *types.AttributeValueMemberSS:
		y, ok := b.(*types.AttributeValueMemberSS)
		return ok && sameSet(x.Value, y.Value)
	case *types.AttributeValueMemberNS:
		y, ok := b.(*types.AttributeValueMemberNS)
		return ok && sameSet(normalizeNumbers(x.Value), normalizeNumbers(y.Value))
	case *types.AttributeValueMemberBS:
		y, ok := b.(*types.AttributeValueMemberBS)
		if !ok || len(x.Value) != len(y.Value) {
			return false
		}
		xs := make([]string, len(x.Value))
		ys := make([]string, len(y.Value))
		for i := range x.Value {
			xs[i], ys[i] = string(x.Value[i]), string(y.Value[i])
		}
		return sameSet(xs, ys)
	case *types.AttributeValueMemberL:
		y, ok := b.(*types.AttributeValueMemberL)
		if !ok || len(x.Value) != len(y.Value) {
			return false
		}
		for i := range x.Value {
			if !equal(x.Value[i], y.Value[i]) {
				return false
			}
		}
		return true
	case *types.AttributeValueMemberM:
		y, ok := b.(*types.AttributeValueMemberM)
		if !ok || len(x.Value) != len(y.Value) {
			return false
		}
		for k, v := range x.Value {
			w, ok := y.Value[k]
			if !ok || !equal(v, w) {
				return false
			}
		}
		return true
	}
	return false
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	a = append([]string(nil), a...)
	b = append([]string(nil), b...)
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func normalizeNumbers(ns []string) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		if r, err := parseNumber(n); err == nil {
			out[i] = formatNumber(r)
		} else {
			out[i] = n
		}
	}
	return out
}

// size implements the size() function.
func size(v AV) (int, bool) {
	switch t := v.(type) {
	case *types.AttributeValueMemberS:
		return len(t.Value), true
	case *types.AttributeValueMemberB:
		return len(t.Value), true
	case *types.AttributeValueMemberSS:
		return len(t.Value), true
	case *types.AttributeValueMemberNS:
		return len(t.Value), true
	case *types.AttributeValueMemberBS:
		return len(t.Value), true
	case *types.AttributeValueMemberL:
		return len(t.Value), true
	case *types.AttributeValueMemberM:
		return len(t.Value), true
	}
	return 0, false
}

// contains implements the contains() function.
func contains(haystack, needle AV) bool {
	switch h := haystack.(type) {
	case *types.AttributeValueMemberS:
		n, ok := needle.(*types.AttributeValueMemberS)
		return ok && strings.Contains(h.Value, n.Value)
	case *types.AttributeValueMemberSS:
		n, ok := needle.(*types.AttributeValueMemberS)
		if !ok {
			return false
		}
		for _, s := range h.Value {
			if s == n.Value {
				return true
			}
		}
	case *types.AttributeValueMemberNS:
		for _, s := range h.Value {
			if equal(&types.AttributeValueMemberN{Value: s}, needle) {
				return true
			}
		}
	case *types.AttributeValueMemberBS:
		n, ok := needle.(*types.AttributeValueMemberB)
		if !ok {
			return false
		}
		for _, b := range h.Value {
			if bytes.Equal(b, n.Value) {
				return true
			}
		}
	case *types.AttributeValueMemberL:
		for _, e := range h.Value {
			if equal(e, needle) {
				return true
			}
		}
	}
	return false
}
