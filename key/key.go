// Package key builds the tag-prefixed composite keys used to lay entities out
// in a single table.
//
// A key is a type tag followed by one or more identifier components joined with
// [Delimiter]:
//
//	key.Tag("REPO").Key("alice", "demo") // "REPO#alice#demo"
//
// Components are percent-encoded before they are joined, so an identifier that
// itself contains the delimiter can never collide with a key built from a
// different set of components:
//
//	key.Tag("REPO").Key("a#b", "c") // "REPO#a%23b#c"
//	key.Tag("REPO").Key("a", "b#c") // "REPO#a#b%23c"
//
// Numeric ordinals are zero-padded with [Ordinal] so that string order and
// numeric order agree up to the padding width.
package key

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Delimiter separates the tag and the components of a key.
const Delimiter = "#"

var (
	// ErrOrdinalOverflow is returned when an ordinal needs more digits than the padding width.
	ErrOrdinalOverflow = errors.New("singletable: ordinal exceeds padding width")

	// ErrNegativeOrdinal is returned for ordinals below zero.
	ErrNegativeOrdinal = errors.New("singletable: ordinal must not be negative")

	// ErrMalformedKey is returned by Parse for keys that were not produced by Key.
	ErrMalformedKey = errors.New("singletable: malformed key")
)

var (
	escaper   = strings.NewReplacer("%", "%25", Delimiter, "%23")
	unescaper = strings.NewReplacer("%25", "%", "%23", Delimiter)
)

// Tag is the type prefix of a key, e.g. "REPO" or "ISSUE".
type Tag string

// Key joins the tag and the escaped components.
func (t Tag) Key(parts ...string) string {
	var b strings.Builder
	b.WriteString(string(t))
	for _, p := range parts {
		b.WriteString(Delimiter)
		b.WriteString(Escape(p))
	}
	return b.String()
}

// Prefix returns the tag followed by the delimiter, for begins_with predicates.
func (t Tag) Prefix() string {
	return string(t) + Delimiter
}

// Ordinal returns the tag followed by the zero-padded ordinal n.
func (t Tag) Ordinal(n int64, width int) (string, error) {
	o, err := Ordinal(n, width)
	if err != nil {
		return "", err
	}
	return t.Prefix() + o, nil
}

// Escape percent-encodes the delimiter and the escape character itself.
func Escape(component string) string {
	return escaper.Replace(component)
}

// Unescape reverses Escape.
func Unescape(component string) (string, error) {
	for i := 0; i < len(component); i++ {
		if component[i] != '%' {
			continue
		}
		if i+2 >= len(component) || (component[i+1:i+3] != "25" && component[i+1:i+3] != "23") {
			return "", fmt.Errorf("%w: bad escape in %q", ErrMalformedKey, component)
		}
	}
	return unescaper.Replace(component), nil
}

// Ordinal formats n as a decimal zero-padded to width digits.
func Ordinal(n int64, width int) (string, error) {
	if n < 0 {
		return "", fmt.Errorf("%w: %d", ErrNegativeOrdinal, n)
	}
	s := strconv.FormatInt(n, 10)
	if len(s) > width {
		return "", fmt.Errorf("%w: %d does not fit in %d digits", ErrOrdinalOverflow, n, width)
	}
	return strings.Repeat("0", width-len(s)) + s, nil
}

// Parse splits a key produced by Key back into its tag and unescaped components.
func Parse(k string) (Tag, []string, error) {
	if k == "" {
		return "", nil, fmt.Errorf("%w: empty key", ErrMalformedKey)
	}
	fields := strings.Split(k, Delimiter)
	parts := make([]string, 0, len(fields)-1)
	for _, f := range fields[1:] {
		p, err := Unescape(f)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, p)
	}
	return Tag(fields[0]), parts, nil
}
