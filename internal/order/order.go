// Package order generates and compares fractional position keys.
//
// A position key is a non-empty string over a 62-symbol alphabet
// (0-9, A-Z, a-z in ASCII order). Keys sort by plain byte comparison,
// which is a strict total order. Inserting between two neighbors never
// renumbers other keys: the new key is derived from the neighbors alone,
// in O(len) time.
//
// Canonical form: a key never ends with the minimum symbol '0'. Every
// key this package generates is canonical, and non-canonical inputs are
// rejected. This keeps Between total - for canonical a < b there is
// always a canonical key strictly between them.
//
// Key length grows only when the two neighbors are adjacent at the
// current resolution, and then by a single symbol. Repeated insertion at
// one boundary grows keys by at most one symbol per adjacency collision,
// so lengths stay small even after hundreds of insertions.
package order

import (
	"errors"
	"fmt"
	"strings"
)

// Alphabet is the ordered symbol set for position keys. ASCII order of
// the symbols matches their logical order, so byte comparison of keys is
// symbol comparison.
const Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const (
	base      = len(Alphabet)
	minSymbol = byte('0') // Alphabet[0]
	maxSymbol = byte('z') // Alphabet[base-1]
	midSymbol = byte('V') // Alphabet[base/2]
)

// ErrInvalidPosition reports a key that is empty, contains a byte outside
// the alphabet, or is non-canonical (ends with the minimum symbol).
var ErrInvalidPosition = errors.New("order: invalid position key")

// ErrInvalidRange reports a Between call whose lower bound does not sort
// strictly before its upper bound.
var ErrInvalidRange = errors.New("order: invalid position range")

// Initial returns the canonical first key for an empty sequence: the
// single mid-alphabet symbol, leaving equal room on both sides.
func Initial() string {
	return string(midSymbol)
}

// Compare orders two position keys. It returns -1 if a sorts before b,
// +1 if after, and 0 if equal. A strict prefix sorts first.
func Compare(a, b string) int {
	return strings.Compare(a, b)
}

// Before returns a canonical key strictly less than p.
//
// It decrements the final symbol and appends the mid symbol, leaving
// room for further insertion between the result and p. The absolute
// minimum key "0" has nothing below it and is rejected.
func Before(p string) (string, error) {
	if err := validate(p); err != nil {
		return "", err
	}
	if p == string(minSymbol) {
		return "", fmt.Errorf("%w: no key sorts before %q", ErrInvalidPosition, p)
	}
	// Canonical p other than "0" never ends with the minimum symbol.
	last := len(p) - 1
	return p[:last] + string(Alphabet[indexOf(p[last])-1]) + string(midSymbol), nil
}

// After returns a canonical key strictly greater than p.
//
// It increments the rightmost symbol below the maximum and truncates
// everything after it. A key of all-maximum symbols gains an appended
// mid symbol instead.
func After(p string) (string, error) {
	if err := validate(p); err != nil {
		return "", err
	}
	i := len(p) - 1
	for i >= 0 && p[i] == maxSymbol {
		i--
	}
	if i < 0 {
		return p + string(midSymbol), nil
	}
	return p[:i] + string(Alphabet[indexOf(p[i])+1]), nil
}

// Between returns a canonical key strictly between a and b. The empty
// string marks an absent bound: Between("", x) sorts before x,
// Between(x, "") after x, and Between("", "") is Initial().
//
// With both bounds present, the bounds are compared symbol by symbol
// with the shorter one padded by the minimum symbol. At the first
// difference the midpoint symbol is taken when an integer gap exists;
// adjacent symbols keep the lower bound's symbol and place the new key
// in the upper half of the lower bound's remainder, extending the key by
// one symbol.
func Between(a, b string) (string, error) {
	switch {
	case a == "" && b == "":
		return Initial(), nil
	case a == "":
		return Before(b)
	case b == "":
		return After(a)
	}
	if err := validate(a); err != nil {
		return "", err
	}
	if err := validate(b); err != nil {
		return "", err
	}
	if Compare(a, b) >= 0 {
		return "", fmt.Errorf("%w: %q does not sort before %q", ErrInvalidRange, a, b)
	}

	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		la := symbolAt(a, i)
		lb := symbolAt(b, i)
		if la == lb {
			continue
		}
		// First difference: canonical a < b guarantees la < lb.
		if mid := (la + lb) / 2; mid > la {
			return paddedPrefix(a, i) + string(Alphabet[mid]), nil
		}
		return paddedPrefix(a, i) + string(Alphabet[la]) + upperHalf(remainder(a, i+1)), nil
	}
	// Unreachable for canonical keys: padded-equal bounds would require b
	// to end in the minimum symbol.
	return "", fmt.Errorf("%w: no key between %q and %q", ErrInvalidRange, a, b)
}

// upperHalf returns a canonical key strictly greater than rest, biased
// toward the middle of the space above it so later insertions keep room.
// rest may be empty, in which case the mid symbol is enough.
func upperHalf(rest string) string {
	var sb strings.Builder
	for i := 0; i < len(rest); i++ {
		la := indexOf(rest[i])
		if mid := (la + base) / 2; mid > la {
			sb.WriteByte(Alphabet[mid])
			return sb.String()
		}
		// la is the maximum symbol; carry it and look one deeper.
		sb.WriteByte(maxSymbol)
	}
	sb.WriteByte(midSymbol)
	return sb.String()
}

// symbolAt reads the symbol index at i, treating positions past the end
// of p as the minimum symbol (the padding rule).
func symbolAt(p string, i int) int {
	if i >= len(p) {
		return 0
	}
	return indexOf(p[i])
}

// paddedPrefix returns the first n symbols of p under the padding rule.
func paddedPrefix(p string, n int) string {
	if n <= len(p) {
		return p[:n]
	}
	return p + strings.Repeat(string(minSymbol), n-len(p))
}

// remainder returns the real (unpadded) tail of p starting at i.
func remainder(p string, i int) string {
	if i >= len(p) {
		return ""
	}
	return p[i:]
}

var symbolIndex = buildSymbolIndex()

func buildSymbolIndex() [256]int8 {
	var t [256]int8
	for i := range t {
		t[i] = -1
	}
	for i := 0; i < len(Alphabet); i++ {
		t[Alphabet[i]] = int8(i)
	}
	return t
}

func indexOf(c byte) int {
	return int(symbolIndex[c])
}

func validate(p string) error {
	if p == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPosition)
	}
	for i := 0; i < len(p); i++ {
		if symbolIndex[p[i]] < 0 {
			return fmt.Errorf("%w: byte %q in %q", ErrInvalidPosition, p[i], p)
		}
	}
	if len(p) > 1 && p[len(p)-1] == minSymbol {
		return fmt.Errorf("%w: %q ends with the minimum symbol", ErrInvalidPosition, p)
	}
	return nil
}
