package order

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlphabet_Shape(t *testing.T) {
	assert.Equal(t, 62, len(Alphabet))
	assert.Equal(t, minSymbol, Alphabet[0])
	assert.Equal(t, maxSymbol, Alphabet[len(Alphabet)-1])
	assert.Equal(t, midSymbol, Alphabet[len(Alphabet)/2])

	// ASCII order of the symbols must match their logical order, or byte
	// comparison would not be symbol comparison.
	assert.True(t, sort.SliceIsSorted([]byte(Alphabet), func(i, j int) bool {
		return Alphabet[i] < Alphabet[j]
	}))
}

func TestInitial(t *testing.T) {
	assert.Equal(t, "V", Initial())
}

func TestCompare_StrictTotalOrder(t *testing.T) {
	keys := []string{"0V", "1", "1F", "1V", "A", "V", "VV", "Vk", "W", "a", "z", "zV"}

	for i, a := range keys {
		assert.Equal(t, 0, Compare(a, a))
		for _, b := range keys[i+1:] {
			assert.Equal(t, -1, Compare(a, b), "%q should sort before %q", a, b)
			assert.Equal(t, 1, Compare(b, a), "%q should sort after %q", b, a)
		}
	}
}

func TestBefore(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"mid symbol", "V", "UV"},
		{"lowest nonminimum", "1", "0V"},
		{"trailing mid", "0V", "0UV"},
		{"multi symbol", "W2", "W1V"},
		{"maximum symbol", "z", "yV"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Before(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, -1, Compare(got, tt.in))
		})
	}
}

func TestBefore_AbsoluteMinimum(t *testing.T) {
	_, err := Before("0")
	assert.ErrorIs(t, err, ErrInvalidPosition)
}

func TestAfter(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"mid symbol", "V", "W"},
		{"increments the tail", "V3", "V4"},
		{"all maximum", "z", "zV"},
		{"all maximum long", "zz", "zzV"},
		{"carries past a maximum tail", "Vz", "W"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := After(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, 1, Compare(got, tt.in))
		})
	}
}

func TestBetween_UnboundedForms(t *testing.T) {
	got, err := Between("", "")
	require.NoError(t, err)
	assert.Equal(t, Initial(), got)

	below, err := Between("", "V")
	require.NoError(t, err)
	assert.Equal(t, -1, Compare(below, "V"), "Between(\"\", x) must sort before x")

	above, err := Between("V", "")
	require.NoError(t, err)
	assert.Equal(t, 1, Compare(above, "V"), "Between(x, \"\") must sort after x")
}

func TestBetween_Midpoints(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want string
	}{
		{"wide gap", "A", "z", "Z"},
		{"adjacent symbols extend", "V", "W", "VV"},
		{"adjacent digits", "1", "2", "1V"},
		{"prefix lower bound", "V", "VV", "VF"},
		{"adjacent with padding", "V", "V1", "V0V"},
		{"nested adjacency keeps room above", "VV", "W", "Vk"},
		{"maximum remainder carries", "Vz", "W", "VzV"},
		{"padding difference", "1", "11", "10V"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Between(tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, -1, Compare(tt.a, got), "%q < %q", tt.a, got)
			assert.Equal(t, -1, Compare(got, tt.b), "%q < %q", got, tt.b)
		})
	}
}

func TestBetween_InvalidRange(t *testing.T) {
	for _, tc := range [][2]string{{"V", "V"}, {"W", "V"}, {"z", "A"}} {
		_, err := Between(tc[0], tc[1])
		assert.ErrorIs(t, err, ErrInvalidRange, "Between(%q, %q)", tc[0], tc[1])
	}
}

func TestMalformedKeysRejected(t *testing.T) {
	for _, bad := range []string{"V!", "V V", "V0", "10"} {
		_, err := After(bad)
		assert.ErrorIs(t, err, ErrInvalidPosition, "After(%q)", bad)
		_, err = Before(bad)
		assert.ErrorIs(t, err, ErrInvalidPosition, "Before(%q)", bad)
		_, err = Between(bad, "z")
		assert.ErrorIs(t, err, ErrInvalidPosition, "Between(%q, ...)", bad)
		_, err = Between("0", bad)
		assert.ErrorIs(t, err, ErrInvalidPosition, "Between(..., %q)", bad)
	}

	// The empty string is an absent bound for Between but never a key.
	_, err := After("")
	assert.ErrorIs(t, err, ErrInvalidPosition)
	_, err = Before("")
	assert.ErrorIs(t, err, ErrInvalidPosition)
}

// Appending at the tail of a column is the dominant operation; key length
// must stay near-constant rather than growing with the number of tasks.
func TestAfter_SequentialAppendsStayShort(t *testing.T) {
	pos := Initial()
	maxLen := len(pos)
	for i := 0; i < 100; i++ {
		next, err := After(pos)
		require.NoError(t, err)
		require.Equal(t, 1, Compare(next, pos), "append %d must extend the order", i)
		if len(next) > maxLen {
			maxLen = len(next)
		}
		pos = next
	}
	assert.LessOrEqual(t, maxLen, 5, "100 appends must not grow keys past a handful of symbols")
}

// Repeated insertion at one boundary is the worst case for fractional
// keys; growth must be bounded by the adjacency collisions, at most one
// symbol per insertion and far fewer in practice.
func TestBetween_NestedInsertionGrowth(t *testing.T) {
	lo, hi := "V", "W"
	cur := lo
	for i := 0; i < 64; i++ {
		mid, err := Between(cur, hi)
		require.NoError(t, err)
		require.Equal(t, -1, Compare(cur, mid))
		require.Equal(t, -1, Compare(mid, hi))
		require.LessOrEqual(t, len(mid), i+2, "insertion %d grew more than one symbol per step", i)
		cur = mid
	}
	assert.LessOrEqual(t, len(cur), 14, "64 nested insertions should stay well under one symbol each")
}

// Every generated key must itself be canonical so it remains a usable
// bound for later calls.
func TestGeneratedKeysAreCanonical(t *testing.T) {
	for _, s := range []string{"V", "1", "z", "AB", "Vz"} {
		got, err := After(s)
		require.NoError(t, err)
		assert.NotEqual(t, minSymbol, got[len(got)-1], "After(%q) = %q", s, got)

		got, err = Before(s)
		require.NoError(t, err)
		assert.NotEqual(t, minSymbol, got[len(got)-1], "Before(%q) = %q", s, got)
	}

	got, err := Between("V", "W")
	require.NoError(t, err)
	assert.NotEqual(t, minSymbol, got[len(got)-1])
}
