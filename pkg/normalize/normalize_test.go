package normalize_test

import (
	"strings"
	"testing"

	"github.com/humlab-sead/sead-reconciler/pkg/normalize"
)

func TestText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"whitespace only", "   \t\n  ", ""},
		{"already normalized is idempotent", "stockholm site", "stockholm site"},
		{"uppercase", "Stockholm", "stockholm"},
		{"accent folding", "Åland Kärnsjön", "aland karnsjon"},
		{"eszett is not expanded", "Straße", "straße"},
		{"collapses internal whitespace", "Acer   platanoides\tL.", "acer platanoides l."},
		{"trims leading and trailing space", "  Uppsala  ", "uppsala"},
		{"mixed unicode whitespace", "foo  bar", "foo bar"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := normalize.Text(tc.in)
			if got != tc.want {
				t.Errorf("Text(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestText_RoundTrip(t *testing.T) {
	// Invariant 4: for any label already equal to its norm_label form,
	// normalizing again is a no-op.
	already := []string{"stockholm", "acer platanoides l.", "quercus robur", ""}
	for _, s := range already {
		if got := normalize.Text(s); got != s {
			t.Errorf("Text(%q) = %q, want unchanged %q", s, got, s)
		}
	}
}

func TestTruncateForMatch(t *testing.T) {
	short := "stockholm"
	if got := normalize.TruncateForMatch(short); got != short {
		t.Errorf("short string should be unchanged, got %q", got)
	}

	long := strings.Repeat("a", normalize.MaxQueryRunes+50)
	got := normalize.TruncateForMatch(long)
	if len([]rune(got)) != normalize.MaxQueryRunes {
		t.Errorf("expected truncation to %d runes, got %d", normalize.MaxQueryRunes, len([]rune(got)))
	}

	// Multi-byte runes must not be split mid-character.
	longUnicode := strings.Repeat("é", normalize.MaxQueryRunes+10)
	got = normalize.TruncateForMatch(longUnicode)
	if n := len([]rune(got)); n != normalize.MaxQueryRunes {
		t.Errorf("expected %d runes, got %d", normalize.MaxQueryRunes, n)
	}
}
