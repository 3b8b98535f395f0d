package compress

import (
	"bytes"
	"testing"
)

func TestDeltaRoundTrip(t *testing.T) {
	cases := []struct {
		base, target string
	}{
		{"hello world", "hello brave world"},
		{"", "added from nothing"},
		{"removed entirely", ""},
		{"identical", "identical"},
		{"abc", "xyz"},
		{"same prefix AAAA same suffix", "same prefix BBBB same suffix"},
	}

	for _, c := range cases {
		base := []byte(c.base)
		target := []byte(c.target)

		d := MakeDelta(base, target)
		got := ApplyDelta(base, d)
		if !bytes.Equal(got, target) {
			t.Errorf("ApplyDelta(base=%q, MakeDelta(base,%q)) = %q, want %q", c.base, c.target, got, c.target)
		}
	}
}

func TestDeltaWorthwhileOnSmallEdit(t *testing.T) {
	base := bytes.Repeat([]byte("x"), 1000)
	target := append(append([]byte{}, base...), []byte("tail")...)

	d := MakeDelta(base, target)
	if !Worthwhile(d, len(target)) {
		t.Error("appending a few bytes to a large blob should be worthwhile as a delta")
	}
}

func TestDeltaNotWorthwhileOnTotallyDifferentContent(t *testing.T) {
	base := []byte("aaaa")
	target := bytes.Repeat([]byte("z"), 100)

	d := MakeDelta(base, target)
	if Worthwhile(d, len(target)) {
		t.Error("near-total rewrite should not be worthwhile as a delta")
	}
}
