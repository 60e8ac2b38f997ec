package money

import "testing"

func TestParseRoundTripsInputString(t *testing.T) {
	cases := []string{"1.50", "1.5", "100", "0.00001234", "-3.40"}
	for _, in := range cases {
		d, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", in, err)
		}
		if got := d.String(); got != in {
			t.Fatalf("String() = %q, want exact round-trip %q", got, in)
		}
	}
}

func TestParseRejectsEmpty(t *testing.T) {
	if _, err := Parse(""); err == nil {
		t.Fatalf("expected error for empty decimal string")
	}
}

func TestNumericEqualityDespiteDifferentStrings(t *testing.T) {
	a := MustParse("1.50")
	b := MustParse("1.5")
	if a.Cmp(b) != 0 {
		t.Fatalf("expected numeric equality between %q and %q", a, b)
	}
	if a.String() == b.String() {
		t.Fatalf("expected distinct raw strings to be preserved")
	}
}

func TestArithmetic(t *testing.T) {
	a := MustParse("2.5")
	b := MustParse("1.5")
	if got := a.Add(b).Value().String(); got != "4" {
		t.Fatalf("Add = %s, want 4", got)
	}
	if got := a.Sub(b).Value().String(); got != "1" {
		t.Fatalf("Sub = %s, want 1", got)
	}
	if got := a.Mul(b).Value().String(); got != "3.75" {
		t.Fatalf("Mul = %s, want 3.75", got)
	}
}
