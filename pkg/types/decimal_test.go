package types

import "testing"

func TestParseDecimal_Canonicalization(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"42", "42"},
		{"42.0", "42"},
		{"042.50", "42.5"},
		{"-3.50", "-3.5"},
		{"0.0", "0"},
		{"-0", "0"},
		{".5", "0.5"},
		{"+7", "7"},
	}

	for _, c := range cases {
		d, err := ParseDecimal(c.in)
		if err != nil {
			t.Fatalf("ParseDecimal(%q): %v", c.in, err)
		}
		if got := d.String(); got != c.want {
			t.Errorf("ParseDecimal(%q).String() = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestParseDecimal_Invalid(t *testing.T) {
	for _, in := range []string{"", "abc", "1.2.3", "1e5", "--1", "."} {
		if _, err := ParseDecimal(in); err == nil {
			t.Errorf("ParseDecimal(%q): expected error", in)
		}
	}
}

func TestDecimal_Native(t *testing.T) {
	d, _ := ParseDecimal("10.0")
	if got, ok := d.Native().(int64); !ok || got != 10 {
		t.Errorf("Native(10.0) = %v, want int64 10", d.Native())
	}

	d, _ = ParseDecimal("3.5")
	if got, ok := d.Native().(float64); !ok || got != 3.5 {
		t.Errorf("Native(3.5) = %v, want float64 3.5", d.Native())
	}
}

func TestDecimal_Cmp(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1", "2", -1},
		{"10", "9", 1},
		{"3.5", "3.5", 0},
		{"3.5", "3.05", 1},
		{"-1", "1", -1},
		{"-2", "-1", -1},
		{"0", "0.0", 0},
		{"100", "99.999", 1},
	}

	for _, c := range cases {
		a, _ := ParseDecimal(c.a)
		b, _ := ParseDecimal(c.b)
		if got := a.Cmp(b); got != c.want {
			t.Errorf("Cmp(%s, %s) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestDecimal_MarshalJSON(t *testing.T) {
	d, _ := ParseDecimal("42.0")
	b, err := d.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	if string(b) != "42" {
		t.Errorf("MarshalJSON = %s, want 42", b)
	}
}
