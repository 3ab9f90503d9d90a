package counterpart_test

import (
	"testing"

	"github.com/andesfin/obligation-engine/counterpart"
)

func TestNormalizeAccountNumber(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"0001234 ", "1234"},
		{"0000", "0"},
		{"", ""},
		{" 12 34 ", "1234"},
		{"ab-12", "AB-12"},
		{"0", "0"},
		{"000a", "A"},
		{"\t00123400\n", "123400"},
	}
	for _, c := range cases {
		if got := counterpart.NormalizeAccountNumber(c.raw); got != c.want {
			t.Errorf("NormalizeAccountNumber(%q) = %q, want %q", c.raw, got, c.want)
		}
	}
}

func TestNormalizeRUT(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"12.345.678-k", "12345678K"},
		{"12345678K", "12345678K"},
		{" 9.876.543-2 ", "98765432"},
		{"076543210", "76543210"},
		{"", ""},
	}
	for _, c := range cases {
		if got := counterpart.NormalizeRUT(c.raw); got != c.want {
			t.Errorf("NormalizeRUT(%q) = %q, want %q", c.raw, got, c.want)
		}
	}
}
