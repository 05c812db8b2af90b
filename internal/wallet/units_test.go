package wallet

import (
	"errors"
	"math/big"
	"testing"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input string
		want  string // wei
	}{
		{"1", "1000000000000000000"},
		{"0.5", "500000000000000000"},
		{".25", "250000000000000000"},
		{"2.", "2000000000000000000"},
		{"0.000000000000000001", "1"},
		{" 10.1 ", "10100000000000000000"},
		{"123456789.123456789123456789", "123456789123456789123456789"},
	}
	for _, tt := range tests {
		got, err := ParseAmount(tt.input)
		if err != nil {
			t.Fatalf("ParseAmount(%q) error: %v", tt.input, err)
		}
		if got.String() != tt.want {
			t.Errorf("ParseAmount(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestParseAmount_Invalid(t *testing.T) {
	for _, input := range []string{
		"", "   ", ".", "0", "0.0", "-1", "+1", "1e18", "abc", "1.2.3", "1,5",
		"0.0000000000000000001", // 19 fractional digits
	} {
		if _, err := ParseAmount(input); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("ParseAmount(%q) error = %v, want ErrInvalidAmount", input, err)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		wei  string
		want string
	}{
		{"0", "0"},
		{"1", "0.000000000000000001"},
		{"500000000000000000", "0.5"},
		{"2000000000000000000", "2"},
		{"1234500000000000000", "1.2345"},
		{"-1500000000000000000", "-1.5"},
	}
	for _, tt := range tests {
		wei, _ := new(big.Int).SetString(tt.wei, 10)
		if got := FormatAmount(wei); got != tt.want {
			t.Errorf("FormatAmount(%s) = %q, want %q", tt.wei, got, tt.want)
		}
	}
	if got := FormatAmount(nil); got != "0" {
		t.Errorf("FormatAmount(nil) = %q, want \"0\"", got)
	}
}

func TestParseFormat_Roundtrip(t *testing.T) {
	for _, s := range []string{"0.1", "0.5", "3", "0.000000000000000001", "42.42"} {
		wei, err := ParseAmount(s)
		if err != nil {
			t.Fatalf("ParseAmount(%q) error: %v", s, err)
		}
		if got := FormatAmount(wei); got != s {
			t.Errorf("FormatAmount(ParseAmount(%q)) = %q", s, got)
		}
	}
}
