package usdc

import (
	"math/big"
	"testing"
)

func TestParse_ValidAmounts(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int64
	}{
		{"one dollar", "1.00", 1_000_000},
		{"fifty cents", "0.50", 500_000},
		{"hundred", "100", 100_000_000},
		{"smallest unit", "0.000001", 1},
		{"whole and frac", "1.500000", 1_500_000},
		{"no frac", "1", 1_000_000},
		{"short frac", "1.5", 1_500_000},
		{"six decimals", "1.123456", 1_123_456},
		{"excess decimals truncated", "1.1234567", 1_123_456},
		{"bare fraction", ".5", 500_000},
		{"large amount", "999999.999999", 999_999_999_999},
		{"leading zeros", "007.50", 7_500_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.input)
			if !ok {
				t.Fatalf("Parse(%q) returned ok=false", tt.input)
			}
			if got.Int64() != tt.expected {
				t.Errorf("Parse(%q) = %d, want %d", tt.input, got.Int64(), tt.expected)
			}
		})
	}
}

func TestParse_ZeroVariants(t *testing.T) {
	for _, input := range []string{"0", "0.0", "0.000000", ""} {
		got, ok := Parse(input)
		if !ok {
			t.Fatalf("Parse(%q) returned ok=false", input)
		}
		if got.Sign() != 0 {
			t.Errorf("Parse(%q) = %s, want 0", input, got.String())
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, input := range []string{"-1", "-0.50", "abc", "1.2.3", "1,50", "1 USDC"} {
		if _, ok := Parse(input); ok {
			t.Errorf("Parse(%q) accepted invalid input", input)
		}
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name     string
		input    int64
		expected string
	}{
		{"one dollar", 1_000_000, "1.000000"},
		{"fifty cents", 500_000, "0.500000"},
		{"smallest unit", 1, "0.000001"},
		{"zero", 0, "0.000000"},
		{"large", 999_999_999_999, "999999.999999"},
		{"negative", -1_500_000, "-1.500000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Format(big.NewInt(tt.input)); got != tt.expected {
				t.Errorf("Format(%d) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFormat_Nil(t *testing.T) {
	if got := Format(nil); got != "0.000000" {
		t.Errorf("Format(nil) = %q, want 0.000000", got)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, s := range []string{"1.000000", "0.500000", "123456.789012"} {
		v, ok := Parse(s)
		if !ok {
			t.Fatalf("Parse(%q) failed", s)
		}
		if got := Format(v); got != s {
			t.Errorf("Format(Parse(%q)) = %q", s, got)
		}
	}
}

func TestIsZero(t *testing.T) {
	for _, s := range []string{"0", "0.000000", ""} {
		if !IsZero(s) {
			t.Errorf("IsZero(%q) = false", s)
		}
	}
	for _, s := range []string{"0.000001", "1", "abc"} {
		if IsZero(s) {
			t.Errorf("IsZero(%q) = true", s)
		}
	}
}
