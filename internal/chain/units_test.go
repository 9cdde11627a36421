package chain

import (
	"math/big"
	"testing"
)

func TestParseUnits(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"1", "1000000000000000000", false},
		{"0.45", "450000000000000000", false},
		{".5", "500000000000000000", false},
		{"12.000000000000000001", "12000000000000000001", false},
		{"0.0000000000000000001", "", true},
		{"-1", "", true},
		{"", "", true},
		{"1e5", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseUnits(tt.in, Decimals)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %s", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.String() != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestFormatUnits(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "0"},
		{"1000000000000000000", "1"},
		{"450000000000000000", "0.45"},
		{"1", "0.000000000000000001"},
		{"-1500000000000000000", "-1.5"},
	}
	for _, tt := range tests {
		v, _ := new(big.Int).SetString(tt.in, 10)
		if got := FormatUnits(v, Decimals); got != tt.want {
			t.Errorf("FormatUnits(%s): expected %s, got %s", tt.in, tt.want, got)
		}
	}
	if got := FormatUnits(nil, Decimals); got != "0" {
		t.Errorf("expected 0 for nil, got %s", got)
	}
}
