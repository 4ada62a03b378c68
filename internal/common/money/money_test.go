package money

import "testing"

func TestShareFloor(t *testing.T) {
	tests := []struct {
		name        string
		amountMinor int64
		basisPoints int64
		want        int64
	}{
		{"whole percentage", 10000, 2000, 2000},
		{"rounds toward zero", 333, 1234, 41},
		{"sub-cent share floors to zero", 1, 2000, 0},
		{"zero amount", 0, 9999, 0},
		{"zero rate", 12345, 0, 0},
		{"full rate", 12345, 10000, 12345},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShareFloor(tt.amountMinor, tt.basisPoints); got != tt.want {
				t.Errorf("ShareFloor(%d, %d) = %d, want %d", tt.amountMinor, tt.basisPoints, got, tt.want)
			}
		})
	}
}

func TestMoneyString(t *testing.T) {
	m := New(12345, USD)
	if got := m.String(); got != "12345 USD (minor)" {
		t.Errorf("String() = %q", got)
	}
}
