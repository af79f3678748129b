package price

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw    string
		want   float64
		wantOK bool
	}{
		{"19.99", 19.99, true},
		{"19,99 €", 19.99, true},
		{"Price: 19.99 USD", 19.99, true},
		{"$1,299.00", 1.299, true},
		{"1.299,99", 1.299, true},
		{"24.5", 24.5, true},
		{"120", 120, true},
		{".5", 0.5, true},
		{"5.", 5, true},
		{"Call us", 0, false},
		{"", 0, false},
		{"...", 0, false},
		{",", 0, false},
		{"SKU 12345", 12345, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseAmount(tt.raw)
			require.Equal(t, tt.wantOK, ok)
			require.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func FuzzParseAmount(f *testing.F) {
	f.Add("19,99 €")
	f.Add("1.299,99")
	f.Add("abc")
	f.Fuzz(func(t *testing.T, raw string) {
		v, ok := ParseAmount(raw)
		if !ok && v != 0 {
			t.Fatalf("expected zero amount when parsing fails, got %v", v)
		}
		if ok && v < 0 {
			t.Fatalf("amount must not be negative, got %v", v)
		}
	})
}
