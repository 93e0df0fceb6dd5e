package core

import "testing"

func TestParseSignedDecimalToCents(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{"dot separator", "12.34", 1234, false},
		{"comma separator", "12,34", 1234, false},
		{"negative expense", "-12.34", -1234, false},
		{"explicit plus", "+5", 500, false},
		{"rounds down", "12.344", 1234, false},
		{"rounds up", "12.346", 1235, false},
		{"no fraction", "100", 10000, false},
		{"single fraction digit", "7.5", 750, false},
		{"leading dot", ".50", 50, false},
		{"zero rejected", "0", 0, true},
		{"zero with fraction rejected", "0.00", 0, true},
		{"empty", "", 0, true},
		{"two dots", "1.2.3", 0, true},
		{"letters", "12a", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSignedDecimalToCents(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSignedDecimalToCents(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseSignedDecimalToCents(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestMoneyString(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{1234, "12.34"},
		{-1234, "-12.34"},
		{5, "0.05"},
		{-100, "-1.00"},
	}

	for _, tt := range tests {
		if got := (Money{Cents: tt.cents}).String(); got != tt.want {
			t.Errorf("Money{%d}.String() = %q, want %q", tt.cents, got, tt.want)
		}
	}
}

func TestMoneyIsExpense(t *testing.T) {
	if !(Money{Cents: -1}).IsExpense() {
		t.Error("negative amount should be an expense")
	}
	if (Money{Cents: 1}).IsExpense() {
		t.Error("positive amount should not be an expense")
	}
}
