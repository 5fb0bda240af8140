package privilege

import "testing"

func TestUseSudo(t *testing.T) {
	tests := []struct {
		mode     string
		elevated bool
		want     bool
	}{
		{mode: "auto", elevated: false, want: true},
		{mode: "auto", elevated: true, want: false},
		{mode: "always", elevated: true, want: true},
		{mode: "always", elevated: false, want: true},
		{mode: "never", elevated: false, want: false},
		{mode: "never", elevated: true, want: false},
	}

	for _, tt := range tests {
		got := UseSudo(tt.mode, tt.elevated)
		if got != tt.want {
			t.Errorf("UseSudo(%q, %v) = %v, want %v", tt.mode, tt.elevated, got, tt.want)
		}
	}
}

func TestIsElevatedDoesNotPanic(t *testing.T) {
	t.Logf("elevated: %v", IsElevated())
}
