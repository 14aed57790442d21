package dns

import (
	"context"
	"testing"
)

func TestLookupReturnsIPLiterals(t *testing.T) {
	tests := []string{"127.0.0.1", "10.1.2.3", "::1"}
	for _, host := range tests {
		got, err := Lookup(context.Background(), host)
		if err != nil {
			t.Fatalf("Lookup(%q) error: %v", host, err)
		}
		if got != host {
			t.Errorf("Lookup(%q) = %q, want unchanged", host, got)
		}
	}
}

func TestTrimBrackets(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"[2606:4700:4700::1111]", "2606:4700:4700::1111"},
		{"1.1.1.1", "1.1.1.1"},
		{"[", "["},
	}
	for _, tt := range tests {
		if got := trimBrackets(tt.in); got != tt.want {
			t.Errorf("trimBrackets(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
