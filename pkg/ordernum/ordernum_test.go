package ordernum

import (
	"strings"
	"testing"
)

func TestNewFormat(t *testing.T) {
	t.Parallel()

	value, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !strings.HasPrefix(value, "ORD-") {
		t.Fatalf("missing prefix: %q", value)
	}
	if len(value) != len("ORD-")+tokenBytes {
		t.Fatalf("unexpected length: %q", value)
	}
	if !IsValid(value) {
		t.Fatalf("generated value failed validation: %q", value)
	}
}

func TestNewUnique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		value, err := New()
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, dup := seen[value]; dup {
			t.Fatalf("duplicate order number %q", value)
		}
		seen[value] = struct{}{}
	}
}

func TestIsValid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		value string
		want  bool
	}{
		{"ORD-ABCDEFGHJK", true},
		{"ORD-2345678923", true},
		{"ord-abcdefghjk", false},
		{"ORD-ABCDEFGHI", false},
		{"ORD-ABCDEFGH10", false},
		{"ABC-DEFGHJKMNP", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsValid(tc.value); got != tc.want {
			t.Fatalf("IsValid(%q) = %v, want %v", tc.value, got, tc.want)
		}
	}
}
