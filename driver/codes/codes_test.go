package codes

import "testing"

func TestNameKnownCode(t *testing.T) {
	if got := Name(11000); got != "DuplicateKey" {
		t.Fatalf("Name(11000) = %q, want DuplicateKey", got)
	}
}

func TestNameUnknownCode(t *testing.T) {
	if got := Name(987654321); got != "" {
		t.Fatalf("Name(unknown) = %q, want empty string", got)
	}
}
