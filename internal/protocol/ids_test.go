package protocol

import (
	"strings"
	"testing"
)

func TestHashStringRoundTrip(t *testing.T) {
	h := testHash("some-content")

	parsed, err := ParseHash(h.String())
	if err != nil {
		t.Fatalf("ParseHash failed: %v", err)
	}
	if parsed != h {
		t.Errorf("round trip mismatch: %s vs %s", parsed, h)
	}
}

func TestParseHashInvalid(t *testing.T) {
	cases := []string{
		"",
		"zz",
		strings.Repeat("ab", HashSize-1),
		strings.Repeat("ab", HashSize+1),
	}
	for _, c := range cases {
		if _, err := ParseHash(c); err == nil {
			t.Errorf("ParseHash(%q): expected error", c)
		}
	}
}

func TestNodeIDStringRoundTrip(t *testing.T) {
	var id NodeID
	copy(id[:], "node-identity")

	parsed, err := ParseNodeID(id.String())
	if err != nil {
		t.Fatalf("ParseNodeID failed: %v", err)
	}
	if parsed != id {
		t.Errorf("round trip mismatch: %s vs %s", parsed, id)
	}
	if len(id.Short()) != 8 {
		t.Errorf("Short() should be 8 hex chars, got %q", id.Short())
	}
}

func TestParseNodeIDInvalid(t *testing.T) {
	if _, err := ParseNodeID("not-hex"); err == nil {
		t.Error("expected error for non-hex input")
	}
	if _, err := ParseNodeID("abcd"); err == nil {
		t.Error("expected error for short input")
	}
}
