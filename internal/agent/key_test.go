package agent

import "testing"

func TestKebabCase(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"TestAgent", "test-agent"},
		{"TEST_AGENT", "test-agent"},
		{"testAgentName", "test-agent-name"},
		{"test-agent", "test-agent"},
		{"Test123", "test123"},
		{"test123Agent", "test123-agent"},
		{"A", "a"},
		{"aBc", "a-bc"},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got := KebabCase(tc.in)
			if got != tc.want {
				t.Errorf("KebabCase(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestKebabCaseIdempotent(t *testing.T) {
	inputs := []string{"TestAgent", "TEST_AGENT", "testAgentName", "test-agent", "Test123", "test123Agent", "A", "aBc"}
	for _, in := range inputs {
		once := KebabCase(in)
		twice := KebabCase(once)
		if once != twice {
			t.Errorf("KebabCase not idempotent for %q: KebabCase(x)=%q, KebabCase(KebabCase(x))=%q", in, once, twice)
		}
	}
}

func TestDeriveIDIsDeterministic(t *testing.T) {
	k := Key{Class: "Counter", Instance: "abc"}
	id1 := DeriveID(k)
	id2 := DeriveID(k)
	if id1 != id2 {
		t.Fatalf("DeriveID not deterministic: %q != %q", id1, id2)
	}

	other := Key{Class: "Counter", Instance: "xyz"}
	if DeriveID(other) == id1 {
		t.Fatalf("DeriveID collided across distinct instances")
	}
}
