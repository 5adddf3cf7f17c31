package phone

import "testing"

func TestNormalizeE164(t *testing.T) {
	cases := map[string]string{
		"650-253-0000":      "+16502530000",
		" +44 20 7031 3000": "+442070313000",
		"not a number":      "not a number",
		"":                  "",
	}
	for in, want := range cases {
		if got := NormalizeE164(in); got != want {
			t.Fatalf("NormalizeE164(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsValid(t *testing.T) {
	if !IsValid("(650) 253-0000") {
		t.Fatalf("expected US number to be valid")
	}
	if IsValid("12") || IsValid("  ") {
		t.Fatalf("expected short and empty input to be invalid")
	}
}
