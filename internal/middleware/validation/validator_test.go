package validation

import "testing"

func TestIsSafeSegment(t *testing.T) {
	cases := map[string]bool{
		"IF":           true,
		"OmniGen2":     true,
		"flux-kontext": true,
		"gpt_image.1":  true,
		"..":           false,
		"a..b":         false,
		"a/b":          false,
		".hidden":      false,
		"":             false,
	}
	for in, want := range cases {
		if got := IsSafeSegment(in, 64); got != want {
			t.Errorf("IsSafeSegment(%q) = %v, want %v", in, got, want)
		}
	}
	if IsSafeSegment("abcdef", 3) {
		t.Error("expected length limit")
	}
}
