package email

import "testing"

func TestLocalPart(t *testing.T) {
	cases := map[string]string{
		"jdoe@example.com":     "jdoe",
		"jane.doe@x.org":       "jane.doe",
		"with@two@ats":         "with",
		"noat":                 "noat",
		"":                     "",
		"@leading.example.com": "",
	}
	for in, want := range cases {
		if got := LocalPart(in); got != want {
			t.Errorf("LocalPart(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValid(t *testing.T) {
	valid := []string{"a@b.com", "a@b", "jane.doe@x.org"}
	invalid := []string{"", "not-an-email", "plainstring"}

	for _, in := range valid {
		if !Valid(in) {
			t.Errorf("Valid(%q) = false, want true", in)
		}
	}
	for _, in := range invalid {
		if Valid(in) {
			t.Errorf("Valid(%q) = true, want false", in)
		}
	}
}
