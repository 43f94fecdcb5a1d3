package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@college.edu or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestRedactPIIStudentRecords(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		marker string
	}{
		{name: "student id", input: "My student ID: S20231234 is locked", marker: "[REDACTED_STUDENT_ID]"},
		{name: "enrollment number", input: "enrollment number 88812345", marker: "[REDACTED_STUDENT_ID]"},
		{name: "ssn", input: "my ssn is 123-45-6789", marker: "[REDACTED_SSN]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, changed := RedactPII(tt.input)
			if !changed || !strings.Contains(out, tt.marker) {
				t.Fatalf("RedactPII(%q) = %q, %v; want %s", tt.input, out, changed, tt.marker)
			}
		})
	}
}

func TestRedactPIILeavesQuestionsAlone(t *testing.T) {
	input := "When does the library open in 2024?"
	out, changed := RedactPII(input)
	if changed || out != input {
		t.Fatalf("RedactPII(%q) = %q, %v; want unchanged", input, out, changed)
	}
}
