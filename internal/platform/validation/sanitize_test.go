package validation

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newTestSanitizer() *Sanitizer {
	return NewSanitizer(DefaultLimits(), zerolog.Nop())
}

func TestPatientID_Valid(t *testing.T) {
	s := newTestSanitizer()
	for _, id := range []string{"PT12345", "PATIENT-001", "USER_123", "ID.123.456"} {
		got, err := s.PatientID(id)
		if err != nil {
			t.Errorf("expected %q to be accepted, got %v", id, err)
			continue
		}
		if got != id {
			t.Errorf("expected %q, got %q", id, got)
		}
	}
}

func TestPatientID_StripsControlCharacters(t *testing.T) {
	s := newTestSanitizer()
	got, err := s.PatientID("PT\x0012345\n\r")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "PT12345" {
		t.Errorf("expected 'PT12345', got %q", got)
	}

	got, err = s.PatientID("PT\u0085123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "PT123" {
		t.Errorf("expected C1 control stripped, got %q", got)
	}
}

func TestPatientID_Rejections(t *testing.T) {
	s := newTestSanitizer()
	tests := []struct {
		name   string
		input  string
		reason string
	}{
		{"empty", "", "cannot be empty"},
		{"only controls", "\x00\x01", "cannot be empty"},
		{"too long", strings.Repeat("P", 101), "exceeds maximum length"},
		{"sql quote", "PT123'; DROP TABLE patients; --", "invalid characters"},
		{"sql double quote", `PT123" OR "1"="1`, "invalid characters"},
		{"union", "PT123' UNION SELECT * FROM patients--", "invalid characters"},
		{"space", "PT 123", "invalid characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.PatientID(tt.input)
			if err == nil {
				t.Fatalf("expected error for %q", tt.input)
			}
			if !errors.Is(err, ErrPatientID) {
				t.Errorf("expected ErrPatientID, got %v", err)
			}
			if !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation to match, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.reason) {
				t.Errorf("expected reason %q in %q", tt.reason, err.Error())
			}
		})
	}
}

func TestPatientID_MaxLengthBoundary(t *testing.T) {
	s := newTestSanitizer()
	id := strings.Repeat("A", 100)
	if _, err := s.PatientID(id); err != nil {
		t.Errorf("expected 100-character id to pass, got %v", err)
	}
}

func TestPatientName_Valid(t *testing.T) {
	s := newTestSanitizer()
	for _, name := range []string{"José García", "O'Brien", "Smith, Jr.", "Dr. Jane Doe", "John O'Brien-Smith"} {
		got, err := s.PatientName(name)
		if err != nil {
			t.Errorf("expected %q to be accepted, got %v", name, err)
			continue
		}
		if got != name {
			t.Errorf("expected %q, got %q", name, got)
		}
	}
}

func TestPatientName_Rejections(t *testing.T) {
	s := newTestSanitizer()
	for _, name := range []string{"Robert'); DROP TABLE--", "<script>alert(1)</script>", strings.Repeat("A", 201)} {
		_, err := s.PatientName(name)
		if err == nil {
			t.Errorf("expected %q to be rejected", name)
			continue
		}
		if errors.Is(err, ErrPatientID) {
			t.Errorf("name rejection should not be a patient id error: %v", err)
		}
	}
}

func TestPatientName_Empty(t *testing.T) {
	s := newTestSanitizer()
	got, err := s.PatientName("  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "" {
		t.Errorf("expected empty name, got %q", got)
	}
}

// Every output of a successful sanitize call must match the field pattern.
func TestSanitizer_NeverPassesDisallowedCharacters(t *testing.T) {
	s := newTestSanitizer()
	inputs := []string{
		"PT-1\x00", "PT;1", "PT\t1", "A B", "abc/def", "x​y",
		"PT123", "Ünïcode", "a.b_c-d", "\x7fPT9\x9f", "O'Neil", "name,with,commas",
	}
	for _, in := range inputs {
		if out, err := s.PatientID(in); err == nil && !patientIDPattern.MatchString(out) {
			t.Errorf("PatientID(%q) passed disallowed output %q", in, out)
		}
		if out, err := s.PatientName(in); err == nil && out != "" && !patientNamePattern.MatchString(out) {
			t.Errorf("PatientName(%q) passed disallowed output %q", in, out)
		}
		if out, err := s.Text("note", in, 0); err == nil && out != StripControl(out) {
			t.Errorf("Text(%q) kept control characters in %q", in, out)
		}
	}
}

func TestText(t *testing.T) {
	s := newTestSanitizer()
	got, err := s.Text("note", "  Normal text\x00 ", 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Normal text" {
		t.Errorf("expected 'Normal text', got %q", got)
	}

	if _, err := s.Text("note", strings.Repeat("x", 51), 50); err == nil {
		t.Error("expected error for text over max length")
	}
	if _, err := s.Text("note", strings.Repeat("x", 500), 0); err != nil {
		t.Errorf("expected default limit 500 to accept 500 chars, got %v", err)
	}
}

func TestValidationError_TruncatesValue(t *testing.T) {
	err := New(KindHL7, "message", strings.Repeat("x", 150), "message too large")
	if len(err.Value) != 100 {
		t.Errorf("expected truncated value of 100 chars, got %d", len(err.Value))
	}
	if !strings.HasSuffix(err.Value, "...") {
		t.Errorf("expected truncated value to end with '...', got %q", err.Value[90:])
	}
	if !errors.Is(err, ErrHL7Validation) || errors.Is(err, ErrFile) {
		t.Errorf("unexpected kind matching for %v", err)
	}
	if !strings.Contains(err.Error(), "Validation failed for 'message'") && !strings.Contains(err.Error(), "validation failed for 'message'") {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestValidateImportFile(t *testing.T) {
	dir := t.TempDir()

	valid := filepath.Join(dir, "ok.hl7")
	if err := os.WriteFile(valid, []byte(strings.Repeat("A", 200)), 0o600); err != nil {
		t.Fatal(err)
	}
	small := filepath.Join(dir, "small.hl7")
	if err := os.WriteFile(small, []byte("AB"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := ValidateImportFile(valid, 100, 1024); err != nil {
		t.Errorf("expected valid file to pass, got %v", err)
	}

	link := filepath.Join(dir, "link.hl7")
	if err := os.Symlink(valid, link); err == nil {
		got, err := ValidateImportFile(link, 100, 1024)
		if err != nil {
			t.Errorf("expected symlink to resolve, got %v", err)
		}
		if got == link {
			t.Errorf("expected resolved path, got the link itself")
		}
	}

	cases := map[string]string{
		"missing":   filepath.Join(dir, "nope.hl7"),
		"directory": dir,
		"small":     small,
	}
	for name, path := range cases {
		_, err := ValidateImportFile(path, 100, 1024)
		if !errors.Is(err, ErrFile) {
			t.Errorf("%s: expected ErrFile, got %v", name, err)
		}
	}

	if _, err := ValidateImportFile(valid, 100, 150); !errors.Is(err, ErrFile) {
		t.Errorf("expected oversized file to fail, got %v", err)
	}
}
