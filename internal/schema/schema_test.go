package schema

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const userSchema = `{
	"type": "object",
	"additionalProperties": false,
	"required": ["keymap"],
	"properties": {
		"keymap": {"type": "string"},
		"layout": {"type": "string", "enum": ["qwerty", "dvorak"]}
	}
}`

func TestValidateOK(t *testing.T) {
	s, err := Compile("test.json", []byte(userSchema))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	if err := s.Validate([]byte(`{"keymap":"us","layout":"qwerty"}`)); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateMissingRequired(t *testing.T) {
	s, err := Compile("test.json", []byte(userSchema))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	err = s.Validate([]byte(`{}`))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}

func TestValidateAdditionalProperties(t *testing.T) {
	s, err := Compile("test.json", []byte(userSchema))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	err = s.Validate([]byte(`{"keymap":"us","bogus":1}`))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}

func TestValidateEnumeratesAllViolations(t *testing.T) {
	s, err := Compile("test.json", []byte(userSchema))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	// Missing required keymap, undeclared property, and a bad enum value.
	err = s.Validate([]byte(`{"bogus":1,"layout":"azerty"}`))

	var verr *Error
	if !errors.As(err, &verr) {
		t.Fatalf("err = %T, want *Error", err)
	}
	if len(verr.Violations) < 2 {
		t.Fatalf("violations = %v, want at least 2", verr.Violations)
	}
}

func TestValidateTypeMismatch(t *testing.T) {
	s, err := Compile("test.json", []byte(userSchema))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	if err := s.Validate([]byte(`{"keymap":42}`)); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}

func TestLoadMissingSchemaIsPermissive(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := s.Validate([]byte(`{"anything": ["goes", 1, null]}`)); err != nil {
		t.Fatalf("permissive schema rejected options: %v", err)
	}
}

func TestLoadBrokenSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(path, []byte(`{"type": `), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); !errors.Is(err, ErrSchema) {
		t.Fatalf("err = %v, want ErrSchema", err)
	}
}

func TestErrorMessageListsViolations(t *testing.T) {
	e := &Error{Violations: []string{"/a: missing", "/b: wrong type"}}
	msg := e.Error()
	if !strings.Contains(msg, "/a: missing") || !strings.Contains(msg, "/b: wrong type") {
		t.Fatalf("message %q does not list all violations", msg)
	}
}
