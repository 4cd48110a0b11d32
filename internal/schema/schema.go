package schema

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Printer for rendering violation messages.
var printer = message.NewPrinter(language.English)

// A compiled options schema for one stage, assembler, or source.
//
// The zero value (and a schema loaded from a missing file) is permissive:
// it accepts any options document. Permissive stages still participate in
// fingerprinting through canonical option serialization.
type Schema struct {
	compiled *jsonschema.Schema
}

// Loads and compiles the schema document stored alongside an executable.
//
// A missing file yields a permissive schema. A document that exists but
// does not parse or compile is an error: a broken schema must not let a
// stage execute unvalidated.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Schema{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return Compile(path, data)
}

// Compiles a schema document under the given resource name.
func Compile(name string, data []byte) (*Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSchema, name, err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSchema, name, err)
	}

	compiled, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSchema, name, err)
	}

	return &Schema{compiled: compiled}, nil
}

// Validates an options document (canonical JSON bytes) against the schema.
//
// Returns nil if the document is valid or the schema is permissive. On
// failure the returned [*Error] enumerates every violated constraint, not
// just the first.
func (s *Schema) Validate(options []byte) error {
	if s.compiled == nil {
		return nil
	}
	if len(options) == 0 {
		options = []byte("{}")
	}

	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(options))
	if err != nil {
		return &Error{Violations: []string{fmt.Sprintf("options are not valid JSON: %v", err)}}
	}

	err = s.compiled.Validate(instance)
	if err == nil {
		return nil
	}

	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &Error{Violations: []string{err.Error()}}
	}

	return &Error{Violations: violations(ve)}
}

// Flattens a validation error tree into a sorted list of leaf violations.
func violations(ve *jsonschema.ValidationError) []string {
	var out []string
	collect(ve, &out)
	sort.Strings(out)
	return out
}

// Walks the cause tree, appending a message for every leaf error.
func collect(ve *jsonschema.ValidationError, out *[]string) {
	if len(ve.Causes) == 0 {
		location := "/" + strings.Join(ve.InstanceLocation, "/")
		*out = append(*out, fmt.Sprintf("%s: %s", location, ve.ErrorKind.LocalizedString(printer)))
		return
	}
	for _, cause := range ve.Causes {
		collect(cause, out)
	}
}
