// Package validate implements the schema and cross-reference checks
// from spec.md §4.11 that the grammar alone does not enforce: unknown
// fields are rejected, references must resolve, tool command shape,
// injection priority range, and mode-specific required fields.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/caliber-dev/caliber/internal/dsl"
	"github.com/caliber-dev/caliber/internal/errs"
)

// schemas enumerates the allowed field names per definition kind.
// A field not listed here is rejected, not silently ignored.
var schemas = map[string]map[string]bool{
	"adapter": fieldSet("profile", "toolset", "tool", "provider", "command", "timeout"),
	"memory":  fieldSet("type", "schema", "retention", "lifecycle", "parent", "indexes", "inject_on", "artifacts"),
	"policy":  fieldSet("region", "require_lock", "conflict_resolution", "readers", "writers"),
	"injection": fieldSet("mode", "top_k", "threshold", "priority", "filter", "adapter"),
}

func fieldSet(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

var shellMetacharacters = regexp.MustCompile(`[;|&$` + "`" + `(){}<>!\n]`)

// Validate runs every rule in spec.md §4.11 against doc, returning the
// first violation found. Definitions are otherwise checked
// independently of order.
func Validate(doc *dsl.Document) error {
	for _, def := range doc.Definitions {
		schema, ok := schemas[def.Kind]
		if !ok {
			return &errs.ValidationError{Field: def.Kind, Reason: "unknown definition kind"}
		}
		for field := range def.Fields {
			if !schema[field] {
				return &errs.ValidationError{Field: def.Kind + "." + field, Reason: "unknown field"}
			}
		}
		if err := validateDefinition(doc, def); err != nil {
			return err
		}
	}
	return nil
}

func validateDefinition(doc *dsl.Document, def dsl.Definition) error {
	switch def.Kind {
	case "adapter":
		return validateAdapter(def)
	case "injection":
		return validateInjection(doc, def)
	case "memory":
		return validateMemory(doc, def)
	default:
		return nil
	}
}

func validateAdapter(def dsl.Definition) error {
	cmd, ok := def.Fields["command"]
	if !ok {
		return nil
	}
	if cmd.Kind != dsl.ValueString {
		return &errs.ValidationError{Field: "adapter." + def.Name + ".command", Reason: "must be a string"}
	}
	if !strings.HasPrefix(cmd.Str, "./") && !strings.HasPrefix(cmd.Str, "/") {
		return &errs.ValidationError{Field: "adapter." + def.Name + ".command", Reason: "must begin with ./ or /"}
	}
	if strings.Contains(cmd.Str, "..") {
		return &errs.ValidationError{Field: "adapter." + def.Name + ".command", Reason: "must not contain .."}
	}
	if shellMetacharacters.MatchString(cmd.Str) {
		return &errs.ValidationError{Field: "adapter." + def.Name + ".command", Reason: "must not contain shell metacharacters"}
	}
	return nil
}

func validateInjection(doc *dsl.Document, def dsl.Definition) error {
	priority, ok := def.Fields["priority"]
	if ok {
		if priority.Kind != dsl.ValueNumber || priority.Num < 0 || priority.Num > 899 {
			return &errs.ValidationError{Field: "injection." + def.Name + ".priority", Reason: "must be in [0, 899]"}
		}
	}

	mode, hasMode := def.Fields["mode"]
	if hasMode {
		switch mode.Str {
		case "topk":
			if _, ok := def.Fields["top_k"]; !ok {
				return &errs.ValidationError{Field: "injection." + def.Name + ".top_k", Reason: "required when mode is topk"}
			}
		case "relevant":
			threshold, ok := def.Fields["threshold"]
			if !ok {
				return &errs.ValidationError{Field: "injection." + def.Name + ".threshold", Reason: "required when mode is relevant"}
			}
			if threshold.Kind != dsl.ValueNumber || threshold.Num < 0 || threshold.Num > 1 {
				return &errs.ValidationError{Field: "injection." + def.Name + ".threshold", Reason: "must be in [0, 1]"}
			}
		}
	}

	if adapterRef, ok := def.Fields["adapter"]; ok {
		if _, found := doc.Find("adapter", adapterRef.Str); !found {
			return &errs.ValidationError{Field: "injection." + def.Name + ".adapter", Reason: fmt.Sprintf("references unknown adapter %q", adapterRef.Str)}
		}
	}
	return nil
}

func validateMemory(doc *dsl.Document, def dsl.Definition) error {
	if parent, ok := def.Fields["parent"]; ok {
		if _, found := doc.Find("memory", parent.Str); !found {
			return &errs.ValidationError{Field: "memory." + def.Name + ".parent", Reason: fmt.Sprintf("references unknown memory %q", parent.Str)}
		}
	}
	return nil
}
