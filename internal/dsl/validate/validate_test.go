package validate

import (
	"testing"

	"github.com/caliber-dev/caliber/internal/dsl"
	"github.com/caliber-dev/caliber/internal/dsl/parser"
	"github.com/caliber-dev/caliber/internal/errs"
)

func mustParse(t *testing.T, src string) *dsl.Document {
	t.Helper()
	doc, err := parser.Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func TestValidateRejectsUnknownField(t *testing.T) {
	doc := mustParse(t, `caliber: "1.0" { memory "x" { bogus_field: "y" } }`)
	err := Validate(doc)
	if _, ok := errs.As[*errs.ValidationError](err); !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestValidateRejectsInjectionPriorityOutOfRange(t *testing.T) {
	doc := mustParse(t, `caliber: "1.0" { injection "x" { priority: 1000 } }`)
	if err := Validate(doc); err == nil {
		t.Fatal("expected priority out of range to fail")
	}
}

func TestValidateTopkModeRequiresTopK(t *testing.T) {
	doc := mustParse(t, `caliber: "1.0" { injection "x" { mode: "topk" } }`)
	if err := Validate(doc); err == nil {
		t.Fatal("expected missing top_k to fail")
	}
}

func TestValidateRejectsUnsafeAdapterCommand(t *testing.T) {
	doc := mustParse(t, `caliber: "1.0" { adapter "x" { command: "rm -rf / ; echo pwned" } }`)
	if err := Validate(doc); err == nil {
		t.Fatal("expected unsafe command to fail")
	}
}

func TestValidateAcceptsWellFormedDocument(t *testing.T) {
	doc := mustParse(t, `caliber: "1.0" {
		adapter "cli" { command: "./bin/run" }
		injection "recent" { mode: "topk" top_k: 5 priority: 10 adapter: "cli" }
	}`)
	if err := Validate(doc); err != nil {
		t.Fatalf("expected valid document, got %v", err)
	}
}
