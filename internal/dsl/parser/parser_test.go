package parser

import (
	"testing"

	"github.com/caliber-dev/caliber/internal/dsl"
)

func TestParseMinimalDocument(t *testing.T) {
	doc, err := Parse(`caliber: "1.0" {
		memory "notes" {
			type: "note"
			retention: 30d
			indexes: ["a", "b"]
			artifacts: true
		}
	}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if doc.Version != "1.0" {
		t.Fatalf("expected version 1.0, got %q", doc.Version)
	}
	def, ok := doc.Find("memory", "notes")
	if !ok {
		t.Fatal("expected memory \"notes\" definition")
	}
	if def.Fields["type"].Str != "note" {
		t.Fatalf("expected type note, got %+v", def.Fields["type"])
	}
	if def.Fields["retention"].Kind != dsl.ValueDuration {
		t.Fatalf("expected a duration field, got %+v", def.Fields["retention"])
	}
	if len(def.Fields["indexes"].List) != 2 {
		t.Fatalf("expected 2 indexes, got %+v", def.Fields["indexes"])
	}
}

func TestParseFilterPrecedence(t *testing.T) {
	doc, err := Parse(`caliber: "1.0" {
		injection "recent" {
			priority: 10
			filter: role eq "user" AND NOT archived eq true OR pinned eq true
		}
	}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	def, _ := doc.Find("injection", "recent")
	expr := def.Fields["filter"].Filter
	if expr.Op != dsl.FilterOr {
		t.Fatalf("expected top-level OR (lowest precedence), got %v", expr.Op)
	}
	if expr.Left.Op != dsl.FilterAnd {
		t.Fatalf("expected AND binding tighter than OR, got %v", expr.Left.Op)
	}
}

func TestParseMissingDefinitionKindIsSyntaxError(t *testing.T) {
	_, err := Parse(`caliber: "1.0" { bogus "x" { } }`)
	if err == nil {
		t.Fatal("expected a syntax error for an unknown definition kind")
	}
}

func TestParseUnterminatedDocumentIsSyntaxError(t *testing.T) {
	_, err := Parse(`caliber: "1.0" { memory "x" { type: "a" }`)
	if err == nil {
		t.Fatal("expected a syntax error for a missing closing brace")
	}
}
