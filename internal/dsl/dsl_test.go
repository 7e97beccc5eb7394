package dsl_test

import (
	"testing"

	"github.com/caliber-dev/caliber/internal/dsl"
	"github.com/caliber-dev/caliber/internal/dsl/parser"
)

func TestRoundTripPrettyPrint(t *testing.T) {
	src := `caliber: "1.0" {
		memory "notes" {
			type: "note"
			retention: 30d
			indexes: ["a", "b"]
		}
		injection "recent" {
			priority: 10
			filter: role eq "user" AND NOT archived eq true
		}
	}`

	doc, err := parser.Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	printed := dsl.PrettyPrint(doc)
	reparsed, err := parser.Parse(printed)
	if err != nil {
		t.Fatalf("reparse pretty-printed source: %v\n%s", err, printed)
	}

	if reparsed.Version != doc.Version {
		t.Fatalf("version mismatch after round-trip: %q vs %q", reparsed.Version, doc.Version)
	}
	if len(reparsed.Definitions) != len(doc.Definitions) {
		t.Fatalf("definition count mismatch after round-trip: %d vs %d", len(reparsed.Definitions), len(doc.Definitions))
	}

	memDef, ok := reparsed.Find("memory", "notes")
	if !ok {
		t.Fatal("expected memory \"notes\" definition after round-trip")
	}
	orig, _ := doc.Find("memory", "notes")
	if memDef.Fields["retention"].Dur != orig.Fields["retention"].Dur {
		t.Fatalf("retention mismatch after round-trip: %v vs %v", memDef.Fields["retention"].Dur, orig.Fields["retention"].Dur)
	}
}
