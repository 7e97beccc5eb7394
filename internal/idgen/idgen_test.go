package idgen

import (
	"testing"
	"time"
)

func TestNewIsTimeSortable(t *testing.T) {
	a := New()
	time.Sleep(2 * time.Millisecond)
	b := New()

	if !a.Less(b) {
		t.Fatalf("expected %s < %s", a, b)
	}
}

func TestParseRoundTrip(t *testing.T) {
	want := New()
	got, err := Parse(want.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.String() != want.String() {
		t.Fatalf("round trip mismatch: %s != %s", got, want)
	}
}

func TestZeroValue(t *testing.T) {
	var id ID
	if !id.IsZero() {
		t.Fatal("zero ID should report IsZero")
	}
}

func TestScanAndValue(t *testing.T) {
	id := New()
	v, err := id.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}

	var scanned ID
	if err := scanned.Scan(v); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if scanned.String() != id.String() {
		t.Fatalf("scan mismatch: %s != %s", scanned, id)
	}
}
