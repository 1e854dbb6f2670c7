package dbtypes

import (
	"reflect"
	"testing"
)

func TestStringArrayRoundTrip(t *testing.T) {
	in := StringArray{"cctv", "access control", `odd"name`}

	val, err := in.Value()
	if err != nil {
		t.Fatalf("Value() failed: %v", err)
	}

	var out StringArray
	if err := out.Scan(val); err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch: in=%v out=%v", in, out)
	}
}

func TestStringArrayScanEmpty(t *testing.T) {
	var out StringArray
	if err := out.Scan("{}"); err != nil {
		t.Fatalf("Scan({}) failed: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty array, got %v", out)
	}

	if err := out.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) failed: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty array from nil, got %v", out)
	}
}

func TestStringArrayScanMalformed(t *testing.T) {
	var out StringArray
	if err := out.Scan("not-an-array"); err == nil {
		t.Fatal("expected malformed literal to error")
	}
}
