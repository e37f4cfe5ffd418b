package repository

import (
	"testing"
	"time"
)

func TestQueryHash_NormalizesCaseAndWhitespace(t *testing.T) {
	a := QueryHash("  Metformin AND Weight Loss  ")
	b := QueryHash("metformin and weight loss")
	if a != b {
		t.Fatalf("expected normalized hashes to match: %s vs %s", a, b)
	}
}

func TestQueryHash_DifferentQueriesDiffer(t *testing.T) {
	a := QueryHash("metformin")
	b := QueryHash("insulin")
	if a == b {
		t.Fatal("expected distinct hashes for distinct queries")
	}
}

func TestQueryHash_IsHexMD5Length(t *testing.T) {
	h := QueryHash("aspirin")
	if len(h) != 32 {
		t.Fatalf("expected a 32-char hex md5 digest, got %d chars", len(h))
	}
}

func TestAcceptedAtOrNow_FillsZeroValue(t *testing.T) {
	got := acceptedAtOrNow(time.Time{})
	if got.IsZero() {
		t.Fatal("expected zero time to be replaced with now")
	}
}

func TestAcceptedAtOrNow_PreservesNonZero(t *testing.T) {
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got := acceptedAtOrNow(want)
	if !got.Equal(want) {
		t.Fatalf("expected %v to be preserved, got %v", want, got)
	}
}
