package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestProcessingErrorUnwrap(t *testing.T) {
	pe := NewProcessingError("enrich", "threat_intel", fmt.Errorf("lookup: %w", ErrTimeout))

	if !errors.Is(pe, ErrTimeout) {
		t.Error("expected ProcessingError to unwrap to ErrTimeout")
	}
	if pe.At.IsZero() {
		t.Error("expected At to be stamped")
	}
}

func TestRecorderRing(t *testing.T) {
	r := NewRecorder(3)

	for i := 0; i < 5; i++ {
		r.Record(NewProcessingError("rules", fmt.Sprintf("rule-%d", i), ErrValidation))
	}

	if r.Total() != 5 {
		t.Errorf("expected total 5, got %d", r.Total())
	}

	recent := r.Recent()
	if len(recent) != 3 {
		t.Fatalf("expected 3 recent, got %d", len(recent))
	}
	if recent[0].Unit != "rule-2" || recent[2].Unit != "rule-4" {
		t.Errorf("expected oldest-first rule-2..rule-4, got %s..%s", recent[0].Unit, recent[2].Unit)
	}
}

func TestRecorderPartial(t *testing.T) {
	r := NewRecorder(10)
	r.Record(NewProcessingError("enrich", "geo", ErrTimeout))

	recent := r.Recent()
	if len(recent) != 1 {
		t.Fatalf("expected 1 recent, got %d", len(recent))
	}
	if recent[0].Stage != "enrich" {
		t.Errorf("unexpected stage %s", recent[0].Stage)
	}
}
