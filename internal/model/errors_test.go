package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestValidation_NoProblems(t *testing.T) {
	if err := Validation(nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestValidation_JoinsAllProblems(t *testing.T) {
	err := Validation([]string{"title is required", "link is required"})
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "title is required, link is required" {
		t.Errorf("unexpected message: %q", err.Error())
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("validation error should match ErrInvalidInput")
	}

	wrapped := fmt.Errorf("create prediction: %w", err)
	var ve *ValidationError
	if !errors.As(wrapped, &ve) {
		t.Fatal("expected errors.As to find *ValidationError")
	}
	if len(ve.Problems) != 2 {
		t.Errorf("expected 2 problems, got %d", len(ve.Problems))
	}
}

func TestSide_Valid(t *testing.T) {
	tests := map[Side]bool{
		SideIn:  true,
		SideOut: true,
		"":      false,
		"IN":    false,
		"maybe": false,
	}
	for side, want := range tests {
		if got := side.Valid(); got != want {
			t.Errorf("Side(%q).Valid() = %v, want %v", side, got, want)
		}
	}
}
