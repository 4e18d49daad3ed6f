package model

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when a referenced prediction (or user) does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyBet is returned when the (prediction, user) uniqueness
	// constraint rejects a bet.
	ErrAlreadyBet = errors.New("you have already bet on this prediction")

	// ErrInvalidInput is matched by every *ValidationError.
	ErrInvalidInput = errors.New("invalid input")
)

// ValidationError lists every violated input constraint of a request.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, ", ")
}

// Is makes errors.Is(err, ErrInvalidInput) true for validation errors.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// Validation returns a *ValidationError for problems, or nil when there are
// none.
func Validation(problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}
