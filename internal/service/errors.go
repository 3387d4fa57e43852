package service

import (
	"errors"
	"fmt"

	"optica/backend/internal/apperror"
)

type (
	ValidationError = apperror.ValidationError
	FieldError      = apperror.FieldError
)

var (
	ErrValidation        = apperror.ErrValidation
	ErrForbidden         = errors.New("admin role required")
	ErrInvalidTransition = errors.New("invalid sale status transition")
)

type WriteStep string

const (
	StepItems     WriteStep = "items"
	StepVendors   WriteStep = "vendors"
	StepCustomers WriteStep = "customers"
)

// PartialWriteError reports a sale creation step that failed after the header
// was inserted. Err is the original cause; CompensationErr is set when the
// compensating delete also failed.
type PartialWriteError struct {
	Step            WriteStep
	SaleID          string
	Folio           string
	Compensated     bool
	CompensationErr error
	Err             error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("create sale %s: %s step failed (compensated=%t): %v", e.Folio, e.Step, e.Compensated, e.Err)
}

func (e *PartialWriteError) Unwrap() error {
	return e.Err
}
