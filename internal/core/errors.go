package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAutomationNotFound = errors.New("automation not found")
	ErrRunNotFound        = errors.New("run not found")
	ErrRunInProgress      = errors.New("automation already has a run in progress")
	ErrInvalidAutomation  = errors.New("invalid automation")
)

// ValidationError lists every problem found in an automation configuration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid automation: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidAutomation
}

// PanicError carries a recovered panic and the stack it was raised on.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
