package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDates = errors.New("start date is after end date")
	ErrInvalidInput = errors.New("invalid input")
)

// ParseError reports a remote document that could not be turned into an
// entity.
type ParseError struct {
	Entity string
	ID     string
	Field  string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("parse %s %q: %v", e.Entity, e.ID, e.Err)
	}
	return fmt.Sprintf("parse %s %q field %s: %v", e.Entity, e.ID, e.Field, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
