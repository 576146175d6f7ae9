// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package guda structured error types for better error handling
package guda

import (
	"errors"
	"fmt"
)

// ErrorType represents categories of errors
type ErrorType int

const (
	// Memory errors
	ErrTypeMemory ErrorType = iota
	// Invalid argument errors: bad shapes, sizes or indices passed to a
	// launch. Nothing has been executed when one is returned.
	ErrTypeInvalidArg
	// Execution errors: a kernel faulted. Output written by the launch
	// is undefined.
	ErrTypeExecution
	// Configuration errors: contradictory or missing construction
	// parameters.
	ErrTypeConfiguration
)

// GUDAError represents a structured error with context
type GUDAError struct {
	Type    ErrorType
	Op      string      // Operation that failed
	Message string      // Human-readable message
	Err     error       // Underlying error if any
	Context interface{} // Additional context
}

// Error implements the error interface
func (e *GUDAError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("GUDA %s error in %s: %s (caused by: %v)",
			e.Type.String(), e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("GUDA %s error in %s: %s",
		e.Type.String(), e.Op, e.Message)
}

// Unwrap allows error chain inspection
func (e *GUDAError) Unwrap() error {
	return e.Err
}

// String returns the error type as a string
func (t ErrorType) String() string {
	switch t {
	case ErrTypeMemory:
		return "Memory"
	case ErrTypeInvalidArg:
		return "InvalidArgument"
	case ErrTypeExecution:
		return "Execution"
	case ErrTypeConfiguration:
		return "Configuration"
	default:
		return "Unknown"
	}
}

// Common error constructors

// NewMemoryError creates a memory-related error
func NewMemoryError(op string, message string, err error) error {
	return &GUDAError{
		Type:    ErrTypeMemory,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// NewInvalidArgError creates an invalid argument error
func NewInvalidArgError(op string, message string) error {
	return &GUDAError{
		Type:    ErrTypeInvalidArg,
		Op:      op,
		Message: message,
	}
}

// NewExecutionError creates an execution error
func NewExecutionError(op string, message string, err error) error {
	return &GUDAError{
		Type:    ErrTypeExecution,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// NewConfigurationError creates a configuration error. context carries
// the offending values for callers that want to inspect them.
func NewConfigurationError(op string, message string, err error, context interface{}) error {
	return &GUDAError{
		Type:    ErrTypeConfiguration,
		Op:      op,
		Message: message,
		Err:     err,
		Context: context,
	}
}

// Common pre-defined errors

var (
	// ErrInvalidSize indicates invalid size parameter
	ErrInvalidSize = NewInvalidArgError("Malloc", "size must be positive")

	// ErrNullPointer indicates null pointer access
	ErrNullPointer = NewInvalidArgError("Memory", "null pointer")

	// ErrDoubleFree indicates double free attempt
	ErrDoubleFree = NewMemoryError("Free", "double free detected", nil)

	// ErrInvalidDevice indicates invalid device ID
	ErrInvalidDevice = NewInvalidArgError("SetDevice", "invalid device ID")

	// ErrStreamClosed indicates work submitted after its context was destroyed
	ErrStreamClosed = NewInvalidArgError("Submit", "stream closed")
)

func isType(err error, t ErrorType) bool {
	var e *GUDAError
	if errors.As(err, &e) {
		return e.Type == t
	}
	return false
}

// IsMemoryError checks if an error is a memory error
func IsMemoryError(err error) bool {
	return isType(err, ErrTypeMemory)
}

// IsInvalidArgError checks if an error is an invalid argument error
func IsInvalidArgError(err error) bool {
	return isType(err, ErrTypeInvalidArg)
}

// IsExecutionError checks if an error is a kernel execution fault
func IsExecutionError(err error) bool {
	return isType(err, ErrTypeExecution)
}

// IsConfigurationError checks if an error is a configuration error
func IsConfigurationError(err error) bool {
	return isType(err, ErrTypeConfiguration)
}
