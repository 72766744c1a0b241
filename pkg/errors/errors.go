// Unified error handling for the step generation core
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	"fmt"
	"runtime"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Configuration errors
	ErrConfigSection    ErrorCode = "CONFIG_SECTION"
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrConfigType       ErrorCode = "CONFIG_TYPE"

	// Runtime command errors
	ErrCommandParse        ErrorCode = "COMMAND_PARSE"
	ErrCommandInvalidParam ErrorCode = "COMMAND_INVALID_PARAM"

	// Move queue errors
	ErrTrapQOrder     ErrorCode = "TRAPQ_ORDER"
	ErrTrapQRetention ErrorCode = "TRAPQ_RETENTION"
	ErrTrapQCapacity  ErrorCode = "TRAPQ_CAPACITY"

	// Step generation errors
	ErrStepGenFatal    ErrorCode = "STEPGEN_FATAL"
	ErrStepGenSequence ErrorCode = "STEPGEN_SEQUENCE"
	ErrStepGenShutdown ErrorCode = "STEPGEN_SHUTDOWN"

	// Signal processing configuration errors
	ErrShaper          ErrorCode = "SHAPER"
	ErrSmoother        ErrorCode = "SMOOTHER"
	ErrPressureAdvance ErrorCode = "PRESSURE_ADVANCE"
)

// HostError is the unified error type for the host system
type HostError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Section is the config section or context
	Section string

	// Option is the config option name (if applicable)
	Option string

	// Err wraps the underlying error
	Err error

	// Context provides additional context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *HostError) Error() string {
	switch {
	case e.Option != "":
		return fmt.Sprintf("[%s:%s] %s", e.Code, e.Option, e.Message)
	case e.Section != "":
		return fmt.Sprintf("[%s:%s] %s", e.Code, e.Section, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *HostError) Unwrap() error {
	return e.Err
}

// SetSection sets the context section
func (e *HostError) SetSection(section string) *HostError {
	e.Section = section
	return e
}

// SetOption sets the config option
func (e *HostError) SetOption(option string) *HostError {
	e.Option = option
	return e
}

// SetContext adds additional context
func (e *HostError) SetContext(key string, value interface{}) *HostError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// New creates a new HostError
func New(code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
	}
}

// Config errors

// ConfigSectionError creates an error for missing config section
func ConfigSectionError(section string) *HostError {
	return New(ErrConfigSection, fmt.Sprintf("section '%s' not found", section)).
		SetSection(section)
}

// ConfigValidationError creates an error for config validation failure
func ConfigValidationError(section, option string, reason string) *HostError {
	return New(ErrConfigValidation, fmt.Sprintf("option '%s' in section '%s': %s", option, section, reason)).
		SetSection(section).
		SetOption(option)
}

// Command errors

// CommandInvalidParameterError creates an error for an invalid runtime command parameter
func CommandInvalidParameterError(command, param, value string, reason string) *HostError {
	return New(ErrCommandInvalidParam, fmt.Sprintf("command '%s': invalid parameter '%s=%s' (%s)", command, param, value, reason))
}

// Signal processing errors

// ShaperError creates an input shaper validation error
func ShaperError(axis string, reason string) *HostError {
	return New(ErrShaper, reason).SetOption("shaper_" + axis)
}

// SmootherError creates a smoother validation error
func SmootherError(reason string) *HostError {
	return New(ErrSmoother, reason)
}

// PressureAdvanceError creates a pressure advance validation error
func PressureAdvanceError(reason string) *HostError {
	return New(ErrPressureAdvance, reason)
}

// Step generation errors

// StepGenFatalError wraps an invariant violation detected while generating steps.
func StepGenFatalError(stepper string, err error) *HostError {
	return Wrap(err, ErrStepGenFatal, fmt.Sprintf("stepper '%s': %v", stepper, err)).
		SetSection(stepper)
}

// FromPanic converts a recovered panic value to a HostError. Errors raised
// with panic keep their identity so errors.As still finds them.
//
//	defer func() {
//		if r := recover(); r != nil {
//			err = errors.FromPanic(r)
//		}
//	}()
func FromPanic(r interface{}) *HostError {
	if r == nil {
		return nil
	}
	switch x := r.(type) {
	case *HostError:
		return x
	case runtime.Error:
		return Wrap(x, ErrStepGenFatal, x.Error())
	case error:
		return Wrap(x, ErrStepGenFatal, x.Error())
	case string:
		return New(ErrStepGenFatal, fmt.Sprintf("panic: %s", x))
	default:
		return New(ErrStepGenFatal, fmt.Sprintf("panic: %v", x))
	}
}

// Is checks if error matches given error code
func Is(err error, code ErrorCode) bool {
	for err != nil {
		if hostErr, ok := err.(*HostError); ok && hostErr.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// IsConfig checks if error is a config error
func IsConfig(err error) bool {
	return Is(err, ErrConfigSection) ||
		Is(err, ErrConfigOption) ||
		Is(err, ErrConfigValidation) ||
		Is(err, ErrConfigType)
}

// IsFatal checks if error is a generation-time invariant violation
func IsFatal(err error) bool {
	return Is(err, ErrStepGenFatal) || Is(err, ErrTrapQRetention)
}
