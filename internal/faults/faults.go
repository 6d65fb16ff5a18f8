// Package faults defines the machine-readable error codes produced by the
// processing pipeline and the classification tables that decide whether a
// failed job goes to HOLD (an operator can fix it) or FAILED (retry by
// policy, or not at all).
package faults

import (
	"errors"
	"fmt"
)

type Code string

const (
	// Operator-recoverable. The job parks in HOLD until approved.
	CodeCRMNoMatch              Code = "E_CRM_NO_MATCH"
	CodeOperatorTriggerRequired Code = "E_OPERATOR_TRIGGER_REQUIRED"

	// Transient. FAILED, but eligible for scheduled retries.
	CodeOptiStartFailed Code = "E_OPTI_START_FAILED"
	CodeOptiExit        Code = "E_OPTI_EXIT"
	CodeOptiBusy        Code = "E_OPTI_BUSY"
	CodeExportTimeout   Code = "E_EXPORT_TIMEOUT"
	CodeExportInvalid   Code = "E_EXPORT_INVALID"
	CodeDeliveryTimeout Code = "E_DELIVERY_TIMEOUT"
	CodeDeliveryFailed  Code = "E_DELIVERY_FAILED"

	// Permanent. A data or deployment defect; retrying changes nothing.
	CodeMissingExecutable       Code = "E_MISSING_EXECUTABLE"
	CodeMissingMacro            Code = "E_MISSING_MACRO"
	CodeTemplateInvalid         Code = "E_TEMPLATE_INVALID"
	CodePayloadInvalid          Code = "E_PAYLOAD_INVALID"
	CodeTrimMissing             Code = "E_TRIM_MISSING"
	CodeEdgeUnmapped            Code = "E_EDGE_UNMAPPED"
	CodeGrainUnknown            Code = "E_GRAIN_UNKNOWN"
	CodeBackingThicknessUnknown Code = "E_BACKING_THICKNESS_UNKNOWN"
	CodePlateSizeMissing        Code = "E_PLATE_SIZE_MISSING"

	// Fallback for errors that carry no code of their own.
	CodeInternal Code = "E_INTERNAL"
)

var holdCodes = map[Code]struct{}{
	CodeCRMNoMatch:              {},
	CodeOperatorTriggerRequired: {},
}

var permanentCodes = map[Code]struct{}{
	CodeMissingExecutable:       {},
	CodeMissingMacro:            {},
	CodeTemplateInvalid:         {},
	CodePayloadInvalid:          {},
	CodeTrimMissing:             {},
	CodeEdgeUnmapped:            {},
	CodeGrainUnknown:            {},
	CodeBackingThicknessUnknown: {},
	CodePlateSizeMissing:        {},
}

// IsHold reports whether a code parks the job for operator approval.
func IsHold(c Code) bool {
	_, ok := holdCodes[c]
	return ok
}

// IsPermanent reports whether a code must refuse retry attempts.
func IsPermanent(c Code) bool {
	_, ok := permanentCodes[c]
	return ok
}

// Error is a pipeline error carrying its classification code.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an underlying error.
func Wrap(code Code, err error) *Error {
	if err == nil {
		return &Error{Code: code}
	}
	return &Error{Code: code, Message: err.Error(), Err: err}
}

// CodeOf extracts the code from err, or CodeInternal if err carries none.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return CodeInternal
}
