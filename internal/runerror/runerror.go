/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package runerror

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrCaptureSyncTriageUnreadable      ErrorCode = "ERR_CAPTURE_SYNC_TRIAGE_UNREADABLE"
	ErrCaptureSyncSuppressionUnreadable ErrorCode = "ERR_CAPTURE_SYNC_SUPPRESSION_UNREADABLE"
	ErrCaptureSyncCRM                   ErrorCode = "ERR_CAPTURE_SYNC_CRM"
	ErrCaptureSyncWindow                ErrorCode = "ERR_CAPTURE_SYNC_WINDOW"
	ErrCaptureSyncLocked                ErrorCode = "ERR_CAPTURE_SYNC_LOCKED"
	ErrOpsCRMRequired                   ErrorCode = "ERR_OPS_CRM_REQUIRED"
	ErrOpsCRMSchema                     ErrorCode = "ERR_OPS_CRM_SCHEMA"
	ErrOpsReportWindow                  ErrorCode = "ERR_OPS_REPORT_WINDOW"
	ErrOpsReportWrite                   ErrorCode = "ERR_OPS_REPORT_WRITE"
	ErrCRMInputMissing                  ErrorCode = "ERR_CRM_INPUT_MISSING"
	ErrCRMMarkMissing                   ErrorCode = "ERR_CRM_MARK_MISSING"
)

// Kind classifies a fatal error by the phase it stopped the run in.
type Kind int

const (
	KindInternal    Kind = iota
	KindInput            // bad flags or unreadable inputs, nothing was written
	KindSchema           // the store is missing or lacks required tables
	KindTransaction      // the write transaction failed and was rolled back
	KindLock             // another run holds the advisory lock
	KindOutput           // a report artifact could not be written
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindSchema:
		return "schema"
	case KindTransaction:
		return "transaction"
	case KindLock:
		return "lock"
	case KindOutput:
		return "output"
	default:
		return "internal"
	}
}

const ExitFatal = 2

// RunError carries the stable token printed for a failed run.
type RunError struct {
	Code    ErrorCode   `json:"code"`
	Kind    Kind        `json:"kind"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	cause   error
}

func (e RunError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s %s", e.Code, e.Message)
}

func (e RunError) Unwrap() error {
	return e.cause
}

func NewRunError(code ErrorCode, kind Kind, message string, cause error) RunError {
	if cause != nil {
		logrus.WithField("code", code).Debug(cause)
	}
	return RunError{
		Code:    code,
		Kind:    kind,
		Message: message,
		Details: causeText(cause),
		cause:   cause,
	}
}

func causeText(err error) interface{} {
	if err == nil {
		return nil
	}
	return errors.Cause(err).Error()
}

// As returns the RunError in err's chain.
func As(err error) (RunError, bool) {
	var runErr RunError
	if errors.As(err, &runErr) {
		return runErr, true
	}
	return RunError{}, false
}

// Code returns the token of err, or "" when err is not a RunError.
func Code(err error) ErrorCode {
	if runErr, ok := As(err); ok {
		return runErr.Code
	}
	return ""
}

// ExitCode maps err to a process exit status: 0 for nil, 2 for classified
// fatal errors and 1 for anything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	runErr, ok := As(err)
	if !ok {
		return 1
	}
	switch runErr.Kind {
	case KindInput, KindSchema, KindTransaction, KindLock, KindOutput:
		return ExitFatal
	default:
		return 1
	}
}
